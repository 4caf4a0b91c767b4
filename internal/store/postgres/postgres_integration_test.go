package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/ledger"
	"saldo/backend/internal/store"
)

func newIntegrationStore(t *testing.T) (*Store, calendar.Date) {
	t.Helper()
	databaseURL := os.Getenv("SALDO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SALDO_TEST_DATABASE_URL to run postgres integration test")
	}
	if _, err := Migrate(databaseURL); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	// Each run works on its own far-future day so parallel runs do not collide.
	day := calendar.NewDate(2200, time.January, 1).AddDays(int(time.Now().UnixNano() % 200000))
	t.Cleanup(func() {
		for _, d := range []calendar.Date{day.AddDays(-1), day, day.AddDays(1)} {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM journal_entries WHERE entry_date = $1`, d)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM opening_snapshots WHERE snapshot_date = $1`, d)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM closing_snapshots WHERE snapshot_date = $1`, d)
		}
		_ = s.Close()
	})
	return s, day
}

func TestAppendEntryRequiresAdvisoryLock(t *testing.T) {
	s, day := newIntegrationStore(t)

	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.AppendEntry(ctx, domain.JournalEntry{
			Date:      day,
			Account:   domain.Cash(),
			Direction: domain.DirectionIncome,
			Amount:    decimal.NewFromInt(1),
			Before:    decimal.Zero,
			After:     decimal.NewFromInt(1),
			Change:    decimal.NewFromInt(1),
			Source:    "test",
			ActorID:   "system",
			ActorKind: domain.ActorSystem,
		})
		return err
	})
	if !errors.Is(err, store.ErrLockNotHeld) {
		t.Fatalf("expected ErrLockNotHeld, got %v", err)
	}
}

func TestSnapshotInsertIsIdempotent(t *testing.T) {
	s, day := newIntegrationStore(t)
	ctx := context.Background()
	balances := domain.Balances{Cash: decimal.NewFromInt(600)}

	for i, wantCreated := range []bool{true, false} {
		err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
			created, err := tx.InsertClosing(ctx, domain.ClosingSnapshot{Date: day, Balances: balances, CreatedBy: "system", CreatedByType: domain.ActorSystem})
			if err != nil {
				return err
			}
			if created != wantCreated {
				t.Fatalf("attempt %d: expected created=%v", i, wantCreated)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("insert closing: %v", err)
		}
	}

	got, err := s.GetClosing(ctx, day)
	if err != nil {
		t.Fatalf("get closing: %v", err)
	}
	if !got.Balances.Cash.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("expected cash 600, got %s", got.Balances.Cash)
	}
}

func TestConcurrentMutationsSerializeOnAccountDay(t *testing.T) {
	s, day := newIntegrationStore(t)
	ctx := context.Background()
	resolver := ledger.NewResolver(s)
	journal := ledger.NewJournal(s, 0)
	mutator := ledger.NewMutator(s, resolver, journal, zap.NewNop())

	const n = 20
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := mutator.Apply(ctx, ledger.MutationRequest{
				Account:   domain.Cash(),
				Date:      day,
				Amount:    decimal.NewFromInt(10),
				Direction: domain.DirectionIncome,
				Provenance: domain.Provenance{
					Source: "integration",
					Actor:  domain.SystemIdentity(),
				},
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	balance, err := resolver.Resolve(ctx, domain.Cash(), day)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(10*n)), "got %s", balance)

	count := 0
	for _, err := range journal.AllForDateRange(ctx, day, day) {
		require.NoError(t, err)
		count++
	}
	require.Equal(t, n, count)

	sched := ledger.NewScheduler(s, zap.NewNop())
	report, err := sched.RunDailyRollover(ctx, day.AddDays(1))
	require.NoError(t, err)
	require.True(t, report.Closing.Balances.Cash.Equal(decimal.NewFromInt(10*n)))
	require.True(t, report.Opening.Balances.Cash.Equal(decimal.NewFromInt(10*n)))

	_, err = mutator.Apply(ctx, ledger.MutationRequest{
		Account:    domain.Cash(),
		Date:       day,
		Amount:     decimal.NewFromInt(5),
		Direction:  domain.DirectionIncome,
		Provenance: domain.Provenance{Source: "integration", Actor: domain.SystemIdentity()},
	})
	require.ErrorIs(t, err, ledger.ErrDayClosed)
}
