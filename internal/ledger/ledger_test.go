package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
	"saldo/backend/internal/store/memory"
)

type harness struct {
	repo      *memory.Store
	resolver  *Resolver
	journal   *Journal
	mutator   *Mutator
	scheduler *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, memory.NewSeeded(zap.NewNop()))
}

func newHarnessWith(t *testing.T, repo *memory.Store) *harness {
	t.Helper()
	resolver := NewResolver(repo)
	journal := NewJournal(repo, 3)
	return &harness{
		repo:      repo,
		resolver:  resolver,
		journal:   journal,
		mutator:   NewMutator(repo, resolver, journal, zap.NewNop()),
		scheduler: NewScheduler(repo, zap.NewNop()),
	}
}

func date(raw string) calendar.Date { return calendar.MustParseDate(raw) }

func amt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func testProvenance(source string) domain.Provenance {
	return domain.Provenance{
		Description: "test " + source,
		Source:      source,
		Actor:       domain.Identity{ID: "admin", DisplayName: "Administrator", Kind: domain.ActorAdmin},
	}
}

func (h *harness) apply(t *testing.T, acc domain.Account, d calendar.Date, amount int64, dir domain.Direction) (domain.MutationResult, error) {
	t.Helper()
	return h.mutator.Apply(context.Background(), MutationRequest{
		Account:    acc,
		Date:       d,
		Amount:     amt(amount),
		Direction:  dir,
		Provenance: testProvenance("test"),
	})
}

func (h *harness) seedOpening(t *testing.T, d calendar.Date, balances domain.Balances) {
	t.Helper()
	err := h.repo.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		created, err := tx.InsertOpening(ctx, domain.OpeningSnapshot{Date: d, Balances: balances, CreatedBy: "test", CreatedByType: domain.ActorAdmin})
		require.True(t, created)
		return err
	})
	require.NoError(t, err)
}

func (h *harness) seedClosing(t *testing.T, d calendar.Date, balances domain.Balances) {
	t.Helper()
	err := h.repo.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		created, err := tx.InsertClosing(ctx, domain.ClosingSnapshot{Date: d, Balances: balances, CreatedBy: "test", CreatedByType: domain.ActorAdmin})
		require.True(t, created)
		return err
	})
	require.NoError(t, err)
}

func (h *harness) resolve(t *testing.T, acc domain.Account, d calendar.Date) decimal.Decimal {
	t.Helper()
	balance, err := h.resolver.Resolve(context.Background(), acc, d)
	require.NoError(t, err)
	return balance
}

func requireAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, amt(want).Equal(got), "expected %d, got %s", want, got)
}
