package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
)

var day = calendar.MustParseDate("2024-01-01")

func fixedClock() func() time.Time {
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func entry(before, change int64) domain.JournalEntry {
	dir := domain.DirectionIncome
	amount := change
	if change < 0 {
		dir = domain.DirectionExpense
		amount = -change
	}
	return domain.JournalEntry{
		Date:      day,
		Account:   domain.Cash(),
		Direction: dir,
		Amount:    decimal.NewFromInt(amount),
		Before:    decimal.NewFromInt(before),
		Change:    decimal.NewFromInt(change),
		After:     decimal.NewFromInt(before + change),
		Source:    "test",
	}
}

func TestAppendEntryRequiresAccountDayLock(t *testing.T) {
	s := New()
	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.AppendEntry(ctx, entry(0, 10))
		return err
	})
	require.ErrorIs(t, err, store.ErrLockNotHeld)

	_, err = s.LatestEntry(context.Background(), domain.Cash(), day)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAtomicUndoesEveryWriteOnError(t *testing.T) {
	s := New()
	boom := errors.New("boom")

	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.LockAccountDay(ctx, domain.Cash(), day))
		_, err := tx.AppendEntry(ctx, entry(0, 10))
		require.NoError(t, err)
		created, err := tx.InsertOpening(ctx, domain.OpeningSnapshot{Date: day})
		require.NoError(t, err)
		require.True(t, created)
		require.NoError(t, tx.CreateDocument(ctx, domain.Document{ID: "doc-1", Kind: domain.DocumentSale}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	ctx := context.Background()
	_, err = s.LatestEntry(ctx, domain.Cash(), day)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetOpening(ctx, day)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLatestEntryBreaksCreatedAtTiesBySeq(t *testing.T) {
	s := New(WithClock(fixedClock()))
	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.LockAccountDay(ctx, domain.Cash(), day))
		if _, err := tx.AppendEntry(ctx, entry(0, 10)); err != nil {
			return err
		}
		_, err := tx.AppendEntry(ctx, entry(10, 5))
		return err
	})
	require.NoError(t, err)

	latest, err := s.LatestEntry(context.Background(), domain.Cash(), day)
	require.NoError(t, err)
	assert.Equal(t, "15", latest.After.String())
	assert.Equal(t, int64(2), latest.Seq)
}

func TestInsertSnapshotIsInsertIfAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := domain.OpeningSnapshot{Date: day, Balances: domain.Balances{Cash: decimal.NewFromInt(100)}}
	second := domain.OpeningSnapshot{Date: day, Balances: domain.Balances{Cash: decimal.NewFromInt(999)}}

	for i, snap := range []domain.OpeningSnapshot{first, second} {
		err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
			created, err := tx.InsertOpening(ctx, snap)
			assert.Equal(t, i == 0, created)
			return err
		})
		require.NoError(t, err)
	}

	got, err := s.GetOpening(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, "100", got.Balances.Cash.String())
}

func TestListEntriesPagesByCursor(t *testing.T) {
	s := New(WithClock(fixedClock()))
	ctx := context.Background()
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.LockAccountDay(ctx, domain.Cash(), day))
		balance := int64(0)
		for i := 0; i < 5; i++ {
			if _, err := tx.AppendEntry(ctx, entry(balance, 1)); err != nil {
				return err
			}
			balance++
		}
		return nil
	}))

	page, err := s.ListEntries(ctx, day, day, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)

	last := page[len(page)-1]
	rest, err := s.ListEntries(ctx, day, day, &store.EntryCursor{CreatedAt: last.CreatedAt, Seq: last.Seq}, 10)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, int64(3), rest[0].Seq)
}

func TestLockAccountDayHonoursContext(t *testing.T) {
	s := New()
	held := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
			require.NoError(t, tx.LockAccountDay(ctx, domain.Cash(), day))
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.LockAccountDay(ctx, domain.Cash(), day)
	})
	close(done)
	assert.ErrorIs(t, err, store.ErrTransient)
}

func TestLockSlotsAreDroppedWhenUnitsEnd(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		d := day.AddDays(i)
		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.LockAccountDay(ctx, domain.Cash(), d); err != nil {
				return err
			}
			return tx.LockAccountDay(ctx, domain.Bank("bca-main"), d)
		}))
	}
	assert.Equal(t, 0, s.locks.size())

	held := make(chan struct{})
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
			require.NoError(t, tx.LockAccountDay(ctx, domain.Cash(), day))
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := s.Atomic(waitCtx, func(ctx context.Context, tx store.Tx) error {
		return tx.LockAccountDay(ctx, domain.Cash(), day)
	})
	require.ErrorIs(t, err, store.ErrTransient)
	assert.Equal(t, 1, s.locks.size())

	close(done)
	<-finished
	assert.Equal(t, 0, s.locks.size())
}

func TestRollbackKeepsCreatedAtWatermarkOfOtherDays(t *testing.T) {
	at := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return at }))
	ctx := context.Background()
	nextDay := day.AddDays(1)
	onDay := func(e domain.JournalEntry, d calendar.Date) domain.JournalEntry {
		e.Date = d
		return e
	}

	var committed domain.JournalEntry
	boom := errors.New("boom")
	err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.LockAccountDay(ctx, domain.Cash(), day))
		_, err := tx.AppendEntry(ctx, entry(0, 10))
		require.NoError(t, err)

		at = at.Add(time.Minute)
		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, other store.Tx) error {
			require.NoError(t, other.LockAccountDay(ctx, domain.Cash(), nextDay))
			committed, err = other.AppendEntry(ctx, onDay(entry(0, 50), nextDay))
			return err
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	at = at.Add(-time.Hour)
	var later domain.JournalEntry
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.LockAccountDay(ctx, domain.Cash(), nextDay))
		later, err = tx.AppendEntry(ctx, onDay(entry(50, 5), nextDay))
		return err
	}))

	assert.False(t, later.CreatedAt.Before(committed.CreatedAt))
	latest, err := s.LatestEntry(ctx, domain.Cash(), nextDay)
	require.NoError(t, err)
	assert.Equal(t, later.ID, latest.ID)
}
