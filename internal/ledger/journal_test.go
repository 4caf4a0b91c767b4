package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
	"saldo/backend/internal/store/memory"
)

func TestAllForDateRangePagesInCreationOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Page size is 3 in the harness; seven entries span three pages.
	days := []string{"2024-01-01", "2024-01-01", "2024-01-02", "2024-01-02", "2024-01-02", "2024-01-03", "2024-01-04"}
	for _, d := range days {
		_, err := h.apply(t, domain.Cash(), date(d), 5, domain.DirectionIncome)
		require.NoError(t, err)
	}

	collect := func() []domain.JournalEntry {
		var out []domain.JournalEntry
		for e, err := range h.journal.AllForDateRange(ctx, date("2024-01-01"), date("2024-01-03")) {
			require.NoError(t, err)
			out = append(out, e)
		}
		return out
	}

	first := collect()
	require.Len(t, first, 6)
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		ordered := prev.CreatedAt.Before(cur.CreatedAt) || (prev.CreatedAt.Equal(cur.CreatedAt) && prev.Seq < cur.Seq)
		assert.Truef(t, ordered, "entry %d out of order", i)
	}

	second := collect()
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestAllForDateRangeStopsWhenConsumerBreaks(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		_, err := h.apply(t, domain.Cash(), date("2024-01-01"), 1, domain.DirectionIncome)
		require.NoError(t, err)
	}

	seen := 0
	for _, err := range h.journal.AllForDateRange(context.Background(), date("2024-01-01"), date("2024-01-01")) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestAllForDateRangeSurfacesStoreErrors(t *testing.T) {
	repo := failingListRepo{Store: memory.New()}
	journal := NewJournal(repo, 10)

	var got error
	for _, err := range journal.AllForDateRange(context.Background(), date("2024-01-01"), date("2024-01-02")) {
		got = err
	}
	require.ErrorIs(t, got, store.ErrTransient)
}

func TestLatestForAccountOnDate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	day := date("2024-01-01")

	latest, err := h.journal.LatestForAccountOnDate(ctx, domain.Cash(), day)
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = h.apply(t, domain.Cash(), day, 10, domain.DirectionIncome)
	require.NoError(t, err)
	res, err := h.apply(t, domain.Cash(), day, 4, domain.DirectionExpense)
	require.NoError(t, err)

	latest, err = h.journal.LatestForAccountOnDate(ctx, domain.Cash(), day)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, res.EntryID, latest.ID)
	requireAmount(t, 6, latest.After)
	assert.Equal(t, domain.DirectionExpense, latest.Direction)
}

func TestDaySummaryWithoutEntries(t *testing.T) {
	h := newHarness(t)
	day := date("2024-01-02")
	h.seedClosing(t, day.AddDays(-1), domain.Balances{Cash: amt(80)})

	summary, err := h.journal.DaySummary(context.Background(), domain.Cash(), day)
	require.NoError(t, err)
	requireAmount(t, 80, summary.Baseline)
	requireAmount(t, 80, summary.Final)
	assert.Zero(t, summary.Entries)
	assert.True(t, summary.Balanced)
}

type failingListRepo struct {
	*memory.Store
}

func (failingListRepo) ListEntries(context.Context, calendar.Date, calendar.Date, *store.EntryCursor, int) ([]domain.JournalEntry, error) {
	return nil, errors.Join(store.ErrTransient, errors.New("connection reset"))
}
