package ledger

import (
	"context"
	"errors"
	"iter"

	"github.com/shopspring/decimal"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
)

const defaultPageSize = 500

// Journal is the append-only log of balance changes. There is no update or
// delete path; corrections are new entries.
type Journal struct {
	repo     store.Repository
	pageSize int
}

func NewJournal(repo store.Repository, pageSize int) *Journal {
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return &Journal{repo: repo, pageSize: pageSize}
}

// Append writes entry inside tx and returns its id.
func (j *Journal) Append(ctx context.Context, tx store.Tx, entry domain.JournalEntry) (domain.JournalEntry, error) {
	return tx.AppendEntry(ctx, entry)
}

// LatestForAccountOnDate returns nil when the account has no entry that day.
func (j *Journal) LatestForAccountOnDate(ctx context.Context, acc domain.Account, date calendar.Date) (*domain.JournalEntry, error) {
	entry, err := j.repo.LatestEntry(ctx, acc, date)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return entry, err
}

// AllForDateRange yields entries dated within [from, to] by created_at
// ascending. Each range over the sequence starts again from the first page.
func (j *Journal) AllForDateRange(ctx context.Context, from calendar.Date, to calendar.Date) iter.Seq2[domain.JournalEntry, error] {
	return func(yield func(domain.JournalEntry, error) bool) {
		var cursor *store.EntryCursor
		for {
			page, err := j.repo.ListEntries(ctx, from, to, cursor, j.pageSize)
			if err != nil {
				yield(domain.JournalEntry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < j.pageSize {
				return
			}
			last := page[len(page)-1]
			cursor = &store.EntryCursor{CreatedAt: last.CreatedAt, Seq: last.Seq}
		}
	}
}

// DaySummary folds one account's day for reconciliation.
type DaySummary struct {
	Account  domain.Account  `json:"account"`
	Date     calendar.Date   `json:"date"`
	Baseline decimal.Decimal `json:"baseline"`
	Net      decimal.Decimal `json:"net_change"`
	Final    decimal.Decimal `json:"final_balance"`
	Entries  int             `json:"entries"`
	// Balanced is false when baseline + net differs from the last entry's after.
	Balanced bool `json:"balanced"`
}

func (j *Journal) DaySummary(ctx context.Context, acc domain.Account, date calendar.Date) (DaySummary, error) {
	baseline, err := baselineFor(ctx, j.repo, acc, date)
	if err != nil {
		return DaySummary{}, err
	}

	out := DaySummary{Account: acc, Date: date, Baseline: baseline, Net: decimal.Zero, Final: baseline}
	for e, err := range j.AllForDateRange(ctx, date, date) {
		if err != nil {
			return DaySummary{}, err
		}
		if e.Account != acc {
			continue
		}
		out.Net = out.Net.Add(e.Change)
		out.Final = e.After
		out.Entries++
	}
	out.Balanced = baseline.Add(out.Net).Equal(out.Final)
	return out, nil
}

// baselineFor is the day's opening value for acc, falling back to the
// previous closing and then zero.
func baselineFor(ctx context.Context, src store.LedgerReader, acc domain.Account, date calendar.Date) (decimal.Decimal, error) {
	opening, err := src.GetOpening(ctx, date)
	if err == nil {
		return opening.Balances.Of(acc), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, err
	}
	closing, err := src.GetClosing(ctx, date.AddDays(-1))
	if err == nil {
		return closing.Balances.Of(acc), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, err
	}
	return decimal.Zero, nil
}
