package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
)

// Resolver derives the effective balance of an account on a date.
// It only reads.
type Resolver struct {
	repo store.Repository
}

func NewResolver(repo store.Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve checks, in order: the latest same-day journal entry, the day's
// opening snapshot, the previous day's closing snapshot. Zero otherwise.
func (r *Resolver) Resolve(ctx context.Context, acc domain.Account, date calendar.Date) (decimal.Decimal, error) {
	return resolve(ctx, r.repo, acc, date)
}

// ResolveTx is Resolve against an open unit.
func (r *Resolver) ResolveTx(ctx context.Context, tx store.Tx, acc domain.Account, date calendar.Date) (decimal.Decimal, error) {
	return resolve(ctx, tx, acc, date)
}

func resolve(ctx context.Context, src store.LedgerReader, acc domain.Account, date calendar.Date) (decimal.Decimal, error) {
	entry, err := src.LatestEntry(ctx, acc, date)
	if err == nil {
		return entry.After, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("latest entry for %s on %s: %w", acc.Key(), date, err)
	}

	opening, err := src.GetOpening(ctx, date)
	if err == nil {
		return opening.Balances.Of(acc), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("opening snapshot %s: %w", date, err)
	}

	closing, err := src.GetClosing(ctx, date.AddDays(-1))
	if err == nil {
		return closing.Balances.Of(acc), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("closing snapshot %s: %w", date.AddDays(-1), err)
	}

	return decimal.Zero, nil
}

type Summary struct {
	Date     calendar.Date   `json:"date"`
	Balances domain.Balances `json:"balances"`
	Total    decimal.Decimal `json:"total"`
}

// Summary resolves cash and every registered bank account and card.
func (r *Resolver) Summary(ctx context.Context, date calendar.Date) (Summary, error) {
	accounts, err := registeredAccounts(ctx, r.repo)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{Date: date, Total: decimal.Zero}
	for _, acc := range accounts {
		balance, err := r.Resolve(ctx, acc, date)
		if err != nil {
			return Summary{}, err
		}
		out.Balances = out.Balances.With(acc, balance)
		out.Total = out.Total.Add(balance)
	}
	return out, nil
}

// registeredAccounts lists cash and every registered bank account and card,
// sorted by Key. Lock-taking callers rely on that order.
func registeredAccounts(ctx context.Context, repo store.Repository) ([]domain.Account, error) {
	banks, err := repo.ListBankAccounts(ctx)
	if err != nil {
		return nil, err
	}
	cards, err := repo.ListCards(ctx)
	if err != nil {
		return nil, err
	}

	accounts := make([]domain.Account, 0, 1+len(banks)+len(cards))
	accounts = append(accounts, domain.Cash())
	for _, b := range banks {
		accounts = append(accounts, domain.Bank(b.ID))
	}
	for _, c := range cards {
		accounts = append(accounts, domain.CardAccount(c.ID))
	}
	slices.SortFunc(accounts, func(a, b domain.Account) int { return strings.Compare(a.Key(), b.Key()) })
	return accounts, nil
}
