package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
)

const SourceOpeningBalance = "opening_balance"

type MutationRequest struct {
	Account    domain.Account
	Date       calendar.Date
	Amount     decimal.Decimal
	Direction  domain.Direction
	Provenance domain.Provenance
}

// Mutator is the only path that changes a balance.
type Mutator struct {
	repo     store.Repository
	resolver *Resolver
	journal  *Journal
	logger   *zap.Logger
}

func NewMutator(repo store.Repository, resolver *Resolver, journal *Journal, logger *zap.Logger) *Mutator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mutator{repo: repo, resolver: resolver, journal: journal, logger: logger}
}

// Apply runs one mutation as its own unit.
func (m *Mutator) Apply(ctx context.Context, req MutationRequest) (domain.MutationResult, error) {
	var result domain.MutationResult
	err := m.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		result, err = m.ApplyTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return domain.MutationResult{}, err
	}
	return result, nil
}

// ApplyTx runs the mutation inside a unit owned by the caller. The
// (account, date) lock stays held until that unit ends.
func (m *Mutator) ApplyTx(ctx context.Context, tx store.Tx, req MutationRequest) (domain.MutationResult, error) {
	if err := validateRequest(req); err != nil {
		return domain.MutationResult{}, err
	}
	if err := ensureAccountExists(ctx, tx, req.Account); err != nil {
		return domain.MutationResult{}, err
	}

	startedAt := time.Now()
	defer func() {
		mutationDuration.WithLabelValues(string(req.Account.Kind)).Observe(time.Since(startedAt).Seconds())
	}()

	if err := tx.LockAccountDay(ctx, req.Account, req.Date); err != nil {
		return domain.MutationResult{}, fmt.Errorf("lock %s on %s: %w", req.Account.Key(), req.Date, err)
	}
	if err := ensureDayOpen(ctx, tx, req.Date); err != nil {
		mutationsTotal.WithLabelValues(string(req.Account.Kind), string(req.Direction), "day_closed").Inc()
		return domain.MutationResult{}, err
	}

	before, err := m.resolver.ResolveTx(ctx, tx, req.Account, req.Date)
	if err != nil {
		return domain.MutationResult{}, err
	}

	change := req.Amount
	if req.Direction == domain.DirectionExpense {
		change = req.Amount.Neg()
	}
	after := before.Add(change)
	if after.IsNegative() {
		mutationsTotal.WithLabelValues(string(req.Account.Kind), string(req.Direction), "insufficient").Inc()
		return domain.MutationResult{}, &InsufficientBalanceError{
			Account:   req.Account,
			Available: before,
			Requested: req.Amount,
		}
	}

	if err := m.ensureOpening(ctx, tx, req, before); err != nil {
		return domain.MutationResult{}, err
	}

	prov := req.Provenance
	if prov.Actor.ID == "" {
		prov.Actor = domain.SystemIdentity()
	}
	entry, err := m.journal.Append(ctx, tx, domain.JournalEntry{
		Date:        req.Date,
		Account:     req.Account,
		Direction:   req.Direction,
		Amount:      req.Amount,
		Before:      before,
		After:       after,
		Change:      change,
		Description: prov.Description,
		Source:      prov.Source,
		SourceID:    prov.SourceID,
		ActorID:     prov.Actor.ID,
		ActorName:   prov.Actor.DisplayName,
		ActorKind:   prov.Actor.Kind,
	})
	if err != nil {
		return domain.MutationResult{}, fmt.Errorf("append journal entry: %w", err)
	}

	mutationsTotal.WithLabelValues(string(req.Account.Kind), string(req.Direction), "applied").Inc()
	m.logger.Debug("balance mutated",
		zap.String("account", req.Account.Key()),
		zap.Stringer("date", req.Date),
		zap.String("direction", string(req.Direction)),
		zap.String("before", before.String()),
		zap.String("after", after.String()),
		zap.String("source", prov.Source),
	)

	return domain.MutationResult{
		EntryID: entry.ID,
		Before:  before,
		After:   after,
		Change:  change,
	}, nil
}

// AddToOpeningBaseline records a manual opening balance correction as income.
func (m *Mutator) AddToOpeningBaseline(ctx context.Context, date calendar.Date, amount decimal.Decimal, acc domain.Account, prov domain.Provenance) (domain.MutationResult, error) {
	prov.Source = SourceOpeningBalance
	if prov.Description == "" {
		prov.Description = "opening balance adjustment"
	}
	return m.Apply(ctx, MutationRequest{
		Account:    acc,
		Date:       date,
		Amount:     amount,
		Direction:  domain.DirectionIncome,
		Provenance: prov,
	})
}

// ensureOpening materializes the day's opening snapshot on the first
// mutation of the day. The mutated account is seeded with its pre-mutation
// balance; every other account keeps what the resolver would return for it.
func (m *Mutator) ensureOpening(ctx context.Context, tx store.Tx, req MutationRequest, before decimal.Decimal) error {
	_, err := tx.GetOpening(ctx, req.Date)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("opening snapshot %s: %w", req.Date, err)
	}

	baseline := domain.Balances{Cash: decimal.Zero}
	prev, err := tx.GetClosing(ctx, req.Date.AddDays(-1))
	switch {
	case err == nil:
		baseline = prev.Balances.Clone()
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("closing snapshot %s: %w", req.Date.AddDays(-1), err)
	}
	baseline = baseline.With(req.Account, before)

	actor := req.Provenance.Actor
	if actor.ID == "" {
		actor = domain.SystemIdentity()
	}
	created, err := tx.InsertOpening(ctx, domain.OpeningSnapshot{
		Date:          req.Date,
		Balances:      baseline,
		Notes:         "created by first mutation of the day",
		CreatedBy:     actor.ID,
		CreatedByType: actor.Kind,
	})
	if err != nil {
		return fmt.Errorf("insert opening snapshot %s: %w", req.Date, err)
	}
	if created {
		lazyOpeningsTotal.Inc()
		m.logger.Info("opening snapshot created lazily", zap.Stringer("date", req.Date), zap.String("account", req.Account.Key()))
	}
	return nil
}

// ensureDayOpen must run under the account-day lock: the rollover takes the
// same locks before freezing a closing, so the check cannot go stale.
func ensureDayOpen(ctx context.Context, tx store.Tx, date calendar.Date) error {
	_, err := tx.GetClosing(ctx, date)
	switch {
	case err == nil:
		return fmt.Errorf("%w: closing for %s is frozen, book corrections on today", ErrDayClosed, date)
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("closing snapshot %s: %w", date, err)
	}
}

func validateRequest(req MutationRequest) error {
	if err := req.Account.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMutation, err)
	}
	if req.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidMutation)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidMutation)
	}
	if !req.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidMutation, req.Direction)
	}
	return nil
}

func ensureAccountExists(ctx context.Context, src store.LedgerReader, acc domain.Account) error {
	var (
		ok  bool
		err error
	)
	switch acc.Kind {
	case domain.AccountCash:
		return nil
	case domain.AccountBank:
		ok, err = src.BankAccountExists(ctx, acc.ID)
	case domain.AccountCard:
		ok, err = src.CardExists(ctx, acc.ID)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, acc)
	}
	return nil
}
