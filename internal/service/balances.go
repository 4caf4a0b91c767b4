package service

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/shopspring/decimal"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/ledger"
)

// maxJournalRange bounds one journal export.
const maxJournalRange = 92

type BalanceView struct {
	Account domain.Account  `json:"account"`
	Date    calendar.Date   `json:"date"`
	Balance decimal.Decimal `json:"balance"`
}

func (s *Service) Balance(ctx context.Context, kind string, id string, date calendar.Date) (BalanceView, error) {
	acc, err := s.accountFor(ctx, kind, id)
	if err != nil {
		return BalanceView{}, err
	}
	date = s.dateOrToday(date)
	balance, err := s.resolver.Resolve(ctx, acc, date)
	if err != nil {
		return BalanceView{}, err
	}
	return BalanceView{Account: acc, Date: date, Balance: balance}, nil
}

func (s *Service) BalanceSummary(ctx context.Context, date calendar.Date) (ledger.Summary, error) {
	return s.resolver.Summary(ctx, s.dateOrToday(date))
}

// AddOpeningBalance records a baseline adjustment as an income entry.
func (s *Service) AddOpeningBalance(ctx context.Context, req domain.OpeningBalanceRequest) (domain.MutationResult, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.MutationResult{}, err
	}
	identity, err := s.identityFor(ctx)
	if err != nil {
		return domain.MutationResult{}, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return domain.MutationResult{}, err
	}
	acc, err := s.accountFor(ctx, req.AccountKind, req.AccountID)
	if err != nil {
		return domain.MutationResult{}, err
	}

	date, err := s.bookingDate(req.Date)
	if err != nil {
		return domain.MutationResult{}, err
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "opening balance " + acc.String()
	}
	result, err := s.mutator.AddToOpeningBaseline(ctx, date, amount, acc, domain.Provenance{
		Description: description,
		Actor:       identity,
	})
	if err != nil {
		return domain.MutationResult{}, err
	}

	s.logAudit(ctx, "opening_balance_add", "account", acc.Key(),
		fmt.Sprintf("date=%s,amount=%s,after=%s", date, amount.StringFixed(2), result.After.StringFixed(2)))
	return result, nil
}

func (s *Service) OpeningSnapshot(ctx context.Context, date calendar.Date) (*domain.OpeningSnapshot, error) {
	return s.repo.GetOpening(ctx, s.dateOrToday(date))
}

func (s *Service) ClosingSnapshot(ctx context.Context, date calendar.Date) (*domain.ClosingSnapshot, error) {
	if date.IsZero() {
		date = s.calendar.Yesterday()
	}
	return s.repo.GetClosing(ctx, date)
}

func (s *Service) CreateOpeningSnapshot(ctx context.Context, req domain.OpeningSnapshotRequest) (*domain.OpeningSnapshot, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	identity, err := s.identityFor(ctx)
	if err != nil {
		return nil, err
	}
	date, err := s.bookingDate(req.Date)
	if err != nil {
		return nil, err
	}

	snap, err := s.scheduler.CreateOpeningSnapshot(ctx, date, req.Balances, strings.TrimSpace(req.Notes), identity)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "opening_snapshot_create", "opening_snapshot", date.String(), "notes="+snap.Notes)
	return snap, nil
}

// RecomputeClosing freezes a missing closing. An existing one is returned as is.
func (s *Service) RecomputeClosing(ctx context.Context, date calendar.Date) (*domain.ClosingSnapshot, bool, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, false, err
	}
	if date.IsZero() {
		return nil, false, fmt.Errorf("%w: date is required", ErrInvalidRequest)
	}
	if !date.Before(s.calendar.Today()) {
		return nil, false, fmt.Errorf("%w: only past days can be closed", ErrInvalidRequest)
	}

	snap, created, err := s.scheduler.RecomputeClosing(ctx, date)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logAudit(ctx, "closing_recompute", "closing_snapshot", date.String(), "created=true")
	}
	return snap, created, nil
}

// RunRollover is the manual trigger. A zero reference date means today.
func (s *Service) RunRollover(ctx context.Context, req domain.RolloverRequest) (ledger.RolloverReport, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return ledger.RolloverReport{}, err
	}
	ref := s.dateOrToday(req.ReferenceDate)
	if ref.After(s.calendar.Today()) {
		return ledger.RolloverReport{}, fmt.Errorf("%w: reference date %s is in the future", ErrInvalidRequest, ref)
	}

	report, err := s.scheduler.RunDailyRollover(ctx, ref)
	s.logAudit(ctx, "rollover_run", "rollover", ref.String(),
		fmt.Sprintf("closing=%s,opening=%s,degraded=%t", report.ClosingOutcome, report.OpeningOutcome, report.Degraded))
	return report, err
}

// Journal streams entries dated within [from, to] in append order.
func (s *Service) Journal(ctx context.Context, from calendar.Date, to calendar.Date) (iter.Seq2[domain.JournalEntry, error], error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	from = s.dateOrToday(from)
	if to.IsZero() {
		to = from
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: to must not be before from", ErrInvalidRequest)
	}
	if to.Time().Sub(from.Time()).Hours()/24 >= maxJournalRange {
		return nil, fmt.Errorf("%w: range is limited to %d days", ErrInvalidRequest, maxJournalRange)
	}
	return s.journal.AllForDateRange(ctx, from, to), nil
}

func (s *Service) DaySummary(ctx context.Context, kind string, id string, date calendar.Date) (ledger.DaySummary, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return ledger.DaySummary{}, err
	}
	acc, err := s.accountFor(ctx, kind, id)
	if err != nil {
		return ledger.DaySummary{}, err
	}
	return s.journal.DaySummary(ctx, acc, s.dateOrToday(date))
}
