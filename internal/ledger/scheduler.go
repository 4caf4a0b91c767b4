package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
)

type PhaseOutcome string

const (
	OutcomeCreated  PhaseOutcome = "created"
	OutcomeSkipped  PhaseOutcome = "skipped"
	OutcomeConflict PhaseOutcome = "conflict"
	OutcomeDegraded PhaseOutcome = "degraded"
	OutcomeFailed   PhaseOutcome = "failed"
)

// RolloverDegradedNote prefixes the notes of an opening seeded with zeros.
const RolloverDegradedNote = "ROLLOVER_DEGRADED"

type RolloverReport struct {
	ReferenceDate  calendar.Date           `json:"reference_date"`
	ClosingDate    calendar.Date           `json:"closing_date"`
	ClosingOutcome PhaseOutcome            `json:"closing_outcome"`
	Closing        *domain.ClosingSnapshot `json:"closing,omitempty"`
	OpeningOutcome PhaseOutcome            `json:"opening_outcome"`
	Opening        *domain.OpeningSnapshot `json:"opening,omitempty"`
	Degraded       bool                    `json:"degraded"`
	Errors         []string                `json:"errors,omitempty"`
}

// Scheduler freezes closings and seeds openings. It never writes journal entries.
type Scheduler struct {
	repo   store.Repository
	logger *zap.Logger
}

func NewScheduler(repo store.Repository, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{repo: repo, logger: logger}
}

// RunDailyRollover freezes the closing of the day before ref and creates the
// opening of ref. Both phases always run; their errors are joined.
func (s *Scheduler) RunDailyRollover(ctx context.Context, ref calendar.Date) (RolloverReport, error) {
	yesterday := ref.AddDays(-1)
	report := RolloverReport{ReferenceDate: ref, ClosingDate: yesterday}
	log := s.logger.With(zap.Stringer("reference_date", ref))

	closing, outcome, errA := s.freezeClosing(ctx, yesterday)
	report.Closing, report.ClosingOutcome = closing, outcome
	rolloverPhaseTotal.WithLabelValues("closing", string(outcome)).Inc()
	if errA != nil {
		errA = fmt.Errorf("freeze closing %s: %w", yesterday, errA)
		report.Errors = append(report.Errors, errA.Error())
		log.Error("rollover closing phase failed", zap.Error(errA))
	}

	opening, outcome, errB := s.materializeOpening(ctx, ref)
	report.Opening, report.OpeningOutcome = opening, outcome
	report.Degraded = outcome == OutcomeDegraded
	rolloverPhaseTotal.WithLabelValues("opening", string(outcome)).Inc()
	if errB != nil {
		errB = fmt.Errorf("materialize opening %s: %w", ref, errB)
		report.Errors = append(report.Errors, errB.Error())
		log.Error("rollover opening phase failed", zap.Error(errB))
	}
	if report.Degraded {
		rolloverDegradedTotal.Inc()
		log.Warn("rollover degraded: opening seeded with zero balances",
			zap.Stringer("missing_closing", yesterday))
	}

	log.Info("rollover finished",
		zap.String("closing_outcome", string(report.ClosingOutcome)),
		zap.String("opening_outcome", string(report.OpeningOutcome)),
	)
	return report, errors.Join(errA, errB)
}

// RecomputeClosing freezes the closing of date unless one exists.
// An existing closing is returned untouched with created=false.
func (s *Scheduler) RecomputeClosing(ctx context.Context, date calendar.Date) (*domain.ClosingSnapshot, bool, error) {
	snap, outcome, err := s.freezeClosing(ctx, date)
	if err != nil {
		return nil, false, err
	}
	return snap, outcome == OutcomeCreated, nil
}

// CreateOpeningSnapshot is the manual entry path for an opening baseline.
func (s *Scheduler) CreateOpeningSnapshot(ctx context.Context, date calendar.Date, balances domain.Balances, notes string, actor domain.Identity) (*domain.OpeningSnapshot, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidMutation)
	}
	for _, acc := range balances.Accounts() {
		if balances.Of(acc).IsNegative() {
			return nil, fmt.Errorf("%w: %s balance must not be negative", ErrInvalidMutation, acc)
		}
	}
	if actor.ID == "" {
		actor = domain.SystemIdentity()
	}

	var created *domain.OpeningSnapshot
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, acc := range balances.Accounts() {
			if err := ensureAccountExists(ctx, tx, acc); err != nil {
				return err
			}
		}
		snap := domain.OpeningSnapshot{
			Date:          date,
			Balances:      balances.Clone(),
			Notes:         notes,
			CreatedBy:     actor.ID,
			CreatedByType: actor.Kind,
		}
		ok, err := tx.InsertOpening(ctx, snap)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: opening for %s", ErrSnapshotAlreadyExists, date)
		}
		created, err = tx.GetOpening(ctx, date)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Backfill runs the rollover for every reference date in [from, to] in order.
func (s *Scheduler) Backfill(ctx context.Context, from calendar.Date, to calendar.Date) ([]RolloverReport, error) {
	days := calendar.Range(from, to)
	reports := make([]RolloverReport, 0, len(days))
	var errs []error
	for _, d := range days {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report, err := s.RunDailyRollover(ctx, d)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

func (s *Scheduler) freezeClosing(ctx context.Context, date calendar.Date) (*domain.ClosingSnapshot, PhaseOutcome, error) {
	var (
		snap    *domain.ClosingSnapshot
		outcome PhaseOutcome
	)
	accounts, err := registeredAccounts(ctx, s.repo)
	if err != nil {
		return nil, OutcomeFailed, err
	}
	err = s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		// Holding every account-day lock drains in-flight mutations of the day
		// and keeps new ones out until the closing is visible to them.
		for _, acc := range accounts {
			if err := tx.LockAccountDay(ctx, acc, date); err != nil {
				return fmt.Errorf("lock %s on %s: %w", acc.Key(), date, err)
			}
		}
		existing, err := tx.GetClosing(ctx, date)
		if err == nil {
			snap, outcome = existing, OutcomeSkipped
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		balances, err := computeClosing(ctx, tx, date)
		if err != nil {
			return err
		}
		system := domain.SystemIdentity()
		created, err := tx.InsertClosing(ctx, domain.ClosingSnapshot{
			Date:          date,
			Balances:      balances,
			Notes:         "frozen by rollover",
			CreatedBy:     system.ID,
			CreatedByType: system.Kind,
		})
		if err != nil {
			return err
		}
		outcome = OutcomeCreated
		if !created {
			outcome = OutcomeConflict
		}
		snap, err = tx.GetClosing(ctx, date)
		return err
	})
	if err != nil {
		return nil, OutcomeFailed, err
	}
	return snap, outcome, nil
}

func (s *Scheduler) materializeOpening(ctx context.Context, date calendar.Date) (*domain.OpeningSnapshot, PhaseOutcome, error) {
	var (
		snap    *domain.OpeningSnapshot
		outcome PhaseOutcome
	)
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.GetOpening(ctx, date)
		if err == nil {
			snap, outcome = existing, OutcomeSkipped
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		prevDate := date.AddDays(-1)
		balances := domain.Balances{Cash: decimal.Zero}
		notes := fmt.Sprintf("carried from closing %s", prevDate)
		degraded := false
		prev, err := tx.GetClosing(ctx, prevDate)
		switch {
		case err == nil:
			balances = prev.Balances.Clone()
		case errors.Is(err, store.ErrNotFound):
			degraded = true
			notes = fmt.Sprintf("%s: no closing snapshot for %s, balances defaulted to zero", RolloverDegradedNote, prevDate)
		default:
			return err
		}

		system := domain.SystemIdentity()
		created, err := tx.InsertOpening(ctx, domain.OpeningSnapshot{
			Date:          date,
			Balances:      balances,
			Notes:         notes,
			CreatedBy:     system.ID,
			CreatedByType: system.Kind,
		})
		if err != nil {
			return err
		}
		switch {
		case !created:
			outcome = OutcomeConflict
		case degraded:
			outcome = OutcomeDegraded
		default:
			outcome = OutcomeCreated
		}
		snap, err = tx.GetOpening(ctx, date)
		return err
	})
	if err != nil {
		return nil, OutcomeFailed, err
	}
	return snap, outcome, nil
}

// computeClosing folds a day: the baseline (the day's opening, else the most
// recent earlier closing, else zero) overridden by each account's last entry.
func computeClosing(ctx context.Context, src store.LedgerReader, date calendar.Date) (domain.Balances, error) {
	balances := domain.Balances{Cash: decimal.Zero}

	opening, err := src.GetOpening(ctx, date)
	switch {
	case err == nil:
		balances = opening.Balances.Clone()
	case errors.Is(err, store.ErrNotFound):
		prev, err := src.LatestClosingBefore(ctx, date)
		switch {
		case err == nil:
			balances = prev.Balances.Clone()
		case !errors.Is(err, store.ErrNotFound):
			return domain.Balances{}, err
		}
	default:
		return domain.Balances{}, err
	}

	latest, err := src.LatestEntriesForDate(ctx, date)
	if err != nil {
		return domain.Balances{}, err
	}
	for _, e := range latest {
		balances = balances.With(e.Account, e.After)
	}
	return balances, nil
}
