package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/ledger"
	"saldo/backend/internal/store"
	"saldo/backend/internal/xid"
)

var (
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid request")
	// ErrOverpayment is returned before any mutation when a payment would
	// push the paid amount past the document total.
	ErrOverpayment    = errors.New("payment exceeds remaining balance")
	ErrDocumentClosed = errors.New("document is cancelled")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	calendar  *calendar.Calendar
	identity  ledger.IdentityResolver
	resolver  *ledger.Resolver
	journal   *ledger.Journal
	mutator   *ledger.Mutator
	scheduler *ledger.Scheduler
	logger    *zap.Logger
}

// New wires the ledger components over repo. identity may be nil, in which
// case callers are identified from their token role alone.
func New(repo store.Repository, cal *calendar.Calendar, identity ledger.IdentityResolver, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cal == nil {
		cal = calendar.New(time.UTC)
	}

	resolver := ledger.NewResolver(repo)
	journal := ledger.NewJournal(repo, 0)
	return &Service{
		repo:      repo,
		calendar:  cal,
		identity:  identity,
		resolver:  resolver,
		journal:   journal,
		mutator:   ledger.NewMutator(repo, resolver, journal, logger.Named("ledger")),
		scheduler: ledger.NewScheduler(repo, logger.Named("rollover")),
		logger:    logger,
	}
}

// Scheduler is shared with the daily trigger so both paths run the same rollover.
func (s *Service) Scheduler() *ledger.Scheduler {
	return s.scheduler
}

func (s *Service) Calendar() *calendar.Calendar {
	return s.calendar
}

func (s *Service) requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

// identityFor resolves the caller for provenance stamping. Calls without an
// actor run as the system.
func (s *Service) identityFor(ctx context.Context) (domain.Identity, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SystemIdentity(), nil
	}
	if s.identity == nil {
		return identityFromActor(actor), nil
	}

	identity, err := s.identity.ResolveIdentity(ctx, actor.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Identity{}, fmt.Errorf("%w: unknown actor %q", ErrForbidden, actor.Username)
		}
		return domain.Identity{}, err
	}
	return identity, nil
}

func identityFromActor(actor domain.Actor) domain.Identity {
	kind := domain.ActorUser
	if actor.Role == domain.RoleAdmin {
		kind = domain.ActorAdmin
	}
	return domain.Identity{ID: actor.Username, DisplayName: actor.Username, Kind: kind}
}

// dateOrToday fills a zero date with today in the business timezone.
func (s *Service) dateOrToday(date calendar.Date) calendar.Date {
	if date.IsZero() {
		return s.calendar.Today()
	}
	return date
}

// bookingDate is dateOrToday for writes. A day that has not started yet has
// no closing behind it, so nothing may be booked on it.
func (s *Service) bookingDate(date calendar.Date) (calendar.Date, error) {
	date = s.dateOrToday(date)
	if date.After(s.calendar.Today()) {
		return calendar.Date{}, fmt.Errorf("%w: date %s is in the future", ErrInvalidRequest, date)
	}
	return date, nil
}

// parseAmount rejects non-positive amounts and anything finer than cents.
func parseAmount(field string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be greater than zero", ErrInvalidRequest, field)
	}
	if !amount.Equal(amount.Round(2)) {
		return decimal.Zero, fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidRequest, field)
	}
	return amount, nil
}

// accountFor resolves and checks an account reference.
func (s *Service) accountFor(ctx context.Context, kind string, id string) (domain.Account, error) {
	acc, err := domain.ParseAccount(kind, id)
	if err != nil {
		return domain.Account{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var ok bool
	switch acc.Kind {
	case domain.AccountCash:
		return acc, nil
	case domain.AccountBank:
		ok, err = s.repo.BankAccountExists(ctx, acc.ID)
	case domain.AccountCard:
		ok, err = s.repo.CardExists(ctx, acc.ID)
	}
	if err != nil {
		return domain.Account{}, err
	}
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, acc)
	}
	return acc, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	// The audit row must land even when the request context is already done.
	if err := s.repo.CreateAuditLog(context.WithoutCancel(ctx), domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.calendar.Now().UTC(),
	}); err != nil {
		s.logger.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	day := s.calendar.Today()
	if strings.TrimSpace(date) != "" {
		parsed, err := calendar.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		day = parsed
	}
	from := time.Date(day.Time().Year(), day.Time().Month(), day.Time().Day(), 0, 0, 0, 0, s.calendar.Location())
	return s.repo.ListAuditLogs(ctx, from.UTC(), from.AddDate(0, 0, 1).UTC(), limit)
}
