package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/ledger"
	"saldo/backend/internal/store"
	"saldo/backend/internal/xid"
)

func (s *Service) CreateSale(ctx context.Context, req domain.DocumentCreateRequest) (domain.Document, error) {
	return s.createDocument(ctx, domain.DocumentSale, req)
}

func (s *Service) CreatePurchase(ctx context.Context, req domain.DocumentCreateRequest) (domain.Document, error) {
	return s.createDocument(ctx, domain.DocumentPurchase, req)
}

func (s *Service) CreateExpense(ctx context.Context, req domain.DocumentCreateRequest) (domain.Document, error) {
	return s.createDocument(ctx, domain.DocumentExpense, req)
}

func (s *Service) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	doc, err := s.repo.GetDocument(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Document{}, err
	}
	return *doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, kind string, limit int) ([]domain.Document, error) {
	k := domain.DocumentKind(strings.ToLower(strings.TrimSpace(kind)))
	if k != "" && !k.Valid() {
		return nil, fmt.Errorf("%w: unknown document kind %q", ErrInvalidRequest, kind)
	}
	return s.repo.ListDocuments(ctx, k, limit)
}

// createDocument stores the document and settles every cash, bank and card
// leg against the ledger in one unit, dated on the document date.
func (s *Service) createDocument(ctx context.Context, kind domain.DocumentKind, req domain.DocumentCreateRequest) (domain.Document, error) {
	identity, err := s.identityFor(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	doc, err := s.buildDocument(ctx, kind, req, identity)
	if err != nil {
		return domain.Document{}, err
	}

	err = s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("create %s: %w", kind, err)
		}
		return s.settle(ctx, tx, doc, doc.SettledPayments(), doc.Date, kind.Direction(), string(kind), identity)
	})
	if err != nil {
		s.compensate(ctx, doc.ID, err)
		settlementsTotal.WithLabelValues(string(kind), "create", outcomeLabel(err)).Inc()
		return domain.Document{}, err
	}

	settlementsTotal.WithLabelValues(string(kind), "create", "ok").Inc()
	s.logAudit(ctx, string(kind)+"_create", "document", doc.ID,
		fmt.Sprintf("total=%s,paid=%s,status=%s", doc.Total.StringFixed(2), doc.Paid.StringFixed(2), doc.Status))
	return doc, nil
}

// AddPayment settles one more leg of an open document, dated today. The
// running remaining balance is checked before the ledger is touched.
func (s *Service) AddPayment(ctx context.Context, id string, input domain.PaymentInput) (domain.Document, error) {
	identity, err := s.identityFor(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	if !input.Type.Settles() {
		return domain.Document{}, fmt.Errorf("%w: payment type must be cash, bank or card", ErrInvalidRequest)
	}
	payment, err := s.buildPayment(ctx, input)
	if err != nil {
		return domain.Document{}, err
	}
	today := s.calendar.Today()

	var updated domain.Document
	var kind domain.DocumentKind
	err = s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetDocumentForUpdate(ctx, strings.TrimSpace(id))
		if err != nil {
			return err
		}
		kind = current.Kind
		if current.Status == domain.DocumentStatusCancelled {
			return fmt.Errorf("%w: %s", ErrDocumentClosed, current.ID)
		}
		if payment.Amount.GreaterThan(current.RemainingBalance) {
			return fmt.Errorf("%w: remaining %s, payment %s", ErrOverpayment,
				current.RemainingBalance.StringFixed(2), payment.Amount.StringFixed(2))
		}

		if err := s.settle(ctx, tx, *current, []domain.Payment{payment}, today, current.Kind.Direction(), string(current.Kind), identity); err != nil {
			return err
		}

		updated = *current
		updated.Payments = append(slices.Clone(current.Payments), payment)
		updated.Paid = current.Paid.Add(payment.Amount)
		updated.RemainingBalance = current.Total.Sub(updated.Paid)
		updated.Status = documentStatus(updated.Total, updated.Paid)
		return tx.UpdateDocument(ctx, updated)
	})
	if err != nil {
		if kind != "" {
			settlementsTotal.WithLabelValues(string(kind), "payment", outcomeLabel(err)).Inc()
		}
		return domain.Document{}, err
	}

	settlementsTotal.WithLabelValues(string(kind), "payment", "ok").Inc()
	s.logAudit(ctx, string(kind)+"_payment", "document", updated.ID,
		fmt.Sprintf("type=%s,amount=%s,remaining=%s", payment.Type, payment.Amount.StringFixed(2), updated.RemainingBalance.StringFixed(2)))
	return updated, nil
}

// CancelDocument reverses every settled leg with a mutation dated today, so
// closings already frozen for earlier days stay untouched.
func (s *Service) CancelDocument(ctx context.Context, id string) (domain.Document, error) {
	identity, err := s.identityFor(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	today := s.calendar.Today()

	var cancelled domain.Document
	err = s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetDocumentForUpdate(ctx, strings.TrimSpace(id))
		if err != nil {
			return err
		}
		if current.Status == domain.DocumentStatusCancelled {
			return fmt.Errorf("%w: %s", ErrDocumentClosed, current.ID)
		}

		refund := current.Kind.Direction().Reverse()
		if err := s.settle(ctx, tx, *current, current.SettledPayments(), today, refund, string(current.Kind)+"_refund", identity); err != nil {
			return err
		}

		at := s.calendar.Now().UTC()
		cancelled = *current
		cancelled.Status = domain.DocumentStatusCancelled
		cancelled.CancelledAt = &at
		return tx.UpdateDocument(ctx, cancelled)
	})
	if err != nil {
		return domain.Document{}, err
	}

	settlementsTotal.WithLabelValues(string(cancelled.Kind), "cancel", "ok").Inc()
	s.logAudit(ctx, string(cancelled.Kind)+"_cancel", "document", cancelled.ID,
		fmt.Sprintf("refunded=%s,refund_date=%s", cancelled.Paid.StringFixed(2), today))
	return cancelled, nil
}

// settle applies one mutation per leg inside tx. Every account-day lock is
// taken up front in key order so two documents touching the same accounts
// cannot wait on each other.
func (s *Service) settle(ctx context.Context, tx store.Tx, doc domain.Document, legs []domain.Payment, date calendar.Date, dir domain.Direction, source string, identity domain.Identity) error {
	if len(legs) == 0 {
		return nil
	}

	accounts := make([]domain.Account, 0, len(legs))
	for _, leg := range legs {
		if leg.Account != nil && !slices.Contains(accounts, *leg.Account) {
			accounts = append(accounts, *leg.Account)
		}
	}
	slices.SortFunc(accounts, func(a, b domain.Account) int { return strings.Compare(a.Key(), b.Key()) })
	for _, acc := range accounts {
		if err := tx.LockAccountDay(ctx, acc, date); err != nil {
			return err
		}
	}

	docID := doc.ID
	for _, leg := range legs {
		if leg.Account == nil {
			return fmt.Errorf("%w: %s payment has no account", ErrInvalidRequest, leg.Type)
		}
		_, err := s.mutator.ApplyTx(ctx, tx, ledger.MutationRequest{
			Account:   *leg.Account,
			Date:      date,
			Amount:    leg.Amount,
			Direction: dir,
			Provenance: domain.Provenance{
				Description: describe(doc, source),
				Source:      source,
				SourceID:    &docID,
				Actor:       identity,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// compensate removes a document row that outlived its failed unit. The
// original error is what the caller sees either way.
func (s *Service) compensate(ctx context.Context, id string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.repo.GetDocument(ctx, id); err != nil {
		return
	}
	if err := s.repo.DeleteDocument(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("compensating delete failed", zap.String("document_id", id), zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	compensationsTotal.Inc()
	s.logger.Warn("document removed after failed settlement", zap.String("document_id", id), zap.NamedError("cause", cause))
}

func (s *Service) buildDocument(ctx context.Context, kind domain.DocumentKind, req domain.DocumentCreateRequest, identity domain.Identity) (domain.Document, error) {
	total, err := parseAmount("total", req.Total)
	if err != nil {
		return domain.Document{}, err
	}
	date, err := s.bookingDate(req.Date)
	if err != nil {
		return domain.Document{}, err
	}

	payments := make([]domain.Payment, 0, len(req.Payments))
	sum := decimal.Zero
	paid := decimal.Zero
	for _, input := range req.Payments {
		payment, err := s.buildPayment(ctx, input)
		if err != nil {
			return domain.Document{}, err
		}
		sum = sum.Add(payment.Amount)
		if payment.Type.Settles() {
			paid = paid.Add(payment.Amount)
		}
		payments = append(payments, payment)
	}
	if sum.GreaterThan(total) {
		return domain.Document{}, fmt.Errorf("%w: payments %s exceed total %s", ErrOverpayment, sum.StringFixed(2), total.StringFixed(2))
	}

	return domain.Document{
		ID:               xid.New(string(kind)),
		Kind:             kind,
		Date:             date,
		Reference:        strings.TrimSpace(req.Reference),
		Counterparty:     strings.TrimSpace(req.Counterparty),
		Description:      strings.TrimSpace(req.Description),
		Total:            total,
		Paid:             paid,
		RemainingBalance: total.Sub(paid),
		Status:           documentStatus(total, paid),
		Payments:         payments,
		CreatedBy:        identity.ID,
		CreatedAt:        s.calendar.Now().UTC(),
	}, nil
}

func (s *Service) buildPayment(ctx context.Context, input domain.PaymentInput) (domain.Payment, error) {
	amount, err := parseAmount("payment amount", input.Amount)
	if err != nil {
		return domain.Payment{}, err
	}
	payment := domain.Payment{Type: input.Type, Amount: amount, At: s.calendar.Now().UTC()}

	switch input.Type {
	case domain.PaymentCredit:
		return payment, nil
	case domain.PaymentCash, domain.PaymentBank, domain.PaymentCard:
		acc, err := s.accountFor(ctx, string(input.Type), input.AccountID)
		if err != nil {
			return domain.Payment{}, err
		}
		payment.Account = &acc
		return payment, nil
	default:
		return domain.Payment{}, fmt.Errorf("%w: unknown payment type %q", ErrInvalidRequest, input.Type)
	}
}

func documentStatus(total decimal.Decimal, paid decimal.Decimal) string {
	switch {
	case paid.GreaterThanOrEqual(total):
		return domain.DocumentStatusPaid
	case paid.IsPositive():
		return domain.DocumentStatusPartial
	default:
		return domain.DocumentStatusPending
	}
}

func describe(doc domain.Document, source string) string {
	label := doc.Reference
	if label == "" {
		label = doc.ID
	}
	if doc.Counterparty != "" {
		return fmt.Sprintf("%s %s (%s)", source, label, doc.Counterparty)
	}
	return fmt.Sprintf("%s %s", source, label)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient"
	case errors.Is(err, ledger.ErrDayClosed):
		return "day_closed"
	case errors.Is(err, store.ErrTransient):
		return "transient"
	default:
		return "failed"
	}
}
