package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/service"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token valid for the current hour bucket.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func parseDateParam(raw string) (calendar.Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return calendar.Date{}, nil
	}
	d, err := calendar.ParseDate(raw)
	if err != nil {
		return calendar.Date{}, fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	return d, nil
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := parseDateParam(q.Get("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	kind := q.Get("kind")
	if strings.TrimSpace(kind) == "" {
		kind = string(domain.AccountCash)
	}

	view, err := a.service.Balance(r.Context(), kind, q.Get("id"), date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleBalanceSummary(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(r.URL.Query().Get("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	summary, err := a.service.BalanceSummary(r.Context(), date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleAddOpeningBalance(w http.ResponseWriter, r *http.Request) {
	var req domain.OpeningBalanceRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	result, err := withRetry(r.Context(), a.retry, "opening_balance", func(ctx context.Context) (domain.MutationResult, error) {
		return a.service.AddOpeningBalance(ctx, req)
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleOpeningSnapshot(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(chi.URLParam(r, "date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	snap, err := a.service.OpeningSnapshot(r.Context(), date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap})
}

func (a *API) handleClosingSnapshot(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(chi.URLParam(r, "date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	snap, err := a.service.ClosingSnapshot(r.Context(), date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap})
}

func (a *API) handleCreateOpeningSnapshot(w http.ResponseWriter, r *http.Request) {
	var req domain.OpeningSnapshotRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	snap, err := withRetry(r.Context(), a.retry, "opening_snapshot", func(ctx context.Context) (*domain.OpeningSnapshot, error) {
		return a.service.CreateOpeningSnapshot(ctx, req)
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"snapshot": snap})
}

func (a *API) handleRecomputeClosing(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(chi.URLParam(r, "date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	type recomputed struct {
		snap    *domain.ClosingSnapshot
		created bool
	}
	out, err := withRetry(r.Context(), a.retry, "closing_recompute", func(ctx context.Context) (recomputed, error) {
		snap, created, err := a.service.RecomputeClosing(ctx, date)
		return recomputed{snap: snap, created: created}, err
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if out.created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"snapshot": out.snap, "created": out.created})
}

func (a *API) handleRollover(w http.ResponseWriter, r *http.Request) {
	var req domain.RolloverRequest
	if r.ContentLength != 0 {
		if err := a.decode(r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
	}

	report, err := a.service.RunRollover(r.Context(), req)
	if err != nil {
		// A failed phase still reports what the other phase did.
		if errors.Is(err, service.ErrForbidden) || errors.Is(err, service.ErrInvalidRequest) {
			a.fail(w, r, err)
			return
		}
		a.logger.Warn("manual rollover finished with errors", zap.Stringer("reference_date", report.ReferenceDate), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"report": report, "error": "rollover incomplete"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

// handleJournal streams entries as newline-delimited JSON in append order.
func (a *API) handleJournal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDateParam(q.Get("from"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	to, err := parseDateParam(q.Get("to"))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	entries, err := a.service.Journal(r.Context(), from, to)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var (
		enc     *json.Encoder
		flusher http.Flusher
	)
	for entry, err := range entries {
		if err != nil {
			if enc == nil {
				a.fail(w, r, err)
				return
			}
			a.logger.Error("journal stream aborted", zap.String("request_id", requestIDFrom(r.Context())), zap.Error(err))
			return
		}
		if enc == nil {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			enc = json.NewEncoder(w)
			flusher, _ = w.(http.Flusher)
		}
		if err := enc.Encode(entry); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if enc == nil {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}

func (a *API) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := parseDateParam(q.Get("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	kind := q.Get("kind")
	if strings.TrimSpace(kind) == "" {
		kind = string(domain.AccountCash)
	}

	summary, err := a.service.DaySummary(r.Context(), kind, q.Get("id"), date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleListBankAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.service.ListBankAccounts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bank_accounts": accounts})
}

func (a *API) handleCreateBankAccount(w http.ResponseWriter, r *http.Request) {
	var req domain.BankAccountCreateRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	account, err := a.service.CreateBankAccount(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bank_account": account})
}

func (a *API) handleListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := a.service.ListCards(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": cards})
}

func (a *API) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var req domain.CardCreateRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	card, err := a.service.CreateCard(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"card": card})
}

func (a *API) handleCreateDocument(kind domain.DocumentKind) http.HandlerFunc {
	create := map[domain.DocumentKind]func(context.Context, domain.DocumentCreateRequest) (domain.Document, error){
		domain.DocumentSale:     a.service.CreateSale,
		domain.DocumentPurchase: a.service.CreatePurchase,
		domain.DocumentExpense:  a.service.CreateExpense,
	}[kind]

	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.DocumentCreateRequest
		if err := a.decode(r, &req); err != nil {
			a.fail(w, r, err)
			return
		}

		doc, err := withRetry(r.Context(), a.retry, string(kind), func(ctx context.Context) (domain.Document, error) {
			return create(ctx, req)
		})
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"document": doc})
	}
}

func (a *API) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docs, err := a.service.ListDocuments(r.Context(), q.Get("kind"), parsePositiveLimit(q.Get("limit"), 50, 200))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (a *API) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := a.service.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc})
}

func (a *API) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentInput
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	doc, err := withRetry(r.Context(), a.retry, "payment", func(ctx context.Context) (domain.Document, error) {
		return a.service.AddPayment(ctx, id, req)
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc})
}

func (a *API) handleCancelDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := withRetry(r.Context(), a.retry, "cancel", func(ctx context.Context) (domain.Document, error) {
		return a.service.CancelDocument(ctx, id)
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), q.Get("date"), parsePositiveLimit(q.Get("limit"), 100, 500))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}
