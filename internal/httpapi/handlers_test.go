package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/ledger"
	"saldo/backend/internal/service"
	"saldo/backend/internal/store"
	"saldo/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	repo := memory.NewSeeded(zap.NewNop())
	auth := NewAuthManager("test-secret-key-that-is-long-enough", time.Hour, repo)
	svc := service.New(repo, calendar.New(loc), auth, zap.NewNop())

	return New(svc, auth, Options{AllowedOrigin: "*", RetryMaxAttempts: 3, RetryBaseDelay: time.Millisecond}, zap.NewNop())
}

type client struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func newClient(t *testing.T, api *API, username string, password string) *client {
	t.Helper()
	c := &client{t: t, handler: api.Handler()}
	c.token = login(t, api, username, password)
	c.csrf = fetchCSRFToken(t, api)
	return c
}

func (c *client) do(method string, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestBalancesRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/balances", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSaleMovesCashBalance(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	rec := cashier.do(http.MethodPost, "/api/v1/sales", map[string]any{
		"reference": "POS-1",
		"total":     "125.50",
		"payments": []map[string]any{
			{"type": "cash", "amount": "100"},
			{"type": "bank", "amount": "25.50", "account_id": "bca-main"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Document domain.Document `json:"document"`
	}
	decodeBody(t, rec, &created)
	if created.Document.Status != domain.DocumentStatusPaid {
		t.Fatalf("expected paid status, got %s", created.Document.Status)
	}

	rec = cashier.do(http.MethodGet, "/api/v1/balances?kind=cash", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var view service.BalanceView
	decodeBody(t, rec, &view)
	if view.Balance.StringFixed(2) != "100.00" {
		t.Fatalf("expected cash 100.00, got %s", view.Balance.StringFixed(2))
	}

	rec = cashier.do(http.MethodGet, "/api/v1/documents/"+created.Document.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for document lookup, got %d", rec.Code)
	}
}

func TestInsufficientBalanceReturns422WithAmounts(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	rec := cashier.do(http.MethodPost, "/api/v1/expenses", map[string]any{
		"total":    "800",
		"payments": []map[string]any{{"type": "cash", "amount": "800"}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["available"] != "0.00" || body["requested"] != "800.00" {
		t.Fatalf("expected available/requested in body, got %v", body)
	}
	if body["error"] != "insufficient cash balance: available 0.00, requested 800.00" {
		t.Fatalf("unexpected message %v", body["error"])
	}
}

func TestCashierCannotCancelOrRollover(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	if rec := cashier.do(http.MethodDelete, "/api/v1/documents/sale_x", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cancel, got %d", rec.Code)
	}
	if rec := cashier.do(http.MethodPost, "/api/v1/rollover", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for rollover, got %d", rec.Code)
	}
}

func TestOpeningSnapshotDuplicateIsConflict(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	body := map[string]any{
		"date":     "2024-03-01",
		"balances": map[string]any{"cash_balance": "1000", "bank_balances": []any{}, "card_balances": []any{}},
		"notes":    "migration",
	}
	if rec := admin.do(http.MethodPost, "/api/v1/snapshots/opening", body); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if rec := admin.do(http.MethodPost, "/api/v1/snapshots/opening", body); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", rec.Code)
	}

	rec := admin.do(http.MethodGet, "/api/v1/balances?date=2024-03-01", nil)
	var view service.BalanceView
	decodeBody(t, rec, &view)
	if view.Balance.StringFixed(2) != "1000.00" {
		t.Fatalf("expected opening baseline 1000.00, got %s", view.Balance.StringFixed(2))
	}
}

func TestUnknownBankAccountIs404(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	if rec := admin.do(http.MethodGet, "/api/v1/balances?kind=bank&id=ghost", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := admin.do(http.MethodGet, "/api/v1/balances?date=not-a-date", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
}

func TestJournalStreamsEntries(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	for i := range 3 {
		rec := admin.do(http.MethodPost, "/api/v1/balances/opening", map[string]any{
			"account_kind": "cash",
			"amount":       fmt.Sprintf("%d", 10*(i+1)),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
		}
	}

	rec := admin.do(http.MethodGet, "/api/v1/journal", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("expected ndjson, got %q", ct)
	}

	var afters []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var entry domain.JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		afters = append(afters, entry.After.StringFixed(2))
	}
	if strings.Join(afters, ",") != "10.00,30.00,60.00" {
		t.Fatalf("unexpected journal order %v", afters)
	}
}

func TestManualRolloverReportsPhases(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	rec := admin.do(http.MethodPost, "/api/v1/rollover", map[string]any{"reference_date": "2024-02-02"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Report ledger.RolloverReport `json:"report"`
	}
	decodeBody(t, rec, &body)
	if body.Report.ClosingOutcome != ledger.OutcomeCreated || body.Report.OpeningOutcome != ledger.OutcomeCreated {
		t.Fatalf("unexpected outcomes %+v", body.Report)
	}

	rec = admin.do(http.MethodPost, "/api/v1/rollover", map[string]any{"reference_date": "2024-02-02"})
	decodeBody(t, rec, &body)
	if body.Report.ClosingOutcome != ledger.OutcomeSkipped || body.Report.OpeningOutcome != ledger.OutcomeSkipped {
		t.Fatalf("expected second run to skip, got %+v", body.Report)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", service.ErrInvalidRequest), http.StatusBadRequest},
		{service.ErrForbidden, http.StatusForbidden},
		{ledger.ErrAccountNotFound, http.StatusNotFound},
		{store.ErrNotFound, http.StatusNotFound},
		{ledger.ErrSnapshotAlreadyExists, http.StatusConflict},
		{service.ErrDocumentClosed, http.StatusConflict},
		{fmt.Errorf("apply: %w", ledger.ErrDayClosed), http.StatusConflict},
		{&ledger.InsufficientBalanceError{Account: domain.Cash()}, http.StatusUnprocessableEntity},
		{service.ErrOverpayment, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: deadlock", store.ErrTransient), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWithRetry(t *testing.T) {
	policy := newRetryPolicy(3, time.Millisecond)

	calls := 0
	got, err := withRetry(context.Background(), policy, "test", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("%w: serialization failure", store.ErrTransient)
		}
		return 42, nil
	})
	if err != nil || got != 42 || calls != 3 {
		t.Fatalf("expected success on third attempt, got %d %v after %d calls", got, err, calls)
	}

	calls = 0
	_, err = withRetry(context.Background(), policy, "test", func(context.Context) (int, error) {
		calls++
		return 0, ledger.ErrInsufficientBalance
	})
	if !errors.Is(err, ledger.ErrInsufficientBalance) || calls != 1 {
		t.Fatalf("business errors must not be retried, got %v after %d calls", err, calls)
	}

	calls = 0
	_, err = withRetry(context.Background(), policy, "test", func(context.Context) (int, error) {
		calls++
		return 0, store.ErrTransient
	})
	if !errors.Is(err, store.ErrTransient) || calls != 3 {
		t.Fatalf("expected transient error after 3 attempts, got %v after %d calls", err, calls)
	}
}
