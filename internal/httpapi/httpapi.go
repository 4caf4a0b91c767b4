package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"saldo/backend/internal/domain"
	"saldo/backend/internal/ledger"
	"saldo/backend/internal/service"
	"saldo/backend/internal/store"
)

type Options struct {
	AllowedOrigin    string
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	retry         retryPolicy
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
	validate      *validator.Validate
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		logger.Fatal("csrf secret generation failed", zap.Error(err))
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		retry:         newRetryPolicy(opts.RetryMaxAttempts, opts.RetryBaseDelay),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		logger:        logger,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-CSRF-Token", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(a.securityHeaders)
	r.Use(a.logRequests)
	r.Use(a.checkCSRF)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleCashier, domain.RoleAdmin))

			r.Get("/balances", a.handleBalance)
			r.Get("/balances/summary", a.handleBalanceSummary)
			r.Get("/snapshots/opening/{date}", a.handleOpeningSnapshot)
			r.Get("/snapshots/closing/{date}", a.handleClosingSnapshot)

			r.Get("/bank-accounts", a.handleListBankAccounts)
			r.Get("/cards", a.handleListCards)

			r.Post("/sales", a.handleCreateDocument(domain.DocumentSale))
			r.Post("/purchases", a.handleCreateDocument(domain.DocumentPurchase))
			r.Post("/expenses", a.handleCreateDocument(domain.DocumentExpense))
			r.Get("/documents", a.handleListDocuments)
			r.Get("/documents/{id}", a.handleGetDocument)
			r.Post("/documents/{id}/payments", a.handleAddPayment)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))

			r.Post("/balances/opening", a.handleAddOpeningBalance)
			r.Post("/snapshots/opening", a.handleCreateOpeningSnapshot)
			r.Post("/snapshots/closing/{date}/recompute", a.handleRecomputeClosing)
			r.Post("/rollover", a.handleRollover)
			r.Get("/journal", a.handleJournal)
			r.Get("/reconciliation", a.handleReconciliation)

			r.Post("/bank-accounts", a.handleCreateBankAccount)
			r.Post("/cards", a.handleCreateCard)
			r.Delete("/documents/{id}", a.handleCancelDocument)

			r.Get("/audit-logs", a.handleAuditLogs)
			r.Get("/users", a.handleListUsers)
			r.Post("/users", a.handleCreateUser)
		})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { writeMethodNotAllowed(w) })
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

type requestIDKey struct{}

// requestID keeps a caller-supplied X-Request-ID or assigns a fresh one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		a.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(startedAt)),
			zap.String("request_id", requestIDFrom(r.Context())),
		)
	})
}

// csrfExemptPaths are called without a prior CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces the X-CSRF-Token header on every state-changing method.
func (a *API) checkCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}
		for _, exempt := range csrfExemptPaths {
			if r.URL.Path == exempt {
				next.ServeHTTP(w, r)
				return
			}
		}
		if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
			writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor is the single mapping from service and ledger errors to HTTP.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, ledger.ErrInvalidMutation),
		errors.Is(err, domain.ErrInvalidAccount),
		errors.Is(err, store.ErrInvalidDocument),
		errors.As(err, &maxBytes):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrSnapshotAlreadyExists),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, service.ErrDocumentClosed),
		errors.Is(err, ledger.ErrDayClosed):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, service.ErrOverpayment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.logger.Error("request failed",
			zap.Int("status", status),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Error(err),
		)
	}

	var insufficient *ledger.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		writeJSON(w, status, map[string]any{
			"error":     insufficient.Error(),
			"account":   insufficient.Account,
			"available": insufficient.Available.StringFixed(2),
			"requested": insufficient.Requested.StringFixed(2),
		})
		return
	}
	writeError(w, status, err)
}

// decode reads a JSON body and runs the validator tags on it.
func (a *API) decode(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	if err := a.validate.Struct(dest); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	return nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the message of 5xx responses; 4xx messages are user-facing.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
		if status == http.StatusServiceUnavailable {
			msg = "service temporarily unavailable, retry later"
		}
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
