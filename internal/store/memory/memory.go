package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
	"saldo/backend/internal/xid"
)

// Store keeps the whole ledger in process. Writes inside a unit are applied
// immediately and undone on rollback, so a plain read outside a unit can
// observe rows of a unit that has not finished yet.
type Store struct {
	mu              sync.RWMutex
	entries         []domain.JournalEntry
	seq             int64
	lastCreatedAt   map[string]time.Time // per account-day
	openings        map[calendar.Date]domain.OpeningSnapshot
	closings        map[calendar.Date]domain.ClosingSnapshot
	documents       map[string]domain.Document
	bankAccounts    map[string]domain.BankAccount
	cards           map[string]domain.Card
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount

	locks *keyedLocks
	now   func() time.Time
}

type Option func(*Store)

// WithClock overrides the clock used for created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		entries:         make([]domain.JournalEntry, 0, 256),
		lastCreatedAt:   make(map[string]time.Time),
		openings:        make(map[calendar.Date]domain.OpeningSnapshot),
		closings:        make(map[calendar.Date]domain.ClosingSnapshot),
		documents:       make(map[string]domain.Document),
		bankAccounts:    make(map[string]domain.BankAccount),
		cards:           make(map[string]domain.Card),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
		locks:           newKeyedLocks(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSeeded builds a dev/demo store with login users, one bank account and one card.
func NewSeeded(logger *zap.Logger, opts ...Option) *Store {
	s := New(opts...)
	s.usersByUsername = seedUsers(logger)
	now := s.now().UTC()
	s.bankAccounts["bca-main"] = domain.BankAccount{ID: "bca-main", BankName: "BCA", AccountNumber: "0123456789", AccountName: "Toko Utama", CreatedAt: now}
	s.cards["visa-ops"] = domain.Card{ID: "visa-ops", Name: "Operational Visa", Issuer: "BNI", CreatedAt: now}
	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_USER_PASSWORD;
// dev defaults are used with a warning when unset.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	if logger == nil {
		logger = zap.NewNop()
	}
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_USER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_USER_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_USER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username    string
		displayName string
		password    string
		role        string
	}{
		{"admin", "Administrator", adminPwd, domain.RoleAdmin},
		{"cashier", "Kasir", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:    u.username,
			DisplayName: u.displayName,
			Password:    string(hash),
			Role:        u.role,
			Active:      true,
			CreatedAt:   now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Atomic runs fn as one unit. Account-day locks taken inside fn are released
// when the unit ends; on error every write made by the unit is undone.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx := &memTx{s: s, held: make(map[string]struct{})}
	defer tx.releaseLocks()
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) LatestEntry(_ context.Context, acc domain.Account, date calendar.Date) (*domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.JournalEntry
	for i := range s.entries {
		e := &s.entries[i]
		if e.Account != acc || e.Date != date {
			continue
		}
		if latest == nil || entryAfter(*e, *latest) {
			latest = e
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	dup := cloneEntry(*latest)
	return &dup, nil
}

func (s *Store) LatestEntriesForDate(_ context.Context, date calendar.Date) ([]domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byAccount := make(map[string]domain.JournalEntry)
	for _, e := range s.entries {
		if e.Date != date {
			continue
		}
		cur, ok := byAccount[e.Account.Key()]
		if !ok || entryAfter(e, cur) {
			byAccount[e.Account.Key()] = e
		}
	}

	result := make([]domain.JournalEntry, 0, len(byAccount))
	for _, e := range byAccount {
		result = append(result, cloneEntry(e))
	}
	slices.SortFunc(result, func(a, b domain.JournalEntry) int {
		return strings.Compare(a.Account.Key(), b.Account.Key())
	})
	return result, nil
}

func (s *Store) GetOpening(_ context.Context, date calendar.Date) (*domain.OpeningSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.openings[date]
	if !ok {
		return nil, store.ErrNotFound
	}
	snap.Balances = snap.Balances.Clone()
	return &snap, nil
}

func (s *Store) GetClosing(_ context.Context, date calendar.Date) (*domain.ClosingSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.closings[date]
	if !ok {
		return nil, store.ErrNotFound
	}
	snap.Balances = snap.Balances.Clone()
	return &snap, nil
}

func (s *Store) LatestClosingBefore(_ context.Context, date calendar.Date) (*domain.ClosingSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.ClosingSnapshot
	for d, snap := range s.closings {
		if !d.Before(date) {
			continue
		}
		if latest == nil || d.After(latest.Date) {
			dup := snap
			latest = &dup
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	latest.Balances = latest.Balances.Clone()
	return latest, nil
}

func (s *Store) BankAccountExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bankAccounts[id]
	return ok, nil
}

func (s *Store) CardExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cards[id]
	return ok, nil
}

func (s *Store) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneDocument(doc)
	return &dup, nil
}

func (s *Store) ListEntries(_ context.Context, from calendar.Date, to calendar.Date, after *store.EntryCursor, limit int) ([]domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.JournalEntry, 0, 64)
	for _, e := range s.entries {
		if e.Date.Before(from) || e.Date.After(to) {
			continue
		}
		if after != nil && !cursorBefore(*after, e) {
			continue
		}
		result = append(result, cloneEntry(e))
	}
	slices.SortFunc(result, compareEntries)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.documents, id)
	return nil
}

func (s *Store) ListDocuments(_ context.Context, kind domain.DocumentKind, limit int) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		if kind != "" && doc.Kind != kind {
			continue
		}
		result = append(result, cloneDocument(doc))
	}
	slices.SortFunc(result, func(a, b domain.Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateBankAccount(_ context.Context, account domain.BankAccount) (*domain.BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(account.ID) == "" {
		return nil, store.ErrInvalidDocument
	}
	if _, exists := s.bankAccounts[account.ID]; exists {
		return nil, store.ErrConflict
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = s.now().UTC()
	}
	s.bankAccounts[account.ID] = account
	created := account
	return &created, nil
}

func (s *Store) ListBankAccounts(_ context.Context) ([]domain.BankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.BankAccount, 0, len(s.bankAccounts))
	for _, acc := range s.bankAccounts {
		result = append(result, acc)
	}
	slices.SortFunc(result, func(a, b domain.BankAccount) int { return strings.Compare(a.ID, b.ID) })
	return result, nil
}

func (s *Store) CreateCard(_ context.Context, card domain.Card) (*domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(card.ID) == "" {
		return nil, store.ErrInvalidDocument
	}
	if _, exists := s.cards[card.ID]; exists {
		return nil, store.ErrConflict
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = s.now().UTC()
	}
	s.cards[card.ID] = card
	created := card
	return &created, nil
}

func (s *Store) ListCards(_ context.Context) ([]domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Card, 0, len(s.cards))
	for _, c := range s.cards {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.Card) int { return strings.Compare(a.ID, b.ID) })
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidDocument
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidDocument
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// compareEntries orders by (created_at, seq).
func compareEntries(a, b domain.JournalEntry) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}

func entryAfter(a, b domain.JournalEntry) bool {
	return compareEntries(a, b) > 0
}

func cursorBefore(c store.EntryCursor, e domain.JournalEntry) bool {
	if c.CreatedAt.Equal(e.CreatedAt) {
		return c.Seq < e.Seq
	}
	return c.CreatedAt.Before(e.CreatedAt)
}

func cloneEntry(src domain.JournalEntry) domain.JournalEntry {
	dup := src
	if src.SourceID != nil {
		id := *src.SourceID
		dup.SourceID = &id
	}
	return dup
}

func cloneDocument(src domain.Document) domain.Document {
	dup := src
	dup.Payments = make([]domain.Payment, len(src.Payments))
	for i, p := range src.Payments {
		if p.Account != nil {
			acc := *p.Account
			p.Account = &acc
		}
		dup.Payments[i] = p
	}
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		dup.CancelledAt = &at
	}
	return dup
}
