package store

import (
	"context"
	"errors"
	"time"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("already exists")
	ErrTransient       = errors.New("transient store error")
	ErrLockNotHeld     = errors.New("account-day lock not held")
	ErrInvalidDocument = errors.New("invalid document")
)

// EntryCursor is the keyset position after which ListEntries resumes.
type EntryCursor struct {
	CreatedAt time.Time
	Seq       int64
}

// LedgerReader is the read side shared by the repository and open units.
type LedgerReader interface {
	// LatestEntry returns the newest entry for acc on date by (created_at, seq), or ErrNotFound.
	LatestEntry(ctx context.Context, acc domain.Account, date calendar.Date) (*domain.JournalEntry, error)
	// LatestEntriesForDate returns the newest entry of every account that moved on date.
	LatestEntriesForDate(ctx context.Context, date calendar.Date) ([]domain.JournalEntry, error)
	GetOpening(ctx context.Context, date calendar.Date) (*domain.OpeningSnapshot, error)
	GetClosing(ctx context.Context, date calendar.Date) (*domain.ClosingSnapshot, error)
	// LatestClosingBefore returns the most recent closing strictly before date, or ErrNotFound.
	LatestClosingBefore(ctx context.Context, date calendar.Date) (*domain.ClosingSnapshot, error)
	BankAccountExists(ctx context.Context, id string) (bool, error)
	CardExists(ctx context.Context, id string) (bool, error)
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
}

// Tx is one atomic unit. Writes become durable only when the unit commits.
type Tx interface {
	LedgerReader
	// LockAccountDay serializes every unit touching (acc, date) until this unit ends.
	LockAccountDay(ctx context.Context, acc domain.Account, date calendar.Date) error
	// AppendEntry assigns Seq and returns the stored entry. The caller must hold the account-day lock.
	AppendEntry(ctx context.Context, entry domain.JournalEntry) (domain.JournalEntry, error)
	// InsertOpening inserts unless a row for the date exists; created is false on conflict.
	InsertOpening(ctx context.Context, snap domain.OpeningSnapshot) (created bool, err error)
	InsertClosing(ctx context.Context, snap domain.ClosingSnapshot) (created bool, err error)
	CreateDocument(ctx context.Context, doc domain.Document) error
	GetDocumentForUpdate(ctx context.Context, id string) (*domain.Document, error)
	UpdateDocument(ctx context.Context, doc domain.Document) error
}

type Repository interface {
	LedgerReader
	// Atomic runs fn in one unit, committing when fn returns nil and rolling back otherwise.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// ListEntries pages entries dated within [from, to] ordered by (created_at, seq).
	ListEntries(ctx context.Context, from calendar.Date, to calendar.Date, after *EntryCursor, limit int) ([]domain.JournalEntry, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, kind domain.DocumentKind, limit int) ([]domain.Document, error)
	CreateBankAccount(ctx context.Context, account domain.BankAccount) (*domain.BankAccount, error)
	ListBankAccounts(ctx context.Context) ([]domain.BankAccount, error)
	CreateCard(ctx context.Context, card domain.Card) (*domain.Card, error)
	ListCards(ctx context.Context) ([]domain.Card, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
