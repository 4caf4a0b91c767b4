package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"saldo/backend/internal/store"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	reader
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{reader: reader{q: db}, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema on its own connection, so closing the
// migrator does not close the store pool. It reports whether anything changed.
func Migrate(databaseURL string) (bool, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return false, err
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		return false, err
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return false, fmt.Errorf("migrate driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return false, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return false, fmt.Errorf("migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Atomic runs fn in a READ COMMITTED transaction. Account-day serialization
// comes from advisory locks taken by LockAccountDay, not from the isolation level.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if _, err := sqlTx.ExecContext(ctx, `SET LOCAL lock_timeout = '5s'`); err != nil {
		return mapError(err)
	}

	t := &pgTx{reader: reader{q: sqlTx}, tx: sqlTx, held: make(map[string]struct{})}
	if err := fn(ctx, t); err != nil {
		return mapError(err)
	}
	return mapError(sqlTx.Commit())
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapError marks serialization failures, deadlocks, lock timeouts and
// statement cancellations as transient so the caller may retry the unit.
func mapError(err error) error {
	if err == nil || errors.Is(err, store.ErrTransient) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57014":
			return fmt.Errorf("%w: %w", store.ErrTransient, err)
		}
	}
	return err
}
