package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
	"saldo/backend/internal/xid"
)

const entryColumns = `
	id, seq, entry_date, account_kind, account_id, direction, amount,
	before_balance, after_balance, change_amount, description, source, source_id,
	actor_id, actor_name, actor_kind, created_at`

// reader implements store.LedgerReader over a pool or an open transaction.
type reader struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.JournalEntry, error) {
	var (
		e        domain.JournalEntry
		kind     string
		sourceID sql.NullString
	)
	err := row.Scan(&e.ID, &e.Seq, &e.Date, &kind, &e.Account.ID, &e.Direction, &e.Amount,
		&e.Before, &e.After, &e.Change, &e.Description, &e.Source, &sourceID,
		&e.ActorID, &e.ActorName, &e.ActorKind, &e.CreatedAt)
	if err != nil {
		return domain.JournalEntry{}, err
	}
	e.Account.Kind = domain.AccountKind(kind)
	if sourceID.Valid {
		id := sourceID.String
		e.SourceID = &id
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func scanEntries(rows *sql.Rows, capacity int) ([]domain.JournalEntry, error) {
	defer rows.Close()

	entries := make([]domain.JournalEntry, 0, capacity)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r reader) LatestEntry(ctx context.Context, acc domain.Account, date calendar.Date) (*domain.JournalEntry, error) {
	e, err := scanEntry(r.q.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM journal_entries
		WHERE account_kind = $1 AND account_id = $2 AND entry_date = $3
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, string(acc.Kind), acc.ID, date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapError(err)
	}
	return &e, nil
}

func (r reader) LatestEntriesForDate(ctx context.Context, date calendar.Date) ([]domain.JournalEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT DISTINCT ON (account_kind, account_id) `+entryColumns+`
		FROM journal_entries
		WHERE entry_date = $1
		ORDER BY account_kind, account_id, created_at DESC, seq DESC
	`, date)
	if err != nil {
		return nil, mapError(err)
	}
	return scanEntries(rows, 8)
}

func (r reader) GetOpening(ctx context.Context, date calendar.Date) (*domain.OpeningSnapshot, error) {
	snap, err := r.getSnapshot(ctx, "opening_snapshots", date)
	if err != nil {
		return nil, err
	}
	opening := domain.OpeningSnapshot(snap)
	return &opening, nil
}

func (r reader) GetClosing(ctx context.Context, date calendar.Date) (*domain.ClosingSnapshot, error) {
	snap, err := r.getSnapshot(ctx, "closing_snapshots", date)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r reader) LatestClosingBefore(ctx context.Context, date calendar.Date) (*domain.ClosingSnapshot, error) {
	snap, err := scanSnapshot(r.q.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM closing_snapshots
		WHERE snapshot_date < $1
		ORDER BY snapshot_date DESC
		LIMIT 1
	`, date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapError(err)
	}
	return &snap, nil
}

func (r reader) BankAccountExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM bank_accounts WHERE id = $1)`, id)
}

func (r reader) CardExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM cards WHERE id = $1)`, id)
}

func (r reader) exists(ctx context.Context, query string, id string) (bool, error) {
	var ok bool
	if err := r.q.QueryRowContext(ctx, query, id).Scan(&ok); err != nil {
		return false, mapError(err)
	}
	return ok, nil
}

const snapshotColumns = `snapshot_date, cash_balance, bank_balances, card_balances, notes, created_by, created_by_type, created_at`

func (r reader) getSnapshot(ctx context.Context, table string, date calendar.Date) (domain.ClosingSnapshot, error) {
	snap, err := scanSnapshot(r.q.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM `+table+`
		WHERE snapshot_date = $1
	`, date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ClosingSnapshot{}, store.ErrNotFound
		}
		return domain.ClosingSnapshot{}, mapError(err)
	}
	return snap, nil
}

// Opening and closing rows share a layout, so both scan through ClosingSnapshot.
func scanSnapshot(row rowScanner) (domain.ClosingSnapshot, error) {
	var (
		snap         domain.ClosingSnapshot
		banks, cards []byte
	)
	if err := row.Scan(&snap.Date, &snap.Balances.Cash, &banks, &cards, &snap.Notes, &snap.CreatedBy, &snap.CreatedByType, &snap.CreatedAt); err != nil {
		return domain.ClosingSnapshot{}, err
	}
	if err := json.Unmarshal(banks, &snap.Balances.Banks); err != nil {
		return domain.ClosingSnapshot{}, fmt.Errorf("decode bank balances: %w", err)
	}
	if err := json.Unmarshal(cards, &snap.Balances.Cards); err != nil {
		return domain.ClosingSnapshot{}, fmt.Errorf("decode card balances: %w", err)
	}
	snap.CreatedAt = snap.CreatedAt.UTC()
	return snap, nil
}

func encodeBalances(b domain.Balances) (banks []byte, cards []byte, err error) {
	banks, err = json.Marshal(nonNil(b.Banks))
	if err != nil {
		return nil, nil, err
	}
	cards, err = json.Marshal(nonNil(b.Cards))
	if err != nil {
		return nil, nil, err
	}
	return banks, cards, nil
}

func nonNil(list []domain.AccountBalance) []domain.AccountBalance {
	if list == nil {
		return []domain.AccountBalance{}
	}
	return list
}

// pgTx is one open unit. held tracks advisory locks taken in this unit.
type pgTx struct {
	reader
	tx   *sql.Tx
	held map[string]struct{}
}

func lockKey(acc domain.Account, date calendar.Date) string {
	return "ledger:" + acc.Key() + "@" + date.String()
}

// LockAccountDay takes a transaction-scoped advisory lock, released on commit or rollback.
func (t *pgTx) LockAccountDay(ctx context.Context, acc domain.Account, date calendar.Date) error {
	key := lockKey(acc, date)
	if _, ok := t.held[key]; ok {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return mapError(err)
	}
	t.held[key] = struct{}{}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, entry domain.JournalEntry) (domain.JournalEntry, error) {
	key := lockKey(entry.Account, entry.Date)
	if _, ok := t.held[key]; !ok {
		return domain.JournalEntry{}, fmt.Errorf("%w: %s", store.ErrLockNotHeld, key)
	}
	if entry.ID == "" {
		entry.ID = xid.New("je")
	}

	// created_at never goes backwards within an account-day; the lock above
	// makes the GREATEST read stable.
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO journal_entries (
			id, entry_date, account_kind, account_id, direction, amount,
			before_balance, after_balance, change_amount, description, source, source_id,
			actor_id, actor_name, actor_kind, created_at
		)
		VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,
			GREATEST(clock_timestamp(), COALESCE((
				SELECT max(created_at) FROM journal_entries
				WHERE account_kind = $3 AND account_id = $4 AND entry_date = $2
			), '-infinity'::timestamptz))
		)
		RETURNING seq, created_at
	`, entry.ID, entry.Date, string(entry.Account.Kind), entry.Account.ID, string(entry.Direction), entry.Amount,
		entry.Before, entry.After, entry.Change, entry.Description, entry.Source, entry.SourceID,
		entry.ActorID, entry.ActorName, string(entry.ActorKind),
	).Scan(&entry.Seq, &entry.CreatedAt)
	if err != nil {
		return domain.JournalEntry{}, mapError(err)
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}

func (t *pgTx) InsertOpening(ctx context.Context, snap domain.OpeningSnapshot) (bool, error) {
	return t.insertSnapshot(ctx, "opening_snapshots", domain.ClosingSnapshot(snap))
}

func (t *pgTx) InsertClosing(ctx context.Context, snap domain.ClosingSnapshot) (bool, error) {
	return t.insertSnapshot(ctx, "closing_snapshots", snap)
}

func (t *pgTx) insertSnapshot(ctx context.Context, table string, snap domain.ClosingSnapshot) (bool, error) {
	banks, cards, err := encodeBalances(snap.Balances)
	if err != nil {
		return false, err
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO `+table+` (`+snapshotColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (snapshot_date) DO NOTHING
	`, snap.Date, snap.Balances.Cash, banks, cards, snap.Notes, snap.CreatedBy, string(snap.CreatedByType))
	if err != nil {
		return false, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Store) ListEntries(ctx context.Context, from calendar.Date, to calendar.Date, after *store.EntryCursor, limit int) ([]domain.JournalEntry, error) {
	if limit < 1 {
		limit = 500
	}

	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+entryColumns+`
			FROM journal_entries
			WHERE entry_date BETWEEN $1 AND $2
			ORDER BY created_at, seq
			LIMIT $3
		`, from, to, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+entryColumns+`
			FROM journal_entries
			WHERE entry_date BETWEEN $1 AND $2
				AND (created_at, seq) > ($3, $4)
			ORDER BY created_at, seq
			LIMIT $5
		`, from, to, after.CreatedAt, after.Seq, limit)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return scanEntries(rows, limit)
}
