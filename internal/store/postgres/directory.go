package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
	"saldo/backend/internal/xid"
)

func (s *Store) CreateBankAccount(ctx context.Context, account domain.BankAccount) (*domain.BankAccount, error) {
	if strings.TrimSpace(account.ID) == "" {
		return nil, store.ErrInvalidDocument
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_accounts (id, bank_name, account_number, account_name, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, account.ID, account.BankName, account.AccountNumber, account.AccountName, account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, mapError(err)
	}

	created := account
	return &created, nil
}

func (s *Store) ListBankAccounts(ctx context.Context) ([]domain.BankAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bank_name, account_number, account_name, created_at
		FROM bank_accounts
		ORDER BY id
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	accounts := make([]domain.BankAccount, 0, 8)
	for rows.Next() {
		var acc domain.BankAccount
		if err := rows.Scan(&acc.ID, &acc.BankName, &acc.AccountNumber, &acc.AccountName, &acc.CreatedAt); err != nil {
			return nil, err
		}
		acc.CreatedAt = acc.CreatedAt.UTC()
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *Store) CreateCard(ctx context.Context, card domain.Card) (*domain.Card, error) {
	if strings.TrimSpace(card.ID) == "" {
		return nil, store.ErrInvalidDocument
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cards (id, name, issuer, created_at)
		VALUES ($1,$2,$3,$4)
	`, card.ID, card.Name, card.Issuer, card.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, mapError(err)
	}

	created := card
	return &created, nil
}

func (s *Store) ListCards(ctx context.Context) ([]domain.Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, issuer, created_at
		FROM cards
		ORDER BY id
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	cards := make([]domain.Card, 0, 8)
	for rows.Next() {
		var card domain.Card
		if err := rows.Scan(&card.ID, &card.Name, &card.Issuer, &card.CreatedAt); err != nil {
			return nil, err
		}
		card.CreatedAt = card.CreatedAt.UTC()
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cards, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return mapError(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidDocument
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, display_name, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,true,now(),now())
	`, username, user.DisplayName, user.Password, user.Role)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return mapError(err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, display_name, password, role, active, created_at
		FROM app_users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&user.Username, &user.DisplayName, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapError(err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, display_name, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.DisplayName, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidDocument
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
