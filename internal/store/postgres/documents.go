package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
)

const documentColumns = `
	id, kind, doc_date, reference, counterparty, description, total, paid,
	remaining_balance, status, payments, created_by, created_at, cancelled_at`

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc         domain.Document
		payments    []byte
		cancelledAt sql.NullTime
	)
	err := row.Scan(&doc.ID, &doc.Kind, &doc.Date, &doc.Reference, &doc.Counterparty, &doc.Description,
		&doc.Total, &doc.Paid, &doc.RemainingBalance, &doc.Status, &payments, &doc.CreatedBy, &doc.CreatedAt, &cancelledAt)
	if err != nil {
		return domain.Document{}, err
	}
	if err := json.Unmarshal(payments, &doc.Payments); err != nil {
		return domain.Document{}, fmt.Errorf("decode payments: %w", err)
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		doc.CancelledAt = &at
	}
	return doc, nil
}

func encodePayments(payments []domain.Payment) ([]byte, error) {
	if payments == nil {
		payments = []domain.Payment{}
	}
	return json.Marshal(payments)
}

func (r reader) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	return r.getDocument(ctx, id, "")
}

func (r reader) getDocument(ctx context.Context, id string, suffix string) (*domain.Document, error) {
	doc, err := scanDocument(r.q.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = $1
	`+suffix, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapError(err)
	}
	return &doc, nil
}

func (t *pgTx) CreateDocument(ctx context.Context, doc domain.Document) error {
	if doc.ID == "" || !doc.Kind.Valid() {
		return store.ErrInvalidDocument
	}
	payments, err := encodePayments(doc.Payments)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,COALESCE($13, now()),$14)
	`, doc.ID, string(doc.Kind), doc.Date, doc.Reference, doc.Counterparty, doc.Description,
		doc.Total, doc.Paid, doc.RemainingBalance, doc.Status, payments, doc.CreatedBy,
		nullTime(doc.CreatedAt), doc.CancelledAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return mapError(err)
	}
	return nil
}

// GetDocumentForUpdate row-locks the document until the unit ends.
func (t *pgTx) GetDocumentForUpdate(ctx context.Context, id string) (*domain.Document, error) {
	return t.getDocument(ctx, id, " FOR UPDATE")
}

func (t *pgTx) UpdateDocument(ctx context.Context, doc domain.Document) error {
	payments, err := encodePayments(doc.Payments)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE documents
		SET paid = $2, remaining_balance = $3, status = $4, payments = $5, cancelled_at = $6,
			reference = $7, counterparty = $8, description = $9
		WHERE id = $1
	`, doc.ID, doc.Paid, doc.RemainingBalance, doc.Status, payments, doc.CancelledAt,
		doc.Reference, doc.Counterparty, doc.Description)
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

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
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

func (s *Store) ListDocuments(ctx context.Context, kind domain.DocumentKind, limit int) ([]domain.Document, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE ($1 = '' OR kind = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, string(kind), limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	docs := make([]domain.Document, 0, limit)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
