package service

import (
	"context"
	"fmt"
	"strings"

	"saldo/backend/internal/domain"
)

func (s *Service) CreateBankAccount(ctx context.Context, req domain.BankAccountCreateRequest) (*domain.BankAccount, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	id := strings.ToLower(strings.TrimSpace(req.ID))
	if id == "" || strings.ContainsAny(id, " :@") {
		return nil, fmt.Errorf("%w: bank account id must be a plain slug", ErrInvalidRequest)
	}

	created, err := s.repo.CreateBankAccount(ctx, domain.BankAccount{
		ID:            id,
		BankName:      strings.TrimSpace(req.BankName),
		AccountNumber: strings.TrimSpace(req.AccountNumber),
		AccountName:   strings.TrimSpace(req.AccountName),
		CreatedAt:     s.calendar.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "bank_account_create", "bank_account", created.ID, "bank="+created.BankName)
	return created, nil
}

func (s *Service) ListBankAccounts(ctx context.Context) ([]domain.BankAccount, error) {
	return s.repo.ListBankAccounts(ctx)
}

func (s *Service) CreateCard(ctx context.Context, req domain.CardCreateRequest) (*domain.Card, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	id := strings.ToLower(strings.TrimSpace(req.ID))
	if id == "" || strings.ContainsAny(id, " :@") {
		return nil, fmt.Errorf("%w: card id must be a plain slug", ErrInvalidRequest)
	}

	created, err := s.repo.CreateCard(ctx, domain.Card{
		ID:        id,
		Name:      strings.TrimSpace(req.Name),
		Issuer:    strings.TrimSpace(req.Issuer),
		CreatedAt: s.calendar.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "card_create", "card", created.ID, "name="+created.Name)
	return created, nil
}

func (s *Service) ListCards(ctx context.Context) ([]domain.Card, error) {
	return s.repo.ListCards(ctx)
}
