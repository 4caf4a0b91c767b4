package domain

import (
	"github.com/shopspring/decimal"

	"saldo/backend/internal/calendar"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username    string `json:"username" validate:"required,min=4,max=64,excludesall= \t"`
	DisplayName string `json:"display_name" validate:"max=120"`
	Password    string `json:"password" validate:"required,min=8"`
	Role        string `json:"role" validate:"omitempty,oneof=admin cashier"`
}

// PaymentInput is one leg of a document as submitted by a client.
// AccountID names the bank account or card; it is empty for cash and credit.
type PaymentInput struct {
	Type      PaymentType     `json:"type" validate:"required,oneof=cash bank card credit"`
	Amount    decimal.Decimal `json:"amount"`
	AccountID string          `json:"account_id,omitempty" validate:"max=64"`
}

type DocumentCreateRequest struct {
	// Date defaults to today in the business timezone.
	Date         calendar.Date   `json:"date"`
	Reference    string          `json:"reference" validate:"max=120"`
	Counterparty string          `json:"counterparty" validate:"max=120"`
	Description  string          `json:"description" validate:"max=500"`
	Total        decimal.Decimal `json:"total"`
	Payments     []PaymentInput  `json:"payments" validate:"max=20,dive"`
}

type OpeningBalanceRequest struct {
	Date        calendar.Date   `json:"date"`
	AccountKind string          `json:"account_kind" validate:"required,oneof=cash bank card"`
	AccountID   string          `json:"account_id" validate:"max=64"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=500"`
}

type OpeningSnapshotRequest struct {
	Date     calendar.Date `json:"date"`
	Balances Balances      `json:"balances"`
	Notes    string        `json:"notes" validate:"max=500"`
}

type RolloverRequest struct {
	// ReferenceDate defaults to today in the business timezone.
	ReferenceDate calendar.Date `json:"reference_date"`
}

type BankAccountCreateRequest struct {
	ID            string `json:"id" validate:"required,max=64"`
	BankName      string `json:"bank_name" validate:"required,max=120"`
	AccountNumber string `json:"account_number" validate:"max=64"`
	AccountName   string `json:"account_name" validate:"max=120"`
}

type CardCreateRequest struct {
	ID     string `json:"id" validate:"required,max=64"`
	Name   string `json:"name" validate:"required,max=120"`
	Issuer string `json:"issuer" validate:"max=120"`
}
