package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"saldo/backend/internal/calendar"
)

type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

func (d Direction) Valid() bool {
	return d == DirectionIncome || d == DirectionExpense
}

// Reverse returns the direction that undoes d.
func (d Direction) Reverse() Direction {
	if d == DirectionIncome {
		return DirectionExpense
	}
	return DirectionIncome
}

type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorAdmin  ActorKind = "admin"
	ActorSystem ActorKind = "system"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// Actor is the authenticated caller attached to a request context.
type Actor struct {
	Username string
	Role     string
}

// Identity is an actor resolved for provenance stamping.
type Identity struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Kind        ActorKind `json:"kind"`
}

func SystemIdentity() Identity {
	return Identity{ID: "system", DisplayName: "System", Kind: ActorSystem}
}

// Provenance describes who caused a balance change and why.
type Provenance struct {
	Description string
	Source      string
	SourceID    *string
	Actor       Identity
}

// JournalEntry is one immutable balance-changing event.
type JournalEntry struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"seq"`
	Date        calendar.Date   `json:"date"`
	Account     Account         `json:"account"`
	Direction   Direction       `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	Before      decimal.Decimal `json:"before_balance"`
	After       decimal.Decimal `json:"after_balance"`
	Change      decimal.Decimal `json:"change_amount"`
	Description string          `json:"description"`
	Source      string          `json:"source"`
	SourceID    *string         `json:"source_id,omitempty"`
	ActorID     string          `json:"actor_id"`
	ActorName   string          `json:"actor_name"`
	ActorKind   ActorKind       `json:"actor_kind"`
	CreatedAt   time.Time       `json:"created_at"`
}

type AccountBalance struct {
	ID      string          `json:"id"`
	Balance decimal.Decimal `json:"balance"`
}

// Balances is the cash/bank/card triple held by a snapshot.
// Banks and Cards are kept sorted by id.
type Balances struct {
	Cash  decimal.Decimal  `json:"cash_balance"`
	Banks []AccountBalance `json:"bank_balances"`
	Cards []AccountBalance `json:"card_balances"`
}

// Of returns the balance for acc, zero when the account is absent.
func (b Balances) Of(acc Account) decimal.Decimal {
	switch acc.Kind {
	case AccountCash:
		return b.Cash
	case AccountBank:
		return lookupBalance(b.Banks, acc.ID)
	case AccountCard:
		return lookupBalance(b.Cards, acc.ID)
	}
	return decimal.Zero
}

// Has reports whether acc carries an explicit value.
func (b Balances) Has(acc Account) bool {
	switch acc.Kind {
	case AccountCash:
		return true
	case AccountBank:
		return slices.ContainsFunc(b.Banks, func(ab AccountBalance) bool { return ab.ID == acc.ID })
	case AccountCard:
		return slices.ContainsFunc(b.Cards, func(ab AccountBalance) bool { return ab.ID == acc.ID })
	}
	return false
}

// With returns a copy of b with acc set to amount.
func (b Balances) With(acc Account, amount decimal.Decimal) Balances {
	out := b.Clone()
	switch acc.Kind {
	case AccountCash:
		out.Cash = amount
	case AccountBank:
		out.Banks = upsertBalance(out.Banks, acc.ID, amount)
	case AccountCard:
		out.Cards = upsertBalance(out.Cards, acc.ID, amount)
	}
	return out
}

// Accounts lists every account with an explicit value, cash first.
func (b Balances) Accounts() []Account {
	accs := make([]Account, 0, 1+len(b.Banks)+len(b.Cards))
	accs = append(accs, Cash())
	for _, ab := range b.Banks {
		accs = append(accs, Bank(ab.ID))
	}
	for _, ab := range b.Cards {
		accs = append(accs, CardAccount(ab.ID))
	}
	return accs
}

func (b Balances) Clone() Balances {
	return Balances{
		Cash:  b.Cash,
		Banks: slices.Clone(b.Banks),
		Cards: slices.Clone(b.Cards),
	}
}

func (b Balances) Equal(other Balances) bool {
	if !b.Cash.Equal(other.Cash) || len(b.Banks) != len(other.Banks) || len(b.Cards) != len(other.Cards) {
		return false
	}
	for i := range b.Banks {
		if b.Banks[i].ID != other.Banks[i].ID || !b.Banks[i].Balance.Equal(other.Banks[i].Balance) {
			return false
		}
	}
	for i := range b.Cards {
		if b.Cards[i].ID != other.Cards[i].ID || !b.Cards[i].Balance.Equal(other.Cards[i].Balance) {
			return false
		}
	}
	return true
}

func lookupBalance(list []AccountBalance, id string) decimal.Decimal {
	for _, ab := range list {
		if ab.ID == id {
			return ab.Balance
		}
	}
	return decimal.Zero
}

func upsertBalance(list []AccountBalance, id string, amount decimal.Decimal) []AccountBalance {
	for i := range list {
		if list[i].ID == id {
			list[i].Balance = amount
			return list
		}
	}
	list = append(list, AccountBalance{ID: id, Balance: amount})
	slices.SortFunc(list, func(a, b AccountBalance) int { return strings.Compare(a.ID, b.ID) })
	return list
}

type OpeningSnapshot struct {
	Date          calendar.Date `json:"date"`
	Balances      Balances      `json:"balances"`
	Notes         string        `json:"notes"`
	CreatedBy     string        `json:"created_by"`
	CreatedByType ActorKind     `json:"created_by_type"`
	CreatedAt     time.Time     `json:"created_at"`
}

type ClosingSnapshot struct {
	Date          calendar.Date `json:"date"`
	Balances      Balances      `json:"balances"`
	Notes         string        `json:"notes"`
	CreatedBy     string        `json:"created_by"`
	CreatedByType ActorKind     `json:"created_by_type"`
	CreatedAt     time.Time     `json:"created_at"`
}

type MutationResult struct {
	EntryID string          `json:"journal_entry_id"`
	Before  decimal.Decimal `json:"before_balance"`
	After   decimal.Decimal `json:"after_balance"`
	Change  decimal.Decimal `json:"change_amount"`
}

type BankAccount struct {
	ID            string    `json:"id"`
	BankName      string    `json:"bank_name"`
	AccountNumber string    `json:"account_number"`
	AccountName   string    `json:"account_name"`
	CreatedAt     time.Time `json:"created_at"`
}

type Card struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Issuer    string    `json:"issuer"`
	CreatedAt time.Time `json:"created_at"`
}

type DocumentKind string

const (
	DocumentSale     DocumentKind = "sale"
	DocumentPurchase DocumentKind = "purchase"
	DocumentExpense  DocumentKind = "expense"
)

// Direction is the ledger direction a settled payment of this kind drives.
func (k DocumentKind) Direction() Direction {
	if k == DocumentSale {
		return DirectionIncome
	}
	return DirectionExpense
}

func (k DocumentKind) Valid() bool {
	return k == DocumentSale || k == DocumentPurchase || k == DocumentExpense
}

const (
	DocumentStatusPaid      = "paid"
	DocumentStatusPartial   = "partial"
	DocumentStatusPending   = "pending"
	DocumentStatusCancelled = "cancelled"
)

type PaymentType string

const (
	PaymentCash   PaymentType = "cash"
	PaymentBank   PaymentType = "bank"
	PaymentCard   PaymentType = "card"
	PaymentCredit PaymentType = "credit"
)

// Settles reports whether the payment moves money through the ledger.
func (p PaymentType) Settles() bool {
	return p == PaymentCash || p == PaymentBank || p == PaymentCard
}

type Payment struct {
	Type    PaymentType     `json:"type"`
	Amount  decimal.Decimal `json:"amount"`
	Account *Account        `json:"account,omitempty"`
	At      time.Time       `json:"at"`
}

// Document is a sale, purchase or expense whose payments settle against the ledger.
type Document struct {
	ID               string          `json:"id"`
	Kind             DocumentKind    `json:"kind"`
	Date             calendar.Date   `json:"date"`
	Reference        string          `json:"reference"`
	Counterparty     string          `json:"counterparty"`
	Description      string          `json:"description"`
	Total            decimal.Decimal `json:"total"`
	Paid             decimal.Decimal `json:"paid"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	Status           string          `json:"status"`
	Payments         []Payment       `json:"payments"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
}

// SettledPayments returns only the cash, bank and card legs.
func (d Document) SettledPayments() []Payment {
	out := make([]Payment, 0, len(d.Payments))
	for _, p := range d.Payments {
		if p.Type.Settles() {
			out = append(out, p)
		}
	}
	return out
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username    string
	DisplayName string
	Password    string
	Role        string
	Active      bool
	CreatedAt   time.Time
}

type User struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}
