package domain

import (
	"errors"
	"fmt"
	"strings"
)

type AccountKind string

const (
	AccountCash AccountKind = "cash"
	AccountBank AccountKind = "bank"
	AccountCard AccountKind = "card"
)

var ErrInvalidAccount = errors.New("invalid account reference")

// Account identifies one balance: the cash drawer, a bank account or a card.
// ID is empty for cash and names a bank account or card otherwise.
type Account struct {
	Kind AccountKind `json:"kind"`
	ID   string      `json:"id,omitempty"`
}

func Cash() Account { return Account{Kind: AccountCash} }

func Bank(id string) Account { return Account{Kind: AccountBank, ID: id} }

func CardAccount(id string) Account { return Account{Kind: AccountCard, ID: id} }

func ParseAccount(kind string, id string) (Account, error) {
	acc := Account{Kind: AccountKind(strings.ToLower(strings.TrimSpace(kind))), ID: strings.TrimSpace(id)}
	if err := acc.Validate(); err != nil {
		return Account{}, err
	}
	return acc, nil
}

func (a Account) Validate() error {
	switch a.Kind {
	case AccountCash:
		if a.ID != "" {
			return fmt.Errorf("%w: cash takes no id", ErrInvalidAccount)
		}
	case AccountBank, AccountCard:
		if a.ID == "" {
			return fmt.Errorf("%w: %s requires an id", ErrInvalidAccount, a.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAccount, a.Kind)
	}
	return nil
}

// Key is the stable lock and map key, e.g. "cash" or "bank:bca-01".
func (a Account) Key() string {
	if a.Kind == AccountCash {
		return string(AccountCash)
	}
	return string(a.Kind) + ":" + a.ID
}

func (a Account) String() string {
	if a.Kind == AccountCash {
		return "cash"
	}
	return fmt.Sprintf("%s %s", a.Kind, a.ID)
}
