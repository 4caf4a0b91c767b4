package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
)

var (
	// ErrInsufficientBalance is a business-rule violation and is never retried.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSnapshotAlreadyExists guards manual opening snapshot creation.
	ErrSnapshotAlreadyExists = errors.New("snapshot already exists")

	// ErrAccountNotFound is returned for an unknown bank account or card id.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDayClosed rejects a mutation dated on a day whose closing is frozen.
	ErrDayClosed = errors.New("day is closed")

	ErrInvalidMutation = errors.New("invalid mutation")

	// ErrTransient marks lock timeouts, deadlocks and connectivity failures.
	// The whole unit may be retried by the caller.
	ErrTransient = store.ErrTransient
)

// InsufficientBalanceError carries the amounts shown to the user.
type InsufficientBalanceError struct {
	Account   domain.Account
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: available %s, requested %s",
		e.Account, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// IsRetryable reports whether the failed unit may be run again as a whole.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
