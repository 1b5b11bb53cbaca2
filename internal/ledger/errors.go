package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when the user directory has no entry for
	// the referenced user.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidPoints is returned when a mutation is requested with a
	// non-positive point amount.
	ErrInvalidPoints = errors.New("points must be positive")
)

// InsufficientBalanceError is returned when a redeem exceeds the user's
// current balance. The ledger is left unchanged.
type InsufficientBalanceError struct {
	Current   int
	Requested int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d, requested %d", e.Current, e.Requested)
}
