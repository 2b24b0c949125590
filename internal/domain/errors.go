package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrPricingUnavailable    = errors.New("pricing unavailable")
	ErrInsufficientInventory = errors.New("insufficient open inventory")
	ErrBudgetExceeded        = errors.New("time budget exceeded")
	ErrLookupFailure         = errors.New("external lookup failed")
	ErrLockHeld              = errors.New("lock already held")
)

// DecodeError marks a receipt whose log structure matched no known router
// dialect. The affected trade is still recorded (side defaulted to route,
// value unresolved), never dropped.
type DecodeError struct {
	TxHash string
	Router string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s (router %s): %s", e.TxHash, e.Router, e.Reason)
}
