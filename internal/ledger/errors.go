package ledger

import (
	"errors"
	"fmt"
)

// Domain errors returned by ledger operations. The handler layer maps
// these to stable API error codes.
var (
	ErrInvalidRequest       = errors.New("invalid order request")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrBalanceNotFound      = errors.New("no balance in currency")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrNotCancellable       = errors.New("order not cancellable")
	ErrOrderNotFound        = errors.New("order not found")
	ErrUserNotFound         = errors.New("user not found")
)

// errDeferSettlement aborts a fill transaction without failing the order;
// the fill engine translates it into a deferral.
var errDeferSettlement = errors.New("settlement deferred")

// wrapf attaches detail to a sentinel while keeping errors.Is working.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)
}
