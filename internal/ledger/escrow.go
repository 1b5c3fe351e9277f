package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/papertrade/papertrade-api/internal/types"
)

// freeze moves amount from available to frozen cash. It is the only way
// cash enters escrow; placement is its sole caller.
func freeze(bal *types.CurrencyBalance, amount decimal.Decimal) error {
	if bal.CurrentCash.LessThan(amount) {
		return fmt.Errorf("%w: need %s %s, have %s",
			ErrInsufficientFunds, amount, bal.Currency, bal.CurrentCash)
	}
	bal.CurrentCash = bal.CurrentCash.Sub(amount)
	bal.FrozenCash = bal.FrozenCash.Add(amount)
	return nil
}

// release returns escrowed cash to the available balance. The credited
// amount always equals the requested amount so escrow stays symmetric
// with freeze; frozen cash is clamped at zero so rounding drift can
// never drive it negative.
func release(bal *types.CurrencyBalance, amount decimal.Decimal) {
	bal.FrozenCash = bal.FrozenCash.Sub(amount)
	if bal.FrozenCash.IsNegative() {
		bal.FrozenCash = decimal.Zero
	}
	bal.CurrentCash = bal.CurrentCash.Add(amount)
}
