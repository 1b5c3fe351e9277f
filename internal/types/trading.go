package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Markets supported by the engine.
const (
	MarketUS = "US"
	MarketHK = "HK"
	MarketCN = "CN"
)

// Currencies settled natively per market.
const (
	CurrencyUSD = "USD"
	CurrencyHKD = "HKD"
	CurrencyCNY = "CNY"
)

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order types.
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Order statuses. PENDING is the only non-terminal state.
const (
	StatusPending   = "PENDING"
	StatusFilled    = "FILLED"
	StatusCancelled = "CANCELLED"
)

type User struct {
	gorm.Model `json:"-"`
	Username   string    `gorm:"uniqueIndex" json:"username"`
	CreatedAt  time.Time `json:"created_at"`
}

// CurrencyBalance holds one user's cash in a single currency. Cash only
// moves through the ledger's escrow, fill, and cancel operations.
type CurrencyBalance struct {
	gorm.Model     `json:"-"`
	UserID         uint            `gorm:"index;uniqueIndex:idx_user_currency" json:"user_id"`
	Currency       string          `gorm:"uniqueIndex:idx_user_currency" json:"currency"`
	InitialCapital decimal.Decimal `gorm:"type:decimal(18,2)" json:"initial_capital"`
	CurrentCash    decimal.Decimal `gorm:"type:decimal(18,2)" json:"current_cash"`
	FrozenCash     decimal.Decimal `gorm:"type:decimal(18,2)" json:"frozen_cash"`
}

// Position is one user's holding in (symbol, market). Rows with zero
// quantity are deleted rather than kept around.
type Position struct {
	gorm.Model        `json:"-"`
	UserID            uint            `gorm:"index;uniqueIndex:idx_user_symbol_market" json:"user_id"`
	Symbol            string          `gorm:"uniqueIndex:idx_user_symbol_market" json:"symbol"`
	Name              string          `json:"name"`
	Market            string          `gorm:"uniqueIndex:idx_user_symbol_market" json:"market"`
	Quantity          int64           `json:"quantity"`
	AvailableQuantity int64           `json:"available_quantity"`
	AvgCost           decimal.Decimal `gorm:"type:decimal(18,6)" json:"avg_cost"`
}

type Order struct {
	gorm.Model `json:"-"`
	OrderID    string           `gorm:"uniqueIndex" json:"order_id"`
	UserID     uint             `gorm:"index" json:"user_id"`
	Symbol     string           `json:"symbol"`
	Name       string           `json:"name"`
	Market     string           `json:"market"`
	Side       string           `json:"side"`       // BUY or SELL
	OrderType  string           `json:"order_type"` // MARKET or LIMIT
	LimitPrice *decimal.Decimal `gorm:"type:decimal(18,6)" json:"limit_price,omitempty"`
	Quantity   int64            `json:"quantity"`
	// FrozenAmount is the exact cash escrowed at placement for BUY orders.
	// Fill settlement and cancellation release this figure, never a
	// recomputation, so escrow stays symmetric to the smallest unit.
	FrozenAmount   decimal.Decimal `gorm:"type:decimal(18,6)" json:"frozen_amount"`
	FilledQuantity int64           `json:"filled_quantity"`
	Status         string          `json:"status"` // PENDING, FILLED, CANCELLED
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Trade is the immutable record of a fill, created exactly once per fill.
type Trade struct {
	gorm.Model `json:"-"`
	TradeID    string          `gorm:"uniqueIndex" json:"trade_id"`
	OrderID    string          `gorm:"index" json:"order_id"`
	UserID     uint            `gorm:"index" json:"user_id"`
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name"`
	Market     string          `json:"market"`
	Side       string          `json:"side"`
	Price      decimal.Decimal `gorm:"type:decimal(18,6)" json:"price"`
	Quantity   int64           `json:"quantity"`
	Commission decimal.Decimal `gorm:"type:decimal(18,6)" json:"commission"`
	Currency   string          `json:"currency"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// MarketConfig carries the static trading parameters for one market.
// ExchangeRate converts the market's native currency to USD and is used
// for display aggregation only, never for settlement.
type MarketConfig struct {
	gorm.Model       `json:"-"`
	Market           string          `gorm:"uniqueIndex" json:"market"`
	Currency         string          `json:"currency"`
	LotSize          int64           `json:"lot_size"`
	MinOrderQuantity int64           `json:"min_order_quantity"`
	CommissionRate   decimal.Decimal `gorm:"type:decimal(8,6)" json:"commission_rate"`
	MinCommission    decimal.Decimal `gorm:"type:decimal(10,2)" json:"min_commission"`
	ExchangeRate     decimal.Decimal `gorm:"type:decimal(10,6)" json:"exchange_rate"`
}
