package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlaceOrderRequest is the inbound shape for order placement.
type PlaceOrderRequest struct {
	Symbol    string           `json:"symbol" binding:"required"`
	Name      string           `json:"name"`
	Market    string           `json:"market" binding:"required"`
	Side      string           `json:"side" binding:"required"`
	OrderType string           `json:"order_type" binding:"required"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Quantity  int64            `json:"quantity" binding:"required"`
}

// PositionView is a position enriched with the latest quote for display.
type PositionView struct {
	Position
	LastPrice   *decimal.Decimal `json:"last_price,omitempty"`
	MarketValue *decimal.Decimal `json:"market_value,omitempty"`
}

// BalanceView reports one currency's cash split.
type BalanceView struct {
	InitialCapital decimal.Decimal `json:"initial_capital"`
	CurrentCash    decimal.Decimal `json:"current_cash"`
	FrozenCash     decimal.Decimal `json:"frozen_cash"`
}

// Overview aggregates balances and position values per currency and into
// a single USD figure. The conversion is display-only.
type Overview struct {
	Balances        map[string]BalanceView     `json:"balances_by_currency"`
	PositionsValue  map[string]decimal.Decimal `json:"positions_value_by_currency"`
	Equity          map[string]decimal.Decimal `json:"equity_by_currency"`
	TotalAssetsUSD  decimal.Decimal            `json:"total_assets_usd"`
	PositionsUSD    decimal.Decimal            `json:"positions_value_usd"`
	MarketDataState string                     `json:"market_data_status"`
}

// Snapshot is the full per-user ledger projection pushed to clients.
type Snapshot struct {
	Overview  Overview       `json:"overview"`
	Positions []PositionView `json:"positions"`
	Orders    []Order        `json:"orders"`
	Trades    []Trade        `json:"trades"`
}

// AssetTrendPoint is one day's recorded equity for the trend chart.
type AssetTrendPoint struct {
	Date           time.Time       `json:"date"`
	TotalAssetsUSD decimal.Decimal `json:"total_assets_usd"`
}
