// Package valuation aggregates balances and positions into per-currency
// equity and a converted USD total. Conversion is display-only; it never
// feeds back into settlement.
package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/papertrade/papertrade-api/internal/types"
)

// MarketDataOK and MarketDataError report whether every position priced
// cleanly while assembling an overview.
const (
	MarketDataOK    = "ok"
	MarketDataError = "error"
)

// BuildOverview computes per-currency position values and equity plus the
// USD rollup. Positions missing a live quote are valued at cost; if any
// quote failed, the overview's market data state says so.
func BuildOverview(cfgs []types.MarketConfig, balances []types.CurrencyBalance, positions []types.PositionView, pricingFailed bool) types.Overview {
	currencyByMarket := make(map[string]string, len(cfgs))
	rateByCurrency := make(map[string]decimal.Decimal, len(cfgs))
	for _, cfg := range cfgs {
		currencyByMarket[cfg.Market] = cfg.Currency
		rateByCurrency[cfg.Currency] = cfg.ExchangeRate
	}

	overview := types.Overview{
		Balances:        make(map[string]types.BalanceView, len(balances)),
		PositionsValue:  make(map[string]decimal.Decimal, len(balances)),
		Equity:          make(map[string]decimal.Decimal, len(balances)),
		MarketDataState: MarketDataOK,
	}
	if pricingFailed {
		overview.MarketDataState = MarketDataError
	}

	for _, bal := range balances {
		overview.Balances[bal.Currency] = types.BalanceView{
			InitialCapital: bal.InitialCapital,
			CurrentCash:    bal.CurrentCash,
			FrozenCash:     bal.FrozenCash,
		}
		overview.PositionsValue[bal.Currency] = decimal.Zero
	}

	for _, pos := range positions {
		currency, ok := currencyByMarket[pos.Market]
		if !ok {
			continue
		}
		value := PositionValue(pos)
		overview.PositionsValue[currency] = overview.PositionsValue[currency].Add(value)
	}

	totalUSD := decimal.Zero
	positionsUSD := decimal.Zero
	for _, bal := range balances {
		equity := bal.CurrentCash.Add(bal.FrozenCash).Add(overview.PositionsValue[bal.Currency])
		overview.Equity[bal.Currency] = equity

		rate, ok := rateByCurrency[bal.Currency]
		if !ok || rate.IsZero() {
			continue
		}
		totalUSD = totalUSD.Add(equity.Mul(rate))
		positionsUSD = positionsUSD.Add(overview.PositionsValue[bal.Currency].Mul(rate))
	}
	overview.TotalAssetsUSD = totalUSD
	overview.PositionsUSD = positionsUSD

	return overview
}

// PositionValue prices one position at its last quote, falling back to
// average cost when no quote is attached.
func PositionValue(pos types.PositionView) decimal.Decimal {
	qty := decimal.NewFromInt(pos.Quantity)
	if pos.LastPrice != nil {
		return pos.LastPrice.Mul(qty)
	}
	return pos.AvgCost.Mul(qty)
}
