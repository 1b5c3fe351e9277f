package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/papertrade/papertrade-api/internal/types"
	"github.com/papertrade/papertrade-api/internal/valuation"
)

// Snapshot assembles the user's full ledger projection: balances,
// positions priced at the latest quotes, orders, recent trades, and the
// valuation overview. It is a read-only view and takes no user lock.
func (s *Service) Snapshot(ctx context.Context, userID uint) (*types.Snapshot, error) {
	if _, err := s.db.GetUser(userID); err != nil {
		return nil, err
	}

	balances, err := s.db.ListBalances(userID)
	if err != nil {
		return nil, err
	}
	positions, err := s.db.ListPositions(userID)
	if err != nil {
		return nil, err
	}
	orders, err := s.db.ListOrders(userID)
	if err != nil {
		return nil, err
	}
	trades, err := s.db.ListTrades(userID, tradeHistoryLimit)
	if err != nil {
		return nil, err
	}
	cfgs, err := s.markets.List()
	if err != nil {
		return nil, err
	}

	views := make([]types.PositionView, 0, len(positions))
	pricingFailed := false
	for _, pos := range positions {
		view := types.PositionView{Position: pos}
		quote, err := s.latestQuote(ctx, pos.Symbol, pos.Market)
		if err != nil {
			pricingFailed = true
		} else {
			price := quote.Price
			value := price.Mul(decimal.NewFromInt(pos.Quantity))
			view.LastPrice = &price
			view.MarketValue = &value
		}
		views = append(views, view)
	}

	return &types.Snapshot{
		Overview:  valuation.BuildOverview(cfgs, balances, views, pricingFailed),
		Positions: views,
		Orders:    orders,
		Trades:    trades,
	}, nil
}
