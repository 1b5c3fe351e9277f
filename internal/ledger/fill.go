package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/papertrade/papertrade-api/internal/market"
	"github.com/papertrade/papertrade-api/internal/types"
)

// TryFill attempts to fill one PENDING order against the current quote.
// It acquires the owning user's lock; callers already holding it must use
// fill. The bool reports whether the order filled; a deferral (stale or
// missing quote, price not eligible) is not an error.
func (s *Service) TryFill(ctx context.Context, order *types.Order) (bool, error) {
	lock := s.userLock(order.UserID)
	lock.Lock()
	defer lock.Unlock()

	// Reload under the lock: a concurrent cancel may have won.
	current, err := s.db.GetOrder(order.OrderID)
	if err != nil {
		return false, err
	}
	return s.fill(ctx, current)
}

// fill runs the fill state machine for one order. The caller must hold
// the user's lock.
func (s *Service) fill(ctx context.Context, order *types.Order) (bool, error) {
	logger := log.With().
		Uint("user_id", order.UserID).
		Str("order_id", order.OrderID).
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Logger()

	if order.Status != types.StatusPending {
		// Filling a terminal order would corrupt the ledger; log and
		// refuse rather than mutate.
		logger.Warn().Str("status", order.Status).Msg("fill attempted on non-pending order")
		return false, nil
	}

	quote, err := s.latestQuote(ctx, order.Symbol, order.Market)
	if err != nil {
		// Transient pricing failure: the order keeps its place in line.
		logger.Debug().Err(err).Msg("quote unavailable, fill deferred")
		return false, nil
	}
	if age := s.now().Sub(quote.AsOf); age > StalenessLimit {
		logger.Debug().Dur("quote_age", age).Msg("quote stale, fill deferred")
		return false, nil
	}

	if !eligible(order, quote.Price) {
		return false, nil
	}

	cfg, err := s.markets.Get(order.Market)
	if err != nil {
		return false, err
	}

	fillPrice := quote.Price
	qty := decimal.NewFromInt(order.Quantity)
	notional := fillPrice.Mul(qty)
	commission := market.Commission(cfg, notional)

	var trade *types.Trade
	err = s.db.Transaction(func(tx *Database) error {
		switch order.Side {
		case types.SideBuy:
			if err := s.settleBuy(tx, order, cfg, fillPrice, notional, commission); err != nil {
				return err
			}
		case types.SideSell:
			if err := s.settleSell(tx, order, cfg, notional, commission); err != nil {
				return err
			}
		}

		trade = &types.Trade{
			TradeID:    uuid.New().String(),
			OrderID:    order.OrderID,
			UserID:     order.UserID,
			Symbol:     order.Symbol,
			Name:       order.Name,
			Market:     order.Market,
			Side:       order.Side,
			Price:      fillPrice,
			Quantity:   order.Quantity,
			Commission: commission,
			Currency:   cfg.Currency,
			ExecutedAt: s.now(),
		}
		if err := tx.CreateTrade(trade); err != nil {
			return err
		}

		order.Status = types.StatusFilled
		order.FilledQuantity = order.Quantity
		order.UpdatedAt = s.now()
		return tx.UpdateOrder(order)
	})
	if err != nil {
		if errors.Is(err, errDeferSettlement) {
			logger.Debug().Err(err).Msg("settlement deferred")
			return false, nil
		}
		return false, err
	}

	logger.Info().
		Str("trade_id", trade.TradeID).
		Str("fill_price", fillPrice.String()).
		Str("commission", commission.String()).
		Msg("order filled")
	s.events.OrderFilled(order.UserID, order, trade)
	return true, nil
}

// settleBuy releases the exact amount escrowed at placement, debits the
// fill cost, and folds the fill into the position's cost basis.
func (s *Service) settleBuy(tx *Database, order *types.Order, cfg *types.MarketConfig, fillPrice, notional, commission decimal.Decimal) error {
	bal, err := tx.GetBalance(order.UserID, cfg.Currency)
	if err != nil {
		return err
	}

	cost := notional.Add(commission)
	// A MARKET order can fill above the price it was reserved at. Defer
	// rather than let cash go negative; the monitor retries on the next
	// quote.
	if bal.CurrentCash.Add(order.FrozenAmount).LessThan(cost) {
		return errDeferSettlement
	}

	release(bal, order.FrozenAmount)
	bal.CurrentCash = bal.CurrentCash.Sub(cost)
	if err := tx.SaveBalance(bal); err != nil {
		return err
	}

	pos, err := tx.GetPosition(order.UserID, order.Symbol, order.Market)
	if err != nil {
		return err
	}
	if pos == nil {
		pos = &types.Position{
			UserID:  order.UserID,
			Symbol:  order.Symbol,
			Name:    order.Name,
			Market:  order.Market,
			AvgCost: fillPrice,
		}
	} else {
		oldQty := decimal.NewFromInt(pos.Quantity)
		newQty := decimal.NewFromInt(pos.Quantity + order.Quantity)
		// Weighted-average cost uses the fill notional, not the limit.
		pos.AvgCost = pos.AvgCost.Mul(oldQty).Add(notional).Div(newQty)
	}
	pos.Quantity += order.Quantity
	pos.AvailableQuantity += order.Quantity
	return tx.SavePosition(pos)
}

// settleSell credits the sale proceeds net of commission and decrements
// the position, deleting it when quantity reaches zero.
func (s *Service) settleSell(tx *Database, order *types.Order, cfg *types.MarketConfig, notional, commission decimal.Decimal) error {
	pos, err := tx.GetPosition(order.UserID, order.Symbol, order.Market)
	if err != nil {
		return err
	}
	if pos == nil || pos.Quantity < order.Quantity {
		// Shares were reserved at placement, so this indicates a bug;
		// refuse to settle rather than go short.
		return wrapf(ErrInsufficientPosition, "position gone for order %s", order.OrderID)
	}

	bal, err := tx.GetBalance(order.UserID, cfg.Currency)
	if err != nil {
		return err
	}
	bal.CurrentCash = bal.CurrentCash.Add(notional.Sub(commission))
	if err := tx.SaveBalance(bal); err != nil {
		return err
	}

	pos.Quantity -= order.Quantity
	if pos.Quantity == 0 {
		return tx.DeletePosition(pos)
	}
	// AvgCost is unchanged on SELL; realized P&L is derivable from the
	// trade log.
	return tx.SavePosition(pos)
}

// eligible applies the price conditions of the fill state machine.
func eligible(order *types.Order, price decimal.Decimal) bool {
	if order.OrderType == types.OrderTypeMarket || order.LimitPrice == nil {
		return true
	}
	if order.Side == types.SideBuy {
		return order.LimitPrice.GreaterThanOrEqual(price)
	}
	return order.LimitPrice.LessThanOrEqual(price)
}

// SweepPending runs one fill pass over every PENDING order. Each order is
// processed under its owner's lock; deferrals are left for the next
// sweep. Returns the number of orders filled.
func (s *Service) SweepPending(ctx context.Context) (int, error) {
	orders, err := s.db.ListPendingOrders()
	if err != nil {
		return 0, err
	}

	filled := 0
	for i := range orders {
		if err := ctx.Err(); err != nil {
			return filled, err
		}
		ok, err := s.TryFill(ctx, &orders[i])
		if err != nil {
			log.Error().Err(err).Str("order_id", orders[i].OrderID).Msg("fill sweep error")
			continue
		}
		if ok {
			filled++
		}
	}
	return filled, nil
}
