// Package ledger implements the order execution and portfolio settlement
// engine: placement with cash escrow and share reservation, the fill
// engine, cancellation, and snapshot assembly. All mutating operations on
// one user are serialized behind a per-user lock because the invariants
// span cash, frozen cash, positions, and orders at once.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/papertrade/papertrade-api/internal/market"
	"github.com/papertrade/papertrade-api/internal/pricing"
	"github.com/papertrade/papertrade-api/internal/types"
)

const (
	// StalenessLimit is the maximum quote age still eligible to trigger
	// a fill.
	StalenessLimit = 30 * time.Second

	// quoteTimeout bounds every pricing gateway call so no operation
	// holds the user lock indefinitely.
	quoteTimeout = 5 * time.Second

	// tradeHistoryLimit caps the trades returned in a snapshot.
	tradeHistoryLimit = 200
)

// Events receives ledger state-change notifications. Implementations must
// not call back into mutating ledger operations.
type Events interface {
	OrderPlaced(userID uint, order *types.Order)
	OrderFilled(userID uint, order *types.Order, trade *types.Trade)
	OrderCancelled(userID uint, order *types.Order)
}

// NoopEvents discards all notifications.
type NoopEvents struct{}

func (NoopEvents) OrderPlaced(uint, *types.Order)                {}
func (NoopEvents) OrderFilled(uint, *types.Order, *types.Trade) {}
func (NoopEvents) OrderCancelled(uint, *types.Order)            {}

// Service owns the per-user ledger aggregates.
type Service struct {
	db      *Database
	markets *market.Store
	pricing pricing.Provider
	events  Events

	mu    sync.Mutex
	locks map[uint]*sync.Mutex

	// now is swappable in tests to control staleness checks.
	now func() time.Time
}

// NewService creates a ledger service. events may be nil.
func NewService(gormDB *gorm.DB, markets *market.Store, provider pricing.Provider, events Events) *Service {
	if events == nil {
		events = NoopEvents{}
	}
	return &Service{
		db:      NewDatabase(gormDB),
		markets: markets,
		pricing: provider,
		events:  events,
		locks:   make(map[uint]*sync.Mutex),
		now:     time.Now,
	}
}

// DB exposes the ledger database for collaborators that need read access
// or user bootstrap (auth).
func (s *Service) DB() *Database {
	return s.db
}

// SetEvents installs the event sink. The push hub needs the service to
// pull snapshots, so it is wired after construction.
func (s *Service) SetEvents(events Events) {
	if events == nil {
		events = NoopEvents{}
	}
	s.events = events
}

// userLock returns the mutex serializing all mutations for one user.
func (s *Service) userLock(userID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// latestQuote fetches the current quote under a bounded timeout.
func (s *Service) latestQuote(ctx context.Context, symbol, marketCode string) (pricing.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, quoteTimeout)
	defer cancel()
	return s.pricing.LatestPrice(ctx, symbol, marketCode)
}

// PlaceOrder validates the request, escrows funds (BUY) or reserves
// shares (SELL), and creates a PENDING order. A single immediate fill
// attempt follows under the same lock; the returned flag reports whether
// it filled.
func (s *Service) PlaceOrder(ctx context.Context, userID uint, req types.PlaceOrderRequest) (*types.Order, bool, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	logger := log.With().
		Uint("user_id", userID).
		Str("symbol", req.Symbol).
		Str("market", req.Market).
		Str("side", req.Side).
		Str("order_type", req.OrderType).
		Int64("quantity", req.Quantity).
		Logger()

	if err := validateRequest(req); err != nil {
		return nil, false, err
	}

	cfg, err := s.markets.Get(req.Market)
	if err != nil {
		return nil, false, err
	}

	if err := market.ValidateQuantity(cfg, req.Quantity); err != nil {
		return nil, false, wrapf(ErrInvalidQuantity, "%v", err)
	}

	quote, err := s.latestQuote(ctx, req.Symbol, req.Market)
	if err != nil {
		logger.Warn().Err(err).Msg("quote fetch failed at placement")
		return nil, false, wrapf(ErrPriceUnavailable, "%v", err)
	}

	refPrice := referencePrice(req.Side, req.OrderType, req.Price, quote.Price)
	qty := decimal.NewFromInt(req.Quantity)

	order := &types.Order{
		OrderID:      uuid.New().String(),
		UserID:       userID,
		Symbol:       req.Symbol,
		Name:         orderName(req),
		Market:       req.Market,
		Side:         req.Side,
		OrderType:    req.OrderType,
		LimitPrice:   req.Price,
		Quantity:     req.Quantity,
		FrozenAmount: decimal.Zero,
		Status:       types.StatusPending,
		CreatedAt:    s.now(),
		UpdatedAt:    s.now(),
	}

	err = s.db.Transaction(func(tx *Database) error {
		switch req.Side {
		case types.SideBuy:
			notional := refPrice.Mul(qty)
			needed := notional.Add(market.Commission(cfg, notional))

			bal, err := tx.GetBalance(userID, cfg.Currency)
			if err != nil {
				return err
			}
			if err := freeze(bal, needed); err != nil {
				return err
			}
			order.FrozenAmount = needed
			if err := tx.SaveBalance(bal); err != nil {
				return err
			}

		case types.SideSell:
			pos, err := tx.GetPosition(userID, req.Symbol, req.Market)
			if err != nil {
				return err
			}
			if pos == nil || pos.AvailableQuantity < req.Quantity {
				return wrapf(ErrInsufficientPosition, "need %d, have %d",
					req.Quantity, availableQty(pos))
			}
			// Reserve the shares so a second SELL cannot promise the
			// same lot while this order is pending.
			pos.AvailableQuantity -= req.Quantity
			if err := tx.SavePosition(pos); err != nil {
				return err
			}
		}

		return tx.CreateOrder(order)
	})
	if err != nil {
		return nil, false, err
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Str("frozen_amount", order.FrozenAmount.String()).
		Msg("order placed")
	s.events.OrderPlaced(userID, order)

	// One immediate fill attempt; a deferral here leaves the order
	// PENDING for the monitor's next sweep.
	filled, err := s.fill(ctx, order)
	if err != nil {
		logger.Error().Err(err).Str("order_id", order.OrderID).Msg("immediate fill attempt failed")
	}
	return order, filled, nil
}

// CancelOrder terminates a PENDING order and reverses its escrow.
func (s *Service) CancelOrder(ctx context.Context, userID uint, orderID string) (*types.Order, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	order, err := s.db.GetOrderForUser(orderID, userID)
	if err != nil {
		return nil, err
	}
	if order.Status != types.StatusPending {
		return nil, wrapf(ErrNotCancellable, "order %s is %s", orderID, order.Status)
	}

	err = s.db.Transaction(func(tx *Database) error {
		cfg, err := s.markets.Get(order.Market)
		if err != nil {
			return err
		}

		switch order.Side {
		case types.SideBuy:
			// Release exactly what placement froze.
			bal, err := tx.GetBalance(userID, cfg.Currency)
			if err != nil {
				return err
			}
			release(bal, order.FrozenAmount)
			if err := tx.SaveBalance(bal); err != nil {
				return err
			}

		case types.SideSell:
			pos, err := tx.GetPosition(userID, order.Symbol, order.Market)
			if err != nil {
				return err
			}
			if pos != nil {
				pos.AvailableQuantity += order.Quantity
				if err := tx.SavePosition(pos); err != nil {
					return err
				}
			}
		}

		order.Status = types.StatusCancelled
		order.UpdatedAt = s.now()
		return tx.UpdateOrder(order)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Uint("user_id", userID).
		Str("order_id", order.OrderID).
		Msg("order cancelled")
	s.events.OrderCancelled(userID, order)
	return order, nil
}

// GetOrder returns one of the user's orders.
func (s *Service) GetOrder(userID uint, orderID string) (*types.Order, error) {
	return s.db.GetOrderForUser(orderID, userID)
}

// Trades returns the user's most recent trades.
func (s *Service) Trades(userID uint) ([]types.Trade, error) {
	return s.db.ListTrades(userID, tradeHistoryLimit)
}

func validateRequest(req types.PlaceOrderRequest) error {
	if req.Symbol == "" {
		return wrapf(ErrInvalidRequest, "symbol is required")
	}
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return wrapf(ErrInvalidRequest, "side must be BUY or SELL")
	}
	if req.OrderType != types.OrderTypeMarket && req.OrderType != types.OrderTypeLimit {
		return wrapf(ErrInvalidRequest, "order_type must be MARKET or LIMIT")
	}
	if req.Quantity <= 0 {
		return wrapf(ErrInvalidRequest, "quantity must be positive")
	}
	if req.OrderType == types.OrderTypeLimit {
		if req.Price == nil || !req.Price.IsPositive() {
			return wrapf(ErrInvalidRequest, "limit orders require a positive price")
		}
	}
	return nil
}

// referencePrice picks the price used for escrow estimation. BUY limit
// orders reserve at the limit so cash is never under-reserved; SELL
// limit orders use the lower of limit and market.
func referencePrice(side, orderType string, limit *decimal.Decimal, marketPrice decimal.Decimal) decimal.Decimal {
	if orderType != types.OrderTypeLimit || limit == nil {
		return marketPrice
	}
	if side == types.SideBuy {
		return *limit
	}
	if limit.LessThan(marketPrice) {
		return *limit
	}
	return marketPrice
}

func orderName(req types.PlaceOrderRequest) string {
	if req.Name != "" {
		return req.Name
	}
	return req.Symbol
}

func availableQty(pos *types.Position) int64 {
	if pos == nil {
		return 0
	}
	return pos.AvailableQuantity
}
