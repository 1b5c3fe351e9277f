package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/papertrade/papertrade-api/internal/database/migrations"
	"github.com/papertrade/papertrade-api/internal/market"
	"github.com/papertrade/papertrade-api/internal/pricing"
	"github.com/papertrade/papertrade-api/internal/types"
)

// testEnv wires a ledger service against an in-memory database with the
// standard market configurations and a controllable price table.
type testEnv struct {
	t        *testing.T
	svc      *Service
	provider *pricing.StaticProvider
	userID   uint
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithCapital(t, map[string]decimal.Decimal{
		types.CurrencyUSD: decimal.NewFromInt(100_000),
		types.CurrencyHKD: decimal.NewFromInt(780_000),
		types.CurrencyCNY: decimal.NewFromInt(720_000),
	})
}

func newTestEnvWithCapital(t *testing.T, capital map[string]decimal.Decimal) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap database: %v", err)
	}
	// A second connection would see an empty :memory: database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&types.User{}, &types.CurrencyBalance{}, &types.Position{},
		&types.Order{}, &types.Trade{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := migrations.SeedMarketConfigs(db); err != nil {
		t.Fatalf("seed market configs: %v", err)
	}

	provider := pricing.NewStaticProvider(pricing.DefaultDemoPrices())
	svc := NewService(db, market.NewStore(db), provider, nil)

	user, err := svc.DB().GetOrCreateUser("tester", capital)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	return &testEnv{t: t, svc: svc, provider: provider, userID: user.ID}
}

func (e *testEnv) balance(currency string) *types.CurrencyBalance {
	e.t.Helper()
	bal, err := e.svc.DB().GetBalance(e.userID, currency)
	if err != nil {
		e.t.Fatalf("get balance %s: %v", currency, err)
	}
	return bal
}

func (e *testEnv) position(symbol, marketCode string) *types.Position {
	e.t.Helper()
	pos, err := e.svc.DB().GetPosition(e.userID, symbol, marketCode)
	if err != nil {
		e.t.Fatalf("get position %s.%s: %v", symbol, marketCode, err)
	}
	return pos
}

// seedPosition inserts a fully-available holding directly.
func (e *testEnv) seedPosition(symbol, marketCode string, qty int64, avgCost decimal.Decimal) {
	e.t.Helper()
	err := e.svc.DB().SavePosition(&types.Position{
		UserID:            e.userID,
		Symbol:            symbol,
		Name:              symbol,
		Market:            marketCode,
		Quantity:          qty,
		AvailableQuantity: qty,
		AvgCost:           avgCost,
	})
	if err != nil {
		e.t.Fatalf("seed position: %v", err)
	}
}

func (e *testEnv) place(req types.PlaceOrderRequest) (*types.Order, bool, error) {
	return e.svc.PlaceOrder(context.Background(), e.userID, req)
}

func mustEqual(t *testing.T, got, want decimal.Decimal, what string) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("%s = %s, want %s", what, got, want)
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func TestPlaceOrderValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		req     types.PlaceOrderRequest
		wantErr error
	}{
		{
			name:    "missing symbol",
			req:     types.PlaceOrderRequest{Market: "US", Side: "BUY", OrderType: "MARKET", Quantity: 1},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "bad side",
			req:     types.PlaceOrderRequest{Symbol: "AAPL", Market: "US", Side: "HOLD", OrderType: "MARKET", Quantity: 1},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "bad order type",
			req:     types.PlaceOrderRequest{Symbol: "AAPL", Market: "US", Side: "BUY", OrderType: "STOP", Quantity: 1},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "zero quantity",
			req:     types.PlaceOrderRequest{Symbol: "AAPL", Market: "US", Side: "BUY", OrderType: "MARKET", Quantity: 0},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "limit without price",
			req:     types.PlaceOrderRequest{Symbol: "AAPL", Market: "US", Side: "BUY", OrderType: "LIMIT", Quantity: 1},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "negative limit price",
			req:     types.PlaceOrderRequest{Symbol: "AAPL", Market: "US", Side: "BUY", OrderType: "LIMIT", Price: ptr(dec("-1")), Quantity: 1},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unknown market",
			req:     types.PlaceOrderRequest{Symbol: "AAPL", Market: "JP", Side: "BUY", OrderType: "MARKET", Quantity: 1},
			wantErr: market.ErrUnknownMarket,
		},
		{
			name:    "lot size violation",
			req:     types.PlaceOrderRequest{Symbol: "0700", Market: "HK", Side: "BUY", OrderType: "MARKET", Quantity: 150},
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "no quote",
			req:     types.PlaceOrderRequest{Symbol: "NOPE", Market: "US", Side: "BUY", OrderType: "MARKET", Quantity: 1},
			wantErr: ErrPriceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.place(tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("PlaceOrder error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Rejected requests must not touch balances or create orders.
	bal := env.balance(types.CurrencyUSD)
	mustEqual(t, bal.CurrentCash, decimal.NewFromInt(100_000), "current cash")
	mustEqual(t, bal.FrozenCash, decimal.Zero, "frozen cash")

	orders, err := env.svc.DB().ListOrders(env.userID)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("got %d orders after rejected placements, want 0", len(orders))
	}
}

func TestPlaceBuyEscrowsCashAtLimit(t *testing.T) {
	env := newTestEnv(t)

	// Limit below the 190 market price: stays pending with cash escrowed
	// at the limit. 50 * 10 = 500 notional, commission floors at 1.
	order, filled, err := env.place(types.PlaceOrderRequest{
		Symbol: "AAPL", Market: "US", Side: "BUY", OrderType: "LIMIT",
		Price: ptr(dec("50")), Quantity: 10,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if filled {
		t.Fatal("order filled against a price above its limit")
	}
	if order.Status != types.StatusPending {
		t.Fatalf("status = %s, want PENDING", order.Status)
	}
	mustEqual(t, order.FrozenAmount, dec("501"), "frozen amount")

	bal := env.balance(types.CurrencyUSD)
	mustEqual(t, bal.CurrentCash, dec("99499"), "current cash")
	mustEqual(t, bal.FrozenCash, dec("501"), "frozen cash")
}

func TestPlaceBuyInsufficientFunds(t *testing.T) {
	env := newTestEnvWithCapital(t, map[string]decimal.Decimal{
		types.CurrencyUSD: decimal.NewFromInt(100),
	})

	_, _, err := env.place(types.PlaceOrderRequest{
		Symbol: "AAPL", Market: "US", Side: "BUY", OrderType: "MARKET", Quantity: 10,
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("PlaceOrder error = %v, want ErrInsufficientFunds", err)
	}

	bal := env.balance(types.CurrencyUSD)
	mustEqual(t, bal.CurrentCash, decimal.NewFromInt(100), "current cash")
	mustEqual(t, bal.FrozenCash, decimal.Zero, "frozen cash")
}

func TestPlaceBuyMissingCurrencyBalance(t *testing.T) {
	env := newTestEnvWithCapital(t, map[string]decimal.Decimal{
		types.CurrencyUSD: decimal.NewFromInt(100_000),
	})

	// The user holds no HKD account at all: that is a missing balance,
	// not a funds rejection.
	_, _, err := env.place(types.PlaceOrderRequest{
		Symbol: "0700", Market: "HK", Side: "BUY", OrderType: "MARKET", Quantity: 100,
	})
	if !errors.Is(err, ErrBalanceNotFound) {
		t.Fatalf("PlaceOrder error = %v, want ErrBalanceNotFound", err)
	}
	if errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("PlaceOrder error = %v, must not report insufficient funds", err)
	}

	if _, err := env.svc.DB().GetBalance(env.userID, types.CurrencyHKD); !errors.Is(err, ErrBalanceNotFound) {
		t.Fatalf("GetBalance error = %v, want ErrBalanceNotFound", err)
	}
}

func TestPlaceSellReservesShares(t *testing.T) {
	env := newTestEnv(t)
	env.seedPosition("AAPL", "US", 200, dec("150"))

	// Limit above the 190 market price: stays pending, shares reserved.
	order, filled, err := env.place(types.PlaceOrderRequest{
		Symbol: "AAPL", Market: "US", Side: "SELL", OrderType: "LIMIT",
		Price: ptr(dec("500")), Quantity: 100,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if filled {
		t.Fatal("order filled below its limit")
	}
	if order.Status != types.StatusPending {
		t.Fatalf("status = %s, want PENDING", order.Status)
	}

	pos := env.position("AAPL", "US")
	if pos.Quantity != 200 || pos.AvailableQuantity != 100 {
		t.Fatalf("position qty/available = %d/%d, want 200/100", pos.Quantity, pos.AvailableQuantity)
	}

	// The reserved shares cannot back a second order.
	_, _, err = env.place(types.PlaceOrderRequest{
		Symbol: "AAPL", Market: "US", Side: "SELL", OrderType: "MARKET", Quantity: 150,
	})
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("second SELL error = %v, want ErrInsufficientPosition", err)
	}
}

func TestPlaceSellWithoutPosition(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.place(types.PlaceOrderRequest{
		Symbol: "AAPL", Market: "US", Side: "SELL", OrderType: "MARKET", Quantity: 10,
	})
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("PlaceOrder error = %v, want ErrInsufficientPosition", err)
	}
}

func TestMarketBuyFillsImmediately(t *testing.T) {
	env := newTestEnv(t)

	// AAPL at 190: 10 shares = 1900 notional, commission floors at 1.
	order, filled, err := env.place(types.PlaceOrderRequest{
		Symbol: "AAPL", Market: "US", Side: "BUY", OrderType: "MARKET", Quantity: 10,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !filled {
		t.Fatal("market order did not fill against a fresh quote")
	}
	if order.Status != types.StatusFilled || order.FilledQuantity != 10 {
		t.Fatalf("order status/filled = %s/%d, want FILLED/10", order.Status, order.FilledQuantity)
	}

	bal := env.balance(types.CurrencyUSD)
	mustEqual(t, bal.CurrentCash, dec("98099"), "current cash")
	mustEqual(t, bal.FrozenCash, decimal.Zero, "frozen cash")

	pos := env.position("AAPL", "US")
	if pos == nil {
		t.Fatal("no position after filled buy")
	}
	if pos.Quantity != 10 || pos.AvailableQuantity != 10 {
		t.Fatalf("position qty/available = %d/%d, want 10/10", pos.Quantity, pos.AvailableQuantity)
	}
	mustEqual(t, pos.AvgCost, dec("190"), "avg cost")

	trades, err := env.svc.Trades(env.userID)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	mustEqual(t, trades[0].Price, dec("190"), "trade price")
	mustEqual(t, trades[0].Commission, dec("1"), "trade commission")
}

func TestCancelBuyReleasesExactEscrow(t *testing.T) {
	env := newTestEnv(t)

	order, _, err := env.place(types.PlaceOrderRequest{
		Symbol: "0700", Market: "HK", Side: "BUY", OrderType: "LIMIT",
		Price: ptr(dec("300")), Quantity: 100,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	// 300 * 100 = 30000 notional, commission floors at 20.
	mustEqual(t, order.FrozenAmount, dec("30020"), "frozen amount")

	cancelled, err := env.svc.CancelOrder(context.Background(), env.userID, order.OrderID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != types.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", cancelled.Status)
	}

	bal := env.balance(types.CurrencyHKD)
	mustEqual(t, bal.CurrentCash, decimal.NewFromInt(780_000), "current cash")
	mustEqual(t, bal.FrozenCash, decimal.Zero, "frozen cash")
}

func TestCancelSellRestoresReservation(t *testing.T) {
	env := newTestEnv(t)
	env.seedPosition("AAPL", "US", 100, dec("150"))

	order, _, err := env.place(types.PlaceOrderRequest{
		Symbol: "AAPL", Market: "US", Side: "SELL", OrderType: "LIMIT",
		Price: ptr(dec("500")), Quantity: 100,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if env.position("AAPL", "US").AvailableQuantity != 0 {
		t.Fatal("shares not reserved at placement")
	}

	if _, err := env.svc.CancelOrder(context.Background(), env.userID, order.OrderID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	pos := env.position("AAPL", "US")
	if pos.Quantity != 100 || pos.AvailableQuantity != 100 {
		t.Fatalf("position qty/available = %d/%d, want 100/100", pos.Quantity, pos.AvailableQuantity)
	}
}

func TestCancelTerminalOrders(t *testing.T) {
	env := newTestEnv(t)

	// A filled order cannot be cancelled.
	filledOrder, filled, err := env.place(types.PlaceOrderRequest{
		Symbol: "AAPL", Market: "US", Side: "BUY", OrderType: "MARKET", Quantity: 1,
	})
	if err != nil || !filled {
		t.Fatalf("PlaceOrder filled=%v err=%v", filled, err)
	}
	if _, err := env.svc.CancelOrder(context.Background(), env.userID, filledOrder.OrderID); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("cancel filled order error = %v, want ErrNotCancellable", err)
	}

	// A second cancel of a cancelled order fails the same way, without
	// double-crediting the escrow.
	pending, _, err := env.place(types.PlaceOrderRequest{
		Symbol: "AAPL", Market: "US", Side: "BUY", OrderType: "LIMIT",
		Price: ptr(dec("50")), Quantity: 10,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if _, err := env.svc.CancelOrder(context.Background(), env.userID, pending.OrderID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	cashAfter := env.balance(types.CurrencyUSD).CurrentCash
	if _, err := env.svc.CancelOrder(context.Background(), env.userID, pending.OrderID); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("second cancel error = %v, want ErrNotCancellable", err)
	}
	mustEqual(t, env.balance(types.CurrencyUSD).CurrentCash, cashAfter, "cash after repeated cancel")
}

func TestCancelUnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CancelOrder(context.Background(), env.userID, "no-such-order")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("CancelOrder error = %v, want ErrOrderNotFound", err)
	}
}

func TestCancelOtherUsersOrder(t *testing.T) {
	env := newTestEnv(t)

	order, _, err := env.place(types.PlaceOrderRequest{
		Symbol: "AAPL", Market: "US", Side: "BUY", OrderType: "LIMIT",
		Price: ptr(dec("50")), Quantity: 10,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	other, err := env.svc.DB().GetOrCreateUser("intruder", map[string]decimal.Decimal{
		types.CurrencyUSD: decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("create second user: %v", err)
	}

	if _, err := env.svc.CancelOrder(context.Background(), other.ID, order.OrderID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("cross-user cancel error = %v, want ErrOrderNotFound", err)
	}
}

func TestReferencePrice(t *testing.T) {
	mkt := dec("100")

	tests := []struct {
		name      string
		side      string
		orderType string
		limit     *decimal.Decimal
		want      decimal.Decimal
	}{
		{"market buy", types.SideBuy, types.OrderTypeMarket, nil, mkt},
		{"buy limit above market", types.SideBuy, types.OrderTypeLimit, ptr(dec("120")), dec("120")},
		{"buy limit below market", types.SideBuy, types.OrderTypeLimit, ptr(dec("80")), dec("80")},
		{"sell limit below market", types.SideSell, types.OrderTypeLimit, ptr(dec("80")), dec("80")},
		{"sell limit above market", types.SideSell, types.OrderTypeLimit, ptr(dec("120")), mkt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := referencePrice(tt.side, tt.orderType, tt.limit, mkt)
			mustEqual(t, got, tt.want, "reference price")
		})
	}
}
