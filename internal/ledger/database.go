package ledger

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/papertrade/papertrade-api/internal/types"
)

// Database wraps gorm access to the per-user ledger aggregate: balances,
// positions, orders, and trades.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Transaction runs fn against a Database bound to a single transaction.
// Every mutating ledger operation commits through here so cash, position,
// order, and trade writes land atomically.
func (d *Database) Transaction(fn func(tx *Database) error) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Database{db: tx})
	})
}

func (d *Database) GetUser(userID uint) (*types.User, error) {
	var user types.User
	if err := d.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (d *Database) GetUserByUsername(username string) (*types.User, error) {
	var user types.User
	if err := d.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetOrCreateUser returns the named user, creating them with the given
// initial capital per currency on first sight.
func (d *Database) GetOrCreateUser(username string, initialCapital map[string]decimal.Decimal) (*types.User, error) {
	user, err := d.GetUserByUsername(username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user = &types.User{Username: username}
	err = d.Transaction(func(tx *Database) error {
		if err := tx.db.Create(user).Error; err != nil {
			return err
		}
		for currency, capital := range initialCapital {
			bal := types.CurrencyBalance{
				UserID:         user.ID,
				Currency:       currency,
				InitialCapital: capital,
				CurrentCash:    capital,
				FrozenCash:     decimal.Zero,
			}
			if err := tx.db.Create(&bal).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (d *Database) GetBalance(userID uint, currency string) (*types.CurrencyBalance, error) {
	var bal types.CurrencyBalance
	err := d.db.Where("user_id = ? AND currency = ?", userID, currency).First(&bal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wrapf(ErrBalanceNotFound, "user %d has no %s balance", userID, currency)
		}
		return nil, err
	}
	return &bal, nil
}

func (d *Database) ListBalances(userID uint) ([]types.CurrencyBalance, error) {
	var bals []types.CurrencyBalance
	if err := d.db.Where("user_id = ?", userID).Order("currency").Find(&bals).Error; err != nil {
		return nil, err
	}
	return bals, nil
}

func (d *Database) SaveBalance(bal *types.CurrencyBalance) error {
	return d.db.Save(bal).Error
}

func (d *Database) GetPosition(userID uint, symbol, marketCode string) (*types.Position, error) {
	var pos types.Position
	err := d.db.Where("user_id = ? AND symbol = ? AND market = ?", userID, symbol, marketCode).
		First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pos, nil
}

func (d *Database) ListPositions(userID uint) ([]types.Position, error) {
	var positions []types.Position
	if err := d.db.Where("user_id = ?", userID).Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

func (d *Database) SavePosition(pos *types.Position) error {
	return d.db.Save(pos).Error
}

func (d *Database) DeletePosition(pos *types.Position) error {
	return d.db.Unscoped().Delete(pos).Error
}

func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderForUser(orderID string, userID uint) (*types.Order, error) {
	var order types.Order
	err := d.db.Where("order_id = ? AND user_id = ?", orderID, userID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) UpdateOrder(order *types.Order) error {
	return d.db.Save(order).Error
}

func (d *Database) ListOrders(userID uint) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ListPendingOrders returns every PENDING order across users, oldest
// first, for the fill sweep.
func (d *Database) ListPendingOrders() ([]types.Order, error) {
	var orders []types.Order
	err := d.db.Where("status = ?", types.StatusPending).Order("created_at ASC").Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) CreateTrade(trade *types.Trade) error {
	return d.db.Create(trade).Error
}

func (d *Database) ListTrades(userID uint, limit int) ([]types.Trade, error) {
	var trades []types.Trade
	q := d.db.Where("user_id = ?", userID).Order("executed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}
