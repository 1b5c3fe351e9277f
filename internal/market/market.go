// Package market provides access to per-market trading parameters and the
// commission calculation shared by placement, fill, and cancellation.
package market

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/papertrade/papertrade-api/internal/types"
)

// ErrUnknownMarket is returned when no configuration exists for a market.
var ErrUnknownMarket = errors.New("unknown market")

// Store reads market configurations from the database.
type Store struct {
	db *gorm.DB
}

// NewStore creates a market configuration store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the configuration for a market, or ErrUnknownMarket.
func (s *Store) Get(marketCode string) (*types.MarketConfig, error) {
	var cfg types.MarketConfig
	if err := s.db.Where("market = ?", marketCode).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, marketCode)
		}
		return nil, err
	}
	return &cfg, nil
}

// List returns all configured markets.
func (s *Store) List() ([]types.MarketConfig, error) {
	var cfgs []types.MarketConfig
	if err := s.db.Find(&cfgs).Error; err != nil {
		return nil, err
	}
	return cfgs, nil
}

// Commission computes the fee for a notional amount in the market's
// native currency: max(commission_rate * notional, min_commission).
func Commission(cfg *types.MarketConfig, notional decimal.Decimal) decimal.Decimal {
	fee := notional.Mul(cfg.CommissionRate)
	if fee.LessThan(cfg.MinCommission) {
		return cfg.MinCommission
	}
	return fee
}

// ValidateQuantity checks lot-size and minimum-quantity rules for a market.
func ValidateQuantity(cfg *types.MarketConfig, quantity int64) error {
	if cfg.LotSize > 0 && quantity%cfg.LotSize != 0 {
		return fmt.Errorf("quantity must be a multiple of lot size %d", cfg.LotSize)
	}
	if quantity < cfg.MinOrderQuantity {
		return fmt.Errorf("quantity must be at least %d", cfg.MinOrderQuantity)
	}
	return nil
}
