package migrations

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/papertrade/papertrade-api/internal/types"
)

// SeedMarketConfigs migrates the market configuration table and seeds
// the supported markets on an empty database. Exchange rates convert
// each native currency to USD and are used for display aggregation only.
func SeedMarketConfigs(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.MarketConfig{}); err != nil {
		return err
	}

	var count int64
	if err := db.Model(&types.MarketConfig{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	configs := []types.MarketConfig{
		{
			Market:           types.MarketUS,
			Currency:         types.CurrencyUSD,
			LotSize:          1,
			MinOrderQuantity: 1,
			CommissionRate:   decimal.NewFromFloat(0.0005),
			MinCommission:    decimal.NewFromFloat(1.0),
			ExchangeRate:     decimal.NewFromInt(1),
		},
		{
			Market:           types.MarketHK,
			Currency:         types.CurrencyHKD,
			LotSize:          100,
			MinOrderQuantity: 100,
			CommissionRate:   decimal.NewFromFloat(0.00027),
			MinCommission:    decimal.NewFromFloat(20.0),
			ExchangeRate:     decimal.NewFromFloat(0.128205), // 1 / 7.8
		},
		{
			Market:           types.MarketCN,
			Currency:         types.CurrencyCNY,
			LotSize:          100,
			MinOrderQuantity: 100,
			CommissionRate:   decimal.NewFromFloat(0.00025),
			MinCommission:    decimal.NewFromFloat(5.0),
			ExchangeRate:     decimal.NewFromFloat(0.138889), // 1 / 7.2
		},
	}

	return db.Create(&configs).Error
}
