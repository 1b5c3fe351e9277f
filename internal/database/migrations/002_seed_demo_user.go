package migrations

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/papertrade/papertrade-api/internal/types"
)

// SeedDemoUser migrates the user and balance tables and ensures the demo
// account exists with its starting capital in each currency.
func SeedDemoUser(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.User{}, &types.CurrencyBalance{}); err != nil {
		return err
	}

	var count int64
	if err := db.Model(&types.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	user := types.User{Username: "demo"}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}

		capitals := map[string]decimal.Decimal{
			types.CurrencyUSD: decimal.NewFromInt(100_000),
			types.CurrencyHKD: decimal.NewFromInt(780_000),
			types.CurrencyCNY: decimal.NewFromInt(720_000),
		}
		for currency, capital := range capitals {
			bal := types.CurrencyBalance{
				UserID:         user.ID,
				Currency:       currency,
				InitialCapital: capital,
				CurrentCash:    capital,
				FrozenCash:     decimal.Zero,
			}
			if err := tx.Create(&bal).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
