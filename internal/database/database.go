package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/papertrade/papertrade-api/internal/database/migrations"
	"github.com/papertrade/papertrade-api/internal/types"
	"github.com/papertrade/papertrade-api/internal/valuation"
)

// NewDatabase opens the sqlite database at path, runs seed migrations,
// and auto-migrates the remaining schemas.
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "papertrade.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := migrations.SeedMarketConfigs(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := migrations.SeedDemoUser(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	err = db.AutoMigrate(
		&types.Position{},
		&types.Order{},
		&types.Trade{},
		&valuation.AssetSnapshot{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
