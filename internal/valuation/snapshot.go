package valuation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/papertrade/papertrade-api/internal/types"
)

// AssetSnapshot records one user's total equity for one calendar day.
type AssetSnapshot struct {
	gorm.Model     `json:"-"`
	UserID         uint            `gorm:"index;uniqueIndex:idx_user_day" json:"user_id"`
	Day            string          `gorm:"uniqueIndex:idx_user_day" json:"day"` // YYYY-MM-DD, UTC
	TotalAssetsUSD decimal.Decimal `gorm:"type:decimal(18,2)" json:"total_assets_usd"`
}

// SnapshotStore persists daily asset snapshots for the trend view.
type SnapshotStore struct {
	db *gorm.DB
}

func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

const dayFormat = "2006-01-02"

// Upsert records the user's equity for the given day, overwriting any
// earlier snapshot taken the same day.
func (s *SnapshotStore) Upsert(userID uint, at time.Time, totalUSD decimal.Decimal) error {
	day := at.UTC().Format(dayFormat)

	var snap AssetSnapshot
	err := s.db.Where("user_id = ? AND day = ?", userID, day).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		snap = AssetSnapshot{UserID: userID, Day: day, TotalAssetsUSD: totalUSD}
		return s.db.Create(&snap).Error
	}
	if err != nil {
		return err
	}

	snap.TotalAssetsUSD = totalUSD
	return s.db.Save(&snap).Error
}

// List returns the user's snapshots oldest first.
func (s *SnapshotStore) List(userID uint) ([]types.AssetTrendPoint, error) {
	var snaps []AssetSnapshot
	if err := s.db.Where("user_id = ?", userID).Order("day ASC").Find(&snaps).Error; err != nil {
		return nil, err
	}

	points := make([]types.AssetTrendPoint, 0, len(snaps))
	for _, snap := range snaps {
		day, err := time.Parse(dayFormat, snap.Day)
		if err != nil {
			continue
		}
		points = append(points, types.AssetTrendPoint{
			Date:           day,
			TotalAssetsUSD: snap.TotalAssetsUSD,
		})
	}
	return points, nil
}
