// Package repo implements the data persistence layer for the usage ledger,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the ops HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-ask-gateway/internal/domain"
)

// UsageStats returns the number of records matching f and the greatest
// UpdatedAt among them. When nothing matches, count is 0 and maxUpdatedAt
// is nil.
func UsageStats(ctx context.Context, db *gorm.DB, f UsageFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	q := func() *gorm.DB { return f.apply(db.WithContext(ctx).Model(&domain.UsageRecord{})) }

	if err = q().Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q().Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
