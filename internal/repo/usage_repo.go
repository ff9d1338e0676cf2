// Package repo implements the data persistence layer for the usage ledger,
// backed by GORM. This file provides repository functions for UsageRecord
// and UsageImage.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-ask-gateway/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrUnknownScope is returned when a count is requested for a scope with no
// backing column.
var ErrUnknownScope = errors.New("unknown usage scope")

// UsageFilter narrows list and stats queries. Empty fields are ignored.
type UsageFilter struct {
	UserID    string
	ChannelID string
	GuildID   string
}

func (f UsageFilter) apply(q *gorm.DB) *gorm.DB {
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.ChannelID != "" {
		q = q.Where("channel_id = ?", f.ChannelID)
	}
	if f.GuildID != "" {
		q = q.Where("guild_id = ?", f.GuildID)
	}
	return q
}

// CreateUsage inserts the pre-call row. ID and CreatedAt are generated when
// the caller leaves them empty.
func CreateUsage(ctx context.Context, db *gorm.DB, rec *domain.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(rec).Error
}

// UpdateUsage applies the post-call column set to the row identified by id.
// It returns ErrNotFound when no row matched.
func UpdateUsage(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateUsageImages inserts image child rows in one statement.
func CreateUsageImages(ctx context.Context, db *gorm.DB, images []domain.UsageImage) error {
	if len(images) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range images {
		if images[i].ID == "" {
			images[i].ID = uuid.NewString()
		}
		if images[i].CreatedAt.IsZero() {
			images[i].CreatedAt = now
		}
	}
	return db.WithContext(ctx).Create(&images).Error
}

// CountUsageSince counts ledger rows for one scope identifier created at or
// after since.
func CountUsageSince(ctx context.Context, db *gorm.DB, scope domain.Scope, id string, since time.Time) (int64, error) {
	col := scope.Column()
	if col == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Where(col+" = ? AND created_at >= ?", id, since.UTC()).
		Count(&n).Error
	return n, err
}

// GetUsage fetches one record with its image metadata. Image bytes are not
// loaded; use GetUsageImage for those.
func GetUsage(ctx context.Context, db *gorm.DB, id string) (*domain.UsageRecord, error) {
	var rec domain.UsageRecord
	err := db.WithContext(ctx).
		Preload("Images", func(tx *gorm.DB) *gorm.DB {
			return tx.Select("id", "usage_id", "filename", "mime", "meta", "created_at").Order("created_at ASC, id ASC")
		}).
		Where("id = ?", id).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetUsageImage fetches one image including its bytes.
func GetUsageImage(ctx context.Context, db *gorm.DB, usageID, imageID string) (*domain.UsageImage, error) {
	var img domain.UsageImage
	err := db.WithContext(ctx).
		Where("id = ? AND usage_id = ?", imageID, usageID).
		First(&img).Error
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// CountUsage returns the number of records matching f.
func CountUsage(ctx context.Context, db *gorm.DB, f UsageFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.UsageRecord{})).Count(&total).Error
	return total, err
}

// ListUsagePage returns a paginated slice ordered newest first
// (CreatedAt DESC, ID DESC). Use CountUsage for pagination metadata.
func ListUsagePage(ctx context.Context, db *gorm.DB, f UsageFilter, offset, limit int) ([]domain.UsageRecord, error) {
	var out []domain.UsageRecord
	err := f.apply(db.WithContext(ctx).Model(&domain.UsageRecord{})).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
