package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-ask-gateway/internal/domain"
	"github.com/tbourn/go-ask-gateway/internal/repo"
)

// ErrUsageNotFound is returned when a usage record or image does not exist.
var ErrUsageNotFound = errors.New("usage record not found")

// UsageService serves read-only queries over the usage ledger.
type UsageService struct {
	DB *gorm.DB
}

// NewUsageService returns a UsageService reading from db.
func NewUsageService(db *gorm.DB) *UsageService {
	return &UsageService{DB: db}
}

// ListPage returns a page of records matching f, newest first, and the total
// number of matches.
func (s *UsageService) ListPage(ctx context.Context, f repo.UsageFilter, page, pageSize int) ([]domain.UsageRecord, int64, error) {
	ctx, span := otel.Tracer("services/UsageService").Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if s == nil || s.DB == nil {
		return nil, 0, ErrNoLedger
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	total, err := repo.CountUsage(ctx, s.DB, f)
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}
	if total == 0 {
		return []domain.UsageRecord{}, 0, nil
	}
	items, err := repo.ListUsagePage(ctx, s.DB, f, (page-1)*pageSize, pageSize)
	if err != nil {
		span.RecordError(err)
	}
	return items, total, err
}

// Stats returns the match count and the latest update time for f. Handlers
// derive conditional-response validators from it.
func (s *UsageService) Stats(ctx context.Context, f repo.UsageFilter) (int64, *time.Time, error) {
	if s == nil || s.DB == nil {
		return 0, nil, ErrNoLedger
	}
	return repo.UsageStats(ctx, s.DB, f)
}

// Get returns one record with its image metadata.
func (s *UsageService) Get(ctx context.Context, id string) (*domain.UsageRecord, error) {
	ctx, span := otel.Tracer("services/UsageService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("usage.id", id)))
	defer span.End()

	if s == nil || s.DB == nil {
		return nil, ErrNoLedger
	}
	rec, err := repo.GetUsage(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUsageNotFound
	}
	return rec, err
}

// Image returns one stored image including its bytes.
func (s *UsageService) Image(ctx context.Context, usageID, imageID string) (*domain.UsageImage, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNoLedger
	}
	img, err := repo.GetUsageImage(ctx, s.DB, usageID, imageID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUsageNotFound
	}
	return img, err
}
