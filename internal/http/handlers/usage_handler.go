// Usage and quota HTTP handlers.
//
//   - GET /usage                          (list, paginated, weak ETag)
//   - GET /usage/{id}                     (one record with image metadata)
//   - GET /usage/{id}/images/{imageId}    (raw image bytes)
//   - GET /quota                          (window counts and violations)
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-ask-gateway/internal/domain"
	"github.com/tbourn/go-ask-gateway/internal/repo"
	"github.com/tbourn/go-ask-gateway/internal/services"
	"github.com/tbourn/go-ask-gateway/internal/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// UsageReader is the ledger query surface; *services.UsageService
// implements it.
type UsageReader interface {
	ListPage(ctx context.Context, f repo.UsageFilter, page, pageSize int) ([]domain.UsageRecord, int64, error)
	Stats(ctx context.Context, f repo.UsageFilter) (int64, *time.Time, error)
	Get(ctx context.Context, id string) (*domain.UsageRecord, error)
	Image(ctx context.Context, usageID, imageID string) (*domain.UsageImage, error)
}

// QuotaReader reports limiter state; *services.QuotaLimiter implements it.
type QuotaReader interface {
	Status(ctx context.Context, req domain.Request) (services.QuotaStatus, error)
}

var (
	_ UsageReader = (*services.UsageService)(nil)
	_ QuotaReader = (*services.QuotaLimiter)(nil)
)

// Handlers groups the ops endpoints.
type Handlers struct {
	usage UsageReader
	quota QuotaReader
}

// New binds the handlers to their services.
func New(usage UsageReader, quota QuotaReader) *Handlers {
	return &Handlers{usage: usage, quota: quota}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListUsageResponse wraps a page of usage records.
type ListUsageResponse struct {
	Usage      []domain.UsageRecord `json:"usage"`
	Pagination Pagination           `json:"pagination"`
}

// QuotaResponse is the limiter's view of the requested scope identifiers.
type QuotaResponse struct {
	HourlyLimit int                    `json:"hourly_limit"`
	DailyLimit  int                    `json:"daily_limit"`
	Counts      []services.WindowCount `json:"counts"`
	Violations  []string               `json:"violations"`
	Limited     bool                   `json:"limited"`
	Message     string                 `json:"message,omitempty"`
}

func usageFilter(c *gin.Context) repo.UsageFilter {
	return repo.UsageFilter{
		UserID:    strings.TrimSpace(c.Query("user_id")),
		ChannelID: strings.TrimSpace(c.Query("channel_id")),
		GuildID:   strings.TrimSpace(c.Query("guild_id")),
	}
}

// ListUsage returns a page of usage records, newest first, optionally
// filtered by user_id, channel_id and guild_id. The weak ETag changes
// whenever a matching record is added or updated; a matching If-None-Match
// yields 304.
func (h *Handlers) ListUsage(c *gin.Context) {
	ctx := c.Request.Context()
	f := usageFilter(c)
	pg := utils.ParsePage(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.usage.Stats(ctx, f); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"usage:%s:%s:%s:%d:%d"`, f.UserID, f.ChannelID, f.GuildID, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.usage.ListPage(ctx, f, pg.Number, pg.Size)
	if err != nil {
		if errors.Is(err, services.ErrNoLedger) {
			fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "usage ledger unavailable")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := pg.TotalPages(total)
	ok(c, http.StatusOK, ListUsageResponse{
		Usage: items,
		Pagination: Pagination{
			Page:       pg.Number,
			PageSize:   pg.Size,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    pg.Number < totalPages,
		},
	})
}

// GetUsage returns one record with its image metadata.
func (h *Handlers) GetUsage(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "usage id must be a UUID")
		return
	}
	rec, err := h.usage.Get(c.Request.Context(), id)
	if err != nil {
		h.readFailed(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// GetUsageImage streams one stored image. Images never change once
// written, so the image id is a strong validator.
func (h *Handlers) GetUsageImage(c *gin.Context) {
	usageID, imageID := c.Param("id"), c.Param("imageId")
	if _, err := uuid.Parse(usageID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "usage id must be a UUID")
		return
	}
	if _, err := uuid.Parse(imageID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image id must be a UUID")
		return
	}

	etag := `"` + imageID + `"`
	if c.GetHeader("If-None-Match") == etag {
		c.Header("ETag", etag)
		c.Status(http.StatusNotModified)
		return
	}

	img, err := h.usage.Image(c.Request.Context(), usageID, imageID)
	if err != nil {
		h.readFailed(c, err)
		return
	}
	mime := img.Mime
	if mime == "" {
		mime = "application/octet-stream"
	}
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private, max-age=86400, immutable")
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", img.Filename))
	c.Data(http.StatusOK, mime, img.Data)
}

// GetQuota reports hourly and daily counts for the given user_id,
// channel_id and guild_id, using the same limiter as the ask pipeline.
// At least one identifier is required.
func (h *Handlers) GetQuota(c *gin.Context) {
	f := usageFilter(c)
	req := domain.Request{UserID: f.UserID, ChannelID: f.ChannelID, GuildID: f.GuildID}
	if len(req.ScopeIDs()) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "one of user_id, channel_id or guild_id is required")
		return
	}
	if h.quota == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "usage ledger unavailable")
		return
	}

	st, err := h.quota.Status(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrNoLedger) {
			fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "usage ledger unavailable")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeQuotaFailed, err.Error())
		return
	}

	resp := QuotaResponse{
		HourlyLimit: st.Limits.Hourly,
		DailyLimit:  st.Limits.Daily,
		Counts:      st.Counts,
		Violations:  st.Violations,
		Limited:     st.Limited,
	}
	if st.Limited {
		resp.Message = services.RateLimitMessage(st.Violations)
	}
	ok(c, http.StatusOK, resp)
}

func (h *Handlers) readFailed(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUsageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "usage record not found")
	case errors.Is(err, services.ErrNoLedger):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "usage ledger unavailable")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
