package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-ask-gateway/internal/config"
	"github.com/tbourn/go-ask-gateway/internal/domain"
	"github.com/tbourn/go-ask-gateway/internal/repo"
	"github.com/tbourn/go-ask-gateway/internal/sysutil"
)

// Sliding windows counted by the quota limiter.
const (
	HourWindow = time.Hour
	DayWindow  = 24 * time.Hour
)

// WindowCount is the number of ledger rows one scope identifier produced in
// the trailing hour and day.
type WindowCount struct {
	Scope  domain.Scope `json:"scope"`
	ID     string       `json:"id"`
	Hourly int64        `json:"hourly"`
	Daily  int64        `json:"daily"`
}

// QuotaLimiter enforces per-scope sliding-window limits computed from the
// usage ledger. It reads only; the pre-call insert is what consumes quota,
// so two concurrent requests may both pass before either row lands.
type QuotaLimiter struct {
	DB     *gorm.DB
	Limits config.QuotaLimits
	// Now is a test seam; nil means time.Now.
	Now func() time.Time
}

func (q *QuotaLimiter) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

// Counts returns hourly and daily counts for every scope identifier present
// on req, in user, channel, guild order.
func (q *QuotaLimiter) Counts(ctx context.Context, req domain.Request) ([]WindowCount, error) {
	ctx, span := otel.Tracer("services/QuotaLimiter").Start(ctx, "Counts",
		trace.WithAttributes(
			attribute.String("user.id", req.UserID),
			attribute.String("channel.id", req.ChannelID),
			attribute.String("guild.id", req.GuildID),
		),
	)
	defer span.End()

	if q == nil || q.DB == nil {
		return nil, ErrNoLedger
	}
	now := q.now()
	out := make([]WindowCount, 0, 3)
	for _, s := range req.ScopeIDs() {
		hourly, err := repo.CountUsageSince(ctx, q.DB, s.Scope, s.ID, now.Add(-HourWindow))
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		daily, err := repo.CountUsageSince(ctx, q.DB, s.Scope, s.ID, now.Add(-DayWindow))
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		out = append(out, WindowCount{Scope: s.Scope, ID: s.ID, Hourly: hourly, Daily: daily})
	}
	return out, nil
}

// Check returns one violation message per window whose count reached its
// limit. Counting failures are logged and treated as compliant.
func (q *QuotaLimiter) Check(ctx context.Context, req domain.Request) []string {
	counts, err := q.Counts(ctx, req)
	if err != nil {
		if !errors.Is(err, ErrNoLedger) {
			sysutil.Logger(ctx).Error().Err(err).Msg("failed to check rate limits")
		}
		return nil
	}
	return Violations(counts, q.Limits)
}

// QuotaStatus is the limiter's view of one set of scope identifiers.
type QuotaStatus struct {
	Limits     config.QuotaLimits `json:"-"`
	Counts     []WindowCount      `json:"counts"`
	Violations []string           `json:"violations"`
	Limited    bool               `json:"limited"`
}

// Status reports counts and current violations for req without the
// fail-open behaviour of Check: counting errors are returned.
func (q *QuotaLimiter) Status(ctx context.Context, req domain.Request) (QuotaStatus, error) {
	counts, err := q.Counts(ctx, req)
	if err != nil {
		return QuotaStatus{}, err
	}
	v := Violations(counts, q.Limits)
	if v == nil {
		v = []string{}
	}
	return QuotaStatus{Limits: q.Limits, Counts: counts, Violations: v, Limited: len(v) > 0}, nil
}

// Violations renders the limit breaches of counts.
func Violations(counts []WindowCount, limits config.QuotaLimits) []string {
	var out []string
	for _, c := range counts {
		label := c.Scope.Label()
		if c.Hourly >= int64(limits.Hourly) {
			out = append(out, fmt.Sprintf("%s hourly limit (%d/hour) reached (%d in the last hour)", label, limits.Hourly, c.Hourly))
		}
		if c.Daily >= int64(limits.Daily) {
			out = append(out, fmt.Sprintf("%s daily limit (%d/day) reached (%d in the last 24 hours)", label, limits.Daily, c.Daily))
		}
	}
	return out
}

// RateLimitMessage joins violations into the reply shown to the requester.
func RateLimitMessage(violations []string) string {
	return "Rate limit exceeded: " + strings.Join(violations, "; ") + "."
}
