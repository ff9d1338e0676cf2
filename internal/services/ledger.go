package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-ask-gateway/internal/domain"
	"github.com/tbourn/go-ask-gateway/internal/repo"
	"github.com/tbourn/go-ask-gateway/internal/sanitize"
)

// UsageLedger writes the audit trail: one row before the provider call and
// exactly one update after it. A nil DB turns every write into ErrNoLedger.
type UsageLedger struct {
	DB *gorm.DB
}

func (l *UsageLedger) db() *gorm.DB {
	if l == nil {
		return nil
	}
	return l.DB
}

// RecordPreCall inserts the pre-call row and returns its id.
func (l *UsageLedger) RecordPreCall(ctx context.Context, req domain.Request) (string, error) {
	ctx, span := otel.Tracer("services/UsageLedger").Start(ctx, "RecordPreCall",
		trace.WithAttributes(
			attribute.String("user.id", req.UserID),
			attribute.String("origin", string(req.Origin)),
		),
	)
	defer span.End()

	db := l.db()
	if db == nil {
		return "", ErrNoLedger
	}
	rec := &domain.UsageRecord{
		UserID:      req.UserID,
		UserName:    req.UserName,
		ChannelID:   req.ChannelID,
		ChannelName: req.ChannelName,
		GuildID:     req.GuildID,
		GuildName:   req.GuildName,
		Origin:      string(req.Origin),
		Locale:      req.Locale,
		Query:       req.Query,
	}
	if rec.Origin == "" {
		rec.Origin = string(domain.OriginCommand)
	}
	if err := repo.CreateUsage(ctx, db, rec); err != nil {
		span.RecordError(err)
		return "", err
	}
	return rec.ID, nil
}

// RecordSuccess stores the provider outcome on row id.
func (l *UsageLedger) RecordSuccess(ctx context.Context, id string, o domain.Outcome) error {
	ctx, span := otel.Tracer("services/UsageLedger").Start(ctx, "RecordSuccess",
		trace.WithAttributes(attribute.String("usage.id", id)),
	)
	defer span.End()

	db := l.db()
	if db == nil || id == "" {
		return ErrNoLedger
	}

	fields := map[string]any{
		"response_text":     o.ResponseText,
		"model":             ModelFamily(o.ModelFull),
		"model_full":        o.ModelFull,
		"response_ms":       o.ResponseMs,
		"safety_violations": strings.Join(o.SafetyViolations, ","),
		"error_flag":        false,
		"request_id":        o.RequestID,
		"response_meta":     sanitize.JSON(o.Meta),
		"response_status":   o.ResponseStatus,
		"service_tier":      o.ServiceTier,
	}
	if o.TotalTokens != nil {
		fields["tokens_used"] = *o.TotalTokens
		fields["total_tokens"] = *o.TotalTokens
	}
	if o.InputTokens != nil {
		fields["input_tokens"] = *o.InputTokens
	}
	if o.OutputTokens != nil {
		fields["output_tokens"] = *o.OutputTokens
	}
	if o.CompletedAt != nil {
		fields["completed_at"] = time.Unix(*o.CompletedAt, 0).UTC()
	}

	if err := repo.UpdateUsage(ctx, db, id, fields); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// RecordFailure flags row id as failed with the user-facing message, the
// violation categories and a sanitized snapshot of the error.
func (l *UsageLedger) RecordFailure(ctx context.Context, id, message string, violations []string, cause any) error {
	ctx, span := otel.Tracer("services/UsageLedger").Start(ctx, "RecordFailure",
		trace.WithAttributes(attribute.String("usage.id", id)),
	)
	defer span.End()

	db := l.db()
	if db == nil || id == "" {
		return ErrNoLedger
	}
	err := repo.UpdateUsage(ctx, db, id, map[string]any{
		"response_text":     message,
		"safety_violations": strings.Join(violations, ","),
		"error_flag":        true,
		"response_meta":     sanitize.JSON(cause),
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// RecordImages stores the binary images of row id. URL-only references are
// not stored.
func (l *UsageLedger) RecordImages(ctx context.Context, id string, images []domain.Image) error {
	ctx, span := otel.Tracer("services/UsageLedger").Start(ctx, "RecordImages",
		trace.WithAttributes(
			attribute.String("usage.id", id),
			attribute.Int("images", len(images)),
		),
	)
	defer span.End()

	db := l.db()
	if db == nil || id == "" {
		return ErrNoLedger
	}

	rows := make([]domain.UsageImage, 0, len(images))
	for _, img := range images {
		if !img.IsBinary() {
			continue
		}
		mime := img.Mime
		if mime == "" {
			mime = "image/png"
		}
		meta, _ := json.Marshal(map[string]any{"description": nullable(img.Description), "mime": mime})
		rows = append(rows, domain.UsageImage{
			UsageID:  id,
			Filename: img.Filename,
			Mime:     mime,
			Data:     img.Data,
			Meta:     string(meta),
		})
	}
	if err := repo.CreateUsageImages(ctx, db, rows); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ModelFamily is the part of a full model name before its first "-".
func ModelFamily(full string) string {
	family, _, _ := strings.Cut(full, "-")
	return family
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
