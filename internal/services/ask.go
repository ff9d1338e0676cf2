// AskService – the request handler
//
// Handle drives one trigger through the pipeline:
//
//	received → validated → rate-checked → pre-logged → deferred →
//	provider-called → normalized → delivered | failed
//
// Only validation, the provider pathway and final delivery affect what the
// requester sees. Name enrichment, history, ledger writes and image storage
// are best effort: their failures are logged and the flow continues.
//
// Observability: Handle opens a span per trigger, attaches a request-scoped
// zerolog logger (request_id, origin, user/channel/guild ids) to the context,
// and records askgw_* metrics.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-ask-gateway/internal/dispatch"
	"github.com/tbourn/go-ask-gateway/internal/domain"
	"github.com/tbourn/go-ask-gateway/internal/i18n"
	"github.com/tbourn/go-ask-gateway/internal/interaction"
	"github.com/tbourn/go-ask-gateway/internal/observability"
	"github.com/tbourn/go-ask-gateway/internal/provider"
	"github.com/tbourn/go-ask-gateway/internal/sanitize"
	"github.com/tbourn/go-ask-gateway/internal/sysutil"
)

// Default texts used when the catalog has no entry.
const (
	defaultEmptyQueryHelp = "Please provide a query."
	defaultHelp           = "Try /ask <anything>. You can use /ask in server channels, group DMs, or directly in DMs with the app."
	burstViolation        = "Per-user burst limit reached, please slow down"
)

// Responder is the generative provider.
type Responder interface {
	Create(ctx context.Context, req provider.Request) (map[string]any, error)
}

// Platform is the read side of the chat platform used for enrichment and
// history. Every method may fail; failures never abort a request.
type Platform interface {
	BotUserID() string
	// ChannelInfo returns the channel name and, for guild channels, the
	// guild name.
	ChannelInfo(ctx context.Context, channelID string) (channelName, guildName string, err error)
	GuildName(ctx context.Context, guildID string) (string, error)
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, channelID string, limit int) ([]domain.HistoryMessage, error)
}

// AskService orchestrates one ask request. Ledger, Quota, Burst, Platform and
// Catalog are optional; Provider is required.
type AskService struct {
	Ledger   *UsageLedger
	Quota    *QuotaLimiter
	Burst    *BurstGuard
	Provider Responder
	Platform Platform
	Catalog  *i18n.Catalog

	// HistoryLimit caps fetched history; 0 or more than MaxHistory means
	// MaxHistory.
	HistoryLimit int

	// Now is a test seam; nil means time.Now.
	Now func() time.Time
}

func (s *AskService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Handle runs the pipeline for ix. It returns nil when the answer was
// delivered; otherwise one of ErrEmptyQuery, ErrQuotaExceeded or
// ErrProviderFailed (wrapped), or the first-message delivery error. In every
// case the requester has already been answered where possible.
func (s *AskService) Handle(ctx context.Context, ix interaction.Interaction) error {
	req := ix.Request()
	if req.Locale == "" {
		req.Locale = i18n.DefaultLocale
	}
	origin := req.Origin
	if origin == "" {
		origin = domain.OriginCommand
		req.Origin = origin
	}

	lg := sysutil.Logger(ctx).With().
		Str("request_id", uuid.NewString()).
		Str("origin", string(origin)).
		Str("user_id", req.UserID).
		Str("channel_id", req.ChannelID).
		Str("guild_id", req.GuildID).
		Logger()
	ctx = lg.WithContext(ctx)

	ctx, span := otel.Tracer("services/AskService").Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.String("origin", string(origin)),
			attribute.String("user.id", req.UserID),
			attribute.String("channel.id", req.ChannelID),
			attribute.String("guild.id", req.GuildID),
		),
	)
	defer span.End()

	outcome := func(o string) { observability.RequestsTotal.WithLabelValues(string(origin), o).Inc() }

	// validated
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		help := s.Catalog.Msg(req.Locale, "empty_query", defaultEmptyQueryHelp)
		if err := dispatch.Deliver(ctx, ix, help, nil, dispatch.Options{Origin: origin, Ephemeral: true, Plain: true}); err != nil {
			lg.Error().Err(err).Msg("failed to send help for empty query")
		}
		outcome(observability.OutcomeEmptyQuery)
		return ErrEmptyQuery
	}

	s.enrich(ctx, &req)

	// rate-checked
	if violations := s.violations(ctx, req); len(violations) > 0 {
		lg.Info().Strs("violations", violations).Msg("request rate limited")
		if err := dispatch.Deliver(ctx, ix, RateLimitMessage(violations), nil, dispatch.Options{Origin: origin, Ephemeral: true}); err != nil {
			lg.Error().Err(err).Msg("failed to send rate limit reply")
		}
		outcome(observability.OutcomeRateLimit)
		return ErrQuotaExceeded
	}

	// pre-logged
	usageID, err := s.Ledger.RecordPreCall(ctx, req)
	switch {
	case errors.Is(err, ErrNoLedger):
	case err != nil:
		lg.Error().Err(err).Msg("failed to insert pre-call usage record")
	default:
		lg.Debug().Str("usage_id", usageID).Str("channel_name", req.ChannelName).Str("guild_name", req.GuildName).Msg("inserted usage pre-record")
	}
	if usageID != "" {
		span.SetAttributes(attribute.String("usage.id", usageID))
	}

	// deferred
	deferred := true
	if err := ix.DeferReply(ctx); err != nil {
		deferred = false
		observability.DeliveryFailures.WithLabelValues(observability.StageDefer).Inc()
		lg.Debug().Err(err).Msg("deferReply failed")
	}

	// provider-called
	turns := BuildConversation(req.Locale, s.history(ctx, req), s.botID(), req.Query)
	raw, elapsed, err := s.call(ctx, turns)
	if err != nil {
		observability.ObserveProvider("error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider failed")
		s.fail(ctx, ix, origin, usageID, deferred, err)
		outcome(observability.OutcomeFailed)
		return fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}
	observability.ObserveProvider("ok", elapsed)

	// normalized
	norm := provider.Normalize(raw)
	lg.Debug().Interface("response", sanitize.Value(raw)).Msg("provider response (sanitized)")
	for _, img := range norm.Images {
		kind := "url"
		if img.IsBinary() {
			kind = "binary"
		}
		observability.ImagesTotal.WithLabelValues(kind).Inc()
	}

	if usageID != "" {
		if hasBinary(norm.Images) {
			if err := s.Ledger.RecordImages(ctx, usageID, norm.Images); err != nil {
				lg.Error().Err(err).Msg("failed to write images to usage_images")
			}
		}
		meta := provider.Metadata(raw)
		if err := s.Ledger.RecordSuccess(ctx, usageID, domain.Outcome{
			ResponseText:     norm.Text,
			ModelFull:        meta.Model,
			InputTokens:      meta.InputTokens,
			OutputTokens:     meta.OutputTokens,
			TotalTokens:      meta.TotalTokens,
			ResponseMs:       elapsed.Milliseconds(),
			CompletedAt:      meta.CompletedAt,
			SafetyViolations: norm.SafetyViolations,
			RequestID:        meta.ID,
			ResponseStatus:   meta.Status,
			ServiceTier:      meta.ServiceTier,
			Meta:             raw,
		}); err != nil {
			lg.Error().Err(err).Msg("failed to update usage record after success")
		}
	}

	// delivered
	if err := dispatch.Deliver(ctx, ix, norm.Text, norm.Images, dispatch.Options{Origin: origin, Deferred: deferred}); err != nil {
		lg.Error().Err(err).Msg("failed to deliver answer")
		outcome(observability.OutcomeUndelivered)
		return err
	}
	outcome(observability.OutcomeDelivered)
	return nil
}

// Help answers /help and !help with the localized help text.
func (s *AskService) Help(ctx context.Context, ix interaction.Interaction, private bool) error {
	req := ix.Request()
	text := s.Catalog.Msg(req.Locale, "help", defaultHelp)
	observability.RequestsTotal.WithLabelValues(string(req.Origin), observability.OutcomeHelp).Inc()
	return dispatch.Deliver(ctx, ix, text, nil, dispatch.Options{Origin: req.Origin, Ephemeral: private, Plain: true})
}

// call invokes the provider and converts a panic while doing so into an
// error, so a malformed response can never skip the failure path.
func (s *AskService) call(ctx context.Context, turns []domain.Turn) (raw map[string]any, elapsed time.Duration, err error) {
	start := s.now()
	defer func() {
		elapsed = s.now().Sub(start)
		if r := recover(); r != nil {
			raw, err = nil, fmt.Errorf("provider call panicked: %v", r)
		}
	}()
	if s.Provider == nil {
		return nil, 0, errors.New("no provider configured")
	}
	raw, err = s.Provider.Create(ctx, provider.Request{Turns: turns})
	return raw, 0, err
}

// fail records and reports a provider failure privately.
func (s *AskService) fail(ctx context.Context, ix interaction.Interaction, origin domain.Origin, usageID string, deferred bool, cause error) {
	lg := sysutil.Logger(ctx)
	violations := ClassifyError(cause)
	message := PolicyMessage(violations)
	lg.Error().Err(cause).Interface("detail", sanitize.Value(cause)).Strs("violations", violations).Msg("ask handler error")

	if usageID != "" {
		if err := s.Ledger.RecordFailure(ctx, usageID, message, violations, cause); err != nil {
			lg.Error().Err(err).Msg("failed to update usage record after error")
		}
	}

	if err := dispatch.Deliver(ctx, ix, message, nil, dispatch.Options{Origin: origin, Deferred: deferred, Ephemeral: true}); err != nil {
		observability.DeliveryFailures.WithLabelValues(observability.StageError).Inc()
		lg.Error().Err(err).Msg("failed to send error response")
	}
}

// violations runs the sliding windows, then the burst guard. The guard is
// skipped when a window already blocks, so a blocked request costs no token.
func (s *AskService) violations(ctx context.Context, req domain.Request) []string {
	var out []string
	if s.Quota != nil {
		out = s.Quota.Check(ctx, req)
	}
	if len(out) == 0 && !s.Burst.Allow("user:"+req.UserID) {
		out = append(out, burstViolation)
	}
	return out
}

// enrich fills missing channel and guild names from the platform.
func (s *AskService) enrich(ctx context.Context, req *domain.Request) {
	if s.Platform == nil {
		return
	}
	lg := sysutil.Logger(ctx)
	if (req.ChannelName == "" || req.GuildName == "") && req.ChannelID != "" {
		ch, guild, err := s.Platform.ChannelInfo(ctx, req.ChannelID)
		if err != nil {
			lg.Debug().Err(err).Str("channel_id", req.ChannelID).Msg("failed to fetch channel")
		} else {
			req.ChannelName = sysutil.FirstNonEmpty(req.ChannelName, ch)
			req.GuildName = sysutil.FirstNonEmpty(req.GuildName, guild)
		}
	}
	if req.GuildName == "" && req.GuildID != "" {
		name, err := s.Platform.GuildName(ctx, req.GuildID)
		if err != nil {
			lg.Debug().Err(err).Str("guild_id", req.GuildID).Msg("failed to fetch guild")
			return
		}
		req.GuildName = name
	}
}

// history fetches recent channel messages; failures yield none.
func (s *AskService) history(ctx context.Context, req domain.Request) []domain.HistoryMessage {
	if s.Platform == nil || req.ChannelID == "" {
		return nil
	}
	limit := s.HistoryLimit
	if limit <= 0 || limit > MaxHistory {
		limit = MaxHistory
	}
	msgs, err := s.Platform.RecentMessages(ctx, req.ChannelID, limit)
	if err != nil {
		sysutil.Logger(ctx).Debug().Err(err).Msg("failed to fetch channel history")
		return nil
	}
	return msgs
}

func (s *AskService) botID() string {
	if s.Platform == nil {
		return ""
	}
	return s.Platform.BotUserID()
}

func hasBinary(images []domain.Image) bool {
	for _, img := range images {
		if img.IsBinary() {
			return true
		}
	}
	return false
}
