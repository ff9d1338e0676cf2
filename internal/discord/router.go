package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-ask-gateway/internal/interaction"
	"github.com/tbourn/go-ask-gateway/internal/services"
	"github.com/tbourn/go-ask-gateway/internal/sysutil"
)

// RequestTimeout bounds one trigger. Interaction tokens expire after 15
// minutes, so a command answer must be out before that.
const RequestTimeout = 14 * time.Minute

// Handler runs the ask pipeline; *services.AskService implements it.
type Handler interface {
	Handle(ctx context.Context, ix interaction.Interaction) error
	Help(ctx context.Context, ix interaction.Interaction, private bool) error
}

var _ Handler = (*services.AskService)(nil)

// directory answers the lookups the router needs before a request exists.
type directory interface {
	BotUserID() string
	GuildLocale(ctx context.Context, guildID string) string
	MessageAuthor(ctx context.Context, channelID, messageID string) (string, error)
}

// Router turns gateway events into interactions and hands them to the
// Handler. Each event runs on its own goroutine (discordgo's default); the
// router only tracks them so shutdown can wait.
type Router struct {
	handler  Handler
	api      restAPI
	dir      directory
	messages *messageSession
	interval time.Duration
	timeout  time.Duration

	wg sync.WaitGroup
}

// NewRouter wires h to s. interval is the typing signal period for ambient
// messages.
func NewRouter(s *discordgo.Session, p *Platform, h Handler, interval time.Duration) *Router {
	return newRouter(s, p, h, interval)
}

func newRouter(api restAPI, dir directory, h Handler, interval time.Duration) *Router {
	return &Router{
		handler:  h,
		api:      api,
		dir:      dir,
		messages: &messageSession{api: api},
		interval: interval,
		timeout:  RequestTimeout,
	}
}

// Attach registers the event handlers on s.
func (r *Router) Attach(s *discordgo.Session) {
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.InteractionCreate) {
		r.HandleInteraction(e.Interaction)
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageCreate) {
		r.HandleMessage(e.Message)
	})
}

// HandleInteraction serves /ask and /help. Other interactions are ignored.
func (r *Router) HandleInteraction(i *discordgo.Interaction) {
	if i == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	name := i.ApplicationCommandData().Name
	if name != CommandAsk && name != CommandHelp {
		return
	}

	ctx, done := r.begin("interaction_id", i.ID)
	defer done()

	ix := interaction.NewCommand(RequestFromInteraction(i), &commandSession{api: r.api, i: i})
	defer ix.Close()

	if name == CommandHelp {
		if err := r.handler.Help(ctx, ix, true); err != nil {
			sysutil.Logger(ctx).Error().Err(err).Msg("failed to send help")
		}
		return
	}
	r.report(ctx, r.handler.Handle(ctx, ix))
}

// HandleMessage serves ambient messages: "!help", direct messages, mentions
// of the bot and replies to the bot.
func (r *Router) HandleMessage(m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}

	ctx, done := r.begin("message_id", m.ID)
	defer done()

	botID := r.dir.BotUserID()
	if botID != "" && m.Author.ID == botID {
		return
	}

	if interaction.IsHelp(m.Content) {
		locale := r.dir.GuildLocale(ctx, m.GuildID)
		ix := interaction.NewMessage(RequestFromMessage(m, "", locale), m.ID, r.messages, r.interval)
		defer ix.Close()
		if err := r.handler.Help(ctx, ix, false); err != nil {
			sysutil.Logger(ctx).Error().Err(err).Msg("failed to send help")
		}
		return
	}

	query, ok := interaction.Accept(Inbound(m, botID, r.replyToBot(ctx, m, botID)), botID)
	if !ok {
		return
	}
	locale := r.dir.GuildLocale(ctx, m.GuildID)
	ix := interaction.NewMessage(RequestFromMessage(m, query, locale), m.ID, r.messages, r.interval)
	defer ix.Close()
	r.report(ctx, r.handler.Handle(ctx, ix))
}

// replyToBot reports whether m replies to a bot message, fetching the
// referenced message when the event did not carry it.
func (r *Router) replyToBot(ctx context.Context, m *discordgo.Message, botID string) bool {
	if botID == "" || m.GuildID == "" || m.MessageReference == nil || m.MessageReference.MessageID == "" {
		return false
	}
	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil {
		return ref.Author.ID == botID
	}
	channelID := m.MessageReference.ChannelID
	if channelID == "" {
		channelID = m.ChannelID
	}
	author, err := r.dir.MessageAuthor(ctx, channelID, m.MessageReference.MessageID)
	if err != nil {
		sysutil.Logger(ctx).Debug().Err(err).Msg("failed to resolve referenced message")
		return false
	}
	return author == botID
}

// begin tracks one event and returns its context. done releases both and
// turns a panic into a log line.
func (r *Router) begin(key, id string) (context.Context, func()) {
	r.wg.Add(1)
	lg := log.Logger.With().Str(key, id).Logger()
	ctx, cancel := context.WithTimeout(lg.WithContext(context.Background()), r.timeout)
	return ctx, func() {
		if rec := recover(); rec != nil {
			lg.Error().Interface("panic", rec).Msg("event handler panicked")
		}
		cancel()
		r.wg.Done()
	}
}

func (r *Router) report(ctx context.Context, err error) {
	lg := sysutil.Logger(ctx)
	switch {
	case err == nil:
		lg.Debug().Msg("request answered")
	case errors.Is(err, services.ErrEmptyQuery), errors.Is(err, services.ErrQuotaExceeded):
		lg.Info().Err(err).Msg("request refused")
	default:
		lg.Warn().Err(err).Msg("request failed")
	}
}

// Wait blocks until every tracked event finished or ctx is done.
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect attaches r to s and opens the gateway connection.
func Connect(s *discordgo.Session, r *Router) error {
	r.Attach(s)
	if err := s.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Serve blocks until ctx is done, then closes the gateway connection and
// gives in-flight requests up to grace to finish.
func Serve(ctx context.Context, s *discordgo.Session, r *Router, grace time.Duration) error {
	<-ctx.Done()
	log.Info().Msg("closing discord gateway")
	if err := s.Close(); err != nil {
		log.Warn().Err(err).Msg("discord close failed")
	}
	wctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := r.Wait(wctx); err != nil {
		return fmt.Errorf("drain in-flight requests: %w", err)
	}
	return nil
}
