package discord

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"

	"github.com/tbourn/go-ask-gateway/internal/domain"
	"github.com/tbourn/go-ask-gateway/internal/services"
)

// maxFetch is the most messages Discord returns per history request.
const maxFetch = 100

var errNoChannel = errors.New("channel not found")

// Platform reads names and history, preferring the gateway state cache over
// REST calls.
type Platform struct {
	api   restAPI
	state *discordgo.State
}

var _ services.Platform = (*Platform)(nil)

// NewPlatform reads through s and its state cache.
func NewPlatform(s *discordgo.Session) *Platform {
	return &Platform{api: s, state: s.State}
}

// BotUserID is empty until the gateway sent READY.
func (p *Platform) BotUserID() string {
	if p.state == nil || p.state.User == nil {
		return ""
	}
	return p.state.User.ID
}

func (p *Platform) ChannelInfo(ctx context.Context, channelID string) (string, string, error) {
	ch, err := p.channel(ctx, channelID)
	if err != nil {
		return "", "", err
	}
	var guildName string
	if ch.GuildID != "" && p.state != nil {
		if g, err := p.state.Guild(ch.GuildID); err == nil {
			guildName = g.Name
		}
	}
	return ch.Name, guildName, nil
}

func (p *Platform) GuildName(ctx context.Context, guildID string) (string, error) {
	g, err := p.guild(ctx, guildID)
	if err != nil {
		return "", err
	}
	return g.Name, nil
}

// GuildLocale is the preferred locale of a guild, "" when unknown.
func (p *Platform) GuildLocale(ctx context.Context, guildID string) string {
	if guildID == "" {
		return ""
	}
	g, err := p.guild(ctx, guildID)
	if err != nil {
		return ""
	}
	return g.PreferredLocale
}

// RecentMessages returns up to limit messages, newest first. Discord caps a
// single request at 100.
func (p *Platform) RecentMessages(ctx context.Context, channelID string, limit int) ([]domain.HistoryMessage, error) {
	if limit <= 0 || limit > maxFetch {
		limit = maxFetch
	}
	msgs, err := p.api.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return History(msgs), nil
}

// MessageAuthor returns the author id of one message.
func (p *Platform) MessageAuthor(ctx context.Context, channelID, messageID string) (string, error) {
	m, err := p.api.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	if m.Author == nil {
		return "", nil
	}
	return m.Author.ID, nil
}

func (p *Platform) channel(ctx context.Context, id string) (*discordgo.Channel, error) {
	if p.state != nil {
		if ch, err := p.state.Channel(id); err == nil {
			return ch, nil
		}
	}
	ch, err := p.api.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, errNoChannel
	}
	return ch, nil
}

func (p *Platform) guild(ctx context.Context, id string) (*discordgo.Guild, error) {
	if p.state != nil {
		if g, err := p.state.Guild(id); err == nil {
			return g, nil
		}
	}
	return p.api.Guild(id, discordgo.WithContext(ctx))
}
