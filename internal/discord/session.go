// Package discord binds the ask pipeline to Discord through discordgo: REST
// sessions implementing the interaction adapter contracts, the read-only
// Platform used for enrichment and history, the gateway event router and
// application command registration.
package discord

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/tbourn/go-ask-gateway/internal/dispatch"
	"github.com/tbourn/go-ask-gateway/internal/interaction"
)

// Intents are the gateway intents the gateway needs: guild metadata, guild
// and direct messages, and message content for ambient triggers.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

// restAPI is the subset of *discordgo.Session the gateway calls.
type restAPI interface {
	InteractionRespond(i *discordgo.Interaction, r *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(i *discordgo.Interaction, e *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionResponseDelete(i *discordgo.Interaction, options ...discordgo.RequestOption) error
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, p *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)

	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessageSendComplex(channelID string, m *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
}

var _ restAPI = (*discordgo.Session)(nil)

// NewSession creates a bot session with Intents. It does not connect.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = Intents
	return s, nil
}

// commandSession answers one slash-command invocation over the interaction
// webhook.
type commandSession struct {
	api restAPI
	i   *discordgo.Interaction
}

var _ interaction.CommandSession = (*commandSession)(nil)

func (c *commandSession) Defer(ctx context.Context) error {
	return c.api.InteractionRespond(c.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}, discordgo.WithContext(ctx))
}

func (c *commandSession) Respond(ctx context.Context, m dispatch.Message) error {
	return c.api.InteractionRespond(c.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: m.Content,
			Files:   toFiles(m.Files),
			Flags:   flags(m.Ephemeral),
		},
	}, discordgo.WithContext(ctx))
}

func (c *commandSession) EditResponse(ctx context.Context, m dispatch.Message) error {
	content := m.Content
	_, err := c.api.InteractionResponseEdit(c.i, &discordgo.WebhookEdit{
		Content: &content,
		Files:   toFiles(m.Files),
	}, discordgo.WithContext(ctx))
	return err
}

func (c *commandSession) FollowUp(ctx context.Context, m dispatch.Message) error {
	_, err := c.api.FollowupMessageCreate(c.i, true, &discordgo.WebhookParams{
		Content: m.Content,
		Files:   toFiles(m.Files),
		Flags:   flags(m.Ephemeral),
	}, discordgo.WithContext(ctx))
	return err
}

func (c *commandSession) DeleteResponse(ctx context.Context) error {
	return c.api.InteractionResponseDelete(c.i, discordgo.WithContext(ctx))
}

// messageSession posts into channels and direct messages.
type messageSession struct {
	api restAPI
}

var _ interaction.MessageSession = (*messageSession)(nil)

func (s *messageSession) Typing(ctx context.Context, channelID string) error {
	return s.api.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

func (s *messageSession) Send(ctx context.Context, channelID, replyToID string, m dispatch.Message) error {
	send := &discordgo.MessageSend{
		Content: m.Content,
		Files:   toFiles(m.Files),
	}
	if replyToID != "" {
		send.Reference = &discordgo.MessageReference{MessageID: replyToID, ChannelID: channelID}
	}
	_, err := s.api.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	return err
}

func (s *messageSession) SendDirect(ctx context.Context, userID string, m dispatch.Message) error {
	ch, err := s.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open direct channel: %w", err)
	}
	return s.Send(ctx, ch.ID, "", m)
}

// toFiles converts attachments. Each call builds fresh readers, so a payload
// can be retried.
func toFiles(files []dispatch.File) []*discordgo.File {
	if len(files) == 0 {
		return nil
	}
	out := make([]*discordgo.File, len(files))
	for i, f := range files {
		out[i] = &discordgo.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Reader:      bytes.NewReader(f.Data),
		}
	}
	return out
}

func flags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}
