package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/tbourn/go-ask-gateway/internal/domain"
	"github.com/tbourn/go-ask-gateway/internal/i18n"
	"github.com/tbourn/go-ask-gateway/internal/interaction"
)

// Command and option names registered with Discord.
const (
	CommandAsk  = "ask"
	CommandHelp = "help"
	OptionQuery = "query"
)

// RequestFromInteraction builds the request of a slash-command invocation.
// The locale is the invoker's, then the guild's preferred one, then
// i18n.DefaultLocale.
func RequestFromInteraction(i *discordgo.Interaction) domain.Request {
	req := domain.Request{
		ChannelID: i.ChannelID,
		GuildID:   i.GuildID,
		Origin:    domain.OriginCommand,
		Locale:    i18n.DefaultLocale,
	}
	if u := invoker(i); u != nil {
		req.UserID = u.ID
		req.UserName = u.Username
	}
	switch {
	case i.Locale != "":
		req.Locale = string(i.Locale)
	case i.GuildLocale != nil && *i.GuildLocale != "":
		req.Locale = string(*i.GuildLocale)
	}

	if i.Type == discordgo.InteractionApplicationCommand {
		for _, opt := range i.ApplicationCommandData().Options {
			if opt.Name == OptionQuery && opt.Type == discordgo.ApplicationCommandOptionString {
				req.Query = opt.StringValue()
			}
		}
	}
	return req
}

// invoker is the member's user in guilds and the user in direct messages.
func invoker(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// Inbound converts a gateway message. replyToBot must be resolved by the
// caller when the referenced message was not delivered with the event.
func Inbound(m *discordgo.Message, botID string, replyToBot bool) interaction.InboundMessage {
	in := interaction.InboundMessage{
		ID:         m.ID,
		Content:    m.Content,
		ChannelID:  m.ChannelID,
		GuildID:    m.GuildID,
		ReplyToBot: replyToBot,
	}
	if m.Author != nil {
		in.AuthorID = m.Author.ID
		in.AuthorBot = m.Author.Bot
	}
	if botID != "" {
		for _, u := range m.Mentions {
			if u != nil && u.ID == botID {
				in.MentionsBot = true
				break
			}
		}
	}
	return in
}

// RequestFromMessage builds the request of an accepted ambient message.
func RequestFromMessage(m *discordgo.Message, query, locale string) domain.Request {
	req := domain.Request{
		Query:     query,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Locale:    locale,
		Origin:    domain.OriginMessage,
	}
	if req.Locale == "" {
		req.Locale = i18n.DefaultLocale
	}
	if m.Author != nil {
		req.UserID = m.Author.ID
		req.UserName = m.Author.Username
	}
	return req
}

// History converts channel messages, keeping their newest-first order.
func History(msgs []*discordgo.Message) []domain.HistoryMessage {
	out := make([]domain.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		h := domain.HistoryMessage{Content: m.Content}
		if m.Author != nil {
			h.AuthorID = m.Author.ID
		}
		out = append(out, h)
	}
	return out
}
