// Package interaction presents the two trigger shapes of the chat platform,
// a structured slash command and an ambient chat message, behind one
// Interaction interface consumed by the ask handler.
package interaction

import (
	"context"
	"strings"

	"github.com/tbourn/go-ask-gateway/internal/dispatch"
	"github.com/tbourn/go-ask-gateway/internal/domain"
)

// GreetingQuery replaces an ambient message that is empty once bot mentions
// are stripped.
const GreetingQuery = "Hello!"

// HelpTrigger is the ambient-message spelling of the help command.
const HelpTrigger = "!help"

// Interaction is one inbound trigger together with its reply paths.
//
// DeferReply acknowledges the trigger before a slow answer: a placeholder for
// commands, a recurring typing signal for messages. Close releases whatever
// DeferReply acquired and is safe to call more than once; callers defer it
// right after obtaining the Interaction.
type Interaction interface {
	Request() domain.Request
	DeferReply(ctx context.Context) error
	dispatch.Replier
	Close()
}

// InboundMessage is the platform-neutral view of an ambient chat message.
type InboundMessage struct {
	ID        string
	Content   string
	AuthorID  string
	AuthorBot bool
	ChannelID string
	// GuildID is empty for direct messages.
	GuildID string
	// MentionsBot reports an explicit mention of the bot user.
	MentionsBot bool
	// ReplyToBot reports that the message replies to one of the bot's messages.
	ReplyToBot bool
}

// Accept applies the ambient trigger filter. Messages by bots are ignored;
// otherwise a message is handled when it is a direct message, mentions the
// bot, or replies to the bot. Mention tokens are stripped from the returned
// query, and an empty residue becomes GreetingQuery.
func Accept(m InboundMessage, botID string) (query string, ok bool) {
	if m.AuthorBot {
		return "", false
	}
	if m.GuildID != "" && !m.MentionsBot && !m.ReplyToBot {
		return "", false
	}

	text := m.Content
	if m.MentionsBot && botID != "" {
		text = strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "").Replace(text)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = GreetingQuery
	}
	return text, true
}

// IsHelp reports whether an ambient message asks for help.
func IsHelp(content string) bool {
	return content == HelpTrigger
}
