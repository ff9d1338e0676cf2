package interaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tbourn/go-ask-gateway/internal/dispatch"
	"github.com/tbourn/go-ask-gateway/internal/domain"
	"github.com/tbourn/go-ask-gateway/internal/sysutil"
)

// DirectMessageNotice is posted in the channel when a private reply cannot
// reach the author's direct messages. It carries none of the reply.
const DirectMessageNotice = "I could not send you a direct message. Please allow direct messages from server members to see my reply."

var errNoRecipient = errors.New("private reply without a recipient")

// MessageSession is the platform side of an ambient message conversation.
type MessageSession interface {
	// Typing shows the typing indicator in a channel.
	Typing(ctx context.Context, channelID string) error
	// Send posts m in channelID, as a reply to replyToID when it is set.
	Send(ctx context.Context, channelID, replyToID string, m dispatch.Message) error
	// SendDirect posts m in the direct-message channel with userID.
	SendDirect(ctx context.Context, userID string, m dispatch.Message) error
}

// Message adapts an ambient chat message. Every outbound payload is block
// quoted and split at dispatch.MessageLimit here, which is why Deliver sends
// message-origin answers raw.
type Message struct {
	req       domain.Request
	s         MessageSession
	messageID string
	interval  time.Duration

	mu         sync.Mutex
	stopTyping func()
}

var _ Interaction = (*Message)(nil)

// NewMessage wraps an accepted ambient message. req.Origin is forced to
// OriginMessage. interval <= 0 selects DefaultTypingInterval.
func NewMessage(req domain.Request, messageID string, s MessageSession, interval time.Duration) *Message {
	req.Origin = domain.OriginMessage
	return &Message{req: req, s: s, messageID: messageID, interval: interval}
}

func (m *Message) Request() domain.Request { return m.req }

// DeferReply starts the typing ticker. It never fails: an unreachable
// channel just means no indicator.
func (m *Message) DeferReply(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopTyping != nil {
		return nil
	}
	channelID := m.req.ChannelID
	m.stopTyping = startTypingTicker(ctx, func(ctx context.Context) error {
		return m.s.Typing(ctx, channelID)
	}, m.interval)
	return nil
}

func (m *Message) Reply(ctx context.Context, msg dispatch.Message) error {
	m.Close()
	return m.send(ctx, msg)
}

func (m *Message) EditReply(ctx context.Context, msg dispatch.Message) error {
	m.Close()
	return m.send(ctx, msg)
}

func (m *Message) FollowUp(ctx context.Context, msg dispatch.Message) error {
	m.Close()
	return m.send(ctx, msg)
}

// Close stops the typing ticker if one is running.
func (m *Message) Close() {
	m.mu.Lock()
	stop := m.stopTyping
	m.stopTyping = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// send quotes and chunks msg. Private payloads go only to the author's
// direct messages; when the first of them cannot be delivered the channel
// gets DirectMessageNotice instead of the content.
func (m *Message) send(ctx context.Context, msg dispatch.Message) error {
	chunks := m.chunks(msg)

	if !msg.Ephemeral {
		return sendChunks(ctx, chunks, func(ctx context.Context, c dispatch.Message) error {
			return m.s.Send(ctx, m.req.ChannelID, m.messageID, c)
		})
	}

	if m.req.UserID == "" {
		return errNoRecipient
	}
	err := sendChunks(ctx, chunks, func(ctx context.Context, c dispatch.Message) error {
		return m.s.SendDirect(ctx, m.req.UserID, c)
	})
	if err == nil {
		return nil
	}
	lg := sysutil.Logger(ctx)
	lg.Warn().Err(err).Str("user_id", m.req.UserID).Msg("direct message failed, private reply dropped")
	notice := dispatch.Message{Content: dispatch.Quote(DirectMessageNotice)}
	if nerr := m.s.Send(ctx, m.req.ChannelID, m.messageID, notice); nerr != nil {
		lg.Warn().Err(nerr).Msg("direct message notice failed")
	}
	return err
}

// chunks quotes msg and splits it at dispatch.MessageLimit. Files and the URL
// list go on the first chunk.
func (m *Message) chunks(msg dispatch.Message) []dispatch.Message {
	parts := dispatch.Chunk(dispatch.Quote(msg.Content), msg.URLs, dispatch.MessageLimit)
	out := make([]dispatch.Message, len(parts))
	for i, p := range parts {
		out[i] = dispatch.Message{Content: p}
	}
	out[0].Files = msg.Files
	return out
}

// sendChunks sends every chunk in order. Only the first chunk's failure is
// returned; later failures are logged by dispatch.SendChunks and skipped.
func sendChunks(ctx context.Context, chunks []dispatch.Message, send func(context.Context, dispatch.Message) error) error {
	var firstErr error
	if err := send(ctx, chunks[0]); err != nil {
		firstErr = fmt.Errorf("send first chunk: %w", err)
	}
	dispatch.SendChunks(ctx, chunks[1:], send, 1)
	return firstErr
}
