package interaction

import (
	"context"
	"sync"

	"github.com/tbourn/go-ask-gateway/internal/dispatch"
	"github.com/tbourn/go-ask-gateway/internal/domain"
	"github.com/tbourn/go-ask-gateway/internal/sysutil"
)

// CommandSession is the platform side of one slash-command invocation.
type CommandSession interface {
	// Defer posts a public "thinking" placeholder.
	Defer(ctx context.Context) error
	// Respond answers an invocation that was not deferred.
	Respond(ctx context.Context, m dispatch.Message) error
	// EditResponse replaces the placeholder.
	EditResponse(ctx context.Context, m dispatch.Message) error
	FollowUp(ctx context.Context, m dispatch.Message) error
	// DeleteResponse removes the placeholder.
	DeleteResponse(ctx context.Context) error
}

// Command adapts a slash-command invocation.
type Command struct {
	req domain.Request
	s   CommandSession

	mu       sync.Mutex
	deferred bool
}

var _ Interaction = (*Command)(nil)

// NewCommand wraps s. req.Origin is forced to OriginCommand.
func NewCommand(req domain.Request, s CommandSession) *Command {
	req.Origin = domain.OriginCommand
	return &Command{req: req, s: s}
}

func (c *Command) Request() domain.Request { return c.req }

// DeferReply posts the placeholder once.
func (c *Command) DeferReply(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deferred {
		return nil
	}
	if err := c.s.Defer(ctx); err != nil {
		return err
	}
	c.deferred = true
	return nil
}

func (c *Command) Reply(ctx context.Context, m dispatch.Message) error {
	return c.s.Respond(ctx, m)
}

// EditReply replaces the placeholder. The placeholder is public, so a private
// message cannot be edited into it: the placeholder is deleted instead and
// the message goes out as a private follow-up.
func (c *Command) EditReply(ctx context.Context, m dispatch.Message) error {
	if !m.Ephemeral {
		return c.s.EditResponse(ctx, m)
	}
	if err := c.s.DeleteResponse(ctx); err != nil {
		sysutil.Logger(ctx).Debug().Err(err).Msg("failed to delete deferred placeholder")
	}
	return c.s.FollowUp(ctx, m)
}

func (c *Command) FollowUp(ctx context.Context, m dispatch.Message) error {
	return c.s.FollowUp(ctx, m)
}

// Close is a no-op; commands hold no background resources.
func (c *Command) Close() {}
