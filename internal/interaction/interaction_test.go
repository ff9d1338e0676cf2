package interaction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/tbourn/go-ask-gateway/internal/dispatch"
	"github.com/tbourn/go-ask-gateway/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ---- fakes ----

type sent struct {
	Where string // "channel" or "dm"
	To    string
	Reply string
	Msg   dispatch.Message
}

type fakeMessageSession struct {
	mu      sync.Mutex
	typing  atomic.Int32
	sent    []sent
	dmErr   error
	sendErr error

	// failAt fails the n-th attempt (1-based) of Send or SendDirect.
	failAt     map[int]bool
	attempts   int
	dmAttempts int
}

func (f *fakeMessageSession) Typing(context.Context, string) error {
	f.typing.Add(1)
	return nil
}

func (f *fakeMessageSession) Send(_ context.Context, channelID, replyTo string, m dispatch.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.failAt[f.attempts] {
		return errors.New("channel send failed")
	}
	f.sent = append(f.sent, sent{Where: "channel", To: channelID, Reply: replyTo, Msg: m})
	return nil
}

func (f *fakeMessageSession) SendDirect(_ context.Context, userID string, m dispatch.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dmAttempts++
	if f.dmErr != nil {
		return f.dmErr
	}
	if f.failAt[f.dmAttempts] {
		return errors.New("direct send failed")
	}
	f.sent = append(f.sent, sent{Where: "dm", To: userID, Msg: m})
	return nil
}

type fakeCommandSession struct {
	calls     []string
	deferErr  error
	deleteErr error
	last      dispatch.Message
}

func (f *fakeCommandSession) Defer(context.Context) error {
	f.calls = append(f.calls, "defer")
	return f.deferErr
}
func (f *fakeCommandSession) Respond(_ context.Context, m dispatch.Message) error {
	f.calls, f.last = append(f.calls, "respond"), m
	return nil
}
func (f *fakeCommandSession) EditResponse(_ context.Context, m dispatch.Message) error {
	f.calls, f.last = append(f.calls, "edit"), m
	return nil
}
func (f *fakeCommandSession) FollowUp(_ context.Context, m dispatch.Message) error {
	f.calls, f.last = append(f.calls, "followup"), m
	return nil
}
func (f *fakeCommandSession) DeleteResponse(context.Context) error {
	f.calls = append(f.calls, "delete")
	return f.deleteErr
}

func msgRequest() domain.Request {
	return domain.Request{Query: "hi", UserID: "u1", ChannelID: "c1", GuildID: "g1"}
}

// ---- Accept ----

func TestAccept(t *testing.T) {
	const bot = "999"
	cases := []struct {
		name  string
		in    InboundMessage
		query string
		ok    bool
	}{
		{"bot author ignored", InboundMessage{AuthorBot: true, Content: "hi"}, "", false},
		{"guild message without trigger", InboundMessage{GuildID: "g", Content: "hi"}, "", false},
		{"direct message", InboundMessage{Content: "  what time is it  "}, "what time is it", true},
		{"mention stripped", InboundMessage{GuildID: "g", MentionsBot: true, Content: "<@999> capital of France?"}, "capital of France?", true},
		{"nick mention stripped", InboundMessage{GuildID: "g", MentionsBot: true, Content: "hey <@!999> there"}, "hey  there", true},
		{"mention only becomes greeting", InboundMessage{GuildID: "g", MentionsBot: true, Content: "<@999> "}, GreetingQuery, true},
		{"reply to bot", InboundMessage{GuildID: "g", ReplyToBot: true, Content: "and then?"}, "and then?", true},
		{"other mentions kept", InboundMessage{GuildID: "g", MentionsBot: true, Content: "<@999> ask <@123>"}, "ask <@123>", true},
		{"empty direct message becomes greeting", InboundMessage{Content: ""}, GreetingQuery, true},
	}
	for _, tc := range cases {
		q, ok := Accept(tc.in, bot)
		if ok != tc.ok || q != tc.query {
			t.Fatalf("%s: Accept = (%q, %v), want (%q, %v)", tc.name, q, ok, tc.query, tc.ok)
		}
	}
}

func TestIsHelp(t *testing.T) {
	if !IsHelp("!help") || IsHelp("!help me") || IsHelp(" !help") {
		t.Fatalf("IsHelp must match the exact trigger only")
	}
}

// ---- typing ticker ----

func TestTypingTicker_SignalsUntilStopped(t *testing.T) {
	var n atomic.Int32
	stop := startTypingTicker(context.Background(), func(context.Context) error {
		n.Add(1)
		return errors.New("ignored")
	}, 2*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	stop()
	stop() // idempotent
	after := n.Load()
	if after < 3 {
		t.Fatalf("expected repeated signals, got %d", after)
	}
	time.Sleep(10 * time.Millisecond)
	if n.Load() != after {
		t.Fatalf("signals continued after stop")
	}
}

func TestTypingTicker_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := startTypingTicker(ctx, func(context.Context) error { return nil }, time.Hour)
	cancel()
	stop()
}

func TestTypingTicker_NilSignalIsNoop(t *testing.T) {
	stop := startTypingTicker(context.Background(), nil, time.Millisecond)
	stop()
}

// ---- Message adapter ----

func TestMessage_DeferStartsTypingAndReplyStopsIt(t *testing.T) {
	s := &fakeMessageSession{}
	m := NewMessage(msgRequest(), "m1", s, 2*time.Millisecond)
	defer m.Close()

	if m.Request().Origin != domain.OriginMessage {
		t.Fatalf("origin not forced to message")
	}
	if err := m.DeferReply(context.Background()); err != nil {
		t.Fatalf("DeferReply: %v", err)
	}
	if err := m.DeferReply(context.Background()); err != nil {
		t.Fatalf("second DeferReply: %v", err)
	}
	if s.typing.Load() < 1 {
		t.Fatalf("typing must be signalled immediately")
	}

	if err := m.EditReply(context.Background(), dispatch.Message{Content: "answer\n\nmore"}); err != nil {
		t.Fatalf("EditReply: %v", err)
	}
	after := s.typing.Load()
	time.Sleep(10 * time.Millisecond)
	if s.typing.Load() != after {
		t.Fatalf("typing continued after reply")
	}

	want := []sent{{Where: "channel", To: "c1", Reply: "m1", Msg: dispatch.Message{Content: "> answer\n> \n> more"}}}
	if diff := cmp.Diff(want, s.sent); diff != "" {
		t.Fatalf("sent (-want +got):\n%s", diff)
	}
}

func TestMessage_CloseWithoutReplyReleasesTicker(t *testing.T) {
	s := &fakeMessageSession{}
	m := NewMessage(msgRequest(), "m1", s, time.Millisecond)
	_ = m.DeferReply(context.Background())
	m.Close()
	m.Close()
}

func TestMessage_SplitsAt2000WithFilesOnFirst(t *testing.T) {
	s := &fakeMessageSession{}
	m := NewMessage(msgRequest(), "m1", s, 0)
	files := []dispatch.File{{Name: "a.png", Data: []byte{1}}}

	// Quoting adds two characters, so 3998 characters give one 4000 quoted
	// line that splits into two full chunks.
	if err := m.Reply(context.Background(), dispatch.Message{Content: strings.Repeat("x", 3998), Files: files}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(s.sent) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(s.sent))
	}
	if len(s.sent[0].Msg.Content) != 2000 || len(s.sent[1].Msg.Content) != 2000 {
		t.Fatalf("chunk sizes = %d, %d", len(s.sent[0].Msg.Content), len(s.sent[1].Msg.Content))
	}
	if len(s.sent[0].Msg.Files) != 1 || len(s.sent[1].Msg.Files) != 0 {
		t.Fatalf("files must ride on the first chunk only")
	}
}

func TestMessage_EphemeralGoesToDirectMessage(t *testing.T) {
	s := &fakeMessageSession{}
	m := NewMessage(msgRequest(), "m1", s, 0)
	if err := m.Reply(context.Background(), dispatch.Message{Content: "private", Ephemeral: true}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(s.sent) != 1 || s.sent[0].Where != "dm" || s.sent[0].To != "u1" || s.sent[0].Msg.Content != "> private" {
		t.Fatalf("unexpected sends: %+v", s.sent)
	}
}

func TestMessage_EphemeralNeverPostsContentInChannel(t *testing.T) {
	s := &fakeMessageSession{dmErr: errors.New("dms closed")}
	m := NewMessage(msgRequest(), "m1", s, 0)
	if err := m.Reply(context.Background(), dispatch.Message{Content: "Rate limit exceeded: private", Ephemeral: true}); err == nil {
		t.Fatalf("expected the direct message error")
	}
	want := []sent{{Where: "channel", To: "c1", Reply: "m1", Msg: dispatch.Message{Content: "> " + DirectMessageNotice}}}
	if diff := cmp.Diff(want, s.sent); diff != "" {
		t.Fatalf("sends mismatch (-want +got):\n%s", diff)
	}
}

func TestMessage_EphemeralLaterChunkFailureStaysPrivate(t *testing.T) {
	s := &fakeMessageSession{failAt: map[int]bool{2: true}}
	m := NewMessage(msgRequest(), "m1", s, 0)
	if err := m.Reply(context.Background(), dispatch.Message{Content: strings.Repeat("p", 5000), Ephemeral: true}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if s.dmAttempts != 3 || s.attempts != 0 {
		t.Fatalf("dm attempts=%d channel attempts=%d", s.dmAttempts, s.attempts)
	}
	if len(s.sent) != 2 || s.sent[0].Where != "dm" || s.sent[1].Where != "dm" {
		t.Fatalf("unexpected sends: %+v", s.sent)
	}
}

func TestMessage_ChunkFailureDoesNotStopLaterChunks(t *testing.T) {
	s := &fakeMessageSession{failAt: map[int]bool{2: true}}
	m := NewMessage(msgRequest(), "m1", s, 0)

	// 5000 characters quote to 5002: chunks of 2000, 2000 and 1002.
	if err := m.EditReply(context.Background(), dispatch.Message{Content: strings.Repeat("x", 5000)}); err != nil {
		t.Fatalf("EditReply: %v", err)
	}
	if s.attempts != 3 {
		t.Fatalf("expected 3 send attempts, got %d", s.attempts)
	}
	sizes := make([]int, len(s.sent))
	for i, c := range s.sent {
		sizes[i] = len(c.Msg.Content)
	}
	if diff := cmp.Diff([]int{2000, 1002}, sizes); diff != "" {
		t.Fatalf("delivered chunks (-want +got):\n%s", diff)
	}
}

func TestMessage_URLListRidesOnFirstChunk(t *testing.T) {
	s := &fakeMessageSession{}
	m := NewMessage(msgRequest(), "m1", s, 0)
	const url = "https://cdn.example/fox.png"
	text := strings.Repeat("t", 2500)
	msgs := dispatch.Layout(text, []domain.Image{{URL: url}}, dispatch.Options{Origin: domain.OriginMessage})
	if len(msgs) != 1 {
		t.Fatalf("expected one raw payload, got %d", len(msgs))
	}
	if err := m.EditReply(context.Background(), msgs[0]); err != nil {
		t.Fatalf("EditReply: %v", err)
	}
	if len(s.sent) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(s.sent))
	}
	first := s.sent[0].Msg.Content
	if !strings.HasSuffix(first, "\n\n"+url) || len(first) > dispatch.MessageLimit {
		t.Fatalf("first chunk len=%d must end with the URL list", len(first))
	}
	if strings.Contains(s.sent[1].Msg.Content, url) {
		t.Fatalf("URL list leaked into a later chunk")
	}
	rebuilt := strings.TrimSuffix(first, "\n\n"+url) + s.sent[1].Msg.Content
	if rebuilt != dispatch.Quote(text) {
		t.Fatalf("text was lost while making room for the URL list")
	}
}

func TestMessage_SendErrorSurfaces(t *testing.T) {
	s := &fakeMessageSession{sendErr: errors.New("missing access")}
	m := NewMessage(msgRequest(), "m1", s, 0)
	if err := m.FollowUp(context.Background(), dispatch.Message{Content: "x"}); err == nil {
		t.Fatalf("expected send error")
	}
}

// ---- Command adapter ----

func TestCommand_DeferOnceAndEdit(t *testing.T) {
	s := &fakeCommandSession{}
	c := NewCommand(domain.Request{Origin: domain.OriginMessage}, s)
	defer c.Close()
	if c.Request().Origin != domain.OriginCommand {
		t.Fatalf("origin not forced to command")
	}
	_ = c.DeferReply(context.Background())
	_ = c.DeferReply(context.Background())
	_ = c.EditReply(context.Background(), dispatch.Message{Content: "done"})
	_ = c.FollowUp(context.Background(), dispatch.Message{Content: "more"})

	if diff := cmp.Diff([]string{"defer", "edit", "followup"}, s.calls); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
}

func TestCommand_DeferFailureAllowsRetry(t *testing.T) {
	s := &fakeCommandSession{deferErr: errors.New("unknown interaction")}
	c := NewCommand(domain.Request{}, s)
	if err := c.DeferReply(context.Background()); err == nil {
		t.Fatalf("expected defer error")
	}
	s.deferErr = nil
	if err := c.DeferReply(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(s.calls) != 2 {
		t.Fatalf("expected two defer attempts, got %v", s.calls)
	}
}

func TestCommand_PrivateEditReplacesPlaceholder(t *testing.T) {
	s := &fakeCommandSession{deleteErr: errors.New("already gone")}
	c := NewCommand(domain.Request{}, s)
	if err := c.EditReply(context.Background(), dispatch.Message{Content: "> nope", Ephemeral: true}); err != nil {
		t.Fatalf("EditReply: %v", err)
	}
	if diff := cmp.Diff([]string{"delete", "followup"}, s.calls); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
	if !s.last.Ephemeral {
		t.Fatalf("follow-up must stay private")
	}
}

func TestCommand_ReplyResponds(t *testing.T) {
	s := &fakeCommandSession{}
	c := NewCommand(domain.Request{}, s)
	_ = c.Reply(context.Background(), dispatch.Message{Content: "hi", Ephemeral: true})
	if len(s.calls) != 1 || s.calls[0] != "respond" || !s.last.Ephemeral {
		t.Fatalf("unexpected: %v %+v", s.calls, s.last)
	}
}
