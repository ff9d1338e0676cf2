package dispatch

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/tbourn/go-ask-gateway/internal/domain"
	"github.com/tbourn/go-ask-gateway/internal/observability"
	"github.com/tbourn/go-ask-gateway/internal/sysutil"
)

// File is a binary attachment.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is one outbound payload. Ephemeral messages are visible to the
// requester only. URLs is set only on raw message-origin payloads; the
// adapter that chunks them appends the list to its first chunk.
type Message struct {
	Content   string
	Files     []File
	URLs      []string
	Ephemeral bool
}

// Replier is the outbound half of an interaction. Reply answers directly,
// EditReply replaces a deferred placeholder and FollowUp appends after the
// first answer.
type Replier interface {
	Reply(ctx context.Context, m Message) error
	EditReply(ctx context.Context, m Message) error
	FollowUp(ctx context.Context, m Message) error
}

// Options controls how Deliver shapes and routes a reply.
type Options struct {
	// Origin selects the ceiling and quoting. Message-origin replies are
	// quoted and split by the adapter itself, so Deliver sends them raw.
	Origin domain.Origin
	// Deferred routes the first message through EditReply.
	Deferred bool
	// Ephemeral marks every produced message private.
	Ephemeral bool
	// Plain skips block quoting.
	Plain bool
}

// Attachments separates binary images from URL-only references.
func Attachments(images []domain.Image) (files []File, urls []string) {
	for _, img := range images {
		switch {
		case img.IsBinary():
			files = append(files, File{Name: img.Filename, ContentType: img.Mime, Data: img.Data})
		case img.URL != "":
			urls = append(urls, img.URL)
		}
	}
	return files, urls
}

// Layout computes the ordered outbound messages for text and images without
// sending anything. Files and the URL list ride on the first message only.
func Layout(text string, images []domain.Image, opt Options) []Message {
	files, urls := Attachments(images)

	if opt.Origin == domain.OriginMessage {
		return []Message{{Content: text, Files: files, URLs: urls, Ephemeral: opt.Ephemeral}}
	}

	body := text
	if !opt.Plain {
		body = Quote(text)
	}
	chunks := Chunk(body, urls, CommandLimit)

	out := make([]Message, len(chunks))
	for i, c := range chunks {
		out[i] = Message{Content: c, Ephemeral: opt.Ephemeral}
	}
	out[0].Files = files
	return out
}

// Chunk splits body into pieces of at most limit characters and appends the
// URL list to the first piece, shortening that piece when the list would not
// fit. It always returns at least one piece.
func Chunk(body string, urls []string, limit int) []string {
	chunks := Split(body, limit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	suffix := urlSuffix(urls)
	if suffix == "" {
		return chunks
	}
	if utf8.RuneCountInString(suffix) >= limit {
		suffix = truncate(suffix, limit/2)
	}
	room := limit - utf8.RuneCountInString(suffix)
	if utf8.RuneCountInString(chunks[0]) > room {
		first := truncate(body, room)
		chunks = append([]string{first}, Split(body[len(first):], limit)...)
	}
	chunks[0] += suffix
	return chunks
}

// Deliver sends the layout of text and images through r. The first message
// goes through EditReply when deferred, else Reply; the rest are sent in
// order through FollowUp. A failed follow-up is logged and skipped. The
// returned error reports only the first message.
func Deliver(ctx context.Context, r Replier, text string, images []domain.Image, opt Options) error {
	msgs := Layout(text, images, opt)

	send := r.Reply
	if opt.Deferred {
		send = r.EditReply
	}
	var firstErr error
	if err := send(ctx, msgs[0]); err != nil {
		observability.DeliveryFailures.WithLabelValues(observability.StageFirst).Inc()
		firstErr = fmt.Errorf("deliver first message: %w", err)
	}

	SendChunks(ctx, msgs[1:], r.FollowUp, 1)
	return firstErr
}

// SendChunks sends msgs one after another, each only after the previous
// send returned. Failures are logged with their position (offset + index)
// and do not stop the sequence. It returns the number of failed sends.
func SendChunks(ctx context.Context, msgs []Message, send func(context.Context, Message) error, offset int) int {
	failed := 0
	for i, m := range msgs {
		if err := send(ctx, m); err != nil {
			failed++
			observability.DeliveryFailures.WithLabelValues(observability.StageFollowUp).Inc()
			sysutil.Logger(ctx).Warn().Err(err).Int("idx", offset+i).Msg("failed to send follow-up chunk")
		}
	}
	return failed
}
