package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/tbourn/go-ask-gateway/internal/domain"
	"github.com/tbourn/go-ask-gateway/internal/provider"
	"github.com/tbourn/go-ask-gateway/internal/repo"
)

func intp(n int) *int       { return &n }
func int64p(n int64) *int64 { return &n }

func TestLedger_NilDB(t *testing.T) {
	var l *UsageLedger
	if id, err := l.RecordPreCall(context.Background(), domain.Request{Query: "q"}); id != "" || !errors.Is(err, ErrNoLedger) {
		t.Fatalf("nil ledger: got (%q, %v)", id, err)
	}
	l = &UsageLedger{}
	if err := l.RecordSuccess(context.Background(), "x", domain.Outcome{}); !errors.Is(err, ErrNoLedger) {
		t.Fatalf("expected ErrNoLedger, got %v", err)
	}
	if err := (&UsageLedger{DB: newSvcDB(t)}).RecordFailure(context.Background(), "", "m", nil, nil); !errors.Is(err, ErrNoLedger) {
		t.Fatalf("empty id must not be written, got %v", err)
	}
}

func TestLedger_PreCallThenSuccess(t *testing.T) {
	db := newSvcDB(t)
	l := &UsageLedger{DB: db}
	ctx := context.Background()

	id, err := l.RecordPreCall(ctx, domain.Request{
		Query: "capital of France", UserID: "u1", UserName: "ann",
		ChannelID: "c1", ChannelName: "general", GuildID: "g1", GuildName: "club",
		Locale: "en-US", Origin: domain.OriginMessage,
	})
	if err != nil || id == "" {
		t.Fatalf("RecordPreCall: id=%q err=%v", id, err)
	}

	err = l.RecordSuccess(ctx, id, domain.Outcome{
		ResponseText:     "Paris.",
		ModelFull:        "gpt-4.1-mini-2025-04-14",
		InputTokens:      intp(10),
		OutputTokens:     intp(5),
		TotalTokens:      intp(15),
		ResponseMs:       1234,
		CompletedAt:      int64p(1700000000),
		SafetyViolations: []string{"a", "b"},
		RequestID:        "resp_1",
		ResponseStatus:   "completed",
		ServiceTier:      "default",
		Meta:             map[string]any{"id": "resp_1", "result": strings.Repeat("A", 500)},
	})
	if err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	rec, err := repo.GetUsage(ctx, db, id)
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if rec.Origin != "message" || rec.UserName != "ann" || rec.GuildName != "club" || rec.Query != "capital of France" {
		t.Fatalf("pre-call fields unexpected: %+v", rec)
	}
	if rec.Model != "gpt" || rec.ModelFull != "gpt-4.1-mini-2025-04-14" {
		t.Fatalf("model fields unexpected: %q %q", rec.Model, rec.ModelFull)
	}
	if rec.TokensUsed == nil || *rec.TokensUsed != 15 || *rec.InputTokens != 10 || *rec.OutputTokens != 5 || *rec.TotalTokens != 15 {
		t.Fatalf("tokens unexpected: %+v", rec)
	}
	if rec.ResponseMs == nil || *rec.ResponseMs != 1234 {
		t.Fatalf("response_ms unexpected: %v", rec.ResponseMs)
	}
	if rec.CompletedAt == nil || rec.CompletedAt.Unix() != 1700000000 {
		t.Fatalf("completed_at unexpected: %v", rec.CompletedAt)
	}
	if rec.SafetyViolations != "a,b" || rec.ErrorFlag || rec.RequestID != "resp_1" || rec.ResponseStatus != "completed" || rec.ServiceTier != "default" {
		t.Fatalf("outcome fields unexpected: %+v", rec)
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(rec.ResponseMeta), &meta); err != nil {
		t.Fatalf("meta not JSON: %v", err)
	}
	if meta["result"] != "<<result truncated, length=500>>" {
		t.Fatalf("meta not sanitized: %v", meta["result"])
	}
}

func TestLedger_Failure(t *testing.T) {
	db := newSvcDB(t)
	l := &UsageLedger{DB: db}
	ctx := context.Background()
	id, _ := l.RecordPreCall(ctx, domain.Request{Query: "q", UserID: "u"})

	cause := &provider.APIError{Status: 400, Message: "blocked", SafetyViolations: []string{"violence"}}
	if err := l.RecordFailure(ctx, id, PolicyMessage([]string{"violence"}), []string{"violence"}, cause); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	rec, _ := repo.GetUsage(ctx, db, id)
	if !rec.ErrorFlag || rec.SafetyViolations != "violence" || !strings.Contains(rec.ResponseText, "(violence)") {
		t.Fatalf("failure fields unexpected: %+v", rec)
	}
	if !strings.Contains(rec.ResponseMeta, "blocked") {
		t.Fatalf("error snapshot missing: %q", rec.ResponseMeta)
	}

	if err := l.RecordFailure(ctx, "missing", "m", nil, nil); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown row, got %v", err)
	}
}

func TestLedger_ImagesStoreBinaryOnly(t *testing.T) {
	db := newSvcDB(t)
	l := &UsageLedger{DB: db}
	ctx := context.Background()
	id, _ := l.RecordPreCall(ctx, domain.Request{Query: "draw", UserID: "u"})

	err := l.RecordImages(ctx, id, []domain.Image{
		{Data: []byte{1, 2, 3}, Filename: "image_ig1.png", Mime: "image/png", Description: "a fox"},
		{URL: "https://cdn/x.png", Filename: "image.png"},
		{Data: []byte{9}, Filename: "raw.bin"},
	})
	if err != nil {
		t.Fatalf("RecordImages: %v", err)
	}
	rows := loadUsage(t, db)[0].Images
	if len(rows) != 2 {
		t.Fatalf("expected 2 stored images, got %d", len(rows))
	}
	byName := map[string]domain.UsageImage{}
	for _, r := range rows {
		byName[r.Filename] = r
	}
	fox := byName["image_ig1.png"]
	if string(fox.Data) != "\x01\x02\x03" || fox.Meta != `{"description":"a fox","mime":"image/png"}` {
		t.Fatalf("fox row unexpected: %+v", fox)
	}
	if raw := byName["raw.bin"]; raw.Mime != "image/png" || raw.Meta != `{"description":null,"mime":"image/png"}` {
		t.Fatalf("default mime/meta unexpected: %+v", raw)
	}
}

func TestModelFamily(t *testing.T) {
	cases := map[string]string{
		"gpt-4.1-mini-2025-04-14": "gpt",
		"o3":                      "o3",
		"":                        "",
	}
	for in, want := range cases {
		if got := ModelFamily(in); got != want {
			t.Fatalf("ModelFamily(%q) = %q, want %q", in, got, want)
		}
	}
}
