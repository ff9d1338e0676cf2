package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-ask-gateway/internal/dispatch"
	"github.com/tbourn/go-ask-gateway/internal/domain"
	"github.com/tbourn/go-ask-gateway/internal/provider"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&domain.UsageRecord{}, &domain.UsageImage{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func loadUsage(t *testing.T, db *gorm.DB) []domain.UsageRecord {
	t.Helper()
	var out []domain.UsageRecord
	if err := db.Preload("Images").Order("created_at ASC").Find(&out).Error; err != nil {
		t.Fatalf("load usage: %v", err)
	}
	return out
}

// fakeInteraction records every outbound call.
type fakeInteraction struct {
	req domain.Request

	mu       sync.Mutex
	calls    []ixCall
	deferErr error
	sendErr  error
	closed   bool
}

type ixCall struct {
	Kind string
	Msg  dispatch.Message
}

func (f *fakeInteraction) Request() domain.Request { return f.req }

func (f *fakeInteraction) DeferReply(context.Context) error {
	f.record("defer", dispatch.Message{})
	return f.deferErr
}

func (f *fakeInteraction) Reply(_ context.Context, m dispatch.Message) error {
	f.record("reply", m)
	return f.sendErr
}

func (f *fakeInteraction) EditReply(_ context.Context, m dispatch.Message) error {
	f.record("edit", m)
	return f.sendErr
}

func (f *fakeInteraction) FollowUp(_ context.Context, m dispatch.Message) error {
	f.record("followup", m)
	return f.sendErr
}

func (f *fakeInteraction) Close() { f.closed = true }

func (f *fakeInteraction) record(kind string, m dispatch.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ixCall{Kind: kind, Msg: m})
}

func (f *fakeInteraction) kinds() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Kind
	}
	return out
}

// fakeProvider returns a canned response or error and captures the payload.
type fakeProvider struct {
	resp  map[string]any
	err   error
	panic bool
	got   []domain.Turn
	calls int
}

func (p *fakeProvider) Create(_ context.Context, req provider.Request) (map[string]any, error) {
	p.calls++
	p.got = req.Turns
	if p.panic {
		panic("boom")
	}
	return p.resp, p.err
}

// fakePlatform serves enrichment and history.
type fakePlatform struct {
	bot         string
	channelName string
	guildName   string
	chErr       error
	guildErr    error
	history     []domain.HistoryMessage
	historyErr  error
	guildCalls  int
	lastLimit   int
}

func (p *fakePlatform) BotUserID() string { return p.bot }

func (p *fakePlatform) ChannelInfo(context.Context, string) (string, string, error) {
	return p.channelName, "", p.chErr
}

func (p *fakePlatform) GuildName(context.Context, string) (string, error) {
	p.guildCalls++
	return p.guildName, p.guildErr
}

func (p *fakePlatform) RecentMessages(_ context.Context, _ string, limit int) ([]domain.HistoryMessage, error) {
	p.lastLimit = limit
	return p.history, p.historyErr
}
