package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-ask-gateway/internal/config"
	"github.com/tbourn/go-ask-gateway/internal/domain"
	"github.com/tbourn/go-ask-gateway/internal/repo"
)

func TestUsageService_ListPageNewestFirst(t *testing.T) {
	db := newSvcDB(t)
	s := NewUsageService(db)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := domain.UsageRecord{ID: uuid.NewString(), UserID: "u1", ChannelID: "c1", Query: "q", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if i == 4 {
			rec.UserID = "u2"
		}
		if err := db.Create(&rec).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	items, total, err := s.ListPage(ctx, repo.UsageFilter{UserID: "u1"}, 1, 3)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 4 || len(items) != 3 {
		t.Fatalf("total=%d len=%d, want 4/3", total, len(items))
	}
	if !items[0].CreatedAt.After(items[1].CreatedAt) {
		t.Fatalf("expected newest first: %v then %v", items[0].CreatedAt, items[1].CreatedAt)
	}

	items, _, _ = s.ListPage(ctx, repo.UsageFilter{UserID: "u1"}, 2, 3)
	if len(items) != 1 {
		t.Fatalf("page 2 len=%d, want 1", len(items))
	}

	items, total, err = s.ListPage(ctx, repo.UsageFilter{GuildID: "none"}, 0, 0)
	if err != nil || total != 0 || items == nil || len(items) != 0 {
		t.Fatalf("empty filter: items=%v total=%d err=%v", items, total, err)
	}

	n, maxTS, err := s.Stats(ctx, repo.UsageFilter{UserID: "u1"})
	if err != nil || n != 4 || maxTS == nil {
		t.Fatalf("Stats: n=%d ts=%v err=%v", n, maxTS, err)
	}
}

func TestUsageService_GetAndImage(t *testing.T) {
	db := newSvcDB(t)
	s := NewUsageService(db)
	ctx := context.Background()

	rec := domain.UsageRecord{ID: uuid.NewString(), UserID: "u1", Query: "draw"}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	img := domain.UsageImage{ID: uuid.NewString(), UsageID: rec.ID, Filename: "image_1.png", Mime: "image/png", Data: []byte{1, 2, 3}}
	if err := db.Create(&img).Error; err != nil {
		t.Fatalf("seed image: %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Images) != 1 || got.Images[0].Data != nil {
		t.Fatalf("expected one image without bytes, got %+v", got.Images)
	}

	full, err := s.Image(ctx, rec.ID, img.ID)
	if err != nil || string(full.Data) != "\x01\x02\x03" {
		t.Fatalf("Image: %+v err=%v", full, err)
	}

	if _, err := s.Get(ctx, uuid.NewString()); !errors.Is(err, ErrUsageNotFound) {
		t.Fatalf("Get unknown: want ErrUsageNotFound, got %v", err)
	}
	if _, err := s.Image(ctx, uuid.NewString(), img.ID); !errors.Is(err, ErrUsageNotFound) {
		t.Fatalf("Image of other record: want ErrUsageNotFound, got %v", err)
	}
}

func TestUsageService_NoLedger(t *testing.T) {
	var s *UsageService
	if _, _, err := s.ListPage(context.Background(), repo.UsageFilter{}, 1, 10); !errors.Is(err, ErrNoLedger) {
		t.Fatalf("want ErrNoLedger, got %v", err)
	}
	if _, err := (&UsageService{}).Get(context.Background(), "x"); !errors.Is(err, ErrNoLedger) {
		t.Fatalf("want ErrNoLedger, got %v", err)
	}
}

func TestQuota_Status(t *testing.T) {
	now := time.Now().UTC()
	q := &QuotaLimiter{DB: newSvcDB(t), Limits: config.QuotaLimits{Hourly: 2, Daily: 10}}
	seedRows(t, q, 2, domain.UsageRecord{UserID: "u1", ChannelID: "c1"}, now.Add(-time.Minute))

	st, err := q.Status(context.Background(), domain.Request{UserID: "u1"})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Limited || len(st.Violations) != 1 || len(st.Counts) != 1 || st.Counts[0].Hourly != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}

	st, _ = q.Status(context.Background(), domain.Request{ChannelID: "other"})
	if st.Limited || st.Violations == nil {
		t.Fatalf("expected empty, non-nil violations: %+v", st)
	}

	var nilQ *QuotaLimiter
	if _, err := nilQ.Status(context.Background(), domain.Request{UserID: "u1"}); !errors.Is(err, ErrNoLedger) {
		t.Fatalf("want ErrNoLedger, got %v", err)
	}
}
