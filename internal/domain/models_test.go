package domain

import (
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	if (UsageRecord{}).TableName() != "usage" {
		t.Fatalf("UsageRecord.TableName() = %q; want %q", (UsageRecord{}).TableName(), "usage")
	}
	if (UsageImage{}).TableName() != "usage_images" {
		t.Fatalf("UsageImage.TableName() = %q; want %q", (UsageImage{}).TableName(), "usage_images")
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&UsageRecord{}, &UsageImage{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range []any{&UsageRecord{}, &UsageImage{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	for _, idx := range []string{"idx_usage_user", "idx_usage_channel", "idx_usage_guild"} {
		if !m.HasIndex(&UsageRecord{}, idx) {
			t.Fatalf("expected index %s on usage", idx)
		}
	}

	u := UsageRecord{ID: "u-1", UserID: "user", Query: "q"}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create usage: %v", err)
	}
	img := UsageImage{ID: "i-1", UsageID: "u-1", Filename: "a.png", Data: []byte{1, 2, 3}}
	if err := db.Create(&img).Error; err != nil {
		t.Fatalf("create image: %v", err)
	}

	var got UsageRecord
	if err := db.Preload("Images").First(&got, "id = ?", "u-1").Error; err != nil {
		t.Fatalf("load usage: %v", err)
	}
	if got.Origin != "command" || got.ErrorFlag {
		t.Fatalf("defaults unexpected: origin=%q error=%v", got.Origin, got.ErrorFlag)
	}
	if len(got.Images) != 1 || got.Images[0].Mime != "image/png" || len(got.Images[0].Data) != 3 {
		t.Fatalf("image row unexpected: %+v", got.Images)
	}

	if err := db.Delete(&UsageRecord{}, "id = ?", "u-1").Error; err != nil {
		t.Fatalf("delete usage: %v", err)
	}
	var n int64
	db.Model(&UsageImage{}).Where("usage_id = ?", "u-1").Count(&n)
	if n != 0 {
		t.Fatalf("expected image rows cascade-deleted, still have %d", n)
	}
}

func TestRequest_ScopeIDs(t *testing.T) {
	r := Request{UserID: "u", ChannelID: "c"}
	ids := r.ScopeIDs()
	if len(ids) != 2 || ids[0] != (ScopeID{ScopeUser, "u"}) || ids[1] != (ScopeID{ScopeChannel, "c"}) {
		t.Fatalf("ScopeIDs without guild unexpected: %+v", ids)
	}
	r.GuildID = "g"
	if ids := r.ScopeIDs(); len(ids) != 3 || ids[2].Scope != ScopeGuild {
		t.Fatalf("ScopeIDs with guild unexpected: %+v", ids)
	}
}

func TestScope_ColumnAndLabel(t *testing.T) {
	cases := map[Scope][2]string{
		ScopeUser:    {"user_id", "Per-user"},
		ScopeChannel: {"channel_id", "Per-channel"},
		ScopeGuild:   {"guild_id", "Per-server"},
	}
	for s, want := range cases {
		if s.Column() != want[0] || s.Label() != want[1] {
			t.Fatalf("%s: got (%q,%q) want %v", s, s.Column(), s.Label(), want)
		}
	}
	if Scope("x").Column() != "" {
		t.Fatalf("unknown scope must not map to a column")
	}
}
