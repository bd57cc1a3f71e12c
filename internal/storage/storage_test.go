package storage

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestUpsertGuildSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	settings := GuildSettings{
		GuildID:         "g1",
		LogChannel:      "c1",
		MuteRole:        "r1",
		CaptchaCategory: "cat1",
		VerifiedRole:    "r2",
	}
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("upsert guild settings: %v", err)
	}

	settings.LogChannel = "c2"
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("update guild settings: %v", err)
	}

	got, err := store.GetGuildSettings(ctx, "g1", GuildSettings{})
	if err != nil {
		t.Fatalf("get guild settings: %v", err)
	}
	if got.LogChannel != "c2" || got.VerifiedRole != "r2" {
		t.Fatalf("unexpected settings: %+v", got)
	}
}

func TestGuildSettingsDefaults(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetGuildSettings(context.Background(), "g9", GuildSettings{LogChannel: "fallback"})
	if err != nil {
		t.Fatalf("get guild settings: %v", err)
	}
	if got.GuildID != "g9" || got.LogChannel != "fallback" {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestDocumentsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	body, err := store.LoadDocument(ctx, DocPremium)
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if body != nil {
		t.Fatalf("expected nil body for missing document")
	}

	if err := store.SaveDocument(ctx, DocPremium, []byte(`{"1":{"type":"lf","expires":"never"}}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveDocument(ctx, DocPremium, []byte(`{}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	body, err = store.LoadDocument(ctx, DocPremium)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(body) != "{}" {
		t.Fatalf("expected overwritten body, got %s", body)
	}

	if err := store.SaveDocument(ctx, DocPremium, []byte(`{broken`)); err == nil {
		t.Fatalf("expected invalid json to be rejected")
	}
}

func TestAuditLogsListAndCleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := AuditLog{GuildID: "g1", Level: "INFO", Event: "old", CreatedAt: time.Now().AddDate(0, 0, -30)}
	recent := AuditLog{GuildID: "g1", Level: "WARN", Event: "recent", CreatedAt: time.Now()}
	for _, entry := range []AuditLog{old, recent} {
		if err := store.AddAuditLog(ctx, entry); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}

	removed, err := store.CleanupAuditLogs(ctx, 14)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	logs, err := store.ListAuditLogs(ctx, "g1", time.Now().AddDate(-1, 0, 0))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != "recent" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	before, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if before < 1 {
		t.Fatalf("expected at least one applied migration, got %d", before)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	after, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if after != before {
		t.Fatalf("version moved from %d to %d", before, after)
	}
}

func TestQueryAuditLogsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, entry := range []AuditLog{
		{GuildID: "g1", Level: "INFO", Event: "giveaway_ended"},
		{GuildID: "g1", Level: "WARN", Event: "anti_spam"},
		{GuildID: "g1", Level: "WARN", Event: "anti_spam"},
		{GuildID: "g2", Level: "WARN", Event: "anti_spam"},
	} {
		entry.CreatedAt = now.Add(time.Duration(i) * time.Second)
		if err := store.AddAuditLog(ctx, entry); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}

	logs, err := store.QueryAuditLogs(ctx, AuditQuery{GuildID: "g1", Level: "WARN"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 warnings for g1, got %d", len(logs))
	}

	logs, err = store.QueryAuditLogs(ctx, AuditQuery{GuildID: "g1", Limit: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != "anti_spam" {
		t.Fatalf("expected newest entry only, got %+v", logs)
	}

	logs, err = store.QueryAuditLogs(ctx, AuditQuery{GuildID: "g1", Event: "giveaway_ended"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected one giveaway entry, got %+v", logs)
	}
}

func TestResetGuildSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertGuildSettings(ctx, GuildSettings{GuildID: "g1", LogChannel: "c1", MuteRole: "r1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.ResetGuildSettings(ctx, "g1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err := store.GetGuildSettings(ctx, "g1", GuildSettings{LogChannel: "fallback"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LogChannel != "fallback" || got.MuteRole != "" {
		t.Fatalf("expected defaults after reset, got %+v", got)
	}
	body, err := store.LoadDocument(ctx, GuildDocument("g1"))
	if err != nil || body != nil {
		t.Fatalf("expected document gone, got %s (%v)", body, err)
	}
	if err := store.ResetGuildSettings(ctx, ""); err == nil {
		t.Fatalf("expected empty guild id to be rejected")
	}
}
