package analytics

import (
	"context"
	"testing"
	"time"

	"guildkeeper/internal/storage"
)

func TestReportCountsByLevelAndEvent(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	now := time.Now()

	entries := []storage.AuditLog{
		{GuildID: "g1", Level: "INFO", Event: "mute", CreatedAt: now.Add(-time.Hour)},
		{GuildID: "g1", Level: "WARN", Event: "anti_spam", CreatedAt: now.Add(-2 * time.Hour)},
		{GuildID: "g1", Level: "WARN", Event: "anti_spam", CreatedAt: now.Add(-3 * time.Hour)},
		{GuildID: "g1", Level: "INFO", Event: "mute", CreatedAt: now.Add(-3 * 24 * time.Hour)},
		{GuildID: "g2", Level: "CRIT", Event: "mute", CreatedAt: now},
	}
	for _, entry := range entries {
		if err := store.AddAuditLog(ctx, entry); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}

	service := New(store)
	since, err := Since(PeriodDay, now)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	report, err := service.Report(ctx, "g1", since)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 3 || report.ByLevel["WARN"] != 2 || report.ByLevel["INFO"] != 1 {
		t.Fatalf("unexpected day report: %+v", report)
	}
	top := report.TopEvents(1)
	if len(top) != 1 || top[0].Event != "anti_spam" || top[0].Count != 2 {
		t.Fatalf("unexpected top events: %+v", top)
	}

	since, _ = Since(PeriodWeek, now)
	report, err = service.Report(ctx, "g1", since)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 4 || report.ByEvent["mute"] != 2 {
		t.Fatalf("unexpected week report: %+v", report)
	}

	if _, err := Since("month", now); err == nil {
		t.Fatalf("expected unknown period to fail")
	}
}
