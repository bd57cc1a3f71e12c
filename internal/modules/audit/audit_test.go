package audit

import (
	"context"
	"testing"
	"time"

	"guildkeeper/internal/storage"

	"go.uber.org/zap"
)

func TestLogPersistsAndNotifies(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := NewLogger(store, zap.NewNop())
	var notified []storage.AuditLog
	logger.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
		notified = append(notified, entry)
	})

	ctx := context.Background()
	logger.Log(ctx, LevelWarn, "g1", "u1", EventActionFailed, "class=resource_missing")

	if len(notified) != 1 || notified[0].Event != EventActionFailed {
		t.Fatalf("expected one notification, got %+v", notified)
	}
	logs, err := store.ListAuditLogs(ctx, "g1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 || logs[0].Level != LevelWarn {
		t.Fatalf("unexpected stored logs: %+v", logs)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Log(context.Background(), LevelInfo, "g1", "", EventMute, "")
}
