package antispam

import (
	"context"
	"testing"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type fakePlatform struct {
	deleted []string
}

func (f *fakePlatform) DeleteMessage(channelID, messageID string) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

type fakeMuter struct {
	calls    int
	duration time.Duration
}

func (f *fakeMuter) Mute(ctx context.Context, guildID, userID, roleID string, duration time.Duration, reason, actorID string) (time.Time, error) {
	f.calls++
	f.duration = duration
	return time.Now().Add(duration), nil
}

func TestAntiSpamBurstMutes(t *testing.T) {
	store, _ := storage.New(":memory:")
	_ = store.Migrate()
	auditLogger := audit.NewLogger(store, zap.NewNop())
	platform := &fakePlatform{}
	muter := &fakeMuter{}

	module := New(config.AntispamConfig{Enabled: true, Messages: 2, WindowSeconds: 2, MuteMinutes: 5}, platform, muter, auditLogger)
	now := time.Unix(1000, 0)
	module.now = func() time.Time { return now }
	msg := &discordgo.MessageCreate{Message: &discordgo.Message{ID: "1", ChannelID: "c1", GuildID: "g1", Author: &discordgo.User{ID: "u1"}}}

	if flagged := module.HandleMessage(context.Background(), msg, "muted"); flagged {
		t.Fatalf("unexpected flag")
	}
	msg.Message.ID = "2"
	if flagged := module.HandleMessage(context.Background(), msg, "muted"); !flagged {
		t.Fatalf("expected flag")
	}
	msg.Message.ID = "3"
	if flagged := module.HandleMessage(context.Background(), msg, "muted"); !flagged {
		t.Fatalf("expected flag")
	}
	if len(platform.deleted) != 2 {
		t.Fatalf("expected two deletions, got %v", platform.deleted)
	}
	if muter.calls != 1 || muter.duration != 5*time.Minute {
		t.Fatalf("expected a single 5 minute mute, got %d calls %s", muter.calls, muter.duration)
	}

	now = now.Add(3 * time.Second)
	msg.Message.ID = "4"
	if flagged := module.HandleMessage(context.Background(), msg, "muted"); flagged {
		t.Fatalf("window should have expired")
	}
}

func TestAntiSpamDisabled(t *testing.T) {
	module := New(config.AntispamConfig{Enabled: false, Messages: 1, WindowSeconds: 2}, &fakePlatform{}, nil, nil)
	msg := &discordgo.MessageCreate{Message: &discordgo.Message{ID: "1", GuildID: "g1", Author: &discordgo.User{ID: "u1"}}}
	if module.HandleMessage(context.Background(), msg, "") {
		t.Fatalf("disabled module must not flag")
	}
}
