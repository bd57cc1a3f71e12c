package eventlog

import (
	"context"
	"strings"
	"testing"

	"guildkeeper/internal/config"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func newModule(enabled bool) (*Module, *[]storage.AuditLog) {
	var entries []storage.AuditLog
	logger := audit.NewLogger(nil, zap.NewNop())
	logger.SetNotifier(func(_ context.Context, entry storage.AuditLog) {
		entries = append(entries, entry)
	})
	return New(config.EventLogConfig{Enabled: enabled}, logger), &entries
}

func TestMessageDeletedUsesCachedContent(t *testing.T) {
	module, entries := newModule(true)
	ctx := context.Background()
	author := &discordgo.User{ID: "u1", Username: "alice"}

	module.MessageDeleted(ctx, &discordgo.MessageDelete{
		Message:      &discordgo.Message{ID: "m1", ChannelID: "c1", GuildID: "g1"},
		BeforeDelete: &discordgo.Message{ID: "m1", Author: author, Content: "hello there"},
	})
	module.MessageDeleted(ctx, &discordgo.MessageDelete{
		Message: &discordgo.Message{ID: "m2", ChannelID: "c1", GuildID: "g1"},
	})
	if reported := module.MessageDeleted(ctx, &discordgo.MessageDelete{
		Message:      &discordgo.Message{ID: "m3", ChannelID: "c1", GuildID: "g1"},
		BeforeDelete: &discordgo.Message{Author: &discordgo.User{ID: "b1", Bot: true}, Content: "beep"},
	}); reported {
		t.Fatalf("bot messages must not be reported")
	}

	if len(*entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(*entries))
	}
	first := (*entries)[0]
	if first.Event != audit.EventMessageDeleted || first.UserID != "u1" || !strings.Contains(first.Details, `"hello there"`) {
		t.Fatalf("unexpected entry %+v", first)
	}
	if !strings.Contains((*entries)[1].Details, "message=m2 content=uncached") {
		t.Fatalf("unexpected uncached details %q", (*entries)[1].Details)
	}
}

func TestMessageEditedIgnoresUnchangedContent(t *testing.T) {
	module, entries := newModule(true)
	ctx := context.Background()
	author := &discordgo.User{ID: "u1"}
	before := &discordgo.Message{ID: "m1", Author: author, Content: "teh cat"}

	if module.MessageEdited(ctx, &discordgo.MessageUpdate{
		Message:      &discordgo.Message{ID: "m1", ChannelID: "c1", GuildID: "g1", Content: "teh cat"},
		BeforeUpdate: before,
	}) {
		t.Fatalf("an embed unfurl is not an edit")
	}
	if !module.MessageEdited(ctx, &discordgo.MessageUpdate{
		Message:      &discordgo.Message{ID: "m1", ChannelID: "c1", GuildID: "g1", Content: "the cat"},
		BeforeUpdate: before,
	}) {
		t.Fatalf("expected the edit to be reported")
	}
	if len(*entries) != 1 || (*entries)[0].Details != `channel=<#c1> before="teh cat" after="the cat"` {
		t.Fatalf("unexpected entries %+v", *entries)
	}
}

func TestMemberUpdatedReportsRolesAndNick(t *testing.T) {
	module, entries := newModule(true)
	ctx := context.Background()
	user := &discordgo.User{ID: "u1"}

	reported := module.MemberUpdated(ctx, &discordgo.GuildMemberUpdate{
		Member:       &discordgo.Member{GuildID: "g1", User: user, Roles: []string{"r1", "r3"}, Nick: "Al"},
		BeforeUpdate: &discordgo.Member{GuildID: "g1", User: user, Roles: []string{"r1", "r2"}},
	})
	if reported != 2 {
		t.Fatalf("expected two reports, got %d", reported)
	}
	if got := (*entries)[0].Details; got != "added=<@&r3> removed=<@&r2>" {
		t.Fatalf("unexpected role details %q", got)
	}
	if got := (*entries)[1]; got.Event != audit.EventMemberNick || got.Details != "(none) -> Al" {
		t.Fatalf("unexpected nick entry %+v", got)
	}

	if module.MemberUpdated(ctx, &discordgo.GuildMemberUpdate{
		Member: &discordgo.Member{GuildID: "g1", User: user, Roles: []string{"r9"}},
	}) != 0 {
		t.Fatalf("an update without the cached member has nothing to compare")
	}
}

func TestBansAndChannels(t *testing.T) {
	module, entries := newModule(true)
	ctx := context.Background()
	user := &discordgo.User{ID: "u1", Username: "mallory"}

	module.MemberBanned(ctx, &discordgo.GuildBanAdd{GuildID: "g1", User: user})
	module.MemberUnbanned(ctx, &discordgo.GuildBanRemove{GuildID: "g1", User: user})
	module.MemberLeft(ctx, &discordgo.GuildMemberRemove{Member: &discordgo.Member{GuildID: "g1", User: user}})
	module.ChannelCreated(ctx, &discordgo.ChannelCreate{Channel: &discordgo.Channel{ID: "c9", GuildID: "g1", Name: "general-2"}})
	module.ChannelDeleted(ctx, &discordgo.ChannelDelete{Channel: &discordgo.Channel{ID: "c9", GuildID: "g1", Name: "general-2"}})
	module.ChannelCreated(ctx, &discordgo.ChannelCreate{Channel: &discordgo.Channel{ID: "dm", Type: discordgo.ChannelTypeDM}})

	want := []string{
		audit.EventMemberBanned,
		audit.EventMemberUnbanned,
		audit.EventMemberLeft,
		audit.EventChannelCreated,
		audit.EventChannelDeleted,
	}
	if len(*entries) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), *entries)
	}
	for i, event := range want {
		if (*entries)[i].Event != event {
			t.Fatalf("entry %d: expected %s, got %s", i, event, (*entries)[i].Event)
		}
	}
	if (*entries)[0].Level != audit.LevelWarn || (*entries)[0].Details != "mallory (u1)" {
		t.Fatalf("unexpected ban entry %+v", (*entries)[0])
	}
}

func TestDisabledReportsNothing(t *testing.T) {
	module, entries := newModule(false)
	module.MemberBanned(context.Background(), &discordgo.GuildBanAdd{GuildID: "g1", User: &discordgo.User{ID: "u1"}})
	if len(*entries) != 0 {
		t.Fatalf("expected no entries, got %+v", *entries)
	}
}

func TestQuoteTruncates(t *testing.T) {
	got := quote(strings.Repeat("a", contentLimit+50))
	if len([]rune(got)) != contentLimit+2 {
		t.Fatalf("expected %d runes, got %d", contentLimit+2, len([]rune(got)))
	}
	if quote("") != `""` {
		t.Fatalf("unexpected empty quote %q", quote(""))
	}
}
