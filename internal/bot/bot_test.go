package bot

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/expiry"
	"guildkeeper/internal/giveaway"
	"guildkeeper/internal/modules/activity"
	"guildkeeper/internal/modules/premium"
	"guildkeeper/internal/modules/ticket"
	"guildkeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func testBot() *Bot {
	return &Bot{cfg: config.DefaultConfig(), logger: zap.NewNop()}
}

func TestCommandsAreWellFormed(t *testing.T) {
	seen := make(map[string]bool)
	for _, cmd := range testBot().commands() {
		if seen[cmd.Name] {
			t.Fatalf("duplicate command %q", cmd.Name)
		}
		seen[cmd.Name] = true
		if cmd.Name != strings.ToLower(cmd.Name) || len(cmd.Name) > 32 {
			t.Fatalf("invalid command name %q", cmd.Name)
		}
		if cmd.Description == "" || len(cmd.Description) > 100 {
			t.Fatalf("invalid description for %q", cmd.Name)
		}
		for _, opt := range cmd.Options {
			if opt.Description == "" || len(opt.Description) > 100 {
				t.Fatalf("invalid option description %s/%s", cmd.Name, opt.Name)
			}
		}
	}
	for _, name := range []string{"giveaway", "mute", "unmute", "banrequest", "revokeban", "premium", "settings", "report", "ticket", "stats"} {
		if !seen[name] {
			t.Fatalf("missing command %q", name)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	b := testBot()
	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}

	cases := map[error]string{
		fmt.Errorf("start: %w", giveaway.ErrInvalidWinners):   "between 1 and 20",
		premium.ErrUnauthorized:                               "not allowed",
		fmt.Errorf("x: %w by <@1>", ticket.ErrAlreadyClaimed): "already claimed",
		ticket.ErrNotConfigured:                               "/settings ticketcategory",
		forbidden:                                             "missing permissions",
		errors.New("boom"):                                    "Something went wrong",
	}
	for err, want := range cases {
		if got := b.errorMessage(err); !strings.Contains(got, want) {
			t.Fatalf("errorMessage(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestFormatExpiry(t *testing.T) {
	if got := formatExpiry(expiry.Grant{Type: expiry.TypeLifetime, Expires: expiry.Never}); got != "never" {
		t.Fatalf("expected never, got %q", got)
	}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if got := formatExpiry(expiry.Grant{Type: expiry.TypeDay, Expires: at.Format(time.RFC3339)}); got != fmt.Sprintf("<t:%d:F>", at.Unix()) {
		t.Fatalf("unexpected expiry %q", got)
	}
	if got := formatExpiry(expiry.Grant{Type: expiry.TypeDay, Expires: "garbled"}); got != "garbled" {
		t.Fatalf("expected raw value, got %q", got)
	}
}

func TestAuditEmbed(t *testing.T) {
	b := testBot()
	embed := b.buildAuditEmbed(storage.AuditLog{Level: "WARN", Event: "anti_spam", Details: "count=6", CreatedAt: time.Now()}, 3)
	if embed.Color != b.cfg.Notifications.EmbedColors.Warning {
		t.Fatalf("expected warning color, got %x", embed.Color)
	}
	if len(embed.Fields) != 5 || embed.Fields[2].Value != "system" || embed.Fields[3].Value != "3" {
		t.Fatalf("unexpected fields: %+v", embed.Fields)
	}
}

func TestOptionHelpers(t *testing.T) {
	opts := optionMap([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "duration", Type: discordgo.ApplicationCommandOptionString, Value: "2h"},
		{Name: "winners", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(3)},
		{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "42"},
	})
	if opts.string("duration") != "2h" || opts.int("winners") != 3 || opts.id("user") != "42" {
		t.Fatalf("unexpected option values")
	}
	if opts.string("missing") != "" || opts.int("missing") != 0 || opts.id("missing") != "" {
		t.Fatalf("expected zero values for missing options")
	}
	if truncate("héllo", 3) != "hé…" {
		t.Fatalf("unexpected truncate %q", truncate("héllo", 3))
	}
}

func TestToggleRole(t *testing.T) {
	roles := toggleRole(nil, "r1", true)
	roles = toggleRole(roles, "r2", true)
	roles = toggleRole(roles, "r1", true)
	if strings.Join(roles, ",") != "r2,r1" {
		t.Fatalf("unexpected roles %v", roles)
	}
	if roles = toggleRole(roles, "r2", false); strings.Join(roles, ",") != "r1" {
		t.Fatalf("unexpected roles after removal %v", roles)
	}
}

func TestFormatLeaderboard(t *testing.T) {
	top := []activity.Entry{{UserID: "u1", Value: 5400}, {UserID: "u2", Value: 60}}
	if got := formatLeaderboard(activity.KindVoice, top); got != "1. <@u1> 1h30m0s\n2. <@u2> 1m0s" {
		t.Fatalf("unexpected voice board %q", got)
	}
	if got := formatLeaderboard(activity.KindMessages, top[1:]); got != "1. <@u2> 60 messages" {
		t.Fatalf("unexpected message board %q", got)
	}
	if got := formatLeaderboard(activity.KindMessages, nil); got != "No activity recorded yet." {
		t.Fatalf("unexpected empty board %q", got)
	}
}
