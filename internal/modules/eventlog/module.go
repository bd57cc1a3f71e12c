// Package eventlog mirrors server events (deleted and edited messages, bans,
// departures, role and nickname changes, channel churn) into the audit trail,
// which persists them and forwards them to the guild log channel.
package eventlog

import (
	"context"
	"fmt"
	"strings"

	"guildkeeper/internal/config"
	"guildkeeper/internal/modules/audit"

	"github.com/bwmarrin/discordgo"
)

// contentLimit keeps message bodies well inside an embed field.
const contentLimit = 900

type Module struct {
	cfg   config.EventLogConfig
	audit *audit.Logger
}

func New(cfg config.EventLogConfig, auditLogger *audit.Logger) *Module {
	return &Module{cfg: cfg, audit: auditLogger}
}

// MessageDeleted reports a deleted message. The content is known only when
// the message was still in the state cache.
func (m *Module) MessageDeleted(ctx context.Context, event *discordgo.MessageDelete) bool {
	if !m.cfg.Enabled || event.Message == nil || event.GuildID == "" {
		return false
	}
	before := event.BeforeDelete
	if before == nil {
		m.audit.Log(ctx, audit.LevelInfo, event.GuildID, "", audit.EventMessageDeleted,
			fmt.Sprintf("channel=<#%s> message=%s content=uncached", event.ChannelID, event.ID))
		return true
	}
	if before.Author == nil || before.Author.Bot {
		return false
	}
	m.audit.Log(ctx, audit.LevelInfo, event.GuildID, before.Author.ID, audit.EventMessageDeleted,
		fmt.Sprintf("channel=<#%s> content=%s", event.ChannelID, quote(before.Content)))
	return true
}

// MessageEdited reports a content change. Embed unfurls and pins also arrive
// as updates and are ignored.
func (m *Module) MessageEdited(ctx context.Context, event *discordgo.MessageUpdate) bool {
	if !m.cfg.Enabled || event.Message == nil || event.BeforeUpdate == nil || event.GuildID == "" {
		return false
	}
	before := event.BeforeUpdate
	if before.Author == nil || before.Author.Bot || before.Content == event.Content {
		return false
	}
	m.audit.Log(ctx, audit.LevelInfo, event.GuildID, before.Author.ID, audit.EventMessageEdited,
		fmt.Sprintf("channel=<#%s> before=%s after=%s", event.ChannelID, quote(before.Content), quote(event.Content)))
	return true
}

func (m *Module) MemberBanned(ctx context.Context, event *discordgo.GuildBanAdd) bool {
	if !m.cfg.Enabled || event.User == nil {
		return false
	}
	m.audit.Log(ctx, audit.LevelWarn, event.GuildID, event.User.ID, audit.EventMemberBanned, describeUser(event.User))
	return true
}

func (m *Module) MemberUnbanned(ctx context.Context, event *discordgo.GuildBanRemove) bool {
	if !m.cfg.Enabled || event.User == nil {
		return false
	}
	m.audit.Log(ctx, audit.LevelInfo, event.GuildID, event.User.ID, audit.EventMemberUnbanned, describeUser(event.User))
	return true
}

// MemberLeft covers both departures and kicks; the gateway does not tell
// them apart.
func (m *Module) MemberLeft(ctx context.Context, event *discordgo.GuildMemberRemove) bool {
	if !m.cfg.Enabled || event.Member == nil || event.User == nil {
		return false
	}
	m.audit.Log(ctx, audit.LevelInfo, event.GuildID, event.User.ID, audit.EventMemberLeft, describeUser(event.User))
	return true
}

// MemberUpdated reports role and nickname changes. Without the previous
// member from the state cache there is nothing to compare.
func (m *Module) MemberUpdated(ctx context.Context, event *discordgo.GuildMemberUpdate) int {
	if !m.cfg.Enabled || event.Member == nil || event.User == nil || event.BeforeUpdate == nil {
		return 0
	}
	reported := 0
	added, removed := diff(event.BeforeUpdate.Roles, event.Roles)
	if len(added) > 0 || len(removed) > 0 {
		parts := make([]string, 0, 2)
		if len(added) > 0 {
			parts = append(parts, "added="+mentionRoles(added))
		}
		if len(removed) > 0 {
			parts = append(parts, "removed="+mentionRoles(removed))
		}
		m.audit.Log(ctx, audit.LevelInfo, event.GuildID, event.User.ID, audit.EventMemberRoles, strings.Join(parts, " "))
		reported++
	}
	if event.BeforeUpdate.Nick != event.Nick {
		m.audit.Log(ctx, audit.LevelInfo, event.GuildID, event.User.ID, audit.EventMemberNick,
			fmt.Sprintf("%s -> %s", nickOrNone(event.BeforeUpdate.Nick), nickOrNone(event.Nick)))
		reported++
	}
	return reported
}

func (m *Module) ChannelCreated(ctx context.Context, event *discordgo.ChannelCreate) bool {
	if !m.cfg.Enabled || event.Channel == nil || event.GuildID == "" {
		return false
	}
	m.audit.Log(ctx, audit.LevelInfo, event.GuildID, "", audit.EventChannelCreated,
		fmt.Sprintf("<#%s> name=%s", event.ID, event.Name))
	return true
}

func (m *Module) ChannelDeleted(ctx context.Context, event *discordgo.ChannelDelete) bool {
	if !m.cfg.Enabled || event.Channel == nil || event.GuildID == "" {
		return false
	}
	m.audit.Log(ctx, audit.LevelWarn, event.GuildID, "", audit.EventChannelDeleted,
		fmt.Sprintf("name=%s id=%s", event.Name, event.ID))
	return true
}

func describeUser(user *discordgo.User) string {
	return fmt.Sprintf("%s (%s)", user.Username, user.ID)
}

func quote(content string) string {
	if content == "" {
		return `""`
	}
	runes := []rune(content)
	if len(runes) > contentLimit {
		content = string(runes[:contentLimit-1]) + "…"
	}
	return fmt.Sprintf("%q", content)
}

// diff returns the IDs present only in after and only in before, each in the
// order they appear.
func diff(before, after []string) (added, removed []string) {
	had := make(map[string]bool, len(before))
	for _, id := range before {
		had[id] = true
	}
	has := make(map[string]bool, len(after))
	for _, id := range after {
		has[id] = true
		if !had[id] {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if !has[id] {
			removed = append(removed, id)
		}
	}
	return added, removed
}

func mentionRoles(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = "<@&" + id + ">"
	}
	return strings.Join(out, ",")
}

func nickOrNone(nick string) string {
	if nick == "" {
		return "(none)"
	}
	return nick
}
