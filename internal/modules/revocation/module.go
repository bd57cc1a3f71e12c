package revocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/threshold"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	fieldUser      = "👤 User"
	fieldReason    = "📝 Reason"
	fieldBanReason = "🔒 Ban reason"
	fieldRequester = "📨 Requested by"
)

var (
	ErrNotConfigured = errors.New("ban request channels are not configured")
	ErrProofRequired = errors.New("an image proof is required")
	ErrNotBanned     = errors.New("user is not banned")
)

type Platform interface {
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error)
	Send(channelID, content string) error
	AddReaction(channelID, messageID, emoji string) error
	Message(channelID, messageID string) (*discordgo.Message, error)
	Ban(guildID, userID string) (*discordgo.GuildBan, error)
	Unban(guildID, userID, reason string) error
}

type Module struct {
	cfg      config.RevocationConfig
	colors   config.EmbedColors
	platform Platform
	watcher  *threshold.Watcher
	audit    *audit.Logger
	logger   *zap.Logger
	now      func() time.Time
}

func New(cfg config.RevocationConfig, colors config.EmbedColors, platform Platform, watcher *threshold.Watcher, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		cfg:      cfg,
		colors:   colors,
		platform: platform,
		watcher:  watcher,
		audit:    auditLogger,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *Module) RequestBan(ctx context.Context, requesterID, userID, reason, proofURL string) error {
	if m.cfg.RequestChannelID == "" {
		return ErrNotConfigured
	}
	if proofURL == "" {
		return ErrProofRequired
	}
	if strings.TrimSpace(reason) == "" {
		reason = "No reason given"
	}
	embed := &discordgo.MessageEmbed{
		Title:     "🚨 New ban request",
		Color:     m.colors.Warning,
		Timestamp: m.now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: fieldUser, Value: userValue(userID)},
			{Name: fieldReason, Value: reason},
			{Name: fieldRequester, Value: "<@" + requesterID + ">"},
		},
		Image: &discordgo.MessageEmbedImage{URL: proofURL},
	}
	if _, err := m.platform.SendEmbed(m.cfg.RequestChannelID, embed); err != nil {
		return fmt.Errorf("post ban request: %w", err)
	}
	m.audit.Log(ctx, audit.LevelInfo, m.cfg.GuildID, userID, audit.EventBanRequest, "requested_by="+requesterID)
	return nil
}

// RequestRevoke posts a vote on lifting an existing ban. It returns the id of
// the vote message.
func (m *Module) RequestRevoke(ctx context.Context, requesterID, userID string) (string, error) {
	if m.cfg.GuildID == "" || m.cfg.RevokeChannelID == "" {
		return "", ErrNotConfigured
	}
	ban, err := m.platform.Ban(m.cfg.GuildID, userID)
	if err != nil {
		if utils.IsResourceMissing(err) {
			return "", ErrNotBanned
		}
		return "", fmt.Errorf("read ban: %w", err)
	}
	banReason := "No reason recorded"
	if ban != nil && ban.Reason != "" {
		banReason = ban.Reason
	}
	embed := &discordgo.MessageEmbed{
		Title:     "📩 Ban revocation request",
		Color:     m.colors.Success,
		Timestamp: m.now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: fieldUser, Value: userValue(userID)},
			{Name: fieldBanReason, Value: banReason},
			{Name: fieldRequester, Value: "<@" + requesterID + ">"},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("⚠️ %d %s needed to unban automatically.", m.cfg.Threshold, m.cfg.VoteEmoji),
		},
	}
	msg, err := m.platform.SendEmbed(m.cfg.RevokeChannelID, embed)
	if err != nil {
		return "", fmt.Errorf("post revocation request: %w", err)
	}
	for _, emoji := range []string{m.cfg.VoteEmoji, m.cfg.AgainstEmoji} {
		if err := m.platform.AddReaction(m.cfg.RevokeChannelID, msg.ID, emoji); err != nil {
			m.logger.Warn("seed vote reaction failed", zap.String("emoji", emoji), zap.Error(err))
		}
	}
	m.audit.Log(ctx, audit.LevelInfo, m.cfg.GuildID, userID, audit.EventRevokeRequest,
		fmt.Sprintf("requested_by=%s message=%s", requesterID, msg.ID))
	return msg.ID, nil
}

// HandleReaction re-reads the vote message after a vote and unbans the target
// once the threshold is reached. Reactions from bots must be filtered out by
// the caller.
func (m *Module) HandleReaction(ctx context.Context, reaction *discordgo.MessageReaction) (bool, error) {
	if reaction == nil || reaction.ChannelID != m.cfg.RevokeChannelID || m.cfg.RevokeChannelID == "" {
		return false, nil
	}
	if reaction.Emoji.Name != m.cfg.VoteEmoji {
		return false, nil
	}
	msg, err := m.platform.Message(reaction.ChannelID, reaction.MessageID)
	if err != nil {
		return false, fmt.Errorf("read vote message: %w", err)
	}
	if len(msg.Embeds) == 0 {
		return false, nil
	}
	userID := targetUser(msg.Embeds[0])
	if userID == "" {
		return false, nil
	}

	target := threshold.Target{
		ID:        msg.ID,
		Count:     m.votes(msg),
		Threshold: m.cfg.Threshold,
		Marked:    m.marked(msg),
	}
	return m.watcher.Fire(ctx, target,
		func(ctx context.Context) error { return m.unban(ctx, msg.ChannelID, userID, target.Count) },
		func(ctx context.Context) error {
			return m.platform.AddReaction(msg.ChannelID, msg.ID, m.cfg.MarkerEmoji)
		},
	)
}

func (m *Module) unban(ctx context.Context, channelID, userID string, votes int) error {
	reason := fmt.Sprintf("automatic unban after %d %s votes", votes, m.cfg.VoteEmoji)
	if err := m.platform.Unban(m.cfg.GuildID, userID, reason); err != nil {
		class := utils.Classify(err)
		_ = m.platform.Send(channelID, fmt.Sprintf("❌ Could not unban <@%s> (%s).", userID, class))
		m.audit.Log(ctx, audit.LevelWarn, m.cfg.GuildID, userID, audit.EventRevokeFailed,
			fmt.Sprintf("class=%s error=%v", class, err))
		return err
	}
	_ = m.platform.Send(channelID, fmt.Sprintf("✅ <@%s> was unbanned after %d %s.", userID, votes, m.cfg.VoteEmoji))
	m.audit.Log(ctx, audit.LevelWarn, m.cfg.GuildID, userID, audit.EventRevokeVote, fmt.Sprintf("votes=%d", votes))
	return nil
}

// votes counts vote reactions, leaving out the one the bot seeded.
func (m *Module) votes(msg *discordgo.Message) int {
	for _, r := range msg.Reactions {
		if r == nil || r.Emoji == nil || r.Emoji.Name != m.cfg.VoteEmoji {
			continue
		}
		count := r.Count
		if r.Me {
			count--
		}
		return count
	}
	return 0
}

// marked reports whether the bot itself has applied the marker reaction.
func (m *Module) marked(msg *discordgo.Message) bool {
	for _, r := range msg.Reactions {
		if r != nil && r.Emoji != nil && r.Emoji.Name == m.cfg.MarkerEmoji && r.Me {
			return true
		}
	}
	return false
}

func userValue(userID string) string {
	return fmt.Sprintf("<@%s> (`%s`)", userID, userID)
}

func targetUser(embed *discordgo.MessageEmbed) string {
	for _, field := range embed.Fields {
		if field == nil || field.Name != fieldUser {
			continue
		}
		parts := strings.Split(field.Value, "`")
		if len(parts) < 3 || !utils.ValidID(parts[1]) {
			return ""
		}
		return parts[1]
	}
	return ""
}
