package antispam

import (
	"context"
	"fmt"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
)

type Platform interface {
	DeleteMessage(channelID, messageID string) error
}

type Muter interface {
	Mute(ctx context.Context, guildID, userID, roleID string, duration time.Duration, reason, actorID string) (time.Time, error)
}

type Module struct {
	bursts   *utils.BurstCounter
	config   config.AntispamConfig
	platform Platform
	muter    Muter
	audit    *audit.Logger
	now      func() time.Time
}

func New(cfg config.AntispamConfig, platform Platform, muter Muter, auditLogger *audit.Logger) *Module {
	return &Module{
		bursts:   utils.NewBurstCounter(time.Duration(cfg.WindowSeconds) * time.Second),
		config:   cfg,
		platform: platform,
		muter:    muter,
		audit:    auditLogger,
		now:      time.Now,
	}
}

// HandleMessage counts the author's messages in the window and reports
// whether the burst limit was reached. A flagged message is deleted and, when
// muteRole is set, the author is muted.
func (m *Module) HandleMessage(ctx context.Context, msg *discordgo.MessageCreate, muteRole string) bool {
	if !m.config.Enabled || msg.Author == nil || msg.GuildID == "" {
		return false
	}
	count := m.bursts.Add(msg.GuildID+":"+msg.Author.ID, m.now())
	if count < m.config.Messages {
		return false
	}

	m.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.Author.ID, audit.EventSpam,
		fmt.Sprintf("message burst detected count=%d window=%ds", count, m.config.WindowSeconds))
	_ = m.platform.DeleteMessage(msg.ChannelID, msg.ID)

	// Only the message that crosses the limit triggers the mute.
	if count != m.config.Messages || muteRole == "" || m.muter == nil {
		return true
	}
	duration := time.Duration(m.config.MuteMinutes) * time.Minute
	if duration <= 0 {
		duration = 10 * time.Minute
	}
	if _, err := m.muter.Mute(ctx, msg.GuildID, msg.Author.ID, muteRole, duration, "message burst", "antispam"); err != nil {
		m.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.Author.ID, audit.EventSpam,
			fmt.Sprintf("mute failed class=%s", utils.Classify(err)))
	}
	return true
}
