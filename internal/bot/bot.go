package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guildkeeper/internal/analytics"
	"guildkeeper/internal/config"
	"guildkeeper/internal/expiry"
	"guildkeeper/internal/giveaway"
	"guildkeeper/internal/metrics"
	"guildkeeper/internal/modules/activity"
	"guildkeeper/internal/modules/antispam"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/modules/eventlog"
	"guildkeeper/internal/modules/mute"
	"guildkeeper/internal/modules/premium"
	"guildkeeper/internal/modules/revocation"
	"guildkeeper/internal/modules/ticket"
	"guildkeeper/internal/modules/verification"
	"guildkeeper/internal/scheduler"
	"guildkeeper/internal/storage"
	"guildkeeper/internal/threshold"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *storage.Store
	audit      *audit.Logger
	analytics  *analytics.Service
	session    *discordgo.Session
	platform   *discordAPI
	scheduler  *scheduler.Scheduler
	sweeper    *expiry.Sweeper
	giveaways  *giveaway.Service
	mute       *mute.Module
	antispam   *antispam.Module
	revocation *revocation.Module
	premium    *premium.Module
	verify     *verification.Module
	tickets    *ticket.Module
	eventlog   *eventlog.Module
	activity   *activity.Module
	cron       *cron.Cron

	ctx       context.Context
	cancel    context.CancelFunc
	reconcile sync.Once

	digest *auditDigest
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, sched *scheduler.Scheduler, ledger *expiry.Ledger, auditLogger *audit.Logger, analyticsEngine *analytics.Service, m *metrics.Metrics) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent
	// Deleted and edited messages are reported with their previous content
	// only while they are still cached.
	session.State.MaxMessageCount = cfg.EventLog.MessageCache

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		audit:     auditLogger,
		analytics: analyticsEngine,
		session:   session,
		platform:  &discordAPI{session: session},
		scheduler: sched,
		ctx:       ctx,
		cancel:    cancel,
	}
	b.digest = newAuditDigest(b.platform, 10*time.Minute, b.buildAuditEmbed)

	colors := cfg.Notifications.EmbedColors
	b.giveaways = giveaway.New(cfg.Giveaway, colors, b.platform, sched, auditLogger, logger)
	b.mute = mute.New(b.platform, sched, auditLogger, logger)
	b.antispam = antispam.New(cfg.Antispam, b.platform, b.mute, auditLogger)
	b.revocation = revocation.New(cfg.Revocation, colors, b.platform, threshold.New(logger, m), auditLogger, logger)
	b.premium = premium.New(cfg.Premium, ledger, b.platform, auditLogger, logger)
	b.verify = verification.New(cfg.Captcha, b.platform, auditLogger, logger)
	b.tickets = ticket.New(cfg.Tickets, colors, b.platform, store, sched, auditLogger, logger)
	b.eventlog = eventlog.New(cfg.EventLog, auditLogger)
	b.activity = activity.New(cfg.Activity, store, logger)

	interval := time.Duration(cfg.Premium.SweepIntervalMinutes) * time.Minute
	b.sweeper = expiry.NewSweeper(ledger, interval, logger, m, b.premium.HandleExpired)
	b.cron = cron.New(cron.WithLogger(utils.CronLogger(logger)), cron.WithChain(cron.Recover(utils.CronLogger(logger))))

	if b.audit != nil {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			if !b.cfg.Notifications.AuditToChannel {
				return
			}
			b.notifyAudit(ctx, entry)
		})
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onMessageReactionAdd)
	b.session.AddHandler(b.onInteractionCreate)
	b.session.AddHandler(b.onVoiceStateUpdate)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.addEventLogHandlers()

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	if err := b.sweeper.Start(b.ctx); err != nil {
		return err
	}
	if _, err := b.cron.AddFunc("@daily", b.cleanupAuditLogs); err != nil {
		return err
	}
	if b.cfg.Activity.Enabled {
		spec := fmt.Sprintf("@every %dm", b.cfg.Activity.FlushIntervalMinutes)
		if _, err := b.cron.AddFunc(spec, b.flushActivity); err != nil {
			return err
		}
	}
	b.cron.Start()

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	b.cancel()
	b.sweeper.Stop()
	<-b.cron.Stop().Done()
	if err := b.activity.Flush(ctx); err != nil {
		b.logger.Warn("activity flush at shutdown failed", zap.Error(err))
	}
	b.scheduler.Close()

	done := make(chan struct{})
	go func() {
		b.verify.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("captcha challenges still running at shutdown")
	}
	if err := b.scheduler.Drain(ctx); err != nil {
		b.logger.Warn("deferred action effects still running at shutdown", zap.Error(err))
	}

	if b.session != nil {
		_ = b.session.Close()
	}
}

// onReady reconciles persisted actions once per process; later Ready events
// are gateway reconnects.
func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))
	b.reconcile.Do(func() {
		go func() {
			if err := b.scheduler.Reconcile(b.ctx); err != nil {
				b.logger.Error("reconcile failed", zap.Error(err))
				return
			}
			b.logger.Info("deferred actions reconciled", zap.Int("pending", len(b.scheduler.Pending(""))))
		}()
	})
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}
	if b.verify.HandleMessage(msg.Message) {
		return
	}

	ctx := context.Background()
	if err := b.activity.RecordMessage(ctx, msg); err != nil {
		b.logger.Debug("activity message dropped", zap.String("guild_id", msg.GuildID), zap.Error(err))
	}
	settings := b.guildSettings(ctx, msg.GuildID)
	b.antispam.HandleMessage(ctx, msg, settings.MuteRole)
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.GuildID == "" || event.Member == nil || event.User == nil {
		return
	}
	ctx := context.Background()
	b.premium.HandleJoin(ctx, event.GuildID, event.Member)
	if err := b.activity.MemberJoined(ctx, event.GuildID); err != nil {
		b.logger.Debug("activity join dropped", zap.String("guild_id", event.GuildID), zap.Error(err))
	}

	settings := b.guildSettings(ctx, event.GuildID)
	if err := b.verify.HandleJoin(b.ctx, event.GuildID, event.Member, settings); err != nil {
		b.logger.Warn("captcha start failed", zap.String("guild_id", event.GuildID), zap.String("user_id", event.User.ID), zap.Error(err))
	}
}

func (b *Bot) onMessageReactionAdd(session *discordgo.Session, event *discordgo.MessageReactionAdd) {
	if event.MessageReaction == nil {
		return
	}
	if event.Member != nil && event.Member.User != nil && event.Member.User.Bot {
		return
	}
	if session.State != nil && session.State.User != nil && event.UserID == session.State.User.ID {
		return
	}
	if _, err := b.revocation.HandleReaction(context.Background(), event.MessageReaction); err != nil {
		b.logger.Warn("revocation vote failed", zap.String("message_id", event.MessageID), zap.Error(err))
	}
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.GuildID == "" {
		return
	}
	ctx := context.Background()
	b.eventlog.MemberLeft(ctx, event)
	if err := b.activity.MemberLeft(ctx, event.GuildID); err != nil {
		b.logger.Debug("activity leave dropped", zap.String("guild_id", event.GuildID), zap.Error(err))
	}
}

func (b *Bot) onVoiceStateUpdate(session *discordgo.Session, event *discordgo.VoiceStateUpdate) {
	if err := b.activity.VoiceUpdate(context.Background(), event); err != nil {
		b.logger.Debug("activity voice update dropped", zap.Error(err))
	}
}

// addEventLogHandlers routes the mirrored server events to the event log.
func (b *Bot) addEventLogHandlers() {
	b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageDelete) { b.eventlog.MessageDeleted(b.ctx, e) })
	b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageUpdate) { b.eventlog.MessageEdited(b.ctx, e) })
	b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildBanAdd) { b.eventlog.MemberBanned(b.ctx, e) })
	b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildBanRemove) { b.eventlog.MemberUnbanned(b.ctx, e) })
	b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) { b.eventlog.MemberUpdated(b.ctx, e) })
	b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelCreate) { b.eventlog.ChannelCreated(b.ctx, e) })
	b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelDelete) { b.eventlog.ChannelDeleted(b.ctx, e) })
}

func (b *Bot) flushActivity() {
	if err := b.activity.Flush(b.ctx); err != nil {
		b.logger.Warn("activity flush failed", zap.Error(err))
	}
}

func (b *Bot) cleanupAuditLogs() {
	if b.cfg.RetentionDays <= 0 {
		return
	}
	removed, err := b.store.CleanupAuditLogs(b.ctx, b.cfg.RetentionDays)
	if err != nil {
		b.logger.Warn("audit retention cleanup failed", zap.Error(err))
		return
	}
	b.logger.Info("audit retention cleanup", zap.Int64("removed", removed))
}

func (b *Bot) buildAuditEmbed(entry storage.AuditLog, count int) *discordgo.MessageEmbed {
	userValue := "<@" + entry.UserID + ">"
	if entry.UserID == "" {
		userValue = "system"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Event", Value: entry.Event, Inline: false},
		{Name: "Level", Value: entry.Level, Inline: true},
		{Name: "User", Value: userValue, Inline: true},
	}
	if count > 1 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Count", Value: fmt.Sprintf("%d", count), Inline: true})
	}
	if entry.Details != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Details", Value: truncate(entry.Details, 1024), Inline: false})
	}
	color := b.cfg.Notifications.EmbedColors.Action
	switch entry.Level {
	case audit.LevelWarn:
		color = b.cfg.Notifications.EmbedColors.Warning
	case audit.LevelCrit:
		color = b.cfg.Notifications.EmbedColors.Error
	}
	return &discordgo.MessageEmbed{
		Title:     "Audit",
		Color:     color,
		Timestamp: entry.CreatedAt.Format(time.RFC3339),
		Fields:    fields,
	}
}

// notifyAudit mirrors an audit entry to the guild log channel. Repeats of the
// same entry within ten minutes edit a counter on the previous embed.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	if entry.GuildID == "" {
		return
	}
	channelID := b.guildSettings(ctx, entry.GuildID).LogChannel
	if channelID == "" {
		return
	}

	b.digest.Post(channelID, entry)
}

func (b *Bot) guildSettings(ctx context.Context, guildID string) storage.GuildSettings {
	defaults := storage.GuildSettings{
		GuildID:    guildID,
		LogChannel: b.cfg.DefaultLogChannel,
	}

	settings, err := b.store.GetGuildSettings(ctx, guildID, defaults)
	if err != nil {
		b.logger.Warn("guild settings fallback", zap.Error(err))
		return defaults
	}
	return settings
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	b.reply(session, interaction, &discordgo.InteractionResponseData{Content: content}, ephemeral)
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	b.reply(session, interaction, &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}, ephemeral)
}

func (b *Bot) reply(session *discordgo.Session, interaction *discordgo.InteractionCreate, data *discordgo.InteractionResponseData, ephemeral bool) {
	if ephemeral {
		data.Flags |= discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		b.logger.Debug("interaction response failed", zap.Error(err))
	}
}

// deferResponse acknowledges commands whose work can outlast the three
// second interaction deadline.
func (b *Bot) deferResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

func (b *Bot) followupEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	_, err := session.FollowupMessageCreate(interaction.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
		Flags:  discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		b.logger.Warn("followup failed", zap.Error(err))
	}
}

func formatReport(report analytics.Report) string {
	return fmt.Sprintf("Total: %d | INFO: %d | WARN: %d | CRIT: %d", report.Total, report.ByLevel[audit.LevelInfo], report.ByLevel[audit.LevelWarn], report.ByLevel[audit.LevelCrit])
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
