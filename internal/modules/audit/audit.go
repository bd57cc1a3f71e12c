package audit

import (
	"context"
	"time"

	"guildkeeper/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Event names shared by the modules that report through the audit trail.
const (
	EventActionFired     = "deferred_action_fired"
	EventActionFailed    = "deferred_action_failed"
	EventGiveawayStarted = "giveaway_started"
	EventGiveawayEnded   = "giveaway_ended"
	EventMute            = "mute"
	EventUnmute          = "unmute"
	EventSpam            = "anti_spam"
	EventBanRequest      = "ban_request"
	EventRevokeRequest   = "ban_revoke_request"
	EventRevokeVote      = "ban_revoke_threshold"
	EventRevokeFailed    = "ban_revoke_failed"
	EventPremiumGranted  = "premium_granted"
	EventPremiumRevoked  = "premium_revoked"
	EventPremiumExpired  = "premium_expired"
	EventAccountAge      = "account_age_alert"
	EventCaptchaPassed   = "captcha_passed"
	EventCaptchaFailed   = "captcha_failed"
	EventCaptchaTimeout  = "captcha_timeout"
	EventTicketOpened    = "ticket_opened"
	EventTicketClaimed   = "ticket_claimed"
	EventTicketClosed    = "ticket_closed"
	EventTicketArchived  = "ticket_transcript"
)

// Server events mirrored from the gateway.
const (
	EventMessageDeleted = "message_deleted"
	EventMessageEdited  = "message_edited"
	EventMemberBanned   = "member_banned"
	EventMemberUnbanned = "member_unbanned"
	EventMemberLeft     = "member_left"
	EventMemberRoles    = "member_roles_changed"
	EventMemberNick     = "member_nickname_changed"
	EventChannelCreated = "channel_created"
	EventChannelDeleted = "channel_deleted"
)

type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	notify func(context.Context, storage.AuditLog)
	now    func() time.Time
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{store: store, logger: logger, now: time.Now}
}

// SetNotifier installs the operator-facing sink, usually the guild log channel.
func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	if l == nil {
		return
	}
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit persist failed", zap.String("event", event), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}

	fields := []zap.Field{
		zap.String("level", level),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.String("details", details),
	}
	if level == LevelInfo {
		l.logger.Info("audit", fields...)
		return
	}
	l.logger.Warn("audit", fields...)
}
