package mute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/scheduler"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const Kind = "unmute"

var ErrNoMuteRole = errors.New("no mute role configured")

type Platform interface {
	AddRole(guildID, userID, roleID, reason string) error
	RemoveRole(guildID, userID, roleID, reason string) error
	Member(guildID, userID string) (*discordgo.Member, error)
}

type Payload struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
	Reason string `json:"reason,omitempty"`
}

type Module struct {
	platform  Platform
	scheduler *scheduler.Scheduler
	audit     *audit.Logger
	logger    *zap.Logger
	now       func() time.Time
}

func New(platform Platform, sched *scheduler.Scheduler, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Module{
		platform:  platform,
		scheduler: sched,
		audit:     auditLogger,
		logger:    logger,
		now:       time.Now,
	}
	sched.Register(Kind, m.lift)
	return m
}

func ActionID(guildID, userID string) string {
	return "mute:" + guildID + ":" + userID
}

// Mute gives the member the mute role and schedules its removal. Muting an
// already muted member replaces the pending removal.
func (m *Module) Mute(ctx context.Context, guildID, userID, roleID string, duration time.Duration, reason, actorID string) (time.Time, error) {
	if roleID == "" {
		return time.Time{}, ErrNoMuteRole
	}
	if duration <= 0 {
		return time.Time{}, fmt.Errorf("mute duration must be positive")
	}
	if err := m.platform.AddRole(guildID, userID, roleID, reason); err != nil {
		return time.Time{}, fmt.Errorf("add mute role: %w", err)
	}

	id := ActionID(guildID, userID)
	if _, err := m.scheduler.Cancel(ctx, id); err != nil {
		return time.Time{}, err
	}
	payload, err := json.Marshal(Payload{UserID: userID, RoleID: roleID, Reason: reason})
	if err != nil {
		return time.Time{}, err
	}
	deadline := m.now().Add(duration).UTC()
	if _, err := m.scheduler.Schedule(ctx, scheduler.Action{
		ID:       id,
		Kind:     Kind,
		GuildID:  guildID,
		Deadline: deadline,
		Payload:  payload,
	}); err != nil {
		// A mute nobody will lift is worse than no mute.
		_ = m.platform.RemoveRole(guildID, userID, roleID, "mute could not be scheduled")
		return time.Time{}, err
	}

	m.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventMute,
		fmt.Sprintf("by=%s duration=%s reason=%s", actorID, duration, reason))
	return deadline, nil
}

// Unmute lifts a mute now. It reports whether a timed mute was pending.
func (m *Module) Unmute(ctx context.Context, guildID, userID, roleID, actorID string) (bool, error) {
	id := ActionID(guildID, userID)
	if action, ok := m.scheduler.Get(id); ok {
		var payload Payload
		if err := action.Decode(&payload); err == nil && payload.RoleID != "" {
			roleID = payload.RoleID
		}
	}
	pending, err := m.scheduler.Cancel(ctx, id)
	if err != nil {
		return false, err
	}
	if roleID == "" {
		return pending, ErrNoMuteRole
	}
	if err := m.platform.RemoveRole(guildID, userID, roleID, "unmuted by "+actorID); err != nil {
		return pending, fmt.Errorf("remove mute role: %w", err)
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventUnmute, "by="+actorID)
	return pending, nil
}

// lift is the deferred unmute. The role is removed only if the member still
// has it.
func (m *Module) lift(ctx context.Context, action scheduler.Action) error {
	var payload Payload
	if err := action.Decode(&payload); err != nil {
		return fmt.Errorf("decode unmute payload: %w", err)
	}
	member, err := m.platform.Member(action.GuildID, payload.UserID)
	if err != nil {
		return fmt.Errorf("fetch member %s: %w", payload.UserID, err)
	}
	if !slices.Contains(member.Roles, payload.RoleID) {
		m.logger.Info("mute already lifted", zap.String("guild_id", action.GuildID), zap.String("user_id", payload.UserID))
		return nil
	}
	if err := m.platform.RemoveRole(action.GuildID, payload.UserID, payload.RoleID, "mute expired"); err != nil {
		return fmt.Errorf("remove mute role: %w", err)
	}
	m.audit.Log(ctx, audit.LevelInfo, action.GuildID, payload.UserID, audit.EventUnmute, "mute expired")
	return nil
}
