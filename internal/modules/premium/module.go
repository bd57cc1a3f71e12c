package premium

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/expiry"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var ErrUnauthorized = errors.New("not authorized to manage premium")

var labels = map[string]string{
	expiry.TypeDay:      "1 day",
	expiry.TypeMonth:    "1 month",
	expiry.TypeYear:     "1 year",
	expiry.TypeLifetime: "lifetime",
}

func Label(grantType string) string {
	if label, ok := labels[grantType]; ok {
		return label
	}
	return grantType
}

type Platform interface {
	AddRole(guildID, userID, roleID, reason string) error
	RemoveRole(guildID, userID, roleID, reason string) error
	Send(channelID, content string) error
}

type Module struct {
	cfg      config.PremiumConfig
	ledger   *expiry.Ledger
	platform Platform
	audit    *audit.Logger
	logger   *zap.Logger
	now      func() time.Time
}

func New(cfg config.PremiumConfig, ledger *expiry.Ledger, platform Platform, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		cfg:      cfg,
		ledger:   ledger,
		platform: platform,
		audit:    auditLogger,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *Module) Authorized(userID string) bool {
	return slices.Contains(m.cfg.AuthorizedIDs, userID)
}

func (m *Module) Grant(ctx context.Context, actorID, userID, grantType string) (expiry.Grant, error) {
	if !m.Authorized(actorID) {
		return expiry.Grant{}, ErrUnauthorized
	}
	grant, err := m.ledger.Grant(ctx, userID, grantType, m.now())
	if err != nil {
		return expiry.Grant{}, err
	}
	m.audit.Log(ctx, audit.LevelInfo, m.cfg.SupportGuildID, userID, audit.EventPremiumGranted,
		fmt.Sprintf("by=%s type=%s expires=%s", actorID, grant.Type, grant.Expires))
	m.assignRole(ctx, userID)
	return grant, nil
}

func (m *Module) Revoke(ctx context.Context, actorID, userID string) (bool, error) {
	if !m.Authorized(actorID) {
		return false, ErrUnauthorized
	}
	removed, err := m.ledger.Revoke(ctx, userID)
	if err != nil || !removed {
		return removed, err
	}
	m.audit.Log(ctx, audit.LevelInfo, m.cfg.SupportGuildID, userID, audit.EventPremiumRevoked, "by="+actorID)
	m.removeRole(ctx, userID, "premium revoked")
	return true, nil
}

// Status returns the user's grant and whether it is still valid.
func (m *Module) Status(ctx context.Context, userID string) (expiry.Grant, bool, error) {
	grant, ok, err := m.ledger.Get(ctx, userID)
	if err != nil || !ok {
		return expiry.Grant{}, false, err
	}
	expired, err := grant.ExpiredAt(m.now())
	if err != nil {
		return grant, false, err
	}
	return grant, !expired, nil
}

func (m *Module) SetAlertChannel(ctx context.Context, actorID, channelID string) error {
	if !m.Authorized(actorID) {
		return ErrUnauthorized
	}
	return m.ledger.SetAlertChannel(ctx, channelID)
}

// HandleExpired removes the premium role from users whose grant was swept.
func (m *Module) HandleExpired(ctx context.Context, userIDs []string) {
	for _, userID := range userIDs {
		m.audit.Log(ctx, audit.LevelInfo, m.cfg.SupportGuildID, userID, audit.EventPremiumExpired, "")
		m.removeRole(ctx, userID, "premium expired")
	}
}

// HandleJoin restores the role of active members joining the support guild
// and raises an alert for accounts younger than the configured age.
func (m *Module) HandleJoin(ctx context.Context, guildID string, member *discordgo.Member) {
	if m.cfg.SupportGuildID == "" || guildID != m.cfg.SupportGuildID || member == nil || member.User == nil {
		return
	}
	userID := member.User.ID
	active, err := m.ledger.Active(ctx, userID, m.now())
	if err != nil {
		m.logger.Warn("premium lookup failed", zap.String("user_id", userID), zap.Error(err))
	}
	if active {
		m.assignRole(ctx, userID)
	}

	if m.cfg.AccountAgeDays <= 0 {
		return
	}
	created, ok := utils.CreatedAt(userID)
	if !ok {
		return
	}
	age := m.now().Sub(created)
	if age >= time.Duration(m.cfg.AccountAgeDays)*24*time.Hour {
		return
	}
	days := int(age.Hours() / 24)
	m.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventAccountAge, fmt.Sprintf("account_age_days=%d", days))

	cfg, err := m.ledger.Config(ctx)
	if err != nil || cfg.AlertChannelID == "" {
		return
	}
	content := fmt.Sprintf("⚠️ **Recent account**: <@%s> joined with an account created %d day(s) ago.", userID, days)
	if err := m.platform.Send(cfg.AlertChannelID, content); err != nil {
		m.logger.Warn("account age alert failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (m *Module) assignRole(ctx context.Context, userID string) {
	if m.cfg.SupportGuildID == "" || m.cfg.RoleID == "" {
		return
	}
	if err := m.platform.AddRole(m.cfg.SupportGuildID, userID, m.cfg.RoleID, "premium member"); err != nil {
		m.reportRoleFailure(ctx, userID, "add", err)
	}
}

func (m *Module) removeRole(ctx context.Context, userID, reason string) {
	if m.cfg.SupportGuildID == "" || m.cfg.RoleID == "" {
		return
	}
	if err := m.platform.RemoveRole(m.cfg.SupportGuildID, userID, m.cfg.RoleID, reason); err != nil {
		m.reportRoleFailure(ctx, userID, "remove", err)
	}
}

func (m *Module) reportRoleFailure(ctx context.Context, userID, op string, err error) {
	class := utils.Classify(err)
	// Members outside the support guild are the common case.
	if class == utils.ClassResourceMissing {
		m.logger.Debug("premium role target missing", zap.String("user_id", userID), zap.String("op", op))
		return
	}
	m.audit.Log(ctx, audit.LevelWarn, m.cfg.SupportGuildID, userID, audit.EventActionFailed,
		fmt.Sprintf("premium role %s failed class=%s", op, class))
}
