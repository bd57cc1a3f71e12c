package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/storage"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var ErrChallengePending = errors.New("captcha already pending for member")

type Outcome int

const (
	OutcomePassed Outcome = iota
	OutcomeFailed
	OutcomeTimeout
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomePassed:
		return "passed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "aborted"
	}
}

type Platform interface {
	CreatePrivateChannel(guildID, categoryID, name, userID string, roleIDs []string) (*discordgo.Channel, error)
	DeleteChannel(channelID string) error
	Send(channelID, content string) error
	DirectMessage(userID, content string) error
	AddRole(guildID, userID, roleID, reason string) error
	Kick(guildID, userID, reason string) error
}

type challenge struct {
	guildID   string
	userID    string
	channelID string
	roleID    string
	code      string
	answer    chan string
}

type Module struct {
	platform Platform
	audit    *audit.Logger
	logger   *zap.Logger
	timeout  time.Duration
	cleanup  time.Duration
	length   int

	mu        sync.Mutex
	byChannel map[string]*challenge
	byMember  map[string]string
	wg        sync.WaitGroup
}

func New(cfg config.CaptchaConfig, platform Platform, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	length := cfg.CodeLength
	if length <= 0 {
		length = 6
	}
	return &Module{
		platform:  platform,
		audit:     auditLogger,
		logger:    logger,
		timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		cleanup:   time.Duration(cfg.CleanupSeconds) * time.Second,
		length:    length,
		byChannel: make(map[string]*challenge),
		byMember:  make(map[string]string),
	}
}

// HandleJoin opens a private captcha channel for a new member and waits for
// the answer in the background. Guilds without a captcha category or a
// verified role are skipped.
func (m *Module) HandleJoin(ctx context.Context, guildID string, member *discordgo.Member, settings storage.GuildSettings) error {
	if member == nil || member.User == nil || member.User.Bot {
		return nil
	}
	if settings.CaptchaCategory == "" || settings.VerifiedRole == "" {
		return nil
	}
	userID := member.User.ID
	memberKey := guildID + ":" + userID

	m.mu.Lock()
	if _, ok := m.byMember[memberKey]; ok {
		m.mu.Unlock()
		return ErrChallengePending
	}
	m.byMember[memberKey] = ""
	m.mu.Unlock()

	code, err := generateCode(m.length)
	if err != nil {
		m.forget(memberKey, "")
		return err
	}
	name := strings.ToLower("captcha-" + member.User.Username)
	channel, err := m.platform.CreatePrivateChannel(guildID, settings.CaptchaCategory, name, userID, nil)
	if err != nil {
		m.forget(memberKey, "")
		return fmt.Errorf("create captcha channel: %w", err)
	}

	c := &challenge{
		guildID:   guildID,
		userID:    userID,
		channelID: channel.ID,
		roleID:    settings.VerifiedRole,
		code:      code,
		answer:    make(chan string, 1),
	}
	m.mu.Lock()
	m.byMember[memberKey] = channel.ID
	m.byChannel[channel.ID] = c
	m.mu.Unlock()

	prompt := fmt.Sprintf("👋 Welcome <@%s>!\nTo prove you are not a robot, reply with this code: **`%s`**\n⏳ You have **%s** to answer, otherwise you will be removed automatically.",
		userID, code, m.timeout)
	if err := m.platform.Send(channel.ID, prompt); err != nil {
		m.logger.Warn("captcha prompt failed", zap.String("channel_id", channel.ID), zap.Error(err))
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.await(ctx, c)
	}()
	return nil
}

// HandleMessage routes a message posted in a captcha channel to its waiting
// challenge. It reports whether the message was consumed.
func (m *Module) HandleMessage(msg *discordgo.Message) bool {
	if msg == nil || msg.Author == nil {
		return false
	}
	m.mu.Lock()
	c, ok := m.byChannel[msg.ChannelID]
	m.mu.Unlock()
	if !ok || msg.Author.ID != c.userID {
		return false
	}
	select {
	case c.answer <- msg.Content:
	default:
	}
	return true
}

// Wait blocks until every running challenge has finished.
func (m *Module) Wait() {
	m.wg.Wait()
}

func (m *Module) await(ctx context.Context, c *challenge) Outcome {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	var outcome Outcome
	select {
	case answer := <-c.answer:
		if strings.TrimSpace(answer) == c.code {
			outcome = OutcomePassed
		} else {
			outcome = OutcomeFailed
		}
	case <-timer.C:
		outcome = OutcomeTimeout
	case <-ctx.Done():
		outcome = OutcomeAborted
	}
	m.forget(c.guildID+":"+c.userID, c.channelID)

	switch outcome {
	case OutcomePassed:
		if err := m.platform.AddRole(c.guildID, c.userID, c.roleID, "captcha passed"); err != nil {
			m.logger.Warn("verified role failed", zap.String("user_id", c.userID), zap.String("class", utils.Classify(err)), zap.Error(err))
		}
		m.dm(c.userID, "✅ Verification passed. Welcome!")
		m.send(c.channelID, "✅ Captcha passed! This channel will be deleted.")
		m.audit.Log(ctx, audit.LevelInfo, c.guildID, c.userID, audit.EventCaptchaPassed, "")
	case OutcomeFailed:
		m.dm(c.userID, "❌ Wrong code. You have been removed. Join again to retry.")
		m.kick(c, "Captcha failed.")
		m.send(c.channelID, "❌ Wrong captcha. Channel deleted.")
		m.audit.Log(ctx, audit.LevelWarn, c.guildID, c.userID, audit.EventCaptchaFailed, "")
	case OutcomeTimeout:
		m.dm(c.userID, "⏰ Time is up. You have been removed. Join again to retry the verification.")
		m.kick(c, "Captcha not completed in time.")
		m.audit.Log(ctx, audit.LevelWarn, c.guildID, c.userID, audit.EventCaptchaTimeout, "")
	}

	if outcome != OutcomeAborted && m.cleanup > 0 {
		select {
		case <-time.After(m.cleanup):
		case <-ctx.Done():
		}
	}
	if err := m.platform.DeleteChannel(c.channelID); err != nil && !utils.IsResourceMissing(err) {
		m.logger.Warn("captcha channel delete failed", zap.String("channel_id", c.channelID), zap.Error(err))
	}
	return outcome
}

func (m *Module) forget(memberKey, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byMember, memberKey)
	if channelID != "" {
		delete(m.byChannel, channelID)
	}
}

func (m *Module) kick(c *challenge, reason string) {
	if err := m.platform.Kick(c.guildID, c.userID, reason); err != nil {
		m.logger.Warn("captcha kick failed", zap.String("user_id", c.userID), zap.String("class", utils.Classify(err)), zap.Error(err))
	}
}

// DMs are best effort, members may have them disabled.
func (m *Module) dm(userID, content string) {
	if err := m.platform.DirectMessage(userID, content); err != nil {
		m.logger.Debug("captcha dm failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (m *Module) send(channelID, content string) {
	if err := m.platform.Send(channelID, content); err != nil {
		m.logger.Debug("captcha message failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func generateCode(length int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
