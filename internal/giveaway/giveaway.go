package giveaway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/scheduler"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const Kind = "giveaway"

const (
	runningTitle = "🎉 Giveaway 🎉"
	endedTitle   = "🎉 Giveaway ended 🎉"

	fieldEnds    = "Ends"
	fieldWinners = "Winners"
	fieldEntry   = "Entry"
	fieldHost    = "Host"
)

var (
	ErrInvalidDuration = errors.New("giveaway duration out of range")
	ErrInvalidWinners  = errors.New("giveaway winner count out of range")
	ErrInvalidTitle    = errors.New("giveaway title is required")
	ErrNotEnded        = errors.New("giveaway has not ended")
	ErrNotGiveaway     = errors.New("message is not a giveaway")
)

type Status int

const (
	StatusEnded Status = iota
	StatusNoParticipants
	StatusAlreadyEnded
)

func (s Status) String() string {
	switch s {
	case StatusEnded:
		return "ended"
	case StatusNoParticipants:
		return "no_participants"
	case StatusAlreadyEnded:
		return "already_ended"
	default:
		return "unknown"
	}
}

type Platform interface {
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error)
	Send(channelID, content string) error
	EditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed) error
	AddReaction(channelID, messageID, emoji string) error
	DeleteMessage(channelID, messageID string) error
	Message(channelID, messageID string) (*discordgo.Message, error)
	Reactors(channelID, messageID, emoji string) ([]*discordgo.User, error)
}

// Payload is what a pending giveaway needs to be drawn after a restart.
type Payload struct {
	ChannelID    string `json:"channel_id"`
	MessageID    string `json:"message_id"`
	Emoji        string `json:"emoji"`
	WinnersCount int    `json:"winners_count"`
	CreatorID    string `json:"creator_id"`
	Title        string `json:"title"`
}

type Request struct {
	GuildID   string
	ChannelID string
	CreatorID string
	Title     string
	Emoji     string
	Duration  time.Duration
	Winners   int
}

type Result struct {
	Status  Status
	Winners []string
}

type Summary struct {
	MessageID string
	ChannelID string
	Title     string
	Winners   int
	Deadline  time.Time
}

type Service struct {
	cfg       config.GiveawayConfig
	colors    config.EmbedColors
	platform  Platform
	scheduler *scheduler.Scheduler
	audit     *audit.Logger
	logger    *zap.Logger
	now       func() time.Time
	shuffle   func(n int, swap func(i, j int))
}

// New builds the service and registers its draw as the effect for Kind.
func New(cfg config.GiveawayConfig, colors config.EmbedColors, platform Platform, sched *scheduler.Scheduler, auditLogger *audit.Logger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:       cfg,
		colors:    colors,
		platform:  platform,
		scheduler: sched,
		audit:     auditLogger,
		logger:    logger,
		now:       time.Now,
		shuffle:   rand.Shuffle,
	}
	sched.Register(Kind, s.effect)
	return s
}

func (s *Service) Start(ctx context.Context, req Request) (Summary, error) {
	if err := s.validate(&req); err != nil {
		return Summary{}, err
	}
	deadline := s.now().Add(req.Duration).UTC()
	msg, err := s.platform.SendEmbed(req.ChannelID, s.runningEmbed(req, deadline))
	if err != nil {
		return Summary{}, fmt.Errorf("post giveaway: %w", err)
	}
	if err := s.platform.AddReaction(req.ChannelID, msg.ID, req.Emoji); err != nil {
		_ = s.platform.DeleteMessage(req.ChannelID, msg.ID)
		return Summary{}, fmt.Errorf("add entry reaction %s: %w", req.Emoji, err)
	}

	payload, err := json.Marshal(Payload{
		ChannelID:    req.ChannelID,
		MessageID:    msg.ID,
		Emoji:        req.Emoji,
		WinnersCount: req.Winners,
		CreatorID:    req.CreatorID,
		Title:        req.Title,
	})
	if err != nil {
		return Summary{}, err
	}
	if _, err := s.scheduler.Schedule(ctx, scheduler.Action{
		ID:       msg.ID,
		Kind:     Kind,
		GuildID:  req.GuildID,
		Deadline: deadline,
		Payload:  payload,
	}); err != nil {
		_ = s.platform.DeleteMessage(req.ChannelID, msg.ID)
		return Summary{}, err
	}

	s.audit.Log(ctx, audit.LevelInfo, req.GuildID, req.CreatorID, audit.EventGiveawayStarted,
		fmt.Sprintf("message=%s winners=%d ends=%s", msg.ID, req.Winners, deadline.Format(time.RFC3339)))
	return Summary{
		MessageID: msg.ID,
		ChannelID: req.ChannelID,
		Title:     req.Title,
		Winners:   req.Winners,
		Deadline:  deadline,
	}, nil
}

// End draws a pending giveaway now. It returns false when the giveaway is
// unknown in guildID or has already ended.
func (s *Service) End(ctx context.Context, guildID, messageID string) (bool, error) {
	action, ok := s.scheduler.Get(messageID)
	if !ok || action.Kind != Kind || action.GuildID != guildID {
		return false, nil
	}
	return s.scheduler.Execute(ctx, messageID)
}

func (s *Service) List(guildID string) []Summary {
	var result []Summary
	for _, action := range s.scheduler.Pending(guildID) {
		if action.Kind != Kind {
			continue
		}
		var payload Payload
		if err := action.Decode(&payload); err != nil {
			continue
		}
		result = append(result, Summary{
			MessageID: payload.MessageID,
			ChannelID: payload.ChannelID,
			Title:     payload.Title,
			Winners:   payload.WinnersCount,
			Deadline:  action.Deadline,
		})
	}
	return result
}

// Finish draws the winners of the giveaway message and marks it ended. A
// message that is already marked ended yields StatusAlreadyEnded.
func (s *Service) Finish(ctx context.Context, guildID string, payload Payload) (Result, error) {
	msg, err := s.platform.Message(payload.ChannelID, payload.MessageID)
	if err != nil {
		return Result{}, fmt.Errorf("fetch giveaway message: %w", err)
	}
	if len(msg.Embeds) > 0 && msg.Embeds[0].Title == endedTitle {
		return Result{Status: StatusAlreadyEnded}, nil
	}

	var entrants []string
	if hasReaction(msg, payload.Emoji) {
		entrants, err = s.entrants(payload.ChannelID, payload.MessageID, payload.Emoji)
		if err != nil {
			return Result{}, err
		}
	}
	winners := s.draw(entrants, payload.WinnersCount)

	result := Result{Status: StatusEnded, Winners: winners}
	if len(winners) == 0 {
		result.Status = StatusNoParticipants
	}
	if err := s.platform.EditEmbed(payload.ChannelID, payload.MessageID, s.endedEmbed(msg, payload, winners)); err != nil {
		return result, fmt.Errorf("mark giveaway ended: %w", err)
	}

	announcement := fmt.Sprintf("Nobody entered **%s**, no winner this time.", payload.Title)
	if len(winners) > 0 {
		announcement = fmt.Sprintf("🏆 Congratulations %s! You won **%s**.", mentions(winners), payload.Title)
	}
	if err := s.platform.Send(payload.ChannelID, announcement); err != nil {
		s.logger.Warn("giveaway announcement failed", zap.String("message_id", payload.MessageID), zap.Error(err))
	}

	s.audit.Log(ctx, audit.LevelInfo, guildID, payload.CreatorID, audit.EventGiveawayEnded,
		fmt.Sprintf("message=%s entrants=%d winners=%s", payload.MessageID, len(entrants), strings.Join(winners, ",")))
	return result, nil
}

// Reroll draws new winners from an ended giveaway's entrants.
func (s *Service) Reroll(ctx context.Context, guildID, channelID, messageID string, winners int) ([]string, error) {
	if action, ok := s.scheduler.Get(messageID); ok && action.Kind == Kind {
		return nil, ErrNotEnded
	}
	msg, err := s.platform.Message(channelID, messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch giveaway message: %w", err)
	}
	if len(msg.Embeds) == 0 {
		return nil, ErrNotGiveaway
	}
	embed := msg.Embeds[0]
	switch embed.Title {
	case endedTitle:
	case runningTitle:
		return nil, ErrNotEnded
	default:
		return nil, ErrNotGiveaway
	}

	emoji := fieldValue(embed, fieldEntry)
	if emoji == "" {
		emoji = s.cfg.DefaultEmoji
	}
	if winners <= 0 {
		winners, _ = strconv.Atoi(fieldValue(embed, fieldWinners))
	}
	if winners <= 0 {
		winners = 1
	}

	var entrants []string
	if hasReaction(msg, emoji) {
		entrants, err = s.entrants(channelID, messageID, emoji)
		if err != nil {
			return nil, err
		}
	}
	picked := s.draw(entrants, winners)
	if len(picked) == 0 {
		return nil, nil
	}
	if err := s.platform.Send(channelID, fmt.Sprintf("🔁 New draw: congratulations %s!", mentions(picked))); err != nil {
		s.logger.Warn("reroll announcement failed", zap.String("message_id", messageID), zap.Error(err))
	}
	s.audit.Log(ctx, audit.LevelInfo, guildID, "", audit.EventGiveawayEnded,
		fmt.Sprintf("message=%s reroll winners=%s", messageID, strings.Join(picked, ",")))
	return picked, nil
}

func (s *Service) effect(ctx context.Context, action scheduler.Action) error {
	var payload Payload
	if err := action.Decode(&payload); err != nil {
		return fmt.Errorf("decode giveaway payload: %w", err)
	}
	if payload.MessageID == "" {
		payload.MessageID = action.ID
	}
	result, err := s.Finish(ctx, action.GuildID, payload)
	if err != nil {
		return err
	}
	s.logger.Info("giveaway finished",
		zap.String("message_id", payload.MessageID),
		zap.Stringer("status", result.Status),
		zap.Int("winners", len(result.Winners)),
	)
	return nil
}

func (s *Service) validate(req *Request) error {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return ErrInvalidTitle
	}
	maxDuration := time.Duration(s.cfg.MaxDurationDays) * 24 * time.Hour
	if req.Duration <= 0 || (maxDuration > 0 && req.Duration > maxDuration) {
		return fmt.Errorf("%w: %s", ErrInvalidDuration, req.Duration)
	}
	if req.Winners < 1 || (s.cfg.MaxWinners > 0 && req.Winners > s.cfg.MaxWinners) {
		return fmt.Errorf("%w: %d", ErrInvalidWinners, req.Winners)
	}
	req.Emoji = NormalizeEmoji(req.Emoji)
	if req.Emoji == "" {
		req.Emoji = s.cfg.DefaultEmoji
	}
	return nil
}

func (s *Service) entrants(channelID, messageID, emoji string) ([]string, error) {
	users, err := s.platform.Reactors(channelID, messageID, emoji)
	if err != nil {
		return nil, fmt.Errorf("list entrants: %w", err)
	}
	seen := make(map[string]struct{}, len(users))
	ids := make([]string, 0, len(users))
	for _, user := range users {
		if user == nil || user.Bot {
			continue
		}
		if _, ok := seen[user.ID]; ok {
			continue
		}
		seen[user.ID] = struct{}{}
		ids = append(ids, user.ID)
	}
	return ids, nil
}

// draw picks min(count, len(entrants)) distinct entrants uniformly.
func (s *Service) draw(entrants []string, count int) []string {
	if count <= 0 || len(entrants) == 0 {
		return nil
	}
	pool := append([]string(nil), entrants...)
	s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if count > len(pool) {
		count = len(pool)
	}
	return pool[:count]
}

func (s *Service) runningEmbed(req Request, deadline time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       runningTitle,
		Description: req.Title,
		Color:       s.colors.Action,
		Timestamp:   deadline.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: fieldEnds, Value: fmt.Sprintf("<t:%d:R>", deadline.Unix()), Inline: true},
			{Name: fieldWinners, Value: strconv.Itoa(req.Winners), Inline: true},
			{Name: fieldEntry, Value: req.Emoji, Inline: true},
			{Name: fieldHost, Value: "<@" + req.CreatorID + ">", Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "React to enter"},
	}
}

func (s *Service) endedEmbed(msg *discordgo.Message, payload Payload, winners []string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Description: payload.Title}
	if len(msg.Embeds) > 0 && msg.Embeds[0] != nil {
		current := *msg.Embeds[0]
		embed = &current
	}
	embed.Title = endedTitle
	embed.Color = s.colors.Success
	embed.Footer = &discordgo.MessageEmbedFooter{Text: "Ended"}
	if len(winners) > 0 {
		embed.Description += "\n\n🏆 Winner(s): " + mentions(winners)
	} else {
		embed.Description += "\n\nNo participants."
	}
	return embed
}

// NormalizeEmoji turns a custom emoji mention ("<:name:id>") into the
// "name:id" form the reaction endpoints expect.
func NormalizeEmoji(emoji string) string {
	emoji = strings.TrimSpace(emoji)
	if strings.HasPrefix(emoji, "<") && strings.HasSuffix(emoji, ">") {
		inner := strings.TrimSuffix(strings.TrimPrefix(emoji, "<"), ">")
		inner = strings.TrimPrefix(inner, "a")
		return strings.TrimPrefix(inner, ":")
	}
	return emoji
}

func hasReaction(msg *discordgo.Message, emoji string) bool {
	for _, reaction := range msg.Reactions {
		if reaction == nil || reaction.Emoji == nil {
			continue
		}
		if reaction.Emoji.APIName() == emoji || reaction.Emoji.Name == emoji {
			return true
		}
	}
	return false
}

func fieldValue(embed *discordgo.MessageEmbed, name string) string {
	for _, field := range embed.Fields {
		if field != nil && field.Name == name {
			return strings.TrimSpace(field.Value)
		}
	}
	return ""
}

func mentions(ids []string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, "<@"+id+">")
	}
	return strings.Join(parts, ", ")
}
