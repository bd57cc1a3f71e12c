// Package ticket runs support tickets: a private channel per member, visible
// to the guild's support roles, claimed by one of them and closed after a
// short delay through the deferred-action scheduler.
package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/scheduler"
	"guildkeeper/internal/storage"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Kind is the scheduler action kind for a pending close.
const Kind = "ticket_close"

// transcriptChunk keeps each transcript message under Discord's 2000 limit
// once the header and code fence are added.
const transcriptChunk = 1900

var (
	ErrNotConfigured   = errors.New("tickets are not configured in this server")
	ErrAlreadyOpen     = errors.New("member already has an open ticket")
	ErrNotTicket       = errors.New("channel is not an open ticket")
	ErrNotSupport      = errors.New("only support roles can claim tickets")
	ErrAlreadyClaimed  = errors.New("ticket already claimed")
	ErrClosing         = errors.New("ticket is already closing")
	ErrNoLogChannel    = errors.New("no log channel configured")
	ErrEmptyTranscript = errors.New("nothing to transcribe")
)

type Platform interface {
	CreatePrivateChannel(guildID, categoryID, name, userID string, roleIDs []string) (*discordgo.Channel, error)
	RestrictChannel(channelID string, denyRoles, allowMembers []string) error
	DeleteChannel(channelID string) error
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error)
	Send(channelID, content string) error
	History(channelID string, limit int) ([]*discordgo.Message, error)
}

// Documents is the persistence the module needs; *storage.Store satisfies it.
type Documents interface {
	LoadDocument(ctx context.Context, name string) ([]byte, error)
	SaveDocument(ctx context.Context, name string, body []byte) error
}

type Ticket struct {
	ChannelID string    `json:"channel_id"`
	OwnerID   string    `json:"owner_id"`
	OpenedAt  time.Time `json:"opened_at"`
	ClaimedBy string    `json:"claimed_by,omitempty"`
	Closing   bool      `json:"closing,omitempty"`
}

type closePayload struct {
	ChannelID string `json:"channel_id"`
	ActorID   string `json:"actor_id"`
}

type Module struct {
	cfg       config.TicketConfig
	colors    config.EmbedColors
	platform  Platform
	docs      Documents
	scheduler *scheduler.Scheduler
	audit     *audit.Logger
	logger    *zap.Logger
	now       func() time.Time

	// mu serializes read-modify-write of the per-guild tickets documents.
	mu sync.Mutex
}

func New(cfg config.TicketConfig, colors config.EmbedColors, platform Platform, docs Documents, sched *scheduler.Scheduler, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Module{
		cfg:       cfg,
		colors:    colors,
		platform:  platform,
		docs:      docs,
		scheduler: sched,
		audit:     auditLogger,
		logger:    logger,
		now:       time.Now,
	}
	sched.Register(Kind, m.finish)
	return m
}

// Open creates the member's ticket channel. A member holds at most one open
// ticket per guild; the existing one is returned with ErrAlreadyOpen.
func (m *Module) Open(ctx context.Context, guildID, userID string, settings storage.GuildSettings) (Ticket, error) {
	if settings.TicketCategory == "" {
		return Ticket{}, ErrNotConfigured
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tickets, err := m.load(ctx, guildID)
	if err != nil {
		return Ticket{}, err
	}
	for _, t := range tickets {
		if t.OwnerID == userID && !t.Closing {
			return t, ErrAlreadyOpen
		}
	}

	channel, err := m.platform.CreatePrivateChannel(guildID, settings.TicketCategory, "ticket-"+userID, userID, settings.SupportRoles)
	if err != nil {
		return Ticket{}, fmt.Errorf("create ticket channel: %w", err)
	}
	t := Ticket{ChannelID: channel.ID, OwnerID: userID, OpenedAt: m.now().UTC()}
	tickets[t.ChannelID] = t
	if err := m.save(ctx, guildID, tickets); err != nil {
		_ = m.platform.DeleteChannel(channel.ID)
		return Ticket{}, err
	}

	if _, err := m.platform.SendEmbed(channel.ID, &discordgo.MessageEmbed{
		Title:       "🎟️ Ticket opened",
		Description: fmt.Sprintf("<@%s>, a member of the support team will be with you shortly.\nStaff can use `/ticket claim`; anyone here can `/ticket close`.", userID),
		Color:       m.colors.Action,
		Timestamp:   t.OpenedAt.Format(time.RFC3339),
	}); err != nil {
		m.logger.Warn("ticket welcome failed", zap.String("channel_id", channel.ID), zap.Error(err))
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventTicketOpened, "channel=<#"+channel.ID+">")
	return t, nil
}

// Claim hands the ticket to one staff member: the other support roles lose
// access to the channel.
func (m *Module) Claim(ctx context.Context, guildID, channelID, staffID string, staffRoles []string, settings storage.GuildSettings) error {
	if !hasAny(staffRoles, settings.SupportRoles) {
		return ErrNotSupport
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tickets, err := m.load(ctx, guildID)
	if err != nil {
		return err
	}
	t, ok := tickets[channelID]
	if !ok || t.Closing {
		return ErrNotTicket
	}
	if t.ClaimedBy != "" {
		return fmt.Errorf("%w by <@%s>", ErrAlreadyClaimed, t.ClaimedBy)
	}
	if err := m.platform.RestrictChannel(channelID, settings.SupportRoles, []string{staffID, t.OwnerID}); err != nil {
		return fmt.Errorf("restrict ticket channel: %w", err)
	}
	t.ClaimedBy = staffID
	tickets[channelID] = t
	if err := m.save(ctx, guildID, tickets); err != nil {
		return err
	}

	if err := m.platform.Send(channelID, fmt.Sprintf("🛡️ <@%s> claimed this ticket.", staffID)); err != nil {
		m.logger.Debug("claim notice failed", zap.Error(err))
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, staffID, audit.EventTicketClaimed, "channel=<#"+channelID+"> owner=<@"+t.OwnerID+">")
	return nil
}

// Close schedules the channel's deletion after the configured delay and
// returns when it will happen.
func (m *Module) Close(ctx context.Context, guildID, channelID, actorID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tickets, err := m.load(ctx, guildID)
	if err != nil {
		return time.Time{}, err
	}
	t, ok := tickets[channelID]
	if !ok {
		return time.Time{}, ErrNotTicket
	}
	if t.Closing {
		return time.Time{}, ErrClosing
	}

	payload, err := json.Marshal(closePayload{ChannelID: channelID, ActorID: actorID})
	if err != nil {
		return time.Time{}, err
	}
	deadline := m.now().Add(time.Duration(m.cfg.CloseDelaySeconds) * time.Second).UTC()
	if _, err := m.scheduler.Schedule(ctx, scheduler.Action{
		ID:       actionID(channelID),
		Kind:     Kind,
		GuildID:  guildID,
		Deadline: deadline,
		Payload:  payload,
	}); err != nil {
		if errors.Is(err, scheduler.ErrDuplicate) {
			return time.Time{}, ErrClosing
		}
		return time.Time{}, err
	}

	t.Closing = true
	tickets[channelID] = t
	if err := m.save(ctx, guildID, tickets); err != nil {
		// The scheduled close still runs and drops the record.
		m.logger.Warn("ticket closing flag not saved", zap.String("channel_id", channelID), zap.Error(err))
	}
	return deadline, nil
}

// finish is the scheduler effect for Kind.
func (m *Module) finish(ctx context.Context, action scheduler.Action) error {
	var payload closePayload
	if err := action.Decode(&payload); err != nil {
		return err
	}

	deleteErr := m.platform.DeleteChannel(payload.ChannelID)
	if deleteErr != nil && utils.Classify(deleteErr) == utils.ClassResourceMissing {
		deleteErr = nil
	}

	// The record goes either way; a channel that could not be deleted is
	// reported through the scheduler's failure path.
	m.mu.Lock()
	tickets, err := m.load(ctx, action.GuildID)
	if err == nil {
		owner := tickets[payload.ChannelID].OwnerID
		delete(tickets, payload.ChannelID)
		err = m.save(ctx, action.GuildID, tickets)
		if deleteErr == nil {
			m.audit.Log(ctx, audit.LevelInfo, action.GuildID, payload.ActorID, audit.EventTicketClosed,
				fmt.Sprintf("ticket-%s closed by <@%s>", owner, payload.ActorID))
		}
	}
	m.mu.Unlock()

	if deleteErr != nil {
		return fmt.Errorf("delete ticket channel: %w", deleteErr)
	}
	return err
}

// Transcript copies the channel history to the guild log channel and reports
// how many messages were sent.
func (m *Module) Transcript(ctx context.Context, guildID, channelID, actorID, logChannelID string) (int, error) {
	if logChannelID == "" {
		return 0, ErrNoLogChannel
	}
	t, ok, err := m.Get(ctx, guildID, channelID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotTicket
	}

	history, err := m.platform.History(channelID, m.cfg.TranscriptLimit)
	if err != nil {
		return 0, fmt.Errorf("read ticket history: %w", err)
	}
	lines := transcriptLines(history)
	if len(lines) == 0 {
		return 0, ErrEmptyTranscript
	}

	chunks := chunkLines(lines, transcriptChunk)
	for _, chunk := range chunks {
		content := fmt.Sprintf("**Transcript of ticket-%s:**\n```txt\n%s\n```", t.OwnerID, chunk)
		if err := m.platform.Send(logChannelID, content); err != nil {
			return 0, fmt.Errorf("send transcript: %w", err)
		}
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventTicketArchived,
		fmt.Sprintf("channel=<#%s> messages=%d", channelID, len(lines)))
	return len(chunks), nil
}

func (m *Module) Get(ctx context.Context, guildID, channelID string) (Ticket, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tickets, err := m.load(ctx, guildID)
	if err != nil {
		return Ticket{}, false, err
	}
	t, ok := tickets[channelID]
	return t, ok, nil
}

// List returns the guild's tickets, oldest first.
func (m *Module) List(ctx context.Context, guildID string) ([]Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tickets, err := m.load(ctx, guildID)
	if err != nil {
		return nil, err
	}
	out := make([]Ticket, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (m *Module) load(ctx context.Context, guildID string) (map[string]Ticket, error) {
	body, err := m.docs.LoadDocument(ctx, storage.TicketsDocument(guildID))
	if err != nil {
		return nil, err
	}
	tickets := make(map[string]Ticket)
	if body == nil {
		return tickets, nil
	}
	if err := json.Unmarshal(body, &tickets); err != nil {
		return nil, fmt.Errorf("decode tickets of %s: %w", guildID, err)
	}
	return tickets, nil
}

func (m *Module) save(ctx context.Context, guildID string, tickets map[string]Ticket) error {
	body, err := json.Marshal(tickets)
	if err != nil {
		return err
	}
	return m.docs.SaveDocument(ctx, storage.TicketsDocument(guildID), body)
}

func actionID(channelID string) string {
	return "ticket:" + channelID
}

func hasAny(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func transcriptLines(history []*discordgo.Message) []string {
	var lines []string
	for _, msg := range history {
		if msg == nil || (msg.Content == "" && len(msg.Attachments) == 0) {
			continue
		}
		author := "unknown"
		if msg.Author != nil {
			author = msg.Author.Username
		}
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %s: %s", msg.Timestamp.UTC().Format("2006-01-02 15:04"), author, msg.Content)
		for _, att := range msg.Attachments {
			fmt.Fprintf(&b, " [attachment: %s]", att.URL)
		}
		lines = append(lines, b.String())
	}
	return lines
}

// chunkLines joins lines into blocks of at most max runes. A single longer
// line is split.
func chunkLines(lines []string, max int) []string {
	var (
		chunks []string
		cur    []rune
	)
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, string(cur))
			cur = cur[:0]
		}
	}
	for _, line := range lines {
		r := []rune(line)
		for len(r) > max {
			flush()
			chunks = append(chunks, string(r[:max]))
			r = r[max:]
		}
		extra := len(r)
		if len(cur) > 0 {
			extra++
		}
		if len(cur)+extra > max {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, '\n')
		}
		cur = append(cur, r...)
	}
	flush()
	return chunks
}
