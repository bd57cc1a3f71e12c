// Package activity counts member messages and voice time per guild and keeps
// a rolling window of joins and departures. Counters live in memory and are
// flushed to one document per guild on a timer.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	KindMessages = "messages"
	KindVoice    = "voice"
)

var ErrUnknownKind = errors.New("unknown leaderboard")

type Documents interface {
	LoadDocument(ctx context.Context, name string) ([]byte, error)
	SaveDocument(ctx context.Context, name string, body []byte) error
}

// guildStats is the persisted shape of one guild's counters.
type guildStats struct {
	Messages map[string]int64 `json:"messages"`
	Voice    map[string]int64 `json:"voice_seconds"`
	Joins    []time.Time      `json:"joins,omitempty"`
	Leaves   []time.Time      `json:"leaves,omitempty"`
}

type Entry struct {
	UserID string
	Value  int64
}

type MemberStats struct {
	Messages int64
	Voice    time.Duration
}

type Totals struct {
	Messages int64
	Voice    time.Duration
	Joined   int
	Left     int
	Window   time.Duration
}

type Module struct {
	cfg    config.ActivityConfig
	docs   Documents
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	guilds map[string]*guildStats
	dirty  map[string]bool
	// voice holds the start of each open voice session, keyed guild:user.
	voice map[string]time.Time
}

func New(cfg config.ActivityConfig, docs Documents, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		cfg:    cfg,
		docs:   docs,
		logger: logger,
		now:    time.Now,
		guilds: make(map[string]*guildStats),
		dirty:  make(map[string]bool),
		voice:  make(map[string]time.Time),
	}
}

func (m *Module) RecordMessage(ctx context.Context, msg *discordgo.MessageCreate) error {
	if !m.cfg.Enabled || msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, err := m.guildLocked(ctx, msg.GuildID)
	if err != nil {
		return err
	}
	stats.Messages[msg.Author.ID]++
	m.dirty[msg.GuildID] = true
	return nil
}

// VoiceUpdate opens a session when a member enters any voice channel and
// credits its length when they leave voice entirely. Moves between channels
// keep the session open.
func (m *Module) VoiceUpdate(ctx context.Context, event *discordgo.VoiceStateUpdate) error {
	if !m.cfg.Enabled || event.VoiceState == nil || event.GuildID == "" || event.UserID == "" {
		return nil
	}
	if event.Member != nil && event.Member.User != nil && event.Member.User.Bot {
		return nil
	}
	key := event.GuildID + ":" + event.UserID
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	start, open := m.voice[key]
	switch {
	case event.ChannelID != "" && !open:
		m.voice[key] = now
	case event.ChannelID == "" && open:
		stats, err := m.guildLocked(ctx, event.GuildID)
		if err != nil {
			return err
		}
		delete(m.voice, key)
		stats.Voice[event.UserID] += int64(now.Sub(start) / time.Second)
		m.dirty[event.GuildID] = true
	}
	return nil
}

func (m *Module) MemberJoined(ctx context.Context, guildID string) error {
	return m.membership(ctx, guildID, true)
}

func (m *Module) MemberLeft(ctx context.Context, guildID string) error {
	return m.membership(ctx, guildID, false)
}

func (m *Module) membership(ctx context.Context, guildID string, joined bool) error {
	if !m.cfg.Enabled || guildID == "" {
		return nil
	}
	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, err := m.guildLocked(ctx, guildID)
	if err != nil {
		return err
	}
	if joined {
		stats.Joins = append(prune(stats.Joins, now.Add(-m.window())), now)
	} else {
		stats.Leaves = append(prune(stats.Leaves, now.Add(-m.window())), now)
	}
	m.dirty[guildID] = true
	return nil
}

// Top returns the n highest counters of kind, ties broken by user ID.
func (m *Module) Top(ctx context.Context, guildID, kind string, n int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, err := m.guildLocked(ctx, guildID)
	if err != nil {
		return nil, err
	}
	var counters map[string]int64
	switch kind {
	case KindMessages:
		counters = stats.Messages
	case KindVoice:
		counters = stats.Voice
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	entries := make([]Entry, 0, len(counters))
	for userID, value := range counters {
		if value > 0 {
			entries = append(entries, Entry{UserID: userID, Value: value})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].UserID < entries[j].UserID
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// Member reports one member's counters, including an open voice session.
func (m *Module) Member(ctx context.Context, guildID, userID string) (MemberStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, err := m.guildLocked(ctx, guildID)
	if err != nil {
		return MemberStats{}, err
	}
	voice := time.Duration(stats.Voice[userID]) * time.Second
	if start, open := m.voice[guildID+":"+userID]; open {
		voice += m.now().Sub(start).Truncate(time.Second)
	}
	return MemberStats{Messages: stats.Messages[userID], Voice: voice}, nil
}

func (m *Module) Totals(ctx context.Context, guildID string) (Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, err := m.guildLocked(ctx, guildID)
	if err != nil {
		return Totals{}, err
	}
	totals := Totals{Window: m.window()}
	for _, v := range stats.Messages {
		totals.Messages += v
	}
	for _, v := range stats.Voice {
		totals.Voice += time.Duration(v) * time.Second
	}
	cutoff := m.now().UTC().Add(-totals.Window)
	totals.Joined = len(prune(stats.Joins, cutoff))
	totals.Left = len(prune(stats.Leaves, cutoff))
	return totals, nil
}

// Flush saves every guild changed since the last flush. A guild whose save
// fails stays dirty for the next run.
func (m *Module) Flush(ctx context.Context) error {
	m.mu.Lock()
	cutoff := m.now().UTC().Add(-m.window())
	pending := make(map[string][]byte, len(m.dirty))
	var errs []error
	for guildID := range m.dirty {
		stats := m.guilds[guildID]
		stats.Joins = prune(stats.Joins, cutoff)
		stats.Leaves = prune(stats.Leaves, cutoff)
		body, err := json.Marshal(stats)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pending[guildID] = body
		delete(m.dirty, guildID)
	}
	m.mu.Unlock()

	for guildID, body := range pending {
		if err := m.docs.SaveDocument(ctx, storage.ActivityDocument(guildID), body); err != nil {
			m.mu.Lock()
			m.dirty[guildID] = true
			m.mu.Unlock()
			errs = append(errs, fmt.Errorf("save activity of %s: %w", guildID, err))
		}
	}
	if len(pending) > 0 {
		m.logger.Debug("activity flushed", zap.Int("guilds", len(pending)))
	}
	return errors.Join(errs...)
}

// guildLocked returns the guild's counters, loading them on first use. A
// failed load caches nothing so a later flush cannot overwrite stored data.
func (m *Module) guildLocked(ctx context.Context, guildID string) (*guildStats, error) {
	if stats, ok := m.guilds[guildID]; ok {
		return stats, nil
	}
	body, err := m.docs.LoadDocument(ctx, storage.ActivityDocument(guildID))
	if err != nil {
		return nil, fmt.Errorf("load activity of %s: %w", guildID, err)
	}
	stats := &guildStats{}
	if body != nil {
		if err := json.Unmarshal(body, stats); err != nil {
			return nil, fmt.Errorf("decode activity of %s: %w", guildID, err)
		}
	}
	if stats.Messages == nil {
		stats.Messages = make(map[string]int64)
	}
	if stats.Voice == nil {
		stats.Voice = make(map[string]int64)
	}
	m.guilds[guildID] = stats
	return stats, nil
}

func (m *Module) window() time.Duration {
	days := m.cfg.MembershipWindowDays
	if days <= 0 {
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

// prune drops timestamps before cutoff. Timestamps are appended in order.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(times), func(i int) bool { return !times[i].Before(cutoff) })
	return times[i:]
}
