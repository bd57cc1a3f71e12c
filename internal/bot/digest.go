package bot

import (
	"sync"
	"time"

	"guildkeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
)

type embedPoster interface {
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error)
	EditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed) error
}

// auditDigest folds repeated audit entries into one log channel message.
// An identical entry within the window edits the earlier message with a
// running count instead of posting again.
type auditDigest struct {
	poster embedPoster
	render func(storage.AuditLog, int) *discordgo.MessageEmbed
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*digestEntry
}

type digestEntry struct {
	channelID string
	messageID string
	count     int
	seenAt    time.Time
}

func newAuditDigest(poster embedPoster, window time.Duration, render func(storage.AuditLog, int) *discordgo.MessageEmbed) *auditDigest {
	return &auditDigest{
		poster:  poster,
		render:  render,
		window:  window,
		now:     time.Now,
		entries: make(map[string]*digestEntry),
	}
}

func digestKey(entry storage.AuditLog) string {
	return entry.GuildID + "|" + entry.Level + "|" + entry.Event + "|" + entry.Details + "|" + entry.UserID
}

func (d *auditDigest) Post(channelID string, entry storage.AuditLog) {
	key := digestKey(entry)
	now := d.now()

	d.mu.Lock()
	prev := d.entries[key]
	if prev != nil && prev.channelID == channelID && now.Sub(prev.seenAt) <= d.window {
		prev.count++
		prev.seenAt = now
		count, messageID := prev.count, prev.messageID
		d.mu.Unlock()
		if err := d.poster.EditEmbed(channelID, messageID, d.render(entry, count)); err == nil {
			return
		}
		// The earlier message is gone; start a fresh one.
		d.mu.Lock()
		delete(d.entries, key)
	}
	d.prune(now)
	d.mu.Unlock()

	msg, err := d.poster.SendEmbed(channelID, d.render(entry, 1))
	if err != nil || msg == nil {
		return
	}
	d.mu.Lock()
	d.entries[key] = &digestEntry{channelID: channelID, messageID: msg.ID, count: 1, seenAt: now}
	d.mu.Unlock()
}

func (d *auditDigest) prune(now time.Time) {
	for key, e := range d.entries {
		if now.Sub(e.seenAt) > d.window {
			delete(d.entries, key)
		}
	}
}
