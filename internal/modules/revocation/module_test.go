package revocation

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"guildkeeper/internal/config"
	"guildkeeper/internal/threshold"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const bannedID = "123456789012345678"

type fakePlatform struct {
	mu        sync.Mutex
	messages  map[string]*discordgo.Message
	bans      map[string]string
	sent      []string
	unbans    int
	unbanErr  error
	embedsOut []*discordgo.MessageEmbed
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		messages: make(map[string]*discordgo.Message),
		bans:     map[string]string{bannedID: "raid"},
	}
}

func (f *fakePlatform) SendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := &discordgo.Message{ID: "vote1", ChannelID: channelID, Embeds: []*discordgo.MessageEmbed{embed}}
	f.messages[msg.ID] = msg
	f.embedsOut = append(f.embedsOut, embed)
	return msg, nil
}

func (f *fakePlatform) Send(channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakePlatform) AddReaction(channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := f.messages[messageID]
	msg.Reactions = append(msg.Reactions, &discordgo.MessageReactions{Count: 1, Me: true, Emoji: &discordgo.Emoji{Name: emoji}})
	return nil
}

func (f *fakePlatform) Message(channelID, messageID string) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	}
	copied := *msg
	copied.Reactions = nil
	for _, r := range msg.Reactions {
		reaction := *r
		copied.Reactions = append(copied.Reactions, &reaction)
	}
	return &copied, nil
}

func (f *fakePlatform) Ban(guildID, userID string) (*discordgo.GuildBan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reason, ok := f.bans[userID]
	if !ok {
		return nil, &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	}
	return &discordgo.GuildBan{Reason: reason, User: &discordgo.User{ID: userID}}, nil
}

func (f *fakePlatform) Unban(guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unbans++
	if f.unbanErr != nil {
		return f.unbanErr
	}
	delete(f.bans, userID)
	return nil
}

// vote sets the vote reaction count, including the bot's own seed vote.
func (f *fakePlatform) vote(messageID string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.messages[messageID].Reactions {
		if r.Emoji.Name == "👍" {
			r.Count = count
		}
	}
}

func testConfig() config.RevocationConfig {
	cfg := config.DefaultConfig().Revocation
	cfg.GuildID = "g1"
	cfg.RequestChannelID = "requests"
	cfg.RevokeChannelID = "revocations"
	cfg.Threshold = 3
	return cfg
}

func newTestModule(platform *fakePlatform) *Module {
	return New(testConfig(), config.DefaultConfig().Notifications.EmbedColors, platform, threshold.New(zap.NewNop(), nil), nil, zap.NewNop())
}

func voteEvent() *discordgo.MessageReaction {
	return &discordgo.MessageReaction{ChannelID: "revocations", MessageID: "vote1", UserID: "u9", Emoji: discordgo.Emoji{Name: "👍"}}
}

func TestRequestBanNeedsProof(t *testing.T) {
	platform := newFakePlatform()
	module := newTestModule(platform)

	if err := module.RequestBan(context.Background(), "mod", bannedID, "spam", ""); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("expected ErrProofRequired, got %v", err)
	}
	if err := module.RequestBan(context.Background(), "mod", bannedID, "", "https://cdn.example/proof.png"); err != nil {
		t.Fatalf("request ban: %v", err)
	}
	embed := platform.embedsOut[0]
	if embed.Image == nil || embed.Image.URL == "" || embed.Fields[1].Value != "No reason given" {
		t.Fatalf("unexpected ban request embed: %+v", embed)
	}
}

func TestRequestRevokeRequiresExistingBan(t *testing.T) {
	platform := newFakePlatform()
	module := newTestModule(platform)

	if _, err := module.RequestRevoke(context.Background(), "mod", "223456789012345678"); !errors.Is(err, ErrNotBanned) {
		t.Fatalf("expected ErrNotBanned, got %v", err)
	}
	id, err := module.RequestRevoke(context.Background(), "mod", bannedID)
	if err != nil {
		t.Fatalf("request revoke: %v", err)
	}
	msg, _ := platform.Message("revocations", id)
	if len(msg.Reactions) != 2 {
		t.Fatalf("expected seeded vote reactions, got %d", len(msg.Reactions))
	}
	if !strings.Contains(msg.Embeds[0].Footer.Text, "3 👍") {
		t.Fatalf("unexpected footer %q", msg.Embeds[0].Footer.Text)
	}
}

func TestVotesUnbanOnceAtThreshold(t *testing.T) {
	platform := newFakePlatform()
	module := newTestModule(platform)
	ctx := context.Background()
	if _, err := module.RequestRevoke(ctx, "mod", bannedID); err != nil {
		t.Fatalf("request revoke: %v", err)
	}

	platform.vote("vote1", 3)
	if fired, err := module.HandleReaction(ctx, voteEvent()); fired || err != nil {
		t.Fatalf("two human votes must not fire: fired=%v err=%v", fired, err)
	}

	platform.vote("vote1", 4)
	fired, err := module.HandleReaction(ctx, voteEvent())
	if err != nil || !fired {
		t.Fatalf("expected unban: fired=%v err=%v", fired, err)
	}
	if platform.unbans != 1 {
		t.Fatalf("expected one unban, got %d", platform.unbans)
	}

	platform.vote("vote1", 6)
	if fired, _ := module.HandleReaction(ctx, voteEvent()); fired {
		t.Fatalf("must not fire twice")
	}

	// A fresh watcher, as after a restart, still sees the marker on the message.
	restarted := newTestModule(platform)
	if fired, _ := restarted.HandleReaction(ctx, voteEvent()); fired {
		t.Fatalf("marker must survive a restart")
	}
	if platform.unbans != 1 {
		t.Fatalf("expected one unban overall, got %d", platform.unbans)
	}
}

func TestFailedUnbanStillMarks(t *testing.T) {
	platform := newFakePlatform()
	platform.unbanErr = &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	module := newTestModule(platform)
	ctx := context.Background()
	if _, err := module.RequestRevoke(ctx, "mod", bannedID); err != nil {
		t.Fatalf("request revoke: %v", err)
	}

	platform.vote("vote1", 10)
	fired, err := module.HandleReaction(ctx, voteEvent())
	if !fired || err == nil {
		t.Fatalf("expected fired with error: fired=%v err=%v", fired, err)
	}
	if len(platform.sent) != 1 || !strings.Contains(platform.sent[0], "permission_denied") {
		t.Fatalf("expected failure announcement, got %v", platform.sent)
	}

	restarted := newTestModule(platform)
	if fired, _ := restarted.HandleReaction(ctx, voteEvent()); fired {
		t.Fatalf("failed unban must not be retried")
	}
	if platform.unbans != 1 {
		t.Fatalf("expected a single unban attempt, got %d", platform.unbans)
	}
}

func TestIgnoresOtherChannelsAndEmojis(t *testing.T) {
	module := newTestModule(newFakePlatform())
	event := voteEvent()
	event.ChannelID = "general"
	if fired, err := module.HandleReaction(context.Background(), event); fired || err != nil {
		t.Fatalf("unexpected fire in other channel")
	}
	event = voteEvent()
	event.Emoji = discordgo.Emoji{Name: "👎"}
	if fired, err := module.HandleReaction(context.Background(), event); fired || err != nil {
		t.Fatalf("unexpected fire on against vote")
	}
}
