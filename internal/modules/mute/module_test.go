package mute

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"testing"
	"time"

	"guildkeeper/internal/scheduler"
	"guildkeeper/internal/scheduler/schedulertest"
	"guildkeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type fakePlatform struct {
	mu      sync.Mutex
	roles   map[string][]string
	removed int
}

func (f *fakePlatform) AddRole(guildID, userID, roleID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !slices.Contains(f.roles[userID], roleID) {
		f.roles[userID] = append(f.roles[userID], roleID)
	}
	return nil
}

func (f *fakePlatform) RemoveRole(guildID, userID, roleID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	f.roles[userID] = slices.DeleteFunc(f.roles[userID], func(r string) bool { return r == roleID })
	return nil
}

func (f *fakePlatform) Member(guildID, userID string) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roles, ok := f.roles[userID]
	if !ok {
		return nil, &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	}
	return &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: append([]string(nil), roles...)}, nil
}

func (f *fakePlatform) has(userID, roleID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.roles[userID], roleID)
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestModule(t *testing.T) (*Module, *fakePlatform, *schedulertest.Clock, *schedulertest.Store, *scheduler.Scheduler) {
	t.Helper()
	platform := &fakePlatform{roles: make(map[string][]string)}
	clock := schedulertest.NewClock(t0)
	store := schedulertest.NewStore()
	sched := scheduler.New(scheduler.Config{}, store, zap.NewNop(), nil, nil)
	sched.WithClock(clock)
	t.Cleanup(sched.Close)
	module := New(platform, sched, nil, zap.NewNop())
	module.now = clock.Now
	return module, platform, clock, store, sched
}

func TestMuteLiftsAtDeadline(t *testing.T) {
	module, platform, clock, store, _ := newTestModule(t)
	ctx := context.Background()

	deadline, err := module.Mute(ctx, "g1", "u1", "muted", 10*time.Minute, "spam", "mod")
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	if !deadline.Equal(t0.Add(10 * time.Minute)) {
		t.Fatalf("unexpected deadline %s", deadline)
	}
	if !platform.has("u1", "muted") {
		t.Fatalf("expected mute role")
	}

	clock.Advance(9 * time.Minute)
	if !platform.has("u1", "muted") {
		t.Fatalf("mute lifted early")
	}
	clock.Advance(time.Minute)
	if platform.has("u1", "muted") {
		t.Fatalf("expected mute lifted")
	}
	if doc := store.Document(storage.DocDeferredActions); doc != "[]" {
		t.Fatalf("expected empty collection, got %s", doc)
	}
}

func TestRemuteReplacesPendingAction(t *testing.T) {
	module, platform, clock, _, sched := newTestModule(t)
	ctx := context.Background()

	if _, err := module.Mute(ctx, "g1", "u1", "muted", 10*time.Minute, "", "mod"); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if _, err := module.Mute(ctx, "g1", "u1", "muted", time.Hour, "", "mod"); err != nil {
		t.Fatalf("remute: %v", err)
	}
	if pending := sched.Pending("g1"); len(pending) != 1 || !pending[0].Deadline.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected one pending action with the new deadline, got %+v", pending)
	}

	clock.Advance(30 * time.Minute)
	if !platform.has("u1", "muted") {
		t.Fatalf("old deadline must not lift the new mute")
	}
	clock.Advance(30 * time.Minute)
	if platform.has("u1", "muted") {
		t.Fatalf("expected mute lifted")
	}
}

func TestLiftSkipsWhenRoleAlreadyRemoved(t *testing.T) {
	module, platform, clock, _, _ := newTestModule(t)
	ctx := context.Background()

	if _, err := module.Mute(ctx, "g1", "u1", "muted", time.Minute, "", "mod"); err != nil {
		t.Fatalf("mute: %v", err)
	}
	_ = platform.RemoveRole("g1", "u1", "muted", "manual")
	removed := platform.removed

	clock.Advance(time.Minute)
	if platform.removed != removed {
		t.Fatalf("expected no second removal")
	}
}

func TestUnmuteCancelsPendingAction(t *testing.T) {
	module, platform, _, _, sched := newTestModule(t)
	ctx := context.Background()

	if _, err := module.Mute(ctx, "g1", "u1", "muted", time.Hour, "", "mod"); err != nil {
		t.Fatalf("mute: %v", err)
	}
	pending, err := module.Unmute(ctx, "g1", "u1", "", "mod")
	if err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if !pending || platform.has("u1", "muted") || len(sched.Pending("")) != 0 {
		t.Fatalf("expected pending unmute cancelled and role removed")
	}

	if _, err := module.Unmute(ctx, "g1", "u2", "", "mod"); err != ErrNoMuteRole {
		t.Fatalf("expected ErrNoMuteRole, got %v", err)
	}
}

func TestMuteRollsBackRoleWhenScheduleFails(t *testing.T) {
	module, platform, _, store, _ := newTestModule(t)
	store.SetFail(true)

	if _, err := module.Mute(context.Background(), "g1", "u1", "muted", time.Hour, "", "mod"); err == nil {
		t.Fatalf("expected error")
	}
	if platform.has("u1", "muted") {
		t.Fatalf("expected role rolled back")
	}
}
