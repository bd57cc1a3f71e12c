// Package schedulertest provides a manual clock and an in-memory document
// store for tests of code built on the scheduler.
package schedulertest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"guildkeeper/internal/scheduler"
)

type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*timer
}

type timer struct {
	clock *Clock
	at    time.Time
	fn    func()
	done  bool
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, fn func()) scheduler.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{clock: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.done
	t.done = true
	return active
}

// Advance moves the clock forward and runs every timer that became due, in
// due-time order, on the calling goroutine.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	for {
		next := c.nextDue()
		if next == nil {
			return
		}
		next.fn()
	}
}

func (c *Clock) nextDue() *timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
	for _, t := range c.timers {
		if t.done || t.at.After(c.now) {
			continue
		}
		t.done = true
		return t
	}
	return nil
}

// Store is an in-memory document store whose saves can be made to fail.
type Store struct {
	mu   sync.Mutex
	docs map[string][]byte
	fail bool
}

func NewStore() *Store {
	return &Store{docs: make(map[string][]byte)}
}

func (s *Store) LoadDocument(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[name], nil
}

func (s *Store) SaveDocument(_ context.Context, name string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store unavailable")
	}
	s.docs[name] = append([]byte(nil), body...)
	return nil
}

func (s *Store) Document(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.docs[name])
}

func (s *Store) SetFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}
