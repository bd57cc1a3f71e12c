package utils

import (
	"sync"
	"time"
)

// BurstCounter counts recent events per key over a sliding window. Keys with
// no event inside the window are dropped on the next sweep.
type BurstCounter struct {
	mu        sync.Mutex
	window    time.Duration
	hits      map[string][]time.Time
	lastSweep time.Time
}

func NewBurstCounter(window time.Duration) *BurstCounter {
	return &BurstCounter{window: window, hits: make(map[string][]time.Time)}
}

// Add records an event for key at now and returns the number of events in
// the window ending at now.
func (c *BurstCounter) Add(key string, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits := append(c.trim(c.hits[key], now), now)
	c.hits[key] = hits
	if now.Sub(c.lastSweep) >= c.window {
		c.sweep(now)
	}
	return len(hits)
}

func (c *BurstCounter) Count(key string, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits := c.trim(c.hits[key], now)
	if len(hits) == 0 {
		delete(c.hits, key)
		return 0
	}
	c.hits[key] = hits
	return len(hits)
}

// Len reports how many keys are tracked.
func (c *BurstCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hits)
}

func (c *BurstCounter) sweep(now time.Time) {
	for key, hits := range c.hits {
		if len(c.trim(hits, now)) == 0 {
			delete(c.hits, key)
		}
	}
	c.lastSweep = now
}

func (c *BurstCounter) trim(hits []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-c.window)
	idx := 0
	for _, hit := range hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	return hits[idx:]
}
