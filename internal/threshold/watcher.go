// Package threshold fires a consequence once when an accumulating count on a
// target reaches its bound. The target carries its own "already fired" marker,
// so the watcher needs no persistence of its own.
package threshold

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guildkeeper/internal/metrics"

	"go.uber.org/zap"
)

type Target struct {
	ID        string
	Count     int
	Threshold int
	// Marked is the idempotency marker read from the target's own state.
	Marked bool
}

// claimTTL bounds how long a claim outlives its observation. Reaction events
// read before the marker landed arrive well within it.
const claimTTL = 10 * time.Minute

type claim struct {
	at time.Time
	// pinned claims never expire: their marker could not be applied, so the
	// target's own state cannot stop a second firing.
	pinned bool
}

type Watcher struct {
	mu      sync.Mutex
	claimed map[string]claim
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(logger *zap.Logger, m *metrics.Metrics) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		claimed: make(map[string]claim),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Observe reports true exactly once per target id, the first time the count
// reaches the threshold on an unmarked target. Claims cover events read before
// the marker landed; once the marker is on the target they expire after
// claimTTL.
func (w *Watcher) Observe(target Target) bool {
	if target.ID == "" || target.Threshold <= 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.pruneLocked(now)
	if _, ok := w.claimed[target.ID]; ok {
		return false
	}
	if target.Marked {
		w.claimed[target.ID] = claim{at: now}
		return false
	}
	if target.Count < target.Threshold {
		return false
	}
	w.claimed[target.ID] = claim{at: now}
	return true
}

// Claims reports how many targets are currently claimed.
func (w *Watcher) Claims() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.claimed)
}

func (w *Watcher) pin(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.claimed[id]
	c.pinned = true
	w.claimed[id] = c
}

func (w *Watcher) pruneLocked(now time.Time) {
	for id, c := range w.claimed {
		if !c.pinned && now.Sub(c.at) > claimTTL {
			delete(w.claimed, id)
		}
	}
}

// Fire runs consequence then mark when Observe allows it. The marker is applied
// even when the consequence fails; neither is retried.
func (w *Watcher) Fire(ctx context.Context, target Target, consequence, mark func(context.Context) error) (bool, error) {
	if !w.Observe(target) {
		return false, nil
	}
	actionErr := consequence(ctx)
	markErr := mark(ctx)
	if markErr != nil {
		w.pin(target.ID)
	}

	result := "ok"
	if actionErr != nil {
		result = "failed"
	}
	w.metrics.ThresholdFired(result)
	w.logger.Info("threshold reached",
		zap.String("target", target.ID),
		zap.Int("count", target.Count),
		zap.Int("threshold", target.Threshold),
		zap.NamedError("consequence_error", actionErr),
		zap.NamedError("mark_error", markErr),
	)

	if actionErr != nil && markErr != nil {
		return true, fmt.Errorf("%w (marker not applied: %v)", actionErr, markErr)
	}
	if actionErr != nil {
		return true, actionErr
	}
	if markErr != nil {
		return true, fmt.Errorf("apply marker: %w", markErr)
	}
	return true, nil
}
