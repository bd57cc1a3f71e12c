// Package scheduler runs deferred actions: effects bound to an absolute
// deadline that survive a restart. The persisted collection is the source of
// truth for whether an action is still owed; whoever removes a record from it
// first (timer, manual execute or cancel) owns the outcome.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"guildkeeper/internal/metrics"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/storage"
	"guildkeeper/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrUnknownKind     = errors.New("unknown action kind")
	ErrDuplicate       = errors.New("action already scheduled")
	ErrInvalidDeadline = errors.New("action deadline is required")
	ErrClosed          = errors.New("scheduler closed")
	ErrNotLoaded       = errors.New("deferred actions not loaded")
)

const (
	TriggerTimer     = "timer"
	TriggerManual    = "manual"
	TriggerReconcile = "reconcile"
)

// retryDelay re-arms an overdue action whose claim could not be persisted.
const retryDelay = time.Minute

type Action struct {
	ID       string
	Kind     string
	GuildID  string
	Deadline time.Time
	Payload  json.RawMessage
}

// Decode unmarshals the payload into v.
func (a Action) Decode(v any) error {
	if len(a.Payload) == 0 {
		return fmt.Errorf("action %s has no payload", a.ID)
	}
	return json.Unmarshal(a.Payload, v)
}

type Effect func(ctx context.Context, action Action) error

// Store is the document persistence the scheduler needs.
type Store interface {
	LoadDocument(ctx context.Context, name string) ([]byte, error)
	SaveDocument(ctx context.Context, name string, body []byte) error
}

type Config struct {
	ReconcilePerSecond float64
	ReconcileBurst     int
}

type record struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	GuildID  string          `json:"guild_id"`
	Deadline string          `json:"deadline"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type armed struct {
	timer Timer
	seq   uint64
}

type Scheduler struct {
	mu      sync.Mutex
	store   Store
	clock   Clock
	logger  *zap.Logger
	audit   *audit.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	effects map[string]Effect
	actions map[string]Action
	timers  map[string]armed
	seq     uint64
	closed  bool

	// loaded is set once the persisted collection has been merged into
	// actions. Every write rewrites the whole document, so none may happen
	// before that.
	loaded  bool
	overdue []Action
	running sync.WaitGroup
}

func New(cfg Config, store Store, logger *zap.Logger, auditLogger *audit.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.ReconcilePerSecond > 0 {
		limit = rate.Limit(cfg.ReconcilePerSecond)
	}
	burst := cfg.ReconcileBurst
	if burst <= 0 {
		burst = 1
	}
	return &Scheduler{
		store:   store,
		clock:   wallClock{},
		logger:  logger,
		audit:   auditLogger,
		metrics: m,
		limiter: rate.NewLimiter(limit, burst),
		effects: make(map[string]Effect),
		actions: make(map[string]Action),
		timers:  make(map[string]armed),
	}
}

func (s *Scheduler) WithClock(clock Clock) {
	s.clock = clock
}

// Register binds the effect run for every action of kind. Effects must be
// registered before Reconcile so persisted actions can be resolved.
func (s *Scheduler) Register(kind string, effect Effect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effects[kind] = effect
}

func (s *Scheduler) Schedule(ctx context.Context, action Action) (string, error) {
	if action.Deadline.IsZero() {
		return "", ErrInvalidDeadline
	}
	if len(action.Payload) > 0 && !json.Valid(action.Payload) {
		return "", fmt.Errorf("payload of %s action is not valid json", action.Kind)
	}
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	action.Deadline = action.Deadline.UTC()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if _, ok := s.effects[action.Kind]; !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, action.Kind)
	}
	if err := s.loadLocked(ctx); err != nil {
		s.mu.Unlock()
		return "", err
	}
	if _, ok := s.actions[action.ID]; ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicate, action.ID)
	}
	s.actions[action.ID] = action
	if err := s.persistLocked(ctx); err != nil {
		delete(s.actions, action.ID)
		s.mu.Unlock()
		return "", err
	}
	s.armLocked(action.ID, action.Deadline.Sub(s.clock.Now()))
	pending := len(s.actions)
	s.mu.Unlock()

	s.metrics.ActionScheduled(action.Kind)
	s.metrics.SetPending(pending)
	s.logger.Info("action scheduled",
		zap.String("id", action.ID),
		zap.String("kind", action.Kind),
		zap.String("guild_id", action.GuildID),
		zap.Time("deadline", action.Deadline),
	)
	return action.ID, nil
}

// Cancel removes a pending action. It reports false when the action was
// already executed or cancelled.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	action, ok, err := s.claim(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Info("cancel ignored, action not pending", zap.String("id", id))
		return false, nil
	}
	s.running.Done()
	s.metrics.ActionCancelled(action.Kind)
	s.logger.Info("action cancelled", zap.String("id", id), zap.String("kind", action.Kind))
	return true, nil
}

// Execute runs the action now. It returns false without error when the action
// is no longer pending.
func (s *Scheduler) Execute(ctx context.Context, id string) (bool, error) {
	return s.execute(ctx, id, TriggerManual)
}

func (s *Scheduler) Get(id string) (Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[id]
	return action, ok
}

// Pending lists pending actions ordered by deadline. An empty guildID lists
// every guild.
func (s *Scheduler) Pending(guildID string) []Action {
	s.mu.Lock()
	result := make([]Action, 0, len(s.actions))
	for _, action := range s.actions {
		if guildID == "" || action.GuildID == guildID {
			result = append(result, action)
		}
	}
	s.mu.Unlock()
	sortActions(result)
	return result
}

// Load merges the persisted collection into memory and arms timers for
// future actions. Overdue actions are held until Reconcile so their effects
// do not run before the platform connection is up. A failed read leaves the
// scheduler unloaded, and Schedule, Cancel and Execute refuse until a later
// attempt succeeds.
func (s *Scheduler) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.loadLocked(ctx)
}

// Reconcile loads the persisted collection if needed, runs overdue actions in
// deadline order and leaves timers armed for the rest.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := s.loadLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	overdue := s.overdue
	s.overdue = nil
	pending := len(s.actions)
	s.mu.Unlock()

	s.logger.Info("deferred actions reconciled", zap.Int("pending", pending), zap.Int("overdue", len(overdue)))

	var errs []error
	for _, action := range overdue {
		if err := s.limiter.Wait(ctx); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if _, err := s.execute(ctx, action.ID, TriggerReconcile); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	body, err := s.store.LoadDocument(ctx, storage.DocDeferredActions)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotLoaded, err)
	}
	var raw []json.RawMessage
	if body != nil {
		// An unreadable document is left for the operator rather than
		// replaced by the next write.
		if err := json.Unmarshal(body, &raw); err != nil {
			return fmt.Errorf("%w: decode deferred actions: %w", ErrNotLoaded, err)
		}
	}

	now := s.clock.Now()
	for i, item := range raw {
		action, err := s.decodeLocked(item)
		if err != nil {
			s.logger.Warn("skipping malformed deferred action", zap.Int("index", i), zap.Error(err))
			continue
		}
		if _, ok := s.actions[action.ID]; ok {
			continue
		}
		s.actions[action.ID] = action
		if action.Deadline.After(now) {
			s.armLocked(action.ID, action.Deadline.Sub(now))
			continue
		}
		s.overdue = append(s.overdue, action)
	}
	sortActions(s.overdue)
	s.loaded = true
	s.metrics.SetPending(len(s.actions))
	return nil
}

// Close stops every armed timer. Persisted actions are resolved by the next
// Reconcile.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, id)
	}
}

// Drain waits for effects that were already running when Close was called.
func (s *Scheduler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) execute(ctx context.Context, id, trigger string) (bool, error) {
	action, ok, err := s.claim(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Debug("action already handled", zap.String("id", id), zap.String("trigger", trigger))
		return false, nil
	}
	defer s.running.Done()
	s.run(ctx, action, trigger)
	return true, nil
}

// claim removes the action from the persisted collection. Only the caller
// that gets ok=true may act on it, and it must call running.Done when done.
func (s *Scheduler) claim(ctx context.Context, id string) (Action, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Action{}, false, ErrClosed
	}
	if err := s.loadLocked(ctx); err != nil {
		return Action{}, false, err
	}
	action, ok := s.actions[id]
	if !ok {
		return Action{}, false, nil
	}
	delete(s.actions, id)
	if entry, ok := s.timers[id]; ok {
		entry.timer.Stop()
		delete(s.timers, id)
	}
	if err := s.persistLocked(ctx); err != nil {
		s.actions[id] = action
		delay := action.Deadline.Sub(s.clock.Now())
		if delay <= 0 {
			delay = retryDelay
		}
		s.armLocked(id, delay)
		return Action{}, false, err
	}
	s.metrics.SetPending(len(s.actions))
	s.running.Add(1)
	return action, true, nil
}

func (s *Scheduler) run(ctx context.Context, action Action, trigger string) {
	s.mu.Lock()
	effect := s.effects[action.Kind]
	s.mu.Unlock()

	s.metrics.ActionExecuted(action.Kind, trigger)
	lateness := s.clock.Now().Sub(action.Deadline)
	err := effect(ctx, action)
	if err == nil {
		s.logger.Info("action executed",
			zap.String("id", action.ID),
			zap.String("kind", action.Kind),
			zap.String("trigger", trigger),
			zap.Duration("lateness", lateness),
		)
		if trigger == TriggerReconcile {
			s.audit.Log(ctx, audit.LevelInfo, action.GuildID, "", audit.EventActionFired,
				fmt.Sprintf("%s %s executed after restart (%s late)", action.Kind, action.ID, lateness.Round(time.Second)))
		}
		return
	}

	class := utils.Classify(err)
	s.metrics.EffectFailed(action.Kind, class)
	s.logger.Warn("action effect failed",
		zap.String("id", action.ID),
		zap.String("kind", action.Kind),
		zap.String("trigger", trigger),
		zap.String("class", class),
		zap.Error(err),
	)
	s.audit.Log(ctx, audit.LevelWarn, action.GuildID, "", audit.EventActionFailed,
		fmt.Sprintf("%s %s consumed without effect: class=%s error=%v", action.Kind, action.ID, class, err))
}

func (s *Scheduler) armLocked(id string, delay time.Duration) {
	if entry, ok := s.timers[id]; ok {
		entry.timer.Stop()
	}
	if delay < 0 {
		delay = 0
	}
	s.seq++
	seq := s.seq
	s.timers[id] = armed{seq: seq, timer: s.clock.AfterFunc(delay, func() { s.fire(id, seq) })}
}

func (s *Scheduler) fire(id string, seq uint64) {
	s.mu.Lock()
	entry, ok := s.timers[id]
	if !ok || entry.seq != seq || s.closed {
		s.mu.Unlock()
		return
	}
	action, ok := s.actions[id]
	if !ok {
		delete(s.timers, id)
		s.mu.Unlock()
		return
	}
	if remaining := action.Deadline.Sub(s.clock.Now()); remaining > 0 {
		s.armLocked(id, remaining)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if _, err := s.execute(context.Background(), id, TriggerTimer); err != nil && !errors.Is(err, ErrClosed) {
		s.logger.Error("deferred action claim failed", zap.String("id", id), zap.Error(err))
	}
}

func (s *Scheduler) decodeLocked(item json.RawMessage) (Action, error) {
	action, err := decodeRecord(item)
	if err != nil {
		return Action{}, err
	}
	if _, ok := s.effects[action.Kind]; !ok {
		return Action{}, fmt.Errorf("%w: %q (id %s)", ErrUnknownKind, action.Kind, action.ID)
	}
	return action, nil
}

func decodeRecord(item json.RawMessage) (Action, error) {
	var rec record
	if err := json.Unmarshal(item, &rec); err != nil {
		return Action{}, err
	}
	if rec.ID == "" {
		return Action{}, errors.New("missing id")
	}
	deadline, err := time.Parse(time.RFC3339, rec.Deadline)
	if err != nil {
		return Action{}, fmt.Errorf("deadline of %s: %w", rec.ID, err)
	}
	return Action{
		ID:       rec.ID,
		Kind:     rec.Kind,
		GuildID:  rec.GuildID,
		Deadline: deadline.UTC(),
		Payload:  rec.Payload,
	}, nil
}

// Snapshot reads the persisted collection without arming or executing
// anything. Malformed records are returned as a count.
func Snapshot(ctx context.Context, store Store) ([]Action, int, error) {
	body, err := store.LoadDocument(ctx, storage.DocDeferredActions)
	if err != nil {
		return nil, 0, fmt.Errorf("load deferred actions: %w", err)
	}
	if body == nil {
		return nil, 0, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode deferred actions: %w", err)
	}
	actions := make([]Action, 0, len(raw))
	malformed := 0
	for _, item := range raw {
		action, err := decodeRecord(item)
		if err != nil {
			malformed++
			continue
		}
		actions = append(actions, action)
	}
	sortActions(actions)
	return actions, malformed, nil
}

func (s *Scheduler) persistLocked(ctx context.Context) error {
	actions := make([]Action, 0, len(s.actions))
	for _, action := range s.actions {
		actions = append(actions, action)
	}
	sortActions(actions)
	records := make([]record, 0, len(actions))
	for _, action := range actions {
		records = append(records, record{
			ID:       action.ID,
			Kind:     action.Kind,
			GuildID:  action.GuildID,
			Deadline: action.Deadline.UTC().Format(time.RFC3339Nano),
			Payload:  action.Payload,
		})
	}
	body, err := json.Marshal(records)
	if err != nil {
		return err
	}
	if err := s.store.SaveDocument(ctx, storage.DocDeferredActions, body); err != nil {
		return fmt.Errorf("persist deferred actions: %w", err)
	}
	return nil
}

func sortActions(actions []Action) {
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].Deadline.Equal(actions[j].Deadline) {
			return actions[i].ID < actions[j].ID
		}
		return actions[i].Deadline.Before(actions[j].Deadline)
	})
}
