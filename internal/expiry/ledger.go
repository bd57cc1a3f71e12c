// Package expiry keeps time-bound grants in a single persisted document and
// purges the expired ones on a fixed interval.
package expiry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"guildkeeper/internal/storage"

	"go.uber.org/zap"
)

const (
	TypeDay      = "d"
	TypeMonth    = "m"
	TypeYear     = "y"
	TypeLifetime = "lf"

	Never = "never"

	// configKey holds ledger settings and is never a grant.
	configKey = "config"

	naiveLayout = "2006-01-02T15:04:05.999999999"
)

var (
	ErrUnknownType = errors.New("unknown grant type")
	ErrReservedKey = errors.New("reserved ledger key")
)

var durations = map[string]time.Duration{
	TypeDay:   24 * time.Hour,
	TypeMonth: 30 * 24 * time.Hour,
	TypeYear:  365 * 24 * time.Hour,
}

type Grant struct {
	Type    string `json:"type"`
	Expires string `json:"expires"`
}

// Expiry returns the concrete expiry. ok is false for lifetime grants.
func (g Grant) Expiry() (t time.Time, ok bool, err error) {
	if g.Expires == Never {
		return time.Time{}, false, nil
	}
	t, err = time.Parse(time.RFC3339, g.Expires)
	if err != nil {
		// Older documents carry naive UTC timestamps without an offset.
		naive, naiveErr := time.ParseInLocation(naiveLayout, g.Expires, time.UTC)
		if naiveErr != nil {
			return time.Time{}, false, fmt.Errorf("parse expiry %q: %w", g.Expires, err)
		}
		t = naive
	}
	return t, true, nil
}

// ExpiredAt reports whether the grant is invalid at now (expiry <= now).
func (g Grant) ExpiredAt(now time.Time) (bool, error) {
	t, ok, err := g.Expiry()
	if err != nil || !ok {
		return false, err
	}
	return !t.After(now), nil
}

type Entry struct {
	Key   string
	Grant Grant
}

type Config struct {
	AlertChannelID string `json:"alert_channel_id,omitempty"`
}

type Store interface {
	LoadDocument(ctx context.Context, name string) ([]byte, error)
	SaveDocument(ctx context.Context, name string, body []byte) error
}

// Ledger serializes every read-modify-write of the grants document.
type Ledger struct {
	mu     sync.Mutex
	store  Store
	logger *zap.Logger
}

func NewLedger(store Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, logger: logger}
}

func NewGrant(grantType string, now time.Time) (Grant, error) {
	if grantType == TypeLifetime {
		return Grant{Type: TypeLifetime, Expires: Never}, nil
	}
	d, ok := durations[grantType]
	if !ok {
		return Grant{}, fmt.Errorf("%w: %q", ErrUnknownType, grantType)
	}
	return Grant{Type: grantType, Expires: now.Add(d).UTC().Format(time.RFC3339)}, nil
}

// Grant issues or replaces the grant for key.
func (l *Ledger) Grant(ctx context.Context, key, grantType string, now time.Time) (Grant, error) {
	if key == configKey || key == "" {
		return Grant{}, fmt.Errorf("%w: %q", ErrReservedKey, key)
	}
	grant, err := NewGrant(grantType, now)
	if err != nil {
		return Grant{}, err
	}
	body, err := json.Marshal(grant)
	if err != nil {
		return Grant{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.load(ctx)
	if err != nil {
		return Grant{}, err
	}
	doc[key] = body
	if err := l.save(ctx, doc); err != nil {
		return Grant{}, err
	}
	return grant, nil
}

func (l *Ledger) Revoke(ctx context.Context, key string) (bool, error) {
	if key == configKey {
		return false, fmt.Errorf("%w: %q", ErrReservedKey, key)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.load(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := doc[key]; !ok {
		return false, nil
	}
	delete(doc, key)
	if err := l.save(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Ledger) Get(ctx context.Context, key string) (Grant, bool, error) {
	if key == configKey {
		return Grant{}, false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.load(ctx)
	if err != nil {
		return Grant{}, false, err
	}
	raw, ok := doc[key]
	if !ok {
		return Grant{}, false, nil
	}
	var grant Grant
	if err := json.Unmarshal(raw, &grant); err != nil {
		return Grant{}, false, fmt.Errorf("decode grant %s: %w", key, err)
	}
	return grant, true, nil
}

// Active reports whether key holds a grant that is still valid at now.
func (l *Ledger) Active(ctx context.Context, key string, now time.Time) (bool, error) {
	grant, ok, err := l.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	expired, err := grant.ExpiredAt(now)
	if err != nil {
		return false, err
	}
	return !expired, nil
}

// List returns every well-formed grant ordered by key.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(doc))
	for key, raw := range doc {
		if key == configKey {
			continue
		}
		var grant Grant
		if err := json.Unmarshal(raw, &grant); err != nil {
			l.logger.Warn("skipping malformed grant", zap.String("key", key), zap.Error(err))
			continue
		}
		entries = append(entries, Entry{Key: key, Grant: grant})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (l *Ledger) Config(ctx context.Context) (Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.load(ctx)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if raw, ok := doc[configKey]; ok {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode ledger config: %w", err)
		}
	}
	return cfg, nil
}

func (l *Ledger) SetAlertChannel(ctx context.Context, channelID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.load(ctx)
	if err != nil {
		return err
	}
	var cfg Config
	if raw, ok := doc[configKey]; ok {
		_ = json.Unmarshal(raw, &cfg)
	}
	cfg.AlertChannelID = channelID
	body, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	doc[configKey] = body
	return l.save(ctx, doc)
}

// Sweep removes every grant whose concrete expiry is <= now in one write and
// returns the removed keys sorted. Lifetime grants and grants whose expiry
// cannot be parsed are kept.
func (l *Ledger) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	var expired []string
	for key, raw := range doc {
		if key == configKey {
			continue
		}
		var grant Grant
		if err := json.Unmarshal(raw, &grant); err != nil {
			l.logger.Warn("sweep kept malformed grant", zap.String("key", key), zap.Error(err))
			continue
		}
		isExpired, err := grant.ExpiredAt(now)
		if err != nil {
			l.logger.Warn("sweep kept grant with unparsable expiry", zap.String("key", key), zap.Error(err))
			continue
		}
		if isExpired {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 {
		return nil, nil
	}
	for _, key := range expired {
		delete(doc, key)
	}
	if err := l.save(ctx, doc); err != nil {
		return nil, err
	}
	sort.Strings(expired)
	return expired, nil
}

func (l *Ledger) load(ctx context.Context) (map[string]json.RawMessage, error) {
	body, err := l.store.LoadDocument(ctx, storage.DocPremium)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	doc := make(map[string]json.RawMessage)
	if body == nil {
		return doc, nil
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode grants: %w", err)
	}
	return doc, nil
}

func (l *Ledger) save(ctx context.Context, doc map[string]json.RawMessage) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := l.store.SaveDocument(ctx, storage.DocPremium, body); err != nil {
		return fmt.Errorf("save grants: %w", err)
	}
	return nil
}
