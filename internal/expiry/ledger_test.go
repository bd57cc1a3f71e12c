package expiry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"guildkeeper/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu   sync.Mutex
	docs map[string][]byte
	fail bool
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string][]byte)}
}

func (m *memStore) LoadDocument(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[name], nil
}

func (m *memStore) SaveDocument(_ context.Context, name string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("read-only filesystem")
	}
	m.docs[name] = append([]byte(nil), body...)
	return nil
}

func (m *memStore) keys(t *testing.T) []string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(m.docs[storage.DocPremium], &doc))
	var keys []string
	for key := range doc {
		keys = append(keys, key)
	}
	return keys
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestGrantDurations(t *testing.T) {
	cases := map[string]string{
		TypeDay:      "2024-05-02T12:00:00Z",
		TypeMonth:    "2024-05-31T12:00:00Z",
		TypeYear:     "2025-05-01T12:00:00Z",
		TypeLifetime: Never,
	}
	for grantType, want := range cases {
		grant, err := NewGrant(grantType, t0)
		require.NoError(t, err)
		assert.Equal(t, want, grant.Expires, grantType)
	}
	_, err := NewGrant("w", t0)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestSweepDayGrantBoundary(t *testing.T) {
	ctx := context.Background()

	before := NewLedger(newMemStore(), zap.NewNop())
	_, err := before.Grant(ctx, "u1", TypeDay, t0)
	require.NoError(t, err)
	removed, err := before.Sweep(ctx, t0.Add(24*time.Hour-time.Second))
	require.NoError(t, err)
	assert.Empty(t, removed)
	active, err := before.Active(ctx, "u1", t0.Add(24*time.Hour-time.Second))
	require.NoError(t, err)
	assert.True(t, active)

	after := NewLedger(newMemStore(), zap.NewNop())
	_, err = after.Grant(ctx, "u1", TypeDay, t0)
	require.NoError(t, err)
	removed, err = after.Sweep(ctx, t0.Add(24*time.Hour+time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, removed)
	_, ok, err := after.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepPartitionsGrants(t *testing.T) {
	store := newMemStore()
	store.docs[storage.DocPremium] = []byte(`{
		"config": {"alert_channel_id": "c1"},
		"forever": {"type": "lf", "expires": "never"},
		"past": {"type": "d", "expires": "2024-04-30T12:00:00Z"},
		"exact": {"type": "m", "expires": "2024-05-01T12:00:00Z"},
		"legacy": {"type": "d", "expires": "2024-04-01T08:00:00.123456"},
		"future": {"type": "y", "expires": "2025-01-01T00:00:00Z"},
		"garbled": {"type": "d", "expires": "soon"}
	}`)
	ledger := NewLedger(store, zap.NewNop())

	removed, err := ledger.Sweep(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"exact", "legacy", "past"}, removed)
	assert.ElementsMatch(t, []string{"config", "forever", "future", "garbled"}, store.keys(t))

	cfg, err := ledger.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c1", cfg.AlertChannelID)

	removed, err = ledger.Sweep(context.Background(), t0.Add(100*365*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"future"}, removed)
}

func TestConfigKeyIsReserved(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(newMemStore(), zap.NewNop())

	_, err := ledger.Grant(ctx, "config", TypeLifetime, t0)
	assert.ErrorIs(t, err, ErrReservedKey)
	_, err = ledger.Revoke(ctx, "config")
	assert.ErrorIs(t, err, ErrReservedKey)

	require.NoError(t, ledger.SetAlertChannel(ctx, "c9"))
	_, err = ledger.Grant(ctx, "u1", TypeLifetime, t0)
	require.NoError(t, err)

	entries, err := ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].Key)

	cfg, err := ledger.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c9", cfg.AlertChannelID)
}

func TestRevokeAndPersistFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := NewLedger(store, zap.NewNop())

	_, err := ledger.Grant(ctx, "u1", TypeMonth, t0)
	require.NoError(t, err)

	store.fail = true
	_, err = ledger.Grant(ctx, "u2", TypeMonth, t0)
	assert.Error(t, err)
	store.fail = false

	ok, err := ledger.Revoke(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = ledger.Revoke(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, found, err := ledger.Get(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, found)
}
