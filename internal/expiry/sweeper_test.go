package expiry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunOnceHandsExpiredKeysToCallback(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(newMemStore(), zap.NewNop())
	_, err := ledger.Grant(ctx, "u1", TypeDay, t0)
	require.NoError(t, err)
	_, err = ledger.Grant(ctx, "u2", TypeLifetime, t0)
	require.NoError(t, err)

	var got []string
	sweeper := NewSweeper(ledger, time.Minute, zap.NewNop(), nil, func(_ context.Context, keys []string) {
		got = append(got, keys...)
	})
	sweeper.WithNow(func() time.Time { return t0.Add(48 * time.Hour) })

	removed, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, removed)
	assert.Equal(t, []string{"u1"}, got)

	removed, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, []string{"u1"}, got, "no rollback and no second callback")
}

func TestRunOnceSkipsWhileInFlight(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(newMemStore(), zap.NewNop())
	_, err := ledger.Grant(ctx, "u1", TypeDay, t0)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	sweeper := NewSweeper(ledger, time.Minute, zap.NewNop(), nil, func(context.Context, []string) {
		close(entered)
		<-release
	})
	sweeper.WithNow(func() time.Time { return t0.Add(48 * time.Hour) })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := sweeper.RunOnce(ctx)
		assert.NoError(t, err)
	}()
	<-entered

	_, err = sweeper.RunOnce(ctx)
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(release)
	wg.Wait()

	_, err = sweeper.RunOnce(ctx)
	assert.NoError(t, err)
}

func TestStartAndStop(t *testing.T) {
	sweeper := NewSweeper(NewLedger(newMemStore(), zap.NewNop()), time.Hour, zap.NewNop(), nil, nil)
	require.NoError(t, sweeper.Start(context.Background()))
	sweeper.Stop()
}
