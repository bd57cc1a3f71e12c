package expiry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"guildkeeper/internal/metrics"
	"guildkeeper/internal/utils"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrSweepInProgress = errors.New("sweep already in progress")

// Sweeper runs Ledger.Sweep on a fixed interval and hands the removed keys to
// onExpired. A tick that finds a sweep in flight is skipped, never queued.
type Sweeper struct {
	ledger    *Ledger
	interval  time.Duration
	now       func() time.Time
	onExpired func(ctx context.Context, keys []string)
	logger    *zap.Logger
	metrics   *metrics.Metrics

	running atomic.Bool
	cron    *cron.Cron
}

func NewSweeper(ledger *Ledger, interval time.Duration, logger *zap.Logger, m *metrics.Metrics, onExpired func(context.Context, []string)) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{
		ledger:    ledger,
		interval:  interval,
		now:       time.Now,
		onExpired: onExpired,
		logger:    logger,
		metrics:   m,
	}
}

func (s *Sweeper) WithNow(now func() time.Time) {
	s.now = now
}

func (s *Sweeper) Start(ctx context.Context) error {
	cronLogger := utils.CronLogger(s.logger)
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
			s.logger.Error("expiry sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule expiry sweep: %w", err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce performs a single sweep. It returns ErrSweepInProgress when another
// sweep holds the guard.
func (s *Sweeper) RunOnce(ctx context.Context) ([]string, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.Sweep("skipped")
		s.logger.Debug("expiry sweep skipped, previous sweep still running")
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	expired, err := s.ledger.Sweep(ctx, s.now())
	if err != nil {
		s.metrics.Sweep("failed")
		return nil, err
	}
	s.metrics.Sweep("ok")
	s.metrics.GrantsExpired(len(expired))
	if len(expired) == 0 {
		return nil, nil
	}
	s.logger.Info("expired grants removed", zap.Strings("keys", expired))
	if s.onExpired != nil {
		s.onExpired(ctx, expired)
	}
	return expired, nil
}
