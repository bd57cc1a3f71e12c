package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"guildkeeper/internal/analytics"
	"guildkeeper/internal/bot"
	"guildkeeper/internal/config"
	"guildkeeper/internal/expiry"
	"guildkeeper/internal/health"
	"guildkeeper/internal/metrics"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/scheduler"
	"guildkeeper/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func runBot(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("storage init failed", zap.Error(err))
		return err
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Error("migrations failed", zap.Error(err))
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	auditLogger := audit.NewLogger(store, logger)
	sched := scheduler.New(scheduler.Config{
		ReconcilePerSecond: cfg.Scheduler.ReconcilePerSecond,
		ReconcileBurst:     cfg.Scheduler.ReconcileBurst,
	}, store, logger, auditLogger, m)
	ledger := expiry.NewLedger(store, logger)
	analyticsEngine := analytics.New(store)

	botSvc, err := bot.New(cfg, logger, store, sched, ledger, auditLogger, analyticsEngine, m)
	if err != nil {
		logger.Error("bot init failed", zap.Error(err))
		return err
	}

	// Persisted actions must be in memory before any handler can schedule.
	if err := sched.Load(parent); err != nil {
		logger.Error("deferred actions load failed", zap.Error(err))
		return err
	}

	if err := botSvc.Start(); err != nil {
		logger.Error("bot start failed", zap.Error(err))
		return err
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		server = &http.Server{
			Addr:              cfg.Health.Addr,
			Handler:           health.NewRouter(store, registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	botSvc.Close(shutdownCtx)
	return nil
}
