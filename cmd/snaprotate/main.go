// Command snaprotate keeps one snapshot per instance per day and prunes old
// snapshots with a daily, weekly and monthly retention policy.
//
// Each run:
//  1. Creates today's snapshot for every in-scope instance that lacks one
//  2. Deletes managed snapshots outside the retention windows
//  3. Records Prometheus metrics for the run
//
// Only snapshots whose name ends in "-autosnap" are ever deleted.
//
// Without -schedule, snaprotate runs once and exits. The exit status is 0
// when the run completed (per-snapshot failures are logged) or was skipped
// because another run held the lease, and 1 when it aborted. With -schedule,
// it runs on the cron expression and serves:
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//   - GET /status  - Report of the last completed run
//
// Usage:
//
//	snaprotate -region=eu-west-1 -backup-days=14 -backup-weeks=12 -backup-months=12
//	snaprotate -schedule='0 3 * * *' -timezone=Europe/Paris -lock=redis
//
// Environment variables:
//
//	STORE            - Snapshot store: lightsail, http, memory (default: lightsail)
//	AWS_REGION       - Store region (default: SDK default chain)
//	BACKUP_DAYS      - Daily retention window in days (default: 14)
//	BACKUP_WEEKS     - Weekly retention window in weeks (default: 12)
//	BACKUP_MONTHS    - Monthly retention window in months (default: 12)
//	BACKUP_INSTANCES - Comma-separated instance allowlist (default: all)
//	TIMEZONE         - Time zone for calendar decisions (default: UTC)
//	DRY_RUN          - Log decisions without mutating the store
//	SCHEDULE         - Cron expression (default: run once)
//	LOCK             - Run lease: none, redis (default: none)
//	REDIS_ADDR       - Redis address for the lease (default: localhost:6379)
//	PUSHGATEWAY_URL  - Pushgateway for one-shot metrics
//	CONFIG_FILE      - YAML configuration file
//	LOG_LEVEL        - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT       - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HatiCode/snaprotate/cmd/snaprotate/config"
	"github.com/HatiCode/snaprotate/cmd/snaprotate/logger"
	"github.com/HatiCode/snaprotate/cmd/snaprotate/metrics"
	"github.com/HatiCode/snaprotate/cmd/snaprotate/router"
	"github.com/HatiCode/snaprotate/pkg/httpx"
	"github.com/HatiCode/snaprotate/pkg/lock"
	"github.com/HatiCode/snaprotate/pkg/rotation"
	"github.com/HatiCode/snaprotate/pkg/store"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.ParseFlags()

	warnings, cfgErr := cfg.Validate()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	for _, w := range warnings {
		logger.Warn("configuration warning", "warning", w)
	}
	if cfgErr != nil {
		logger.Error("invalid configuration", "error", cfgErr)
		return 1
	}

	logger.Info("starting snaprotate",
		"version", version,
		"store", cfg.Store,
		"region", cfg.Region,
		"timezone", cfg.Location.String(),
		"backup_days", cfg.BackupDays,
		"backup_weeks", cfg.BackupWeeks,
		"backup_months", cfg.BackupMonths,
		"schedule", cfg.Schedule,
		"dry_run", cfg.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create store", "error", err)
		return 1
	}

	locker, health, closeLocker, err := newLocker(cfg)
	if err != nil {
		logger.Error("failed to create lease locker", "error", err)
		return 1
	}
	defer closeLocker()

	m := metrics.New(s.Name())

	job := NewJob(s, locker, JobOptions{
		Instances: cfg.Instances,
		Policy:    cfg.Retention(),
		Rotation:  rotation.Options{DryRun: cfg.DryRun, Concurrency: cfg.Concurrency},
		LockKey:   lock.Key(s.Name(), cfg.Region),
		LockTTL:   cfg.LockTTL,
	}, logger, m)

	if cfg.Schedule == "" {
		return runOnce(ctx, cfg, job, m, logger)
	}
	return runScheduled(ctx, cfg, job, m, health, logger)
}

func runOnce(ctx context.Context, cfg *config.Config, job *Job, m *metrics.Metrics, logger *slog.Logger) int {
	_, err := job.Run(ctx)

	if cfg.PushgatewayURL != "" {
		if perr := m.Push(cfg.PushgatewayURL, cfg.Region); perr != nil {
			logger.Error("failed to push metrics", "error", perr)
		}
	}

	switch {
	case err == nil, errors.Is(err, errSkipped):
		return 0
	default:
		logger.Error("rotation run aborted", "error", err)
		return 1
	}
}

func runScheduled(ctx context.Context, cfg *config.Config, job *Job, m *metrics.Metrics, health func() error, logger *slog.Logger) int {
	m.WithProcessCollectors()

	sched, err := newScheduler(ctx, cfg.Schedule, cfg.Location, job, logger)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		return 1
	}

	handler := router.SetupRoutes(job, m.Handler(), health, logger)
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	sched.Start()
	logger.Info("scheduler started", "schedule", cfg.Schedule, "timezone", cfg.Location.String())

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
			code = 1
		}
	}

	logger.Info("shutting down")

	// Wait for a running rotation to finish.
	<-sched.Stop().Done()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
		code = 1
	}

	logger.Info("shutdown complete")
	return code
}

// newStore builds the configured store. Each retry attempt waits for its own
// rate limit token.
func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	s, err := store.New(ctx, cfg.Store, cfg.StoreOptions())
	if err != nil {
		return nil, err
	}
	s = store.WithRateLimit(s, cfg.RateLimit, cfg.RateBurst)
	s = store.WithRetry(s, cfg.RetryAttempts, cfg.RetryBase, logger)
	return s, nil
}

// newLocker returns the configured lease locker, a health check for the
// daemon and a close function.
func newLocker(cfg *config.Config) (lock.Locker, func() error, func(), error) {
	if cfg.Lock != "redis" {
		return lock.Noop{}, nil, func() {}, nil
	}

	r, err := lock.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, nil, err
	}

	health := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return r.Ping(ctx)
	}
	closeFn := func() {
		if err := r.Close(); err != nil {
			slog.Error("failed to close redis locker", "error", err)
		}
	}
	return r, health, closeFn, nil
}
