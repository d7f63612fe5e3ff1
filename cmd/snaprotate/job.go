// Package main implements one rotation run.
//
// A run performs, in order:
//
//	lease → resolve instances → load index → rotate all → record → release
//
// The listing is complete before the first mutation. A failed listing aborts
// the run without creating or deleting anything.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HatiCode/snaprotate/cmd/snaprotate/metrics"
	"github.com/HatiCode/snaprotate/pkg/backup"
	"github.com/HatiCode/snaprotate/pkg/lock"
	"github.com/HatiCode/snaprotate/pkg/retention"
	"github.com/HatiCode/snaprotate/pkg/rotation"
	"github.com/HatiCode/snaprotate/pkg/store"
)

// errSkipped is returned by Run when another run holds the lease.
var errSkipped = errors.New("run skipped")

// Job runs rotations against one store.
type Job struct {
	store     store.Store
	locker    lock.Locker
	lockKey   string
	lockTTL   time.Duration
	instances []string
	policy    retention.Config
	opts      rotation.Options
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// clock supplies the run's single "now".
	clock func() time.Time

	mu   sync.RWMutex
	last *rotation.Report
}

// JobOptions configures a Job.
type JobOptions struct {
	Instances []string
	Policy    retention.Config
	Rotation  rotation.Options
	LockKey   string
	LockTTL   time.Duration
}

// NewJob creates a Job. A nil locker grants every lease and nil metrics
// records nothing.
func NewJob(s store.Store, locker lock.Locker, opts JobOptions, logger *slog.Logger, m *metrics.Metrics) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = lock.Noop{}
	}
	if opts.LockKey == "" {
		opts.LockKey = lock.Key(s.Name(), "")
	}

	return &Job{
		store:     s,
		locker:    locker,
		lockKey:   opts.LockKey,
		lockTTL:   opts.LockTTL,
		instances: opts.Instances,
		policy:    opts.Policy,
		opts:      opts.Rotation,
		logger:    logger,
		metrics:   m,
		clock:     time.Now,
	}
}

// Run performs one rotation. It returns errSkipped when the lease is held
// and a wrapped error when the run aborted before rotating.
func (j *Job) Run(ctx context.Context) (rotation.Report, error) {
	start := time.Now()
	now := j.clock()
	log := j.logger.With("run_id", uuid.NewString(), "now", now.Format(time.RFC3339))

	log.Info("starting rotation run", "store", j.store.Name(), "dry_run", j.opts.DryRun)

	lease, err := j.locker.Acquire(ctx, j.lockKey, j.lockTTL)
	if errors.Is(err, lock.ErrHeld) {
		log.Warn("rotation run skipped", "reason", err)
		j.record(metrics.ResultSkipped, start)
		return rotation.Report{Now: now, DryRun: j.opts.DryRun}, errSkipped
	}
	if err != nil {
		j.record(metrics.ResultAborted, start)
		return rotation.Report{}, fmt.Errorf("acquire lease: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			log.Error("failed to release lease", "key", j.lockKey, "error", err)
		}
	}()

	instances, err := j.resolveInstances(ctx)
	if err != nil {
		j.storeError("list_instances")
		j.record(metrics.ResultAborted, start)
		return rotation.Report{}, err
	}

	idx, err := backup.Load(ctx, j.store, instances, log)
	if err != nil {
		j.storeError("list_snapshots")
		j.record(metrics.ResultAborted, start)
		return rotation.Report{}, fmt.Errorf("load snapshots: %w", err)
	}

	ctrl := rotation.New(j.store, j.policy, j.opts, log, j.recorder())
	report := ctrl.RotateAll(ctx, idx, instances, now)

	j.record(metrics.ResultSuccess, start)
	j.setLast(report)

	log.Info("rotation run complete",
		"instances", len(instances),
		"snapshots", idx.Len(),
		"created", report.Created,
		"deleted", report.Deleted,
		"planned", report.Planned,
		"failures", report.Failures,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return report, nil
}

// LastReport returns the report of the last completed run.
func (j *Job) LastReport() (rotation.Report, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.last == nil {
		return rotation.Report{}, false
	}
	return *j.last, true
}

func (j *Job) resolveInstances(ctx context.Context) ([]string, error) {
	if len(j.instances) > 0 {
		return j.instances, nil
	}
	instances, err := store.ListAllInstances(ctx, j.store)
	if err != nil {
		return nil, fmt.Errorf("discover instances: %w", err)
	}
	return instances, nil
}

func (j *Job) recorder() rotation.Recorder {
	if j.metrics == nil {
		return rotation.NopRecorder{}
	}
	return j.metrics
}

func (j *Job) storeError(op string) {
	if j.metrics != nil {
		j.metrics.StoreError(op)
	}
}

func (j *Job) record(result string, start time.Time) {
	if j.metrics != nil {
		j.metrics.RecordRun(result, time.Since(start), time.Now())
	}
}

func (j *Job) setLast(report rotation.Report) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.last = &report
}
