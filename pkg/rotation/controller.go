// Package rotation applies the retention policy to a store.
//
// For each instance a rotation runs two steps in order:
//
//	ensure-today → prune
//
// Ensure-today creates a snapshot when the newest managed snapshot was not
// taken on now's calendar day. Prune evaluates every snapshot of the loaded
// history and deletes those the policy rejects. The snapshot created by
// ensure-today is not part of the loaded history, so it is never pruned in
// the run that created it.
//
// Store failures on create or delete are logged, recorded and skipped. They
// never stop the remaining work of the run.
package rotation

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/snaprotate/pkg/backup"
	"github.com/HatiCode/snaprotate/pkg/retention"
	"github.com/HatiCode/snaprotate/pkg/snapshot"
	"github.com/HatiCode/snaprotate/pkg/store"
)

// DefaultConcurrency is the number of instances rotated in parallel.
const DefaultConcurrency = 4

// Recorder receives per-item outcomes. The metrics package implements it.
type Recorder interface {
	SnapshotCreated()
	SnapshotDeleted()
	SnapshotRetained(band string)
	StoreError(op string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) SnapshotCreated()        {}
func (NopRecorder) SnapshotDeleted()        {}
func (NopRecorder) SnapshotRetained(string) {}
func (NopRecorder) StoreError(string)       {}

// Options tune a Controller.
type Options struct {
	// DryRun logs and counts decisions without calling CreateSnapshot or
	// DeleteSnapshot.
	DryRun bool

	// Concurrency bounds how many instances are rotated at once.
	// Values < 1 use DefaultConcurrency.
	Concurrency int
}

// Controller issues the create and delete calls of a rotation run.
type Controller struct {
	store    store.Store
	policy   retention.Config
	opts     Options
	logger   *slog.Logger
	recorder Recorder
}

// New creates a Controller. A nil logger uses slog.Default and a nil
// recorder discards outcomes.
func New(s store.Store, policy retention.Config, opts Options, logger *slog.Logger, recorder Recorder) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Controller{
		store:    s,
		policy:   policy,
		opts:     opts,
		logger:   logger,
		recorder: recorder,
	}
}

// InstanceResult is the outcome of rotating one instance.
type InstanceResult struct {
	Instance string         `json:"instance"`
	Created  string         `json:"created,omitempty"`
	Deleted  []string       `json:"deleted,omitempty"`
	Planned  []string       `json:"planned,omitempty"`
	Retained map[string]int `json:"retained,omitempty"`
	Failures int            `json:"failures"`
}

// Report aggregates a run across instances.
type Report struct {
	Now       time.Time        `json:"now"`
	DryRun    bool             `json:"dryRun"`
	Created   int              `json:"created"`
	Deleted   int              `json:"deleted"`
	Planned   int              `json:"planned"`
	Retained  map[string]int   `json:"retained"`
	Failures  int              `json:"failures"`
	Instances []InstanceResult `json:"instances"`
}

// HasBackupToday reports whether the newest entry of history was taken on
// now's calendar date in loc. history must be sorted oldest first.
func HasBackupToday(history []snapshot.Snapshot, now time.Time, loc *time.Location) bool {
	if len(history) == 0 {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	ly, lm, ld := history[len(history)-1].CreatedAt.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	return ly == ny && lm == nm && ld == nd
}

// Rotate runs ensure-today then prune for one instance.
func (c *Controller) Rotate(ctx context.Context, instance string, history []snapshot.Snapshot, now time.Time) InstanceResult {
	res := InstanceResult{Instance: instance, Retained: make(map[string]int)}
	log := c.logger.With("instance", instance)

	if !HasBackupToday(history, now, c.policy.Loc()) {
		name := snapshot.NewName(instance, now)
		switch {
		case c.opts.DryRun:
			log.Info("would create snapshot", "snapshot", name)
			res.Created = name
		default:
			if err := c.store.CreateSnapshot(ctx, instance, name); err != nil {
				log.Error("create snapshot failed", "snapshot", name, "error", err)
				c.recorder.StoreError("create")
				res.Failures++
			} else {
				log.Info("created snapshot", "snapshot", name)
				c.recorder.SnapshotCreated()
				res.Created = name
			}
		}
	}

	for _, snap := range history {
		d := retention.Decide(snap.CreatedAt, now, c.policy)
		band := d.Band.String()

		if d.Keep {
			res.Retained[band]++
			c.recorder.SnapshotRetained(band)
			log.Debug("retaining snapshot", "snapshot", snap.Name, "band", band, "age_days", d.Age)
			continue
		}

		if c.opts.DryRun {
			log.Info("would delete snapshot", "snapshot", snap.Name, "band", band, "age_days", d.Age)
			res.Planned = append(res.Planned, snap.Name)
			continue
		}

		if err := c.store.DeleteSnapshot(ctx, snap.Name); err != nil {
			log.Error("delete snapshot failed", "snapshot", snap.Name, "band", band, "error", err)
			c.recorder.StoreError("delete")
			res.Failures++
			continue
		}
		log.Info("deleted snapshot", "snapshot", snap.Name, "band", band, "age_days", d.Age)
		c.recorder.SnapshotDeleted()
		res.Deleted = append(res.Deleted, snap.Name)
	}

	return res
}

// RotateAll rotates every instance in parallel, bounded by
// Options.Concurrency. Each instance reads its history from idx.
func (c *Controller) RotateAll(ctx context.Context, idx *backup.Index, instances []string, now time.Time) Report {
	var (
		mu      sync.Mutex
		results = make([]InstanceResult, 0, len(instances))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for _, instance := range instances {
		g.Go(func() error {
			res := c.Rotate(gctx, instance, idx.History(instance), now)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Instance < results[j].Instance })

	report := Report{
		Now:       now,
		DryRun:    c.opts.DryRun,
		Retained:  make(map[string]int),
		Instances: results,
	}
	for _, r := range results {
		if r.Created != "" {
			report.Created++
		}
		report.Deleted += len(r.Deleted)
		report.Planned += len(r.Planned)
		report.Failures += r.Failures
		for band, n := range r.Retained {
			report.Retained[band] += n
		}
	}
	return report
}
