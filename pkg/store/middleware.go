package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// retryStore retries failed calls with exponential backoff.
type retryStore struct {
	next     Store
	attempts int
	base     time.Duration
	logger   *slog.Logger
}

// WithRetry wraps s so that every call is attempted up to attempts times,
// backing off exponentially from base. Errors marked Permanent and context
// cancellation stop retrying immediately. attempts <= 1 returns s unchanged.
func WithRetry(s Store, attempts int, base time.Duration, logger *slog.Logger) Store {
	if attempts <= 1 {
		return s
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retryStore{next: s, attempts: attempts, base: base, logger: logger}
}

func (r *retryStore) Name() string { return r.next.Name() }

func (r *retryStore) ListInstancesPage(ctx context.Context, pageToken string) (InstancePage, error) {
	var page InstancePage
	err := r.retry(ctx, "list_instances", func() error {
		var err error
		page, err = r.next.ListInstancesPage(ctx, pageToken)
		return err
	})
	return page, err
}

func (r *retryStore) ListSnapshotsPage(ctx context.Context, pageToken string) (SnapshotPage, error) {
	var page SnapshotPage
	err := r.retry(ctx, "list_snapshots", func() error {
		var err error
		page, err = r.next.ListSnapshotsPage(ctx, pageToken)
		return err
	})
	return page, err
}

// CreateSnapshot treats ErrAlreadyExists on a retry as success: the earlier
// attempt reached the store even though its answer was lost.
func (r *retryStore) CreateSnapshot(ctx context.Context, instanceName, snapshotName string) error {
	attempted := false
	return r.retry(ctx, "create", func() error {
		err := r.next.CreateSnapshot(ctx, instanceName, snapshotName)
		if attempted && errors.Is(err, ErrAlreadyExists) {
			r.logger.Info("snapshot created by an earlier attempt",
				"store", r.next.Name(),
				"snapshot", snapshotName,
			)
			return nil
		}
		attempted = true
		return err
	})
}

func (r *retryStore) DeleteSnapshot(ctx context.Context, snapshotName string) error {
	return r.retry(ctx, "delete", func() error {
		return r.next.DeleteSnapshot(ctx, snapshotName)
	})
}

func (r *retryStore) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.base
	b.MaxInterval = 30 * r.base

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.attempts-1)), ctx)

	operation := func() error {
		err := fn()
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		r.logger.Warn("store call failed, retrying",
			"store", r.next.Name(),
			"op", op,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
	}

	return backoff.RetryNotify(operation, policy, notify)
}

// rateLimitedStore throttles calls with a shared token bucket.
type rateLimitedStore struct {
	next    Store
	limiter *rate.Limiter
}

// WithRateLimit wraps s so calls are issued at no more than rps per second
// with the given burst. rps <= 0 returns s unchanged.
func WithRateLimit(s Store, rps float64, burst int) Store {
	if rps <= 0 {
		return s
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedStore{next: s, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *rateLimitedStore) Name() string { return l.next.Name() }

func (l *rateLimitedStore) ListInstancesPage(ctx context.Context, pageToken string) (InstancePage, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return InstancePage{}, err
	}
	return l.next.ListInstancesPage(ctx, pageToken)
}

func (l *rateLimitedStore) ListSnapshotsPage(ctx context.Context, pageToken string) (SnapshotPage, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return SnapshotPage{}, err
	}
	return l.next.ListSnapshotsPage(ctx, pageToken)
}

func (l *rateLimitedStore) CreateSnapshot(ctx context.Context, instanceName, snapshotName string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.next.CreateSnapshot(ctx, instanceName, snapshotName)
}

func (l *rateLimitedStore) DeleteSnapshot(ctx context.Context, snapshotName string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.next.DeleteSnapshot(ctx, snapshotName)
}
