package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// newScheduler registers job on the standard five-field cron expression,
// evaluated in loc. A fire is skipped while the previous run is still going.
func newScheduler(ctx context.Context, expr string, loc *time.Location, job *Job, logger *slog.Logger) (*cron.Cron, error) {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{logger: logger}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	_, err := c.AddFunc(expr, func() {
		if _, err := job.Run(ctx); err != nil && !errors.Is(err, errSkipped) {
			logger.Error("rotation run aborted", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	return c, nil
}

// cronLogger adapts slog to cron.Logger. Routine scheduler chatter goes to
// debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
