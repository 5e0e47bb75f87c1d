// Package refresh periodically reloads collections whose documents were
// changed by other programs.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Target is reloaded on every run. *collection.Collection implements it.
type Target interface {
	Name() string
	Refresh(ctx context.Context) (bool, error)
}

// DefaultTimeout bounds the refresh of one target.
const DefaultTimeout = time.Minute

type Scheduler struct {
	cron    *cron.Cron
	targets []Target
	timeout time.Duration
	logger  *slog.Logger
}

// New schedules a run of all targets on spec, a standard five field cron
// expression or a descriptor such as "@every 15m", evaluated in loc. Runs
// that are still busy when the next one is due make it skip.
func New(spec string, loc *time.Location, logger *slog.Logger, targets ...Target) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		targets: targets,
		timeout: DefaultTimeout,
		logger:  logger,
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{logger}),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("add refresh schedule %q: %w", spec, err)
	}
	return s, nil
}

// RunOnce refreshes every target and returns how many were reloaded. Errors
// are logged; the remaining targets are still refreshed.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	reloaded := 0
	for _, t := range s.targets {
		tctx, cancel := context.WithTimeout(ctx, s.timeout)
		changed, err := t.Refresh(tctx)
		cancel()
		switch {
		case err != nil:
			s.logger.Error("failed to refresh collection", "collection", t.Name(), "error", err)
		case changed:
			reloaded++
			s.logger.Info("collection changed on disk", "collection", t.Name())
		}
	}
	return reloaded
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Debug("refresh scheduler started", "next", s.Next())
}

// Stop stops scheduling and waits for a running refresh to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the time of the next run, or the zero time when the
// scheduler is not started.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// cronLogger routes the scheduler's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
