// Package janitor runs CleanupUnused on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTimeout bounds a single cleanup run
const DefaultTimeout = 10 * time.Minute

// Cleaner is the part of simpleimage.Service the janitor drives
type Cleaner interface {
	CleanupUnused(ctx context.Context, daysOld int) (int, error)
}

// Janitor periodically deletes unreferenced images. Runs never overlap.
type Janitor struct {
	cleaner  Cleaner
	schedule string
	daysOld  int
	timeout  time.Duration
	logger   *slog.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	entry   cron.EntryID
	started bool
	lastRun Result
}

// Result describes the most recent run
type Result struct {
	StartedAt time.Time
	Cleaned   int
	Err       error
}

// Option configures a Janitor
type Option func(*Janitor)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(j *Janitor) {
		j.logger = logger
	}
}

// WithTimeout bounds each run
func WithTimeout(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.timeout = d
		}
	}
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates schedule and creates a stopped janitor. daysOld <= 0 lets
// the service apply its default age.
func New(cleaner Cleaner, schedule string, daysOld int, opts ...Option) (*Janitor, error) {
	if cleaner == nil {
		return nil, fmt.Errorf("cleaner is required")
	}
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	j := &Janitor{
		cleaner:  cleaner,
		schedule: schedule,
		daysOld:  daysOld,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With(slog.String("service", "janitor"))

	logger := cronLogger{j.logger}
	j.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return j, nil
}

// Start schedules the cleanup job. Calling Start twice is a no-op.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.started {
		return nil
	}
	entry, err := j.cron.AddFunc(j.schedule, func() {
		_, _ = j.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}
	j.entry = entry
	j.started = true
	j.cron.Start()
	j.logger.Info("cleanup scheduled", "schedule", j.schedule, "days_old", j.daysOld)
	return nil
}

// Stop halts scheduling and waits for a running cleanup or ctx, whichever
// comes first
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	started := j.started
	j.started = false
	if started {
		j.cron.Remove(j.entry)
	}
	j.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the time of the next scheduled run, or zero when stopped
func (j *Janitor) Next() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.started {
		return time.Time{}
	}
	return j.cron.Entry(j.entry).Next
}

// LastRun returns the outcome of the most recent run
func (j *Janitor) LastRun() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun
}

// RunOnce performs one cleanup immediately
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	started := time.Now()
	cleaned, err := j.cleaner.CleanupUnused(ctx, j.daysOld)
	if err != nil {
		j.logger.Error("scheduled cleanup failed", "cleaned", cleaned, "error", err)
	} else {
		j.logger.Info("scheduled cleanup finished", "cleaned", cleaned, "duration", time.Since(started))
	}

	j.mu.Lock()
	j.lastRun = Result{StartedAt: started, Cleaned: cleaned, Err: err}
	j.mu.Unlock()
	return cleaned, err
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
