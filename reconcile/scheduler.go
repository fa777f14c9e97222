// Package reconcile runs the subscription expiry sweep on a cron schedule.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/entitle"
)

// DefaultSchedule runs the sweep at the top of every hour.
const DefaultSchedule = "@hourly"

// DefaultTimeout bounds one sweep.
const DefaultTimeout = 5 * time.Minute

// Reconciler is the part of *entitle.Engine the scheduler drives.
type Reconciler interface {
	ReconcileExpired(ctx context.Context) (*entitle.ReconcileReport, error)
}

// Scheduler runs Reconciler.ReconcileExpired on a cron schedule. Runs never
// overlap: a tick that arrives while a sweep is still going is skipped.
type Scheduler struct {
	r        Reconciler
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
	location *time.Location

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	last    *entitle.ReconcileReport
	lastErr error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSchedule sets the cron spec. Standard five-field specs and
// descriptors such as "@every 15m" are accepted.
func WithSchedule(spec string) Option {
	return func(s *Scheduler) { s.schedule = spec }
}

// WithTimeout bounds each sweep.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithLocation sets the time zone specs are evaluated in. The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.location = loc }
}

// New creates a Scheduler for r.
func New(r Reconciler, opts ...Option) *Scheduler {
	s := &Scheduler{
		r:        r,
		schedule: DefaultSchedule,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates the schedule and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("reconcile: scheduler already started")
	}

	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		),
	)
	id, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("reconcile: invalid schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron = c
	s.entryID = id
	s.logger.Info("reconcile scheduler started", "schedule", s.schedule, "timeout", s.timeout)
	return nil
}

// Stop stops scheduling and waits for a running sweep until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		s.logger.Info("reconcile scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns when the next sweep is due, or the zero time when the
// scheduler is not running.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// RunOnce performs one sweep now and records its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) (*entitle.ReconcileReport, error) {
	started := time.Now()
	report, err := s.r.ReconcileExpired(ctx)

	s.mu.Lock()
	s.last, s.lastErr = report, err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("reconcile sweep failed", "error", err, "elapsed", time.Since(started))
		return report, err
	}
	s.logger.Info("reconcile sweep finished",
		"scanned", report.Scanned,
		"expired", report.Expired,
		"past_due", report.PastDue,
		"skipped", report.Skipped,
		"elapsed", time.Since(started),
	)
	return report, nil
}

// Last returns the outcome of the most recent sweep.
func (s *Scheduler) Last() (*entitle.ReconcileReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}
