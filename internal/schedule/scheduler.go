// Package schedule runs the summarization pass on a cron schedule and keeps
// a per-mailbox history of runs.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	. "github.com/roelfdiedericks/tldr/internal/logging"
)

// Standard 5-field cron (minute, hour, day, month, weekday), plus
// descriptors such as "@daily" or "@every 2h". A "CRON_TZ=Zone " prefix
// selects the timezone.
var parser = cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)

// Parse validates a schedule expression.
func Parse(expr string) (cronlib.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return s, nil
}

// NextRunTime returns the first activation of expr after now.
func NextRunTime(expr string, now time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(now), nil
}

// Job is one scheduled run. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler triggers a Job on a cron schedule. A trigger that fires while
// the previous run is still going is skipped.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cronlib.Cron
	entry   cronlib.EntryID
	expr    string
	wrapped cronlib.Job

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped scheduler.
func New(expr string, job Job) (*Scheduler, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cron: cronlib.New(cronlib.WithParser(parser), cronlib.WithLogger(cronLogger{})),
		expr: expr,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wrapped = cronlib.SkipIfStillRunning(cronLogger{})(cronlib.FuncJob(func() {
		start := time.Now()
		L_info("schedule: run starting", "schedule", s.Expr())
		job(s.ctx)
		L_elapsed(start, "schedule: run finished")
	}))
	s.entry = s.cron.Schedule(sched, s.wrapped)
	return s, nil
}

// Start begins triggering. Cancelling ctx cancels running jobs but does not
// stop triggering; call Stop for that.
func (s *Scheduler) Start(ctx context.Context) {
	context.AfterFunc(ctx, s.cancel)
	s.cron.Start()
	if next, err := NextRunTime(s.Expr(), time.Now()); err == nil {
		L_info("schedule: started", "schedule", s.Expr(), "next", next.Format(time.RFC3339))
	}
}

// Stop halts triggering, cancels the context passed to running jobs and
// waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	L_info("schedule: stopped")
}

// Expr returns the active schedule expression.
func (s *Scheduler) Expr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr
}

// Next returns the next planned trigger, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	id := s.entry
	s.mu.Unlock()
	return s.cron.Entry(id).Next
}

// Reschedule swaps the schedule. An invalid expression leaves the current
// schedule in place. A run in progress is not interrupted and the
// skip-if-running guard carries over.
func (s *Scheduler) Reschedule(expr string) error {
	sched, err := Parse(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if expr == s.expr {
		return nil
	}
	s.cron.Remove(s.entry)
	s.entry = s.cron.Schedule(sched, s.wrapped)
	L_info("schedule: rescheduled", "from", s.expr, "to", expr)
	s.expr = expr
	return nil
}

// cronLogger routes robfig/cron's logging through the global logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	L_debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	L_error("cron: "+msg, append(keysAndValues, "error", err)...)
}
