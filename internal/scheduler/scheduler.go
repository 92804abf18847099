// Package scheduler runs the periodic and daily background jobs: pending
// expiry, notification flush, the nightly queue migration and day-ahead
// reminders.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/metrics"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

// Task is a named job. Every > 0 runs it on that interval, starting at the
// first tick; otherwise it runs once a day at DailyAt past local midnight.
type Task struct {
	Name    string
	Every   time.Duration
	DailyAt time.Duration
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type Scheduler struct {
	tasks   []Task
	clock   clock.Clock
	loc     *time.Location
	tick    time.Duration
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	next    map[string]time.Time
	running map[string]bool
}

func New(tasks []Task, clk clock.Clock, loc *time.Location, tick time.Duration, logger *logging.Logger, m *metrics.Metrics) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if tick <= 0 {
		tick = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Scheduler{
		tasks:   tasks,
		clock:   clk,
		loc:     loc,
		tick:    tick,
		logger:  logger,
		metrics: m,
		next:    make(map[string]time.Time, len(tasks)),
		running: make(map[string]bool, len(tasks)),
	}
	now := clk.Now()
	for _, t := range tasks {
		if t.Every > 0 {
			s.next[t.Name] = now
		} else {
			s.next[t.Name] = NextDaily(now, t.DailyAt, loc)
		}
	}
	return s
}

// NextDaily returns the first instant strictly after now that is offset past
// local midnight.
func NextDaily(now time.Time, offset time.Duration, loc *time.Location) time.Time {
	today := clock.DateOf(now, loc)
	at := clock.At(today, offset, loc)
	if !at.After(now) {
		at = clock.At(today.AddDate(0, 0, 1), offset, loc)
	}
	return at
}

// Run ticks until ctx is cancelled, then waits for running jobs. Jobs run
// in their own goroutines, so a slow job never delays the tick; a job still
// running when it comes due again is skipped until it finishes. Job errors
// are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "tasks", len(s.tasks), "tick", s.tick)
	var wg sync.WaitGroup
	s.startDue(ctx, &wg)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			wg.Wait()
			return nil
		case <-ticker.C:
			s.startDue(ctx, &wg)
		}
	}
}

// RunDue runs every task whose next run time has passed, concurrently, waits
// for them and returns the names that ran.
func (s *Scheduler) RunDue(ctx context.Context) []string {
	var wg sync.WaitGroup
	names := s.startDue(ctx, &wg)
	wg.Wait()
	return names
}

func (s *Scheduler) startDue(ctx context.Context, wg *sync.WaitGroup) []string {
	due := s.claimDue(s.clock.Now())
	names := make([]string, len(due))
	for i, t := range due {
		names[i] = t.Name
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.finish(t.Name)
			s.runTask(ctx, t)
		}()
	}
	return names
}

// claimDue advances the schedule of every due task that is not running and
// marks it running.
func (s *Scheduler) claimDue(now time.Time) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Task
	for _, t := range s.tasks {
		if s.running[t.Name] || now.Before(s.next[t.Name]) {
			continue
		}
		due = append(due, t)
		s.running[t.Name] = true
		if t.Every > 0 {
			s.next[t.Name] = now.Add(t.Every)
		} else {
			s.next[t.Name] = NextDaily(now, t.DailyAt, s.loc)
		}
	}
	return due
}

func (s *Scheduler) finish(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}

func (s *Scheduler) runTask(ctx context.Context, t Task) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := t.Run(ctx)
	elapsed := time.Since(start)
	s.metrics.ObserveJob(t.Name, err, elapsed)
	if err != nil {
		s.logger.Error("job failed", "job", t.Name, "elapsed", elapsed, "error", err)
		return
	}
	s.logger.Debug("job finished", "job", t.Name, "elapsed", elapsed)
}

// Next returns when a task runs next.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.next[name]
	return t, ok
}
