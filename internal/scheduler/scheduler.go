// Package scheduler runs the batch jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	// ErrUnknownJob is returned when triggering a job that was never added.
	ErrUnknownJob = errors.New("unknown job")

	// ErrAlreadyRunning is returned when a job is triggered while a run is in progress.
	ErrAlreadyRunning = errors.New("job already running")
)

// Func is one run of a job.
type Func func(ctx context.Context) error

type entry struct {
	name    string
	spec    string
	fn      Func
	id      cron.EntryID
	running bool
	lastErr error
	lastRun time.Time
}

// Scheduler wraps cron.Cron. A job never overlaps with itself; a tick that
// fires while the previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context

	mu   sync.Mutex
	jobs map[string]*entry
}

// New creates a scheduler evaluating specs in loc (UTC when nil).
// Runs receive baseCtx, so cancelling it cancels in-flight jobs.
func New(baseCtx context.Context, logger *zap.Logger, loc *time.Location) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		logger:  logger,
		baseCtx: baseCtx,
		jobs:    make(map[string]*entry),
	}
}

// Add registers fn under name with a standard five-field cron spec.
func (s *Scheduler) Add(name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already added", name)
	}
	e := &entry{name: name, spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() {
		if err := s.run(e); errors.Is(err, ErrAlreadyRunning) {
			s.logger.Warn("skipping tick, previous run still in progress", zap.String("job", name))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	e.id = id
	s.jobs[name] = e
	return nil
}

// Trigger runs the named job now and waits for it.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownJob)
	}
	return s.run(e)
}

func (s *Scheduler) run(e *entry) error {
	s.mu.Lock()
	if e.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	s.mu.Unlock()

	start := time.Now()
	s.logger.Info("job started", zap.String("job", e.name))
	err := e.fn(s.baseCtx)

	s.mu.Lock()
	e.running = false
	e.lastErr = err
	e.lastRun = start
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed",
			zap.String("job", e.name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return err
	}
	s.logger.Info("job finished",
		zap.String("job", e.name),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Status describes one registered job.
type Status struct {
	Name    string
	Spec    string
	Running bool
	LastRun time.Time
	LastErr string
	Next    time.Time // zero until the scheduler is started
}

// Statuses lists registered jobs by name.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.jobs))
	for _, e := range s.jobs {
		st := Status{
			Name:    e.name,
			Spec:    e.spec,
			Running: e.running,
			LastRun: e.lastRun,
			Next:    s.cron.Entry(e.id).Next,
		}
		if e.lastErr != nil {
			st.LastErr = e.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
