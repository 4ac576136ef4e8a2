// Package schedule runs the collection pipeline periodically for serve mode.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MikeSquared-Agency/tgcollector/internal/hermes"
	"github.com/MikeSquared-Agency/tgcollector/internal/pipeline"
)

// DefaultSpec is used when no schedule is configured.
const DefaultSpec = "@every 6h"

// RunFunc executes one collection pass.
type RunFunc func(ctx context.Context) (*pipeline.Summary, error)

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running   bool                 `json:"running"`
	Schedule  string               `json:"schedule"`
	NextRun   *time.Time           `json:"next_run,omitempty"`
	LastRun   *hermes.RunCompleted `json:"last_run,omitempty"`
	LastError string               `json:"last_error,omitempty"`
	Runs      int                  `json:"runs"`
}

// Scheduler triggers RunFunc on a cron spec. Runs never overlap: a tick that
// fires while a pass is in progress is dropped.
type Scheduler struct {
	spec   string
	run    RunFunc
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entry   cron.EntryID
	running bool
	last    *pipeline.Summary
	lastErr error
	runs    int
}

// New validates spec and returns an idle scheduler.
func New(spec string, run RunFunc, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	cl := cronLogger{logger}
	return &Scheduler{
		spec:   spec,
		run:    run,
		logger: logger,
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
	}, nil
}

// Run executes one pass immediately, then on the schedule until ctx is
// cancelled. It waits for an in-flight pass before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.spec, func() { s.Trigger(ctx) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}
	s.mu.Lock()
	s.entry = id
	s.mu.Unlock()

	s.logger.Info("scheduler starting", "schedule", s.spec)
	s.Trigger(ctx)

	s.cron.Start()
	<-ctx.Done()

	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	return nil
}

// Trigger runs one pass unless another is in progress. It reports whether
// the pass ran.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("previous run still in progress, skipping tick")
		return false
	}
	if ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.mu.Unlock()

	sum, err := s.run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.runs++
	s.lastErr = err
	if err != nil {
		s.logger.Error("scheduled run failed", "error", err)
		return true
	}
	s.last = sum
	return true
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:  s.running,
		Schedule: s.spec,
		Runs:     s.runs,
	}
	if s.entry != 0 {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			st.NextRun = &next
		}
	}
	if s.last != nil {
		ev := s.last.Event()
		st.LastRun = &ev
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// cronLogger adapts slog to cron.Logger. cron's routine chatter goes to Debug.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
