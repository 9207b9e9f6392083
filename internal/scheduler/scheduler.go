// Package scheduler fires cron-triggered workflows and resumes delay waits
// whose time has come.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ghxstship/orangeseadragon-sub009/internal/engine"
	"github.com/ghxstship/orangeseadragon-sub009/internal/logging"
	"github.com/ghxstship/orangeseadragon-sub009/internal/registry"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Runner is the part of the interpreter the scheduler drives.
type Runner interface {
	Trigger(ctx context.Context, req engine.TriggerRequest) (*schema.WorkflowExecution, error)
	DueDelays(ctx context.Context, now time.Time) ([]*schema.WorkflowExecution, error)
	ResumeDelay(ctx context.Context, id string) (*schema.WorkflowExecution, error)
}

// CronTrigger starts a workflow on a schedule.
type CronTrigger struct {
	Name        string         `mapstructure:"name" json:"name"`
	Schedule    string         `mapstructure:"schedule" json:"schedule"`
	WorkflowID  string         `mapstructure:"workflow" json:"workflow"`
	TriggerData map[string]any `mapstructure:"trigger_data" json:"triggerData,omitempty"`
}

// Config configures the scheduler.
type Config struct {
	// Interval between ticks. Defaults to 30s.
	Interval time.Duration
	// Workers bounds concurrent triggers and resumes. Defaults to 4.
	Workers  int
	Triggers []CronTrigger
	Now      func() time.Time
}

type entry struct {
	trigger  CronTrigger
	schedule cron.Schedule
	next     time.Time
}

// Scheduler ticks on an interval. Each tick submits due cron triggers and
// elapsed delay waits to a bounded worker pool.
type Scheduler struct {
	runner Runner
	cfg    Config
	logger *slog.Logger
	pool   *WorkerPool

	mu      sync.Mutex
	entries []*entry
	cancel  context.CancelFunc
	done    chan struct{}
}

// New validates the cron triggers and creates a Scheduler.
func New(runner Runner, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Scheduler{
		runner: runner,
		cfg:    cfg,
		logger: logger,
		pool:   NewWorkerPool(cfg.Workers, logger),
	}
	now := cfg.Now()
	for i, t := range cfg.Triggers {
		if t.WorkflowID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "cron trigger %d has no workflow", i)
		}
		sched, err := registry.CronParser().Parse(t.Schedule)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "cron trigger %q: %v", t.Name, err)
		}
		if t.Name == "" {
			t.Name = fmt.Sprintf("%s#%d", t.WorkflowID, i)
		}
		s.entries = append(s.entries, &entry{trigger: t, schedule: sched, next: sched.Next(now)})
	}
	return s, nil
}

// Start launches the background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", "interval", s.cfg.Interval, "triggers", len(s.entries))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick submits everything due at the current time. It returns once the
// work is submitted, not when it finishes.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.cfg.Now()
	s.fireCron(ctx, now)
	s.sweepDelays(ctx, now)
}

func (s *Scheduler) fireCron(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []CronTrigger
	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		due = append(due, e.trigger)
		e.next = e.schedule.Next(now)
	}
	s.mu.Unlock()

	for _, t := range due {
		t := t
		s.submit(ctx, KindCron, "cron:"+t.Name, func(ctx context.Context) error {
			exec, err := s.runner.Trigger(ctx, engine.TriggerRequest{
				WorkflowID:  t.WorkflowID,
				TriggerData: withSchedule(t, now),
			})
			if err != nil {
				return fmt.Errorf("cron trigger %q: %w", t.Name, err)
			}
			s.logger.InfoContext(logging.WithIDs(ctx, exec.ID, exec.WorkflowID),
				"cron trigger fired", "trigger", t.Name, "status", string(exec.Status))
			return nil
		})
	}
}

func (s *Scheduler) sweepDelays(ctx context.Context, now time.Time) {
	due, err := s.runner.DueDelays(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "list due delays failed", "error", err)
		return
	}
	for _, e := range due {
		id := e.ID
		s.submit(ctx, KindDelay, "delay:"+id, func(ctx context.Context) error {
			_, err := s.runner.ResumeDelay(ctx, id)
			return err
		})
	}
}

// submit hands fn to the pool. A key still running from an earlier tick is
// left alone.
func (s *Scheduler) submit(ctx context.Context, kind TaskKind, key string, fn func(ctx context.Context) error) {
	err := s.pool.Submit(ctx, kind, key, fn)
	switch {
	case err == nil:
	case errors.Is(err, ErrTaskInFlight):
		s.logger.DebugContext(ctx, "task still running", "task", key)
	default:
		s.logger.WarnContext(ctx, "task not submitted", "task", key, "error", err)
	}
}

// Wait blocks until submitted work has finished.
func (s *Scheduler) Wait() { s.pool.Wait() }

// Metrics returns the worker pool counters.
func (s *Scheduler) Metrics() PoolMetrics { return s.pool.Metrics() }

// NextRuns reports when each cron trigger fires next.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for _, e := range s.entries {
		out[e.trigger.Name] = e.next
	}
	return out
}

// Stop halts the loop and waits for running tasks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.pool.Shutdown()
	s.logger.Info("scheduler stopped")
}

func withSchedule(t CronTrigger, at time.Time) map[string]any {
	data := schema.CloneMap(t.TriggerData)
	if data == nil {
		data = map[string]any{}
	}
	data["schedule"] = map[string]any{
		"name":    t.Name,
		"cron":    t.Schedule,
		"firedAt": at.Format(time.RFC3339),
	}
	return data
}
