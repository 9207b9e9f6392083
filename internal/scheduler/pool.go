package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// TaskKind names the two sorts of work a tick produces.
type TaskKind string

const (
	KindCron  TaskKind = "cron"
	KindDelay TaskKind = "delay"
)

var (
	// ErrPoolShutdown is returned by Submit once Shutdown has been called.
	ErrPoolShutdown = errors.New("scheduler pool is shut down")
	// ErrTaskInFlight is returned by Submit when a task with the same key
	// has not finished yet.
	ErrTaskInFlight = errors.New("task already in flight")
)

// KindMetrics counts outcomes for one TaskKind.
type KindMetrics struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

// PoolMetrics is a snapshot of the pool. Skipped counts tasks that lost a
// race to another resumer (a CONFLICT from the engine); they are neither
// completed nor failed.
type PoolMetrics struct {
	Active    int                      `json:"active"` // claimed, running or waiting for a slot
	Completed int64                    `json:"completed"`
	Failed    int64                    `json:"failed"`
	Skipped   int64                    `json:"skipped"`
	Panics    int64                    `json:"panics"`
	ByKind    map[TaskKind]KindMetrics `json:"byKind"`
}

// WorkerPool runs keyed tasks with bounded concurrency. A key may only be in
// flight once, so a slow delay resume is not picked up again by the next
// tick's sweep.
type WorkerPool struct {
	slots  chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight map[string]TaskKind
	panics   int64
	byKind   map[TaskKind]*KindMetrics
}

// NewWorkerPool creates a pool running at most size tasks at once.
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WorkerPool{
		slots:    make(chan struct{}, max(size, 1)),
		stop:     make(chan struct{}),
		logger:   logger,
		inflight: make(map[string]TaskKind),
		byKind:   make(map[TaskKind]*KindMetrics),
	}
}

// Submit claims key and runs fn on a free slot. While every slot is busy it
// blocks until one frees up, ctx ends or the pool shuts down.
func (p *WorkerPool) Submit(ctx context.Context, kind TaskKind, key string, fn func(ctx context.Context) error) error {
	if err := p.claim(kind, key); err != nil {
		return err
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		p.unclaim(key)
		return ctx.Err()
	case <-p.stop:
		p.unclaim(key)
		return ErrPoolShutdown
	}

	go p.run(ctx, kind, key, fn)
	return nil
}

// claim reserves key and registers the task with the wait group in one
// critical section, so Shutdown never waits on a task it cannot see.
func (p *WorkerPool) claim(kind TaskKind, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolShutdown
	}
	if _, busy := p.inflight[key]; busy {
		return ErrTaskInFlight
	}
	p.inflight[key] = kind
	p.wg.Add(1)
	return nil
}

func (p *WorkerPool) unclaim(key string) {
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
	p.wg.Done()
}

func (p *WorkerPool) run(ctx context.Context, kind TaskKind, key string, fn func(ctx context.Context) error) {
	var err error
	panicked := false
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = errors.New("panic")
			p.logger.ErrorContext(ctx, "scheduled task panicked", "task", key, "panic", r)
		}
		<-p.slots
		p.finish(ctx, kind, key, err, panicked)
	}()
	err = fn(ctx)
}

func (p *WorkerPool) finish(ctx context.Context, kind TaskKind, key string, err error, panicked bool) {
	p.mu.Lock()
	delete(p.inflight, key)
	m := p.byKind[kind]
	if m == nil {
		m = &KindMetrics{}
		p.byKind[kind] = m
	}
	switch {
	case err == nil:
		m.Completed++
	case schema.IsCode(err, schema.ErrCodeConflict):
		m.Skipped++
	default:
		m.Failed++
	}
	if panicked {
		p.panics++
	}
	p.mu.Unlock()
	p.wg.Done()

	if err != nil && !panicked {
		if schema.IsCode(err, schema.ErrCodeConflict) {
			p.logger.DebugContext(ctx, "scheduled task skipped", "task", key, "reason", err)
		} else {
			p.logger.WarnContext(ctx, "scheduled task failed", "task", key, "kind", string(kind), "error", err)
		}
	}
}

// Wait blocks until every submitted task has finished.
func (p *WorkerPool) Wait() { p.wg.Wait() }

// Shutdown rejects further work and waits for running tasks. It is safe to
// call more than once.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stop)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Metrics returns a snapshot of the counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := PoolMetrics{
		Active: len(p.inflight),
		Panics: p.panics,
		ByKind: make(map[TaskKind]KindMetrics, len(p.byKind)),
	}
	for kind, m := range p.byKind {
		out.ByKind[kind] = *m
		out.Completed += m.Completed
		out.Failed += m.Failed
		out.Skipped += m.Skipped
	}
	return out
}
