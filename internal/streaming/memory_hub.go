package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// DefaultBuffer is the per-subscription channel capacity.
const DefaultBuffer = 64

// wide indexes subscriptions not pinned to one execution.
const wide = ""

type subscription struct {
	ch     chan StreamEvent
	filter EventFilter
	close  sync.Once
}

// MemoryHub fans events out to in-process subscribers. Subscriptions are
// indexed by execution so a publish only visits the subscribers of that
// execution plus the wide ones. A subscription pinned to an execution is
// closed once that execution's terminal event has been offered to it.
type MemoryHub struct {
	buffer int

	mu      sync.RWMutex
	byExec  map[string]map[*subscription]struct{}
	count   int
	dropped atomic.Uint64
}

// HubOption configures a MemoryHub.
type HubOption func(*MemoryHub)

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(n int) HubOption {
	return func(h *MemoryHub) { h.buffer = max(n, 1) }
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub(opts ...HubOption) *MemoryHub {
	h := &MemoryHub{
		buffer: DefaultBuffer,
		byExec: make(map[string]map[*subscription]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish offers event to every matching subscriber without blocking. A full
// subscriber misses the event and the miss is counted.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	execID := event.Event.ExecutionID
	final := IsTerminal(event.Event.Type)

	buckets := []string{wide}
	if execID != wide {
		buckets = append(buckets, execID)
	}

	var finished []*subscription
	h.mu.RLock()
	for _, b := range buckets {
		for sub := range h.byExec[b] {
			if final && b != wide {
				finished = append(finished, sub)
			}
			if !sub.filter.Match(event) {
				continue
			}
			select {
			case sub.ch <- event:
			default:
				h.dropped.Add(1)
			}
		}
	}
	h.mu.RUnlock()

	for _, sub := range finished {
		h.remove(sub)
	}
	return nil
}

// Subscribe registers filter and returns the event channel together with a
// cancel func that unregisters it and closes the channel. The subscription
// also ends when ctx does.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	sub := &subscription{ch: make(chan StreamEvent, h.buffer), filter: filter}

	h.mu.Lock()
	bucket := h.byExec[filter.ExecutionID]
	if bucket == nil {
		bucket = make(map[*subscription]struct{})
		h.byExec[filter.ExecutionID] = bucket
	}
	bucket[sub] = struct{}{}
	h.count++
	h.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { h.remove(sub) })
	cancel := func() {
		stop()
		h.remove(sub)
	}
	return sub.ch, cancel, nil
}

func (h *MemoryHub) remove(sub *subscription) {
	sub.close.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		key := sub.filter.ExecutionID
		delete(h.byExec[key], sub)
		if len(h.byExec[key]) == 0 {
			delete(h.byExec, key)
		}
		h.count--
		close(sub.ch)
	})
}

// Subscribers returns the number of open subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dropped returns how many deliveries were missed by full subscribers.
func (h *MemoryHub) Dropped() uint64 { return h.dropped.Load() }

// Match reports whether e passes the filter.
func (f EventFilter) Match(e StreamEvent) bool {
	switch {
	case f.ExecutionID != "" && f.ExecutionID != e.Event.ExecutionID:
		return false
	case f.WorkflowID != "" && f.WorkflowID != e.WorkflowID:
		return false
	case len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.Event.Type):
		return false
	}
	return true
}

// IsTerminal reports whether eventType ends an execution.
func IsTerminal(eventType string) bool {
	return eventType == schema.EventExecutionCompleted || eventType == schema.EventExecutionFailed
}
