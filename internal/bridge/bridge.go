// Package bridge connects a fixed-tick host loop to background network
// work. The host submits asynchronous tasks and once per tick drains the
// events those tasks completed, in completion order. The drain queue is the
// only synchronization point between the two sides: background tasks post
// immutable event values, and host-owned state is mutated exclusively while
// draining.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a completed unit of work handed back to the host loop.
// Concrete event types live with the component that produces them; the
// host dispatches on the concrete type.
type Event interface {
	// EventName identifies the event kind for logging and dispatch.
	EventName() string
}

// Bridge runs background tasks and queues their results for per-tick
// consumption. All methods are safe for concurrent use; Drain is meant to
// be called from a single host goroutine once per tick.
type Bridge struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	queue  []Event
	closed bool
}

// New creates a bridge whose background tasks are tied to the given parent
// context.
func New(parent context.Context) *Bridge {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Bridge{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go schedules fn on a background goroutine and returns immediately.
// The task receives a context that is cancelled when the bridge closes.
// After Close, submissions are dropped.
func (b *Bridge) Go(name string, fn func(ctx context.Context)) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		slog.Debug("Dropping task submitted after bridge close", "task", name)
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	taskID := uuid.NewString()
	go func() {
		defer b.wg.Done()
		slog.Debug("Bridge task started", "task", name, "task_id", taskID)
		fn(b.ctx)
		slog.Debug("Bridge task finished", "task", name, "task_id", taskID)
	}()
}

// After schedules fn to run once d has elapsed. The returned cancel
// function stops the timer; it is safe to call more than once and after
// the task has fired.
func (b *Bridge) After(d time.Duration, name string, fn func(ctx context.Context)) (cancel func()) {
	timerCtx, timerCancel := context.WithCancel(b.ctx)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		timerCancel()
		slog.Debug("Dropping deferred task submitted after bridge close", "task", name)
		return func() {}
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		defer timerCancel()

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timerCtx.Done():
		case <-timer.C:
			slog.Debug("Deferred bridge task firing", "task", name, "delay", d)
			fn(b.ctx)
		}
	}()

	return timerCancel
}

// Post appends an event to the drain queue. Called by background tasks
// when their work completes; events are delivered in the order they were
// posted.
func (b *Bridge) Post(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		slog.Debug("Dropping event posted after bridge close", "event", ev.EventName())
		return
	}
	b.queue = append(b.queue, ev)
}

// Drain returns the events completed since the previous call and clears
// the queue. It never blocks; with no completed work it returns nil and
// mutates nothing.
func (b *Bridge) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return nil
	}
	drained := b.queue
	b.queue = nil
	return drained
}

// Close cancels all background tasks and waits for them to finish.
// Events posted after Close are dropped.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
