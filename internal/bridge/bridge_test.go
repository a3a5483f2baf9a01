package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	seq int
}

func (testEvent) EventName() string { return "test" }

func drainWithin(t *testing.T, b *Bridge, want int, timeout time.Duration) []Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var events []Event
	for time.Now().Before(deadline) {
		events = append(events, b.Drain()...)
		if len(events) >= want {
			return events
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("drained %d events, want %d", len(events), want)
	return nil
}

func TestDrain_EmptyIsNoOp(t *testing.T) {
	b := New(context.Background())
	defer b.Close()

	assert.Empty(t, b.Drain())
	assert.Empty(t, b.Drain(), "repeated empty drain must stay empty")
}

func TestDrain_DeliversInPostOrder(t *testing.T) {
	b := New(context.Background())
	defer b.Close()

	done := make(chan struct{})
	b.Go("ordered-posts", func(ctx context.Context) {
		for i := 0; i < 5; i++ {
			b.Post(testEvent{seq: i})
		}
		close(done)
	})
	<-done

	events := b.Drain()
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, i, ev.(testEvent).seq)
	}

	// A second drain after everything was delivered is empty.
	assert.Empty(t, b.Drain())
}

func TestAfter_FiresOnceAndIsCancelable(t *testing.T) {
	b := New(context.Background())
	defer b.Close()

	fired := make(chan struct{})
	b.After(5*time.Millisecond, "fire", func(ctx context.Context) {
		b.Post(testEvent{seq: 1})
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("deferred task never fired")
	}
	require.Len(t, drainWithin(t, b, 1, time.Second), 1)

	cancel := b.After(time.Hour, "never", func(ctx context.Context) {
		t.Error("cancelled task must not fire")
	})
	cancel()
	cancel() // safe to call repeatedly

	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, b.Drain())
}

func TestGo_TaskSeesBridgeContext(t *testing.T) {
	b := New(context.Background())

	started := make(chan struct{})
	stopped := make(chan struct{})
	b.Go("wait-for-cancel", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(stopped)
	})

	<-started
	b.Close()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled on close")
	}
}

func TestClose_DropsLateSubmissions(t *testing.T) {
	b := New(context.Background())
	b.Close()

	b.Go("late", func(ctx context.Context) {
		t.Error("task submitted after close must not run")
	})
	b.Post(testEvent{})
	assert.Empty(t, b.Drain())

	// Closing twice is fine.
	b.Close()
}
