package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBus_DeliversToSubscribers(t *testing.T) {
	b := NewWithConfig(2, 10)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	got := map[string]int{}
	record := func(name string) Handler {
		return func(e Event) {
			mu.Lock()
			got[name]++
			mu.Unlock()
			wg.Done()
		}
	}

	b.Subscribe(EventTypeStateUpdated, record("a"))
	b.Subscribe(EventTypeStateUpdated, record("b"))
	b.Subscribe(EventTypeRefreshFailed, record("never"))

	b.Publish(Event{Type: EventTypeStateUpdated})

	waitOrFail(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if got["a"] != 1 || got["b"] != 1 {
		t.Errorf("got deliveries %v, want a=1 b=1", got)
	}
	if got["never"] != 0 {
		t.Errorf("handler for other event type was called")
	}
}

func TestBus_RecoversFromPanickingHandler(t *testing.T) {
	b := NewWithConfig(1, 10)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)

	b.Subscribe(EventTypeCommandFailed, func(Event) { panic("boom") })
	b.Subscribe(EventTypeCommandCompleted, func(Event) { wg.Done() })

	b.Publish(Event{Type: EventTypeCommandFailed})
	b.Publish(Event{Type: EventTypeCommandCompleted})

	waitOrFail(t, &wg)
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	b := NewWithConfig(1, 1)
	called := false
	b.Subscribe(EventTypeStateUpdated, func(Event) { called = true })

	b.Close(context.Background())
	b.Close(context.Background()) // idempotent

	b.Publish(Event{Type: EventTypeStateUpdated})
	if called {
		t.Error("handler should not run after Close")
	}
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
