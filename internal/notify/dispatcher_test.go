package notify

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jm31-art/ultraflashbot/internal/logger"
)

func testLog() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

// recordingSink captures delivered events. release gates delivery so tests
// can hold the worker busy.
type recordingSink struct {
	mu      sync.Mutex
	events  []Event
	release chan struct{}
}

func (s *recordingSink) Notify(_ context.Context, e Event) {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type panickingSink struct{}

func (panickingSink) Notify(context.Context, Event) { panic("sink exploded") }

func TestDispatcher_DeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d, err := NewDispatcher(sink, 8, testLog())
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	ctx := context.Background()
	d.Notify(ctx, Event{Severity: SeverityInfo, Title: "first"})
	d.Notify(ctx, Event{Severity: SeverityWarn, Title: "second"})
	d.Close()

	if sink.count() != 2 {
		t.Fatalf("expected 2 delivered, got %d", sink.count())
	}
	if sink.events[0].Title != "first" || sink.events[1].Title != "second" {
		t.Errorf("events out of order: %+v", sink.events)
	}
	if sink.events[0].At.IsZero() {
		t.Error("dispatcher should stamp At when unset")
	}
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	sink := &recordingSink{release: make(chan struct{})}
	d, err := NewDispatcher(sink, 1, testLog())
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	ctx := context.Background()

	// First event occupies the worker, second fills the queue; everything
	// after must drop without blocking.
	d.Notify(ctx, Event{Title: "in-flight"})
	time.Sleep(20 * time.Millisecond)
	d.Notify(ctx, Event{Title: "queued"})

	doneSending := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify(ctx, Event{Title: "overflow"})
		}
		close(doneSending)
	}()

	select {
	case <-doneSending:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}

	close(sink.release)
	d.Close()

	if got := sink.count(); got != 2 {
		t.Errorf("expected 2 delivered (rest dropped), got %d", got)
	}
}

func TestDispatcher_SurvivesSinkPanic(t *testing.T) {
	d, err := NewDispatcher(panickingSink{}, 4, testLog())
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	ctx := context.Background()
	d.Notify(ctx, Event{Title: "boom"})
	d.Notify(ctx, Event{Title: "still alive"})
	d.Close()
	// Reaching here without a crash is the assertion.
}

func TestDispatcher_CloseIdempotent(t *testing.T) {
	d, err := NewDispatcher(&recordingSink{}, 4, testLog())
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	d.Close()
	d.Close()
}

func TestMulti_FansOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	m := Multi{a, b}

	m.Notify(context.Background(), Event{Title: "both"})

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("expected both sinks hit, got %d and %d", a.count(), b.count())
	}
}
