package safety

import (
	"errors"
	"sync"
	"testing"
)

func TestTripIsIdempotent(t *testing.T) {
	s := NewSwitch()
	fired := 0
	s.OnTrip(func(reason string) { fired++ })

	s.Trip("first")
	s.Trip("second")

	if !s.Engaged() {
		t.Error("switch should be engaged")
	}
	if s.Reason() != "first" {
		t.Errorf("reason = %q, want first", s.Reason())
	}
	if fired != 1 {
		t.Errorf("trip callbacks fired %d times, want 1", fired)
	}
}

func TestReset(t *testing.T) {
	s := NewSwitch()
	s.Trip("halt")
	s.Reset()

	if s.Engaged() {
		t.Error("switch still engaged after Reset")
	}
	if s.Reason() != "" {
		t.Errorf("reason = %q, want empty", s.Reason())
	}
}

func TestConcurrentTripFiresOnce(t *testing.T) {
	s := NewSwitch()
	var mu sync.Mutex
	fired := 0
	s.OnTrip(func(reason string) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Trip("race")
		}()
	}
	wg.Wait()

	if fired != 1 {
		t.Errorf("callbacks fired %d times, want 1", fired)
	}
}

func TestFailurePolicyTripsAtThreshold(t *testing.T) {
	s := NewSwitch()
	p := NewFailurePolicy(s, 3)
	boom := errors.New("boom")

	p.Observe(boom)
	p.Observe(boom)
	if s.Engaged() {
		t.Fatal("tripped before threshold")
	}
	p.Observe(boom)
	if !s.Engaged() {
		t.Fatal("did not trip at threshold")
	}
}

func TestFailurePolicySuccessResetsStreak(t *testing.T) {
	s := NewSwitch()
	p := NewFailurePolicy(s, 3)
	boom := errors.New("boom")

	p.Observe(boom)
	p.Observe(boom)
	p.Observe(nil)
	p.Observe(boom)
	p.Observe(boom)

	if s.Engaged() {
		t.Error("streak should have reset on success")
	}
	if p.Streak() != 2 {
		t.Errorf("streak = %d, want 2", p.Streak())
	}
}

func TestZeroThresholdNeverTrips(t *testing.T) {
	s := NewSwitch()
	p := NewFailurePolicy(s, 0)
	for i := 0; i < 100; i++ {
		p.Observe(errors.New("x"))
	}
	if s.Engaged() {
		t.Error("disabled policy tripped the switch")
	}
}
