// Package safety implements the process-wide emergency stop.
//
// The switch is checked at the top of every scan cycle and again before any
// transaction submission. It can be tripped by an operator signal or by the
// consecutive-failure policy; once engaged it stays engaged until an explicit
// Reset.
package safety

import (
	"sync"
	"sync/atomic"
)

// Switch is the global emergency stop flag.
type Switch struct {
	engaged atomic.Bool

	mu     sync.Mutex
	reason string
	onTrip []func(reason string)
}

// NewSwitch returns a disengaged switch.
func NewSwitch() *Switch {
	return &Switch{}
}

// Engaged reports whether the stop is active.
func (s *Switch) Engaged() bool {
	return s.engaged.Load()
}

// Trip engages the stop. The first reason wins and trip callbacks fire
// exactly once; later calls are no-ops.
func (s *Switch) Trip(reason string) {
	if s.engaged.Swap(true) {
		return
	}

	s.mu.Lock()
	s.reason = reason
	callbacks := make([]func(string), len(s.onTrip))
	copy(callbacks, s.onTrip)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(reason)
	}
}

// Reset disengages the stop. Operator action only.
func (s *Switch) Reset() {
	s.mu.Lock()
	s.reason = ""
	s.mu.Unlock()
	s.engaged.Store(false)
}

// Reason returns why the switch tripped, empty when disengaged.
func (s *Switch) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// OnTrip registers a callback invoked when the switch trips.
func (s *Switch) OnTrip(fn func(reason string)) {
	s.mu.Lock()
	s.onTrip = append(s.onTrip, fn)
	s.mu.Unlock()
}

// FailurePolicy trips a switch after a run of consecutive failures.
type FailurePolicy struct {
	sw        *Switch
	threshold int64
	streak    atomic.Int64
}

// NewFailurePolicy observes outcomes and trips sw once threshold consecutive
// failures accumulate. A threshold <= 0 disables tripping.
func NewFailurePolicy(sw *Switch, threshold int) *FailurePolicy {
	return &FailurePolicy{sw: sw, threshold: int64(threshold)}
}

// Observe records one outcome. A nil error resets the streak.
func (p *FailurePolicy) Observe(err error) {
	if err == nil {
		p.streak.Store(0)
		return
	}
	n := p.streak.Add(1)
	if p.threshold > 0 && n >= p.threshold {
		p.sw.Trip("sustained execution failures")
	}
}

// Streak returns the current consecutive failure count.
func (p *FailurePolicy) Streak() int {
	return int(p.streak.Load())
}
