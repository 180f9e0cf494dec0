// Package retry computes reconnect backoff and runs one pending reconnect
// timer at a time.
package retry

import (
	"sync"
	"time"
)

const (
	baseDelay = time.Second
	maxDelay  = 30 * time.Second
)

// Delay returns the backoff delay for the given attempt number:
// min(1s * 2^attempt, 30s). Negative attempts are treated as zero.
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 1s << 5 already exceeds the cap; avoid shifting into overflow.
	if attempt > 5 {
		return maxDelay
	}
	d := baseDelay << uint(attempt)
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// Scheduler arms at most one reconnect timer. Scheduling replaces any
// pending timer; Cancel disarms it. It holds no state other than the timer,
// so it cannot itself fail; only the invoked reconnect can.
type Scheduler struct {
	mu    sync.Mutex
	timer *time.Timer
}

// NewScheduler creates an idle scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Schedule arms a timer that fires fn exactly once after Delay(attempt),
// unless Cancel (or a subsequent Schedule) disarms it first. The chosen
// delay is returned.
func (s *Scheduler) Schedule(attempt int, fn func()) time.Duration {
	d := Delay(attempt)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timer == t {
			s.timer = nil
		}
		s.mu.Unlock()
		fn()
	})
	s.timer = t
	return d
}

// Cancel disarms any pending timer. Safe to call when idle.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Pending reports whether a reconnect timer is armed.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
