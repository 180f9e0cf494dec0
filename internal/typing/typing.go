// Package typing tracks "is typing" signals in both directions: a debounced
// notifier for the local user's keystrokes and an expiring set for signals
// received from the counterpart.
package typing

import (
	"sync"
	"time"
)

// RemoteSignalTTL is how long a remote typing signal stays active without a
// refresh. It covers the case where the counterpart's stop signal is lost.
const RemoteSignalTTL = 5 * time.Second

// Default silence timeouts for the two local notifiers. The composer's
// outgoing-signal debounce and the conversation view's local hint are
// tracked independently on purpose: they serve different consumers.
const (
	ComposerTimeout = 2 * time.Second
	ViewTimeout     = 3 * time.Second
)

// Signal is an active remote typing indicator.
type Signal struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Set holds at most one signal per remote user. A new keystroke replaces the
// user's previous signal rather than appending, and expired signals are
// never reported regardless of prune timing. Safe for concurrent use.
type Set struct {
	mu      sync.Mutex
	signals map[string]Signal
	now     func() time.Time
}

// NewSet creates an empty signal set.
func NewSet() *Set {
	return &Set{signals: make(map[string]Signal), now: time.Now}
}

// Observe records a typing signal for userID, replacing any previous one.
// Signals may arrive in any order from multiple remote users.
func (s *Set) Observe(userID, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[userID] = Signal{
		UserID:      userID,
		DisplayName: displayName,
		ExpiresAt:   s.now().Add(RemoteSignalTTL),
	}
}

// Clear drops the signal for userID, if any.
func (s *Set) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.signals, userID)
}

// Active returns the signals that have not expired as of now.
func (s *Set) Active(now time.Time) []Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Signal
	for _, sig := range s.signals {
		if now.Before(sig.ExpiresAt) {
			out = append(out, sig)
		}
	}
	return out
}

// Prune removes expired signals and returns how many were dropped. Called
// opportunistically on every successful poll tick.
func (s *Set) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id, sig := range s.signals {
		if !now.Before(sig.ExpiresAt) {
			delete(s.signals, id)
			dropped++
		}
	}
	return dropped
}

// Notifier debounces the local user's typing bursts: onStart fires once on
// the first non-empty keystroke of a burst, onStop after the silence
// timeout (or an explicit Flush). Safe for concurrent use.
type Notifier struct {
	timeout time.Duration
	onStart func()
	onStop  func()

	mu     sync.Mutex
	timer  *time.Timer
	active bool
	closed bool
}

// NewNotifier creates a notifier. Either callback may be nil.
func NewNotifier(timeout time.Duration, onStart, onStop func()) *Notifier {
	return &Notifier{timeout: timeout, onStart: onStart, onStop: onStop}
}

// Keystroke records composer input. Empty text does not start a burst but
// does keep an active one alive (deleting back to empty still counts as
// activity until the silence timeout).
func (n *Notifier) Keystroke(text string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	start := false
	if !n.active && text != "" {
		n.active = true
		start = true
	}
	if n.active {
		if n.timer != nil {
			n.timer.Stop()
		}
		n.timer = time.AfterFunc(n.timeout, n.expire)
	}
	n.mu.Unlock()

	if start && n.onStart != nil {
		n.onStart()
	}
}

// Flush ends the current burst immediately, firing onStop if one was
// active. Used when the composed message is sent.
func (n *Notifier) Flush() {
	n.mu.Lock()
	wasActive := n.active && !n.closed
	n.active = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()

	if wasActive && n.onStop != nil {
		n.onStop()
	}
}

// Close cancels the notifier without firing onStop. Further keystrokes are
// ignored. Idempotent.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.active = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()
}

// Active reports whether a burst is in progress.
func (n *Notifier) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

func (n *Notifier) expire() {
	n.mu.Lock()
	if !n.active || n.closed {
		n.mu.Unlock()
		return
	}
	n.active = false
	n.timer = nil
	n.mu.Unlock()

	if n.onStop != nil {
		n.onStop()
	}
}
