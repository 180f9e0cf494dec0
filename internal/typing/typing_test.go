package typing

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSetObserveAndActive(t *testing.T) {
	s := NewSet()
	base := time.Now()
	s.now = func() time.Time { return base }

	s.Observe("u2", "Ana")
	s.Observe("u3", "Bruno")

	active := s.Active(base.Add(time.Second))
	if len(active) != 2 {
		t.Fatalf("got %d active signals, want 2", len(active))
	}
}

func TestSetReplacePerUser(t *testing.T) {
	s := NewSet()
	base := time.Now()
	s.now = func() time.Time { return base }

	s.Observe("u2", "Ana")
	// A later keystroke replaces, not appends.
	s.now = func() time.Time { return base.Add(3 * time.Second) }
	s.Observe("u2", "Ana")

	active := s.Active(base.Add(6 * time.Second))
	if len(active) != 1 {
		t.Fatalf("got %d active signals, want 1 (refreshed, single entry)", len(active))
	}
	wantExpiry := base.Add(3 * time.Second).Add(RemoteSignalTTL)
	if !active[0].ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expiry = %v, want %v", active[0].ExpiresAt, wantExpiry)
	}
}

func TestSetExpiry(t *testing.T) {
	s := NewSet()
	base := time.Now()
	s.now = func() time.Time { return base }

	s.Observe("u2", "Ana")

	// Still active just before the TTL.
	if got := s.Active(base.Add(RemoteSignalTTL - time.Millisecond)); len(got) != 1 {
		t.Errorf("signal expired early: %v", got)
	}
	// Absent at and after the TTL even without a prune.
	if got := s.Active(base.Add(RemoteSignalTTL)); len(got) != 0 {
		t.Errorf("expired signal still active: %v", got)
	}
}

func TestSetPrune(t *testing.T) {
	s := NewSet()
	base := time.Now()
	s.now = func() time.Time { return base }

	s.Observe("u2", "Ana")
	s.now = func() time.Time { return base.Add(4 * time.Second) }
	s.Observe("u3", "Bruno")

	dropped := s.Prune(base.Add(RemoteSignalTTL))
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if got := s.Active(base.Add(RemoteSignalTTL)); len(got) != 1 || got[0].UserID != "u3" {
		t.Errorf("active = %v, want only u3", got)
	}
}

func TestNotifierDebouncedStart(t *testing.T) {
	var starts, stops atomic.Int32
	n := NewNotifier(100*time.Millisecond, func() { starts.Add(1) }, func() { stops.Add(1) })
	defer n.Close()

	n.Keystroke("h")
	n.Keystroke("he")
	n.Keystroke("hel")

	if got := starts.Load(); got != 1 {
		t.Errorf("onStart fired %d times during one burst, want 1", got)
	}
	if stops.Load() != 0 {
		t.Error("onStop fired during active burst")
	}

	time.Sleep(200 * time.Millisecond)
	if got := stops.Load(); got != 1 {
		t.Errorf("onStop fired %d times after silence, want 1", got)
	}

	// A new burst starts again.
	n.Keystroke("x")
	if got := starts.Load(); got != 2 {
		t.Errorf("onStart fired %d times across two bursts, want 2", got)
	}
}

func TestNotifierEmptyKeystrokeDoesNotStart(t *testing.T) {
	var starts atomic.Int32
	n := NewNotifier(50*time.Millisecond, func() { starts.Add(1) }, nil)
	defer n.Close()

	n.Keystroke("")
	if starts.Load() != 0 {
		t.Error("empty keystroke started a burst")
	}
}

func TestNotifierFlush(t *testing.T) {
	var stops atomic.Int32
	n := NewNotifier(time.Hour, nil, func() { stops.Add(1) })
	defer n.Close()

	n.Keystroke("draft")
	n.Flush()
	if got := stops.Load(); got != 1 {
		t.Errorf("onStop fired %d times after Flush, want 1", got)
	}

	// Flush without an active burst is a no-op.
	n.Flush()
	if got := stops.Load(); got != 1 {
		t.Errorf("onStop fired %d times after second Flush, want 1", got)
	}
}

func TestNotifierCloseSuppressesStop(t *testing.T) {
	var stops atomic.Int32
	n := NewNotifier(50*time.Millisecond, nil, func() { stops.Add(1) })

	n.Keystroke("draft")
	n.Close()
	n.Close() // idempotent

	time.Sleep(120 * time.Millisecond)
	if stops.Load() != 0 {
		t.Error("onStop fired after Close")
	}
	if n.Active() {
		t.Error("notifier active after Close")
	}

	n.Keystroke("ignored")
	if n.Active() {
		t.Error("keystroke accepted after Close")
	}
}

func TestTimeoutConstants(t *testing.T) {
	if ComposerTimeout != 2*time.Second {
		t.Errorf("ComposerTimeout = %v, want 2s", ComposerTimeout)
	}
	if ViewTimeout != 3*time.Second {
		t.Errorf("ViewTimeout = %v, want 3s", ViewTimeout)
	}
}
