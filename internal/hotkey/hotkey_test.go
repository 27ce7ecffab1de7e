package hotkey

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitForCount(t *testing.T, counter *int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(counter) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d triggers, got %d", want, atomic.LoadInt32(counter))
}

func TestChordMatch(t *testing.T) {
	m := NewManager()
	var fired int32
	m.Register("Ctrl+Super+Right", func() { atomic.AddInt32(&fired, 1) })

	m.UpdateState("ctrl", true)
	m.UpdateState("super", true)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("chord fired before all keys held")
	}
	m.UpdateState("right", true)

	waitForCount(t, &fired, 1)
}

func TestReleaseClearsState(t *testing.T) {
	m := NewManager()
	var fired int32
	m.Register("Ctrl+A", func() { atomic.AddInt32(&fired, 1) })

	m.UpdateState("ctrl", true)
	m.UpdateState("a", true)
	waitForCount(t, &fired, 1)

	m.UpdateState("a", false)
	m.UpdateState("ctrl", false)

	// Pressing an unrelated key must not refire.
	m.UpdateState("b", true)
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Errorf("chord refired after release: %d", got)
	}
}

func TestClearRemovesRegistrations(t *testing.T) {
	m := NewManager()
	var fired int32
	m.Register("Ctrl+A", func() { atomic.AddInt32(&fired, 1) })
	m.Clear()

	m.UpdateState("ctrl", true)
	m.UpdateState("a", true)
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Errorf("cleared chord still fired")
	}
}

func TestEmptyChordIgnored(t *testing.T) {
	m := NewManager()
	m.Register("", func() { t.Errorf("empty chord fired") })
	m.UpdateState("a", true)
	time.Sleep(10 * time.Millisecond)
}
