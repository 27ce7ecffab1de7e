package input

import "testing"

func TestStubCaptureLifecycle(t *testing.T) {
	s := NewStub()

	var moves []int
	cb := Callbacks{
		MoveTo: func(x, y int) { moves = append(moves, x) },
	}

	// Fed before capture starts: dropped.
	s.Feed(Event{Type: EventMouseMove, X: 1, Y: 1})
	if len(moves) != 0 {
		t.Fatalf("event delivered before CaptureStart")
	}

	if err := s.CaptureStart(cb); err != nil {
		t.Fatalf("CaptureStart: %v", err)
	}
	s.Feed(Event{Type: EventMouseMove, X: 2, Y: 2})
	if len(moves) != 1 || moves[0] != 2 {
		t.Fatalf("expected one delivered move, got %v", moves)
	}

	if err := s.CaptureStop(); err != nil {
		t.Fatalf("CaptureStop: %v", err)
	}
	s.Feed(Event{Type: EventMouseMove, X: 3, Y: 3})
	if len(moves) != 1 {
		t.Fatalf("event delivered after CaptureStop")
	}
}

func TestStubRecordsInjected(t *testing.T) {
	s := NewStub()

	s.Inject(Event{Type: EventKeyPress, Key: "a"})
	s.Inject(Event{Type: EventKeyRelease, Key: "a"})

	got := s.Injected()
	if len(got) != 2 {
		t.Fatalf("expected 2 injected events, got %d", len(got))
	}
	if got[0].Type != EventKeyPress || got[1].Type != EventKeyRelease {
		t.Errorf("injection order wrong: %+v", got)
	}
}
