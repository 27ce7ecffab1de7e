package input

import "sync"

// Stub is an in-memory Provider. It records injected events and lets the
// caller feed synthetic captures, which makes it usable both in tests and on
// platforms without a real provider.
type Stub struct {
	mu        sync.Mutex
	capturing bool
	cb        Callbacks
	injected  []Event
}

// NewStub returns an empty Stub provider.
func NewStub() *Stub {
	return &Stub{}
}

// CaptureStart records cb and marks capture active.
func (s *Stub) CaptureStart(cb Callbacks) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
	s.capturing = true
	return nil
}

// CaptureStop marks capture inactive.
func (s *Stub) CaptureStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = false
	return nil
}

// Inject records ev.
func (s *Stub) Inject(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injected = append(s.injected, ev)
	return nil
}

// Capturing reports whether capture is active.
func (s *Stub) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// Injected returns a copy of all events injected so far.
func (s *Stub) Injected() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.injected))
	copy(out, s.injected)
	return out
}

// Feed delivers a synthetic captured event through the registered callbacks,
// the way a hook thread would. Events fed while capture is stopped are lost.
func (s *Stub) Feed(ev Event) {
	s.mu.Lock()
	cb := s.cb
	active := s.capturing
	s.mu.Unlock()

	if !active {
		return
	}

	switch ev.Type {
	case EventMouseMove:
		if cb.MoveTo != nil {
			cb.MoveTo(ev.X, ev.Y)
		}
	case EventMouseClick:
		if cb.Click != nil {
			cb.Click(ev.Button, ev.Pressed, ev.X, ev.Y)
		}
	case EventMouseScroll:
		if cb.Scroll != nil {
			cb.Scroll(ev.DX, ev.DY)
		}
	case EventKeyPress:
		if cb.KeyPress != nil {
			cb.KeyPress(ev.Key)
		}
	case EventKeyRelease:
		if cb.KeyRelease != nil {
			cb.KeyRelease(ev.Key)
		}
	}
}
