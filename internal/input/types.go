// Package input defines the contract between kvmshare and the OS-level
// input provider. Installing hooks and synthesizing events is the provider's
// job; this package only fixes the event vocabulary and the capture/inject
// interfaces the rest of the system is written against.
package input

// EventType identifies a captured or injected input event
type EventType string

const (
	EventMouseMove   EventType = "mouse_move"
	EventMouseClick  EventType = "mouse_click"
	EventMouseScroll EventType = "mouse_scroll"
	EventKeyPress    EventType = "key_press"
	EventKeyRelease  EventType = "key_release"
)

// Mouse button identifiers, matching the wire vocabulary
const (
	ButtonLeft   = "left"
	ButtonRight  = "right"
	ButtonMiddle = "middle"
)

// Event is one keyboard or mouse event in local pixel coordinates. Key names
// are symbolic and stable across platforms ("a", "enter", "ctrl", "super",
// "left", ...).
type Event struct {
	Type    EventType
	X, Y    int
	Button  string
	Pressed bool
	DX, DY  int
	Key     string
}

// Callbacks receives captured events from the provider's hook thread. Each
// callback must return quickly; blocking work belongs on the consumer side.
type Callbacks struct {
	MoveTo     func(x, y int)
	Click      func(button string, pressed bool, x, y int)
	Scroll     func(dx, dy int)
	KeyPress   func(key string)
	KeyRelease func(key string)
}

// Provider captures local input and synthesizes remote input.
type Provider interface {
	// CaptureStart installs hooks and begins delivering events to cb.
	CaptureStart(cb Callbacks) error
	// CaptureStop removes the hooks.
	CaptureStop() error
	// Inject synthesizes ev on the local host.
	Inject(ev Event) error
}

// Geometry is a screen size in pixels.
type Geometry struct {
	Width  int
	Height int
}
