// Package protocol defines the wire messages exchanged between kvmshare
// hosts: binary UDP discovery beacons and newline-framed JSON records on the
// TCP control channel.
package protocol

// MessageType tags a control-channel record
type MessageType string

const (
	// TypeHandshake is sent by the connecting side immediately after the
	// TCP connect, carrying its screen geometry and slot preference
	TypeHandshake MessageType = "handshake"

	// TypeHandshakeAck is the accepting side's reply, carrying its own
	// geometry and whether the connection was accepted
	TypeHandshakeAck MessageType = "handshake_ack"

	// TypeControlRequest hands control to the receiver; X/Y carry the
	// normalized crossing coordinate for cursor placement
	TypeControlRequest MessageType = "control_request"

	// TypeControlRelease returns control to the sender's controller
	TypeControlRelease MessageType = "control_release"

	// TypeReturnToServer is the slot-model variant of control_release,
	// emitted autonomously by the controlled side on an edge return
	TypeReturnToServer MessageType = "return_to_server"

	// TypeMouseMove carries the sender's cursor as a fraction of its
	// screen on each axis
	TypeMouseMove MessageType = "mouse_move"

	// TypeMouseClick carries a button press or release
	TypeMouseClick MessageType = "mouse_click"

	// TypeMouseScroll carries scroll deltas
	TypeMouseScroll MessageType = "mouse_scroll"

	// TypeKeyPress and TypeKeyRelease carry a symbolic key name
	TypeKeyPress   MessageType = "key_press"
	TypeKeyRelease MessageType = "key_release"

	// TypePing is an idle keepalive; receivers ignore it
	TypePing MessageType = "ping"
)

// Slot is the named position a connected client occupies on the server.
// An empty slot in a handshake means "no preference".
type Slot string

const (
	SlotLeft  Slot = "left"
	SlotRight Slot = "right"
)

// Handshake ack statuses
const (
	StatusOK       = "ok"
	StatusRejected = "rejected"
)

// Mouse button identifiers, stable across platforms
const (
	ButtonLeft   = "left"
	ButtonRight  = "right"
	ButtonMiddle = "middle"
)

// Message is the control-channel record. The Type tag selects which fields
// are meaningful; unused fields stay at their zero value and are omitted on
// the wire.
type Message struct {
	Type MessageType `json:"type"`

	// handshake / handshake_ack
	ScreenWidth   int    `json:"screen_width,omitempty"`
	ScreenHeight  int    `json:"screen_height,omitempty"`
	RequestedSlot Slot   `json:"requested_slot,omitempty"`
	AssignedSlot  Slot   `json:"assigned_slot,omitempty"`
	Status        string `json:"status,omitempty"`

	// control_request, mouse_move, mouse_click: normalized [0,1] position
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	// mouse_click
	Button  string `json:"button,omitempty"`
	Pressed bool   `json:"pressed,omitempty"`

	// mouse_scroll
	DX int `json:"dx,omitempty"`
	DY int `json:"dy,omitempty"`

	// key_press / key_release
	Key string `json:"key,omitempty"`
}

// IsInputEvent reports whether the message carries a forwarded input event,
// as opposed to a control-plane signal. Input events may be dropped under
// backpressure or on a parse error; control-plane records may not.
func (t MessageType) IsInputEvent() bool {
	switch t {
	case TypeMouseMove, TypeMouseClick, TypeMouseScroll, TypeKeyPress, TypeKeyRelease:
		return true
	}
	return false
}

// Known reports whether t is part of the closed message set.
func (t MessageType) Known() bool {
	switch t {
	case TypeHandshake, TypeHandshakeAck, TypeControlRequest, TypeControlRelease,
		TypeReturnToServer, TypeMouseMove, TypeMouseClick, TypeMouseScroll,
		TypeKeyPress, TypeKeyRelease, TypePing:
		return true
	}
	return false
}
