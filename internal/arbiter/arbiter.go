// Package arbiter decides which host owns the user's input at any moment and
// drives the control-plane messages that move ownership around.
package arbiter

import (
	"fmt"
	"log"
	"sync"

	"kvmshare/internal/protocol"
)

// State is the arbiter's view of input ownership.
type State int

const (
	// StateLocal: input stays on this host
	StateLocal State = iota
	// StateForwarding: this host captures input and forwards it to a peer
	StateForwarding
	// StateInjecting: a peer forwards input and this host injects it
	StateInjecting
)

func (s State) String() string {
	switch s {
	case StateLocal:
		return "local"
	case StateForwarding:
		return "forwarding"
	case StateInjecting:
		return "injecting"
	}
	return "unknown"
}

// Peer is the control channel to one connected host. Send is the reliable
// control-plane path; SendInput is the droppable input-event path.
type Peer interface {
	Slot() protocol.Slot
	Send(*protocol.Message) error
	SendInput(*protocol.Message) bool
}

// PeerSource exposes the live peers by slot.
type PeerSource interface {
	PeerFor(slot protocol.Slot) Peer
	Peers() []Peer
}

// Callbacks are invoked on ownership changes, never while the arbiter's lock
// is held. OnState fires on every transition; peer is the counterparty, nil
// when returning to local. OnControlGained fires when a peer hands this host
// its input, with the normalized entry coordinate for cursor placement.
type Callbacks struct {
	OnState         func(state State, peer Peer)
	OnControlGained func(peer Peer, x, y float64)
}

// Arbiter is the ownership state machine. At most one peer is active at a
// time; control messages from any other peer are rejected.
type Arbiter struct {
	peers      PeerSource
	callbacks  Callbacks
	edgeSwitch bool

	mu     sync.Mutex
	state  State
	active Peer

	// last observed normalized X positions, for edge-crossing detection
	lastLocalX   float64
	lastInboundX float64
}

// New creates an arbiter in StateLocal. edgeSwitch enables switching by
// pushing the cursor against a screen edge; hotkey switching works either
// way.
func New(peers PeerSource, edgeSwitch bool, callbacks Callbacks) *Arbiter {
	return &Arbiter{
		peers:      peers,
		callbacks:  callbacks,
		edgeSwitch: edgeSwitch,
		state:      StateLocal,
		lastLocalX: 0.5,
	}
}

// State returns the current ownership state.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Active returns the counterparty peer, nil in StateLocal.
func (a *Arbiter) Active() Peer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// ObserveLocalMove feeds a locally captured cursor position, normalized to
// [0,1]. In StateLocal it watches for an edge crossing and hands control to
// the peer on that side. Crossing requires the previous position to be
// inside the edge, so holding the cursor against the edge fires exactly
// once.
func (a *Arbiter) ObserveLocalMove(normX, normY float64) {
	a.mu.Lock()
	if a.state != StateLocal {
		a.mu.Unlock()
		return
	}

	prev := a.lastLocalX
	a.lastLocalX = normX

	var slot protocol.Slot
	switch {
	case a.edgeSwitch && prev < 1.0 && normX >= 1.0:
		slot = protocol.SlotRight
	case a.edgeSwitch && prev > 0.0 && normX <= 0.0:
		slot = protocol.SlotLeft
	default:
		a.mu.Unlock()
		return
	}

	peer := a.peers.PeerFor(slot)
	if peer == nil {
		a.mu.Unlock()
		return
	}

	notify := a.handOffLocked(peer, slot, normY)
	a.mu.Unlock()
	notify()
}

// SwitchToSlot hands control to the peer in the given slot, entering its
// screen at mid-height. Used by the switch hotkeys.
func (a *Arbiter) SwitchToSlot(slot protocol.Slot) error {
	a.mu.Lock()
	if a.state != StateLocal {
		a.mu.Unlock()
		return fmt.Errorf("arbiter: cannot switch while %s", a.state)
	}
	peer := a.peers.PeerFor(slot)
	if peer == nil {
		a.mu.Unlock()
		return fmt.Errorf("arbiter: no peer in %s slot", slot)
	}
	notify := a.handOffLocked(peer, slot, 0.5)
	a.mu.Unlock()
	notify()
	return nil
}

// SwitchAny hands control to some connected peer, preferring the one in the
// given slot. With one peer connected the slot does not matter.
func (a *Arbiter) SwitchAny(preferred protocol.Slot) error {
	if a.peers.PeerFor(preferred) != nil {
		return a.SwitchToSlot(preferred)
	}
	for _, peer := range a.peers.Peers() {
		return a.SwitchToSlot(peer.Slot())
	}
	return fmt.Errorf("arbiter: no peers connected")
}

// handOffLocked moves to StateForwarding and emits the control_request. The
// entry X is the edge of the peer's screen adjacent to ours. Callers hold
// a.mu; the returned func fires callbacks and must be called after unlock.
func (a *Arbiter) handOffLocked(peer Peer, slot protocol.Slot, normY float64) func() {
	entryX := 0.0 // right-slot peer is entered from its left edge
	if slot == protocol.SlotLeft {
		entryX = 1.0
	}

	a.state = StateForwarding
	a.active = peer

	cb := a.callbacks.OnState
	return func() {
		if err := peer.Send(&protocol.Message{
			Type: protocol.TypeControlRequest,
			X:    entryX,
			Y:    normY,
		}); err != nil {
			log.Printf("Arbiter: control handoff to %s slot failed: %v", slot, err)
			a.PeerClosed(peer)
			return
		}
		log.Printf("Arbiter: forwarding input to %s slot", slot)
		if cb != nil {
			cb(StateForwarding, peer)
		}
	}
}

// HandleControl processes a control-plane message from a peer. Messages that
// would violate single-ownership are logged and dropped.
func (a *Arbiter) HandleControl(peer Peer, msg *protocol.Message) {
	var notify func()

	a.mu.Lock()
	switch msg.Type {
	case protocol.TypeControlRequest:
		switch {
		case a.state == StateInjecting && a.active == peer:
			// duplicate handoff, nothing to change
		case a.state == StateLocal:
			a.state = StateInjecting
			a.active = peer
			a.lastInboundX = msg.X
			onState := a.callbacks.OnState
			onGained := a.callbacks.OnControlGained
			x, y := msg.X, msg.Y
			notify = func() {
				log.Printf("Arbiter: injecting input from %s slot peer", peer.Slot())
				if onGained != nil {
					onGained(peer, x, y)
				}
				if onState != nil {
					onState(StateInjecting, peer)
				}
			}
		default:
			log.Printf("Arbiter: rejected control request while %s", a.state)
		}

	case protocol.TypeControlRelease:
		if a.state == StateInjecting && a.active == peer {
			notify = a.toLocalLocked()
		}

	case protocol.TypeReturnToServer:
		if a.state == StateForwarding && a.active == peer {
			notify = a.toLocalLocked()
		}
	}
	a.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// ObserveInboundMove feeds a forwarded cursor position while injecting and
// reports whether it should be injected. Crossing the edge that faces the
// controller returns control instead: a right-slot host returns across its
// left edge, a left-slot host across its right edge.
func (a *Arbiter) ObserveInboundMove(peer Peer, normX, normY float64) bool {
	a.mu.Lock()
	if a.state != StateInjecting || a.active != peer {
		a.mu.Unlock()
		return false
	}

	prev := a.lastInboundX
	a.lastInboundX = normX

	returned := false
	switch peer.Slot() {
	case protocol.SlotRight:
		returned = prev > 0.0 && normX <= 0.0
	case protocol.SlotLeft:
		returned = prev < 1.0 && normX >= 1.0
	}
	if !returned {
		a.mu.Unlock()
		return true
	}

	notify := a.toLocalLocked()
	a.mu.Unlock()

	if err := peer.Send(&protocol.Message{Type: protocol.TypeReturnToServer}); err != nil {
		log.Printf("Arbiter: return notification failed: %v", err)
	}
	notify()
	return false
}

// ReturnToLocal takes input back by hotkey, from either side of a handoff.
func (a *Arbiter) ReturnToLocal() {
	a.mu.Lock()
	if a.state == StateLocal {
		a.mu.Unlock()
		return
	}
	state := a.state
	peer := a.active
	notify := a.toLocalLocked()
	a.mu.Unlock()

	release := protocol.TypeControlRelease
	if state == StateInjecting {
		release = protocol.TypeReturnToServer
	}
	if err := peer.Send(&protocol.Message{Type: release}); err != nil {
		log.Printf("Arbiter: release to peer failed: %v", err)
	}
	notify()
}

// PeerClosed reverts to local if the dead peer was the active counterparty.
// A vanished controller must never leave this host deaf to its own input.
func (a *Arbiter) PeerClosed(peer Peer) {
	a.mu.Lock()
	if a.state == StateLocal || a.active != peer {
		a.mu.Unlock()
		return
	}
	notify := a.toLocalLocked()
	a.mu.Unlock()

	log.Println("Arbiter: active peer lost, input stays local")
	notify()
}

// toLocalLocked resets to StateLocal. Callers hold a.mu; the returned func
// fires callbacks and must be called after unlock.
func (a *Arbiter) toLocalLocked() func() {
	a.state = StateLocal
	a.active = nil
	a.lastLocalX = 0.5
	cb := a.callbacks.OnState
	return func() {
		log.Println("Arbiter: input is local")
		if cb != nil {
			cb(StateLocal, nil)
		}
	}
}
