// Package redirect moves input events between the OS provider and the
// network: captured local events are normalized and forwarded to the peer
// that owns them, inbound events are denormalized and injected.
package redirect

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"kvmshare/internal/arbiter"
	"kvmshare/internal/hotkey"
	"kvmshare/internal/input"
	"kvmshare/internal/protocol"
)

// eventQueueSize bounds the capture queue. Hook callbacks must never block,
// so a full queue drops the event instead.
const eventQueueSize = 256

// Redirector sits between the input provider and the arbiter. It owns the
// capture queue and is the only caller of Provider.Inject.
type Redirector struct {
	provider input.Provider
	arb      *arbiter.Arbiter
	hotkeys  *hotkey.Manager
	local    input.Geometry

	events  chan input.Event
	dropped atomic.Uint64

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a redirector. hotkeys may be nil when no chords are bound.
func New(provider input.Provider, arb *arbiter.Arbiter, hotkeys *hotkey.Manager, local input.Geometry) *Redirector {
	return &Redirector{
		provider: provider,
		arb:      arb,
		hotkeys:  hotkeys,
		local:    local,
		events:   make(chan input.Event, eventQueueSize),
	}
}

// Start installs the capture hooks and launches the processing loop.
func (r *Redirector) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if r.local.Width <= 1 || r.local.Height <= 1 {
		return fmt.Errorf("redirect: unusable screen geometry %dx%d", r.local.Width, r.local.Height)
	}

	err := r.provider.CaptureStart(input.Callbacks{
		MoveTo: func(x, y int) {
			r.enqueue(input.Event{Type: input.EventMouseMove, X: x, Y: y})
		},
		Click: func(button string, pressed bool, x, y int) {
			r.enqueue(input.Event{Type: input.EventMouseClick, Button: button, Pressed: pressed, X: x, Y: y})
		},
		Scroll: func(dx, dy int) {
			r.enqueue(input.Event{Type: input.EventMouseScroll, DX: dx, DY: dy})
		},
		KeyPress: func(key string) {
			r.enqueue(input.Event{Type: input.EventKeyPress, Key: key, Pressed: true})
		},
		KeyRelease: func(key string) {
			r.enqueue(input.Event{Type: input.EventKeyRelease, Key: key})
		},
	})
	if err != nil {
		return fmt.Errorf("redirect: capture start: %w", err)
	}

	r.running = true
	r.done = make(chan struct{})
	r.wg.Add(1)
	go r.run()
	return nil
}

// Stop removes the hooks and stops the processing loop.
func (r *Redirector) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.done)
	r.mu.Unlock()

	r.provider.CaptureStop()
	r.wg.Wait()
}

// Dropped returns the number of captured events discarded under
// backpressure.
func (r *Redirector) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Redirector) enqueue(ev input.Event) {
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

func (r *Redirector) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case ev := <-r.events:
			r.handleLocal(ev)
		}
	}
}

// handleLocal processes one captured event: edge tracking first, then
// forwarding if a peer currently owns our input.
func (r *Redirector) handleLocal(ev input.Event) {
	switch ev.Type {
	case input.EventMouseMove:
		nx, ny := r.normalize(ev.X, ev.Y)
		wasLocal := r.arb.State() == arbiter.StateLocal
		r.arb.ObserveLocalMove(nx, ny)
		if wasLocal {
			// a move that just triggered a handoff is the crossing itself,
			// not input for the peer
			return
		}
		if peer, ok := r.forwardTarget(); ok {
			peer.SendInput(&protocol.Message{Type: protocol.TypeMouseMove, X: nx, Y: ny})
		}

	case input.EventMouseClick:
		if peer, ok := r.forwardTarget(); ok {
			nx, ny := r.normalize(ev.X, ev.Y)
			peer.SendInput(&protocol.Message{
				Type:    protocol.TypeMouseClick,
				Button:  ev.Button,
				Pressed: ev.Pressed,
				X:       nx,
				Y:       ny,
			})
		}

	case input.EventMouseScroll:
		if peer, ok := r.forwardTarget(); ok {
			peer.SendInput(&protocol.Message{Type: protocol.TypeMouseScroll, DX: ev.DX, DY: ev.DY})
		}

	case input.EventKeyPress, input.EventKeyRelease:
		if r.hotkeys != nil {
			r.hotkeys.UpdateState(ev.Key, ev.Type == input.EventKeyPress)
		}
		if peer, ok := r.forwardTarget(); ok {
			msgType := protocol.TypeKeyPress
			if ev.Type == input.EventKeyRelease {
				msgType = protocol.TypeKeyRelease
			}
			peer.SendInput(&protocol.Message{Type: msgType, Key: ev.Key})
		}
	}
}

func (r *Redirector) forwardTarget() (arbiter.Peer, bool) {
	if r.arb.State() != arbiter.StateForwarding {
		return nil, false
	}
	peer := r.arb.Active()
	return peer, peer != nil
}

// HandleRemote injects one inbound input event from peer. Events from a peer
// that does not own our input are discarded.
func (r *Redirector) HandleRemote(peer arbiter.Peer, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeMouseMove:
		if r.arb.ObserveInboundMove(peer, msg.X, msg.Y) {
			r.injectMove(msg.X, msg.Y)
		}

	case protocol.TypeMouseClick:
		if !r.injectingFrom(peer) {
			return
		}
		x, y := r.denormalize(msg.X, msg.Y)
		r.inject(input.Event{
			Type:    input.EventMouseClick,
			Button:  msg.Button,
			Pressed: msg.Pressed,
			X:       x,
			Y:       y,
		})

	case protocol.TypeMouseScroll:
		if !r.injectingFrom(peer) {
			return
		}
		r.inject(input.Event{Type: input.EventMouseScroll, DX: msg.DX, DY: msg.DY})

	case protocol.TypeKeyPress:
		if !r.injectingFrom(peer) {
			return
		}
		r.inject(input.Event{Type: input.EventKeyPress, Key: msg.Key, Pressed: true})

	case protocol.TypeKeyRelease:
		if !r.injectingFrom(peer) {
			return
		}
		r.inject(input.Event{Type: input.EventKeyRelease, Key: msg.Key})
	}
}

// PlaceCursor warps the local cursor to a normalized position. Used to seat
// the cursor at the crossing point when a peer hands us its input.
func (r *Redirector) PlaceCursor(normX, normY float64) {
	r.injectMove(normX, normY)
}

func (r *Redirector) injectingFrom(peer arbiter.Peer) bool {
	return r.arb.State() == arbiter.StateInjecting && r.arb.Active() == peer
}

func (r *Redirector) injectMove(normX, normY float64) {
	x, y := r.denormalize(normX, normY)
	r.inject(input.Event{Type: input.EventMouseMove, X: x, Y: y})
}

func (r *Redirector) inject(ev input.Event) {
	if err := r.provider.Inject(ev); err != nil {
		log.Printf("Redirect: inject %s failed: %v", ev.Type, err)
	}
}

// normalize maps local pixels to [0,1] on each axis.
func (r *Redirector) normalize(x, y int) (float64, float64) {
	nx := clamp01(float64(x) / float64(r.local.Width-1))
	ny := clamp01(float64(y) / float64(r.local.Height-1))
	return nx, ny
}

// denormalize maps [0,1] back to local pixels.
func (r *Redirector) denormalize(normX, normY float64) (int, int) {
	x := int(clamp01(normX)*float64(r.local.Width-1) + 0.5)
	y := int(clamp01(normY)*float64(r.local.Height-1) + 0.5)
	return x, y
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
