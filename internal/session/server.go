package session

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"kvmshare/internal/input"
	"kvmshare/internal/protocol"
)

// ServerConfig configures the accepting side of the control channel.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":50506"
	Addr string
	// LocalScreen is this host's screen geometry, sent in the handshake ack
	LocalScreen input.Geometry
	// HandshakeTimeout bounds the time between accept and a completed
	// handshake
	HandshakeTimeout time.Duration
	// ReadTimeout is the per-read deadline on established sessions
	ReadTimeout time.Duration
	// OnSession is called with each accepted session before it starts;
	// install the message handler there
	OnSession func(*Session)
}

// Server accepts client connections and assigns each to a free slot. At most
// one client per slot; a third connection is acknowledged with a rejection
// and closed.
type Server struct {
	cfg      ServerConfig
	listener *net.TCPListener

	mu      sync.Mutex
	slots   map[protocol.Slot]*Session
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewServer creates a server; call Start to bind and accept.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg:   cfg,
		slots: make(map[protocol.Slot]*Session),
	}
}

// Start binds the listen address and launches the accept loop.
func (sv *Server) Start() error {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if sv.running {
		return nil
	}

	addr, err := net.ResolveTCPAddr("tcp", sv.cfg.Addr)
	if err != nil {
		return fmt.Errorf("session: resolve %s: %w", sv.cfg.Addr, err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("session: bind %s: %w", sv.cfg.Addr, err)
	}
	sv.listener = listener
	sv.running = true
	sv.done = make(chan struct{})

	sv.wg.Add(1)
	go sv.acceptLoop()

	log.Printf("Session: listening on %s", listener.Addr())
	return nil
}

// Stop closes the listener and every live session.
func (sv *Server) Stop() {
	sv.mu.Lock()
	if !sv.running {
		sv.mu.Unlock()
		return
	}
	sv.running = false
	close(sv.done)
	listener := sv.listener
	sessions := make([]*Session, 0, len(sv.slots))
	for _, sess := range sv.slots {
		sessions = append(sessions, sess)
	}
	sv.mu.Unlock()

	listener.Close()
	for _, sess := range sessions {
		sess.Close()
	}
	sv.wg.Wait()
}

// Port returns the bound TCP port.
func (sv *Server) Port() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.listener == nil {
		return 0
	}
	return sv.listener.Addr().(*net.TCPAddr).Port
}

// SessionFor returns the live session occupying the slot, or nil.
func (sv *Server) SessionFor(slot protocol.Slot) *Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.slots[slot]
}

// Sessions returns all live sessions.
func (sv *Server) Sessions() []*Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]*Session, 0, len(sv.slots))
	for _, sess := range sv.slots {
		out = append(out, sess)
	}
	return out
}

func (sv *Server) stopping() bool {
	select {
	case <-sv.done:
		return true
	default:
		return false
	}
}

func (sv *Server) acceptLoop() {
	defer sv.wg.Done()

	for {
		sv.listener.SetDeadline(time.Now().Add(1 * time.Second))
		conn, err := sv.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if sv.stopping() {
					return
				}
				continue
			}
			if errors.Is(err, net.ErrClosed) || sv.stopping() {
				return
			}
			log.Printf("Session: accept failed: %v", err)
			continue
		}

		sv.wg.Add(1)
		go func() {
			defer sv.wg.Done()
			sv.handshake(conn)
		}()
	}
}

// handshake runs the accept-side handshake: read the client's hello, pick a
// slot, acknowledge or reject.
func (sv *Server) handshake(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(sv.cfg.HandshakeTimeout))

	enc := protocol.NewEncoder(conn)
	dec := protocol.NewDecoder(conn)

	msg, err := dec.Decode()
	if err != nil {
		log.Printf("Session: handshake from %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	if msg.Type != protocol.TypeHandshake {
		log.Printf("Session: %s sent %s before handshake", conn.RemoteAddr(), msg.Type)
		conn.Close()
		return
	}

	remote := input.Geometry{Width: msg.ScreenWidth, Height: msg.ScreenHeight}

	sv.mu.Lock()
	slot, ok := sv.pickSlotLocked(msg.RequestedSlot)
	var sess *Session
	if ok {
		sess = newSession(conn, enc, dec, slot, sv.cfg.LocalScreen, remote, sv.cfg.ReadTimeout)
		sv.slots[slot] = sess
	}
	sv.mu.Unlock()

	if !ok {
		enc.Encode(&protocol.Message{
			Type:   protocol.TypeHandshakeAck,
			Status: protocol.StatusRejected,
		})
		conn.Close()
		log.Printf("Session: rejected %s, both slots occupied", conn.RemoteAddr())
		return
	}

	ack := &protocol.Message{
		Type:         protocol.TypeHandshakeAck,
		Status:       protocol.StatusOK,
		AssignedSlot: slot,
		ScreenWidth:  sv.cfg.LocalScreen.Width,
		ScreenHeight: sv.cfg.LocalScreen.Height,
	}
	if err := enc.Encode(ack); err != nil {
		log.Printf("Session: handshake ack to %s failed: %v", conn.RemoteAddr(), err)
		sv.freeSlot(slot, sess)
		conn.Close()
		return
	}

	conn.SetDeadline(time.Time{})

	// release the slot once the session dies, whatever the cause
	go func() {
		<-sess.Done()
		sv.freeSlot(slot, sess)
		log.Printf("Session: client in %s slot disconnected", slot)
	}()

	if sv.cfg.OnSession != nil {
		sv.cfg.OnSession(sess)
	}
	sess.Start()
	log.Printf("Session: client %s connected in %s slot (%dx%d)",
		conn.RemoteAddr(), slot, remote.Width, remote.Height)
}

// pickSlotLocked chooses a slot: the requested one if free, otherwise right
// before left. Callers hold sv.mu.
func (sv *Server) pickSlotLocked(requested protocol.Slot) (protocol.Slot, bool) {
	if requested == protocol.SlotLeft || requested == protocol.SlotRight {
		if sv.slots[requested] == nil {
			return requested, true
		}
	}
	if sv.slots[protocol.SlotRight] == nil {
		return protocol.SlotRight, true
	}
	if sv.slots[protocol.SlotLeft] == nil {
		return protocol.SlotLeft, true
	}
	return "", false
}

func (sv *Server) freeSlot(slot protocol.Slot, sess *Session) {
	sv.mu.Lock()
	if sv.slots[slot] == sess {
		delete(sv.slots, slot)
	}
	sv.mu.Unlock()
}
