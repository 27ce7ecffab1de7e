// Package session manages the TCP control channel between two hosts:
// handshake and slot assignment, framed message exchange, liveness and
// teardown.
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

var (
	// ErrConnectFailed means every dial attempt to the peer failed.
	ErrConnectFailed = errors.New("session: could not connect to peer")
	// ErrHandshakeTimeout means the peer accepted the connection but never
	// completed the handshake.
	ErrHandshakeTimeout = errors.New("session: handshake timed out")
	// ErrSlotsFull means the server rejected the handshake because both
	// client slots are occupied.
	ErrSlotsFull = errors.New("session: all client slots are occupied")
	// ErrPeerLost means an established session's connection died.
	ErrPeerLost = errors.New("session: peer connection lost")
)

const (
	// sendQueueSize bounds the outbound queue. Control messages block when
	// it is full; input events are dropped instead.
	sendQueueSize = 256

	keepaliveInterval = 500 * time.Millisecond

	// livenessTimeout bounds how long a session tolerates total inbound
	// silence. Peers send a keepalive every keepaliveInterval, so a healthy
	// link never approaches it; a peer that vanished without closing the
	// connection is declared lost once it elapses.
	livenessTimeout = 4 * keepaliveInterval
)

// Session is one established control channel. All outbound traffic goes
// through a single writer goroutine, so messages are delivered in the order
// they were queued. Inbound messages are dispatched sequentially to the
// OnMessage handler.
type Session struct {
	slot         protocol.Slot
	localScreen  input.Geometry
	remoteScreen input.Geometry

	conn net.Conn
	enc  *protocol.Encoder
	dec  *protocol.Decoder

	readTimeout time.Duration

	onMessage func(*Session, *protocol.Message)

	sendCh chan *protocol.Message

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
	wg     sync.WaitGroup
}

func newSession(conn net.Conn, enc *protocol.Encoder, dec *protocol.Decoder,
	slot protocol.Slot, local, remote input.Geometry, readTimeout time.Duration) *Session {
	return &Session{
		slot:         slot,
		localScreen:  local,
		remoteScreen: remote,
		conn:         conn,
		enc:          enc,
		dec:          dec,
		readTimeout:  readTimeout,
		sendCh:       make(chan *protocol.Message, sendQueueSize),
		done:         make(chan struct{}),
	}
}

// Slot returns the slot this session occupies (the peer's position from the
// server's point of view).
func (s *Session) Slot() protocol.Slot { return s.slot }

// RemoteAddr returns the peer's network address.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// LocalScreen returns this host's screen geometry.
func (s *Session) LocalScreen() input.Geometry { return s.localScreen }

// RemoteScreen returns the peer's screen geometry from the handshake.
func (s *Session) RemoteScreen() input.Geometry { return s.remoteScreen }

// OnMessage installs the inbound message handler. Must be called before
// Start; the handler runs on the read loop goroutine, one message at a time.
func (s *Session) OnMessage(fn func(*Session, *protocol.Message)) {
	s.onMessage = fn
}

// Start launches the read and write loops. Call once, after OnMessage.
func (s *Session) Start() {
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
}

// Send queues a control message for delivery. It blocks while the queue is
// full and fails only if the session is dead.
func (s *Session) Send(msg *protocol.Message) error {
	if s.dead() {
		return s.deathErr()
	}
	select {
	case s.sendCh <- msg:
		return nil
	case <-s.done:
		return s.deathErr()
	}
}

// SendInput queues a forwarded input event. Unlike Send it never blocks:
// when the queue is full the event is dropped and SendInput reports false.
func (s *Session) SendInput(msg *protocol.Message) bool {
	if s.dead() {
		return false
	}
	select {
	case s.sendCh <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) dead() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// deathErr never returns nil for a dead session.
func (s *Session) deathErr() error {
	if err := s.Err(); err != nil {
		return err
	}
	return ErrPeerLost
}

// Done is closed when the session is dead.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the reason the session died, or nil while it is alive or
// after a local Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the session down locally. Safe to call more than once.
func (s *Session) Close() {
	s.closeWithErr(nil)
	s.wg.Wait()
}

func (s *Session) closeWithErr(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
	s.mu.Unlock()

	s.conn.Close()
}

// readLoop decodes inbound records. Reads carry a short deadline so the loop
// notices closure promptly; a single timeout is not an error, but silence
// lasting past livenessTimeout means the peer is gone.
func (s *Session) readLoop() {
	defer s.wg.Done()

	lastInbound := time.Now()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		msg, err := s.dec.Decode()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if time.Since(lastInbound) > livenessTimeout {
					s.closeWithErr(fmt.Errorf("%w: no data from %s for %s",
						ErrPeerLost, s.RemoteAddr(), livenessTimeout))
					return
				}
				continue
			}
			var pe *protocol.ParseError
			if errors.As(err, &pe) && pe.Droppable() {
				log.Printf("Session: dropped bad input record from %s: %v", s.RemoteAddr(), pe)
				continue
			}
			s.closeWithErr(fmt.Errorf("%w: %v", ErrPeerLost, err))
			return
		}

		lastInbound = time.Now()
		if msg.Type == protocol.TypePing {
			continue
		}
		if s.onMessage != nil {
			s.onMessage(s, msg)
		}
	}
}

// writeLoop drains the send queue and emits a keepalive when idle.
func (s *Session) writeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.sendCh:
			if err := s.enc.Encode(msg); err != nil {
				s.closeWithErr(fmt.Errorf("%w: %v", ErrPeerLost, err))
				return
			}
		case <-ticker.C:
			if err := s.enc.Encode(&protocol.Message{Type: protocol.TypePing}); err != nil {
				s.closeWithErr(fmt.Errorf("%w: %v", ErrPeerLost, err))
				return
			}
		}
	}
}
