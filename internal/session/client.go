package session

import (
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"kvmshare/internal/input"
	"kvmshare/internal/protocol"
)

// DialConfig configures the connecting side of the control channel.
type DialConfig struct {
	// Addr is the server's host:port
	Addr string
	// RequestedSlot is the preferred slot; empty means no preference
	RequestedSlot protocol.Slot
	// LocalScreen is this host's screen geometry, sent in the handshake
	LocalScreen input.Geometry
	// Attempts is the number of connect attempts before giving up
	Attempts uint
	// Interval is the fixed delay between attempts
	Interval time.Duration
	// HandshakeTimeout bounds each attempt, connect included
	HandshakeTimeout time.Duration
	// ReadTimeout is the per-read deadline on the established session
	ReadTimeout time.Duration
}

// Dial connects to a server, retrying on a fixed interval until Attempts is
// exhausted. An explicit rejection (both slots occupied) is terminal and
// returned as ErrSlotsFull without further attempts. The returned session is
// not started; install OnMessage and call Start.
func Dial(cfg DialConfig) (*Session, error) {
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Interval), uint64(cfg.Attempts-1))

	var sess *Session
	attempt := 0
	op := func() error {
		attempt++
		s, err := dialOnce(cfg)
		if err != nil {
			var perm *backoff.PermanentError
			if !errors.As(err, &perm) {
				log.Printf("Session: connect attempt %d/%d to %s failed: %v",
					attempt, cfg.Attempts, cfg.Addr, err)
			}
			return err
		}
		sess = s
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, ErrSlotsFull) {
			return nil, ErrSlotsFull
		}
		return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrConnectFailed, cfg.Addr, cfg.Attempts, err)
	}
	return sess, nil
}

func dialOnce(cfg DialConfig) (*Session, error) {
	conn, err := net.DialTimeout("tcp", cfg.Addr, cfg.HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))

	enc := protocol.NewEncoder(conn)
	dec := protocol.NewDecoder(conn)

	hello := &protocol.Message{
		Type:          protocol.TypeHandshake,
		ScreenWidth:   cfg.LocalScreen.Width,
		ScreenHeight:  cfg.LocalScreen.Height,
		RequestedSlot: cfg.RequestedSlot,
	}
	if err := enc.Encode(hello); err != nil {
		conn.Close()
		return nil, err
	}

	ack, err := dec.Decode()
	if err != nil {
		conn.Close()
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrHandshakeTimeout
		}
		return nil, err
	}
	if ack.Type != protocol.TypeHandshakeAck {
		conn.Close()
		return nil, fmt.Errorf("session: expected handshake ack, got %s", ack.Type)
	}
	if ack.Status != protocol.StatusOK {
		conn.Close()
		return nil, backoff.Permanent(ErrSlotsFull)
	}

	conn.SetDeadline(time.Time{})

	remote := input.Geometry{Width: ack.ScreenWidth, Height: ack.ScreenHeight}
	sess := newSession(conn, enc, dec, ack.AssignedSlot, cfg.LocalScreen, remote, cfg.ReadTimeout)
	log.Printf("Session: connected to %s in %s slot (%dx%d)",
		cfg.Addr, sess.Slot(), remote.Width, remote.Height)
	return sess, nil
}
