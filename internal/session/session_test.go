package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"kvmshare/internal/input"
	"kvmshare/internal/protocol"
)

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func startTestServer(t *testing.T, onSession func(*Session)) *Server {
	t.Helper()
	sv := NewServer(ServerConfig{
		Addr:             "127.0.0.1:0",
		LocalScreen:      input.Geometry{Width: 2560, Height: 1440},
		HandshakeTimeout: 2 * time.Second,
		ReadTimeout:      200 * time.Millisecond,
		OnSession:        onSession,
	})
	if err := sv.Start(); err != nil {
		t.Fatalf("server start failed: %v", err)
	}
	t.Cleanup(sv.Stop)
	return sv
}

func dialTestServer(t *testing.T, sv *Server, slot protocol.Slot) (*Session, error) {
	t.Helper()
	return Dial(DialConfig{
		Addr:             fmt.Sprintf("127.0.0.1:%d", sv.Port()),
		RequestedSlot:    slot,
		LocalScreen:      input.Geometry{Width: 1920, Height: 1080},
		Attempts:         1,
		Interval:         10 * time.Millisecond,
		HandshakeTimeout: 2 * time.Second,
		ReadTimeout:      200 * time.Millisecond,
	})
}

func TestHandshakeAssignsRequestedSlot(t *testing.T) {
	var mu sync.Mutex
	var serverSide *Session
	sv := startTestServer(t, func(s *Session) {
		mu.Lock()
		serverSide = s
		mu.Unlock()
	})

	sess, err := dialTestServer(t, sv, protocol.SlotLeft)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer sess.Close()
	sess.Start()

	if sess.Slot() != protocol.SlotLeft {
		t.Errorf("requested left slot, got %s", sess.Slot())
	}
	if g := sess.RemoteScreen(); g.Width != 2560 || g.Height != 1440 {
		t.Errorf("client did not learn server geometry: %+v", g)
	}

	if !waitForCondition(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return serverSide != nil
	}) {
		t.Fatal("server never surfaced the session")
	}
	mu.Lock()
	ss := serverSide
	mu.Unlock()
	if g := ss.RemoteScreen(); g.Width != 1920 || g.Height != 1080 {
		t.Errorf("server did not learn client geometry: %+v", g)
	}
	if ss.Slot() != protocol.SlotLeft {
		t.Errorf("server side slot = %s, want left", ss.Slot())
	}
}

func TestSlotAssignmentPrefersRightThenLeft(t *testing.T) {
	sv := startTestServer(t, nil)

	first, err := dialTestServer(t, sv, "")
	if err != nil {
		t.Fatalf("first dial failed: %v", err)
	}
	defer first.Close()
	first.Start()
	if first.Slot() != protocol.SlotRight {
		t.Errorf("first client got %s, want right", first.Slot())
	}

	second, err := dialTestServer(t, sv, "")
	if err != nil {
		t.Fatalf("second dial failed: %v", err)
	}
	defer second.Close()
	second.Start()
	if second.Slot() != protocol.SlotLeft {
		t.Errorf("second client got %s, want left", second.Slot())
	}
}

func TestThirdConnectionRejected(t *testing.T) {
	sv := startTestServer(t, nil)

	first, err := dialTestServer(t, sv, "")
	if err != nil {
		t.Fatalf("first dial failed: %v", err)
	}
	defer first.Close()
	first.Start()

	second, err := dialTestServer(t, sv, "")
	if err != nil {
		t.Fatalf("second dial failed: %v", err)
	}
	defer second.Close()
	second.Start()

	_, err = dialTestServer(t, sv, "")
	if !errors.Is(err, ErrSlotsFull) {
		t.Fatalf("third dial: got %v, want ErrSlotsFull", err)
	}

	// the rejection must not disturb the established sessions
	select {
	case <-first.Done():
		t.Error("first session died after a rejected third connection")
	case <-second.Done():
		t.Error("second session died after a rejected third connection")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestMessagesArriveInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []float64
	sv := startTestServer(t, func(s *Session) {
		s.OnMessage(func(_ *Session, msg *protocol.Message) {
			if msg.Type == protocol.TypeMouseMove {
				mu.Lock()
				got = append(got, msg.X)
				mu.Unlock()
			}
		})
	})

	sess, err := dialTestServer(t, sv, "")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer sess.Close()
	sess.Start()

	const n = 100
	for i := 0; i < n; i++ {
		if err := sess.Send(&protocol.Message{
			Type: protocol.TypeMouseMove,
			X:    float64(i),
		}); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	if !waitForCondition(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}) {
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("received %d of %d messages", len(got), n)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, x := range got {
		if x != float64(i) {
			t.Fatalf("message %d out of order: got x=%v", i, x)
		}
	}
}

func TestPeerLossClosesSessionAndFreesSlot(t *testing.T) {
	sv := startTestServer(t, nil)

	sess, err := dialTestServer(t, sv, protocol.SlotRight)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	sess.Start()

	if !waitForCondition(t, 2*time.Second, func() bool {
		return sv.SessionFor(protocol.SlotRight) != nil
	}) {
		t.Fatal("server never registered the session")
	}
	serverSide := sv.SessionFor(protocol.SlotRight)

	// abrupt death, not a clean shutdown
	sess.conn.Close()

	select {
	case <-serverSide.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("server side did not notice peer loss")
	}
	if !errors.Is(serverSide.Err(), ErrPeerLost) {
		t.Errorf("got %v, want ErrPeerLost", serverSide.Err())
	}

	if !waitForCondition(t, 2*time.Second, func() bool {
		return sv.SessionFor(protocol.SlotRight) == nil
	}) {
		t.Fatal("slot was not freed after peer loss")
	}

	// the freed slot is reusable
	again, err := dialTestServer(t, sv, protocol.SlotRight)
	if err != nil {
		t.Fatalf("redial failed: %v", err)
	}
	defer again.Close()
	again.Start()
	if again.Slot() != protocol.SlotRight {
		t.Errorf("redial got %s, want right", again.Slot())
	}
}

func TestSilentPeerDeclaredLost(t *testing.T) {
	sv := startTestServer(t, nil)

	// a raw connection that handshakes and then goes quiet, as a host does
	// after a cable pull or network partition
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", sv.Port()))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	enc := protocol.NewEncoder(conn)
	dec := protocol.NewDecoder(conn)
	if err := enc.Encode(&protocol.Message{
		Type:         protocol.TypeHandshake,
		ScreenWidth:  1920,
		ScreenHeight: 1080,
	}); err != nil {
		t.Fatalf("handshake send failed: %v", err)
	}
	ack, err := dec.Decode()
	if err != nil || ack.Type != protocol.TypeHandshakeAck || ack.Status != protocol.StatusOK {
		t.Fatalf("handshake ack: %v %+v", err, ack)
	}

	if !waitForCondition(t, 2*time.Second, func() bool {
		return sv.SessionFor(protocol.SlotRight) != nil
	}) {
		t.Fatal("server never registered the session")
	}
	serverSide := sv.SessionFor(protocol.SlotRight)

	select {
	case <-serverSide.Done():
	case <-time.After(livenessTimeout + 2*time.Second):
		t.Fatal("silent peer was never declared lost")
	}
	if !errors.Is(serverSide.Err(), ErrPeerLost) {
		t.Errorf("got %v, want ErrPeerLost", serverSide.Err())
	}

	if !waitForCondition(t, 2*time.Second, func() bool {
		return sv.SessionFor(protocol.SlotRight) == nil
	}) {
		t.Fatal("slot was not freed after the silent peer was dropped")
	}
}

func TestDialRetryExhaustion(t *testing.T) {
	// a listener that is immediately closed yields a port nothing accepts on
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	start := time.Now()
	_, err = Dial(DialConfig{
		Addr:             addr,
		LocalScreen:      input.Geometry{Width: 1920, Height: 1080},
		Attempts:         3,
		Interval:         50 * time.Millisecond,
		HandshakeTimeout: 500 * time.Millisecond,
		ReadTimeout:      200 * time.Millisecond,
	})
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("got %v, want ErrConnectFailed", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("retries finished in %v, expected at least two backoff intervals", elapsed)
	}
}

func TestSendOnDeadSession(t *testing.T) {
	sv := startTestServer(t, nil)

	sess, err := dialTestServer(t, sv, "")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	sess.Start()
	sess.Close()

	if sent := sess.SendInput(&protocol.Message{Type: protocol.TypeMouseMove}); sent {
		t.Error("SendInput on a dead session must report false")
	}
}
