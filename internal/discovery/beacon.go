package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"kvmshare/internal/protocol"
)

// Options configures the beacon service.
type Options struct {
	// OwnID is this host's beacon id; announcements carrying it are ignored
	OwnID [protocol.BeaconIDSize]byte
	// UDPPort is the discovery port to bind and announce on
	UDPPort int
	// TCPPort is the control port advertised in outgoing beacons
	TCPPort int
	// Token is the shared secret; beacons with another token are dropped
	Token string
	// Announce enables the broadcast and sweep loops. A host that only
	// needs to find peers listens without announcing.
	Announce bool
	// BroadcastInterval is the period between broadcast announcements
	BroadcastInterval time.Duration
	// SweepInterval is the period between unicast subnet sweeps
	SweepInterval time.Duration
}

// Service periodically announces this host over UDP broadcast, sweeps the
// local /24 with unicast beacons for networks that filter broadcast, and
// listens for the announcements of other hosts.
type Service struct {
	opts  Options
	table *Table

	conn    *net.UDPConn
	payload []byte

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewService creates a beacon service feeding the given table.
func NewService(opts Options, table *Table) *Service {
	return &Service{
		opts:  opts,
		table: table,
	}
}

// Start binds the discovery port and launches the announce, sweep and listen
// loops. It returns an error if the port cannot be bound.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	payload, err := protocol.EncodeBeacon(protocol.Beacon{
		PeerID:  s.opts.OwnID,
		TCPPort: uint16(s.opts.TCPPort),
		Token:   s.opts.Token,
	})
	if err != nil {
		return fmt.Errorf("discovery: encode beacon: %w", err)
	}
	s.payload = payload

	lc := net.ListenConfig{Control: setSockOpts}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", s.opts.UDPPort))
	if err != nil {
		return fmt.Errorf("discovery: bind udp port %d: %w", s.opts.UDPPort, err)
	}
	s.conn = pc.(*net.UDPConn)

	s.running = true
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.listenLoop()
	if s.opts.Announce {
		s.wg.Add(2)
		go s.broadcastLoop()
		go s.sweepLoop()
	}

	log.Printf("Discovery: beacon service started on UDP port %d", s.opts.UDPPort)
	return nil
}

// Stop terminates all loops and closes the socket.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
	log.Println("Discovery: beacon service stopped")
}

// LocalPort returns the bound UDP port. Useful when Options.UDPPort is 0.
func (s *Service) LocalPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return 0
	}
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// Peers returns a snapshot of the peer table.
func (s *Service) Peers() []PeerRecord {
	return s.table.Snapshot()
}

func (s *Service) stopping() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// broadcastLoop sends one announcement immediately, then one per interval.
func (s *Service) broadcastLoop() {
	defer s.wg.Done()

	dst := &net.UDPAddr{
		IP:   net.IPv4bcast,
		Port: s.opts.UDPPort,
	}

	s.sendTo(dst)

	ticker := time.NewTicker(s.opts.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sendTo(dst)
		}
	}
}

// sweepLoop unicasts the beacon to every host of the local /24. Broadcast is
// dropped on some networks; the sweep reaches hosts behind such filtering.
func (s *Service) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Service) sweepOnce() {
	localIP, err := GetLocalIP()
	if err != nil {
		log.Printf("Discovery: sweep skipped, no local IP: %v", err)
		return
	}

	parts := strings.Split(localIP, ".")
	if len(parts) != 4 {
		return
	}
	subnet := fmt.Sprintf("%s.%s.%s", parts[0], parts[1], parts[2])

	for i := 1; i <= 254; i++ {
		if s.stopping() {
			return
		}
		ip := fmt.Sprintf("%s.%d", subnet, i)
		if ip == localIP {
			continue
		}
		addr := &net.UDPAddr{
			IP:   net.ParseIP(ip),
			Port: s.opts.UDPPort,
		}
		// errors here are per-host and expected; sendTo logs nothing fatal
		s.conn.WriteToUDP(s.payload, addr)
	}
}

func (s *Service) sendTo(dst *net.UDPAddr) {
	if _, err := s.conn.WriteToUDP(s.payload, dst); err != nil {
		if s.stopping() {
			return
		}
		log.Printf("Discovery: announce to %s failed: %v", dst, err)
	}
}

// listenLoop receives announcements and feeds the peer table. Reads use a
// short deadline so the loop notices Stop promptly.
func (s *Service) listenLoop() {
	defer s.wg.Done()

	buf := make([]byte, protocol.MaxBeaconSize)
	for {
		if s.stopping() {
			return
		}

		s.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || s.stopping() {
				return
			}
			log.Printf("Discovery: read error: %v", err)
			continue
		}

		s.handleBeacon(buf[:n], src)
	}
}

func (s *Service) handleBeacon(data []byte, src *net.UDPAddr) {
	beacon, err := protocol.DecodeBeacon(data)
	if err != nil {
		// malformed datagrams are routine on a shared port
		return
	}
	if beacon.PeerID == s.opts.OwnID {
		return
	}
	if beacon.Token != s.opts.Token {
		log.Printf("Discovery: rejected beacon from %s: token mismatch", src.IP)
		return
	}

	rec := PeerRecord{
		Addr:     src.IP.String(),
		TCPPort:  int(beacon.TCPPort),
		PeerID:   beacon.PeerID,
		LastSeen: time.Now(),
	}
	if s.table.Upsert(rec) {
		log.Printf("Discovery: found peer %s (control port %d)", rec.Addr, rec.TCPPort)
	}
}
