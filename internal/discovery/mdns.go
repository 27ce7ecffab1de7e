package discovery

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"kvmshare/internal/protocol"
)

const (
	mdnsService = "_kvmshare._tcp"
	mdnsDomain  = "local."

	mdnsScanTimeout = 3 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// MDNS supplements the UDP beacon with zeroconf announcements, for networks
// where raw broadcast is filtered but multicast DNS is not. Discovered peers
// land in the same table the beacon service feeds.
type MDNS struct {
	ownID    [protocol.BeaconIDSize]byte
	tcpPort  int
	interval time.Duration
	announce bool
	table    *Table

	registerFn registerFunc
	browseFn   browseFunc

	server *zeroconf.Server

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewMDNS creates an mDNS browser feeding the given table; with announce set
// it also registers this host's service instance.
func NewMDNS(ownID [protocol.BeaconIDSize]byte, tcpPort int, interval time.Duration, announce bool, table *Table) *MDNS {
	return &MDNS{
		ownID:      ownID,
		tcpPort:    tcpPort,
		interval:   interval,
		announce:   announce,
		table:      table,
		registerFn: zeroconf.Register,
	}
}

// Start registers the service instance and begins periodic browsing.
func (m *MDNS) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	if m.announce {
		id := hex.EncodeToString(m.ownID[:])
		instance := "kvmshare-" + id
		txt := []string{
			"id=" + id,
			"port=" + strconv.Itoa(m.tcpPort),
		}

		server, err := m.registerFn(instance, mdnsService, mdnsDomain, m.tcpPort, txt, nil)
		if err != nil {
			return fmt.Errorf("discovery: mdns register: %w", err)
		}
		m.server = server
		log.Printf("Discovery: mdns registered as %s", instance)
	}

	browse := m.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			if m.server != nil {
				m.server.Shutdown()
				m.server = nil
			}
			return fmt.Errorf("discovery: mdns resolver: %w", err)
		}
		browse = resolver.Browse
	}

	m.running = true
	m.done = make(chan struct{})
	m.wg.Add(1)
	go m.browseLoop(browse)
	return nil
}

// Stop shuts down the announcer and the browse loop.
func (m *MDNS) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.done)
	server := m.server
	m.server = nil
	m.mu.Unlock()

	if server != nil {
		server.Shutdown()
	}
	m.wg.Wait()
}

func (m *MDNS) browseLoop(browse browseFunc) {
	defer m.wg.Done()

	m.browseOnce(browse)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.browseOnce(browse)
		}
	}
}

func (m *MDNS) browseOnce(browse browseFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), mdnsScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-ctx.Done():
				return
			case entry := <-entries:
				if entry == nil {
					continue
				}
				m.handleEntry(entry)
			}
		}
	}()

	if err := browse(ctx, mdnsService, mdnsDomain, entries); err != nil {
		log.Printf("Discovery: mdns browse failed: %v", err)
		cancel()
	}

	select {
	case <-ctx.Done():
	case <-m.done:
		cancel()
	}
	<-collectorDone
}

func (m *MDNS) handleEntry(entry *zeroconf.ServiceEntry) {
	var id string
	port := entry.Port
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "id":
			id = parts[1]
		case "port":
			if p, err := strconv.Atoi(parts[1]); err == nil {
				port = p
			}
		}
	}

	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != protocol.BeaconIDSize {
		return
	}
	var peerID [protocol.BeaconIDSize]byte
	copy(peerID[:], raw)
	if peerID == m.ownID {
		return
	}

	for _, ip := range entry.AddrIPv4 {
		if ip == nil {
			continue
		}
		rec := PeerRecord{
			Addr:     ip.String(),
			TCPPort:  port,
			PeerID:   peerID,
			LastSeen: time.Now(),
		}
		if m.table.Upsert(rec) {
			log.Printf("Discovery: found peer %s via mdns (control port %d)", rec.Addr, rec.TCPPort)
		}
	}
}
