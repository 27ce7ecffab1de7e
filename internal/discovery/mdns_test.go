package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func testEntry(id string, port int, ip string, txtPort string) *zeroconf.ServiceEntry {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: "kvmshare-" + id,
			Service:  mdnsService,
			Domain:   mdnsDomain,
		},
		Port: port,
		Text: []string{"id=" + id},
	}
	if txtPort != "" {
		entry.Text = append(entry.Text, "port="+txtPort)
	}
	if ip != "" {
		entry.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	}
	return entry
}

func TestMDNSRegisterAdvertisesIDAndPort(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotPort     int
		gotTXT      []string
	)

	m := NewMDNS([4]byte{0xAB, 0xCD, 0x01, 0x02}, 50506, time.Hour, true, NewTable(nil))
	m.registerFn = func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
		gotInstance = instance
		gotService = service
		gotPort = port
		gotTXT = append([]string(nil), text...)
		return nil, nil
	}
	m.browseFn = func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
		<-ctx.Done()
		return nil
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	if gotInstance != "kvmshare-abcd0102" {
		t.Errorf("unexpected instance name: %q", gotInstance)
	}
	if gotService != mdnsService {
		t.Errorf("unexpected service: %q", gotService)
	}
	if gotPort != 50506 {
		t.Errorf("unexpected port: %d", gotPort)
	}
	assertContains(t, gotTXT, "id=abcd0102")
	assertContains(t, gotTXT, "port=50506")
}

func TestMDNSBrowseFeedsTable(t *testing.T) {
	table := NewTable(nil)
	m := NewMDNS([4]byte{1, 1, 1, 1}, 50506, time.Hour, false, table)
	m.registerFn = func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
		return nil, nil
	}
	m.browseFn = func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
		entries <- testEntry("05060708", 50506, "192.168.1.77", "40000")
		// own announcement comes back via multicast too
		entries <- testEntry("01010101", 50506, "192.168.1.10", "")
		// entries without a usable id are skipped
		entries <- testEntry("zz", 50506, "192.168.1.99", "")
		return nil
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	if !waitForCondition(t, 3*time.Second, func() bool { return table.Len() == 1 }) {
		t.Fatalf("expected exactly 1 peer, got %d", table.Len())
	}
	peers := table.Snapshot()
	if peers[0].Addr != "192.168.1.77" {
		t.Errorf("unexpected peer address: %s", peers[0].Addr)
	}
	if peers[0].TCPPort != 40000 {
		t.Errorf("txt port should override entry port, got %d", peers[0].TCPPort)
	}
	if peers[0].PeerID != [4]byte{5, 6, 7, 8} {
		t.Errorf("unexpected peer id: %v", peers[0].PeerID)
	}
}

func assertContains(t *testing.T, values []string, expected string) {
	t.Helper()
	for _, v := range values {
		if v == expected {
			return
		}
	}
	t.Fatalf("missing %q in %v", expected, values)
}
