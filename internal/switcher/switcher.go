// Package switcher wires discovery, sessions, the arbiter and the redirector
// into a running kvmshare host.
package switcher

import (
	"fmt"
	"log"
	"sync"
	"time"

	"kvmshare/internal/api"
	"kvmshare/internal/arbiter"
	"kvmshare/internal/config"
	"kvmshare/internal/deviceid"
	"kvmshare/internal/discovery"
	"kvmshare/internal/hotkey"
	"kvmshare/internal/input"
	"kvmshare/internal/osutils"
	"kvmshare/internal/protocol"
	"kvmshare/internal/redirect"
	"kvmshare/internal/session"
)

// default screen geometry when the config does not pin one
var fallbackScreen = input.Geometry{Width: 1920, Height: 1080}

// Switcher is the top-level coordinator for one host, server or client.
type Switcher struct {
	cfg      *config.Config
	provider input.Provider
	screen   input.Geometry
	beaconID [protocol.BeaconIDSize]byte

	table  *discovery.Table
	beacon *discovery.Service
	mdns   *discovery.MDNS

	hotkeys *hotkey.Manager
	arb     *arbiter.Arbiter
	red     *redirect.Redirector

	server *session.Server // server role
	apiSrv *api.Server

	mu         sync.Mutex
	clientSess *session.Session // client role, current session
	running    bool
	done       chan struct{}
	wg         sync.WaitGroup
}

// New builds a switcher from the config. The provider supplies OS input
// capture and injection.
func New(cfg *config.Config, provider input.Provider) (*Switcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deviceID, err := deviceid.GetOrCreate()
	if err != nil {
		return nil, fmt.Errorf("switcher: device id: %w", err)
	}
	beaconID, err := deviceid.BeaconID(deviceID)
	if err != nil {
		return nil, fmt.Errorf("switcher: beacon id: %w", err)
	}
	log.Printf("Switcher: device %s, role %s", deviceid.Short(deviceID), cfg.Role)

	screen := fallbackScreen
	if cfg.ScreenWidth > 1 && cfg.ScreenHeight > 1 {
		screen = input.Geometry{Width: cfg.ScreenWidth, Height: cfg.ScreenHeight}
	}

	s := &Switcher{
		cfg:      cfg,
		provider: provider,
		screen:   screen,
		beaconID: beaconID,
		hotkeys:  hotkey.NewManager(),
	}

	s.table = discovery.NewTable(func(rec discovery.PeerRecord) {
		s.broadcastEvent(api.Event{
			Type: api.EventPeerSeen,
			Addr: rec.Addr,
			Port: rec.TCPPort,
		})
	})

	// Edge switching is a server-side trigger: clients receive control, they
	// never take it. A client's edge only matters for handing control back,
	// which the arbiter gates on the inbound stream, not here.
	edgeSwitch := cfg.Role == config.RoleServer && cfg.Mode == config.ModePosition
	s.arb = arbiter.New(s, edgeSwitch, arbiter.Callbacks{
		OnState: func(state arbiter.State, peer arbiter.Peer) {
			slot := ""
			if peer != nil {
				slot = string(peer.Slot())
			}
			s.broadcastEvent(api.Event{
				Type:  api.EventControlChanged,
				State: state.String(),
				Slot:  slot,
			})
		},
		OnControlGained: func(_ arbiter.Peer, x, y float64) {
			osutils.WakeUp()
			s.red.PlaceCursor(x, y)
		},
	})

	s.red = redirect.New(provider, s.arb, s.hotkeys, screen)
	s.registerHotkeys()

	if cfg.APIEnabled {
		s.apiSrv = api.NewServer(s, cfg.APIToken)
	}

	return s, nil
}

// Start brings the host up. For the server role a control-port bind failure
// is returned; everything else degrades with a log line.
func (s *Switcher) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.red.Start(); err != nil {
		return err
	}

	if s.cfg.Role == config.RoleServer {
		s.server = session.NewServer(session.ServerConfig{
			Addr:             fmt.Sprintf(":%d", s.cfg.ControlPort),
			LocalScreen:      s.screen,
			HandshakeTimeout: s.cfg.HandshakeTimeout(),
			ReadTimeout:      s.cfg.ReadTimeout(),
			OnSession:        s.adoptSession,
		})
		if err := s.server.Start(); err != nil {
			s.red.Stop()
			return err
		}
		if err := osutils.EnsureFirewallRule(s.cfg.ControlPort); err != nil {
			log.Printf("Switcher: firewall rule: %v", err)
		}
	}

	s.startDiscovery()

	if s.cfg.Role == config.RoleClient {
		s.wg.Add(1)
		go s.connectLoop()
	}

	if s.apiSrv != nil {
		if err := s.apiSrv.Start(s.cfg.APIPort); err != nil {
			log.Printf("Switcher: continuing without the HTTP API: %v", err)
		}
	}

	return nil
}

// Stop tears everything down in reverse order.
func (s *Switcher) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	clientSess := s.clientSess
	s.mu.Unlock()

	if s.apiSrv != nil {
		s.apiSrv.Stop()
	}
	if s.mdns != nil {
		s.mdns.Stop()
	}
	if s.beacon != nil {
		s.beacon.Stop()
	}
	if s.server != nil {
		s.server.Stop()
	}
	if clientSess != nil {
		clientSess.Close()
	}
	s.red.Stop()
	s.wg.Wait()
	log.Println("Switcher: stopped")
}

func (s *Switcher) startDiscovery() {
	s.beacon = discovery.NewService(discovery.Options{
		OwnID:             s.beaconID,
		UDPPort:           s.cfg.DiscoveryPort,
		TCPPort:           s.cfg.ControlPort,
		Token:             s.cfg.Token,
		Announce:          s.cfg.Role == config.RoleServer,
		BroadcastInterval: s.cfg.BroadcastInterval(),
		SweepInterval:     s.cfg.SweepInterval(),
	}, s.table)
	if err := s.beacon.Start(); err != nil {
		log.Printf("Switcher: continuing without UDP discovery: %v", err)
		s.beacon = nil
	}

	if s.cfg.MDNSEnabled {
		s.mdns = discovery.NewMDNS(s.beaconID, s.cfg.ControlPort, s.cfg.SweepInterval(),
			s.cfg.Role == config.RoleServer, s.table)
		if err := s.mdns.Start(); err != nil {
			log.Printf("Switcher: continuing without mdns: %v", err)
			s.mdns = nil
		}
	}
}

func (s *Switcher) registerHotkeys() {
	if s.cfg.Role == config.RoleServer {
		s.hotkeys.Register(s.cfg.SwitchLeftHotkey, func() {
			if err := s.arb.SwitchAny(protocol.SlotLeft); err != nil {
				log.Printf("Switcher: switch left: %v", err)
			}
		})
		s.hotkeys.Register(s.cfg.SwitchRightHotkey, func() {
			if err := s.arb.SwitchAny(protocol.SlotRight); err != nil {
				log.Printf("Switcher: switch right: %v", err)
			}
		})
	}
	s.hotkeys.Register(s.cfg.ReturnHotkey, func() {
		s.arb.ReturnToLocal()
	})
}

// adoptSession wires an accepted session into the arbiter and redirector.
// Runs before the session's loops start.
func (s *Switcher) adoptSession(sess *session.Session) {
	sess.OnMessage(s.dispatch)

	s.broadcastEvent(api.Event{
		Type: api.EventSessionUp,
		Slot: string(sess.Slot()),
		Addr: sess.RemoteAddr(),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-sess.Done():
		case <-s.done:
			return
		}
		s.arb.PeerClosed(sess)
		s.broadcastEvent(api.Event{
			Type: api.EventSessionDown,
			Slot: string(sess.Slot()),
		})
	}()
}

// dispatch routes one inbound message: control plane to the arbiter, input
// events to the redirector.
func (s *Switcher) dispatch(sess *session.Session, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeControlRequest, protocol.TypeControlRelease, protocol.TypeReturnToServer:
		s.arb.HandleControl(sess, msg)
	case protocol.TypeMouseMove, protocol.TypeMouseClick, protocol.TypeMouseScroll,
		protocol.TypeKeyPress, protocol.TypeKeyRelease:
		s.red.HandleRemote(sess, msg)
	}
}

// connectLoop keeps a client connected: find the server, dial, serve the
// session until it dies, then go back to looking.
func (s *Switcher) connectLoop() {
	defer s.wg.Done()

	for {
		addr, ok := s.findServer()
		if !ok {
			return
		}

		sess, err := session.Dial(session.DialConfig{
			Addr:             addr,
			RequestedSlot:    protocol.Slot(s.cfg.Slot),
			LocalScreen:      s.screen,
			Attempts:         uint(s.cfg.DialAttempts),
			Interval:         s.cfg.DialInterval(),
			HandshakeTimeout: s.cfg.HandshakeTimeout(),
			ReadTimeout:      s.cfg.ReadTimeout(),
		})
		if err != nil {
			log.Printf("Switcher: %v", err)
			if !s.sleep(s.cfg.ReconnectDelay()) {
				return
			}
			continue
		}

		sess.OnMessage(s.dispatch)
		s.mu.Lock()
		s.clientSess = sess
		s.mu.Unlock()
		sess.Start()
		s.broadcastEvent(api.Event{
			Type: api.EventSessionUp,
			Slot: string(sess.Slot()),
			Addr: sess.RemoteAddr(),
		})

		select {
		case <-sess.Done():
		case <-s.done:
			return
		}

		s.arb.PeerClosed(sess)
		s.mu.Lock()
		s.clientSess = nil
		s.mu.Unlock()
		s.broadcastEvent(api.Event{
			Type: api.EventSessionDown,
			Slot: string(sess.Slot()),
		})
		log.Println("Switcher: server connection lost, rediscovering")

		if !s.sleep(s.cfg.ReconnectDelay()) {
			return
		}
	}
}

// findServer resolves the server address, either pinned in the config or
// from discovery. Blocks until found or shutdown; ok is false on shutdown.
func (s *Switcher) findServer() (string, bool) {
	if s.cfg.ServerAddr != "" {
		return s.cfg.ServerAddr, true
	}

	for {
		for _, rec := range s.table.Snapshot() {
			return fmt.Sprintf("%s:%d", rec.Addr, rec.TCPPort), true
		}
		if !s.sleep(500 * time.Millisecond) {
			return "", false
		}
	}
}

// sleep waits for d, reporting false if shutdown interrupts it.
func (s *Switcher) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.done:
		return false
	}
}

func (s *Switcher) broadcastEvent(event api.Event) {
	if s.apiSrv != nil {
		s.apiSrv.Broadcast(event)
	}
}

// PeerFor returns the live peer in the slot, nil if vacant.
func (s *Switcher) PeerFor(slot protocol.Slot) arbiter.Peer {
	if s.server != nil {
		if sess := s.server.SessionFor(slot); sess != nil {
			return sess
		}
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientSess != nil && s.clientSess.Slot() == slot {
		return s.clientSess
	}
	return nil
}

// Peers returns all live peers.
func (s *Switcher) Peers() []arbiter.Peer {
	if s.server != nil {
		sessions := s.server.Sessions()
		out := make([]arbiter.Peer, 0, len(sessions))
		for _, sess := range sessions {
			out = append(out, sess)
		}
		return out
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientSess != nil {
		return []arbiter.Peer{s.clientSess}
	}
	return nil
}

// Status implements the API status surface.
func (s *Switcher) Status() api.Status {
	status := api.Status{
		Role:          s.cfg.Role,
		State:         s.arb.State().String(),
		DroppedEvents: s.red.Dropped(),
		Peers:         []api.PeerInfo{},
		Sessions:      []api.SessionInfo{},
	}
	if peer := s.arb.Active(); peer != nil {
		status.ActiveSlot = peer.Slot()
	}
	for _, rec := range s.table.Snapshot() {
		status.Peers = append(status.Peers, api.PeerInfo{
			Addr:     rec.Addr,
			TCPPort:  rec.TCPPort,
			LastSeen: rec.LastSeen,
		})
	}
	for _, peer := range s.Peers() {
		sess := peer.(*session.Session)
		status.Sessions = append(status.Sessions, api.SessionInfo{
			Slot:         sess.Slot(),
			Addr:         sess.RemoteAddr(),
			ScreenWidth:  sess.RemoteScreen().Width,
			ScreenHeight: sess.RemoteScreen().Height,
		})
	}
	return status
}

// SwitchTo hands control to the peer in the slot, for the HTTP API.
func (s *Switcher) SwitchTo(slot protocol.Slot) error {
	if s.cfg.Role != config.RoleServer {
		return fmt.Errorf("switcher: only the server switches between slots")
	}
	return s.arb.SwitchToSlot(slot)
}

// ReturnToLocal takes input back, for the HTTP API.
func (s *Switcher) ReturnToLocal() error {
	s.arb.ReturnToLocal()
	return nil
}
