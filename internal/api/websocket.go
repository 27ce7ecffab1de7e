package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event stream event types
const (
	EventControlChanged = "control_changed"
	EventPeerSeen       = "peer_seen"
	EventSessionUp      = "session_up"
	EventSessionDown    = "session_down"
)

// Event is one entry on the /ws stream. Fields beyond Type are filled per
// event type.
type Event struct {
	Type  string    `json:"type"`
	State string    `json:"state,omitempty"`
	Slot  string    `json:"slot,omitempty"`
	Addr  string    `json:"addr,omitempty"`
	Port  int       `json:"port,omitempty"`
	Time  time.Time `json:"time"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for now as this is a local network tool
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSManager handles WebSocket subscribers and event broadcasting
type WSManager struct {
	clients    map[*wsClient]bool
	clientsMu  sync.RWMutex
	broadcast  chan Event
	register   chan *wsClient
	unregister chan *wsClient
	shutdown   chan struct{}
}

type wsClient struct {
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
	ip      string
}

func newWSManager() *WSManager {
	return &WSManager{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan Event, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		shutdown:   make(chan struct{}),
	}
}

func (m *WSManager) start() {
	for {
		select {
		case client := <-m.register:
			m.clientsMu.Lock()
			m.clients[client] = true
			m.clientsMu.Unlock()
			log.Printf("WS: subscriber connected from %s", client.ip)

		case client := <-m.unregister:
			m.clientsMu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
				log.Printf("WS: subscriber from %s disconnected", client.ip)
			}
			m.clientsMu.Unlock()

		case event := <-m.broadcast:
			m.broadcastMessage(event)

		case <-m.shutdown:
			return
		}
	}
}

func (m *WSManager) stop() {
	close(m.shutdown)
}

func (m *WSManager) broadcastEvent(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	select {
	case m.broadcast <- event:
	default:
		// a stalled hub must not block the control path
	}
}

func (m *WSManager) broadcastMessage(event Event) {
	jsonMsg, err := json.Marshal(event)
	if err != nil {
		log.Printf("WS: failed to marshal event: %v", err)
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	for client := range m.clients {
		select {
		case client.send <- jsonMsg:
		default:
			close(client.send)
			delete(m.clients, client)
		}
	}
}

func (m *WSManager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS: failed to upgrade connection: %v", err)
		return
	}

	client := &wsClient{
		manager: m,
		conn:    conn,
		send:    make(chan []byte, 256),
		ip:      r.RemoteAddr,
	}

	m.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump drains inbound frames; subscribers have nothing to say, but the
// read loop is what notices a dropped connection.
func (c *wsClient) readPump() {
	defer func() {
		c.manager.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS: read error: %v", err)
			}
			break
		}
	}
}

// writePump pumps events to the subscriber connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
