// Package api exposes a local HTTP surface for status inspection and remote
// switching, plus a WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"kvmshare/internal/protocol"
)

// PeerInfo is one discovered host as reported by /api/status.
type PeerInfo struct {
	Addr     string    `json:"addr"`
	TCPPort  int       `json:"tcp_port"`
	LastSeen time.Time `json:"last_seen"`
}

// SessionInfo is one established control channel.
type SessionInfo struct {
	Slot         protocol.Slot `json:"slot"`
	Addr         string        `json:"addr"`
	ScreenWidth  int           `json:"screen_width"`
	ScreenHeight int           `json:"screen_height"`
}

// Status is the /api/status payload.
type Status struct {
	Role          string        `json:"role"`
	State         string        `json:"state"`
	ActiveSlot    protocol.Slot `json:"active_slot,omitempty"`
	Peers         []PeerInfo    `json:"peers"`
	Sessions      []SessionInfo `json:"sessions"`
	DroppedEvents uint64        `json:"dropped_events"`
}

// StatusSource is what the API reads from and acts on. The orchestrator
// implements it.
type StatusSource interface {
	Status() Status
	SwitchTo(slot protocol.Slot) error
	ReturnToLocal() error
}

// Server provides the HTTP API and the WebSocket event stream.
type Server struct {
	source StatusSource
	token  string
	wsMgr  *WSManager
	srv    *http.Server
}

// NewServer creates an API server. token may be empty, disabling auth.
func NewServer(source StatusSource, token string) *Server {
	s := &Server{
		source: source,
		token:  token,
	}
	s.wsMgr = newWSManager()
	return s
}

// Start binds the port and serves in the background. A bind failure is
// returned synchronously; serve errors after that only log.
func (s *Server) Start(port int) error {
	go s.wsMgr.start()

	// Use "0.0.0.0:port" and explicitly tcp4 to avoid IPv6-only binding
	// issues on Windows
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		log.Printf("API: failed to listen on %s: %v", addr, err)
		return err
	}

	s.srv = &http.Server{
		Handler: s.handler(),
	}

	log.Printf("API: serving on %s", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("API: server stopped: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	s.wsMgr.stop()
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.srv.Shutdown(ctx)
	}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/switch", s.handleSwitch)
	mux.HandleFunc("/api/release", s.handleRelease)
	mux.HandleFunc("/ws", s.wsMgr.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return s.authMiddleware(s.recoverMiddleware(mux))
}

// Broadcast pushes an event to all WebSocket subscribers.
func (s *Server) Broadcast(event Event) {
	s.wsMgr.broadcastEvent(event)
}

// recoverMiddleware prevents panics from crashing the whole server
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("API: panic recovered: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks the bearer token if one is configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth for health check
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		if s.token != "" {
			authHeader := r.Header.Get("Authorization")
			expectedAuth := "Bearer " + s.token

			if authHeader != expectedAuth {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.source.Status())
}

// handleSwitch handles POST /api/switch?slot=<left|right>
func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slot := protocol.Slot(r.URL.Query().Get("slot"))
	if slot != protocol.SlotLeft && slot != protocol.SlotRight {
		http.Error(w, "Missing or invalid slot parameter", http.StatusBadRequest)
		return
	}

	log.Printf("API: switch to %s slot requested by %s", slot, r.RemoteAddr)
	if err := s.source.SwitchTo(slot); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"slot":   string(slot),
	})
}

// handleRelease handles POST /api/release, taking input back locally
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	log.Printf("API: release requested by %s", r.RemoteAddr)
	if err := s.source.ReturnToLocal(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleHealth handles GET /health (for monitoring)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
