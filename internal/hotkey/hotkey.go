// Package hotkey provides chord registration and matching over the input
// provider's key stream.
package hotkey

import (
	"log"
	"strings"
	"sync"
)

// Manager tracks currently held keys and fires callbacks when a registered
// chord becomes fully pressed. It is fed from the capture event stream via
// UpdateState; it installs no hooks of its own.
type Manager struct {
	mu           sync.RWMutex
	hotkeys      []*registeredHotkey
	currentState map[string]bool // keys currently held, uppercased
}

type registeredHotkey struct {
	parts    []string // e.g., ["CTRL", "SUPER", "LEFT"]
	original string
	callback func()
}

// NewManager creates a new hotkey manager
func NewManager() *Manager {
	return &Manager{
		currentState: make(map[string]bool),
	}
}

// Register registers a chord string (e.g. "Ctrl+Super+Left") and a callback.
// An empty chord registers nothing.
func (m *Manager) Register(chord string, callback func()) {
	if chord == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	parts := strings.Split(strings.ToUpper(chord), "+")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}

	m.hotkeys = append(m.hotkeys, &registeredHotkey{
		parts:    parts,
		original: chord,
		callback: callback,
	})
}

// Clear removes all registered hotkeys
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hotkeys = nil
}

// UpdateState updates the held state of a key and checks for chord matches
// on presses. Matching callbacks run on their own goroutine so the capture
// path never blocks.
func (m *Manager) UpdateState(key string, isDown bool) {
	m.mu.Lock()
	key = strings.ToUpper(key)
	if isDown {
		m.currentState[key] = true
	} else {
		delete(m.currentState, key)
	}
	m.mu.Unlock()

	if isDown {
		m.checkMatches()
	}
}

func (m *Manager) checkMatches() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, hk := range m.hotkeys {
		match := true
		for _, part := range hk.parts {
			if !m.currentState[part] {
				match = false
				break
			}
		}

		if match {
			log.Printf("Hotkey triggered: %s", hk.original)
			go hk.callback()
		}
	}
}
