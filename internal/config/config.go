// Package config provides configuration management for kvmshare.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Roles
const (
	RoleServer = "server"
	RoleClient = "client"
)

// Switching models. Position mode switches on screen-edge crossings mapped
// to slots; toggle mode switches only on hotkeys or explicit requests. The
// wire protocol is identical in both.
const (
	ModePosition = "position"
	ModeToggle   = "toggle"
)

// Config represents the application configuration
type Config struct {
	// Role selects server (shares its input) or client (receives control)
	Role string `json:"role"`

	// Mode selects the switching model: "position" or "toggle"
	Mode string `json:"mode"`

	// Token is the shared secret carried in discovery beacons
	Token string `json:"token"`

	// DiscoveryPort is the UDP port for presence beacons
	DiscoveryPort int `json:"discovery_port"`

	// ControlPort is the TCP port for the control channel
	ControlPort int `json:"control_port"`

	// BroadcastIntervalMs is the beacon broadcast period
	BroadcastIntervalMs int `json:"broadcast_interval_ms"`

	// SweepIntervalMs is the /24 unicast fallback sweep period
	SweepIntervalMs int `json:"sweep_interval_ms"`

	// DialAttempts bounds client connection retries
	DialAttempts int `json:"dial_attempts"`

	// DialIntervalMs is the delay between connection attempts
	DialIntervalMs int `json:"dial_interval_ms"`

	// ReconnectDelayMs is the pause before re-entering discovery after a
	// session drops
	ReconnectDelayMs int `json:"reconnect_delay_ms"`

	// HandshakeTimeoutMs bounds the post-connect handshake exchange
	HandshakeTimeoutMs int `json:"handshake_timeout_ms"`

	// ReadTimeoutMs is the per-read deadline on session sockets
	ReadTimeoutMs int `json:"read_timeout_ms"`

	// ServerAddr optionally pins the client to one server ("ip:port"),
	// bypassing discovery
	ServerAddr string `json:"server_addr,omitempty"`

	// Slot is the client's position preference: "left", "right" or empty
	Slot string `json:"slot,omitempty"`

	// SwitchLeftHotkey, SwitchRightHotkey and ReturnHotkey are chord
	// definitions like "Ctrl+Super+Left"
	SwitchLeftHotkey  string `json:"switch_left_hotkey,omitempty"`
	SwitchRightHotkey string `json:"switch_right_hotkey,omitempty"`
	ReturnHotkey      string `json:"return_hotkey,omitempty"`

	// MDNSEnabled additionally announces/browses _kvmshare._tcp via mDNS
	MDNSEnabled bool `json:"mdns_enabled"`

	// APIEnabled enables the HTTP status API server
	APIEnabled bool `json:"api_enabled"`

	// APIPort is the port for the status API server
	APIPort int `json:"api_port"`

	// APIToken is an optional authentication token for API requests
	APIToken string `json:"api_token,omitempty"`

	// ScreenWidth and ScreenHeight override detected screen geometry
	ScreenWidth  int `json:"screen_width,omitempty"`
	ScreenHeight int `json:"screen_height,omitempty"`
}

// DefaultConfig returns a new Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Role:                RoleServer,
		Mode:                ModePosition,
		Token:               "changeMe",
		DiscoveryPort:       50505,
		ControlPort:         50506,
		BroadcastIntervalMs: 1000,
		SweepIntervalMs:     5000,
		DialAttempts:        10,
		DialIntervalMs:      1000,
		ReconnectDelayMs:    2000,
		HandshakeTimeoutMs:  5000,
		ReadTimeoutMs:       1000,
		SwitchLeftHotkey:    "Ctrl+Super+Left",
		SwitchRightHotkey:   "Ctrl+Super+Right",
		ReturnHotkey:        "Ctrl+Super+Up",
		APIEnabled:          true,
		APIPort:             18090,
	}
}

// BroadcastInterval returns the beacon period as a duration.
func (c *Config) BroadcastInterval() time.Duration {
	return time.Duration(c.BroadcastIntervalMs) * time.Millisecond
}

// SweepInterval returns the unicast sweep period as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// DialInterval returns the delay between connect attempts.
func (c *Config) DialInterval() time.Duration {
	return time.Duration(c.DialIntervalMs) * time.Millisecond
}

// ReconnectDelay returns the pause before re-entering discovery.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// HandshakeTimeout bounds the handshake exchange.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

// ReadTimeout returns the per-read session deadline.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.Role != RoleServer && c.Role != RoleClient {
		return fmt.Errorf("config: invalid role %q", c.Role)
	}
	if c.Mode != ModePosition && c.Mode != ModeToggle {
		return fmt.Errorf("config: invalid mode %q", c.Mode)
	}
	if c.DiscoveryPort <= 0 || c.DiscoveryPort > 65535 {
		return fmt.Errorf("config: invalid discovery port %d", c.DiscoveryPort)
	}
	if c.ControlPort <= 0 || c.ControlPort > 65535 {
		return fmt.Errorf("config: invalid control port %d", c.ControlPort)
	}
	if c.Token == "" {
		return fmt.Errorf("config: token must not be empty")
	}
	return nil
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
	onChanged  func()
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	return &Manager{
		configPath: configPath,
		config:     DefaultConfig(),
	}, nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "kvmshare")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, "kvmshare")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config", "kvmshare")
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}

	return filepath.Join(configDir, "config.json"), nil
}

// Load reads the configuration from disk
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		// No config file, use defaults
		return nil
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, m.config); err != nil {
		return err
	}
	if m.onChanged != nil {
		m.onChanged()
	}
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return err
	}

	log.Printf("Config: Saving configuration to %s (%d bytes)", m.configPath, len(data))
	return os.WriteFile(m.configPath, data, 0644)
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Set updates the configuration
func (m *Manager) Set(config *Config) {
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	if m.onChanged != nil {
		m.onChanged()
	}
}

// RegisterChangeCallback registers a function to be called when config changes
func (m *Manager) RegisterChangeCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = fn
}
