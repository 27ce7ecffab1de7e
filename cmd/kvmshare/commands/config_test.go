package commands

import (
	"os"
	"path/filepath"
	"testing"

	"kvmshare/internal/config"
)

func setTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Setenv("APPDATA", filepath.Join(home, "AppData", "Roaming"))
	return home
}

func TestLoadConfigReadsFile(t *testing.T) {
	home := setTestHome(t)

	// NewManager creates the per-OS config dir
	if _, err := config.NewManager(); err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	var dir string
	for _, candidate := range []string{
		filepath.Join(home, ".config", "kvmshare"),
		filepath.Join(home, "Library", "Application Support", "kvmshare"),
		filepath.Join(home, "AppData", "Roaming", "kvmshare"),
	} {
		if _, err := os.Stat(candidate); err == nil {
			dir = candidate
			break
		}
	}
	if dir == "" {
		t.Fatal("config dir was not created")
	}

	content := `{"role": "client", "discovery_port": 41111, "control_port": 42222, "mdns_enabled": true}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Role != config.RoleClient {
		t.Errorf("role = %q, want client", cfg.Role)
	}
	if cfg.DiscoveryPort != 41111 || cfg.ControlPort != 42222 {
		t.Errorf("ports = %d/%d, want 41111/42222", cfg.DiscoveryPort, cfg.ControlPort)
	}
	if !cfg.MDNSEnabled {
		t.Error("mdns_enabled from the file was ignored")
	}
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	setTestHome(t)

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	def := config.DefaultConfig()
	if cfg.Role != def.Role || cfg.ControlPort != def.ControlPort {
		t.Errorf("got role=%q port=%d, want defaults role=%q port=%d",
			cfg.Role, cfg.ControlPort, def.Role, def.ControlPort)
	}
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	home := setTestHome(t)

	if _, err := config.NewManager(); err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	dir := filepath.Join(home, ".config", "kvmshare")
	if _, err := os.Stat(dir); err != nil {
		t.Skip("default config layout differs on this platform")
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := loadConfig(); err == nil {
		t.Error("malformed config file was silently accepted")
	}
}
