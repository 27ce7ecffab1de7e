package commands

import (
	"fmt"

	"kvmshare/internal/config"
)

// loadConfig returns the defaults with the on-disk config file merged over
// them. A missing file is fine; an unreadable or malformed one is not.
func loadConfig() (*config.Config, error) {
	mgr, err := config.NewManager()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return mgr.Get(), nil
}
