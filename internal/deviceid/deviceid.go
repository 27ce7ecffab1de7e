// Package deviceid provides persistent host identity for discovery and the
// status surface.
package deviceid

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"kvmshare/internal/protocol"
)

const (
	// ConfigDir is the directory for kvmshare data under the user home
	ConfigDir = ".kvmshare"
	// DeviceIDFile is the filename for the device id
	DeviceIDFile = "device_id"
)

// GetOrCreate returns the host's device id, creating and persisting a new
// one if none exists. The id is a UUID string stored in ~/.kvmshare/device_id.
func GetOrCreate() (string, error) {
	path, err := idPath()
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, perr := uuid.Parse(id); perr == nil {
			return id, nil
		}
		// Unparseable file contents: regenerate below.
	}

	id := uuid.New().String()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0600); err != nil {
		return "", err
	}
	return id, nil
}

// BeaconID derives the fixed-size discovery beacon id from a device id. The
// first four bytes of the UUID are stable for the life of the device id.
func BeaconID(deviceID string) ([protocol.BeaconIDSize]byte, error) {
	var out [protocol.BeaconIDSize]byte
	u, err := uuid.Parse(deviceID)
	if err != nil {
		return out, err
	}
	copy(out[:], u[:protocol.BeaconIDSize])
	return out, nil
}

// Short returns a log-friendly prefix of a device id.
func Short(deviceID string) string {
	if len(deviceID) <= 8 {
		return deviceID
	}
	return deviceID[:8]
}

func idPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, DeviceIDFile), nil
}
