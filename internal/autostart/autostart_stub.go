//go:build !windows

package autostart

import "fmt"

func enableWindows() error {
	return fmt.Errorf("windows auto-start is only available on windows builds")
}

func disableWindows() error {
	return fmt.Errorf("windows auto-start is only available on windows builds")
}

func isEnabledWindows() bool {
	return false
}
