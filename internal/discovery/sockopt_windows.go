//go:build windows

package discovery

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// setSockOpts enables address reuse and broadcast on the discovery socket
// before it is bound.
func setSockOpts(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		h := windows.Handle(fd)
		opErr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
		if opErr != nil {
			return
		}
		opErr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
