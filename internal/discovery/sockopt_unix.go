//go:build !windows

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSockOpts enables address reuse and broadcast on the discovery socket
// before it is bound. Reuse lets several instances share the port on one
// machine; broadcast is required for the announce loop.
func setSockOpts(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if opErr != nil {
			return
		}
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
