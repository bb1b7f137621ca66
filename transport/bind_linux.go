package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// bindToDevice pins socket to tunnel interface, e.g. wwan0 for cellular.
func bindToDevice(iface string) func(network, address string, rc syscall.RawConn) error {
	return func(network, address string, rc syscall.RawConn) error {
		var serr error
		err := rc.Control(func(fd uintptr) {
			serr = unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, iface)
		})
		if err != nil {
			return err
		}
		return serr
	}
}
