//go:build !linux
// +build !linux

package transport

import (
	"syscall"

	"github.com/juju/errors"
)

func bindToDevice(iface string) func(network, address string, rc syscall.RawConn) error {
	return func(network, address string, rc syscall.RawConn) error {
		return errors.NotSupportedf("bind to interface=%s", iface)
	}
}
