package transport

import (
	"net"

	"github.com/iotartic/sunit/fault"
)

func failure(tunnel Tunnel, op string, err error) error {
	return fault.TransportFailure(tunnel.Code(), err, op)
}

func dialer(c *Config) *net.Dialer {
	d := &net.Dialer{Timeout: c.dialTimeout()}
	if c.Interface != "" {
		d.Control = bindToDevice(c.Interface)
	}
	return d
}
