package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/iotartic/sunit/helpers"
	"github.com/iotartic/sunit/log2"
	"github.com/juju/errors"
)

// Net is UDP or TCP client socket.
// UDP is connected, one datagram per frame.
// TCP receive returns whatever arrived up to max bytes.
type Net struct {
	Stat
	mu      sync.Mutex
	c       Config
	log     *log2.Log
	network string
	conn    net.Conn
}

func NewUDP(log *log2.Log, c Config) *Net { return &Net{c: c, log: log, network: "udp"} }
func NewTCP(log *log2.Log, c Config) *Net { return &Net{c: c, log: log, network: "tcp"} }

func (n *Net) fail(op string, err error) error { return failure(n.c.Tunnel, op, err) }

func (n *Net) Open(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		return nil
	}
	addr := n.c.Address()
	conn, err := dialer(&n.c).DialContext(ctx, n.network, addr)
	if err != nil {
		return n.fail("dial "+n.network+" "+addr, err)
	}
	n.log.Debugf("transport %s open local=%s remote=%s", n.network, conn.LocalAddr(), conn.RemoteAddr())
	n.conn = conn
	return nil
}

func (n *Net) get() (net.Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil, ErrNotOpen
	}
	return n.conn, nil
}

func (n *Net) Send(ctx context.Context, b []byte) error {
	conn, err := n.get()
	if err != nil {
		return n.fail("send", err)
	}
	if err = conn.SetWriteDeadline(deadline(ctx, n.c.dialTimeout())); err != nil {
		return n.fail("send", err)
	}
	if err = helpers.WriteAll(conn, b); err != nil {
		return n.fail("send", err)
	}
	n.sent(len(b))
	return nil
}

func (n *Net) Receive(ctx context.Context, max int, timeout time.Duration) ([]byte, error) {
	conn, err := n.get()
	if err != nil {
		return nil, n.fail("receive", err)
	}
	if err = conn.SetReadDeadline(deadline(ctx, timeout)); err != nil {
		return nil, n.fail("receive", err)
	}
	buf := make([]byte, max)
	k, err := conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Trace(ctx.Err())
		}
		return nil, n.fail("receive", err)
	}
	n.received(k)
	return buf[:k], nil
}

func (n *Net) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	n.log.Debugf("transport %s close %s", n.network, n.Stat.String())
	return errors.Annotatef(err, "transport %s close", n.network)
}

// deadline is now+d or context deadline, whichever is earlier.
func deadline(ctx context.Context, d time.Duration) time.Time {
	t := time.Now().Add(d)
	if cd, ok := ctx.Deadline(); ok && cd.Before(t) {
		return cd
	}
	return t
}
