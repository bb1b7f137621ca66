package transport

import (
	"context"
	"sync"
	"time"

	"github.com/iotartic/sunit/fault"
	"github.com/juju/errors"
)

var (
	ErrNotOpen  = errors.New("transport not open")
	ErrNoData   = errors.New("no data")
	ErrInjected = errors.New("injected failure")
)

// Loopback delivers sent frames to Handler in-process and queues its replies.
// Used for bench runs against a local responder and in tests.
type Loopback struct {
	mu      sync.Mutex
	open    bool
	replies [][]byte

	Handler func([]byte) [][]byte
	// fault injection
	FailOpen     bool
	FailSend     bool
	FailReceives int
	Code         byte

	Opens, Closes, Receives int
	Sent                    [][]byte
	Stat                    Stat
}

func NewLoopback(handler func([]byte) [][]byte) *Loopback {
	return &Loopback{Handler: handler, Code: fault.CodeWiFi}
}

func (l *Loopback) fail(op string, err error) error { return fault.TransportFailure(l.Code, err, op) }

func (l *Loopback) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Opens++
	if l.FailOpen {
		return l.fail("open", ErrInjected)
	}
	l.open = true
	return nil
}

func (l *Loopback) Send(ctx context.Context, b []byte) error {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return l.fail("send", ErrNotOpen)
	}
	if l.FailSend {
		l.mu.Unlock()
		return l.fail("send", ErrInjected)
	}
	cp := append([]byte(nil), b...)
	l.Sent = append(l.Sent, cp)
	l.Stat.sent(len(b))
	handler := l.Handler
	l.mu.Unlock()

	if handler != nil {
		replies := handler(cp)
		l.mu.Lock()
		l.replies = append(l.replies, replies...)
		l.mu.Unlock()
	}
	return nil
}

func (l *Loopback) Receive(ctx context.Context, max int, timeout time.Duration) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Receives++
	if !l.open {
		return nil, l.fail("receive", ErrNotOpen)
	}
	if l.FailReceives > 0 {
		l.FailReceives--
		return nil, l.fail("receive", ErrInjected)
	}
	if len(l.replies) == 0 {
		return nil, l.fail("receive", ErrNoData)
	}
	b := l.replies[0]
	l.replies = l.replies[1:]
	if len(b) > max {
		b = b[:max]
	}
	l.Stat.received(len(b))
	return b, nil
}

// Close drops undelivered replies, like a closed socket.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open {
		l.Closes++
	}
	l.open = false
	l.replies = nil
	return nil
}

func (l *Loopback) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Push queues frames as if received from peer, no-op unless open.
func (l *Loopback) Push(frames ...[]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open {
		l.replies = append(l.replies, frames...)
	}
}
