// Package ble adapts GATT characteristic client to local protocol link.
// Radio stack, scanning and service discovery live behind Characteristic.
package ble

import (
	"context"
	"sync"
	"time"

	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/log2"
	"github.com/juju/errors"
)

var (
	ErrNotConnected = errors.New("ble not connected")
	ErrTimeout      = errors.New("ble read timeout")
)

// Characteristic is one GATT characteristic on peer identified by service and characteristic UUIDs.
type Characteristic interface {
	Connect(ctx context.Context) error
	Write(b []byte) error
	// Read blocks until value notification or timeout.
	Read(timeout time.Duration) ([]byte, error)
	Disconnect() error
}

func fail(op string, err error) error { return fault.TransportFailure(fault.CodeBLE, err, op) }

// Link connects and writes on Send, reads and disconnects on Receive.
type Link struct {
	mu        sync.Mutex
	log       *log2.Log
	c         Characteristic
	connected bool
}

func NewLink(log *log2.Log, c Characteristic) *Link { return &Link{log: log, c: c} }

// Open is no-op, connection lives from Send to Receive.
func (l *Link) Open(ctx context.Context) error { return nil }

func (l *Link) Send(ctx context.Context, b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		if err := l.c.Connect(ctx); err != nil {
			return fail("connect", err)
		}
		l.connected = true
	}
	if err := l.c.Write(b); err != nil {
		l.disconnectLocked()
		return fail("write", err)
	}
	return nil
}

func (l *Link) Receive(ctx context.Context, max int, timeout time.Duration) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return nil, fail("read", ErrNotConnected)
	}
	defer l.disconnectLocked()
	b, err := l.c.Read(timeout)
	if err != nil {
		return nil, fail("read", err)
	}
	if len(b) > max {
		b = b[:max]
	}
	return b, nil
}

func (l *Link) disconnectLocked() {
	if !l.connected {
		return
	}
	l.connected = false
	if err := l.c.Disconnect(); err != nil {
		l.log.Errorf("ble disconnect err=%v", err)
	}
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnectLocked()
	return nil
}
