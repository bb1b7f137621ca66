package ble

import (
	"context"
	"sync"
	"time"
)

// Pipe returns connected characteristic pair.
// Writes on one end are read on the other, Handler if set answers writes of peer.
func Pipe() (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{in: make(chan []byte, 4)}
	b := &PipeEnd{in: make(chan []byte, 4)}
	a.peer, b.peer = b, a
	return a, b
}

type PipeEnd struct {
	mu        sync.Mutex
	peer      *PipeEnd
	in        chan []byte
	connected bool
	// Handler answers frames written by peer, replies go back to peer.
	Handler   func([]byte) [][]byte
	Connects  int
}

func (p *PipeEnd) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	p.Connects++
	return nil
}

func (p *PipeEnd) Write(b []byte) error {
	p.mu.Lock()
	ok := p.connected
	p.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	cp := append([]byte(nil), b...)
	p.peer.mu.Lock()
	handler := p.peer.Handler
	p.peer.mu.Unlock()
	if handler != nil {
		for _, r := range handler(cp) {
			p.in <- r
		}
		return nil
	}
	p.peer.in <- cp
	return nil
}

func (p *PipeEnd) Read(timeout time.Duration) ([]byte, error) {
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	select {
	case b := <-p.in:
		return b, nil
	case <-tmr.C:
		return nil, ErrTimeout
	}
}

func (p *PipeEnd) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *PipeEnd) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}
