// Package rs485 is wired half duplex link for local protocol:
// serial port plus one GPIO line driving transceiver DE and /RE tied together.
package rs485

import (
	"context"
	"sync"
	"time"

	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/helpers"
	"github.com/iotartic/sunit/log2"
	"github.com/juju/errors"
	"github.com/temoto/gpio-cdev-go"
)

const (
	DefaultBaud    = 9600
	DefaultTimeout = 5 * time.Second
	// frame ends when line is silent this long after first byte
	DefaultGap = 20 * time.Millisecond

	directionTX byte = 1
	directionRX byte = 0

	consumerLabel = "sunit-rs485"
)

var ErrNotOpen = errors.New("rs485 not open")

type Config struct {
	Device   string
	Baud     int
	GPIOChip string
	DELine   uint32
	Gap      time.Duration
}

type OpenFunc func() (Port, gpio.Lineser, error)

// Link implements transport.Transporter over RS485.
type Link struct {
	mu     sync.Mutex
	log    *log2.Log
	open   OpenFunc
	deLine uint32
	gap    time.Duration

	port  Port
	lines gpio.Lineser
	de    gpio.LineSetFunc
}

func New(log *log2.Log, c Config) *Link {
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}
	open := func() (Port, gpio.Lineser, error) {
		chip, err := gpio.Open(c.GPIOChip, consumerLabel)
		if err != nil {
			return nil, nil, errors.Annotatef(err, "gpio open %s", c.GPIOChip)
		}
		// line handle outlives chip descriptor
		defer chip.Close()
		lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, consumerLabel, c.DELine)
		if err != nil {
			return nil, nil, errors.Annotatef(err, "gpio line=%d", c.DELine)
		}
		port, err := OpenSerial(c.Device, c.Baud)
		if err != nil {
			lines.Close()
			return nil, nil, err
		}
		return port, lines, nil
	}
	return NewWith(log, c.DELine, c.Gap, open)
}

func NewWith(log *log2.Log, deLine uint32, gap time.Duration, open OpenFunc) *Link {
	if gap == 0 {
		gap = DefaultGap
	}
	return &Link{log: log, open: open, deLine: deLine, gap: gap}
}

func fail(op string, err error) error { return fault.TransportFailure(fault.CodeRS485, err, op) }

func (l *Link) direction(d byte) error {
	l.de(d)
	return l.lines.Flush()
}

func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port != nil {
		return nil
	}
	port, lines, err := l.open()
	if err != nil {
		return fail("open", err)
	}
	l.port, l.lines = port, lines
	l.de = lines.SetFunc(l.deLine)
	if err = l.direction(directionRX); err != nil {
		l.closeLocked()
		return fail("direction", err)
	}
	return nil
}

func (l *Link) Send(ctx context.Context, b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return fail("send", ErrNotOpen)
	}
	if err := l.direction(directionTX); err != nil {
		return fail("direction", err)
	}
	err := helpers.WriteAll(l.port, b)
	if err == nil {
		err = l.port.Drain()
	}
	// always back to listening, even after write error
	if derr := l.direction(directionRX); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		return fail("send", err)
	}
	return nil
}

func (l *Link) Receive(ctx context.Context, max int, timeout time.Duration) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil, fail("receive", ErrNotOpen)
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	buf := make([]byte, max)
	n, err := l.port.ReadTimeout(buf, timeout)
	if err != nil {
		return nil, fail("receive", err)
	}
	for n < max {
		if err = ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		k, err := l.port.ReadTimeout(buf[n:], l.gap)
		if errors.Cause(err) == ErrTimeout {
			break
		}
		if err != nil {
			return nil, fail("receive", err)
		}
		n += k
	}
	return buf[:n], nil
}

func (l *Link) closeLocked() error {
	var errs []error
	if l.port != nil {
		if err := l.port.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if l.lines != nil {
		if err := l.lines.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.port, l.lines, l.de = nil, nil, nil
	return helpers.FoldErrors(errs)
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}
