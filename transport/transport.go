// Package transport is the link between protocol sessions and the network.
// One Transporter is selected at configuration time, sessions never branch
// on protocol or tunnel.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/helpers"
	"github.com/iotartic/sunit/helpers/atomic_clock"
	"github.com/iotartic/sunit/log2"
	"github.com/juju/errors"
)

const (
	DefaultReceiveTimeout = 5 * time.Second
	DefaultDialTimeout    = 10 * time.Second
	DefaultAttempts       = 3
	DefaultAttemptDelay   = time.Second
)

// Transporter contract:
// - Open before Send/Receive, Close is safe to call any time and more than once
// - Receive returns one whole frame, at most max bytes, or error after timeout
// - all errors are fault.Transport, except context cancellation
type Transporter interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, b []byte) error
	Receive(ctx context.Context, max int, timeout time.Duration) ([]byte, error)
	Close() error
}

type Protocol string

const (
	UDP  Protocol = "udp"
	TCP  Protocol = "tcp"
	MQTT Protocol = "mqtt"
)

type Tunnel string

const (
	WiFi     Tunnel = "wifi"
	Cellular Tunnel = "cellular"
)

// Code returned with transport failures, per tunnel.
func (t Tunnel) Code() byte {
	if t == Cellular {
		return fault.CodeCellular
	}
	return fault.CodeWiFi
}

type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	PublishTopic   string
	SubscribeTopic string // prefix, lowercase hex MAC is appended
	KeepAlive      time.Duration
}

type Config struct {
	Protocol Protocol
	Tunnel   Tunnel
	// network interface for tunnel, e.g. wlan0 or wwan0, empty = default route
	Interface   string
	Host        string
	Port        int
	MAC         []byte
	DialTimeout time.Duration
	MQTT        MQTTConfig
}

func (c *Config) Address() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func (c *Config) dialTimeout() time.Duration {
	if c.DialTimeout == 0 {
		return DefaultDialTimeout
	}
	return c.DialTimeout
}

// New selects backend once.
func New(log *log2.Log, c Config) (Transporter, error) {
	switch c.Tunnel {
	case WiFi, Cellular:
	default:
		return nil, fault.BadConfiguration("transport unknown tunnel=%q", c.Tunnel)
	}
	switch c.Protocol {
	case UDP:
		return NewUDP(log, c), nil
	case TCP:
		return NewTCP(log, c), nil
	case MQTT:
		m, err := NewMQTT(log, c)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fault.BadConfiguration("transport unknown protocol=%q", c.Protocol)
}

// Stat is traffic accounting, logged on Close.
type Stat struct {
	Sent     uint32
	Received uint32
	Last     atomic_clock.Clock
}

func (s *Stat) sent(n int) {
	s.Sent += uint32(n)
	s.Last.SetNow()
}

func (s *Stat) received(n int) {
	s.Received += uint32(n)
	s.Last.SetNow()
}

func (s *Stat) String() string {
	idle := time.Duration(0)
	if !s.Last.IsZero() {
		idle = atomic_clock.Since(&s.Last)
	}
	return fmt.Sprintf("sent=%d received=%d idle=%v", s.Sent, s.Received, idle)
}

// ReceiveRetry waits delay before each attempt, retries transport errors only.
func ReceiveRetry(ctx context.Context, t Transporter, max int, timeout time.Duration, r helpers.Retry) ([]byte, error) {
	if r.Retryable == nil {
		r.Retryable = fault.Retryable
	}
	var result []byte
	err := r.Do(ctx, func(attempt int) error {
		b, err := t.Receive(ctx, max, timeout)
		if err != nil {
			return errors.Annotatef(err, "receive attempt=%d", attempt)
		}
		result = b
		return nil
	})
	return result, err
}

// DefaultRetry is 3 attempts each after 1 second.
func DefaultRetry() helpers.Retry {
	return helpers.Retry{Attempts: DefaultAttempts, Delay: DefaultAttemptDelay, Retryable: fault.Retryable}
}
