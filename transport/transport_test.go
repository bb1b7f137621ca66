package transport

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/helpers"
	"github.com/iotartic/sunit/log2"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostPort(t testing.TB, addr net.Addr) (string, int) {
	host, port, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func TestUDP(t *testing.T) {
	t.Parallel()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	go func() {
		buf := make([]byte, 512)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			reply := append([]byte("re:"), buf[:n]...)
			_, _ = pc.WriteTo(reply, from)
		}
	}()

	host, port := hostPort(t, pc.LocalAddr())
	tr, err := New(log2.NewTest(t, log2.LDebug), Config{Protocol: UDP, Tunnel: WiFi, Host: host, Port: port})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, tr.Open(ctx))
	defer tr.Close()
	require.NoError(t, tr.Send(ctx, []byte("hello")))
	b, err := tr.Receive(ctx, 64, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("re:hello"), b)
	assert.Equal(t, uint32(5), tr.(*Net).Sent)
	assert.Equal(t, uint32(8), tr.(*Net).Received)
}

func TestTCP(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 512)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		_, _ = conn.Write(buf[:n])
	}()

	host, port := hostPort(t, ln.Addr())
	tr := NewTCP(log2.NewTest(t, log2.LDebug), Config{Protocol: TCP, Tunnel: Cellular, Host: host, Port: port})
	ctx := context.Background()
	require.NoError(t, tr.Open(ctx))
	require.NoError(t, tr.Send(ctx, []byte{0x53, 0x48, 0x01}))
	b, err := tr.Receive(ctx, 2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x53, 0x48}, b)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err = tr.Receive(ctx, 2, time.Second)
	assert.Equal(t, fault.Transport, fault.KindOf(err))
	assert.Equal(t, fault.CodeCellular, fault.CodeOf(err))
}

func TestNetReceiveTimeout(t *testing.T) {
	t.Parallel()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	host, port := hostPort(t, pc.LocalAddr())
	tr := NewUDP(log2.NewTest(t, log2.LDebug), Config{Tunnel: WiFi, Host: host, Port: port})
	ctx := context.Background()
	require.NoError(t, tr.Open(ctx))
	defer tr.Close()
	_, err = tr.Receive(ctx, 16, 20*time.Millisecond)
	assert.True(t, fault.Retryable(err))
	assert.Equal(t, fault.CodeWiFi, fault.CodeOf(err))
}

func TestNew(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	cases := []struct {
		name string
		c    Config
		ok   bool
	}{
		{"udp", Config{Protocol: UDP, Tunnel: WiFi}, true},
		{"tcp", Config{Protocol: TCP, Tunnel: Cellular}, true},
		{"mqtt", Config{Protocol: MQTT, Tunnel: WiFi, MAC: []byte{1, 2, 3, 4, 5, 6}, MQTT: MQTTConfig{
			BrokerURL: "tcp://127.0.0.1:1883", PublishTopic: "p", SubscribeTopic: "s/"}}, true},
		{"mqtt-no-topic", Config{Protocol: MQTT, Tunnel: WiFi, MAC: []byte{1, 2, 3, 4, 5, 6}, MQTT: MQTTConfig{
			BrokerURL: "tcp://127.0.0.1:1883"}}, false},
		{"bad-protocol", Config{Protocol: "sctp", Tunnel: WiFi}, false},
		{"bad-tunnel", Config{Protocol: UDP, Tunnel: "lora"}, false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			tr, err := New(log, c.c)
			if c.ok {
				require.NoError(t, err)
				assert.NotNil(t, tr)
			} else {
				assert.Error(t, err)
				assert.Nil(t, tr)
			}
		})
	}
}

func TestReceiveRetry(t *testing.T) {
	t.Parallel()
	sleeps := 0
	r := helpers.Retry{Attempts: 3, Delay: time.Second, Sleep: func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}}
	ctx := context.Background()

	l := NewLoopback(func(b []byte) [][]byte { return [][]byte{b} })
	require.NoError(t, l.Open(ctx))
	require.NoError(t, l.Send(ctx, []byte{7}))
	l.FailReceives = 2
	b, err := ReceiveRetry(ctx, l, 16, time.Second, r)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, b)
	assert.Equal(t, 3, l.Receives)
	assert.Equal(t, 3, sleeps)

	l.FailReceives = 5
	_, err = ReceiveRetry(ctx, l, 16, time.Second, r)
	assert.True(t, fault.Retryable(err))
	assert.Equal(t, 6, l.Receives)
	assert.Equal(t, "receive: injected failure", fault.As(err).Msg)
}

func TestReceiveRetryCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewLoopback(nil)
	require.NoError(t, l.Open(ctx))
	r := DefaultRetry()
	r.Sleep = helpers.SleepContext
	_, err := ReceiveRetry(ctx, l, 16, time.Second, r)
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.Equal(t, 0, l.Receives)
}
