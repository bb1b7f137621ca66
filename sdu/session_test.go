package sdu

import (
	"context"
	"testing"
	"time"

	"github.com/iotartic/sunit/crypto2"
	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/helpers"
	"github.com/iotartic/sunit/log2"
	"github.com/iotartic/sunit/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tenv struct {
	log       *log2.Log
	now       time.Time
	link      *transport.Loopback
	responder *Responder
	session   *Session
	sleeps    int
	reports   [][]byte
}

func (env *tenv) sleep(ctx context.Context, d time.Duration) error {
	env.sleeps++
	return nil
}

func newTestEnv(t testing.TB, client Config, server ResponderConfig) *tenv {
	env := &tenv{
		log: log2.NewTest(t, log2.LDebug),
		now: time.Date(2024, 2, 1, 10, 30, 0, 0, time.UTC),
	}
	server.Now = func() time.Time { return env.now }
	server.OnReport = func(mac, report []byte) error {
		env.reports = append(env.reports, report)
		return nil
	}
	env.responder = NewResponder(env.log, server)
	env.link = transport.NewLoopback(env.responder.Handle)
	client.MAC = testMAC
	client.Retry = helpers.Retry{Attempts: 3, Delay: time.Second, Sleep: env.sleep, Retryable: fault.Retryable}
	// client system clock is far off until date sync
	clock := &OffsetClock{Source: func() time.Time { return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC) }}
	var err error
	env.session, err = NewSession(env.log, client, env.link, clock)
	require.NoError(t, err)
	return env
}

func secureConfig() (Config, ResponderConfig) {
	return Config{Salt: "salt", Password: "secret", Confidential: true, VerifyServer: true},
		ResponderConfig{MAC: testMAC, Salt: "salt", Password: "secret"}
}

func TestHandshake(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		adjust func(*Config, *ResponderConfig)
	}{
		{"default", func(*Config, *ResponderConfig) {}},
		{"kdf", func(c *Config, s *ResponderConfig) { c.SessionKDF, s.SessionKDF = true, true }},
		{"no-verify", func(c *Config, s *ResponderConfig) { c.VerifyServer = false }},
		{"per-message-iv", func(c *Config, s *ResponderConfig) { c.IVMode, s.IVMode = IVPerMessage, IVPerMessage }},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			client, server := secureConfig()
			c.adjust(&client, &server)
			env := newTestEnv(t, client, server)
			ctx := context.Background()
			require.NoError(t, env.session.Handshake(ctx))
			assert.Equal(t, Established, env.session.State())
			assert.Equal(t, env.now, env.session.Clock().Now())
			key := env.session.Key()
			assert.Len(t, key, crypto2.KeySize)
			assert.Equal(t, env.responder.Key(), key)
			assert.False(t, env.link.IsOpen(), "transport closed after handshake")

			report := []byte("telemetry report")
			status, err := env.session.Send(ctx, report)
			require.NoError(t, err)
			assert.Equal(t, fault.StatusSuccess, status)
			require.Len(t, env.reports, 1)
			assert.Equal(t, report, env.reports[0][:len(report)])
			assert.False(t, env.link.IsOpen())
		})
	}
}

func TestHandshakeKeysDifferPerRun(t *testing.T) {
	t.Parallel()
	client, server := secureConfig()
	env := newTestEnv(t, client, server)
	require.NoError(t, env.session.Handshake(context.Background()))
	k1 := env.session.Key()
	require.NoError(t, env.session.Handshake(context.Background()))
	k2 := env.session.Key()
	assert.Equal(t, env.responder.Key(), k2)
	assert.NotEqual(t, k1, k2)
}

func TestHandshakeWrongPassword(t *testing.T) {
	t.Parallel()
	client, server := secureConfig()
	server.Password = "other"
	env := newTestEnv(t, client, server)
	err := env.session.Handshake(context.Background())
	require.Error(t, err)
	assert.Equal(t, Idle, env.session.State())
	assert.Nil(t, env.session.Key())
	assert.False(t, env.link.IsOpen())
}

// Server proof is garbage but well formed: accepted only without VerifyServer.
func TestServerVerifyCompare(t *testing.T) {
	t.Parallel()
	for _, verify := range []bool{false, true} {
		verify := verify
		t.Run(map[bool]string{false: "reference", true: "compare"}[verify], func(t *testing.T) {
			t.Parallel()
			client, server := secureConfig()
			client.VerifyServer = verify
			env := newTestEnv(t, client, server)
			handler := env.link.Handler
			env.link.Handler = func(b []byte) [][]byte {
				replies := handler(b)
				if _, h, _, _ := ParseRequest(b); h == ClientVerify {
					f, err := BuildReply(ServerVerify, make([]byte, ServerVerifyLength))
					require.NoError(t, err)
					return [][]byte{f.Bytes()}
				}
				return replies
			}
			err := env.session.Handshake(context.Background())
			if !verify {
				require.NoError(t, err)
				assert.Equal(t, Established, env.session.State())
				return
			}
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.Peer))
			assert.Equal(t, fault.StatusVerification, fault.CodeOf(err))
			assert.Equal(t, Idle, env.session.State())
			assert.False(t, env.link.IsOpen())
		})
	}
}

func TestReceiveRetry(t *testing.T) {
	t.Parallel()
	t.Run("third-attempt", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Config{}, ResponderConfig{})
		env.link.FailReceives = 2
		status, err := env.session.Send(context.Background(), []byte{1, 2, 3})
		require.NoError(t, err)
		assert.Equal(t, fault.StatusSuccess, status)
		assert.Equal(t, 3, env.link.Receives)
		assert.Equal(t, 3, env.sleeps)
	})
	t.Run("exhausted", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Config{}, ResponderConfig{})
		env.link.FailReceives = 100
		_, err := env.session.Send(context.Background(), []byte{1, 2, 3})
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.Transport))
		assert.Equal(t, 3, env.link.Receives)
		assert.False(t, env.link.IsOpen())
	})
}

func TestPlainSend(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{}, ResponderConfig{MAC: testMAC})
	status, err := env.session.Send(context.Background(), []byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, fault.StatusSuccess, status)
	require.Len(t, env.reports, 1)
	assert.Equal(t, []byte("plain"), env.reports[0])
	f, err := Build(testMAC, SensorData, []byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, f.Bytes(), env.link.Sent[0])
}

func TestSendErrors(t *testing.T) {
	t.Parallel()
	t.Run("before-handshake", func(t *testing.T) {
		t.Parallel()
		client, server := secureConfig()
		env := newTestEnv(t, client, server)
		_, err := env.session.Send(context.Background(), []byte{1})
		assert.Equal(t, fault.CodeBadConfiguration, fault.CodeOf(err))
		assert.Equal(t, 0, env.link.Opens)
	})
	t.Run("peer-mac", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Config{}, ResponderConfig{MAC: helpers.MustHex("010203040506")})
		_, err := env.session.Send(context.Background(), []byte{1})
		assert.True(t, fault.IsKind(err, fault.Peer))
		assert.Equal(t, fault.StatusInvalidMAC, fault.CodeOf(err))
		assert.False(t, env.link.IsOpen())
	})
	t.Run("open", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Config{}, ResponderConfig{})
		env.link.FailOpen = true
		_, err := env.session.Send(context.Background(), []byte{1})
		assert.True(t, fault.IsKind(err, fault.Transport))
	})
	t.Run("report-rejected", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Config{}, ResponderConfig{})
		env.responder.config.OnReport = func(mac, report []byte) error { return fault.BadConfiguration("nope") }
		status, err := env.session.Send(context.Background(), []byte{1})
		assert.Equal(t, fault.StatusFormat, status)
		assert.True(t, fault.IsKind(err, fault.Peer))
	})
	t.Run("session-key-survives-exchange-failure", func(t *testing.T) {
		t.Parallel()
		client, server := secureConfig()
		env := newTestEnv(t, client, server)
		require.NoError(t, env.session.Handshake(context.Background()))
		env.link.FailSend = true
		_, err := env.session.Send(context.Background(), []byte{1})
		assert.True(t, fault.IsKind(err, fault.Transport))
		assert.Equal(t, Established, env.session.State())
		env.link.FailSend = false
		_, err = env.session.Send(context.Background(), []byte{1})
		assert.NoError(t, err)
	})
}

func TestHandshakePlainMode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{Password: "x"}, ResponderConfig{})
	err := env.session.Handshake(context.Background())
	assert.Equal(t, fault.CodeBadConfiguration, fault.CodeOf(err))
}

func TestNewSessionValidation(t *testing.T) {
	t.Parallel()
	link := transport.NewLoopback(nil)
	_, err := NewSession(nil, Config{MAC: testMAC[:3]}, link, nil)
	assert.Error(t, err)
	_, err = NewSession(nil, Config{MAC: testMAC, Confidential: true}, link, nil)
	assert.Error(t, err)
	_, err = NewSession(nil, Config{MAC: testMAC}, nil, nil)
	assert.Error(t, err)
}
