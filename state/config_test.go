package state

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/iotartic/sunit/ldu"
	"github.com/iotartic/sunit/log2"
	"github.com/iotartic/sunit/sdu"
	"github.com/iotartic/sunit/telemetry"
	"github.com/iotartic/sunit/transport"
	"github.com/iotartic/sunit/transport/ble"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// extra text goes inside cryptography and sensors blocks, each block appears once
func standaloneConfig(crypto, sensors string) string {
	return fmt.Sprintf(`
device_type = "sensor"
standalone = true
comm_mode = "encrypted"
server_tunnel = "wifi"
protocol = "udp"
ip = "192.0.2.10"
port = 5683
device { mac = "aa:bb:cc:dd:ee:ff" }
wifi { interface = "wlan0" }
cryptography {
	server_salt = "salt"
	server_password = "secret"
	%s
}
sensors {
	air_temp = true
	lum = true
	%s
}
`, crypto, sensors)
}

var baseConfig = standaloneConfig("", "")

const localConfig = `
device_type = "sensor"
standalone = false
comm_mode = "encrypted"
local_tunnel = "rs485"
device { mac = "0a0b0c0d0e0f" }
ble { serv_uuid = "serv" char_uuid = "char" }
rs485 { device = "/dev/ttyS1" gpio_chip = "/dev/gpiochip0" de_line = 17 timeout_sec = 2 gap_ms = 30 }
cryptography { ble_password = "pairing" }
sensors { soil_moist_1 = true }
`

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, context.Context)
		expectErr string
	}
	cases := []Case{
		{"standalone", baseConfig, func(t testing.TB, ctx context.Context) {
			g := GetGlobal(ctx)
			n := g.Node
			require.NotNil(t, n)
			assert.True(t, n.Config.Standalone)
			assert.True(t, n.Config.Encrypted)
			assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, n.Config.MAC)
			assert.Equal(t, telemetry.EnabledOf(telemetry.AirTemp, telemetry.Lum), n.Config.Enabled)
			assert.Equal(t, 10*time.Second, n.Config.Sleep)
			assert.NotNil(t, n.Remote)
			assert.Nil(t, n.Local)
			assert.Nil(t, g.Outbox, "no persist root")

			tc, err := g.Config.TransportConfig()
			require.NoError(t, err)
			assert.Equal(t, transport.UDP, tc.Protocol)
			assert.Equal(t, "wlan0", tc.Interface)
			assert.Equal(t, "192.0.2.10:5683", tc.Address())
		}, ""},

		{"session", standaloneConfig(`verify_server = true iv_mode = "per_message" session_kdf = true`, "") + `
server { receive_timeout_sec = 7 retry_attempts = 5 retry_delay_sec = 2 }`,
			func(t testing.TB, ctx context.Context) {
				sc, err := GetGlobal(ctx).Config.SessionConfig()
				require.NoError(t, err)
				assert.Equal(t, 7*time.Second, sc.ReceiveTimeout)
				assert.Equal(t, 5, sc.Retry.Attempts)
				assert.Equal(t, 2*time.Second, sc.Retry.Delay)
				assert.True(t, sc.VerifyServer)
				assert.True(t, sc.SessionKDF)
				assert.Equal(t, sdu.IVPerMessage, sc.IVMode)
			}, ""},

		{"local-rs485", localConfig, func(t testing.TB, ctx context.Context) {
			g := GetGlobal(ctx)
			require.NotNil(t, g.Node.Local)
			assert.Nil(t, g.Node.Remote)
			assert.Equal(t, ldu.RS485, g.Node.Local.Mode())
			rc := g.Config.RS485Config()
			assert.Equal(t, "/dev/ttyS1", rc.Device)
			assert.Equal(t, uint32(17), rc.DELine)
			assert.Equal(t, 30*time.Millisecond, rc.Gap)
			lc, err := g.Config.LocalConfig()
			require.NoError(t, err)
			assert.Equal(t, 2*time.Second, lc.ReceiveTimeout)
		}, ""},

		{"local-ble-backend", strings.Replace(localConfig, `"rs485"`, `"ble"`, 1), nil,
			"local_tunnel=ble without characteristic backend"},

		{"include-optional", baseConfig + `
include "plain" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, ctx context.Context) {
				assert.False(t, GetGlobal(ctx).Node.Config.Encrypted)
			}, ""},

		{"include-required", baseConfig + `include "non-exist" {}`, nil, "config required name=non-exist"},

		{"static-sources", standaloneConfig("", `
	source "air_temp" { static = 2150 }
	source "lum" { static = 300 }`),
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				var d telemetry.Data
				require.NoError(t, g.Node.Source.Read(ctx, g.Node.Config.Enabled, &d))
				assert.Equal(t, telemetry.Data{AirTemp: 2150, Lum: 300}, d)
			}, ""},

		{"file-sources", standaloneConfig("", `
	source "air_temp" { path = "/sys/class/hwmon/hwmon0/temp1_input" scale = 0.1 }
	source "lum" { static = 300 }`),
			func(t testing.TB, ctx context.Context) {
				fs, ok := GetGlobal(ctx).Node.Source.(*telemetry.FileSource)
				require.True(t, ok)
				assert.Equal(t, 0.1, fs.Inputs[telemetry.AirTemp].Scale)
			}, ""},

		{"error-validate", `device_type = "core" comm_mode = "secret" standalone = true protocol = "sctp"`, nil,
			"device_type=\"core\""},
		{"error-sensor-name", standaloneConfig("", `source "wind" { static = 1 }`), nil, "sensor type=\"wind\""},
		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			ctx, g := NewContext(log)

			fs := NewMockFullReader(map[string]string{
				"test-inline":  c.input,
				"empty":        "",
				"plain":        `comm_mode = "plain"`,
				"error-syntax": "hello",
				"include-loop": `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if err == nil {
				err = g.Init(ctx, cfg)
			}
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, ctx)
				}
			} else {
				if err == nil || !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestValidateCollectsAll(t *testing.T) {
	t.Parallel()
	c := &Config{DeviceType: "core", CommMode: "x", Standalone: true, Protocol: "sctp", ServerTunnel: "lora"}
	err := c.Validate()
	require.Error(t, err)
	for _, s := range []string{"device_type", "device.mac", "comm_mode", "sensors nothing enabled", "server_tunnel", "protocol"} {
		assert.Contains(t, err.Error(), s)
	}
}

func TestConfigMAC(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input  string
		expect []byte
	}{
		{"aabbccddeeff", []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}},
		{"AA:BB:CC:DD:EE:FF", []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}},
		{"01-02-03-04-05-06", []byte{1, 2, 3, 4, 5, 6}},
		{"aabbcc", nil},
		{"zz:bb:cc:dd:ee:ff", nil},
		{"", nil},
	}
	for _, c := range cases {
		c := c
		t.Run(c.input, func(t *testing.T) {
			cfg := &Config{}
			cfg.Device.MAC = c.input
			mac, err := cfg.MAC()
			if c.expect == nil {
				assert.True(t, errors.IsNotValid(err), "err=%v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, mac)
		})
	}
}

func TestGlobalPersist(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	input := fmt.Sprintf("%s\npersist { root = %q }\n", baseConfig, root)
	fs := NewMockFullReader(map[string]string{"sunit.hcl": input})
	log := log2.NewTest(t, log2.LDebug)

	for boot := uint32(1); boot <= 2; boot++ {
		ctx, g := NewContext(log)
		cfg, err := ReadConfig(log, fs, "sunit.hcl")
		require.NoError(t, err)
		require.NoError(t, g.Init(ctx, cfg))
		require.NotNil(t, g.Outbox)
		assert.Equal(t, g.Outbox, g.Node.Outbox)
		assert.Equal(t, boot-1, g.Node.State.BootCount)
		g.Node.State.BootCount++
		require.NoError(t, g.Close())
	}
}

func TestGlobalBLE(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	ctx, g := NewContext(log)
	g.BLE, _ = ble.Pipe()
	fs := NewMockFullReader(map[string]string{"sunit.hcl": strings.Replace(localConfig, `"rs485"`, `"ble"`, 1)})
	cfg, err := ReadConfig(log, fs, "sunit.hcl")
	require.NoError(t, err)
	require.NoError(t, g.Init(ctx, cfg))
	assert.Equal(t, ldu.BLE, g.Node.Local.Mode())
	assert.Equal(t, g, GetGlobal(ctx))
}

func TestGetGlobalPanics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { GetGlobal(context.Background()) })
	ctx := context.WithValue(context.Background(), ContextKey, "wrong")
	assert.Panics(t, func() { GetGlobal(ctx) })
}

func TestConfigLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		debug  bool
		level  string
		expect log2.Level
		valid  bool
	}{
		{false, "", log2.LInfo, true},
		{false, "error", log2.LError, true},
		{false, "Debug", log2.LDebug, true},
		{true, "error", log2.LDebug, true},
		{false, "loud", log2.LError, false},
	}
	for _, c := range cases {
		cfg := &Config{LogDebug: c.debug, LogLevel: c.level}
		level, err := cfg.Level()
		if !c.valid {
			assert.Error(t, err, c.level)
			assert.Contains(t, cfg.Validate().Error(), "log_level", c.level)
			continue
		}
		require.NoError(t, err, c.level)
		assert.Equal(t, c.expect, level, c.level)
	}
}
