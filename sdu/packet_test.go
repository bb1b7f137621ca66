package sdu

import (
	"math/rand"
	"testing"

	"github.com/iotartic/sunit/crc"
	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMAC = helpers.MustHex("aabbccddeeff")

func TestBuild(t *testing.T) {
	t.Parallel()
	type Case struct {
		name      string
		header    Header
		payload   []byte
		expectLen int
		expectErr byte
	}
	cases := []Case{
		{"date-request", DateRequest, nil, 6 + 2 + 0 + 1, 0},
		{"client-hello", ClientHello, make([]byte, 64), 6 + 2 + 64 + 1, 0},
		{"client-hello-short", ClientHello, make([]byte, 63), 0, fault.BuildBase + fault.ReasonInvalidLength},
		{"client-verify", ClientVerify, make([]byte, 32), 6 + 2 + 32 + 1, 0},
		{"client-verify-long", ClientVerify, make([]byte, 33), 0, fault.BuildBase + fault.ReasonInvalidLength},
		{"sensor-data", SensorData, make([]byte, 10), 19, 0},
		{"sensor-data-empty", SensorData, nil, 0, fault.BuildBase + fault.ReasonInvalidLength},
		{"sensor-data-overflow", SensorData, make([]byte, MaxPayload+1), 0, fault.BuildBase + fault.ReasonInvalidLength},
		{"sensor-data-max", SensorData, make([]byte, MaxPayload), MaxFrame, 0},
		{"sensor-enc-data", SensorEncData, make([]byte, 32), 6 + 2 + 32 + 1, 0},
		{"sensor-enc-data-unaligned", SensorEncData, make([]byte, 20), 0, fault.BuildBase + fault.ReasonInvalidLength},
		{"reply-header", ServerHello, make([]byte, 80), 0, fault.BuildBase + fault.ReasonInvalidHeader},
		{"unknown-header", Header(0x1234), nil, 0, fault.BuildBase + fault.ReasonInvalidHeader},
	}
	helpers.RandUnix().Shuffle(len(cases), func(i, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			f, err := Build(testMAC, c.header, c.payload)
			if c.expectErr != 0 {
				require.Error(t, err)
				assert.True(t, fault.IsKind(err, fault.Local))
				assert.Equal(t, c.expectErr, fault.CodeOf(err))
				return
			}
			require.NoError(t, err)
			b := f.Bytes()
			assert.Equal(t, c.expectLen, f.Len())
			assert.Equal(t, testMAC, b[:6])
			assert.Equal(t, byte(c.header>>8), b[6])
			assert.Equal(t, byte(c.header), b[7])
			assert.Equal(t, crc.CRC8(c.payload), b[len(b)-1])

			mac, h, payload, err := ParseRequest(b)
			require.NoError(t, err)
			assert.Equal(t, testMAC, mac)
			assert.Equal(t, c.header, h)
			assert.Equal(t, len(c.payload), len(payload))
		})
	}
}

func TestBuildBadMAC(t *testing.T) {
	t.Parallel()
	_, err := Build(testMAC[:5], DateRequest, nil)
	assert.Equal(t, fault.CodeBadConfiguration, fault.CodeOf(err))
}

// 10 byte telemetry from AA:BB:CC:DD:EE:FF is 19 bytes, corrupt CRC is integrity error.
func TestSensorDataScenario(t *testing.T) {
	t.Parallel()
	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	f, err := Build(testMAC, SensorData, payload)
	require.NoError(t, err)
	require.Equal(t, 19, f.Len())
	b := append([]byte(nil), f.Bytes()...)
	b[18] ^= 0xff
	_, _, _, err = ParseRequest(b)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Integrity))
}

func TestParseReply(t *testing.T) {
	t.Parallel()
	rnd := rand.New(rand.NewSource(3))
	for h, n := range replyLength {
		payload := make([]byte, n)
		rnd.Read(payload)
		f, err := BuildReply(h, payload)
		require.NoError(t, err, h.String())
		h2, p2, err := Parse(f.Bytes())
		require.NoError(t, err, h.String())
		assert.Equal(t, h, h2)
		assert.Equal(t, payload, p2)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	hello, err := BuildReply(ServerHello, make([]byte, 80))
	require.NoError(t, err)
	cases := []struct {
		name  string
		input []byte
		kind  fault.Kind
		code  byte
	}{
		{"short", []byte{0x53}, fault.Local, fault.ParseBase + fault.ReasonInvalidLength},
		{"unknown-header", []byte{0x12, 0x34, 0x00}, fault.Local, fault.ParseBase + fault.ReasonInvalidHeader},
		{"request-header", []byte{0x43, 0x48, 0x00}, fault.Local, fault.ParseBase + fault.ReasonInvalidHeader},
		{"truncated", hello.Bytes()[:hello.Len()-2], fault.Local, fault.ParseBase + fault.ReasonInvalidLength},
		// length is checked before CRC: bad CRC and bad length reports length
		{"length-before-crc", append(append([]byte(nil), hello.Bytes()...), 0xff), fault.Local, fault.ParseBase + fault.ReasonInvalidLength},
		{"crc", func() []byte {
			b := append([]byte(nil), hello.Bytes()...)
			b[len(b)-1] ^= 1
			return b
		}(), fault.Integrity, fault.ParseBase + fault.ReasonIntegrity},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := Parse(c.input)
			require.Error(t, err)
			assert.Equal(t, c.kind, fault.KindOf(err))
			assert.Equal(t, c.code, fault.CodeOf(err))
		})
	}
}

func TestSingleBitFlipDetected(t *testing.T) {
	t.Parallel()
	rnd := rand.New(rand.NewSource(4))
	payload := make([]byte, 32)
	rnd.Read(payload)
	f, err := Build(testMAC, ClientVerify, payload)
	require.NoError(t, err)
	start := MACLength + HeaderLength
	for bit := 0; bit < len(payload)*8; bit++ {
		b := append([]byte(nil), f.Bytes()...)
		b[start+bit/8] ^= 1 << uint(bit%8)
		_, _, _, err := ParseRequest(b)
		assert.True(t, fault.IsKind(err, fault.Integrity), "bit=%d", bit)
	}
}

func TestErrorCode(t *testing.T) {
	t.Parallel()
	// without CRC, as sent by server firmware
	_, err := Expect([]byte{0x45, 0x52, 0xa3}, ServerHello)
	assert.True(t, fault.IsKind(err, fault.Peer))
	assert.Equal(t, fault.StatusIntegrity, fault.CodeOf(err))

	f, err := BuildReply(ErrorCode, []byte{fault.StatusInvalidMAC})
	require.NoError(t, err)
	_, err = Expect(f.Bytes(), SensorResponse)
	assert.Equal(t, fault.StatusInvalidMAC, fault.CodeOf(err))

	f, err = BuildReply(SensorResponse, []byte{fault.StatusSuccess})
	require.NoError(t, err)
	_, err = Expect(f.Bytes(), ServerVerify)
	assert.Equal(t, fault.ParseBase+fault.ReasonInvalidHeader, fault.CodeOf(err))
	p, err := Expect(f.Bytes(), SensorResponse)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xcc}, p)
}

func TestFrameOverflow(t *testing.T) {
	t.Parallel()
	_, err := FrameFromBytes(make([]byte, MaxFrame+1))
	require.Error(t, err)
	f, err := FrameFromHex("4552 a3")
	require.NoError(t, err)
	assert.Equal(t, "4552a3", f.Format())
	f, err = FrameFromHex("aabbccddeeff545200")
	require.NoError(t, err)
	assert.Equal(t, "aabbccdd eeff5452 00", f.Format())
}

func TestParseHeader(t *testing.T) {
	t.Parallel()
	for _, h := range allHeaders {
		got, err := ParseHeader(h.String())
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
	h, err := ParseHeader("sensordata")
	require.NoError(t, err)
	assert.Equal(t, SensorData, h)
	h, err = ParseHeader("0x4348")
	require.NoError(t, err)
	assert.Equal(t, ClientHello, h)
	_, err = ParseHeader("1234")
	assert.Error(t, err)
	_, err = ParseHeader("hello")
	assert.Error(t, err)
}
