package sdu

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/iotartic/sunit/crc"
	"github.com/iotartic/sunit/crypto2"
	"github.com/iotartic/sunit/fault"
	"github.com/juju/errors"
)

var ErrFrameOverflow = errors.New("sdu: frame larger than MaxFrame")

// Frame is bounded storage for one wire frame.
type Frame struct {
	b [MaxFrame]byte
	l int
}

func FrameFromBytes(b []byte) (Frame, error) {
	f := Frame{}
	err := f.append(b...)
	return f, err
}

func FrameFromHex(s string) (Frame, error) {
	b, err := hex.DecodeString(strings.Replace(s, " ", "", -1))
	if err != nil {
		return Frame{}, errors.Annotatef(err, "frame hex=%s", s)
	}
	return FrameFromBytes(b)
}

func (f *Frame) Bytes() []byte { return f.b[:f.l] }
func (f *Frame) Len() int      { return f.l }

func (f *Frame) append(p ...byte) error {
	if f.l+len(p) > MaxFrame {
		return errors.Annotatef(ErrFrameOverflow, "length=%d", f.l+len(p))
	}
	f.l += copy(f.b[f.l:], p)
	return nil
}

func (f *Frame) appendHeader(h Header) error {
	var hb [HeaderLength]byte
	binary.BigEndian.PutUint16(hb[:], uint16(h))
	return f.append(hb[:]...)
}

// Hex in groups of 8 for logs.
func (f *Frame) Format() string {
	h := hex.EncodeToString(f.Bytes())
	ss := make([]string, 0, len(h)/8+1)
	for len(h) > 8 {
		ss = append(ss, h[:8])
		h = h[8:]
	}
	ss = append(ss, h)
	return strings.Join(ss, " ")
}

func checkLength(base byte, lengths map[Header]int, h Header, n int) error {
	expect, ok := lengths[h]
	switch {
	case !ok:
		return fault.InvalidHeader(base, uint16(h))
	case expect >= 0 && n != expect:
		return fault.InvalidLength(base, uint16(h), expect, n)
	case expect < 0 && (n < 1 || n > MaxPayload):
		return fault.InvalidLength(base, uint16(h), MaxPayload, n)
	case h == SensorEncData && n%crypto2.BlockSize != 0:
		return fault.InvalidLength(base, uint16(h), crypto2.PaddedLen(n), n)
	}
	return nil
}

// Build client->server frame MAC(6) Header(2) Payload CRC8(payload).
// Length is checked before CRC is computed.
func Build(mac []byte, h Header, payload []byte) (Frame, error) {
	if len(mac) != MACLength {
		return Frame{}, fault.BadConfiguration("device mac length=%d expected=%d", len(mac), MACLength)
	}
	if err := checkLength(fault.BuildBase, requestLength, h, len(payload)); err != nil {
		return Frame{}, err
	}
	f := Frame{}
	_ = f.append(mac...)
	_ = f.appendHeader(h)
	_ = f.append(payload...)
	err := f.append(crc.CRC8(payload))
	return f, err
}

// BuildReply is server->client frame Header(2) Payload CRC8(payload).
func BuildReply(h Header, payload []byte) (Frame, error) {
	if err := checkLength(fault.BuildBase, replyLength, h, len(payload)); err != nil {
		return Frame{}, err
	}
	f := Frame{}
	_ = f.appendHeader(h)
	_ = f.append(payload...)
	err := f.append(crc.CRC8(payload))
	return f, err
}

func split(lengths map[Header]int, b []byte, reply bool) (Header, []byte, error) {
	if len(b) < HeaderLength+CRCLength {
		return 0, nil, fault.InvalidLength(fault.ParseBase, 0, HeaderLength+CRCLength, len(b))
	}
	h := Header(binary.BigEndian.Uint16(b))
	body := b[HeaderLength:]
	// server firmware sends ErrorCode without CRC
	if reply && h == ErrorCode && len(body) == ErrorCodeLength {
		return h, append([]byte(nil), body...), nil
	}
	payload := body[:len(body)-CRCLength]
	if err := checkLength(fault.ParseBase, lengths, h, len(payload)); err != nil {
		return h, nil, err
	}
	if sum := crc.CRC8(payload); sum != body[len(body)-1] {
		return h, nil, fault.IntegrityMismatch(fault.ParseBase, "header=%s crc8 expected=%02x actual=%02x", h, sum, body[len(body)-1])
	}
	return h, append([]byte(nil), payload...), nil
}

// Parse server->client frame: header lookup, length check, then CRC.
func Parse(b []byte) (Header, []byte, error) { return split(replyLength, b, true) }

// ParseRequest is server side of Build.
func ParseRequest(b []byte) (mac []byte, h Header, payload []byte, err error) {
	if len(b) < MACLength {
		return nil, 0, nil, fault.InvalidLength(fault.ParseBase, 0, MACLength+HeaderLength+CRCLength, len(b))
	}
	mac = append([]byte(nil), b[:MACLength]...)
	h, payload, err = split(requestLength, b[MACLength:], false)
	return mac, h, payload, err
}

// Expect parses reply and requires header want.
// ErrorCode from peer becomes fault.Peer with the peer status byte.
func Expect(b []byte, want Header) ([]byte, error) {
	h, payload, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if h == ErrorCode {
		return nil, fault.PeerStatus(payload[0])
	}
	if h != want {
		return nil, fault.InvalidHeader(fault.ParseBase, uint16(h))
	}
	return payload, nil
}
