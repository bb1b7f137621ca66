// Package ldu is the local protocol between a sensing unit and its gateway
// over short range radio (BLE) or wired differential link (RS485).
// No handshake: a static pairing digest and a per message CRC32 tag over
// keyed digest authenticate frames.
package ldu

import (
	"encoding/binary"
	"fmt"

	"github.com/iotartic/sunit/crc"
	"github.com/iotartic/sunit/crypto2"
	"github.com/iotartic/sunit/fault"
)

type Header uint16

const (
	SensorMacAddressRequest Header = 0x4D52
	SensorDataRequest       Header = 0x4452
	CoreResponse            Header = 0x4352

	SensorMacAddressValue Header = 0x4D56
	SensorDataValue       Header = 0x4456
)

const (
	HeaderLength     = 2
	TagLength        = 4
	StatusLength     = 1
	DigestLength     = crypto2.DigestSize
	MACAddressLength = 6

	MaxPayload = 240
	MaxFrame   = DigestLength + HeaderLength + MaxPayload + TagLength
)

func (h Header) String() string {
	switch h {
	case SensorMacAddressRequest:
		return "SensorMacAddressRequest"
	case SensorDataRequest:
		return "SensorDataRequest"
	case CoreResponse:
		return "CoreResponse"
	case SensorMacAddressValue:
		return "SensorMacAddressValue"
	case SensorDataValue:
		return "SensorDataValue"
	}
	return fmt.Sprintf("Header(%04x)", uint16(h))
}

type Mode uint8

const (
	BLE Mode = iota + 1
	RS485
)

func (m Mode) String() string {
	switch m {
	case BLE:
		return "ble"
	case RS485:
		return "rs485"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

func badMode(m Mode) error {
	return fault.New(fault.Local, fault.CodeBadConfiguration, "bad communication structure mode=%s", m)
}

// PairingDigest = HMAC(password, servUUID || charUUID), computed once per pairing.
func PairingDigest(servUUID, charUUID, password string) [DigestLength]byte {
	in := make([]byte, 0, len(servUUID)+len(charUUID))
	in = append(append(in, servUUID...), charUUID...)
	return crypto2.KeyedDigest([]byte(password), in)
}

// PairingDescriptor is text shown to installer (QR code) to pair gateway with unit.
// Password is never part of it.
func PairingDescriptor(mac []byte, servUUID, charUUID string) string {
	return fmt.Sprintf("sunit:%x:%s:%s", mac, servUUID, charUUID)
}

// Tag is CRC32 of HMAC(password, payload), 32 bits of a 256 bit digest.
func Tag(password string, payload []byte) uint32 {
	d := crypto2.KeyedDigest([]byte(password), payload)
	return crc.CRC32(d[:])
}

func checkPayload(h Header, payload []byte) error {
	switch h {
	case SensorMacAddressValue:
		if len(payload) != MACAddressLength {
			return fault.InvalidLength(fault.BuildBase, uint16(h), MACAddressLength, len(payload))
		}
	case SensorDataValue:
		if len(payload) < 1 || len(payload) > MaxPayload {
			return fault.InvalidLength(fault.BuildBase, uint16(h), MaxPayload, len(payload))
		}
	default:
		return fault.InvalidHeader(fault.BuildBase, uint16(h))
	}
	return nil
}

// Build sensor->gateway frame Header(2) Payload Tag(4, little endian).
func Build(password string, h Header, payload []byte) ([]byte, error) {
	if err := checkPayload(h, payload); err != nil {
		return nil, err
	}
	b := make([]byte, HeaderLength, HeaderLength+len(payload)+TagLength)
	binary.BigEndian.PutUint16(b, uint16(h))
	b = append(b, payload...)
	var tag [TagLength]byte
	binary.LittleEndian.PutUint32(tag[:], Tag(password, payload))
	return append(b, tag[:]...), nil
}

// Verify is gateway side of Build.
func Verify(password string, frame []byte) (Header, []byte, error) {
	if len(frame) < HeaderLength+TagLength {
		return 0, nil, fault.InvalidLength(fault.ParseBase, 0, HeaderLength+TagLength, len(frame))
	}
	h := Header(binary.BigEndian.Uint16(frame))
	payload := frame[HeaderLength : len(frame)-TagLength]
	if err := checkPayload(h, payload); err != nil {
		fe := fault.As(err)
		return h, nil, fault.New(fe.Kind, fe.Code-fault.BuildBase+fault.ParseBase, "%s", fe.Msg)
	}
	var expect [TagLength]byte
	binary.LittleEndian.PutUint32(expect[:], Tag(password, payload))
	if !crypto2.ConstantCompare(expect[:], frame[len(frame)-TagLength:]) {
		return h, nil, fault.IntegrityMismatch(fault.ParseBase, "header=%s tag mismatch", h)
	}
	return h, append([]byte(nil), payload...), nil
}

// Prefix adds pairing digest in front of frame, wired link convention.
func Prefix(digest []byte, frame []byte) []byte {
	b := make([]byte, 0, len(digest)+len(frame))
	return append(append(b, digest...), frame...)
}

// StripPrefix checks pairing digest before looking at header.
func StripPrefix(digest []byte, frame []byte) ([]byte, error) {
	if len(frame) < DigestLength+HeaderLength {
		return nil, fault.InvalidLength(fault.ParseBase, 0, DigestLength+HeaderLength, len(frame))
	}
	if !crypto2.ConstantCompare(frame[:DigestLength], digest) {
		return nil, fault.New(fault.Auth, fault.CodeInvalidAuth, "pairing digest mismatch")
	}
	return frame[DigestLength:], nil
}

// ParseResponse validates gateway frame per link convention and returns its header.
// BLE: Header(2) Status(1), status must be success.
// RS485: Digest(32) Header(2) [Status(1)], digest must match, status when present must be success.
func ParseResponse(mode Mode, digest []byte, frame []byte) (Header, error) {
	switch mode {
	case BLE:
		if len(frame) < HeaderLength+StatusLength {
			return 0, fault.InvalidLength(fault.ParseBase, 0, HeaderLength+StatusLength, len(frame))
		}
		h := Header(binary.BigEndian.Uint16(frame))
		if status := frame[HeaderLength]; status != fault.StatusSuccess {
			return h, fault.New(fault.DataTransfer, fault.ParseBase+fault.ReasonDataTransfer, "header=%s status=%02x", h, status)
		}
		return h, nil
	case RS485:
		rest, err := StripPrefix(digest, frame)
		if err != nil {
			return 0, err
		}
		h := Header(binary.BigEndian.Uint16(rest))
		if len(rest) > HeaderLength {
			if status := rest[HeaderLength]; status != fault.StatusSuccess {
				return h, fault.New(fault.DataTransfer, fault.ParseBase+fault.ReasonDataTransfer, "header=%s status=%02x", h, status)
			}
		}
		return h, nil
	}
	return 0, badMode(mode)
}

// BuildResponse is gateway side of ParseResponse.
func BuildResponse(mode Mode, digest []byte, h Header, status byte) ([]byte, error) {
	b := make([]byte, HeaderLength, HeaderLength+StatusLength)
	binary.BigEndian.PutUint16(b, uint16(h))
	b = append(b, status)
	switch mode {
	case BLE:
		return b, nil
	case RS485:
		return Prefix(digest, b), nil
	}
	return nil, badMode(mode)
}
