// Package sdu implements the remote secure communication protocol between
// a sensing unit and its server: frame codec, date sync, password authenticated
// key exchange and encrypted telemetry exchange.
package sdu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

type Header uint16

// client -> server
const (
	ClientHello   Header = 0x4348
	ClientVerify  Header = 0x4356
	DateRequest   Header = 0x5452
	SensorEncData Header = 0x5345
	SensorData    Header = 0x5350
)

// server -> client
const (
	ServerHello    Header = 0x5348
	ServerVerify   Header = 0x5356
	ErrorCode      Header = 0x4552
	DateUpdate     Header = 0x5455
	SensorResponse Header = 0x5352
)

const (
	MACLength    = 6
	HeaderLength = 2
	CRCLength    = 1

	ClientHelloLength    = 64
	ClientVerifyLength   = 32
	ServerHelloLength    = 80
	ServerVerifyLength   = 16
	DateUpdateLength     = 16
	ErrorCodeLength      = 1
	SensorResponseLength = 1

	// peer public point is followed by verify value V1
	VerifyValueOffset = 64
	VerifyValueLength = 16
	ChallengeLength   = 16

	MaxPayload = 240
	MaxFrame   = MACLength + HeaderLength + MaxPayload + CRCLength
)

// payload length by header, variable = -1
var (
	requestLength = map[Header]int{
		ClientHello:   ClientHelloLength,
		ClientVerify:  ClientVerifyLength,
		DateRequest:   0,
		SensorEncData: -1,
		SensorData:    -1,
	}
	replyLength = map[Header]int{
		ServerHello:    ServerHelloLength,
		ServerVerify:   ServerVerifyLength,
		ErrorCode:      ErrorCodeLength,
		DateUpdate:     DateUpdateLength,
		SensorResponse: SensorResponseLength,
	}
)

func (h Header) String() string {
	switch h {
	case ClientHello:
		return "ClientHello"
	case ClientVerify:
		return "ClientVerify"
	case DateRequest:
		return "DateRequest"
	case SensorEncData:
		return "SensorEncData"
	case SensorData:
		return "SensorData"
	case ServerHello:
		return "ServerHello"
	case ServerVerify:
		return "ServerVerify"
	case ErrorCode:
		return "ErrorCode"
	case DateUpdate:
		return "DateUpdate"
	case SensorResponse:
		return "SensorResponse"
	}
	return fmt.Sprintf("Header(%04x)", uint16(h))
}

var allHeaders = []Header{
	ClientHello, ClientVerify, DateRequest, SensorEncData, SensorData,
	ServerHello, ServerVerify, ErrorCode, DateUpdate, SensorResponse,
}

// ParseHeader accepts name (case insensitive) or 4 hex digits.
func ParseHeader(s string) (Header, error) {
	for _, h := range allHeaders {
		if strings.EqualFold(h.String(), s) {
			return h, nil
		}
	}
	if x, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 16); err == nil {
		h := Header(x)
		if h.IsRequest() || h.IsReply() {
			return h, nil
		}
	}
	return 0, errors.NotValidf("sdu header=%q", s)
}

func (h Header) IsRequest() bool { _, ok := requestLength[h]; return ok }
func (h Header) IsReply() bool   { _, ok := replyLength[h]; return ok }
