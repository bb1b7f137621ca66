// Package fault is the error taxonomy shared by remote (sdu) and local (ldu) protocols.
// Every error carries a Kind, which decides retry policy, and a one byte Code
// reported to logs and to the counterpart.
package fault

import (
	"fmt"

	"github.com/juju/errors"
)

type Kind uint8

const (
	_ Kind = iota
	// caller or configuration misuse, never retried
	Local
	// CRC or tag mismatch, message discarded
	Integrity
	// primitive failure, fatal to current operation
	Crypto
	// backend link failure, retried with bounded attempts
	Transport
	// explicit error status from counterpart, surfaced verbatim
	Peer
	// local link pairing digest mismatch
	Auth
	// local link response status is not success
	DataTransfer
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Integrity:
		return "integrity"
	case Crypto:
		return "crypto"
	case Transport:
		return "transport"
	case Peer:
		return "peer"
	case Auth:
		return "auth"
	case DataTransfer:
		return "data-transfer"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Status bytes on the wire.
const (
	StatusPacketOK          byte = 0x00
	StatusInvalidMAC        byte = 0xA0
	StatusInvalidHeader     byte = 0xA1
	StatusInvalidLength     byte = 0xA2
	StatusIntegrity         byte = 0xA3
	StatusVerification      byte = 0xA4
	StatusInvalidSensorData byte = 0xB0
	StatusFormat            byte = 0xB1
	StatusSuccess           byte = 0xCC
)

// Local result codes.
// Inbound parse failures are ParseBase+reason, outbound build failures are BuildBase+reason.
const (
	ParseBase byte = 0xD0
	BuildBase byte = 0xE0

	ReasonInvalidHeader byte = 0x00
	ReasonInvalidLength byte = 0x01
	ReasonIntegrity     byte = 0x02
	ReasonDataTransfer  byte = 0x03

	CodeCrypto           byte = 0xCF
	CodeCellular         byte = 0x96
	CodeWiFi             byte = 0x97
	CodeRS485            byte = 0x48
	CodeBLE              byte = 0xBE
	CodeInvalidAuth      byte = 0xBA
	CodeBadConfiguration byte = 0xBC
)

type Error struct {
	Kind Kind
	Code byte
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s error code=%02x", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s error code=%02x: %s", e.Kind, e.Code, e.Msg)
}

func New(kind Kind, code byte, format string, args ...interface{}) error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func InvalidHeader(base byte, header uint16) error {
	return New(Local, base+ReasonInvalidHeader, "invalid header=%04x", header)
}

func InvalidLength(base byte, header uint16, expect, actual int) error {
	return New(Local, base+ReasonInvalidLength, "header=%04x invalid length expected=%d actual=%d", header, expect, actual)
}

func BadConfiguration(format string, args ...interface{}) error {
	return New(Local, CodeBadConfiguration, format, args...)
}

func IntegrityMismatch(base byte, format string, args ...interface{}) error {
	return New(Integrity, base+ReasonIntegrity, format, args...)
}

func CryptoFailure(err error, op string) error {
	return &Error{Kind: Crypto, Code: CodeCrypto, Msg: op + ": " + err.Error()}
}

// TransportFailure keeps backend error text, code tells which link failed.
func TransportFailure(code byte, err error, op string) error {
	return &Error{Kind: Transport, Code: code, Msg: op + ": " + err.Error()}
}

func PeerStatus(status byte) error {
	return &Error{Kind: Peer, Code: status, Msg: StatusString(status)}
}

func StatusString(status byte) string {
	switch status {
	case StatusPacketOK:
		return "packet ok"
	case StatusInvalidMAC:
		return "invalid mac"
	case StatusInvalidHeader:
		return "invalid header"
	case StatusInvalidLength:
		return "invalid number of bytes"
	case StatusIntegrity:
		return "integrity error"
	case StatusVerification:
		return "verification error"
	case StatusInvalidSensorData:
		return "invalid number of sensor bytes"
	case StatusFormat:
		return "format error"
	case StatusSuccess:
		return "success"
	}
	return fmt.Sprintf("status(%02x)", status)
}

// Extract *Error under juju annotations, nil if err is not from this package.
func As(err error) *Error {
	if fe, ok := errors.Cause(err).(*Error); ok {
		return fe
	}
	return nil
}

func KindOf(err error) Kind {
	if fe := As(err); fe != nil {
		return fe.Kind
	}
	return 0
}

func IsKind(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

func CodeOf(err error) byte {
	if err == nil {
		return StatusPacketOK
	}
	if fe := As(err); fe != nil {
		return fe.Code
	}
	return CodeBadConfiguration
}

// Only transport errors are worth repeating the same operation.
func Retryable(err error) bool { return IsKind(err, Transport) }
