package ldu

import (
	"encoding/binary"

	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/log2"
)

// Gateway is counterpart of Session, used for bench pairing and tests.
// Handle matches transport.Loopback handler signature.
type Gateway struct {
	Mode     Mode
	Password string
	Digest   [DigestLength]byte
	OnMAC    func(mac []byte)
	OnData   func(data []byte) error
	log      *log2.Log
}

func NewGateway(log *log2.Log, mode Mode, servUUID, charUUID, password string) *Gateway {
	return &Gateway{
		Mode:     mode,
		Password: password,
		Digest:   PairingDigest(servUUID, charUUID, password),
		log:      log,
	}
}

// Request builds poll frame.
func (g *Gateway) Request(h Header) []byte {
	b := make([]byte, HeaderLength)
	binary.BigEndian.PutUint16(b, uint16(h))
	if g.Mode == RS485 {
		b = Prefix(g.Digest[:], b)
	}
	return b
}

// Accept verifies sensor frame, returns header and payload.
func (g *Gateway) Accept(frame []byte) (Header, []byte, error) {
	if g.Mode == RS485 {
		var err error
		if frame, err = StripPrefix(g.Digest[:], frame); err != nil {
			return 0, nil, err
		}
	}
	return Verify(g.Password, frame)
}

func (g *Gateway) Handle(frame []byte) [][]byte {
	h, payload, err := g.Accept(frame)
	if err != nil {
		g.log.Debugf("ldu gateway drop err=%v", err)
		if fault.IsKind(err, fault.Auth) {
			return nil
		}
		return g.respond(fault.StatusIntegrity)
	}
	switch h {
	case SensorMacAddressValue:
		if g.OnMAC != nil {
			g.OnMAC(payload)
		}
		return nil
	case SensorDataValue:
		if g.OnData != nil {
			if err := g.OnData(payload); err != nil {
				g.log.Errorf("ldu gateway data err=%v", err)
				return g.respond(fault.StatusFormat)
			}
		}
		return g.respond(fault.StatusSuccess)
	}
	return nil
}

func (g *Gateway) respond(status byte) [][]byte {
	b, err := BuildResponse(g.Mode, g.Digest[:], CoreResponse, status)
	if err != nil {
		g.log.Errorf("ldu gateway respond err=%v", err)
		return nil
	}
	return [][]byte{b}
}
