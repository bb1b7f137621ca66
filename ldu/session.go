package ldu

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/log2"
	"github.com/iotartic/sunit/transport"
	"github.com/juju/errors"
)

const DefaultReceiveTimeout = 5 * time.Second

type Config struct {
	Mode     Mode
	MAC      []byte
	Password string
	// BLE service and characteristic identifiers, digest input for both modes
	ServiceUUID        string
	CharacteristicUUID string
	ReceiveTimeout     time.Duration
}

// Session is sensor side of local protocol over one link.
// Link is opened by Open and kept until Close.
type Session struct {
	config Config
	log    *log2.Log
	link   transport.Transporter
	digest [DigestLength]byte
}

func NewSession(log *log2.Log, config Config, link transport.Transporter) (*Session, error) {
	switch config.Mode {
	case BLE, RS485:
	default:
		return nil, badMode(config.Mode)
	}
	if len(config.MAC) != MACAddressLength {
		return nil, fault.BadConfiguration("device mac length=%d expected=%d", len(config.MAC), MACAddressLength)
	}
	if config.Password == "" {
		return nil, fault.BadConfiguration("local link requires password")
	}
	if link == nil {
		return nil, fault.BadConfiguration("local link nil")
	}
	if config.ReceiveTimeout == 0 {
		config.ReceiveTimeout = DefaultReceiveTimeout
	}
	s := &Session{config: config, log: log, link: link}
	s.digest = PairingDigest(config.ServiceUUID, config.CharacteristicUUID, config.Password)
	return s, nil
}

func (s *Session) Mode() Mode     { return s.config.Mode }
func (s *Session) Digest() []byte { return append([]byte(nil), s.digest[:]...) }

func (s *Session) Open(ctx context.Context) error {
	return errors.Annotate(s.link.Open(ctx), "ldu open")
}

func (s *Session) Close() error { return s.link.Close() }

func (s *Session) frame(h Header, payload []byte) ([]byte, error) {
	f, err := Build(s.config.Password, h, payload)
	if err != nil {
		return nil, err
	}
	if s.config.Mode == RS485 {
		f = Prefix(s.digest[:], f)
	}
	return f, nil
}

func (s *Session) send(ctx context.Context, h Header, payload []byte) error {
	f, err := s.frame(h, payload)
	if err != nil {
		return err
	}
	s.log.Frame("ldu send "+h.String(), f)
	return errors.Annotatef(s.link.Send(ctx, f), "ldu send %s", h)
}

func (s *Session) SendMAC(ctx context.Context) error {
	return s.send(ctx, SensorMacAddressValue, s.config.MAC)
}

func (s *Session) SendData(ctx context.Context, data []byte) error {
	return s.send(ctx, SensorDataValue, data)
}

// Receive reads one gateway frame and returns its header.
func (s *Session) Receive(ctx context.Context) (Header, error) {
	b, err := s.link.Receive(ctx, MaxFrame, s.config.ReceiveTimeout)
	if err != nil {
		return 0, errors.Annotate(err, "ldu receive")
	}
	s.log.Frame("ldu recv", b)
	return ParseResponse(s.config.Mode, s.digest[:], b)
}

// Exchange sends data and expects CoreResponse with success.
func (s *Session) Exchange(ctx context.Context, data []byte) error {
	if err := s.SendData(ctx, data); err != nil {
		return err
	}
	h, err := s.Receive(ctx)
	if err != nil {
		return err
	}
	if h != CoreResponse {
		return fault.InvalidHeader(fault.ParseBase, uint16(h))
	}
	return nil
}

// Answer serves one gateway poll: MAC request gets MAC, data request gets report().
func (s *Session) Answer(ctx context.Context, report func() ([]byte, error)) (Header, error) {
	b, err := s.link.Receive(ctx, MaxFrame, s.config.ReceiveTimeout)
	if err != nil {
		return 0, errors.Annotate(err, "ldu poll")
	}
	if s.config.Mode == RS485 {
		if b, err = StripPrefix(s.digest[:], b); err != nil {
			return 0, err
		}
	}
	if len(b) < HeaderLength {
		return 0, fault.InvalidLength(fault.ParseBase, 0, HeaderLength, len(b))
	}
	h := Header(binary.BigEndian.Uint16(b))
	switch h {
	case SensorMacAddressRequest:
		return h, s.SendMAC(ctx)
	case SensorDataRequest:
		data, err := report()
		if err != nil {
			return h, errors.Annotate(err, "ldu report")
		}
		return h, s.SendData(ctx, data)
	}
	return h, fault.InvalidHeader(fault.ParseBase, uint16(h))
}
