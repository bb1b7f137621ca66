package sdu

import (
	"context"

	"github.com/iotartic/sunit/crypto2"
	"github.com/iotartic/sunit/fault"
)

// Send frames telemetry, encrypted under session key in confidential mode,
// and returns server status byte from SensorResponse.
// Status other than success is also returned as fault.Peer error.
func (s *Session) Send(ctx context.Context, telemetry []byte) (byte, error) {
	var h Header
	var payload []byte
	if s.config.Confidential {
		if s.state != Established {
			return 0, fault.BadConfiguration("send before handshake state=%s", s.state)
		}
		ct, err := s.seal(telemetry)
		if err != nil {
			return 0, fault.CryptoFailure(err, "telemetry encrypt")
		}
		h, payload = SensorEncData, ct
	} else {
		h, payload = SensorData, telemetry
	}

	if err := s.t.Open(ctx); err != nil {
		return 0, s.abortExchange(err, "open")
	}
	if err := s.send(ctx, h, payload); err != nil {
		return 0, s.abortExchange(err, "send")
	}
	reply, err := s.receive(ctx, SensorResponse)
	if err != nil {
		return 0, s.abortExchange(err, "sensor response")
	}
	if err = s.t.Close(); err != nil {
		s.log.Errorf("sdu exchange close err=%v", err)
	}
	status := reply[0]
	if status != fault.StatusSuccess {
		return status, fault.PeerStatus(status)
	}
	return status, nil
}

// Exchange failure keeps session key, only handshake failure resets state.
func (s *Session) abortExchange(err error, step string) error {
	state, key := s.state, s.key
	s.key = nil
	err = s.abort(err, "exchange "+step)
	s.state, s.key = state, key
	return err
}

func (s *Session) seal(plain []byte) ([]byte, error) {
	switch s.config.IVMode {
	case IVPerMessage:
		rng, err := s.rng()
		if err != nil {
			return nil, err
		}
		iv := make([]byte, crypto2.BlockSize)
		if _, err = rng.Read(iv); err != nil {
			return nil, err
		}
		ct, err := crypto2.CBCEncrypt(s.key, iv, plain)
		if err != nil {
			return nil, err
		}
		return append(iv, ct...), nil
	default:
		return crypto2.CBCEncrypt(s.key, s.dailyIV(), plain)
	}
}

// Open is inverse of seal for holder of the same key, n is plaintext length.
func Open(key []byte, mode IVMode, iv, ct []byte, n int) ([]byte, error) {
	if mode == IVPerMessage {
		if len(ct) < crypto2.BlockSize {
			return nil, crypto2.ErrCipher
		}
		iv, ct = ct[:crypto2.BlockSize], ct[crypto2.BlockSize:]
	}
	if n < 0 || n > len(ct) {
		n = len(ct)
	}
	return crypto2.CBCDecrypt(key, iv, ct, n)
}
