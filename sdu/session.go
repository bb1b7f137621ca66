package sdu

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/iotartic/sunit/crypto2"
	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/helpers"
	"github.com/iotartic/sunit/log2"
	"github.com/iotartic/sunit/transport"
	"github.com/juju/errors"
)

type State uint8

const (
	Idle State = iota
	AwaitingDateReply
	AwaitingServerHello
	AwaitingServerVerify
	Established
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AwaitingDateReply:
		return "AwaitingDateReply"
	case AwaitingServerHello:
		return "AwaitingServerHello"
	case AwaitingServerVerify:
		return "AwaitingServerVerify"
	case Established:
		return "Established"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

type IVMode uint8

const (
	// wire compatible, same IV for every message of the day
	IVDaily IVMode = iota
	// random IV prepended to SensorEncData ciphertext
	IVPerMessage
)

type Config struct {
	MAC      []byte
	Salt     string
	Password string
	// encrypt telemetry, requires Handshake before Send
	Confidential bool
	// compare decrypted ServerVerify with Rb
	VerifyServer bool
	IVMode       IVMode
	// HKDF over raw ECDH X instead of using X as key, both sides must agree
	SessionKDF bool

	ReceiveTimeout time.Duration
	// zero value = transport.DefaultRetry
	Retry helpers.Retry
	// nil = crypto/rand
	Entropy io.Reader
}

const sessionKDFInfo = "sdu session"

// Session is remote protocol state owned by caller.
// Not safe for concurrent use, one handshake/exchange at a time.
type Session struct {
	config Config
	log    *log2.Log
	t      transport.Transporter
	clock  Clock
	state  State
	key    []byte
}

func NewSession(log *log2.Log, config Config, t transport.Transporter, clock Clock) (*Session, error) {
	if len(config.MAC) != MACLength {
		return nil, fault.BadConfiguration("device mac length=%d expected=%d", len(config.MAC), MACLength)
	}
	if config.Confidential && config.Password == "" {
		return nil, fault.BadConfiguration("confidential mode requires password")
	}
	if t == nil {
		return nil, fault.BadConfiguration("transport nil")
	}
	if config.ReceiveTimeout == 0 {
		config.ReceiveTimeout = transport.DefaultReceiveTimeout
	}
	if config.Retry.Attempts == 0 {
		config.Retry = transport.DefaultRetry()
	}
	if clock == nil {
		clock = &OffsetClock{}
	}
	return &Session{config: config, log: log, t: t, clock: clock}, nil
}

func (s *Session) State() State { return s.state }
func (s *Session) Clock() Clock { return s.clock }

// Key returns copy of session key, nil unless Established.
func (s *Session) Key() []byte {
	if s.state != Established {
		return nil
	}
	return append([]byte(nil), s.key...)
}

func (s *Session) sharedSecret() [crypto2.DigestSize]byte {
	return crypto2.KeyedDigest([]byte(s.config.Password), []byte(s.config.Salt))
}

func (s *Session) rng() (*crypto2.Reader, error) {
	r, err := crypto2.NewReader(s.config.Entropy, s.config.MAC)
	if err != nil {
		return nil, fault.CryptoFailure(err, "random")
	}
	return r, nil
}

func (s *Session) dailyIV() []byte { return DailyIV(s.clock.Now()) }

func (s *Session) wipeKey() {
	crypto2.Zero(s.key)
	s.key = nil
}

// abort closes transport and returns to Idle, err is passed through.
func (s *Session) abort(err error, step string) error {
	if cerr := s.t.Close(); cerr != nil {
		s.log.Errorf("sdu %s close err=%v", step, cerr)
	}
	s.log.Debugf("sdu abort step=%s state=%s err=%v", step, s.state, err)
	s.state = Idle
	s.wipeKey()
	return errors.Annotatef(err, "sdu %s", step)
}

func (s *Session) send(ctx context.Context, h Header, payload []byte) error {
	f, err := Build(s.config.MAC, h, payload)
	if err != nil {
		return err
	}
	s.log.Frame("sdu send "+h.String(), f.Bytes())
	return s.t.Send(ctx, f.Bytes())
}

func (s *Session) receive(ctx context.Context, want Header) ([]byte, error) {
	b, err := transport.ReceiveRetry(ctx, s.t, MaxFrame, s.config.ReceiveTimeout, s.config.Retry)
	if err != nil {
		return nil, err
	}
	s.log.Frame("sdu recv", b)
	return Expect(b, want)
}

// SyncTime requests current date from server and sets session clock.
// Date is encrypted under shared secret with zero IV.
func (s *Session) SyncTime(ctx context.Context) error {
	if s.config.Password == "" {
		return fault.BadConfiguration("time sync requires password")
	}
	if err := s.t.Open(ctx); err != nil {
		return s.abort(err, "time sync open")
	}
	s.state = AwaitingDateReply
	secret := s.sharedSecret()
	defer crypto2.Zero(secret[:])
	if err := s.send(ctx, DateRequest, nil); err != nil {
		return s.abort(err, "date request")
	}
	payload, err := s.receive(ctx, DateUpdate)
	if err != nil {
		return s.abort(err, "date update")
	}
	date, err := crypto2.CBCDecrypt(secret[:], zeroIV, payload, DateUpdateLength)
	if err != nil {
		return s.abort(fault.CryptoFailure(err, "date decrypt"), "date update")
	}
	t, err := ParseDate(date)
	if err != nil {
		return s.abort(err, "date update")
	}
	s.clock.Set(t)
	s.log.Debugf("sdu time sync date=%s", t.Format(time.RFC3339))
	if err = s.t.Close(); err != nil {
		s.log.Errorf("sdu time sync close err=%v", err)
	}
	if s.key == nil {
		s.state = Idle
	} else {
		s.state = Established
	}
	return nil
}

// Handshake runs date sync then password authenticated ECDH exchange.
// On any failure transport is closed, state is Idle and key is wiped.
// Whole sequence is never retried here, that is duty cycle policy.
func (s *Session) Handshake(ctx context.Context) error {
	s.state = Idle
	s.wipeKey()
	if !s.config.Confidential {
		return fault.BadConfiguration("handshake in plain mode")
	}
	if err := s.SyncTime(ctx); err != nil {
		return err
	}

	secret := s.sharedSecret()
	defer crypto2.Zero(secret[:])
	rng, err := s.rng()
	if err != nil {
		return s.abort(err, "handshake")
	}
	kp, err := crypto2.GenerateKey(rng)
	if err != nil {
		return s.abort(fault.CryptoFailure(err, "keygen"), "handshake")
	}
	hello, err := crypto2.CBCEncrypt(secret[:], s.dailyIV(), kp.Public())
	if err != nil {
		return s.abort(fault.CryptoFailure(err, "client hello encrypt"), "client hello")
	}

	if err = s.t.Open(ctx); err != nil {
		return s.abort(err, "handshake open")
	}
	s.state = AwaitingServerHello
	if err = s.send(ctx, ClientHello, hello); err != nil {
		return s.abort(err, "client hello")
	}
	payload, err := s.receive(ctx, ServerHello)
	if err != nil {
		return s.abort(err, "server hello")
	}
	plain, err := crypto2.CBCDecrypt(secret[:], s.dailyIV(), payload, ServerHelloLength)
	if err != nil {
		return s.abort(fault.CryptoFailure(err, "server hello decrypt"), "server hello")
	}
	raw, err := kp.Agree(plain[:VerifyValueOffset])
	if err != nil {
		return s.abort(fault.CryptoFailure(err, "agree"), "server hello")
	}
	key, err := deriveSessionKey(raw, []byte(s.config.Salt), s.config.SessionKDF)
	if err != nil {
		return s.abort(fault.CryptoFailure(err, "kdf"), "server hello")
	}
	s.key = key
	v1 := plain[VerifyValueOffset : VerifyValueOffset+VerifyValueLength]

	s.state = AwaitingServerVerify
	rb := make([]byte, ChallengeLength)
	if _, err = rng.Read(rb); err != nil {
		return s.abort(fault.CryptoFailure(err, "challenge"), "client verify")
	}
	challenge := make([]byte, 0, ClientVerifyLength)
	challenge = append(append(challenge, v1...), rb...)
	verify, err := crypto2.CBCEncrypt(s.key, s.dailyIV(), challenge)
	if err != nil {
		return s.abort(fault.CryptoFailure(err, "client verify encrypt"), "client verify")
	}
	if err = s.send(ctx, ClientVerify, verify); err != nil {
		return s.abort(err, "client verify")
	}
	payload, err = s.receive(ctx, ServerVerify)
	if err != nil {
		return s.abort(err, "server verify")
	}
	proof, err := crypto2.CBCDecrypt(s.key, s.dailyIV(), payload, ServerVerifyLength)
	if err != nil {
		return s.abort(fault.CryptoFailure(err, "server verify decrypt"), "server verify")
	}
	if s.config.VerifyServer && !crypto2.ConstantCompare(proof, rb) {
		return s.abort(fault.New(fault.Peer, fault.StatusVerification, "server verify value mismatch"), "server verify")
	}

	s.state = Established
	if err = s.t.Close(); err != nil {
		s.log.Errorf("sdu handshake close err=%v", err)
	}
	s.log.Debugf("sdu handshake established")
	return nil
}

func deriveSessionKey(raw, salt []byte, kdf bool) ([]byte, error) {
	if !kdf {
		return raw, nil
	}
	defer crypto2.Zero(raw)
	return crypto2.DeriveKey(raw, salt, []byte(sessionKDFInfo))
}
