package sdu

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/iotartic/sunit/crypto2"
	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/log2"
	"github.com/juju/errors"
)

type ResponderConfig struct {
	// expected client, nil accepts any
	MAC        []byte
	Salt       string
	Password   string
	IVMode     IVMode
	SessionKDF bool
	// nil = time.Now
	Now     func() time.Time
	Entropy io.Reader
	// plaintext telemetry, error answers StatusFormat
	OnReport func(mac, report []byte) error
}

// Responder is server side of Session for one client.
type Responder struct {
	mu     sync.Mutex
	config ResponderConfig
	log    *log2.Log
	key    []byte
	v1     []byte
}

func NewResponder(log *log2.Log, config ResponderConfig) *Responder {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Responder{config: config, log: log}
}

// Key is current session key copy, nil before ClientHello.
func (r *Responder) Key() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.key...)
}

// Handle fits transport.Loopback.Handler, exactly one reply per request.
func (r *Responder) Handle(request []byte) [][]byte {
	f := r.Respond(request)
	return [][]byte{append([]byte(nil), f.Bytes()...)}
}

// Respond never fails, errors become ErrorCode frames.
func (r *Responder) Respond(request []byte) Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, payload, err := r.respond(request)
	if err != nil {
		status := statusOf(err)
		r.log.Debugf("sdu responder err=%v status=%02x", err, status)
		h, payload = ErrorCode, []byte{status}
	}
	f, err := BuildReply(h, payload)
	if err != nil {
		r.log.Errorf("sdu responder build reply header=%s err=%v", h, err)
		f, _ = BuildReply(ErrorCode, []byte{fault.StatusFormat})
	}
	return f
}

func statusOf(err error) byte {
	fe := fault.As(err)
	if fe == nil {
		return fault.StatusFormat
	}
	switch fe.Kind {
	case fault.Peer:
		return fe.Code
	case fault.Integrity, fault.Crypto:
		return fault.StatusIntegrity
	case fault.Local:
		switch fe.Code {
		case fault.ParseBase + fault.ReasonInvalidHeader:
			return fault.StatusInvalidHeader
		case fault.ParseBase + fault.ReasonInvalidLength:
			return fault.StatusInvalidLength
		}
	}
	return fault.StatusFormat
}

func (r *Responder) secret() []byte {
	s := crypto2.KeyedDigest([]byte(r.config.Password), []byte(r.config.Salt))
	return s[:]
}

func (r *Responder) respond(request []byte) (Header, []byte, error) {
	mac, h, payload, err := ParseRequest(request)
	if err != nil {
		return 0, nil, err
	}
	if r.config.MAC != nil && !bytes.Equal(mac, r.config.MAC) {
		return 0, nil, fault.PeerStatus(fault.StatusInvalidMAC)
	}
	now := r.config.Now()
	switch h {
	case DateRequest:
		secret := r.secret()
		defer crypto2.Zero(secret)
		ct, err := crypto2.CBCEncrypt(secret, zeroIV, FormatDate(now))
		if err != nil {
			return 0, nil, fault.CryptoFailure(err, "date encrypt")
		}
		return DateUpdate, ct, nil

	case ClientHello:
		return r.hello(now, payload)

	case ClientVerify:
		if r.key == nil {
			return 0, nil, fault.PeerStatus(fault.StatusVerification)
		}
		plain, err := crypto2.CBCDecrypt(r.key, DailyIV(now), payload, ClientVerifyLength)
		if err != nil {
			return 0, nil, fault.CryptoFailure(err, "client verify decrypt")
		}
		if !crypto2.ConstantCompare(plain[:VerifyValueLength], r.v1) {
			r.wipe()
			return 0, nil, fault.PeerStatus(fault.StatusVerification)
		}
		ct, err := crypto2.CBCEncrypt(r.key, DailyIV(now), plain[VerifyValueLength:])
		if err != nil {
			return 0, nil, fault.CryptoFailure(err, "server verify encrypt")
		}
		return ServerVerify, ct, nil

	case SensorEncData:
		if r.key == nil {
			return 0, nil, fault.PeerStatus(fault.StatusVerification)
		}
		plain, err := Open(r.key, r.config.IVMode, DailyIV(now), payload, -1)
		if err != nil {
			return 0, nil, fault.CryptoFailure(err, "telemetry decrypt")
		}
		return r.report(mac, plain)

	case SensorData:
		return r.report(mac, payload)
	}
	return 0, nil, fault.InvalidHeader(fault.ParseBase, uint16(h))
}

func (r *Responder) hello(now time.Time, payload []byte) (Header, []byte, error) {
	r.wipe()
	secret := r.secret()
	defer crypto2.Zero(secret)
	iv := DailyIV(now)
	peer, err := crypto2.CBCDecrypt(secret, iv, payload, ClientHelloLength)
	if err != nil {
		return 0, nil, fault.CryptoFailure(err, "client hello decrypt")
	}
	rng, err := crypto2.NewReader(r.config.Entropy, []byte("sdu responder"))
	if err != nil {
		return 0, nil, fault.CryptoFailure(err, "random")
	}
	kp, err := crypto2.GenerateKey(rng)
	if err != nil {
		return 0, nil, fault.CryptoFailure(err, "keygen")
	}
	raw, err := kp.Agree(peer)
	if err != nil {
		// client point not on curve means wrong password most likely
		return 0, nil, fault.PeerStatus(fault.StatusVerification)
	}
	key, err := deriveSessionKey(raw, []byte(r.config.Salt), r.config.SessionKDF)
	if err != nil {
		return 0, nil, fault.CryptoFailure(err, "kdf")
	}
	v1 := make([]byte, VerifyValueLength)
	if _, err = rng.Read(v1); err != nil {
		return 0, nil, fault.CryptoFailure(err, "verify value")
	}
	plain := append(kp.Public(), v1...)
	ct, err := crypto2.CBCEncrypt(secret, iv, plain)
	if err != nil {
		return 0, nil, fault.CryptoFailure(err, "server hello encrypt")
	}
	r.key, r.v1 = key, v1
	return ServerHello, ct, nil
}

func (r *Responder) report(mac, plain []byte) (Header, []byte, error) {
	if r.config.OnReport != nil {
		if err := r.config.OnReport(mac, plain); err != nil {
			r.log.Errorf("sdu responder report mac=%x err=%v", mac, errors.ErrorStack(err))
			return SensorResponse, []byte{fault.StatusFormat}, nil
		}
	}
	return SensorResponse, []byte{fault.StatusSuccess}, nil
}

func (r *Responder) wipe() {
	crypto2.Zero(r.key)
	r.key, r.v1 = nil, nil
}
