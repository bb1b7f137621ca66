package crypto2

import (
	"crypto/ecdh"
	"io"

	"github.com/juju/errors"
)

// Raw public point encoding X||Y, without SEC1 0x04 prefix.
const PublicSize = 64

var ErrKeyAgreement = errors.New("key agreement error")

type KeyPair struct {
	priv *ecdh.PrivateKey
}

// GenerateKey on P-256 reading scalar from rng.
func GenerateKey(rng io.Reader) (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rng)
	if err != nil {
		return nil, errors.Annotate(ErrKeyAgreement, err.Error())
	}
	return &KeyPair{priv: priv}, nil
}

func (kp *KeyPair) Public() []byte {
	// SEC1 uncompressed 0x04||X||Y
	return kp.priv.PublicKey().Bytes()[1:]
}

// Agree validates peer point and returns raw 32 byte X coordinate of shared point.
func (kp *KeyPair) Agree(peer []byte) ([]byte, error) {
	if len(peer) != PublicSize {
		return nil, errors.Annotatef(ErrKeyAgreement, "peer point length=%d expected=%d", len(peer), PublicSize)
	}
	sec1 := make([]byte, 1+PublicSize)
	sec1[0] = 0x04
	copy(sec1[1:], peer)
	pub, err := ecdh.P256().NewPublicKey(sec1)
	if err != nil {
		return nil, errors.Annotate(ErrKeyAgreement, err.Error())
	}
	shared, err := kp.priv.ECDH(pub)
	if err != nil {
		return nil, errors.Annotate(ErrKeyAgreement, err.Error())
	}
	return shared, nil
}
