package crypto2

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/juju/errors"
	"golang.org/x/crypto/hkdf"
)

var ErrRandomSource = errors.New("random source error")

var defaultEntropy io.Reader = rand.Reader

// Reader is a CSPRNG seeded from system entropy and bound to personalization
// (the device hardware address), similar to CTR-DRBG personalization string.
type Reader struct {
	r io.Reader
}

func NewReader(entropy io.Reader, personalization []byte) (*Reader, error) {
	if entropy == nil {
		entropy = defaultEntropy
	}
	seed := make([]byte, 48)
	if _, err := io.ReadFull(entropy, seed); err != nil {
		return nil, errors.Annotate(ErrRandomSource, err.Error())
	}
	return &Reader{r: hkdf.New(sha256.New, seed, nil, personalization)}, nil
}

// Read fails with ErrRandomSource after 255*32 bytes, reseed with new Reader.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := io.ReadFull(r.r, p)
	if err != nil {
		return n, errors.Annotate(ErrRandomSource, err.Error())
	}
	return n, nil
}

func Random(personalization []byte, n int) ([]byte, error) {
	r, err := NewReader(nil, personalization)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err = r.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// DeriveKey expands ikm into 32 byte key with HKDF-SHA256.
func DeriveKey(ikm, salt, info []byte) ([]byte, error) {
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), out); err != nil {
		return nil, errors.Annotate(ErrKeyAgreement, err.Error())
	}
	return out, nil
}
