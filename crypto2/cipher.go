package crypto2

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/juju/errors"
)

type Direction uint8

const (
	Encrypt Direction = iota + 1
	Decrypt
)

var ErrCipher = errors.New("cipher error")

// PaddedLen rounds n up to block boundary, aligned n stays as is.
func PaddedLen(n int) int {
	return (n + BlockSize - 1) / BlockSize * BlockSize
}

func newBlock(key, iv []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, errors.Annotatef(ErrCipher, "key length=%d expected=%d", len(key), KeySize)
	}
	if len(iv) != BlockSize {
		return nil, errors.Annotatef(ErrCipher, "iv length=%d expected=%d", len(iv), BlockSize)
	}
	return aes.NewCipher(key)
}

// AES-256-CBC.
// Encrypt zero-pads input up to the next block boundary.
// Decrypt requires whole blocks and returns all of them, see CBCDecrypt to trim.
func CBC(dir Direction, key, iv, in []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}
	switch dir {
	case Encrypt:
		out := make([]byte, PaddedLen(len(in)))
		copy(out, in)
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, out)
		return out, nil
	case Decrypt:
		if len(in)%BlockSize != 0 {
			return nil, errors.Annotatef(ErrCipher, "ciphertext length=%d not multiple of block", len(in))
		}
		out := make([]byte, len(in))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, in)
		return out, nil
	}
	return nil, errors.Annotatef(ErrCipher, "invalid direction=%d", dir)
}

func CBCEncrypt(key, iv, in []byte) ([]byte, error) { return CBC(Encrypt, key, iv, in) }

// Returns exactly n bytes of plaintext.
func CBCDecrypt(key, iv, in []byte, n int) ([]byte, error) {
	if n > len(in) {
		return nil, errors.Annotatef(ErrCipher, "requested=%d more than ciphertext=%d", n, len(in))
	}
	out, err := CBC(Decrypt, key, iv, in)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}
