// Package crypto2 holds crypto primitives of the sensing unit protocols.
// Pure functions over buffers, no protocol knowledge.
package crypto2

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
)

const (
	DigestSize = sha256.Size
	KeySize    = 32
	BlockSize  = 16
)

func Digest(in []byte) [DigestSize]byte { return sha256.Sum256(in) }

// HMAC-SHA256
func KeyedDigest(key, in []byte) [DigestSize]byte {
	var out [DigestSize]byte
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(in)
	m.Sum(out[:0])
	return out
}

// Constant time, false for different lengths.
func ConstantCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
