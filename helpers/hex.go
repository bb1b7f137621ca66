package helpers

import (
	"encoding/hex"
	"strings"

	"github.com/juju/errors"
)

var hexSeparators = strings.NewReplacer(" ", "", ":", "", "-", "", "\t", "")

func MustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// ParseHex accepts "aabb", "aa:bb", "aa-bb", "aa bb" and optional 0x prefix.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(hexSeparators.Replace(s))
	return b, errors.Annotatef(err, "hex=%q", s)
}
