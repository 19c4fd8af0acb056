package crypto

import (
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/blake2b"
)

const HashSize = 32

type Hash [HashSize]byte

// HashData returns the blake2b-256 digest of data.
func HashData(data []byte) Hash {
	return blake2b.Sum256(data)
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether every byte of h is zero.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a hex hash, with or without the 0x prefix.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Hash{}, errors.Wrapf(err, "decode hash %q", s)
	}
	if len(b) != HashSize {
		return Hash{}, errors.Newf("hash %q is %d bytes, want %d", s, len(b), HashSize)
	}
	return Hash(b), nil
}
