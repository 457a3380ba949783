// Package crypto provides the hashing and signature primitives shared by the
// wallet packages.
package crypto

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashSize is the length of a BLAKE3-256 digest in bytes.
const HashSize = 32

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) [HashSize]byte {
	return blake3.Sum256(data)
}

// HashParts hashes the given parts joined by a single 0x00 separator.
// The separator keeps ("ab", "c") and ("a", "bc") from colliding.
func HashParts(parts ...[]byte) [HashSize]byte {
	h := blake3.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write(p)
	}
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HexPrefix returns the first n bytes of a digest as lowercase hex.
func HexPrefix(digest [HashSize]byte, n int) string {
	if n > HashSize {
		n = HashSize
	}
	return hex.EncodeToString(digest[:n])
}
