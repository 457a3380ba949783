package descriptor

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// Fingerprint is the first four bytes of HASH160 of a serialized public key.
type Fingerprint [4]byte

// ParseFingerprint parses 8 hex characters.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	if len(s) != 8 {
		return fp, fmt.Errorf("fingerprint must be 8 hex chars, got %d", len(s))
	}
	if _, err := hex.Decode(fp[:], []byte(s)); err != nil {
		return fp, fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	return fp, nil
}

// FingerprintOf computes the fingerprint of an extended key.
func FingerprintOf(k *hdkeychain.ExtendedKey) (Fingerprint, error) {
	var fp Fingerprint
	pub, err := k.ECPubKey()
	if err != nil {
		return fp, err
	}
	copy(fp[:], btcutil.Hash160(pub.SerializeCompressed())[:4])
	return fp, nil
}

// FingerprintFromUint32 is the inverse of Uint32.
func FingerprintFromUint32(v uint32) Fingerprint {
	var fp Fingerprint
	binary.LittleEndian.PutUint32(fp[:], v)
	return fp
}

// Uint32 returns the fingerprint in the little-endian integer form used by
// PSBT BIP-32 derivation records.
func (f Fingerprint) Uint32() uint32 {
	return binary.LittleEndian.Uint32(f[:])
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Origin identifies where a key was derived from: the master key fingerprint
// and the full path from the master.
type Origin struct {
	Fingerprint Fingerprint
	Path        DerivationPath
}

// String returns the bracketed form "[73c5da0a/84'/1'/0'/0]".
func (o Origin) String() string {
	if len(o.Path) == 0 {
		return "[" + o.Fingerprint.String() + "]"
	}
	return "[" + o.Fingerprint.String() + "/" + o.Path.relative() + "]"
}

func parseOrigin(s string) (Origin, error) {
	var o Origin
	fpStr, pathStr, hasPath := strings.Cut(s, "/")
	fp, err := ParseFingerprint(fpStr)
	if err != nil {
		return o, err
	}
	o.Fingerprint = fp
	o.Path = DerivationPath{}
	if hasPath {
		path, err := ParsePath(pathStr)
		if err != nil {
			return o, err
		}
		o.Path = path
	}
	return o, nil
}
