// Package descriptor implements the subset of Bitcoin output script
// descriptors (BIP-380/381/382) used by the wallet: single-key wpkh() over an
// extended key with key origin information.
package descriptor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// HardenedKeyStart is the index of the first hardened child.
const HardenedKeyStart = hdkeychain.HardenedKeyStart

var (
	// ErrMalformedPath is returned for paths with empty or missing elements.
	ErrMalformedPath = errors.New("malformed derivation path")
)

// DerivationPath is a BIP-32 path. Hardened elements carry HardenedKeyStart.
type DerivationPath []uint32

// Hardened returns the hardened form of index i.
func Hardened(i uint32) uint32 {
	return i + HardenedKeyStart
}

// ParsePath parses "m/84'/1'/0'/0". The leading "m" is optional and hardened
// elements may be marked with ', h or H.
func ParsePath(s string) (DerivationPath, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrMalformedPath
	}
	elems := strings.Split(s, "/")
	if elems[0] == "m" {
		elems = elems[1:]
		if len(elems) == 0 {
			return DerivationPath{}, nil
		}
	}

	path := make(DerivationPath, 0, len(elems))
	for _, elem := range elems {
		v, err := parseElem(elem)
		if err != nil {
			return nil, err
		}
		path = append(path, v)
	}
	return path, nil
}

func parseElem(elem string) (uint32, error) {
	if elem == "" {
		return 0, ErrMalformedPath
	}
	var hardened bool
	switch elem[len(elem)-1] {
	case '\'', 'h', 'H':
		hardened = true
		elem = elem[:len(elem)-1]
	}
	v, err := strconv.ParseUint(elem, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid path element %q: %w", elem, ErrMalformedPath)
	}
	if v >= HardenedKeyStart {
		return 0, fmt.Errorf("path element %d out of range", v)
	}
	if hardened {
		return Hardened(uint32(v)), nil
	}
	return uint32(v), nil
}

// String returns the absolute form, e.g. "m/84'/1'/0'/0".
func (p DerivationPath) String() string {
	if len(p) == 0 {
		return "m"
	}
	return "m/" + p.relative()
}

// relative returns the path without the "m/" prefix, as it appears inside a
// key origin or after an extended key.
func (p DerivationPath) relative() string {
	var b strings.Builder
	for i, v := range p {
		if i > 0 {
			b.WriteByte('/')
		}
		if v >= HardenedKeyStart {
			b.WriteString(strconv.FormatUint(uint64(v-HardenedKeyStart), 10))
			b.WriteByte('\'')
		} else {
			b.WriteString(strconv.FormatUint(uint64(v), 10))
		}
	}
	return b.String()
}

// Child returns a new path with index appended. The receiver is not modified.
func (p DerivationPath) Child(index uint32) DerivationPath {
	out := make(DerivationPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, index)
}

// Concat returns p followed by q as a new path.
func (p DerivationPath) Concat(q DerivationPath) DerivationPath {
	out := make(DerivationPath, 0, len(p)+len(q))
	out = append(out, p...)
	return append(out, q...)
}

// Equal reports whether both paths have the same elements.
func (p DerivationPath) Equal(q DerivationPath) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a leading subpath of p.
func (p DerivationPath) HasPrefix(prefix DerivationPath) bool {
	return len(prefix) <= len(p) && prefix.Equal(p[:len(prefix)])
}
