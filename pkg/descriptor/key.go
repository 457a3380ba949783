package descriptor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

var (
	// ErrNotRange is returned when a child index other than 0 is requested
	// from a key without a wildcard.
	ErrNotRange = errors.New("descriptor key has no wildcard")

	// ErrHardenedWildcard is returned when parsing a "*'" wildcard.
	ErrHardenedWildcard = errors.New("hardened wildcards are not supported")
)

// Key is a descriptor key expression: an optional origin, an extended key,
// unhardened steps below it and an optional trailing wildcard.
type Key struct {
	Origin   *Origin
	XKey     *hdkeychain.ExtendedKey
	Path     DerivationPath
	Wildcard bool
}

// String encodes the key expression, e.g.
// "[73c5da0a/84'/1'/0'/0]tprv8.../*".
func (k *Key) String() string {
	var b strings.Builder
	if k.Origin != nil {
		b.WriteString(k.Origin.String())
	}
	b.WriteString(k.XKey.String())
	if len(k.Path) > 0 {
		b.WriteByte('/')
		b.WriteString(k.Path.relative())
	}
	if k.Wildcard {
		b.WriteString("/*")
	}
	return b.String()
}

// IsPrivate reports whether the key carries private key material.
func (k *Key) IsPrivate() bool {
	return k.XKey.IsPrivate()
}

// Public returns the same key expression with the extended key neutered.
func (k *Key) Public() (*Key, error) {
	pub, err := k.XKey.Neuter()
	if err != nil {
		return nil, fmt.Errorf("neuter key: %w", err)
	}
	out := *k
	out.XKey = pub
	return &out, nil
}

// Derive returns the extended key for child index i. Keys without a wildcard
// only accept i == 0.
func (k *Key) Derive(i uint32) (*hdkeychain.ExtendedKey, error) {
	if !k.Wildcard && i != 0 {
		return nil, ErrNotRange
	}
	if k.Wildcard && i >= HardenedKeyStart {
		return nil, ErrHardenedWildcard
	}
	cur := k.XKey
	for _, step := range k.Path {
		next, err := cur.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("derive %d: %w", step, err)
		}
		cur = next
	}
	if k.Wildcard {
		next, err := cur.Derive(i)
		if err != nil {
			return nil, fmt.Errorf("derive %d: %w", i, err)
		}
		cur = next
	}
	return cur, nil
}

// PubKey returns the public key at child index i.
func (k *Key) PubKey(i uint32) (*btcec.PublicKey, error) {
	xk, err := k.Derive(i)
	if err != nil {
		return nil, err
	}
	return xk.ECPubKey()
}

// KeyOrigin returns the master fingerprint and the full path from the master
// for child index i. Without an origin the extended key itself is the root.
func (k *Key) KeyOrigin(i uint32) (Origin, error) {
	var o Origin
	if k.Origin != nil {
		o.Fingerprint = k.Origin.Fingerprint
		o.Path = k.Origin.Path.Concat(k.Path)
	} else {
		fp, err := FingerprintOf(k.XKey)
		if err != nil {
			return o, err
		}
		o.Fingerprint = fp
		o.Path = k.Path.Concat(nil)
	}
	if k.Wildcard {
		o.Path = o.Path.Child(i)
	}
	return o, nil
}

func parseKey(s string) (*Key, error) {
	k := &Key{}
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, errors.New("unterminated key origin")
		}
		o, err := parseOrigin(s[1:end])
		if err != nil {
			return nil, fmt.Errorf("key origin: %w", err)
		}
		k.Origin = &o
		s = s[end+1:]
	}

	xkeyStr, rest, hasRest := strings.Cut(s, "/")
	xkey, err := hdkeychain.NewKeyFromString(xkeyStr)
	if err != nil {
		return nil, fmt.Errorf("extended key: %w", err)
	}
	k.XKey = xkey

	if !hasRest {
		return k, nil
	}
	elems := strings.Split(rest, "/")
	last := elems[len(elems)-1]
	switch last {
	case "*":
		k.Wildcard = true
		elems = elems[:len(elems)-1]
	case "*'", "*h", "*H":
		return nil, ErrHardenedWildcard
	}
	k.Path = make(DerivationPath, 0, len(elems))
	for _, elem := range elems {
		v, err := parseElem(elem)
		if err != nil {
			return nil, err
		}
		if v >= HardenedKeyStart && !xkey.IsPrivate() {
			return nil, hdkeychain.ErrDeriveHardFromPublic
		}
		k.Path = append(k.Path, v)
	}
	return k, nil
}
