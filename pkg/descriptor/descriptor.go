package descriptor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// ErrUnsupported is returned for script expressions other than wpkh().
var ErrUnsupported = errors.New("unsupported descriptor")

// Descriptor is a wpkh(KEY) output descriptor.
type Descriptor struct {
	Key *Key
}

// NewWPKH builds a wpkh() descriptor around k.
func NewWPKH(k *Key) *Descriptor {
	return &Descriptor{Key: k}
}

// Parse decodes a wpkh() descriptor. A trailing "#checksum" is verified when
// present.
func Parse(s string) (*Descriptor, error) {
	body, err := splitChecksum(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(body, "wpkh(") || !strings.HasSuffix(body, ")") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, truncate(body))
	}
	key, err := parseKey(body[len("wpkh(") : len(body)-1])
	if err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	return &Descriptor{Key: key}, nil
}

// String returns the canonical encoding without checksum.
func (d *Descriptor) String() string {
	return "wpkh(" + d.Key.String() + ")"
}

// StringWithChecksum returns the canonical encoding followed by "#checksum".
func (d *Descriptor) StringWithChecksum() string {
	s := d.String()
	sum, err := Checksum(s)
	if err != nil {
		// Encoded keys are base58 and paths are digits, so this cannot happen.
		panic(err)
	}
	return s + "#" + sum
}

// IsPrivate reports whether the descriptor contains private key material.
func (d *Descriptor) IsPrivate() bool {
	return d.Key.IsPrivate()
}

// IsRange reports whether the descriptor ends in a wildcard.
func (d *Descriptor) IsRange() bool {
	return d.Key.Wildcard
}

// IsForNet reports whether the key's version bytes belong to params.
func (d *Descriptor) IsForNet(params *chaincfg.Params) bool {
	return d.Key.XKey.IsForNet(params)
}

// Public returns the watch-only form of the descriptor.
func (d *Descriptor) Public() (*Descriptor, error) {
	k, err := d.Key.Public()
	if err != nil {
		return nil, err
	}
	return &Descriptor{Key: k}, nil
}

// DeriveKey returns the extended key at child index i.
func (d *Descriptor) DeriveKey(i uint32) (*hdkeychain.ExtendedKey, error) {
	return d.Key.Derive(i)
}

// KeyOrigin returns the fingerprint and full path of the key at index i.
func (d *Descriptor) KeyOrigin(i uint32) (Origin, error) {
	return d.Key.KeyOrigin(i)
}

// Script returns the P2WPKH output script for index i.
func (d *Descriptor) Script(i uint32) ([]byte, error) {
	pub, err := d.Key.PubKey(i)
	if err != nil {
		return nil, err
	}
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pub.SerializeCompressed())).
		Script()
}

// Address returns the bech32 address for index i on the given network.
func (d *Descriptor) Address(i uint32, params *chaincfg.Params) (*btcutil.AddressWitnessPubKeyHash, error) {
	pub, err := d.Key.PubKey(i)
	if err != nil {
		return nil, err
	}
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)
}

func truncate(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}
