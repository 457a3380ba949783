package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Klingon-tech/klingnet-wallet/pkg/descriptor"
)

// KeyContext is the immutable network context passed to every derivation and
// signing call. It is safe for concurrent use.
type KeyContext struct {
	Params *chaincfg.Params
}

// NewKeyContext returns a context bound to params.
func NewKeyContext(params *chaincfg.Params) (*KeyContext, error) {
	if params == nil {
		return nil, errors.New("nil network params")
	}
	return &KeyContext{Params: params}, nil
}

// CoinType returns the BIP-44 coin type of the network.
func (c *KeyContext) CoinType() uint32 {
	return c.Params.HDCoinType
}

// HDKey represents a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *hdkeychain.ExtendedKey
}

// NewMasterKey creates the root key for kctx's network from a BIP-39 seed.
func NewMasterKey(kctx *KeyContext, seed []byte) (*HDKey, error) {
	if len(seed) < hdkeychain.MinSeedBytes || len(seed) > hdkeychain.MaxSeedBytes {
		return nil, &DerivationError{Step: -1, Err: fmt.Errorf(
			"seed must be %d-%d bytes, got %d", hdkeychain.MinSeedBytes, hdkeychain.MaxSeedBytes, len(seed))}
	}
	master, err := hdkeychain.NewMaster(seed, kctx.Params)
	if err != nil {
		return nil, &DerivationError{Step: -1, Err: err}
	}
	return &HDKey{key: master}, nil
}

// HDKeyFromExtended wraps an existing extended key after checking it belongs
// to kctx's network.
func HDKeyFromExtended(kctx *KeyContext, k *hdkeychain.ExtendedKey) (*HDKey, error) {
	if !k.IsForNet(kctx.Params) {
		return nil, fmt.Errorf("%w: want %s", ErrNetworkMismatch, kctx.Params.Name)
	}
	return &HDKey{key: k}, nil
}

// DeriveChild derives a child key at the given index.
// For hardened derivation, add hdkeychain.HardenedKeyStart to the index.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(path descriptor.DerivationPath) (*HDKey, error) {
	current := k
	for _, idx := range path {
		child, err := current.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// Fingerprint returns the first four bytes of HASH160 of the public key.
func (k *HDKey) Fingerprint() (descriptor.Fingerprint, error) {
	return descriptor.FingerprintOf(k.key)
}

// PrivKey returns the secp256k1 private key. Fails for public-only keys.
func (k *HDKey) PrivKey() (*btcec.PrivateKey, error) {
	return k.key.ECPrivKey()
}

// PubKey returns the secp256k1 public key.
func (k *HDKey) PubKey() (*btcec.PublicKey, error) {
	return k.key.ECPubKey()
}

// IsPrivate returns true if this key contains a private key.
func (k *HDKey) IsPrivate() bool {
	return k.key.IsPrivate()
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 {
	return k.key.Depth()
}

// IsForNet reports whether the key's version bytes match kctx's network.
func (k *HDKey) IsForNet(kctx *KeyContext) bool {
	return k.key.IsForNet(kctx.Params)
}

// Neuter returns a public-key-only copy.
func (k *HDKey) Neuter() (*HDKey, error) {
	pub, err := k.key.Neuter()
	if err != nil {
		return nil, err
	}
	return &HDKey{key: pub}, nil
}

// Extended returns the underlying extended key.
func (k *HDKey) Extended() *hdkeychain.ExtendedKey {
	return k.key
}

// String returns the base58 serialization (xprv/tprv or xpub/tpub).
func (k *HDKey) String() string {
	return k.key.String()
}
