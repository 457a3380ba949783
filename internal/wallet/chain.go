package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Klingon-tech/klingnet-wallet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-wallet/pkg/descriptor"
)

// BIP-84 derivation path constants.
// Full path: m/84'/CoinType'/account'/chain/index
const (
	PurposeBIP84   = 84
	DefaultAccount = 0
)

// KeyChain selects the receive (external) or change (internal) branch.
type KeyChain uint32

const (
	ChainReceive KeyChain = 0
	ChainChange  KeyChain = 1
)

// KeyChains lists both chains in derivation order.
var KeyChains = []KeyChain{ChainReceive, ChainChange}

func (c KeyChain) String() string {
	switch c {
	case ChainReceive:
		return "receive"
	case ChainChange:
		return "change"
	default:
		return fmt.Sprintf("chain(%d)", uint32(c))
	}
}

// ChainPath returns m/84'/coinType'/0'/chain.
func ChainPath(chain KeyChain, coinType uint32) descriptor.DerivationPath {
	return descriptor.DerivationPath{
		descriptor.Hardened(PurposeBIP84),
		descriptor.Hardened(coinType),
		descriptor.Hardened(DefaultAccount),
		uint32(chain),
	}
}

// ChainKey is a derived chain key with its origin.
type ChainKey struct {
	Chain  KeyChain
	Key    *HDKey
	Origin descriptor.Origin
}

// DeriveChainKey derives the chain key from the root key index by index.
// Any failing step yields a *DerivationError naming that step.
func DeriveChainKey(kctx *KeyContext, root *HDKey, chain KeyChain) (*ChainKey, error) {
	path := ChainPath(chain, kctx.CoinType())
	if !root.IsForNet(kctx) {
		return nil, &DerivationError{Chain: chain, Path: path, Step: 0, Err: ErrNetworkMismatch}
	}
	fp, err := root.Fingerprint()
	if err != nil {
		return nil, &DerivationError{Chain: chain, Path: path, Step: 0, Err: err}
	}

	key := root
	for i, idx := range path {
		key, err = key.DeriveChild(idx)
		if err != nil {
			return nil, &DerivationError{Chain: chain, Path: path, Step: i, Err: err}
		}
	}
	return &ChainKey{
		Chain:  chain,
		Key:    key,
		Origin: descriptor.Origin{Fingerprint: fp, Path: path},
	}, nil
}

// EncodeDescriptor wraps a chain key into wpkh([origin]xprv.../*).
func EncodeDescriptor(ck *ChainKey) *descriptor.Descriptor {
	origin := ck.Origin
	return descriptor.NewWPKH(&descriptor.Key{
		Origin:   &origin,
		XKey:     ck.Key.Extended(),
		Wildcard: true,
	})
}

// Descriptors is the wallet's durable identity: one descriptor per chain.
type Descriptors struct {
	Receive *descriptor.Descriptor
	Change  *descriptor.Descriptor
}

// For returns the descriptor for chain.
func (d *Descriptors) For(chain KeyChain) *descriptor.Descriptor {
	if chain == ChainChange {
		return d.Change
	}
	return d.Receive
}

// Public returns the watch-only pair.
func (d *Descriptors) Public() (*Descriptors, error) {
	recv, err := d.Receive.Public()
	if err != nil {
		return nil, err
	}
	change, err := d.Change.Public()
	if err != nil {
		return nil, err
	}
	return &Descriptors{Receive: recv, Change: change}, nil
}

// DescriptorsFromRoot derives both chain descriptors from the root key.
func DescriptorsFromRoot(kctx *KeyContext, root *HDKey) (*Descriptors, error) {
	var out Descriptors
	for _, chain := range KeyChains {
		ck, err := DeriveChainKey(kctx, root, chain)
		if err != nil {
			return nil, err
		}
		if chain == ChainReceive {
			out.Receive = EncodeDescriptor(ck)
		} else {
			out.Change = EncodeDescriptor(ck)
		}
	}
	return &out, nil
}

// DeriveDescriptors runs mnemonic -> seed -> root -> chain keys -> descriptors.
func DeriveDescriptors(kctx *KeyContext, mnemonic string, pass Passphrase, lang Language) (*Descriptors, error) {
	seed, err := SeedFromMnemonic(mnemonic, pass, lang)
	if err != nil {
		return nil, err
	}
	defer zero(seed)

	root, err := NewMasterKey(kctx, seed)
	if err != nil {
		return nil, err
	}
	return DescriptorsFromRoot(kctx, root)
}

// ParseDescriptors decodes a stored descriptor pair and checks that both are
// ranged private wpkh descriptors for kctx's network sharing one master key.
func ParseDescriptors(kctx *KeyContext, receive, change string) (*Descriptors, error) {
	recv, err := descriptor.Parse(receive)
	if err != nil {
		return nil, fmt.Errorf("receive descriptor: %w", err)
	}
	chg, err := descriptor.Parse(change)
	if err != nil {
		return nil, fmt.Errorf("change descriptor: %w", err)
	}
	for _, d := range []*descriptor.Descriptor{recv, chg} {
		if !d.IsForNet(kctx.Params) {
			return nil, fmt.Errorf("%w: want %s", ErrNetworkMismatch, kctx.Params.Name)
		}
		if !d.IsPrivate() {
			return nil, fmt.Errorf("descriptor has no private key")
		}
		if !d.IsRange() {
			return nil, fmt.Errorf("descriptor is not ranged")
		}
	}
	if recv.Key.Origin == nil || chg.Key.Origin == nil {
		return nil, fmt.Errorf("descriptor is missing key origin")
	}
	if recv.Key.Origin.Fingerprint != chg.Key.Origin.Fingerprint {
		return nil, fmt.Errorf("receive and change descriptors have different master keys")
	}
	return &Descriptors{Receive: recv, Change: chg}, nil
}

// NamespaceID returns the deterministic store namespace for a descriptor
// pair on a network. It hashes the public forms so the identifier reveals
// nothing derived from private key material.
func NamespaceID(descs *Descriptors, params *chaincfg.Params) (string, error) {
	pub, err := descs.Public()
	if err != nil {
		return "", err
	}
	digest := crypto.HashParts(
		[]byte(pub.Receive.String()),
		[]byte(pub.Change.String()),
		[]byte(params.Name),
	)
	return "wallet-" + crypto.HexPrefix(digest, 16), nil
}
