package spend

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingnet-wallet/internal/walletdb"
	"github.com/Klingon-tech/klingnet-wallet/pkg/descriptor"
)

// testKeys is a BIP-84 account on regtest acting as KeyLocator and KeyRing.
type testKeys struct {
	fp         uint32
	chains     [2]*hdkeychain.ExtendedKey
	nextChange uint32
}

func newTestKeys(t testing.TB, seedByte byte) *testKeys {
	t.Helper()
	master, err := hdkeychain.NewMaster(bytes.Repeat([]byte{seedByte}, 32), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	fp, err := descriptor.FingerprintOf(master)
	require.NoError(t, err)

	k := &testKeys{fp: fp.Uint32()}
	acct := master
	for _, step := range []uint32{descriptor.Hardened(84), descriptor.Hardened(1), descriptor.Hardened(0)} {
		acct, err = acct.Derive(step)
		require.NoError(t, err)
	}
	for c := range k.chains {
		k.chains[c], err = acct.Derive(uint32(c))
		require.NoError(t, err)
	}
	return k
}

func (k *testKeys) key(chain, index uint32) (*hdkeychain.ExtendedKey, error) {
	if chain > 1 {
		return nil, fmt.Errorf("unknown chain %d", chain)
	}
	return k.chains[chain].Derive(index)
}

func (k *testKeys) Derivation(chain, index uint32) (*psbt.Bip32Derivation, error) {
	key, err := k.key(chain, index)
	if err != nil {
		return nil, err
	}
	pub, err := key.ECPubKey()
	if err != nil {
		return nil, err
	}
	return &psbt.Bip32Derivation{
		PubKey:               pub.SerializeCompressed(),
		MasterKeyFingerprint: k.fp,
		Bip32Path: []uint32{
			descriptor.Hardened(84), descriptor.Hardened(1), descriptor.Hardened(0), chain, index,
		},
	}, nil
}

func (k *testKeys) NextChangeIndex() (uint32, error) {
	return k.nextChange, nil
}

func (k *testKeys) PrivKey(d *psbt.Bip32Derivation) (*btcec.PrivateKey, error) {
	if d.MasterKeyFingerprint != k.fp {
		return nil, fmt.Errorf("fingerprint %08x is not ours", d.MasterKeyFingerprint)
	}
	if len(d.Bip32Path) != 5 {
		return nil, fmt.Errorf("unexpected path length %d", len(d.Bip32Path))
	}
	key, err := k.key(d.Bip32Path[3], d.Bip32Path[4])
	if err != nil {
		return nil, err
	}
	return key.ECPrivKey()
}

func (k *testKeys) script(t require.TestingT, chain, index uint32) []byte {
	d, err := k.Derivation(chain, index)
	require.NoError(t, err)
	s, err := P2WPKHScript(d.PubKey)
	require.NoError(t, err)
	return s
}

// utxo returns an output of value owned by (chain, index) with a synthetic
// outpoint derived from tag.
func (k *testKeys) utxo(t require.TestingT, chain, index uint32, value btcutil.Amount, tag byte) *walletdb.UTXO {
	var h chainhash.Hash
	h[0] = tag
	h[31] = byte(index)
	return &walletdb.UTXO{
		OutPoint: wire.OutPoint{Hash: h, Index: uint32(tag) % 3},
		Value:    value,
		PkScript: k.script(t, chain, index),
		Chain:    chain,
		Index:    index,
		Height:   101,
	}
}
