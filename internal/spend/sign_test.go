package spend

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingnet-wallet/internal/walletdb"
)

func buildSendTen(t *testing.T, keys *testKeys) *PSTX {
	t.Helper()
	u := keys.utxo(t, 0, 0, 15*btc, 1)
	p, err := Build([]*walletdb.UTXO{u}, payTo(t, 10*btc), FeePolicy{Fixed: 10_000}, keys)
	require.NoError(t, err)
	return p
}

func buildTwoInputs(t *testing.T, keys *testKeys) *PSTX {
	t.Helper()
	utxos := []*walletdb.UTXO{
		keys.utxo(t, 0, 0, 60_000, 1),
		keys.utxo(t, 1, 4, 70_000, 2),
	}
	p, err := Build(utxos, payTo(t, 120_000), FeePolicy{Fixed: 2_000}, keys)
	require.NoError(t, err)
	require.Len(t, p.Inputs, 2)
	return p
}

func TestSignFinalize(t *testing.T) {
	keys := newTestKeys(t, 1)
	p := buildSendTen(t, keys)

	require.NoError(t, Sign(keys, p, SignOptions{}))
	require.Equal(t, StateSigned, p.State)
	for _, in := range p.Packet.Inputs {
		require.Len(t, in.PartialSigs, 1)
		require.Equal(t, txscript.SigHashAll, in.SighashType)
		sig := in.PartialSigs[0].Signature
		require.Equal(t, byte(txscript.SigHashAll), sig[len(sig)-1])
	}

	require.NoError(t, Finalize(p))
	require.Equal(t, StateFinalized, p.State)
	require.NotNil(t, p.Final)
	require.Equal(t, p.TxID, p.Final.TxHash())
	for _, in := range p.Final.TxIn {
		require.Len(t, in.Witness, 2)
	}
}

func TestSign_StateChecks(t *testing.T) {
	keys := newTestKeys(t, 1)
	p := buildSendTen(t, keys)

	require.ErrorIs(t, Finalize(p), ErrInvalidTransition)
	require.NoError(t, Sign(keys, p, SignOptions{}))
	require.ErrorIs(t, Sign(keys, p, SignOptions{}), ErrInvalidTransition)
	require.ErrorIs(t, p.Confirm(10), ErrInvalidTransition)
}

func TestSign_ForeignKeyRing(t *testing.T) {
	keys := newTestKeys(t, 1)
	p := buildSendTen(t, keys)

	err := Sign(newTestKeys(t, 2), p, SignOptions{})
	require.ErrorIs(t, err, ErrSigning)
	var se *SigningError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 0, se.Input)
	require.Equal(t, uint32(0), se.Chain)
	require.Equal(t, "m/84'/1'/0'/0/0", se.Path.String())

	require.Equal(t, StateBuilt, p.State)
	require.Empty(t, p.Packet.Inputs[0].PartialSigs)
}

// shiftedRing answers every request with the key of the next index.
type shiftedRing struct {
	keys *testKeys
}

func (r shiftedRing) PrivKey(d *psbt.Bip32Derivation) (*btcec.PrivateKey, error) {
	path := append([]uint32(nil), d.Bip32Path...)
	path[len(path)-1]++
	return r.keys.PrivKey(&psbt.Bip32Derivation{MasterKeyFingerprint: d.MasterKeyFingerprint, Bip32Path: path})
}

func TestSign_KeyMismatch(t *testing.T) {
	keys := newTestKeys(t, 1)
	p := buildSendTen(t, keys)

	err := Sign(shiftedRing{keys: keys}, p, SignOptions{})
	require.ErrorIs(t, err, ErrKeyMismatch)
	require.ErrorIs(t, err, ErrSigning)
}

func TestSign_MissingData(t *testing.T) {
	keys := newTestKeys(t, 1)

	p := buildSendTen(t, keys)
	p.Packet.Inputs[0].Bip32Derivation = nil
	require.ErrorIs(t, Sign(keys, p, SignOptions{}), ErrMissingDerivation)

	p = buildSendTen(t, keys)
	p.Packet.Inputs[0].WitnessUtxo = nil
	require.ErrorIs(t, Sign(keys, p, SignOptions{}), ErrMissingUTXO)
}

func TestSign_LockTime(t *testing.T) {
	keys := newTestKeys(t, 1)
	u := keys.utxo(t, 0, 0, btc, 1)
	req := payTo(t, btc/2)
	req.LockTime = 200

	build := func() *PSTX {
		p, err := Build([]*walletdb.UTXO{u}, req, FeePolicy{}, keys)
		require.NoError(t, err)
		require.Equal(t, uint32(200), p.Packet.UnsignedTx.LockTime)
		return p
	}

	low, high := uint32(150), uint32(250)
	err := Sign(keys, build(), SignOptions{AssumeHeight: &low})
	require.ErrorIs(t, err, ErrLockTime)
	var se *SigningError
	require.ErrorAs(t, err, &se)
	require.Equal(t, -1, se.Input)

	require.NoError(t, Sign(keys, build(), SignOptions{AssumeHeight: &high}))
	require.NoError(t, Sign(keys, build(), SignOptions{}))
}

func TestFinalize_MissingSignature(t *testing.T) {
	keys := newTestKeys(t, 1)
	p := buildTwoInputs(t, keys)

	require.NoError(t, Sign(keys, p, SignOptions{}))
	p.Packet.Inputs[1].PartialSigs = nil

	err := Finalize(p)
	require.ErrorIs(t, err, ErrIncompleteSignature)
	var ise *IncompleteSignatureError
	require.ErrorAs(t, err, &ise)
	require.Equal(t, 1, ise.Input)
	require.Equal(t, StateBuilt, p.State)
	require.Nil(t, p.Final)

	// Finalize cannot be retried directly; signing again recovers.
	require.ErrorIs(t, Finalize(p), ErrInvalidTransition)
	require.NoError(t, Sign(keys, p, SignOptions{}))
	require.NoError(t, Finalize(p))
	require.Equal(t, StateFinalized, p.State)
}

func TestFinalize_BadSignature(t *testing.T) {
	keys := newTestKeys(t, 1)
	p := buildTwoInputs(t, keys)

	require.NoError(t, Sign(keys, p, SignOptions{}))
	sig := p.Packet.Inputs[0].PartialSigs[0].Signature
	sig[10] ^= 0x01

	err := Finalize(p)
	require.ErrorIs(t, err, ErrIncompleteSignature)
	require.Equal(t, StateBuilt, p.State)
	require.Empty(t, p.Packet.Inputs[0].FinalScriptWitness, "failed finalize must not leave witnesses")

	require.NoError(t, Sign(keys, p, SignOptions{}))
	require.NoError(t, Finalize(p))
}

func TestState_String(t *testing.T) {
	require.Equal(t, "built", StateBuilt.String())
	require.Equal(t, "confirmed", StateConfirmed.String())
	require.Equal(t, "state(9)", State(9).String())
}
