package spend

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-wallet/pkg/descriptor"
)

// lockTimeThreshold separates block-height locktimes from timestamps.
const lockTimeThreshold = txscript.LockTimeThreshold

// KeyRing gives access to the private keys of the wallet.
type KeyRing interface {
	// PrivKey re-derives the private key described by d. It fails for
	// derivations the wallet does not own.
	PrivKey(d *psbt.Bip32Derivation) (*btcec.PrivateKey, error)
}

// SignOptions tune Sign.
type SignOptions struct {
	// AssumeHeight is the height the transaction is expected to be mined
	// at. When set, a height locktime above it fails signing.
	AssumeHeight *uint32
	// SigHashType defaults to SigHashAll.
	SigHashType txscript.SigHashType
}

// derivationContext extracts chain and path from a BIP-32 derivation for
// error reporting.
func derivationContext(d *psbt.Bip32Derivation) (uint32, descriptor.DerivationPath) {
	path := descriptor.DerivationPath(d.Bip32Path)
	if len(path) < 2 {
		return 0, path
	}
	return path[len(path)-2], path
}

// Sign adds a signature for every input that is not finalized yet and moves
// p from Built to Signed. On error p is left in Built without new signatures.
func Sign(ring KeyRing, p *PSTX, opts SignOptions) error {
	if p.State != StateBuilt {
		return fmt.Errorf("%w: sign from %s", ErrInvalidTransition, p.State)
	}
	hashType := opts.SigHashType
	if hashType == 0 {
		hashType = txscript.SigHashAll
	}

	tx := p.Packet.UnsignedTx
	if lt := tx.LockTime; lt != 0 && lt < lockTimeThreshold && opts.AssumeHeight != nil && *opts.AssumeHeight < lt {
		return &SigningError{
			Input: -1,
			Err:   fmt.Errorf("%w: locktime %d, height %d", ErrLockTime, lt, *opts.AssumeHeight),
		}
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	for i, in := range tx.TxIn {
		utxo := p.Packet.Inputs[i].WitnessUtxo
		if utxo == nil {
			return &SigningError{Input: i, Err: ErrMissingUTXO}
		}
		prevOuts[in.PreviousOutPoint] = utxo
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	sigs := make([]*psbt.PartialSig, len(tx.TxIn))
	for i := range tx.TxIn {
		pIn := &p.Packet.Inputs[i]
		if len(pIn.FinalScriptWitness) > 0 {
			continue
		}
		sig, err := signInput(ring, tx, i, pIn, hashType, sigHashes, fetcher)
		if err != nil {
			return err
		}
		sigs[i] = sig
	}

	for i, sig := range sigs {
		if sig == nil {
			continue
		}
		pIn := &p.Packet.Inputs[i]
		pIn.PartialSigs = []*psbt.PartialSig{sig}
		pIn.SighashType = hashType
	}
	p.State = StateSigned
	log.Tx.Debug().Str("txid", p.TxID.String()).Int("inputs", len(tx.TxIn)).Msg("Signed transaction")
	return nil
}

func signInput(ring KeyRing, tx *wire.MsgTx, i int, pIn *psbt.PInput, hashType txscript.SigHashType,
	sigHashes *txscript.TxSigHashes, fetcher txscript.PrevOutputFetcher) (*psbt.PartialSig, error) {

	if len(pIn.Bip32Derivation) != 1 {
		return nil, &SigningError{Input: i, Err: ErrMissingDerivation}
	}
	d := pIn.Bip32Derivation[0]
	chain, path := derivationContext(d)
	fail := func(err error) error {
		return &SigningError{Input: i, Chain: chain, Path: path, Err: err}
	}

	priv, err := ring.PrivKey(d)
	if err != nil {
		return nil, fail(err)
	}
	pub := priv.PubKey().SerializeCompressed()
	if !bytes.Equal(pub, d.PubKey) {
		return nil, fail(ErrKeyMismatch)
	}
	script, err := P2WPKHScript(pub)
	if err != nil {
		return nil, fail(err)
	}
	utxo := pIn.WitnessUtxo
	if !bytes.Equal(script, utxo.PkScript) {
		return nil, fail(ErrScriptMismatch)
	}

	sig, err := txscript.RawTxInWitnessSignature(tx, sigHashes, i, utxo.Value, utxo.PkScript, hashType, priv)
	if err != nil {
		return nil, fail(err)
	}

	hash, err := txscript.CalcWitnessSigHash(utxo.PkScript, sigHashes, hashType, tx, i, utxo.Value)
	if err != nil {
		return nil, fail(err)
	}
	if !crypto.VerifyECDSA(hash, sig[:len(sig)-1], pub) {
		return nil, fail(ErrBadSignature)
	}

	signed := tx.Copy()
	signed.TxIn[i].Witness = wire.TxWitness{sig, pub}
	vm, err := txscript.NewEngine(utxo.PkScript, signed, i, txscript.StandardVerifyFlags,
		nil, sigHashes, utxo.Value, fetcher)
	if err != nil {
		return nil, fail(err)
	}
	if err := vm.Execute(); err != nil {
		return nil, fail(fmt.Errorf("%w: %v", ErrBadSignature, err))
	}
	return &psbt.PartialSig{PubKey: pub, Signature: sig}, nil
}
