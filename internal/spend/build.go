// Package spend builds, signs, finalizes and broadcasts wallet transactions
// as BIP-174 packets.
package spend

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/walletdb"
)

// ChangeChain is the internal (change) branch of a BIP-44 style account.
const ChangeChain uint32 = 1

// TxVersion is the version of built transactions.
const TxVersion = 2

// ErrNoRecipients is returned for a request without outputs.
var ErrNoRecipients = errors.New("no recipients")

// Recipient is one payment.
type Recipient struct {
	PkScript []byte
	Amount   btcutil.Amount
}

// Request describes the payments of one transaction.
type Request struct {
	Recipients []Recipient
	// LockTime is copied into the transaction. Zero means none.
	LockTime uint32
}

// FeePolicy is either a fixed fee or a fixed rate.
type FeePolicy struct {
	// Fixed is an absolute fee. When non-zero RatePerKVB is ignored.
	Fixed btcutil.Amount
	// RatePerKVB is the fee rate in satoshis per 1000 virtual bytes. Zero
	// means the default minimum relay fee.
	RatePerKVB btcutil.Amount
	// DustRelayFeePerKVB sets the dust threshold. Zero means the default
	// minimum relay fee.
	DustRelayFeePerKVB btcutil.Amount
}

// Validate rejects negative fees.
func (f FeePolicy) Validate() error {
	if f.Fixed < 0 || f.RatePerKVB < 0 || f.DustRelayFeePerKVB < 0 {
		return fmt.Errorf("negative fee policy value")
	}
	return nil
}

func (f FeePolicy) dustRelayFee() btcutil.Amount {
	if f.DustRelayFeePerKVB == 0 {
		return txrules.DefaultRelayFeePerKb
	}
	return f.DustRelayFeePerKVB
}

// p2wpkhTemplate stands in for a change script when measuring dust; only its
// size and witness version matter.
var p2wpkhTemplate = append([]byte{txscript.OP_0, txscript.OP_DATA_20}, make([]byte, 20)...)

// IsDust reports whether a P2WPKH output of amount is below the dust
// threshold of the policy.
func (f FeePolicy) IsDust(amount btcutil.Amount) bool {
	return txrules.IsDustOutput(wire.NewTxOut(int64(amount), p2wpkhTemplate), f.dustRelayFee())
}

// fee returns the fee for nInputs P2WPKH inputs paying outs, plus a P2WPKH
// change output when withChange is set.
func (f FeePolicy) fee(nInputs int, outs []*wire.TxOut, withChange bool) btcutil.Amount {
	if f.Fixed != 0 {
		return f.Fixed
	}
	rate := f.RatePerKVB
	if rate == 0 {
		rate = txrules.DefaultRelayFeePerKb
	}
	changeSize := 0
	if withChange {
		changeSize = txsizes.P2WPKHPkScriptSize
	}
	vsize := txsizes.EstimateVirtualSize(0, 0, nInputs, 0, outs, changeSize)
	return txrules.FeeForSerializeSize(rate, vsize)
}

// KeyLocator supplies BIP-32 derivations for the wallet's keys.
type KeyLocator interface {
	// Derivation returns the derivation of the key at index on chain.
	Derivation(chain, index uint32) (*psbt.Bip32Derivation, error)
	// NextChangeIndex returns the first unused change index without
	// reserving it.
	NextChangeIndex() (uint32, error)
}

// P2WPKHScript returns the witness v0 key hash script paying pubKey.
func P2WPKHScript(pubKey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pubKey)).
		Script()
}

// Build selects inputs from utxos, adds change and returns the unsigned
// transaction as a PSTX in state Built. It never mutates utxos.
func Build(utxos []*walletdb.UTXO, req *Request, fees FeePolicy, keys KeyLocator) (*PSTX, error) {
	if len(req.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if err := fees.Validate(); err != nil {
		return nil, err
	}

	var (
		outs   []*wire.TxOut
		target btcutil.Amount
	)
	for i, r := range req.Recipients {
		out := wire.NewTxOut(int64(r.Amount), r.PkScript)
		if err := txrules.CheckOutput(out, fees.dustRelayFee()); err != nil {
			return nil, fmt.Errorf("recipient %d: %w", i, err)
		}
		outs = append(outs, out)
		target += r.Amount
	}

	// Fee depends on the input count, so select until it stops growing.
	fee := fees.fee(1, outs, true)
	var sel *CoinSelection
	for {
		var err error
		sel, err = SelectCoins(utxos, target+fee)
		if errors.Is(err, ErrNoUTXOs) {
			return nil, &InsufficientFundsError{Required: target + fee}
		}
		if err != nil {
			return nil, err
		}
		need := fees.fee(len(sel.Inputs), outs, true)
		if need <= fee {
			break
		}
		fee = need
	}

	tx := wire.NewMsgTx(TxVersion)
	tx.LockTime = req.LockTime
	for _, u := range sel.Inputs {
		op := u.OutPoint
		in := wire.NewTxIn(&op, nil, nil)
		in.Sequence = wire.MaxTxInSequenceNum - 1
		tx.AddTxIn(in)
	}
	for _, out := range outs {
		tx.AddTxOut(out)
	}

	change := sel.Total - target - fee
	var (
		changeScript []byte
		changeDeriv  *psbt.Bip32Derivation
		changeIdx    uint32
	)
	if change > 0 && !fees.IsDust(change) {
		var err error
		changeIdx, err = keys.NextChangeIndex()
		if err != nil {
			return nil, fmt.Errorf("change index: %w", err)
		}
		changeDeriv, err = keys.Derivation(ChangeChain, changeIdx)
		if err != nil {
			return nil, fmt.Errorf("change key %d: %w", changeIdx, err)
		}
		changeScript, err = P2WPKHScript(changeDeriv.PubKey)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	} else {
		if change > 0 {
			log.Tx.Debug().Int64("change", int64(change)).Msg("Change below dust, adding to fee")
		}
		fee += change
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("create psbt: %w", err)
	}
	for i, u := range sel.Inputs {
		d, err := keys.Derivation(u.Chain, u.Index)
		if err != nil {
			return nil, fmt.Errorf("input %s key: %w", u.OutPoint, err)
		}
		script, err := P2WPKHScript(d.PubKey)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(script, u.PkScript) {
			return nil, fmt.Errorf("input %s: %w", u.OutPoint, ErrScriptMismatch)
		}
		pIn := &packet.Inputs[i]
		pIn.WitnessUtxo = wire.NewTxOut(int64(u.Value), u.PkScript)
		pIn.SighashType = txscript.SigHashAll
		pIn.Bip32Derivation = []*psbt.Bip32Derivation{d}
	}
	if changeDeriv != nil {
		packet.Outputs[len(packet.Outputs)-1].Bip32Derivation = []*psbt.Bip32Derivation{changeDeriv}
	}

	// BIP-69 ordering keeps the txid stable across rebuilds of the same
	// selection.
	if err := psbt.InPlaceSort(packet); err != nil {
		return nil, fmt.Errorf("sort psbt: %w", err)
	}

	p := &PSTX{
		Packet:         packet,
		State:          StateBuilt,
		Fee:            fee,
		ChangeIndex:    -1,
		ChangeKeyIndex: changeIdx,
		TxID:           packet.UnsignedTx.TxHash(),
	}
	byOutPoint := make(map[wire.OutPoint]*walletdb.UTXO, len(sel.Inputs))
	for _, u := range sel.Inputs {
		byOutPoint[u.OutPoint] = u
	}
	for _, in := range packet.UnsignedTx.TxIn {
		p.Inputs = append(p.Inputs, byOutPoint[in.PreviousOutPoint])
	}
	if changeScript != nil {
		for i, out := range packet.UnsignedTx.TxOut {
			if out.Value == int64(change) && bytes.Equal(out.PkScript, changeScript) {
				p.ChangeIndex = i
				break
			}
		}
	}

	if err := checkBalance(p); err != nil {
		return nil, err
	}
	log.Tx.Debug().
		Str("txid", p.TxID.String()).
		Int("inputs", len(p.Inputs)).
		Int64("fee", int64(p.Fee)).
		Int("change_index", p.ChangeIndex).
		Msg("Built transaction")
	return p, nil
}

// checkBalance asserts sum(inputs) == sum(outputs) + fee.
func checkBalance(p *PSTX) error {
	var out btcutil.Amount
	for _, o := range p.Packet.UnsignedTx.TxOut {
		out += btcutil.Amount(o.Value)
	}
	if in := p.Sent(); in != out+p.Fee {
		return fmt.Errorf("unbalanced transaction: inputs %v, outputs %v, fee %v", in, out, p.Fee)
	}
	return nil
}
