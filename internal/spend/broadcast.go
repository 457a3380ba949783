package spend

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-wallet/internal/backend"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
)

// Finalize turns the signatures of a Signed PSTX into witnesses and extracts
// the network transaction. An input without a usable signature yields an
// *IncompleteSignatureError and sends p back to Built for re-signing.
func Finalize(p *PSTX) error {
	if p.State != StateSigned {
		return fmt.Errorf("%w: finalize from %s", ErrInvalidTransition, p.State)
	}
	incomplete := func(i int, err error) error {
		p.State = StateBuilt
		return &IncompleteSignatureError{Input: i, Err: err}
	}

	for i := range p.Packet.Inputs {
		pIn := &p.Packet.Inputs[i]
		if len(pIn.FinalScriptWitness) == 0 && len(pIn.PartialSigs) == 0 {
			return incomplete(i, nil)
		}
	}

	// Finalize a copy so a failure leaves the signatures in place.
	work, err := clonePacket(p.Packet)
	if err != nil {
		return err
	}
	if err := psbt.MaybeFinalizeAll(work); err != nil {
		for i := range work.Inputs {
			if !isFinalized(&work.Inputs[i]) {
				return incomplete(i, err)
			}
		}
		return incomplete(0, err)
	}

	tx, err := psbt.Extract(work)
	if err != nil {
		return incomplete(0, err)
	}
	for i, in := range tx.TxIn {
		if len(in.Witness) != 2 {
			return incomplete(i, fmt.Errorf("witness has %d items", len(in.Witness)))
		}
	}
	if i, err := verifyScripts(tx, p); err != nil {
		return incomplete(i, err)
	}

	p.Packet = work
	p.Final = tx
	p.State = StateFinalized
	return nil
}

// verifyScripts executes every input script of tx, returning the first
// failing input.
func verifyScripts(tx *wire.MsgTx, p *PSTX) (int, error) {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(p.Inputs))
	for _, u := range p.Inputs {
		prevOuts[u.OutPoint] = wire.NewTxOut(int64(u.Value), u.PkScript)
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range tx.TxIn {
		prev, ok := prevOuts[in.PreviousOutPoint]
		if !ok {
			return i, fmt.Errorf("unknown input %s", in.PreviousOutPoint)
		}
		vm, err := txscript.NewEngine(prev.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, prev.Value, fetcher)
		if err != nil {
			return i, err
		}
		if err := vm.Execute(); err != nil {
			return i, err
		}
	}
	return 0, nil
}

func clonePacket(packet *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize psbt: %w", err)
	}
	return psbt.NewFromRawBytes(&buf, false)
}

func isFinalized(pIn *psbt.PInput) bool {
	return len(pIn.FinalScriptWitness) > 0 || len(pIn.FinalScriptSig) > 0
}

// Relayer submits transactions to the network.
type Relayer interface {
	Relay(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
}

// Broadcast submits a Finalized PSTX and moves it to Broadcast. Resubmitting
// a Broadcast PSTX sends the identical bytes again. A node that already
// knows the transaction counts as success; a refusal is a
// *BroadcastRejectedError; transport errors are returned wrapped and may be
// retried by the caller.
func Broadcast(ctx context.Context, r Relayer, p *PSTX) error {
	if p.State != StateFinalized && p.State != StateBroadcast {
		return fmt.Errorf("%w: broadcast from %s", ErrInvalidTransition, p.State)
	}

	txid, err := r.Relay(ctx, p.Final)
	var rej *backend.RejectError
	switch {
	case err == nil:
		if *txid != p.TxID {
			return fmt.Errorf("node reported txid %s, expected %s", txid, p.TxID)
		}
	case errors.Is(err, backend.ErrAlreadyInMempool), errors.Is(err, backend.ErrAlreadyConfirmed):
		log.Tx.Debug().Str("txid", p.TxID.String()).Err(err).Msg("Transaction already known to node")
	case errors.As(err, &rej):
		return &BroadcastRejectedError{TxID: p.TxID, Code: rej.Code, Reason: rej.Reason}
	default:
		return fmt.Errorf("relay %s: %w", p.TxID, err)
	}

	p.State = StateBroadcast
	log.Tx.Info().Str("txid", p.TxID.String()).Msg("Transaction broadcast")
	return nil
}
