package spend

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-wallet/internal/walletdb"
)

// State is the lifecycle position of a transaction.
type State int

const (
	StateBuilt State = iota
	StateSigned
	StateFinalized
	StateBroadcast
	StateConfirmed
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateSigned:
		return "signed"
	case StateFinalized:
		return "finalized"
	case StateBroadcast:
		return "broadcast"
	case StateConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PSTX is a wallet transaction moving through
// Built -> Signed -> Finalized -> Broadcast -> Confirmed.
type PSTX struct {
	Packet *psbt.Packet
	State  State

	// Inputs are the spent outputs in packet input order.
	Inputs []*walletdb.UTXO
	Fee    btcutil.Amount
	// ChangeIndex is the change output position, -1 when change was folded
	// into the fee.
	ChangeIndex    int
	ChangeKeyIndex uint32

	// TxID is fixed at build time; witnesses do not change it.
	TxID chainhash.Hash
	// Final is the network transaction, set by Finalize.
	Final *wire.MsgTx
	// Height is the confirmation height, set by Confirm.
	Height int32
}

// advance moves p from one state to the next.
func (p *PSTX) advance(from, to State) error {
	if p.State != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidTransition, from, to, p.State)
	}
	p.State = to
	return nil
}

// Confirm records that the transaction reached a block at height.
func (p *PSTX) Confirm(height int32) error {
	if err := p.advance(StateBroadcast, StateConfirmed); err != nil {
		return err
	}
	p.Height = height
	return nil
}

// B64 returns the packet in base64 BIP-174 encoding.
func (p *PSTX) B64() (string, error) {
	return p.Packet.B64Encode()
}

// Sent is the value of all spent inputs.
func (p *PSTX) Sent() btcutil.Amount {
	var total btcutil.Amount
	for _, u := range p.Inputs {
		total += u.Value
	}
	return total
}

// Change is the value paid back to the wallet.
func (p *PSTX) Change() btcutil.Amount {
	if p.ChangeIndex < 0 {
		return 0
	}
	return btcutil.Amount(p.Packet.UnsignedTx.TxOut[p.ChangeIndex].Value)
}

// OutPoints lists the spent outpoints in input order.
func (p *PSTX) OutPoints() []wire.OutPoint {
	out := make([]wire.OutPoint, 0, len(p.Packet.UnsignedTx.TxIn))
	for _, in := range p.Packet.UnsignedTx.TxIn {
		out = append(out, in.PreviousOutPoint)
	}
	return out
}
