// Package backend defines the node capabilities the wallet consumes and an
// in-memory node for tests and demos.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrAlreadyInMempool is returned by Relay for a transaction the node
	// already holds unconfirmed.
	ErrAlreadyInMempool = errors.New("transaction already in mempool")
	// ErrAlreadyConfirmed is returned by Relay for a transaction already in
	// the best chain.
	ErrAlreadyConfirmed = errors.New("transaction already confirmed")
	// ErrUnknownWallet is returned by Balance for a namespace the node does
	// not track.
	ErrUnknownWallet = errors.New("wallet not loaded on node")
)

// RejectError is a node's refusal to accept a transaction.
type RejectError struct {
	Code   int
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("node rejected transaction (code %d): %s", e.Code, e.Reason)
}

// ChainInfo is the node's view of its best chain.
type ChainInfo struct {
	Chain    string
	Height   int32
	BestHash chainhash.Hash
}

// ScanRequest asks for outputs paying any script of Descriptor at indexes
// [0, End).
type ScanRequest struct {
	Descriptor string
	End        uint32
}

// ScannedOutput is one unspent output reported by a scan.
type ScannedOutput struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte
	Height   int32
}

// ScanResult is a scan over the confirmed UTXO set at one tip.
type ScanResult struct {
	Height   int32
	BestHash chainhash.Hash
	Outputs  []ScannedOutput
}

// Node is the remote node the wallet syncs against and relays through.
type Node interface {
	ChainInfo(ctx context.Context) (*ChainInfo, error)
	ScanOutputs(ctx context.Context, reqs []ScanRequest) (*ScanResult, error)
	// Relay submits tx. An already known transaction yields
	// ErrAlreadyInMempool or ErrAlreadyConfirmed; a refusal yields a
	// *RejectError.
	Relay(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
	// Balance is the node-side balance of the watch wallet named namespace.
	Balance(ctx context.Context, namespace string) (btcutil.Amount, error)
}

// Watcher is implemented by nodes that keep a watch wallet per namespace.
type Watcher interface {
	Watch(ctx context.Context, namespace string, reqs []ScanRequest) error
}
