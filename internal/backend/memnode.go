package backend

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"

	"github.com/Klingon-tech/klingnet-wallet/pkg/descriptor"
)

// Reject codes, matching bitcoind's sendrawtransaction errors.
const (
	RejectMissingInputs = -25
	RejectInvalid       = -26
)

type memCoin struct {
	out    wire.TxOut
	height int32
}

type memTx struct {
	tx     *wire.MsgTx
	height int32
	// spent holds the coins this transaction consumed, for Reorg.
	spent map[wire.OutPoint]memCoin
}

// MemNode is an in-memory node: a confirmed UTXO set, a mempool and a block
// counter. Relay runs the script engine over every input, so only properly
// signed transactions are accepted. It is safe for concurrent use.
type MemNode struct {
	mu sync.Mutex

	params   *chaincfg.Params
	minFee   btcutil.Amount
	hashes   []chainhash.Hash
	coins    map[wire.OutPoint]memCoin
	mempool  []*wire.MsgTx
	inPool   map[chainhash.Hash]struct{}
	mined    map[chainhash.Hash]*memTx
	watched  map[string][]ScanRequest
	fail     error
	fundings uint32
}

// NewMemNode returns a node for params with only a genesis block.
func NewMemNode(params *chaincfg.Params) *MemNode {
	return &MemNode{
		params:  params,
		minFee:  txrules.DefaultRelayFeePerKb,
		hashes:  []chainhash.Hash{*params.GenesisHash},
		coins:   make(map[wire.OutPoint]memCoin),
		inPool:  make(map[chainhash.Hash]struct{}),
		mined:   make(map[chainhash.Hash]*memTx),
		watched: make(map[string][]ScanRequest),
	}
}

// SetFailure makes every subsequent call fail with err until cleared with nil.
func (n *MemNode) SetFailure(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = err
}

func (n *MemNode) height() int32 {
	return int32(len(n.hashes) - 1)
}

// ChainInfo implements Node.
func (n *MemNode) ChainInfo(ctx context.Context) (*ChainInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(ctx); err != nil {
		return nil, err
	}
	return &ChainInfo{
		Chain:    n.params.Name,
		Height:   n.height(),
		BestHash: n.hashes[len(n.hashes)-1],
	}, nil
}

func (n *MemNode) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.fail
}

// Fund places an unconfirmed transaction paying amount to pkScript in the
// mempool, as a node-side wallet would. It returns the funding outpoint.
func (n *MemNode) Fund(pkScript []byte, amount btcutil.Amount) wire.OutPoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.fundings++
	var seed [8]byte
	binary.BigEndian.PutUint32(seed[:4], n.fundings)
	binary.BigEndian.PutUint32(seed[4:], uint32(n.height()))
	prev := chainhash.DoubleHashH(seed[:])

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))

	txid := tx.TxHash()
	n.mempool = append(n.mempool, tx)
	n.inPool[txid] = struct{}{}
	return wire.OutPoint{Hash: txid, Index: 0}
}

// Mine confirms the whole mempool in the first of count new blocks.
func (n *MemNode) Mine(count int) []chainhash.Hash {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []chainhash.Hash
	for i := 0; i < count; i++ {
		prev := n.hashes[len(n.hashes)-1]
		var buf [chainhash.HashSize + 4]byte
		copy(buf[:], prev[:])
		binary.BigEndian.PutUint32(buf[chainhash.HashSize:], uint32(len(n.hashes)))
		hash := chainhash.DoubleHashH(buf[:])
		n.hashes = append(n.hashes, hash)
		height := n.height()

		for _, tx := range n.mempool {
			n.connect(tx, height)
		}
		n.mempool = nil
		n.inPool = make(map[chainhash.Hash]struct{})
		out = append(out, hash)
	}
	return out
}

func (n *MemNode) connect(tx *wire.MsgTx, height int32) {
	txid := tx.TxHash()
	rec := &memTx{tx: tx, height: height, spent: make(map[wire.OutPoint]memCoin)}
	for _, in := range tx.TxIn {
		if coin, ok := n.coins[in.PreviousOutPoint]; ok {
			rec.spent[in.PreviousOutPoint] = coin
			delete(n.coins, in.PreviousOutPoint)
		}
	}
	for i, out := range tx.TxOut {
		op := wire.OutPoint{Hash: txid, Index: uint32(i)}
		n.coins[op] = memCoin{out: *out, height: height}
	}
	n.mined[txid] = rec
}

// Reorg disconnects a confirmed transaction: its outputs leave the UTXO set
// and the coins it spent come back.
func (n *MemNode) Reorg(txid chainhash.Hash) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	rec, ok := n.mined[txid]
	if !ok {
		return fmt.Errorf("transaction %s not confirmed", txid)
	}
	for i := range rec.tx.TxOut {
		delete(n.coins, wire.OutPoint{Hash: txid, Index: uint32(i)})
	}
	for op, coin := range rec.spent {
		n.coins[op] = coin
	}
	delete(n.mined, txid)
	return nil
}

// InMempool reports whether txid is waiting for a block.
func (n *MemNode) InMempool(txid chainhash.Hash) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.inPool[txid]
	return ok
}

// Confirmations returns the depth of txid, 0 when unconfirmed.
func (n *MemNode) Confirmations(txid chainhash.Hash) int32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec, ok := n.mined[txid]
	if !ok {
		return 0
	}
	return n.height() - rec.height + 1
}

// scripts derives the script set covered by reqs.
func scripts(reqs []ScanRequest) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for _, req := range reqs {
		desc, err := descriptor.Parse(req.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		for i := uint32(0); i < req.End; i++ {
			script, err := desc.Script(i)
			if err != nil {
				return nil, fmt.Errorf("scan descriptor index %d: %w", i, err)
			}
			set[string(script)] = struct{}{}
		}
	}
	return set, nil
}

// ScanOutputs implements Node. Like scantxoutset it sees confirmed outputs only.
func (n *MemNode) ScanOutputs(ctx context.Context, reqs []ScanRequest) (*ScanResult, error) {
	set, err := scripts(reqs)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(ctx); err != nil {
		return nil, err
	}

	res := &ScanResult{Height: n.height(), BestHash: n.hashes[len(n.hashes)-1]}
	for op, coin := range n.coins {
		if _, ok := set[string(coin.out.PkScript)]; !ok {
			continue
		}
		res.Outputs = append(res.Outputs, ScannedOutput{
			OutPoint: op,
			Value:    btcutil.Amount(coin.out.Value),
			PkScript: append([]byte(nil), coin.out.PkScript...),
			Height:   coin.height,
		})
	}
	sort.Slice(res.Outputs, func(i, j int) bool {
		a, b := res.Outputs[i].OutPoint, res.Outputs[j].OutPoint
		if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
			return c < 0
		}
		return a.Index < b.Index
	})
	return res, nil
}

// Relay implements Node.
func (n *MemNode) Relay(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(ctx); err != nil {
		return nil, err
	}

	txid := tx.TxHash()
	if _, ok := n.mined[txid]; ok {
		return nil, ErrAlreadyConfirmed
	}
	if _, ok := n.inPool[txid]; ok {
		return nil, ErrAlreadyInMempool
	}

	spentInPool := make(map[wire.OutPoint]struct{})
	for _, ptx := range n.mempool {
		for _, in := range ptx.TxIn {
			spentInPool[in.PreviousOutPoint] = struct{}{}
		}
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	var in btcutil.Amount
	for _, txIn := range tx.TxIn {
		coin, ok := n.coins[txIn.PreviousOutPoint]
		if !ok {
			return nil, &RejectError{Code: RejectMissingInputs, Reason: "bad-txns-inputs-missingorspent"}
		}
		if _, ok := spentInPool[txIn.PreviousOutPoint]; ok {
			return nil, &RejectError{Code: RejectInvalid, Reason: "txn-mempool-conflict"}
		}
		out := coin.out
		prevOuts[txIn.PreviousOutPoint] = &out
		in += btcutil.Amount(coin.out.Value)
	}

	var out btcutil.Amount
	for _, txOut := range tx.TxOut {
		out += btcutil.Amount(txOut.Value)
	}
	if in < out {
		return nil, &RejectError{Code: RejectInvalid, Reason: "bad-txns-in-belowout"}
	}
	if fee := in - out; fee < txrules.FeeForSerializeSize(n.minFee, virtualSize(tx)) {
		return nil, &RejectError{Code: RejectInvalid, Reason: "min relay fee not met"}
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	hashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, txIn := range tx.TxIn {
		prev := prevOuts[txIn.PreviousOutPoint]
		vm, err := txscript.NewEngine(prev.PkScript, tx, i,
			txscript.StandardVerifyFlags, nil, hashes, prev.Value, fetcher)
		if err != nil {
			return nil, &RejectError{Code: RejectInvalid, Reason: err.Error()}
		}
		if err := vm.Execute(); err != nil {
			return nil, &RejectError{
				Code:   RejectInvalid,
				Reason: fmt.Sprintf("mandatory-script-verify-flag-failed (%v)", err),
			}
		}
	}

	n.mempool = append(n.mempool, tx.Copy())
	n.inPool[txid] = struct{}{}
	return &txid, nil
}

// virtualSize is the BIP-141 virtual size of tx.
func virtualSize(tx *wire.MsgTx) int {
	weight := tx.SerializeSizeStripped()*3 + tx.SerializeSize()
	return (weight + 3) / 4
}

// Watch implements Watcher.
func (n *MemNode) Watch(ctx context.Context, namespace string, reqs []ScanRequest) error {
	if _, err := scripts(reqs); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(ctx); err != nil {
		return err
	}
	n.watched[namespace] = append([]ScanRequest(nil), reqs...)
	return nil
}

// Balance implements Node with the confirmed value of the watched scripts.
func (n *MemNode) Balance(ctx context.Context, namespace string) (btcutil.Amount, error) {
	n.mu.Lock()
	reqs, ok := n.watched[namespace]
	n.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%s: %w", namespace, ErrUnknownWallet)
	}

	res, err := n.ScanOutputs(ctx, reqs)
	if err != nil {
		return 0, err
	}
	var total btcutil.Amount
	for _, o := range res.Outputs {
		total += o.Value
	}
	return total, nil
}

var (
	_ Node    = (*MemNode)(nil)
	_ Watcher = (*MemNode)(nil)
)
