// Package chainsync reconciles the wallet state store with a node's view of
// the chain.
package chainsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-wallet/internal/backend"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/walletdb"
	"github.com/Klingon-tech/klingnet-wallet/pkg/descriptor"
)

// DefaultLookahead is the number of unused addresses scanned past the last
// used or revealed one on each chain.
const DefaultLookahead = 20

// ErrSync matches every *SyncError.
var ErrSync = errors.New("sync failed")

// SyncError wraps a node failure during sync. Persisted state is unchanged
// when it is returned.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error        { return e.Err }
func (e *SyncError) Is(target error) bool { return target == ErrSync }

// Config configures a Coordinator.
type Config struct {
	Node  backend.Node
	Store *walletdb.Store
	// Chains holds the public descriptor of each chain, indexed by chain
	// number.
	Chains    []*descriptor.Descriptor
	Lookahead uint32
	Logger    *zerolog.Logger
}

// Coordinator runs sync for one wallet.
type Coordinator struct {
	node      backend.Node
	store     *walletdb.Store
	chains    []*descriptor.Descriptor
	lookahead uint32
	log       zerolog.Logger
}

// New validates cfg and returns a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Node == nil || cfg.Store == nil {
		return nil, fmt.Errorf("chainsync: node and store are required")
	}
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("chainsync: no descriptors")
	}
	for i, d := range cfg.Chains {
		if d.IsPrivate() {
			return nil, fmt.Errorf("chainsync: chain %d descriptor carries private keys", i)
		}
	}
	lookahead := cfg.Lookahead
	if lookahead == 0 {
		lookahead = DefaultLookahead
	}
	l := log.WithWallet(log.Sync, cfg.Store.Namespace())
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &Coordinator{
		node:      cfg.Node,
		store:     cfg.Store,
		chains:    cfg.Chains,
		lookahead: lookahead,
		log:       l,
	}, nil
}

// Result summarizes one sync.
type Result struct {
	Tip       walletdb.Tip
	Added     []wire.OutPoint
	Removed   []wire.OutPoint
	Confirmed []chainhash.Hash
	// Unconfirmed lists confirmed transactions returned to broadcast by a
	// reorg.
	Unconfirmed []chainhash.Hash
	Balance     walletdb.Balance
	// Changed is false when the node view matched the store exactly.
	Changed bool
}

type owner struct {
	chain uint32
	index uint32
}

// window holds the locally derived scripts of one chain up to end.
type window struct {
	desc    *descriptor.Descriptor
	end     uint32
	scripts map[string]owner
}

func (w *window) extend(chain, end uint32) error {
	for i := w.end; i < end; i++ {
		s, err := w.desc.Script(i)
		if err != nil {
			return fmt.Errorf("derive chain %d index %d: %w", chain, i, err)
		}
		w.scripts[string(s)] = owner{chain: chain, index: i}
	}
	if end > w.end {
		w.end = end
	}
	return nil
}

// Sync asks the node for every output paying the wallet, replaces the
// stored UTXO set with that view, and advances transaction history. Running
// it twice against an unchanged chain writes nothing.
func (c *Coordinator) Sync(ctx context.Context) (*Result, error) {
	info, err := c.node.ChainInfo(ctx)
	if err != nil {
		return nil, &SyncError{Op: "chain info", Err: err}
	}

	states := make([]walletdb.ChainState, len(c.chains))
	windows := make([]*window, len(c.chains))
	for i, d := range c.chains {
		chain := uint32(i)
		if states[i], err = c.store.ChainState(chain); err != nil {
			return nil, err
		}
		windows[i] = &window{desc: d, scripts: make(map[string]owner)}
		if err := windows[i].extend(chain, states[i].Next()+c.lookahead); err != nil {
			return nil, err
		}
	}

	// Widen the scan until every chain has lookahead unused indexes past its
	// highest used one.
	var (
		scan  *backend.ScanResult
		owned map[wire.OutPoint]owner
		used  []uint32
	)
	for {
		reqs := make([]backend.ScanRequest, len(windows))
		for i, w := range windows {
			reqs[i] = backend.ScanRequest{Descriptor: w.desc.StringWithChecksum(), End: w.end}
		}
		scan, err = c.node.ScanOutputs(ctx, reqs)
		if err != nil {
			return nil, &SyncError{Op: "scan", Err: err}
		}

		owned = make(map[wire.OutPoint]owner, len(scan.Outputs))
		used = make([]uint32, len(windows))
		for _, o := range scan.Outputs {
			own, ok := c.classify(windows, o.PkScript)
			if !ok {
				c.log.Warn().Str("outpoint", o.OutPoint.String()).Msg("Ignoring output with unknown script")
				continue
			}
			owned[o.OutPoint] = own
			if own.index+1 > used[own.chain] {
				used[own.chain] = own.index + 1
			}
		}

		grew := false
		for i, w := range windows {
			if want := used[i] + c.lookahead; want > w.end {
				if err := w.extend(uint32(i), want); err != nil {
					return nil, err
				}
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	tip := walletdb.Tip{Height: scan.Height, Hash: scan.BestHash}
	if scan.Height == 0 && info.Height != 0 {
		tip = walletdb.Tip{Height: info.Height, Hash: info.BestHash}
	}

	snap, confirmed, unconfirmed, err := c.snapshot(scan, owned, tip)
	if err != nil {
		return nil, err
	}
	snap.Chains = make(map[uint32]walletdb.ChainState, len(states))
	for i, st := range states {
		if used[i] > st.Used {
			st.Used = used[i]
		}
		snap.Chains[uint32(i)] = st
	}

	delta, err := c.store.ApplySnapshot(snap)
	if err != nil {
		return nil, err
	}
	bal, err := c.store.Balance()
	if err != nil {
		return nil, err
	}

	res := &Result{
		Tip:         tip,
		Added:       delta.Added,
		Removed:     delta.Removed,
		Confirmed:   confirmed,
		Unconfirmed: unconfirmed,
		Balance:     bal,
		Changed:     !delta.Empty(),
	}
	ev := c.log.Info()
	if !res.Changed {
		ev = c.log.Debug()
	}
	ev.Int32("height", tip.Height).
		Int("utxos", len(owned)).
		Int("added", len(res.Added)).
		Int("removed", len(res.Removed)).
		Int("confirmed", len(confirmed)).
		Int("unconfirmed", len(unconfirmed)).
		Int64("balance", int64(bal.Confirmed)).
		Msg("Wallet synced")
	return res, nil
}

func (c *Coordinator) classify(windows []*window, script []byte) (owner, bool) {
	for _, w := range windows {
		if own, ok := w.scripts[string(script)]; ok {
			return own, true
		}
	}
	return owner{}, false
}

// snapshot builds the new store view from the scan and the stored history.
// Outgoing transactions whose inputs all left the UTXO set are confirmed.
// Confirmed ones whose inputs are unspent again go back to broadcast. Outputs
// spent by a broadcast transaction stay locked.
func (c *Coordinator) snapshot(scan *backend.ScanResult, owned map[wire.OutPoint]owner, tip walletdb.Tip) (*walletdb.Snapshot, []chainhash.Hash, []chainhash.Hash, error) {
	history, err := c.store.Transactions()
	if err != nil {
		return nil, nil, nil, err
	}
	known := make(map[chainhash.Hash]*walletdb.TxRecord, len(history))
	for _, t := range history {
		known[t.TxID] = t
	}

	outHeight := make(map[chainhash.Hash]int32)
	for _, o := range scan.Outputs {
		if _, ok := owned[o.OutPoint]; ok {
			outHeight[o.OutPoint.Hash] = o.Height
		}
	}

	snap := &walletdb.Snapshot{Tip: tip}
	locked := make(map[wire.OutPoint]struct{})
	var confirmed, unconfirmed []chainhash.Hash
	for _, t := range history {
		if t.Status != walletdb.TxBroadcast && t.Status != walletdb.TxConfirmed {
			continue
		}
		pending := false
		for _, op := range t.Inputs {
			if _, ok := owned[op]; ok {
				pending = true
				locked[op] = struct{}{}
			}
		}
		if pending {
			// A confirmed t with unspent inputs was disconnected.
			if t.Status == walletdb.TxConfirmed {
				back := *t
				back.Status = walletdb.TxBroadcast
				back.Height = 0
				snap.Txs = append(snap.Txs, &back)
				unconfirmed = append(unconfirmed, t.TxID)
			}
			continue
		}
		if t.Status == walletdb.TxConfirmed {
			continue
		}
		done := *t
		done.Status = walletdb.TxConfirmed
		done.Height = tip.Height
		if h, ok := outHeight[t.TxID]; ok {
			done.Height = h
		}
		snap.Txs = append(snap.Txs, &done)
		confirmed = append(confirmed, t.TxID)
	}

	received := make(map[chainhash.Hash]*walletdb.TxRecord)
	var order []chainhash.Hash
	for _, o := range scan.Outputs {
		own, ok := owned[o.OutPoint]
		if !ok {
			continue
		}
		_, isLocked := locked[o.OutPoint]
		snap.UTXOs = append(snap.UTXOs, &walletdb.UTXO{
			OutPoint: o.OutPoint,
			Value:    o.Value,
			PkScript: o.PkScript,
			Chain:    own.chain,
			Index:    own.index,
			Height:   o.Height,
			Spent:    isLocked,
		})

		if t, ok := known[o.OutPoint.Hash]; ok && t.Status != walletdb.TxReceived {
			continue
		}
		rec, ok := received[o.OutPoint.Hash]
		if !ok {
			rec = &walletdb.TxRecord{TxID: o.OutPoint.Hash, Status: walletdb.TxReceived, Height: o.Height}
			received[o.OutPoint.Hash] = rec
			order = append(order, o.OutPoint.Hash)
		}
		rec.Received += o.Value
	}
	for _, h := range order {
		rec := received[h]
		// Outputs already spent keep the amount recorded when first seen.
		if old, ok := known[h]; ok && old.Received > rec.Received {
			rec.Received = old.Received
		}
		snap.Txs = append(snap.Txs, rec)
	}
	return snap, confirmed, unconfirmed, nil
}
