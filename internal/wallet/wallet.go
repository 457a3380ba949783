package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-wallet/internal/backend"
	"github.com/Klingon-tech/klingnet-wallet/internal/chainsync"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/spend"
	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
	"github.com/Klingon-tech/klingnet-wallet/internal/walletdb"
	"github.com/Klingon-tech/klingnet-wallet/pkg/descriptor"
)

// ErrForeignKey is returned by PrivKey for derivations outside the wallet.
var ErrForeignKey = errors.New("derivation does not belong to this wallet")

// Config configures a Wallet.
type Config struct {
	KeyContext  *KeyContext
	Descriptors *Descriptors
	DB          storage.DB
	Node        backend.Node
	// Lookahead is the sync gap limit; zero means chainsync.DefaultLookahead.
	Lookahead uint32
	Fees      spend.FeePolicy
}

// Wallet ties a descriptor pair to its state namespace and a node. It is not
// safe for concurrent use.
type Wallet struct {
	kctx  *KeyContext
	descs *Descriptors
	pub   *Descriptors
	fp    descriptor.Fingerprint

	ns        string
	store     *walletdb.Store
	node      backend.Node
	sync      *chainsync.Coordinator
	lookahead uint32
	fees      spend.FeePolicy

	// watched is the import range already sent to a Watcher node, per chain.
	watched [2]uint32
	log     zerolog.Logger
}

// New opens the wallet's namespace in cfg.DB and records or checks its
// metadata. Reopening with different descriptors for the same namespace
// fails with walletdb.ErrMetaMismatch.
func New(cfg Config) (*Wallet, error) {
	if cfg.KeyContext == nil || cfg.Descriptors == nil || cfg.DB == nil || cfg.Node == nil {
		return nil, errors.New("wallet: key context, descriptors, db and node are required")
	}
	if err := cfg.Fees.Validate(); err != nil {
		return nil, err
	}
	descs, err := ParseDescriptors(cfg.KeyContext,
		cfg.Descriptors.Receive.String(), cfg.Descriptors.Change.String())
	if err != nil {
		return nil, err
	}
	pub, err := descs.Public()
	if err != nil {
		return nil, err
	}
	ns, err := NamespaceID(descs, cfg.KeyContext.Params)
	if err != nil {
		return nil, err
	}

	store, err := walletdb.Open(cfg.DB, ns)
	if err != nil {
		return nil, err
	}
	err = store.InitMeta(&walletdb.Meta{
		Network: cfg.KeyContext.Params.Name,
		Receive: pub.Receive.StringWithChecksum(),
		Change:  pub.Change.StringWithChecksum(),
	})
	if err != nil {
		return nil, err
	}

	lookahead := cfg.Lookahead
	if lookahead == 0 {
		lookahead = chainsync.DefaultLookahead
	}
	logger := log.WithWallet(log.Wallet, ns)
	syncLog := log.WithWallet(log.Sync, ns)
	coord, err := chainsync.New(chainsync.Config{
		Node:      cfg.Node,
		Store:     store,
		Chains:    []*descriptor.Descriptor{pub.Receive, pub.Change},
		Lookahead: lookahead,
		Logger:    &syncLog,
	})
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		kctx:      cfg.KeyContext,
		descs:     descs,
		pub:       pub,
		fp:        descs.Receive.Key.Origin.Fingerprint,
		ns:        ns,
		store:     store,
		node:      cfg.Node,
		sync:      coord,
		lookahead: lookahead,
		fees:      cfg.Fees,
		log:       logger,
	}
	logger.Info().Str("network", cfg.KeyContext.Params.Name).Msg("Wallet opened")
	return w, nil
}

// Namespace returns the wallet's store namespace.
func (w *Wallet) Namespace() string { return w.ns }

// Descriptors returns the private descriptor pair.
func (w *Wallet) Descriptors() *Descriptors { return w.descs }

// PublicDescriptors returns the watch-only descriptor pair.
func (w *Wallet) PublicDescriptors() *Descriptors { return w.pub }

// Store exposes the wallet state for read access.
func (w *Wallet) Store() *walletdb.Store { return w.store }

// Sync registers the descriptors with the node when it keeps its own wallets,
// then reconciles local state with the node's UTXO view.
func (w *Wallet) Sync(ctx context.Context) (*chainsync.Result, error) {
	if err := w.watch(ctx); err != nil {
		return nil, err
	}
	return w.sync.Sync(ctx)
}

func (w *Wallet) watch(ctx context.Context) error {
	watcher, ok := w.node.(backend.Watcher)
	if !ok {
		return nil
	}
	var (
		reqs []backend.ScanRequest
		ends [2]uint32
		grow bool
	)
	for _, chain := range KeyChains {
		cs, err := w.store.ChainState(uint32(chain))
		if err != nil {
			return err
		}
		end := cs.Next() + w.lookahead
		if end < w.watched[chain] {
			end = w.watched[chain]
		}
		ends[chain] = end
		if end > w.watched[chain] {
			grow = true
		}
		reqs = append(reqs, backend.ScanRequest{
			Descriptor: w.pub.For(chain).StringWithChecksum(),
			End:        end,
		})
	}
	if !grow {
		return nil
	}
	if err := watcher.Watch(ctx, w.ns, reqs); err != nil {
		return &chainsync.SyncError{Op: "watch", Err: err}
	}
	w.watched = ends
	return nil
}

// Balance returns the locally synced balance.
func (w *Wallet) Balance() (walletdb.Balance, error) {
	return w.store.Balance()
}

// NodeBalance asks the node for the balance it tracks for this wallet.
func (w *Wallet) NodeBalance(ctx context.Context) (btcutil.Amount, error) {
	return w.node.Balance(ctx, w.ns)
}

// NewAddress reveals the next unused receive address.
func (w *Wallet) NewAddress() (*btcutil.AddressWitnessPubKeyHash, uint32, error) {
	chain := uint32(ChainReceive)
	cs, err := w.store.ChainState(chain)
	if err != nil {
		return nil, 0, err
	}
	index := cs.Next()
	addr, err := w.PeekAddress(ChainReceive, index)
	if err != nil {
		return nil, 0, err
	}
	cs.Revealed = index + 1
	if err := w.store.PutChainState(chain, cs); err != nil {
		return nil, 0, err
	}
	w.log.Debug().Uint32("index", index).Msg("Revealed receive address")
	return addr, index, nil
}

// PeekAddress returns the address at index on chain without revealing it.
func (w *Wallet) PeekAddress(chain KeyChain, index uint32) (*btcutil.AddressWitnessPubKeyHash, error) {
	addr, err := w.pub.For(chain).Address(index, w.kctx.Params)
	if err != nil {
		return nil, &DerivationError{Chain: chain, Path: ChainPath(chain, w.kctx.CoinType()).Child(index), Step: 4, Err: err}
	}
	return addr, nil
}

// BuildTx builds an unsigned transaction from the synced unspent outputs.
// Outputs spent by a broadcast that no sync has seen yet are skipped.
func (w *Wallet) BuildTx(req *spend.Request) (*spend.PSTX, error) {
	utxos, err := w.store.Unspent()
	if err != nil {
		return nil, err
	}
	history, err := w.store.Transactions()
	if err != nil {
		return nil, err
	}
	pending := make(map[wire.OutPoint]struct{})
	for _, t := range history {
		if t.Status != walletdb.TxBroadcast {
			continue
		}
		for _, op := range t.Inputs {
			pending[op] = struct{}{}
		}
	}
	free := utxos[:0:0]
	for _, u := range utxos {
		if _, ok := pending[u.OutPoint]; !ok {
			free = append(free, u)
		}
	}
	return spend.Build(free, req, w.fees, w)
}

// Sign signs every input of p. Without an explicit AssumeHeight the next
// block after the synced tip is assumed.
func (w *Wallet) Sign(p *spend.PSTX, opts spend.SignOptions) error {
	if opts.AssumeHeight == nil {
		tip, ok, err := w.store.Tip()
		if err != nil {
			return err
		}
		if ok {
			next := uint32(tip.Height) + 1
			opts.AssumeHeight = &next
		}
	}
	return spend.Sign(w, p, opts)
}

// Finalize completes the witnesses of a signed p.
func (w *Wallet) Finalize(p *spend.PSTX) error {
	return spend.Finalize(p)
}

// Broadcast relays p and records it as a pending outgoing transaction. The
// spent outputs stay locked until a sync sees them leave the UTXO set.
// Calling it again for a broadcast p resubmits the same bytes.
func (w *Wallet) Broadcast(ctx context.Context, p *spend.PSTX) error {
	if err := spend.Broadcast(ctx, w.node, p); err != nil {
		return err
	}

	rec, err := w.store.Tx(p.TxID)
	switch {
	case errors.Is(err, walletdb.ErrNotFound):
	case err != nil:
		return err
	case rec.Status == walletdb.TxConfirmed:
		return nil
	}

	var raw bytes.Buffer
	if err := p.Final.Serialize(&raw); err != nil {
		return fmt.Errorf("serialize %s: %w", p.TxID, err)
	}
	err = w.store.PutTx(&walletdb.TxRecord{
		TxID:     p.TxID,
		Status:   walletdb.TxBroadcast,
		Inputs:   p.OutPoints(),
		Sent:     p.Sent(),
		Received: p.Change(),
		Fee:      p.Fee,
		Raw:      raw.Bytes(),
	})
	if err != nil {
		return err
	}

	if p.ChangeIndex >= 0 {
		chain := uint32(ChainChange)
		cs, err := w.store.ChainState(chain)
		if err != nil {
			return err
		}
		if p.ChangeKeyIndex+1 > cs.Revealed {
			cs.Revealed = p.ChangeKeyIndex + 1
			if err := w.store.PutChainState(chain, cs); err != nil {
				return err
			}
		}
	}
	return nil
}

// Refresh moves a broadcast p to Confirmed once a sync has confirmed it. It
// reports whether p is confirmed.
func (w *Wallet) Refresh(p *spend.PSTX) (bool, error) {
	if p.State == spend.StateConfirmed {
		return true, nil
	}
	rec, err := w.store.Tx(p.TxID)
	if errors.Is(err, walletdb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.Status != walletdb.TxConfirmed {
		return false, nil
	}
	if err := p.Confirm(rec.Height); err != nil {
		return false, err
	}
	return true, nil
}

// Transactions returns the wallet history ordered by height.
func (w *Wallet) Transactions() ([]*walletdb.TxRecord, error) {
	return w.store.Transactions()
}

// Derivation implements spend.KeyLocator.
func (w *Wallet) Derivation(chain, index uint32) (*psbt.Bip32Derivation, error) {
	if chain > uint32(ChainChange) {
		return nil, fmt.Errorf("unknown chain %d", chain)
	}
	d := w.pub.For(KeyChain(chain))
	pub, err := d.Key.PubKey(index)
	if err != nil {
		return nil, err
	}
	origin, err := d.KeyOrigin(index)
	if err != nil {
		return nil, err
	}
	return &psbt.Bip32Derivation{
		PubKey:               pub.SerializeCompressed(),
		MasterKeyFingerprint: origin.Fingerprint.Uint32(),
		Bip32Path:            origin.Path,
	}, nil
}

// NextChangeIndex implements spend.KeyLocator.
func (w *Wallet) NextChangeIndex() (uint32, error) {
	cs, err := w.store.ChainState(uint32(ChainChange))
	if err != nil {
		return 0, err
	}
	return cs.Next(), nil
}

// PrivKey implements spend.KeyRing by re-deriving the key from the chain
// descriptor that owns d's path.
func (w *Wallet) PrivKey(d *psbt.Bip32Derivation) (*btcec.PrivateKey, error) {
	if d.MasterKeyFingerprint != w.fp.Uint32() {
		return nil, fmt.Errorf("%w: fingerprint %08x", ErrForeignKey, d.MasterKeyFingerprint)
	}
	path := descriptor.DerivationPath(d.Bip32Path)
	for _, chain := range KeyChains {
		desc := w.descs.For(chain)
		prefix := desc.Key.Origin.Path.Concat(desc.Key.Path)
		if len(path) != len(prefix)+1 || !path.HasPrefix(prefix) {
			continue
		}
		xkey, err := desc.DeriveKey(path[len(path)-1])
		if err != nil {
			return nil, &DerivationError{Chain: chain, Path: path, Step: len(prefix), Err: err}
		}
		return xkey.ECPrivKey()
	}
	return nil, fmt.Errorf("%w: path %s", ErrForeignKey, path)
}
