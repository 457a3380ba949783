package walletdb

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
)

// Snapshot is the complete wallet view produced by one sync. UTXOs replaces
// the stored output set; Txs, Chains and Tip are upserted.
type Snapshot struct {
	Tip    Tip
	UTXOs  []*UTXO
	Txs    []*TxRecord
	Chains map[uint32]ChainState
}

// Delta describes what ApplySnapshot changed.
type Delta struct {
	Added   []wire.OutPoint
	Removed []wire.OutPoint
	Updated []wire.OutPoint
	Txs     []chainhash.Hash
	Chains  []uint32
	Tip     bool
}

// Empty reports whether nothing was written.
func (d *Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0 &&
		len(d.Txs) == 0 && len(d.Chains) == 0 && !d.Tip
}

type stored struct {
	key   []byte
	value []byte
}

// ApplySnapshot diffs snap against the namespace and writes the difference
// in one atomic batch. Nothing is written when the delta is empty, and a
// failed commit leaves the previous state intact.
func (s *Store) ApplySnapshot(snap *Snapshot) (*Delta, error) {
	current := make(map[string]stored)
	err := s.db.ForEach(prefixUTXO, func(key, value []byte) error {
		current[string(key)] = stored{key: key, value: value}
		return nil
	})
	if err != nil {
		return nil, storageErr("snapshot", prefixUTXO, err)
	}

	delta := &Delta{}
	batch := s.db.NewBatch()

	seen := make(map[string]struct{}, len(snap.UTXOs))
	for _, u := range snap.UTXOs {
		key := utxoKey(u.OutPoint)
		rec := u.record()
		value, err := json.Marshal(&rec)
		if err != nil {
			return nil, storageErr("snapshot", key, err)
		}
		seen[string(key)] = struct{}{}

		old, ok := current[string(key)]
		switch {
		case !ok:
			delta.Added = append(delta.Added, u.OutPoint)
		case !bytes.Equal(old.value, value):
			delta.Updated = append(delta.Updated, u.OutPoint)
		default:
			continue
		}
		if err := batch.Put(key, value); err != nil {
			return nil, storageErr("snapshot", key, err)
		}
	}

	removedKeys := make([]string, 0)
	for k := range current {
		if _, ok := seen[k]; !ok {
			removedKeys = append(removedKeys, k)
		}
	}
	sort.Strings(removedKeys)
	for _, k := range removedKeys {
		old := current[k]
		var rec utxoRecord
		if err := json.Unmarshal(old.value, &rec); err != nil {
			return nil, storageErr("snapshot", old.key, err)
		}
		u, err := rec.utxo()
		if err != nil {
			return nil, storageErr("snapshot", old.key, err)
		}
		delta.Removed = append(delta.Removed, u.OutPoint)
		if err := batch.Delete(old.key); err != nil {
			return nil, storageErr("snapshot", old.key, err)
		}
	}

	for _, t := range snap.Txs {
		rec := t.record()
		changed, err := s.stage(batch, txKey(t.TxID), &rec)
		if err != nil {
			return nil, err
		}
		if changed {
			delta.Txs = append(delta.Txs, t.TxID)
		}
	}

	chains := make([]uint32, 0, len(snap.Chains))
	for c := range snap.Chains {
		chains = append(chains, c)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })
	for _, c := range chains {
		cs := snap.Chains[c]
		changed, err := s.stage(batch, chainKey(c), cs)
		if err != nil {
			return nil, err
		}
		if changed {
			delta.Chains = append(delta.Chains, c)
		}
	}

	tip := snap.Tip.record()
	changed, err := s.stage(batch, keyTip, &tip)
	if err != nil {
		return nil, err
	}
	delta.Tip = changed

	if batch.Len() == 0 {
		return delta, nil
	}
	if err := batch.Commit(); err != nil {
		return nil, storageErr("commit", nil, err)
	}
	return delta, nil
}

// stage queues key=v on batch when it differs from the stored value.
func (s *Store) stage(batch storage.Batch, key []byte, v any) (bool, error) {
	value, err := json.Marshal(v)
	if err != nil {
		return false, storageErr("snapshot", key, err)
	}
	old, err := s.db.Get(key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return false, storageErr("snapshot", key, err)
	case bytes.Equal(old, value):
		return false, nil
	}
	if err := batch.Put(key, value); err != nil {
		return false, storageErr("snapshot", key, err)
	}
	return true, nil
}
