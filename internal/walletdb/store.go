// Package walletdb is the wallet state store: the UTXO set, transaction
// history, address usage and sync tip of one wallet, kept in its own
// storage namespace.
package walletdb

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = storage.ErrNotFound

// Key prefixes within a wallet namespace.
var (
	keyMeta     = []byte("m/meta")
	keyTip      = []byte("s/tip")
	prefixUTXO  = []byte("u/") // u/<txid><vout> -> UTXO JSON
	prefixTx    = []byte("t/") // t/<txid> -> TxRecord JSON
	prefixChain = []byte("c/") // c/<chain> -> ChainState JSON
)

// utxoKey builds "u/" + txid(32) + vout(4).
func utxoKey(op wire.OutPoint) []byte {
	key := make([]byte, len(prefixUTXO)+chainhash.HashSize+4)
	copy(key, prefixUTXO)
	copy(key[len(prefixUTXO):], op.Hash[:])
	binary.BigEndian.PutUint32(key[len(prefixUTXO)+chainhash.HashSize:], op.Index)
	return key
}

func txKey(hash chainhash.Hash) []byte {
	key := make([]byte, len(prefixTx)+chainhash.HashSize)
	copy(key, prefixTx)
	copy(key[len(prefixTx):], hash[:])
	return key
}

func chainKey(chain uint32) []byte {
	key := make([]byte, len(prefixChain)+4)
	copy(key, prefixChain)
	binary.BigEndian.PutUint32(key[len(prefixChain):], chain)
	return key
}

// Store is the state of one wallet. It assumes a single writer per namespace.
type Store struct {
	db        storage.DB
	namespace string
}

// Open opens the wallet namespace within db.
func Open(db storage.DB, namespace string) (*Store, error) {
	ns, err := storage.Open(db, namespace)
	if err != nil {
		return nil, &StorageError{Op: "open", Key: namespace, Err: err}
	}
	return &Store{db: ns, namespace: namespace}, nil
}

// Namespace returns the namespace the store was opened on.
func (s *Store) Namespace() string {
	return s.namespace
}

func (s *Store) getJSON(op string, key []byte, v any) error {
	data, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return storageErr(op, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return storageErr(op, key, err)
	}
	return nil
}

func (s *Store) putJSON(op string, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return storageErr(op, key, err)
	}
	if err := s.db.Put(key, data); err != nil {
		return storageErr(op, key, err)
	}
	return nil
}

// Meta returns the namespace metadata, or ErrNotFound for a fresh namespace.
func (s *Store) Meta() (*Meta, error) {
	var m Meta
	if err := s.getJSON("meta", keyMeta, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// InitMeta records m on a fresh namespace. On an existing namespace it
// checks that the stored wallet is the same one.
func (s *Store) InitMeta(m *Meta) error {
	stored, err := s.Meta()
	switch {
	case errors.Is(err, ErrNotFound):
		rec := *m
		rec.Version = SchemaVersion
		return s.putJSON("meta", keyMeta, &rec)
	case err != nil:
		return err
	}
	if stored.Network != m.Network || stored.Receive != m.Receive || stored.Change != m.Change {
		return fmt.Errorf("%w: namespace %s", ErrMetaMismatch, s.namespace)
	}
	return nil
}

// UTXO returns a single stored output.
func (s *Store) UTXO(op wire.OutPoint) (*UTXO, error) {
	var rec utxoRecord
	key := utxoKey(op)
	if err := s.getJSON("utxo", key, &rec); err != nil {
		return nil, err
	}
	u, err := rec.utxo()
	if err != nil {
		return nil, storageErr("utxo", key, err)
	}
	return u, nil
}

// UTXOs returns every stored output in key order.
func (s *Store) UTXOs() ([]*UTXO, error) {
	var out []*UTXO
	err := s.db.ForEach(prefixUTXO, func(key, value []byte) error {
		var rec utxoRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return storageErr("utxos", key, err)
		}
		u, err := rec.utxo()
		if err != nil {
			return storageErr("utxos", key, err)
		}
		out = append(out, u)
		return nil
	})
	if err != nil {
		var se *StorageError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, storageErr("utxos", prefixUTXO, err)
	}
	return out, nil
}

// Unspent returns the outputs not locked by a pending spend.
func (s *Store) Unspent() ([]*UTXO, error) {
	all, err := s.UTXOs()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, u := range all {
		if !u.Spent {
			out = append(out, u)
		}
	}
	return out, nil
}

// ChainState returns usage for chain. A chain never written reports zero.
func (s *Store) ChainState(chain uint32) (ChainState, error) {
	var cs ChainState
	err := s.getJSON("chain", chainKey(chain), &cs)
	if errors.Is(err, ErrNotFound) {
		return ChainState{}, nil
	}
	return cs, err
}

// PutChainState stores usage for chain.
func (s *Store) PutChainState(chain uint32, cs ChainState) error {
	return s.putJSON("chain", chainKey(chain), cs)
}

// Tx returns one history record.
func (s *Store) Tx(hash chainhash.Hash) (*TxRecord, error) {
	var rec txRecord
	key := txKey(hash)
	if err := s.getJSON("tx", key, &rec); err != nil {
		return nil, err
	}
	t, err := rec.tx()
	if err != nil {
		return nil, storageErr("tx", key, err)
	}
	return t, nil
}

// PutTx inserts or replaces a history record.
func (s *Store) PutTx(t *TxRecord) error {
	rec := t.record()
	return s.putJSON("tx", txKey(t.TxID), &rec)
}

// Transactions returns the history, confirmed entries by height first and
// unconfirmed entries last.
func (s *Store) Transactions() ([]*TxRecord, error) {
	var out []*TxRecord
	err := s.db.ForEach(prefixTx, func(key, value []byte) error {
		var rec txRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return storageErr("txs", key, err)
		}
		t, err := rec.tx()
		if err != nil {
			return storageErr("txs", key, err)
		}
		out = append(out, t)
		return nil
	})
	if err != nil {
		var se *StorageError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, storageErr("txs", prefixTx, err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		hi, hj := out[i].Height, out[j].Height
		if (hi == 0) != (hj == 0) {
			return hj == 0
		}
		return hi < hj
	})
	return out, nil
}

// Tip returns the last synced tip. ok is false before the first sync.
func (s *Store) Tip() (tip Tip, ok bool, err error) {
	var rec tipRecord
	err = s.getJSON("tip", keyTip, &rec)
	if errors.Is(err, ErrNotFound) {
		return Tip{}, false, nil
	}
	if err != nil {
		return Tip{}, false, err
	}
	tip, err = rec.tip()
	if err != nil {
		return Tip{}, false, storageErr("tip", keyTip, err)
	}
	return tip, true, nil
}

// Balance sums the stored outputs and pending broadcasts.
func (s *Store) Balance() (Balance, error) {
	var b Balance
	utxos, err := s.UTXOs()
	if err != nil {
		return b, err
	}
	for _, u := range utxos {
		b.Confirmed += u.Value
		if u.Spent {
			b.Locked += u.Value
		}
	}
	txs, err := s.Transactions()
	if err != nil {
		return b, err
	}
	for _, t := range txs {
		if t.Status == TxBroadcast {
			b.Pending += t.Received
		}
	}
	return b, nil
}
