package walletdb

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// SchemaVersion is written into the namespace metadata.
const SchemaVersion = 1

// Meta identifies the wallet that owns a namespace. Only public descriptors
// are stored.
type Meta struct {
	Version int    `json:"version"`
	Network string `json:"network"`
	Receive string `json:"receive"`
	Change  string `json:"change"`
}

// UTXO is a wallet-owned output as last reported by the node.
type UTXO struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte
	Chain    uint32
	Index    uint32
	Height   int32
	// Spent marks an output consumed by one of our broadcast transactions
	// that the node has not yet confirmed.
	Spent bool
}

type utxoRecord struct {
	TxID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Value    int64  `json:"value"`
	PkScript string `json:"script"`
	Chain    uint32 `json:"chain"`
	Index    uint32 `json:"index"`
	Height   int32  `json:"height"`
	Spent    bool   `json:"spent,omitempty"`
}

func (u *UTXO) record() utxoRecord {
	return utxoRecord{
		TxID:     u.OutPoint.Hash.String(),
		Vout:     u.OutPoint.Index,
		Value:    int64(u.Value),
		PkScript: hex.EncodeToString(u.PkScript),
		Chain:    u.Chain,
		Index:    u.Index,
		Height:   u.Height,
		Spent:    u.Spent,
	}
}

func (r *utxoRecord) utxo() (*UTXO, error) {
	hash, err := chainhash.NewHashFromStr(r.TxID)
	if err != nil {
		return nil, fmt.Errorf("utxo txid: %w", err)
	}
	script, err := hex.DecodeString(r.PkScript)
	if err != nil {
		return nil, fmt.Errorf("utxo script: %w", err)
	}
	return &UTXO{
		OutPoint: wire.OutPoint{Hash: *hash, Index: r.Vout},
		Value:    btcutil.Amount(r.Value),
		PkScript: script,
		Chain:    r.Chain,
		Index:    r.Index,
		Height:   r.Height,
		Spent:    r.Spent,
	}, nil
}

// TxStatus is the lifecycle of a history entry.
type TxStatus string

const (
	// TxReceived is an incoming transaction seen in a confirmed output.
	TxReceived TxStatus = "received"
	// TxBroadcast is an outgoing transaction handed to the node.
	TxBroadcast TxStatus = "broadcast"
	// TxConfirmed is an outgoing transaction whose inputs left the UTXO set.
	TxConfirmed TxStatus = "confirmed"
)

// TxRecord is one history entry.
type TxRecord struct {
	TxID     chainhash.Hash
	Status   TxStatus
	Inputs   []wire.OutPoint
	Received btcutil.Amount
	Sent     btcutil.Amount
	Fee      btcutil.Amount
	// Height is the confirmation height, 0 while unconfirmed.
	Height int32
	Raw    []byte
}

type outPointRecord struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

type txRecord struct {
	TxID     string           `json:"txid"`
	Status   TxStatus         `json:"status"`
	Inputs   []outPointRecord `json:"inputs,omitempty"`
	Received int64            `json:"received"`
	Sent     int64            `json:"sent"`
	Fee      int64            `json:"fee"`
	Height   int32            `json:"height"`
	Raw      string           `json:"raw,omitempty"`
}

func (t *TxRecord) record() txRecord {
	r := txRecord{
		TxID:     t.TxID.String(),
		Status:   t.Status,
		Received: int64(t.Received),
		Sent:     int64(t.Sent),
		Fee:      int64(t.Fee),
		Height:   t.Height,
		Raw:      hex.EncodeToString(t.Raw),
	}
	for _, op := range t.Inputs {
		r.Inputs = append(r.Inputs, outPointRecord{TxID: op.Hash.String(), Vout: op.Index})
	}
	return r
}

func (r *txRecord) tx() (*TxRecord, error) {
	hash, err := chainhash.NewHashFromStr(r.TxID)
	if err != nil {
		return nil, fmt.Errorf("tx txid: %w", err)
	}
	raw, err := hex.DecodeString(r.Raw)
	if err != nil {
		return nil, fmt.Errorf("tx raw: %w", err)
	}
	t := &TxRecord{
		TxID:     *hash,
		Status:   r.Status,
		Received: btcutil.Amount(r.Received),
		Sent:     btcutil.Amount(r.Sent),
		Fee:      btcutil.Amount(r.Fee),
		Height:   r.Height,
	}
	if len(raw) > 0 {
		t.Raw = raw
	}
	for _, in := range r.Inputs {
		h, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("tx input: %w", err)
		}
		t.Inputs = append(t.Inputs, wire.OutPoint{Hash: *h, Index: in.Vout})
	}
	return t, nil
}

// ChainState tracks address usage on one derivation chain.
type ChainState struct {
	// Revealed is the number of addresses handed out.
	Revealed uint32 `json:"revealed"`
	// Used is one past the highest index seen on chain.
	Used uint32 `json:"used"`
}

// Next returns the first index that is neither revealed nor used.
func (c ChainState) Next() uint32 {
	if c.Used > c.Revealed {
		return c.Used
	}
	return c.Revealed
}

// Tip is the node's best block at the last sync.
type Tip struct {
	Height int32
	Hash   chainhash.Hash
}

type tipRecord struct {
	Height int32  `json:"height"`
	Hash   string `json:"hash"`
}

func (t Tip) record() tipRecord {
	return tipRecord{Height: t.Height, Hash: t.Hash.String()}
}

func (r *tipRecord) tip() (Tip, error) {
	hash, err := chainhash.NewHashFromStr(r.Hash)
	if err != nil {
		return Tip{}, fmt.Errorf("tip hash: %w", err)
	}
	return Tip{Height: r.Height, Hash: *hash}, nil
}

// Balance is the wallet balance computed from the local store.
type Balance struct {
	// Confirmed is the value of every stored output.
	Confirmed btcutil.Amount
	// Locked is the part of Confirmed spent by unconfirmed broadcasts.
	Locked btcutil.Amount
	// Pending is change expected back from unconfirmed broadcasts.
	Pending btcutil.Amount
}

// Spendable is the confirmed value not locked by a pending spend.
func (b Balance) Spendable() btcutil.Amount {
	return b.Confirmed - b.Locked
}
