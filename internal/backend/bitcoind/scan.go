package bitcoind

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-wallet/internal/backend"
)

// scanReply is the result of "scantxoutset start".
type scanReply struct {
	Success   bool   `json:"success"`
	Height    int32  `json:"height"`
	BestBlock string `json:"bestblock"`
	Unspents  []struct {
		TxID         string  `json:"txid"`
		Vout         uint32  `json:"vout"`
		ScriptPubKey string  `json:"scriptPubKey"`
		Amount       float64 `json:"amount"`
		Height       int32   `json:"height"`
	} `json:"unspents"`
}

// parseScanResult converts a scantxoutset reply into a scan result sorted by
// outpoint.
func parseScanResult(raw json.RawMessage) (*backend.ScanResult, error) {
	var reply scanReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("scantxoutset reply: %w", err)
	}
	if !reply.Success {
		return nil, errors.New("scantxoutset did not complete")
	}
	best, err := chainhash.NewHashFromStr(reply.BestBlock)
	if err != nil {
		return nil, fmt.Errorf("scantxoutset bestblock: %w", err)
	}

	res := &backend.ScanResult{Height: reply.Height, BestHash: *best}
	for _, u := range reply.Unspents {
		txid, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("scantxoutset txid: %w", err)
		}
		script, err := hex.DecodeString(u.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("scantxoutset script %s:%d: %w", u.TxID, u.Vout, err)
		}
		value, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("scantxoutset amount %s:%d: %w", u.TxID, u.Vout, err)
		}
		res.Outputs = append(res.Outputs, backend.ScannedOutput{
			OutPoint: wire.OutPoint{Hash: *txid, Index: u.Vout},
			Value:    value,
			PkScript: script,
			Height:   u.Height,
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
