package spend

import (
	"bytes"
	"errors"
	"sort"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/Klingon-tech/klingnet-wallet/internal/walletdb"
)

// ErrNoUTXOs is returned when there is nothing to select from.
var ErrNoUTXOs = errors.New("no UTXOs available")

// CoinSelection holds the result of coin selection.
type CoinSelection struct {
	Inputs []*walletdb.UTXO // Selected UTXOs to spend.
	Total  btcutil.Amount   // Sum of selected input values.
	Change btcutil.Amount   // Change = Total - target.
}

// less orders outputs by value, then outpoint, so selection never depends on
// the order the store returned them in.
func less(a, b *walletdb.UTXO) bool {
	if a.Value != b.Value {
		return a.Value < b.Value
	}
	if c := bytes.Compare(a.OutPoint.Hash[:], b.OutPoint.Hash[:]); c != 0 {
		return c < 0
	}
	return a.OutPoint.Index < b.OutPoint.Index
}

// SelectCoins chooses UTXOs to fund target. It tries two strategies:
//  1. Single UTXO: the smallest single UTXO that covers the target.
//  2. Largest-first accumulation: add the largest UTXOs until the target is met.
//
// Returns the strategy that produces the least change.
func SelectCoins(utxos []*walletdb.UTXO, target btcutil.Amount) (*CoinSelection, error) {
	candidates := make([]*walletdb.UTXO, 0, len(utxos))
	var available btcutil.Amount
	for _, u := range utxos {
		if u.Value > 0 && !u.Spent {
			candidates = append(candidates, u)
			available += u.Value
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoUTXOs
	}
	sort.Slice(candidates, func(i, j int) bool { return less(candidates[i], candidates[j]) })

	var single *CoinSelection
	for _, u := range candidates {
		if u.Value >= target {
			single = &CoinSelection{
				Inputs: []*walletdb.UTXO{u},
				Total:  u.Value,
				Change: u.Value - target,
			}
			break // Sorted ascending, first match is smallest.
		}
	}

	var accum *CoinSelection
	var selected []*walletdb.UTXO
	var total btcutil.Amount
	for i := len(candidates) - 1; i >= 0; i-- {
		selected = append(selected, candidates[i])
		total += candidates[i].Value
		if total >= target {
			accum = &CoinSelection{
				Inputs: selected,
				Total:  total,
				Change: total - target,
			}
			break
		}
	}

	switch {
	case single != nil && accum != nil:
		if single.Change <= accum.Change {
			return single, nil
		}
		return accum, nil
	case single != nil:
		return single, nil
	case accum != nil:
		return accum, nil
	default:
		return nil, &InsufficientFundsError{Available: available, Required: target}
	}
}
