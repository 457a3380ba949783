package spend

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-wallet/internal/walletdb"
)

func makeUTXOs(values ...btcutil.Amount) []*walletdb.UTXO {
	utxos := make([]*walletdb.UTXO, len(values))
	for i, v := range values {
		utxos[i] = &walletdb.UTXO{
			OutPoint: wire.OutPoint{Hash: chainhash.Hash{byte(i + 1)}, Index: 0},
			Value:    v,
		}
	}
	return utxos
}

func TestSelectCoins_ExactMatch(t *testing.T) {
	utxos := makeUTXOs(1000, 2000, 3000)
	sel, err := SelectCoins(utxos, 2000)
	if err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}
	if sel.Total != 2000 {
		t.Errorf("total = %d, want 2000", sel.Total)
	}
	if sel.Change != 0 {
		t.Errorf("change = %d, want 0", sel.Change)
	}
	if len(sel.Inputs) != 1 {
		t.Errorf("inputs = %d, want 1 (exact single match)", len(sel.Inputs))
	}
}

func TestSelectCoins_SingleUTXO(t *testing.T) {
	utxos := makeUTXOs(5000)
	sel, err := SelectCoins(utxos, 3000)
	if err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}
	if sel.Total != 5000 || sel.Change != 2000 {
		t.Errorf("total = %d change = %d, want 5000/2000", sel.Total, sel.Change)
	}
}

func TestSelectCoins_MultipleUTXOs(t *testing.T) {
	// No single UTXO covers 4000, must combine.
	utxos := makeUTXOs(1000, 2000, 1500)
	sel, err := SelectCoins(utxos, 4000)
	if err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}
	if sel.Total < 4000 {
		t.Errorf("total = %d, should be >= 4000", sel.Total)
	}
	if sel.Change != sel.Total-4000 {
		t.Errorf("change = %d, want %d", sel.Change, sel.Total-4000)
	}
	if len(sel.Inputs) != 3 {
		t.Errorf("inputs = %d, want 3", len(sel.Inputs))
	}
}

func TestSelectCoins_SmallestCovering(t *testing.T) {
	utxos := makeUTXOs(10000, 6000, 1500)
	sel, err := SelectCoins(utxos, 5000)
	if err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}
	if len(sel.Inputs) != 1 || sel.Total != 6000 {
		t.Errorf("want single 6000 input, got %d inputs total %d", len(sel.Inputs), sel.Total)
	}
	if sel.Change != 1000 {
		t.Errorf("change = %d, want 1000", sel.Change)
	}
}

func TestSelectCoins_InsufficientFunds(t *testing.T) {
	utxos := makeUTXOs(100, 200)
	_, err := SelectCoins(utxos, 1000)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got: %v", err)
	}
	var ife *InsufficientFundsError
	if !errors.As(err, &ife) {
		t.Fatalf("expected *InsufficientFundsError, got %T", err)
	}
	if ife.Available != 300 || ife.Required != 1000 {
		t.Errorf("available/required = %d/%d, want 300/1000", ife.Available, ife.Required)
	}
}

func TestSelectCoins_NoUTXOs(t *testing.T) {
	if _, err := SelectCoins(nil, 1000); !errors.Is(err, ErrNoUTXOs) {
		t.Fatalf("expected ErrNoUTXOs, got: %v", err)
	}
	if _, err := SelectCoins(makeUTXOs(0, 0), 1000); !errors.Is(err, ErrNoUTXOs) {
		t.Fatalf("zero-value UTXOs: expected ErrNoUTXOs, got: %v", err)
	}
}

func TestSelectCoins_SkipsLocked(t *testing.T) {
	utxos := makeUTXOs(5000, 1000)
	utxos[0].Spent = true
	_, err := SelectCoins(utxos, 2000)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("locked output was selected: %v", err)
	}
}

func TestSelectCoins_DeterministicTieBreak(t *testing.T) {
	a := makeUTXOs(3000, 3000, 3000)
	b := []*walletdb.UTXO{a[2], a[0], a[1]}

	selA, err := SelectCoins(a, 2000)
	if err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}
	selB, err := SelectCoins(b, 2000)
	if err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}
	if selA.Inputs[0].OutPoint != selB.Inputs[0].OutPoint {
		t.Errorf("selection depends on input order: %v vs %v", selA.Inputs[0].OutPoint, selB.Inputs[0].OutPoint)
	}
	if selA.Inputs[0].OutPoint.Hash != (chainhash.Hash{1}) {
		t.Errorf("want lowest txid on ties, got %v", selA.Inputs[0].OutPoint)
	}
}
