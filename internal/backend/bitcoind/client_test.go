package bitcoind

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingnet-wallet/internal/backend"
)

const (
	bestHash = "0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206"
	someTxID = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
)

type rpcCall struct {
	Path   string
	Method string
	Params []json.RawMessage
}

type handlerFunc func(call rpcCall) (any, *btcjson.RPCError)

// fakeNode is a JSON-RPC endpoint speaking bitcoind's envelope.
type fakeNode struct {
	mu     sync.Mutex
	calls  []rpcCall
	handle handlerFunc
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
		ID     any               `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	call := rpcCall{Path: r.URL.Path, Method: req.Method, Params: req.Params}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	result, rpcErr := f.handle(call)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"result": result,
		"error":  rpcErr,
		"id":     req.ID,
	})
}

func (f *fakeNode) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Path+" "+c.Method)
	}
	return out
}

func newTestClient(t *testing.T, handle handlerFunc) (*Client, *fakeNode) {
	t.Helper()
	node := &fakeNode{handle: handle}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		Host:    strings.TrimPrefix(srv.URL, "http://"),
		User:    "user",
		Pass:    "pass",
		Network: "regtest",
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, node
}

func TestClient_ChainInfo(t *testing.T) {
	c, _ := newTestClient(t, func(call rpcCall) (any, *btcjson.RPCError) {
		require.Equal(t, "getblockchaininfo", call.Method)
		return map[string]any{"chain": "regtest", "blocks": 106, "bestblockhash": bestHash}, nil
	})

	info, err := c.ChainInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, "regtest", info.Chain)
	require.Equal(t, int32(106), info.Height)
	require.Equal(t, bestHash, info.BestHash.String())
}

func TestClient_ScanOutputs(t *testing.T) {
	c, _ := newTestClient(t, func(call rpcCall) (any, *btcjson.RPCError) {
		require.Equal(t, "scantxoutset", call.Method)
		require.Len(t, call.Params, 2)
		require.JSONEq(t, `"start"`, string(call.Params[0]))
		require.JSONEq(t, `[{"desc":"wpkh(a)#x","range":[0,19]},{"desc":"wpkh(b)#y","range":[0,4]}]`,
			string(call.Params[1]))
		return json.RawMessage(`{
			"success": true, "txouts": 2, "height": 106, "bestblock": "` + bestHash + `",
			"unspents": [
				{"txid": "` + someTxID + `", "vout": 1, "scriptPubKey": "0014aa", "amount": 0.5, "height": 102},
				{"txid": "` + someTxID + `", "vout": 0, "scriptPubKey": "0014bb", "amount": 15.0, "height": 102}
			],
			"total_amount": 15.5
		}`), nil
	})

	res, err := c.ScanOutputs(context.Background(), []backend.ScanRequest{
		{Descriptor: "wpkh(a)#x", End: 20},
		{Descriptor: "wpkh(b)#y", End: 5},
		{Descriptor: "wpkh(c)#z", End: 0},
	})
	require.NoError(t, err)
	require.Equal(t, int32(106), res.Height)
	require.Len(t, res.Outputs, 2)
	require.Equal(t, uint32(0), res.Outputs[0].OutPoint.Index)
	require.Equal(t, btcutil.Amount(1_500_000_000), res.Outputs[0].Value)
	require.Equal(t, []byte{0x00, 0x14, 0xbb}, res.Outputs[0].PkScript)
	require.Equal(t, btcutil.Amount(50_000_000), res.Outputs[1].Value)
	require.Equal(t, int32(102), res.Outputs[1].Height)
}

func TestClient_ScanOutputsEmpty(t *testing.T) {
	c, node := newTestClient(t, func(call rpcCall) (any, *btcjson.RPCError) {
		return map[string]any{"chain": "regtest", "blocks": 7, "bestblockhash": bestHash}, nil
	})

	res, err := c.ScanOutputs(context.Background(), []backend.ScanRequest{{Descriptor: "wpkh(a)", End: 0}})
	require.NoError(t, err)
	require.Empty(t, res.Outputs)
	require.Equal(t, int32(7), res.Height)
	require.Equal(t, []string{"/ getblockchaininfo"}, node.methods())
}

func TestParseScanResult_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `[`},
		{"aborted", `{"success": false, "bestblock": "` + bestHash + `"}`},
		{"bad best hash", `{"success": true, "bestblock": "zz"}`},
		{"bad txid", `{"success": true, "bestblock": "` + bestHash + `",
			"unspents": [{"txid": "nope", "vout": 0, "scriptPubKey": "00", "amount": 1}]}`},
		{"bad script", `{"success": true, "bestblock": "` + bestHash + `",
			"unspents": [{"txid": "` + someTxID + `", "vout": 0, "scriptPubKey": "0g", "amount": 1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseScanResult(json.RawMessage(tt.raw))
			require.Error(t, err)
		})
	}
}

func TestMapRelayError(t *testing.T) {
	transport := errors.New("connection refused")
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"in chain code", &btcjson.RPCError{Code: btcjson.ErrRPCTxAlreadyInChain, Message: "Transaction already in block chain"}, backend.ErrAlreadyConfirmed},
		{"utxo set", &btcjson.RPCError{Code: -27, Message: "Transaction outputs already in utxo set"}, backend.ErrAlreadyConfirmed},
		{"mempool", &btcjson.RPCError{Code: -26, Message: "txn-already-in-mempool"}, backend.ErrAlreadyInMempool},
		{"known", &btcjson.RPCError{Code: -26, Message: "txn-already-known"}, backend.ErrAlreadyInMempool},
		{"transport", transport, transport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, mapRelayError(tt.in), tt.want)
		})
	}

	err := mapRelayError(&btcjson.RPCError{Code: -26, Message: "min relay fee not met"})
	var rej *backend.RejectError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, -26, rej.Code)
	require.Equal(t, "min relay fee not met", rej.Reason)
}

func TestClient_Relay(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	txid := tx.TxHash()

	var reply any = txid.String()
	var rpcErr *btcjson.RPCError
	c, _ := newTestClient(t, func(call rpcCall) (any, *btcjson.RPCError) {
		require.Equal(t, "sendrawtransaction", call.Method)
		require.Len(t, call.Params, 1)
		return reply, rpcErr
	})

	got, err := c.Relay(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, txid, *got)

	reply, rpcErr = nil, &btcjson.RPCError{Code: -26, Message: "bad-txns-inputs-missingorspent"}
	_, err = c.Relay(context.Background(), tx)
	var rej *backend.RejectError
	require.ErrorAs(t, err, &rej)

	rpcErr = &btcjson.RPCError{Code: -27, Message: "Transaction already in block chain"}
	_, err = c.Relay(context.Background(), tx)
	require.ErrorIs(t, err, backend.ErrAlreadyConfirmed)
}

func TestClient_Balance(t *testing.T) {
	c, node := newTestClient(t, func(call rpcCall) (any, *btcjson.RPCError) {
		if call.Path == "/wallet/wallet-missing" {
			return nil, &btcjson.RPCError{Code: codeWalletNotFound, Message: "Requested wallet does not exist or is not loaded"}
		}
		return 4.9999, nil
	})

	bal, err := c.Balance(context.Background(), "wallet-abc")
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(499_990_000), bal)

	_, err = c.Balance(context.Background(), "wallet-missing")
	require.ErrorIs(t, err, backend.ErrUnknownWallet)

	require.Equal(t, []string{
		"/wallet/wallet-abc getbalance",
		"/wallet/wallet-missing getbalance",
	}, node.methods())
}

func TestClient_Watch(t *testing.T) {
	c, node := newTestClient(t, func(call rpcCall) (any, *btcjson.RPCError) {
		switch call.Method {
		case "loadwallet":
			return nil, &btcjson.RPCError{Code: codeWalletNotFound, Message: "Path does not exist"}
		case "createwallet":
			require.JSONEq(t, `true`, string(call.Params[1]), "disable_private_keys")
			require.JSONEq(t, `true`, string(call.Params[5]), "descriptors")
			return map[string]any{"name": "wallet-abc"}, nil
		case "importdescriptors":
			require.JSONEq(t, `[{"desc":"wpkh(a)#x","timestamp":0,"range":[0,19]}]`, string(call.Params[0]))
			return []map[string]any{{"success": true}}, nil
		}
		return nil, &btcjson.RPCError{Code: -32601, Message: "Method not found"}
	})

	err := c.Watch(context.Background(), "wallet-abc", []backend.ScanRequest{{Descriptor: "wpkh(a)#x", End: 20}})
	require.NoError(t, err)
	require.Equal(t, []string{
		"/ loadwallet",
		"/ createwallet",
		"/wallet/wallet-abc importdescriptors",
	}, node.methods())
}

func TestClient_WatchImportFailure(t *testing.T) {
	c, _ := newTestClient(t, func(call rpcCall) (any, *btcjson.RPCError) {
		switch call.Method {
		case "loadwallet":
			return nil, &btcjson.RPCError{Code: codeWalletAlreadyLoaded, Message: "already loaded"}
		case "importdescriptors":
			return []map[string]any{{"success": false, "error": map[string]any{"code": -5, "message": "bad descriptor"}}}, nil
		}
		return nil, nil
	})

	err := c.Watch(context.Background(), "wallet-abc", []backend.ScanRequest{{Descriptor: "wpkh(a)", End: 1}})
	require.ErrorContains(t, err, "bad descriptor")
}

func TestClient_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(call rpcCall) (any, *btcjson.RPCError) {
		<-release
		return nil, nil
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.ChainInfo(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Metrics(t *testing.T) {
	c, _ := newTestClient(t, func(call rpcCall) (any, *btcjson.RPCError) {
		return nil, &btcjson.RPCError{Code: -1, Message: "boom"}
	})

	counter := rpcRequestsTotal.WithLabelValues("getblockchaininfo", "regtest", "error")
	before := testutil.ToFloat64(counter)
	_, err := c.ChainInfo(context.Background())
	require.Error(t, err)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

func delta(t *testing.T, collector prometheus.Collector, observe func()) float64 {
	t.Helper()

	before := testutil.ToFloat64(collector)
	observe()
	after := testutil.ToFloat64(collector)
	return after - before
}

func TestRPCMetricsRecords(t *testing.T) {
	m := NewRPCMetrics("")
	start := time.Now().Add(-200 * time.Millisecond)

	if inc := delta(t, rpcRequestsTotal.WithLabelValues("call", "unknown", "success"), func() {
		m.Observe("call", nil, start)
	}); inc != 1 {
		t.Fatalf("expected rpc call counter increment, got %v", inc)
	}

	if inc := delta(t, rpcRequestsTotal.WithLabelValues("call", "unknown", "error"), func() {
		m.Observe("call", errors.New("oops"), start)
	}); inc != 1 {
		t.Fatalf("expected rpc error counter increment, got %v", inc)
	}
}
