// Package bitcoind implements backend.Node against a Bitcoin Core node over
// JSON-RPC.
package bitcoind

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-wallet/internal/backend"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
)

// bitcoind RPC error codes the wallet reacts to.
const (
	codeWalletNotFound      = -18
	codeWalletAlreadyLoaded = -35
)

// Config holds the node connection settings.
type Config struct {
	// Host is host:port of the RPC server.
	Host    string
	User    string
	Pass    string
	Network string
}

// Client talks to bitcoind. Wallet-scoped calls go to /wallet/<name>.
type Client struct {
	cfg     Config
	rpc     *rpcclient.Client
	metrics RPCMetrics

	mu      sync.Mutex
	wallets map[string]*rpcclient.Client
}

// New connects to the node described by cfg.
func New(cfg Config) (*Client, error) {
	return NewWithMetrics(cfg, NewRPCMetrics(cfg.Network))
}

// NewWithMetrics is New with a custom metrics recorder.
func NewWithMetrics(cfg Config, metrics RPCMetrics) (*Client, error) {
	rpc, err := dial(cfg, cfg.Host)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg,
		rpc:     rpc,
		metrics: metrics,
		wallets: make(map[string]*rpcclient.Client),
	}, nil
}

func dial(cfg Config, host string) (*rpcclient.Client, error) {
	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("bitcoind rpc client %s: %w", host, err)
	}
	return rpc, nil
}

// wallet returns the client bound to /wallet/<name>.
func (c *Client) wallet(name string) (*rpcclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rpc, ok := c.wallets[name]; ok {
		return rpc, nil
	}
	rpc, err := dial(c.cfg, c.cfg.Host+"/wallet/"+name)
	if err != nil {
		return nil, err
	}
	c.wallets[name] = rpc
	return rpc, nil
}

// Close shuts down every connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rpc := range c.wallets {
		rpc.Shutdown()
	}
	c.rpc.Shutdown()
}

// call runs one RPC, unmarshalling the reply into result when non-nil. The
// underlying client is not context aware, so a cancelled ctx abandons the
// in-flight request.
func (c *Client) call(ctx context.Context, rpc *rpcclient.Client, method string, result any, params ...any) (err error) {
	started := time.Now()
	defer func() {
		c.metrics.Observe(method, err, started)
	}()

	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("%s params: %w", method, err)
		}
		raw = append(raw, b)
	}

	type reply struct {
		data json.RawMessage
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		data, err := rpc.RawRequest(method, raw)
		done <- reply{data: data, err: err}
	}()

	var r reply
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		return r.err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(r.data, result); err != nil {
		return fmt.Errorf("%s reply: %w", method, err)
	}
	return nil
}

type blockchainInfo struct {
	Chain         string `json:"chain"`
	Blocks        int32  `json:"blocks"`
	BestBlockHash string `json:"bestblockhash"`
}

// ChainInfo implements backend.Node.
func (c *Client) ChainInfo(ctx context.Context) (*backend.ChainInfo, error) {
	var info blockchainInfo
	if err := c.call(ctx, c.rpc, "getblockchaininfo", &info); err != nil {
		return nil, err
	}
	hash, err := chainhash.NewHashFromStr(info.BestBlockHash)
	if err != nil {
		return nil, fmt.Errorf("getblockchaininfo best hash: %w", err)
	}
	return &backend.ChainInfo{Chain: info.Chain, Height: info.Blocks, BestHash: *hash}, nil
}

type scanObject struct {
	Desc  string    `json:"desc"`
	Range [2]uint32 `json:"range"`
}

// scanObjects converts half-open scan requests into scantxoutset's
// inclusive ranges, dropping empty ones.
func scanObjects(reqs []backend.ScanRequest) []scanObject {
	var out []scanObject
	for _, r := range reqs {
		if r.End == 0 {
			continue
		}
		out = append(out, scanObject{Desc: r.Descriptor, Range: [2]uint32{0, r.End - 1}})
	}
	return out
}

// ScanOutputs implements backend.Node with scantxoutset, which reports
// confirmed outputs only.
func (c *Client) ScanOutputs(ctx context.Context, reqs []backend.ScanRequest) (*backend.ScanResult, error) {
	objs := scanObjects(reqs)
	if len(objs) == 0 {
		info, err := c.ChainInfo(ctx)
		if err != nil {
			return nil, err
		}
		return &backend.ScanResult{Height: info.Height, BestHash: info.BestHash}, nil
	}

	var raw json.RawMessage
	if err := c.call(ctx, c.rpc, "scantxoutset", &raw, "start", objs); err != nil {
		return nil, err
	}
	return parseScanResult(raw)
}

// Relay implements backend.Node.
func (c *Client) Relay(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize tx: %w", err)
	}

	var txid string
	err := c.call(ctx, c.rpc, "sendrawtransaction", &txid, hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return nil, mapRelayError(err)
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("sendrawtransaction txid: %w", err)
	}
	return hash, nil
}

// mapRelayError turns bitcoind's sendrawtransaction failures into the
// backend error set. Anything that is not an RPC error is a transport
// failure and passes through.
func mapRelayError(err error) error {
	var rpcErr *btcjson.RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}
	msg := strings.ToLower(rpcErr.Message)
	switch {
	case rpcErr.Code == btcjson.ErrRPCTxAlreadyInChain,
		strings.Contains(msg, "already in block chain"),
		strings.Contains(msg, "outputs already in utxo set"):
		return backend.ErrAlreadyConfirmed
	case strings.Contains(msg, "already in mempool"),
		strings.Contains(msg, "txn-already-in-mempool"),
		strings.Contains(msg, "txn-already-known"):
		return backend.ErrAlreadyInMempool
	}
	return &backend.RejectError{Code: int(rpcErr.Code), Reason: rpcErr.Message}
}

// Balance implements backend.Node with the trusted balance of the watch
// wallet named namespace.
func (c *Client) Balance(ctx context.Context, namespace string) (btcutil.Amount, error) {
	rpc, err := c.wallet(namespace)
	if err != nil {
		return 0, err
	}
	var btc float64
	if err := c.call(ctx, rpc, "getbalance", &btc, "*", 1, true); err != nil {
		if isCode(err, codeWalletNotFound) {
			return 0, fmt.Errorf("%s: %w", namespace, backend.ErrUnknownWallet)
		}
		return 0, err
	}
	return btcutil.NewAmount(btc)
}

func isCode(err error, code btcjson.RPCErrorCode) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}

type importRequest struct {
	Desc      string    `json:"desc"`
	Timestamp int64     `json:"timestamp"`
	Range     [2]uint32 `json:"range"`
}

type importResult struct {
	Success bool              `json:"success"`
	Error   *btcjson.RPCError `json:"error,omitempty"`
}

// Watch implements backend.Watcher: it loads or creates a watch-only
// descriptor wallet named namespace and imports the descriptors into it.
func (c *Client) Watch(ctx context.Context, namespace string, reqs []backend.ScanRequest) error {
	err := c.call(ctx, c.rpc, "loadwallet", nil, namespace)
	switch {
	case err == nil, isCode(err, codeWalletAlreadyLoaded):
	case isCode(err, codeWalletNotFound):
		// name, disable_private_keys, blank, passphrase, avoid_reuse, descriptors
		err = c.call(ctx, c.rpc, "createwallet", nil, namespace, true, true, "", false, true)
		if err != nil {
			return fmt.Errorf("createwallet %s: %w", namespace, err)
		}
		log.RPC.Info().Str("wallet", namespace).Msg("Created watch-only wallet on node")
	default:
		return fmt.Errorf("loadwallet %s: %w", namespace, err)
	}

	var imports []importRequest
	for _, o := range scanObjects(reqs) {
		imports = append(imports, importRequest{Desc: o.Desc, Timestamp: 0, Range: o.Range})
	}
	if len(imports) == 0 {
		return nil
	}

	rpc, err := c.wallet(namespace)
	if err != nil {
		return err
	}
	var results []importResult
	if err := c.call(ctx, rpc, "importdescriptors", &results, imports); err != nil {
		return fmt.Errorf("importdescriptors %s: %w", namespace, err)
	}
	for i, r := range results {
		if !r.Success {
			if r.Error != nil {
				return fmt.Errorf("importdescriptors %s: descriptor %d: %w", namespace, i, r.Error)
			}
			return fmt.Errorf("importdescriptors %s: descriptor %d failed", namespace, i)
		}
	}
	return nil
}

var (
	_ backend.Node    = (*Client)(nil)
	_ backend.Watcher = (*Client)(nil)
)
