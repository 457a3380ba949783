package bitcoind

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
)

// Faucet drives a regular (key-holding) node wallet on regtest: it mines
// blocks and pays the wallet under test.
type Faucet struct {
	c      *Client
	rpc    *rpcclient.Client
	params *chaincfg.Params
}

// NewFaucet loads the node wallet called name, creating it when missing.
func NewFaucet(ctx context.Context, c *Client, name string, params *chaincfg.Params) (*Faucet, error) {
	err := c.call(ctx, c.rpc, "loadwallet", nil, name)
	switch {
	case err == nil, isCode(err, codeWalletAlreadyLoaded):
	case isCode(err, codeWalletNotFound):
		if err := c.call(ctx, c.rpc, "createwallet", nil, name); err != nil {
			return nil, fmt.Errorf("createwallet %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("loadwallet %s: %w", name, err)
	}
	rpc, err := c.wallet(name)
	if err != nil {
		return nil, err
	}
	return &Faucet{c: c, rpc: rpc, params: params}, nil
}

// NewAddress returns a fresh address of the faucet wallet.
func (f *Faucet) NewAddress(ctx context.Context) (btcutil.Address, error) {
	var s string
	if err := f.c.call(ctx, f.rpc, "getnewaddress", &s); err != nil {
		return nil, err
	}
	return btcutil.DecodeAddress(s, f.params)
}

// Generate mines n blocks paying addr.
func (f *Faucet) Generate(ctx context.Context, n int, addr btcutil.Address) ([]chainhash.Hash, error) {
	var hashes []string
	if err := f.c.call(ctx, f.c.rpc, "generatetoaddress", &hashes, n, addr.EncodeAddress()); err != nil {
		return nil, err
	}
	out := make([]chainhash.Hash, 0, len(hashes))
	for _, s := range hashes {
		h, err := chainhash.NewHashFromStr(s)
		if err != nil {
			return nil, fmt.Errorf("generatetoaddress hash: %w", err)
		}
		out = append(out, *h)
	}
	return out, nil
}

// Send pays amount to addr from the faucet wallet.
func (f *Faucet) Send(ctx context.Context, addr btcutil.Address, amount btcutil.Amount) (*chainhash.Hash, error) {
	var txid string
	if err := f.c.call(ctx, f.rpc, "sendtoaddress", &txid, addr.EncodeAddress(), amount.ToBTC()); err != nil {
		return nil, err
	}
	return chainhash.NewHashFromStr(txid)
}

// Balance returns the faucet wallet's trusted balance.
func (f *Faucet) Balance(ctx context.Context) (btcutil.Amount, error) {
	var btc float64
	if err := f.c.call(ctx, f.rpc, "getbalance", &btc); err != nil {
		return 0, err
	}
	return btcutil.NewAmount(btc)
}
