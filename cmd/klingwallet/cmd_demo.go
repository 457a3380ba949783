package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/jessevdk/go-flags"

	"github.com/Klingon-tech/klingnet-wallet/config"
	"github.com/Klingon-tech/klingnet-wallet/internal/backend"
	"github.com/Klingon-tech/klingnet-wallet/internal/backend/bitcoind"
	"github.com/Klingon-tech/klingnet-wallet/internal/spend"
	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
)

// faucetWallet is the node-side wallet the demo mines into.
const faucetWallet = "klingwallet-faucet"

// coinbaseMaturity is the number of blocks mined up front so the faucet has
// spendable coinbase outputs.
const coinbaseMaturity = 101

// demoChain is a node the demo can also fund from and mine on.
type demoChain interface {
	backend.Node
	// fund pays amount to addr from outside the wallet.
	fund(ctx context.Context, addr btcutil.Address, amount btcutil.Amount) error
	// mine confirms everything pending in one block.
	mine(ctx context.Context) error
	// payee returns an address outside the wallet to send to.
	payee(ctx context.Context) (btcutil.Address, error)
}

// memChain runs the demo against an in-process node.
type memChain struct {
	*backend.MemNode
	params *chaincfg.Params
}

func (c *memChain) fund(_ context.Context, addr btcutil.Address, amount btcutil.Amount) error {
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}
	c.Fund(script, amount)
	return nil
}

func (c *memChain) mine(context.Context) error {
	c.Mine(1)
	return nil
}

func (c *memChain) payee(context.Context) (btcutil.Address, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	hash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	return btcutil.NewAddressWitnessPubKeyHash(hash, c.params)
}

// faucetChain runs the demo against a regtest bitcoind.
type faucetChain struct {
	*bitcoind.Client
	faucet *bitcoind.Faucet
	miner  btcutil.Address
}

func newFaucetChain(ctx context.Context, c *bitcoind.Client, params *chaincfg.Params, need btcutil.Amount) (*faucetChain, error) {
	f, err := bitcoind.NewFaucet(ctx, c, faucetWallet, params)
	if err != nil {
		return nil, err
	}
	miner, err := f.NewAddress(ctx)
	if err != nil {
		return nil, err
	}
	bal, err := f.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if bal < need {
		if _, err := f.Generate(ctx, coinbaseMaturity, miner); err != nil {
			return nil, fmt.Errorf("mine faucet coins: %w", err)
		}
	}
	return &faucetChain{Client: c, faucet: f, miner: miner}, nil
}

func (c *faucetChain) fund(ctx context.Context, addr btcutil.Address, amount btcutil.Amount) error {
	_, err := c.faucet.Send(ctx, addr, amount)
	return err
}

func (c *faucetChain) mine(ctx context.Context) error {
	_, err := c.faucet.Generate(ctx, 1, c.miner)
	return err
}

func (c *faucetChain) payee(ctx context.Context) (btcutil.Address, error) {
	return c.faucet.NewAddress(ctx)
}

type demoCommand struct {
	Fund    config.AmountFlag `long:"fund" description:"Amount paid into the demo wallet in BTC"`
	Amount  config.AmountFlag `long:"amount" description:"Amount sent back out in BTC"`
	MemNode bool              `long:"memnode" description:"Run against an in-process node instead of bitcoind"`

	app *app
}

func newDemoCommand(a *app) *demoCommand {
	x := &demoCommand{app: a}
	x.Fund.Amount = 15 * btcutil.SatoshiPerBitcoin
	x.Amount.Amount = 10 * btcutil.SatoshiPerBitcoin
	return x
}

func (x *demoCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"demo",
		"Run an end-to-end regtest round trip",
		"Create a throwaway wallet, fund it from the node's faucet "+
			"wallet, mine, sync, send back part of the funds, mine "+
			"again and compare the wallet balance with the node's",
		x,
	)
	return err
}

func (x *demoCommand) chain(ctx context.Context) (demoChain, error) {
	a := x.app
	if x.MemNode {
		return &memChain{MemNode: backend.NewMemNode(a.params), params: a.params}, nil
	}
	if a.cfg.Network != config.Regtest {
		return nil, errors.New("demo needs --network=regtest (or --memnode)")
	}
	c, err := a.node()
	if err != nil {
		return nil, err
	}
	return newFaucetChain(ctx, c, a.params, x.Fund.Amount+btcutil.SatoshiPerBitcoin)
}

func (x *demoCommand) Execute(_ []string) error {
	a := x.app
	if x.Amount.Amount <= 0 || x.Amount.Amount >= x.Fund.Amount {
		return errors.New("--amount must be positive and below --fund")
	}
	ctx, cancel := a.context()
	defer cancel()

	chain, err := x.chain(ctx)
	if err != nil {
		return err
	}

	mnemonic, err := wallet.GenerateMnemonic(wallet.DefaultWords, wallet.English)
	if err != nil {
		return err
	}
	descs, err := wallet.DeriveDescriptors(a.kctx, mnemonic, wallet.NoPassphrase(), wallet.English)
	if err != nil {
		return err
	}
	w, err := wallet.New(wallet.Config{
		KeyContext:  a.kctx,
		Descriptors: descs,
		DB:          storage.NewMemory(),
		Node:        chain,
		Lookahead:   a.cfg.Wallet.Lookahead,
		Fees:        a.fees(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Wallet:  %s\n", w.Namespace())

	// Importing the descriptors before funding lets a watch-only node
	// wallet see the payment.
	if _, err := w.Sync(ctx); err != nil {
		return err
	}
	addr, _, err := w.NewAddress()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Funding %s with %s BTC\n", addr, config.FormatAmount(x.Fund.Amount))
	if err := chain.fund(ctx, addr, x.Fund.Amount); err != nil {
		return fmt.Errorf("fund wallet: %w", err)
	}
	if err := chain.mine(ctx); err != nil {
		return err
	}
	res, err := w.Sync(ctx)
	if err != nil {
		return err
	}
	printBalance(a.out, res.Balance)

	dest, err := chain.payee(ctx)
	if err != nil {
		return err
	}
	script, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return err
	}
	p, err := w.BuildTx(&spend.Request{
		Recipients: []spend.Recipient{{PkScript: script, Amount: x.Amount.Amount}},
	})
	if err != nil {
		return err
	}
	if err := w.Sign(p, spend.SignOptions{}); err != nil {
		return err
	}
	if err := w.Finalize(p); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\nSending %s BTC to %s\n", config.FormatAmount(x.Amount.Amount), dest)
	printPSTX(a, p)
	if err := w.Broadcast(ctx, p); err != nil {
		return err
	}
	// A node that already holds the transaction accepts it again.
	if err := w.Broadcast(ctx, p); err != nil {
		return fmt.Errorf("resubmit: %w", err)
	}

	if err := chain.mine(ctx); err != nil {
		return err
	}
	res, err = w.Sync(ctx)
	if err != nil {
		return err
	}
	if _, err := w.Refresh(p); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\nState:   %s at height %d\n", p.State, p.Height)
	printBalance(a.out, res.Balance)

	nodeBal, err := w.NodeBalance(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Node:      %s BTC\n", config.FormatAmount(nodeBal))
	if nodeBal != res.Balance.Confirmed {
		return fmt.Errorf("wallet balance %s differs from node balance %s",
			config.FormatAmount(res.Balance.Confirmed), config.FormatAmount(nodeBal))
	}
	return nil
}
