package main

import (
	"errors"
	"fmt"

	"github.com/jessevdk/go-flags"

	"github.com/Klingon-tech/klingnet-wallet/config"
	"github.com/Klingon-tech/klingnet-wallet/internal/spend"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
)

type sendCommand struct {
	To       string            `long:"to" required:"true" description:"Destination address"`
	Amount   config.AmountFlag `long:"amount" required:"true" description:"Amount in BTC"`
	Fee      config.AmountFlag `long:"fee" description:"Fixed fee in BTC, overrides --wallet.fee"`
	FeeRate  config.AmountFlag `long:"feerate" description:"Fee rate in BTC/kvB, overrides --wallet.feerate"`
	LockTime uint32            `long:"locktime" description:"Transaction locktime (block height)"`
	DryRun   bool              `long:"dry-run" description:"Sign and print the PSBT without broadcasting"`
	NoSync   bool              `long:"no-sync" description:"Spend from the last synced state without syncing first"`

	app *app
}

func newSendCommand(a *app) *sendCommand {
	return &sendCommand{app: a}
}

func (x *sendCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"send",
		"Send bitcoin to an address",
		"Sync, build a transaction paying --amount to --to with "+
			"change back to the wallet, sign it and broadcast it; "+
			"change below the dust limit is added to the fee",
		x,
	)
	return err
}

// feePolicy applies the command's fee flags over the configured policy. A
// fixed fee wins over a rate.
func (x *sendCommand) feePolicy(base spend.FeePolicy) spend.FeePolicy {
	fees := base
	if x.FeeRate.Amount > 0 {
		fees.Fixed = 0
		fees.RatePerKVB = x.FeeRate.Amount
	}
	if x.Fee.Amount > 0 {
		fees.Fixed = x.Fee.Amount
	}
	return fees
}

func (x *sendCommand) Execute(_ []string) error {
	a := x.app
	if x.Amount.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	script, err := payTo(x.To, a.params)
	if err != nil {
		return err
	}

	w, err := a.openNodeWallet(x.feePolicy(a.fees()))
	if err != nil {
		return err
	}
	ctx, cancel := a.context()
	defer cancel()

	if !x.NoSync {
		if _, err := w.Sync(ctx); err != nil {
			return err
		}
	}

	p, err := w.BuildTx(&spend.Request{
		Recipients: []spend.Recipient{{PkScript: script, Amount: x.Amount.Amount}},
		LockTime:   x.LockTime,
	})
	if err != nil {
		return err
	}
	if err := w.Sign(p, spend.SignOptions{}); err != nil {
		return err
	}
	printPSTX(a, p)

	if x.DryRun {
		b64, err := p.B64()
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "PSBT:   %s\n", b64)
		return nil
	}

	if err := w.Finalize(p); err != nil {
		return err
	}
	if err := w.Broadcast(ctx, p); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Submitted: %s\n", p.TxID)
	return nil
}

func printPSTX(a *app, p *spend.PSTX) {
	fmt.Fprintf(a.out, "TxID:   %s\n", p.TxID)
	fmt.Fprintf(a.out, "Inputs: %d (%s BTC)\n", len(p.Inputs), config.FormatAmount(p.Sent()))
	fmt.Fprintf(a.out, "Fee:    %s BTC\n", config.FormatAmount(p.Fee))
	if p.ChangeIndex < 0 {
		fmt.Fprintln(a.out, "Change: none (folded into fee)")
		return
	}
	fmt.Fprintf(a.out, "Change: %s BTC to %s/%d\n", config.FormatAmount(p.Change()),
		wallet.ChainChange, p.ChangeKeyIndex)
}
