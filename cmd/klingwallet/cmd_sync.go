package main

import (
	"fmt"
	"io"

	"github.com/jessevdk/go-flags"

	"github.com/Klingon-tech/klingnet-wallet/config"
	"github.com/Klingon-tech/klingnet-wallet/internal/walletdb"
)

type syncCommand struct {
	app *app
}

func newSyncCommand(a *app) *syncCommand {
	return &syncCommand{app: a}
}

func (x *syncCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"sync",
		"Synchronize wallet state with the node",
		"Scan the node's UTXO set for both descriptor chains, widen "+
			"the scan window past the last used index and store the "+
			"result",
		x,
	)
	return err
}

func (x *syncCommand) Execute(_ []string) error {
	a := x.app
	w, err := a.openNodeWallet(a.fees())
	if err != nil {
		return err
	}
	ctx, cancel := a.context()
	defer cancel()

	res, err := w.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Tip:       %d %s\n", res.Tip.Height, res.Tip.Hash)
	fmt.Fprintf(a.out, "Added:     %d\n", len(res.Added))
	fmt.Fprintf(a.out, "Removed:   %d\n", len(res.Removed))
	fmt.Fprintf(a.out, "Confirmed: %d\n", len(res.Confirmed))
	printBalance(a.out, res.Balance)
	return nil
}

type balanceCommand struct {
	Node bool `long:"node" description:"Also ask the node for the balance it tracks"`

	app *app
}

func newBalanceCommand(a *app) *balanceCommand {
	return &balanceCommand{app: a}
}

func (x *balanceCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"balance",
		"Show the wallet balance",
		"Show the balance of the last sync; --node cross-checks it "+
			"against the node's watch-only wallet",
		x,
	)
	return err
}

func (x *balanceCommand) Execute(_ []string) error {
	a := x.app
	w, err := a.openNodeWallet(a.fees())
	if err != nil {
		return err
	}
	bal, err := w.Balance()
	if err != nil {
		return err
	}
	printBalance(a.out, bal)
	if !x.Node {
		return nil
	}

	ctx, cancel := a.context()
	defer cancel()
	nodeBal, err := w.NodeBalance(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Node:      %s BTC\n", config.FormatAmount(nodeBal))
	return nil
}

func printBalance(out io.Writer, b walletdb.Balance) {
	fmt.Fprintf(out, "Confirmed: %s BTC\n", config.FormatAmount(b.Confirmed))
	fmt.Fprintf(out, "Locked:    %s BTC\n", config.FormatAmount(b.Locked))
	fmt.Fprintf(out, "Pending:   %s BTC\n", config.FormatAmount(b.Pending))
	fmt.Fprintf(out, "Spendable: %s BTC\n", config.FormatAmount(b.Spendable()))
}

type historyCommand struct {
	app *app
}

func newHistoryCommand(a *app) *historyCommand {
	return &historyCommand{app: a}
}

func (x *historyCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"history",
		"List wallet transactions",
		"List received, broadcast and confirmed transactions known "+
			"to the wallet",
		x,
	)
	return err
}

func (x *historyCommand) Execute(_ []string) error {
	a := x.app
	w, err := a.openNodeWallet(a.fees())
	if err != nil {
		return err
	}
	txs, err := w.Transactions()
	if err != nil {
		return err
	}
	printHistory(a.out, txs)
	return nil
}

func printHistory(out io.Writer, txs []*walletdb.TxRecord) {
	if len(txs) == 0 {
		fmt.Fprintln(out, "No transactions.")
		return
	}
	fmt.Fprintf(out, "Transactions: %d\n", len(txs))
	for i, r := range txs {
		fmt.Fprintf(out, "  [%d] %s %s height=%d sent=%s received=%s fee=%s\n",
			i, r.TxID, r.Status, r.Height, config.FormatAmount(r.Sent),
			config.FormatAmount(r.Received), config.FormatAmount(r.Fee))
	}
}
