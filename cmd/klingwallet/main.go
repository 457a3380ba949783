// klingwallet is a BIP84 descriptor wallet that keeps its own state and
// talks to a bitcoind node over RPC.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/Klingon-tech/klingnet-wallet/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fatal("%v", err)
	}
}

func run(args []string) error {
	cfg, err := config.Prepare(args)
	if err != nil {
		return err
	}

	a := newApp(cfg, os.Stdout)
	parser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "klingwallet"
	if err := registerCommands(parser, a); err != nil {
		return err
	}

	// Options are fully parsed before any command runs, so validation and
	// logger setup live here rather than in each command.
	parser.CommandHandler = func(cmd flags.Commander, rest []string) error {
		if cmd == nil {
			return nil
		}
		if err := a.init(); err != nil {
			return err
		}
		defer a.close()
		return cmd.Execute(rest)
	}

	_, err = parser.ParseArgs(args)
	var flagErr *flags.Error
	if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
		fmt.Fprintln(os.Stdout, flagErr.Message)
		return nil
	}
	return err
}

// command is a subcommand registered on the parser.
type command interface {
	flags.Commander
	Register(parser *flags.Parser) error
}

func registerCommands(parser *flags.Parser, a *app) error {
	cmds := []command{
		newCreateCommand(a),
		newDescriptorsCommand(a),
		newAddressCommand(a),
		newSyncCommand(a),
		newBalanceCommand(a),
		newHistoryCommand(a),
		newSendCommand(a),
		newDemoCommand(a),
	}
	for _, c := range cmds {
		if err := c.Register(parser); err != nil {
			return err
		}
	}
	return nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
