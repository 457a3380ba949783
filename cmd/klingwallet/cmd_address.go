package main

import (
	"errors"
	"fmt"

	"github.com/jessevdk/go-flags"

	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
	"github.com/Klingon-tech/klingnet-wallet/pkg/descriptor"
)

type addressCommand struct {
	Peek   int  `long:"peek" description:"Show the address at this index without revealing it"`
	Change bool `long:"change" description:"Peek on the change chain (requires --peek)"`

	app *app
}

func newAddressCommand(a *app) *addressCommand {
	return &addressCommand{Peek: -1, app: a}
}

func (x *addressCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"address",
		"Reveal the next receive address",
		"Reveal the next unused receive address and record it so "+
			"the next sync scans past it; --peek shows any index "+
			"without changing wallet state",
		x,
	)
	return err
}

func (x *addressCommand) Execute(_ []string) error {
	a := x.app
	if x.Change && x.Peek < 0 {
		return errors.New("change addresses are only handed out by send; use --peek")
	}
	w, err := a.openNodeWallet(a.fees())
	if err != nil {
		return err
	}

	chain := wallet.ChainReceive
	if x.Change {
		chain = wallet.ChainChange
	}

	var index uint32
	var addr fmt.Stringer
	if x.Peek >= 0 {
		index = uint32(x.Peek)
		addr, err = w.PeekAddress(chain, index)
	} else {
		addr, index, err = w.NewAddress()
	}
	if err != nil {
		return err
	}

	d, err := w.Derivation(uint32(chain), index)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Address: %s\n", addr)
	fmt.Fprintf(a.out, "Path:    %s\n", descriptor.DerivationPath(d.Bip32Path))
	return nil
}
