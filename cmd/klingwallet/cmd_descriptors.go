package main

import (
	"fmt"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
)

type descriptorsCommand struct {
	Language string `long:"language" description:"Mnemonic wordlist"`
	Private  bool   `long:"private" description:"Print the private descriptors"`
	Save     bool   `long:"save" description:"Store the descriptors in the keystore under --wallet.name"`
	passphraseOptions

	app *app
}

func newDescriptorsCommand(a *app) *descriptorsCommand {
	return &descriptorsCommand{
		Language: string(wallet.English),
		app:      a,
	}
}

func (x *descriptorsCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"descriptors",
		"Derive descriptors from an existing mnemonic",
		"Prompt for a mnemonic (input is hidden) and derive its "+
			"BIP84 receive and change descriptors; with --save they "+
			"are imported into the keystore like a freshly created wallet",
		x,
	)
	return err
}

func (x *descriptorsCommand) Execute(_ []string) error {
	a := x.app
	lang, err := wallet.ParseLanguage(x.Language)
	if err != nil {
		return err
	}

	m, err := a.readPassword("Mnemonic: ")
	if err != nil {
		return fmt.Errorf("read mnemonic: %w", err)
	}
	mnemonic := strings.Join(strings.Fields(string(m)), " ")
	zero(m)

	pass, err := x.resolve(a)
	if err != nil {
		return err
	}
	descs, err := wallet.DeriveDescriptors(a.kctx, mnemonic, pass, lang)
	if err != nil {
		return err
	}
	if err := printDescriptors(a, descs, x.Private); err != nil {
		return err
	}
	if !x.Save {
		return nil
	}

	ks, err := a.keystore()
	if err != nil {
		return err
	}
	return saveDescriptors(a, ks, descs)
}
