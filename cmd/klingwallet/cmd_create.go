package main

import (
	"errors"
	"fmt"

	"github.com/jessevdk/go-flags"

	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
)

// passphraseOptions selects the BIP-39 passphrase. Without either flag the
// wallet's built-in default passphrase is used.
type passphraseOptions struct {
	Passphrase   bool `long:"passphrase" description:"Prompt for a BIP-39 passphrase"`
	NoPassphrase bool `long:"no-passphrase" description:"Use the empty BIP-39 passphrase instead of the wallet default"`
}

func (o passphraseOptions) resolve(a *app) (wallet.Passphrase, error) {
	switch {
	case o.Passphrase && o.NoPassphrase:
		return wallet.Passphrase{}, errors.New("--passphrase and --no-passphrase are exclusive")
	case o.Passphrase:
		p, err := a.readPassword("BIP-39 passphrase: ")
		if err != nil {
			return wallet.Passphrase{}, fmt.Errorf("read passphrase: %w", err)
		}
		return wallet.WithPassphrase(string(p)), nil
	case o.NoPassphrase:
		return wallet.WithPassphrase(""), nil
	default:
		return wallet.NoPassphrase(), nil
	}
}

type createCommand struct {
	Words    int    `long:"words" description:"Mnemonic length in words (12, 15, 18, 21 or 24)"`
	Language string `long:"language" description:"Mnemonic wordlist"`
	NoSave   bool   `long:"no-save" description:"Print the mnemonic and descriptors without writing a keystore entry"`
	passphraseOptions

	app *app
}

func newCreateCommand(a *app) *createCommand {
	return &createCommand{
		Words:    wallet.DefaultWords,
		Language: string(wallet.English),
		app:      a,
	}
}

func (x *createCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"create",
		"Create a new wallet",
		"Generate a fresh mnemonic, derive the receive and change "+
			"descriptors and store them encrypted in the keystore "+
			"under --wallet.name; the mnemonic is shown once and "+
			"never written to disk",
		x,
	)
	return err
}

func (x *createCommand) Execute(_ []string) error {
	a := x.app
	lang, err := wallet.ParseLanguage(x.Language)
	if err != nil {
		return err
	}

	var ks *wallet.Keystore
	if !x.NoSave {
		ks, err = a.keystore()
		if err != nil {
			return err
		}
		// Fail before showing a mnemonic that could not be stored.
		if _, err := ks.Info(a.cfg.Wallet.Name); err == nil {
			return fmt.Errorf("wallet %q: %w", a.cfg.Wallet.Name, wallet.ErrWalletExists)
		}
	}

	pass, err := x.resolve(a)
	if err != nil {
		return err
	}
	mnemonic, err := wallet.GenerateMnemonic(x.Words, lang)
	if err != nil {
		return err
	}
	descs, err := wallet.DeriveDescriptors(a.kctx, mnemonic, pass, lang)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, "Mnemonic (write this down!):")
	fmt.Fprintf(a.out, "  %s\n\n", mnemonic)
	if err := printDescriptors(a, descs, false); err != nil {
		return err
	}
	if x.NoSave {
		return nil
	}
	return saveDescriptors(a, ks, descs)
}

// saveDescriptors encrypts descs under a new password.
func saveDescriptors(a *app, ks *wallet.Keystore, descs *wallet.Descriptors) error {
	password, err := a.readNewPassword()
	if err != nil {
		return err
	}
	defer zero(password)

	name := a.cfg.Wallet.Name
	if err := ks.Save(a.kctx, name, descs, password, wallet.DefaultParams()); err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	fmt.Fprintf(a.out, "\nWallet %q saved to %s\n", name, a.cfg.KeystoreDir())
	return nil
}

// printDescriptors prints the descriptor pair, public unless private is set.
func printDescriptors(a *app, descs *wallet.Descriptors, private bool) error {
	show := descs
	if !private {
		pub, err := descs.Public()
		if err != nil {
			return err
		}
		show = pub
	}
	fmt.Fprintf(a.out, "Receive: %s\n", show.Receive.StringWithChecksum())
	fmt.Fprintf(a.out, "Change:  %s\n", show.Change.StringWithChecksum())
	return nil
}
