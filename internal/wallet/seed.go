package wallet

import (
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// SeedSize is the length of a derived seed in bytes (512 bits).
const SeedSize = 64

// DefaultPassphrase is applied when a wallet is created without an explicit
// passphrase. It keeps seeds compatible with wallets derived using this fixed
// passphrase; pass WithPassphrase("") for plain BIP-39 seeds.
const DefaultPassphrase = "random password"

// Passphrase is the optional BIP-39 passphrase. The zero value means "no
// passphrase", which is distinct from an explicit empty passphrase.
type Passphrase struct {
	value string
	set   bool
}

// NoPassphrase selects DefaultPassphrase.
func NoPassphrase() Passphrase {
	return Passphrase{}
}

// WithPassphrase uses p verbatim. WithPassphrase("") is the plain BIP-39
// empty passphrase used by most other wallets.
func WithPassphrase(p string) Passphrase {
	return Passphrase{value: p, set: true}
}

// IsSet reports whether an explicit passphrase was given.
func (p Passphrase) IsSet() bool {
	return p.set
}

func (p Passphrase) salt() string {
	if !p.set {
		return DefaultPassphrase
	}
	return p.value
}

// SeedFromMnemonic derives a 512-bit seed using PBKDF2-SHA512 as specified in
// BIP-39. Invalid words or a bad checksum yield an *InvalidMnemonicError.
func SeedFromMnemonic(mnemonic string, pass Passphrase, lang Language) ([]byte, error) {
	if _, err := ParseLanguage(string(lang)); err != nil {
		return nil, err
	}
	if err := ValidateMnemonic(mnemonic, lang); err != nil {
		return nil, &InvalidMnemonicError{
			Words:    len(strings.Fields(mnemonic)),
			Language: lang,
			Err:      err,
		}
	}
	return bip39.NewSeed(mnemonic, pass.salt()), nil
}
