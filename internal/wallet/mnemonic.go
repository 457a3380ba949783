// Package wallet implements HD key derivation, descriptor generation and the
// wallet that ties key material to the state store and the node.
package wallet

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/tyler-smith/go-bip39"
	"github.com/tyler-smith/go-bip39/wordlists"
)

// Language selects a BIP-39 wordlist.
type Language string

// Supported wordlists.
const (
	English            Language = "english"
	Japanese           Language = "japanese"
	Korean             Language = "korean"
	Spanish            Language = "spanish"
	French             Language = "french"
	Italian            Language = "italian"
	Czech              Language = "czech"
	ChineseSimplified  Language = "chinese-simplified"
	ChineseTraditional Language = "chinese-traditional"
)

// DefaultWords is the mnemonic length used when none is requested.
const DefaultWords = 12

var languageLists = map[Language][]string{
	English:            wordlists.English,
	Japanese:           wordlists.Japanese,
	Korean:             wordlists.Korean,
	Spanish:            wordlists.Spanish,
	French:             wordlists.French,
	Italian:            wordlists.Italian,
	Czech:              wordlists.Czech,
	ChineseSimplified:  wordlists.ChineseSimplified,
	ChineseTraditional: wordlists.ChineseTraditional,
}

// go-bip39 keeps the active wordlist in package state.
var wordlistMu sync.Mutex

func withWordList(lang Language, fn func() error) error {
	list, ok := languageLists[lang]
	if !ok {
		return fmt.Errorf("unsupported mnemonic language %q", lang)
	}
	wordlistMu.Lock()
	defer wordlistMu.Unlock()
	bip39.SetWordList(list)
	defer bip39.SetWordList(wordlists.English)
	return fn()
}

// ParseLanguage maps a name such as "english" to a Language.
func ParseLanguage(s string) (Language, error) {
	lang := Language(s)
	if _, ok := languageLists[lang]; !ok {
		return "", fmt.Errorf("unsupported mnemonic language %q", s)
	}
	return lang, nil
}

// entropyBits returns the entropy size for a BIP-39 word count.
func entropyBits(words int) (int, error) {
	switch words {
	case 12, 15, 18, 21, 24:
		return words * 32 / 3, nil
	default:
		return 0, fmt.Errorf("unsupported mnemonic length %d (want 12, 15, 18, 21 or 24)", words)
	}
}

// GenerateMnemonic creates a new BIP-39 mnemonic from the system CSPRNG.
func GenerateMnemonic(words int, lang Language) (string, error) {
	return GenerateMnemonicFrom(rand.Reader, words, lang)
}

// GenerateMnemonicFrom creates a mnemonic from entropy read from r. A failing
// or short reader yields an *EntropyError.
func GenerateMnemonicFrom(r io.Reader, words int, lang Language) (string, error) {
	bits, err := entropyBits(words)
	if err != nil {
		return "", err
	}
	entropy := make([]byte, bits/8)
	defer zero(entropy)
	if _, err := io.ReadFull(r, entropy); err != nil {
		return "", &EntropyError{Bits: bits, Err: err}
	}

	var mnemonic string
	err = withWordList(lang, func() error {
		var err error
		mnemonic, err = bip39.NewMnemonic(entropy)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks word membership, word count and checksum.
func ValidateMnemonic(mnemonic string, lang Language) error {
	return withWordList(lang, func() error {
		_, err := bip39.EntropyFromMnemonic(mnemonic)
		return err
	})
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
