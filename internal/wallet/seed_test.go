package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

const abandonMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestSeedFromMnemonic_KnownVector(t *testing.T) {
	// Standard BIP-39 test vector
	// Mnemonic: "abandon" x11 + "about", passphrase: "TREZOR"
	seed, err := SeedFromMnemonic(abandonMnemonic, WithPassphrase("TREZOR"), English)
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}

	want, _ := hex.DecodeString("c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04")
	if !bytes.Equal(seed, want) {
		t.Errorf("seed = %x, want %x", seed, want)
	}
}

func TestSeedFromMnemonic_NoPassphraseVsEmpty(t *testing.T) {
	none, err := SeedFromMnemonic(abandonMnemonic, NoPassphrase(), English)
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	empty, err := SeedFromMnemonic(abandonMnemonic, WithPassphrase(""), English)
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	if bytes.Equal(none, empty) {
		t.Error("no passphrase and empty passphrase must produce different seeds")
	}

	dflt, err := SeedFromMnemonic(abandonMnemonic, WithPassphrase(DefaultPassphrase), English)
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	if !bytes.Equal(none, dflt) {
		t.Error("no passphrase should apply DefaultPassphrase")
	}
	if NoPassphrase().IsSet() || !WithPassphrase("").IsSet() {
		t.Error("IsSet() mismatch")
	}
}

func TestSeedFromMnemonic_Deterministic(t *testing.T) {
	seed1, err := SeedFromMnemonic(abandonMnemonic, WithPassphrase("test"), English)
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	seed2, err := SeedFromMnemonic(abandonMnemonic, WithPassphrase("test"), English)
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	if len(seed1) != SeedSize {
		t.Errorf("seed length = %d, want %d", len(seed1), SeedSize)
	}
	if !bytes.Equal(seed1, seed2) {
		t.Error("same mnemonic + passphrase should produce same seed")
	}
}

func TestSeedFromMnemonic_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		words    int
	}{
		{"garbage", "not valid words here", 4},
		{"empty", "", 0},
		{"bad checksum", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon", 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SeedFromMnemonic(tt.mnemonic, NoPassphrase(), English)
			if !errors.Is(err, ErrInvalidMnemonic) {
				t.Fatalf("error = %v, want ErrInvalidMnemonic", err)
			}
			var ime *InvalidMnemonicError
			if !errors.As(err, &ime) {
				t.Fatalf("error should be *InvalidMnemonicError, got %T", err)
			}
			if ime.Words != tt.words {
				t.Errorf("Words = %d, want %d", ime.Words, tt.words)
			}
		})
	}
}

func TestSeedFromMnemonic_UnknownLanguage(t *testing.T) {
	_, err := SeedFromMnemonic(abandonMnemonic, NoPassphrase(), Language("nope"))
	if err == nil {
		t.Fatal("unknown language should fail")
	}
	if errors.Is(err, ErrInvalidMnemonic) {
		t.Error("unknown language is a usage error, not an invalid mnemonic")
	}
}
