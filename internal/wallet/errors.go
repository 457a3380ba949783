package wallet

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-wallet/pkg/descriptor"
)

// Sentinel errors for errors.Is checks against the typed errors below.
var (
	ErrEntropy         = errors.New("entropy source failure")
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrDerivation      = errors.New("key derivation failed")
	ErrNetworkMismatch = errors.New("key belongs to a different network")
)

// EntropyError is returned when the random source fails or runs short.
type EntropyError struct {
	Bits int
	Err  error
}

func (e *EntropyError) Error() string {
	return fmt.Sprintf("read %d bits of entropy: %v", e.Bits, e.Err)
}

func (e *EntropyError) Unwrap() error        { return e.Err }
func (e *EntropyError) Is(target error) bool { return target == ErrEntropy }

// InvalidMnemonicError is returned when a mnemonic fails word or checksum
// validation. The mnemonic itself is never included.
type InvalidMnemonicError struct {
	Words    int
	Language Language
	Err      error
}

func (e *InvalidMnemonicError) Error() string {
	return fmt.Sprintf("invalid %d-word %s mnemonic: %v", e.Words, e.Language, e.Err)
}

func (e *InvalidMnemonicError) Unwrap() error        { return e.Err }
func (e *InvalidMnemonicError) Is(target error) bool { return target == ErrInvalidMnemonic }

// DerivationError reports which chain, path and step failed. Step is the
// index into Path that could not be derived, or -1 for the master key.
type DerivationError struct {
	Chain KeyChain
	Path  descriptor.DerivationPath
	Step  int
	Err   error
}

func (e *DerivationError) Error() string {
	if e.Step < 0 {
		return fmt.Sprintf("derive master key: %v", e.Err)
	}
	return fmt.Sprintf("derive %s chain %s at step %d: %v", e.Chain, e.Path, e.Step, e.Err)
}

func (e *DerivationError) Unwrap() error        { return e.Err }
func (e *DerivationError) Is(target error) bool { return target == ErrDerivation }
