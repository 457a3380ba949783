package spend

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Klingon-tech/klingnet-wallet/pkg/descriptor"
)

// Sentinels matched by the typed errors below.
var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrSigning             = errors.New("signing failed")
	ErrIncompleteSignature = errors.New("incomplete signature")
	ErrBroadcastRejected   = errors.New("broadcast rejected")
	ErrInvalidTransition   = errors.New("invalid transaction state transition")
)

// Signing failure causes wrapped by *SigningError.
var (
	ErrMissingUTXO       = errors.New("input has no witness utxo")
	ErrMissingDerivation = errors.New("input has no bip32 derivation")
	ErrKeyMismatch       = errors.New("derived key does not match derivation pubkey")
	ErrScriptMismatch    = errors.New("key does not own the input script")
	ErrBadSignature      = errors.New("signature does not verify")
	ErrLockTime          = errors.New("transaction is not final at the assumed height")
)

// InsufficientFundsError reports that no input set covers the outputs plus fee.
type InsufficientFundsError struct {
	Available btcutil.Amount
	Required  btcutil.Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: have %v, need %v", e.Available, e.Required)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// SigningError reports a failure to sign input Input. Input is -1 for
// failures that concern the whole transaction.
type SigningError struct {
	Input int
	Chain uint32
	Path  descriptor.DerivationPath
	Err   error
}

func (e *SigningError) Error() string {
	if e.Input < 0 {
		return fmt.Sprintf("sign transaction: %v", e.Err)
	}
	if len(e.Path) == 0 {
		return fmt.Sprintf("sign input %d: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("sign input %d (chain %d, %s): %v", e.Input, e.Chain, e.Path, e.Err)
}

func (e *SigningError) Unwrap() error        { return e.Err }
func (e *SigningError) Is(target error) bool { return target == ErrSigning }

// IncompleteSignatureError reports an input without a complete witness.
type IncompleteSignatureError struct {
	Input int
	Err   error
}

func (e *IncompleteSignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("input %d: incomplete signature: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("input %d: incomplete signature", e.Input)
}

func (e *IncompleteSignatureError) Unwrap() error        { return e.Err }
func (e *IncompleteSignatureError) Is(target error) bool { return target == ErrIncompleteSignature }

// BroadcastRejectedError reports that the node refused the transaction.
type BroadcastRejectedError struct {
	TxID   chainhash.Hash
	Code   int
	Reason string
}

func (e *BroadcastRejectedError) Error() string {
	return fmt.Sprintf("broadcast %s rejected (code %d): %s", e.TxID, e.Code, e.Reason)
}

func (e *BroadcastRejectedError) Is(target error) bool { return target == ErrBroadcastRejected }
