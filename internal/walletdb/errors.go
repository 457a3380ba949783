package walletdb

import (
	"errors"
	"fmt"
)

// ErrStorage matches every *StorageError.
var ErrStorage = errors.New("wallet storage failure")

// ErrMetaMismatch is returned when a namespace already holds a different wallet.
var ErrMetaMismatch = errors.New("namespace belongs to a different wallet")

// StorageError reports a failed read or write against the wallet namespace.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("walletdb %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("walletdb %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error        { return e.Err }
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, key []byte, err error) error {
	return &StorageError{Op: op, Key: printableKey(key), Err: err}
}

// printableKey renders the ASCII prefix of a key and hex for the binary tail.
func printableKey(key []byte) string {
	if len(key) < 2 || key[1] != '/' {
		return fmt.Sprintf("%x", key)
	}
	return fmt.Sprintf("%s%x", key[:2], key[2:])
}
