// Package storage provides the key-value engines behind the wallet state
// store and namespaced views over them.
package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix in key order.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// NewBatch starts a set of writes that are applied atomically on Commit.
	NewBatch() Batch
	Close() error
}

// Batch buffers writes until Commit. A batch must not be reused after Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	// Len returns the number of buffered operations.
	Len() int
	Commit() error
}

// namespaceSep terminates a namespace prefix so "wallet-a" never shares keys
// with "wallet-ab".
const namespaceSep = 0x00

// Open returns a handle on the named namespace of db. Each namespace is an
// isolated keyspace; the same name always maps to the same keys.
func Open(db DB, namespace string) (*PrefixDB, error) {
	if namespace == "" {
		return nil, fmt.Errorf("empty namespace")
	}
	for i := 0; i < len(namespace); i++ {
		if namespace[i] == namespaceSep {
			return nil, fmt.Errorf("namespace %q contains a NUL byte", namespace)
		}
	}
	prefix := append([]byte("ns/"+namespace), namespaceSep)
	return NewPrefixDB(db, prefix), nil
}

// batchOp is a single buffered write. A nil value means delete.
type batchOp struct {
	key   []byte
	value []byte
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
