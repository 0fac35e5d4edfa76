// Package kv is the string-keyed store every other package persists into.
package kv

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable wraps every failure of the underlying storage.
var ErrUnavailable = errors.New("kv: storage unavailable")

// Reader reads values by key.
type Reader interface {
	// Get returns the value stored under key and whether it exists.
	Get(key string) (string, bool, error)
	// Keys lists stored keys starting with prefix, sorted.
	Keys(prefix string) ([]string, error)
}

// Writer mutates values by key.
type Writer interface {
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// Tx is the view handed to a transaction function.
type Tx interface {
	Reader
	Writer
}

// Store is a persistent key/value store. Single calls are atomic per key;
// WithTransaction commits all writes made by fn together or none of them.
type Store interface {
	Tx
	WithTransaction(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

func unavailable(op, key string, err error) error {
	if key == "" {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s %q: %w", ErrUnavailable, op, key, err)
}
