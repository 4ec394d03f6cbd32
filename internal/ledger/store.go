// Package ledger is the settlement layer of the protocol: a keyed state store
// with append-only streams and atomic multi-key transactions.
//
// Every mutating protocol operation runs inside exactly one Store.Update.
// Stores serialize writers, so transactions are totally ordered and a failed
// transaction leaves no partial effects.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrReadOnly is returned when a View transaction tries to write.
	ErrReadOnly = errors.New("ledger: read-only transaction")

	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("ledger: store closed")
)

// Tx is the view of the ledger inside one transaction. Writes are visible to
// later reads in the same transaction and to other transactions only after
// commit.
type Tx interface {
	// Get returns the value stored under bucket/key and whether it exists.
	Get(bucket, key string) ([]byte, bool, error)

	// Put stores value under bucket/key, replacing any previous value.
	Put(bucket, key string, value []byte) error

	// Append adds value to the end of stream and returns its 1-based sequence.
	Append(stream string, value []byte) (uint64, error)

	// Range calls fn for every entry of stream with seq > after, in order.
	// Iteration stops at the first error, which Range returns.
	Range(stream string, after uint64, fn func(seq uint64, value []byte) error) error
}

// Store executes transactions against the ledger.
type Store interface {
	// Update runs fn in a read-write transaction. If fn returns an error no
	// write of the transaction is applied.
	Update(ctx context.Context, fn func(Tx) error) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error

	// Close releases the store.
	Close() error
}
