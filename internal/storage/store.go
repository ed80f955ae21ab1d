// Package storage defines the durable key/value contract the core
// requires (C1) and provides two implementations: an in-memory store
// for tests and a bbolt-backed store for durable operation. Both honor
// column families, atomic batches, point-in-time snapshots, and
// prefix-lexicographic scans.
//
// Adapted from the teacher's internal/storage.Store (a flat,
// single-namespace map), generalized to column families, batches, and
// snapshot/restore per the core's storage contract.
package storage

import (
	"context"

	"github.com/pkg/errors"
)

// Column families reserved by the core.
const (
	CFShardState    = "shard_state"
	CFTransactions  = "transactions"
	CFMetadata      = "metadata"
)

// Key prefixes reserved by the core (used within CFMetadata and
// CFTransactions respectively; column families already separate
// shard_state from transactions, these prefixes further namespace
// metadata and durability records inside CFMetadata/CFTransactions).
const (
	PrefixShard = "shard/"
	PrefixTx    = "tx/"
	PrefixMeta  = "meta/"
)

// ErrNotFound is returned by Get when a key is absent. It is not a
// failure: callers treat it as an optional value, never logging it as
// an error.
var ErrNotFound = errors.New("storage: not found")

// ErrCorrupt indicates the storage layer found persisted data it cannot
// trust. This is fatal: engines that observe it must stop and wait for
// operator intervention, per the error handling design.
var ErrCorrupt = errors.New("storage: corrupt")

// Op is a single operation within a Batch. Value is ignored when Delete
// is true.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// KV is a single key/value pair returned by ScanPrefix.
type KV struct {
	Key   []byte
	Value []byte
}

// Store is the durable key/value contract required by the core. All
// operations are safe under concurrent callers. Implementations must
// never let a reader observe a partially-applied Batch.
type Store interface {
	// Get returns the value for key in cf, or ErrNotFound if absent.
	Get(ctx context.Context, cf string, key []byte) ([]byte, error)

	// Put is an idempotent single-key write.
	Put(ctx context.Context, cf string, key, value []byte) error

	// Delete removes key from cf. Deleting an absent key is not an error.
	Delete(ctx context.Context, cf string, key []byte) error

	// Batch applies ops atomically within a single column family:
	// either all ops are visible to subsequent readers, or none are.
	Batch(ctx context.Context, cf string, ops []Op) error

	// ScanPrefix returns every key/value pair in cf whose key has the
	// given prefix, in prefix-lexicographic key order.
	ScanPrefix(ctx context.Context, cf string, prefix []byte) ([]KV, error)

	// Snapshot writes a durable, point-in-time copy of the store to path.
	Snapshot(ctx context.Context, path string) error

	// Restore replaces the live store's contents with the snapshot at path.
	Restore(ctx context.Context, path string) error

	// Close releases any resources held by the store.
	Close() error
}
