// Package storage defines the durable key/value contract the ledger
// core depends on and provides two implementations with identical
// semantics: an in-memory store for tests and a bbolt-backed store for
// durable operation.
//
// # Overview
//
// The core never talks to a concrete database. The components that
// write durable state — the engine's transaction-status records and the
// shard manager's 2PC decision records — depend only on the Store
// interface. Shard state roots are held in memory by shardmgr.Shard and
// are not written to the store. Swapping MemoryStore for BoltStore (or a
// future backend) changes nothing about how the core behaves.
//
// # Column families
//
// Rather than a single flat namespace, Store partitions keys into
// column families: CFShardState, CFTransactions, CFMetadata. A key in
// one column family is invisible to a Get/ScanPrefix against another,
// even if the raw bytes collide. BoltStore maps each column family onto
// its own bbolt bucket; MemoryStore maps it onto its own Go map.
//
// Within CFMetadata and CFTransactions, components further namespace
// their own keys with a prefix (PrefixShard, PrefixTx, PrefixMeta) so
// unrelated concerns sharing a column family still sort and scan
// independently — e.g. 2PC decision records live under
// "meta/cross/<id>" inside CFMetadata.
//
// # Atomicity
//
// Batch applies a slice of Op (put or delete) as a single unit: no
// reader ever observes some ops applied and others not. MemoryStore
// gets this for free from its single mutex; BoltStore gets it from
// wrapping the whole batch in one bbolt read-write transaction, which
// bbolt itself guarantees is all-or-nothing.
//
// # Snapshots
//
// Snapshot(path) writes a consistent point-in-time copy of the entire
// store to path; Restore(path) replaces the live store's contents with
// that copy. BoltStore's Snapshot uses bbolt's transactional WriteTo,
// so a snapshot taken mid-write never observes a torn state. Restore is
// exclusive with concurrent operations by design — callers quiesce the
// engine first.
//
// # Compression
//
// BoltStore transparently compresses values at or above compressThreshold
// with snappy before writing, tagging each stored value so Get knows
// whether to decompress without a second round-trip. This is purely a
// storage-efficiency optimization: values round-trip byte-for-byte
// regardless of size.
//
// # Error handling
//
// ErrNotFound is not a failure condition: Get returns it for an absent
// key and callers treat it as an optional value. ErrCorrupt means the
// store found persisted data it cannot trust (an unrecognized value
// tag, a truncated snapshot) — this is fatal, and callers that observe
// it stop and wait for operator intervention rather than retrying.
// Transient failures (a storage operation that failed but might
// succeed on retry) are the caller's concern: see WithRetry.
package storage
