// Package txid implements content-derived transaction identifiers.
//
// A TxId is never assigned by a clock or a counter: it is the hash of
// every field that is fixed at construction time (parents, payload,
// timestamp). Two transactions built from identical inputs therefore
// collide on id, which is what lets the DAG ledger treat "same id" and
// "byte-identical" as the same fact. Shard is deliberately excluded:
// it is derived from the id via the ring (shard = ring.shard_of(id)),
// so including it in the hash would make id depend on shard and shard
// depend on id.
package txid

import (
	"encoding/binary"
	"encoding/hex"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// TxId is an opaque 32-byte content hash. Total ordering over TxId
// values exists only for deterministic tiebreaks (lexicographic byte
// compare); it carries no temporal meaning.
type TxId [32]byte

// Zero is the zero-value id, never a valid transaction id.
var Zero TxId

// String renders the id as lowercase hex, matching the teacher's
// preference for human-inspectable identifiers in logs and tests.
func (id TxId) String() string {
	return hex.EncodeToString(id[:])
}

// Less reports whether id sorts strictly before other, used by the
// deterministic tiebreak in the Avalanche priority comparison and by
// stable topological ordering.
func (id TxId) Less(other TxId) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// IsZero reports whether id is the zero value.
func (id TxId) IsZero() bool {
	return id == Zero
}

// Compute derives a TxId from a transaction's immutable fields. parents
// must already be in the transaction's declared order (order is part of
// the hashed content, per the data model's "ordered sequence" rule for
// parents); payload is hashed verbatim; timestampNanos is encoded
// little-endian.
//
// Compute never returns an error: blake2b-256 construction with a nil
// key cannot fail.
func Compute(parents []TxId, payload []byte, timestampNanos int64) TxId {
	h, _ := blake2b.New256(nil)

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(parents)))
	_, _ = h.Write(lenBuf[:])
	for _, p := range parents {
		_, _ = h.Write(p[:])
	}

	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write(payload)

	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(timestampNanos))
	_, _ = h.Write(tsBuf[:])

	var out TxId
	copy(out[:], h.Sum(nil))
	return out
}

// SortSlice sorts ids in place in ascending byte order. Used wherever a
// deterministic iteration order over a set of ids is required (stable
// topological ordering, deterministic tiebreaks over conflict sets).
func SortSlice(ids []TxId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}
