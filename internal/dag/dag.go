// Package dag implements the transaction graph: insertion with parent
// validation, children bookkeeping, topological ordering, conflict
// detection, and parallel-executable antichain extraction (C2).
//
// Adapted from the teacher's internal/shard.Shard bookkeeping style
// (RWMutex-guarded maps, atomic counters for stats) but the data
// structure itself — a DAG of multi-parent transactions rather than a
// flat key/value shard — has no analogue in the teacher; it is built
// directly from spec.md §4.2.
package dag

import (
	"context"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/dreamware/shardledger/internal/engineerr"
	"github.com/dreamware/shardledger/internal/txid"
)

// Status is a transaction's lifecycle state. Status only ever
// progresses Pending -> {Confirmed, Rejected, Conflicting}; it never
// regresses.
type Status int

const (
	Pending Status = iota
	Confirmed
	Rejected
	Conflicting
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Confirmed:
		return "Confirmed"
	case Rejected:
		return "Rejected"
	case Conflicting:
		return "Conflicting"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is one of Confirmed, Rejected, Conflicting
// — i.e. a status from which the lifecycle never moves again.
func (s Status) Terminal() bool {
	return s == Confirmed || s == Rejected || s == Conflicting
}

// ShardId identifies a shard. Small integer, stable across the ring's
// lifetime but subject to reassignment on ring epoch changes for new
// transactions.
type ShardId int32

// Transaction is immutable once inserted into the Ledger, with two
// exceptions set before insertion: Shard (assigned by the shard manager
// via ring.shard_of(Id), not known at New() time) and Status (owned by
// the Ledger once the transaction is inserted; see Ledger.Get).
type Transaction struct {
	Timestamp time.Time
	Payload   []byte
	Parents   []txid.TxId
	Id        txid.TxId
	Shard     ShardId
	Status    Status
}

// New constructs a Transaction, deriving Id from the content hash of
// parents, payload, and timestamp. parents is copied and order is
// preserved (order is semantically part of the transaction's identity,
// per the data model). Shard is left unset: it is assigned afterward by
// ring.shard_of(id), never baked into the id itself (§3 invariant: "id
// is content-derived... shard equals ring.shard_of(id) at the current
// ring epoch of insertion").
func New(parents []txid.TxId, payload []byte, ts time.Time) Transaction {
	parentsCopy := make([]txid.TxId, len(parents))
	copy(parentsCopy, parents)

	id := txid.Compute(parentsCopy, payload, ts.UnixNano())

	return Transaction{
		Id:        id,
		Parents:   parentsCopy,
		Payload:   payload,
		Timestamp: ts,
		Status:    Pending,
	}
}

// DagNode wraps a Transaction with the bookkeeping the DAG needs:
// children (the only field mutated after insertion) and an opaque
// metadata bag for analyzer-specific annotations (e.g. "touches
// multiple shards").
type DagNode struct {
	Meta     map[string][]byte
	Children map[txid.TxId]struct{}
	Tx       Transaction
}

// PayloadAnalyzer extracts read/write sets from a transaction's payload
// and validates it against domain rules. It is an injected external
// collaborator (spec.md §6); the DAG and Avalanche engine depend only
// on this interface, never on a concrete payload format.
//
// Guarantee documented for implementers: an analyzer must never omit a
// key from a read or write set that the transaction actually touches
// (false negatives cause missed conflicts); it may be conservative
// (false positives only cost unnecessary serialization, never
// correctness).
type PayloadAnalyzer interface {
	ReadSet(payload []byte) map[string]struct{}
	WriteSet(payload []byte) map[string]struct{}
	TouchesMultipleShards(tx Transaction) bool
	Validate(tx Transaction) error
	// Fee extracts the transaction's declared fee, used by the
	// Avalanche priority tuple (lower_timestamp, higher_fee,
	// more_confirmed_parents). An analyzer with no fee concept returns
	// uint256.NewInt(0).
	Fee(payload []byte) *uint256.Int
}

// InsertResult is the outcome of Ledger.Insert.
type InsertResult int

const (
	Inserted InsertResult = iota
	RejectedDuplicate
	RejectedStaleParent
	RejectedUnknownParent
	RejectedSelfReference
	RejectedBadParents
)

// Ledger is the in-memory transaction DAG. It exclusively owns the DAG
// tables, per the ownership rules in spec.md §3: other components
// reference transactions only by TxId.
type Ledger struct {
	analyzer PayloadAnalyzer
	nodes    map[txid.TxId]*DagNode
	mu       sync.RWMutex
}

// NewLedger constructs an empty ledger. If analyzer is nil, the
// fallback SenderPrefixAnalyzer conflict predicate is used.
func NewLedger(analyzer PayloadAnalyzer) *Ledger {
	if analyzer == nil {
		analyzer = SenderPrefixAnalyzer{}
	}
	return &Ledger{
		nodes:    make(map[txid.TxId]*DagNode),
		analyzer: analyzer,
	}
}

// Analyzer returns the ledger's configured PayloadAnalyzer.
func (l *Ledger) Analyzer() PayloadAnalyzer { return l.analyzer }

// Insert admits tx into the DAG. Preconditions, failure modes, and side
// effects (recording tx.Id into each parent's children set) are exactly
// spec.md §4.2's insert contract.
func (l *Ledger) Insert(_ context.Context, tx Transaction) (InsertResult, error) {
	for _, p := range tx.Parents {
		if p == tx.Id {
			return RejectedSelfReference, engineerr.New(engineerr.KindInvalidTransaction, "self-reference")
		}
	}
	if hasDuplicateParents(tx.Parents) {
		return RejectedBadParents, engineerr.New(engineerr.KindInvalidTransaction, "duplicate parents")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.nodes[tx.Id]; exists {
		return RejectedDuplicate, nil
	}

	if len(tx.Parents) == 0 {
		// Tip seed: admitted only into an empty DAG. Once the DAG holds
		// any node, every parentless transaction is rejected here; there
		// is no admission-policy path that lets a further seed in, and
		// the engine applies no seed policy of its own.
		if len(l.nodes) != 0 {
			return RejectedBadParents, engineerr.New(engineerr.KindInvalidTransaction, "tip seed into non-empty dag")
		}
	}

	parentNodes := make([]*DagNode, 0, len(tx.Parents))
	for _, pid := range tx.Parents {
		pn, ok := l.nodes[pid]
		if !ok {
			return RejectedUnknownParent, engineerr.New(engineerr.KindUnknownParent, pid.String())
		}
		if pn.Tx.Status != Confirmed {
			return RejectedStaleParent, engineerr.New(engineerr.KindInvalidTransaction, "stale parent "+pid.String())
		}
		parentNodes = append(parentNodes, pn)
	}

	node := &DagNode{
		Tx:       tx,
		Children: make(map[txid.TxId]struct{}),
		Meta:     make(map[string][]byte),
	}
	l.nodes[tx.Id] = node

	for _, pn := range parentNodes {
		pn.Children[tx.Id] = struct{}{}
	}

	return Inserted, nil
}

// Get returns a copy of the transaction for id, if present.
func (l *Ledger) Get(id txid.TxId) (Transaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n, ok := l.nodes[id]
	if !ok {
		return Transaction{}, false
	}
	return n.Tx, true
}

// Children returns the set of direct children of id.
func (l *Ledger) Children(id txid.TxId) map[txid.TxId]struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n, ok := l.nodes[id]
	if !ok {
		return nil
	}
	out := make(map[txid.TxId]struct{}, len(n.Children))
	for c := range n.Children {
		out[c] = struct{}{}
	}
	return out
}

// SetStatus transitions id's status. It refuses to move a terminal
// status anywhere else, enforcing status monotonicity (spec.md §8).
func (l *Ledger) SetStatus(id txid.TxId, status Status) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.nodes[id]
	if !ok {
		return false
	}
	if n.Tx.Status.Terminal() {
		return n.Tx.Status == status
	}
	n.Tx.Status = status
	return true
}

// SetMeta records an opaque annotation on id's DagNode (e.g. a
// "touches-multiple-shards" flag set by the engine's admission path).
func (l *Ledger) SetMeta(id txid.TxId, key string, value []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.nodes[id]
	if !ok {
		return
	}
	n.Meta[key] = value
}

// Meta returns an annotation previously recorded with SetMeta.
func (l *Ledger) Meta(id txid.TxId, key string) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n, ok := l.nodes[id]
	if !ok {
		return nil, false
	}
	v, ok := n.Meta[key]
	return v, ok
}

// ConfirmedParentCount returns how many of id's direct parents are
// currently Confirmed, used by the Avalanche priority tuple's
// more_confirmed_parents tiebreak.
func (l *Ledger) ConfirmedParentCount(id txid.TxId) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n, ok := l.nodes[id]
	if !ok {
		return 0
	}
	count := 0
	for _, pid := range n.Tx.Parents {
		if pn, ok := l.nodes[pid]; ok && pn.Tx.Status == Confirmed {
			count++
		}
	}
	return count
}

func hasDuplicateParents(parents []txid.TxId) bool {
	seen := make(map[txid.TxId]struct{}, len(parents))
	for _, p := range parents {
		if _, ok := seen[p]; ok {
			return true
		}
		seen[p] = struct{}{}
	}
	return false
}
