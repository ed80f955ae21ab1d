package shardmgr

import (
	"sync"

	"github.com/dreamware/shardledger/internal/dag"
	"github.com/dreamware/shardledger/internal/txid"
)

// CrossShardStatus is the lifecycle of a CrossShardTx. Transitions are
// monotonic: Pending->Prepared->Committed, Pending->Aborted,
// Prepared->Aborted. Aborted and Committed are terminal; Aborted is
// additionally final in the sense that a tx ever observed Aborted by
// any participant is never later Committed anywhere (spec.md §4.4
// invariant (c)).
type CrossShardStatus int

const (
	CSPending CrossShardStatus = iota
	CSPrepared
	CSCommitted
	CSAborted
)

func (s CrossShardStatus) String() string {
	switch s {
	case CSPending:
		return "Pending"
	case CSPrepared:
		return "Prepared"
	case CSCommitted:
		return "Committed"
	case CSAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// validTransition enforces the monotonic state machine from spec.md
// §4.4.
func validTransition(from, to CrossShardStatus) bool {
	switch from {
	case CSPending:
		return to == CSPrepared || to == CSAborted
	case CSPrepared:
		return to == CSCommitted || to == CSAborted
	default:
		return false // Committed and Aborted are terminal
	}
}

// CrossShardTx is the coordinator's durable record of a transaction
// that spans shards. The coordinator (the source shard) is the single
// writer of Status; participants read it via Status.
type CrossShardTx struct {
	Tx      dag.Transaction
	Source  dag.ShardId
	Targets []dag.ShardId

	mu             sync.RWMutex
	status         CrossShardStatus
	prepareOk      map[dag.ShardId]bool
	acked          map[dag.ShardId]bool
}

// NewCrossShardTx constructs a Pending CrossShardTx for tx, coordinated
// by source, touching targets (targets should exclude source; source
// applies the decision to its own reserved state directly).
func NewCrossShardTx(tx dag.Transaction, source dag.ShardId, targets []dag.ShardId) *CrossShardTx {
	return &CrossShardTx{
		Tx:        tx,
		Source:    source,
		Targets:   append([]dag.ShardId(nil), targets...),
		status:    CSPending,
		prepareOk: make(map[dag.ShardId]bool, len(targets)),
		acked:     make(map[dag.ShardId]bool, len(targets)),
	}
}

// Id is the cross-shard transaction's identity: the wrapped
// transaction's TxId.
func (c *CrossShardTx) Id() txid.TxId { return c.Tx.Id }

// Status returns the current decision status.
func (c *CrossShardTx) Status() CrossShardStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// transition moves the record forward if the transition is legal,
// returning false (no-op) if it's not a valid monotonic move — this
// makes re-driving the protocol after a crash safe to call repeatedly.
func (c *CrossShardTx) transition(to CrossShardStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == to {
		return true // idempotent re-application
	}
	if !validTransition(c.status, to) {
		return false
	}
	c.status = to
	return true
}

// recordPrepareOk notes that target replied PrepareOk. allPrepared
// reports whether every target has now done so.
func (c *CrossShardTx) recordPrepareOk(target dag.ShardId) (allPrepared bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepareOk[target] = true
	for _, t := range c.Targets {
		if !c.prepareOk[t] {
			return false
		}
	}
	return true
}

func (c *CrossShardTx) recordAck(target dag.ShardId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked[target] = true
}

// unacked returns the targets that have not yet acknowledged the
// decision, for ack-phase retry.
func (c *CrossShardTx) unacked() []dag.ShardId {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []dag.ShardId
	for _, t := range c.Targets {
		if !c.acked[t] {
			out = append(out, t)
		}
	}
	return out
}
