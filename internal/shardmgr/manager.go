package shardmgr

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/shardledger/internal/dag"
	"github.com/dreamware/shardledger/internal/engineerr"
	"github.com/dreamware/shardledger/internal/ring"
	"github.com/dreamware/shardledger/internal/storage"
	"github.com/dreamware/shardledger/internal/txid"
)

// LoadSource reports a point-in-time load figure per shard, used by
// Manager.Rebalance to decide which shards are over- or under-loaded.
// Adapted from the teacher's coordinator.HealthMonitor, which polled
// peers for liveness on a timer; here the load metric is read once per
// Rebalance call, and nothing polls it on a timer.
type LoadSource interface {
	Load(shard dag.ShardId) int
}

// pendingCountLoadSource is the default LoadSource: a shard's load is
// its pending-transaction count.
type pendingCountLoadSource struct {
	mgr *Manager
}

func (p pendingCountLoadSource) Load(shard dag.ShardId) int {
	s, ok := p.mgr.shard(shard)
	if !ok {
		return 0
	}
	return s.Info().PendingCount
}

// RebalanceParams carries the tunables spec.md §4.4's rebalance
// algorithm needs, mirroring config.Shard's fields so the manager never
// has to import the config package directly.
type RebalanceParams struct {
	MinShards               int
	MaxShards               int
	MaxTransactionsPerShard int
	ReshardThreshold        float64
}

// DefaultRebalanceParams matches spec.md §6's documented defaults.
func DefaultRebalanceParams() RebalanceParams {
	return RebalanceParams{
		MinShards:               1,
		MaxShards:               16,
		MaxTransactionsPerShard: 10_000,
		ReshardThreshold:        0.8,
	}
}

// Manager owns the shard ring, the set of live Shards, and the
// cross-shard coordinator. It implements spec.md §4.4's assign, submit,
// begin_cross_shard, and rebalance operations.
//
// Grounded on the teacher's coordinator.ShardRegistry (RWMutex-guarded
// shard membership map) generalized with ring.Ring's weighted
// consistent hashing in place of round-robin assignment.
type Manager struct {
	ring        *ring.Ring
	shards      map[dag.ShardId]*Shard
	coordinator *Coordinator
	store       storage.Store
	logger      *zap.Logger
	loadSource  LoadSource

	mu sync.RWMutex

	params RebalanceParams
}

// NewManager constructs a Manager over an initial set of shards with
// equal weight 1. store backs the coordinator's durable decision
// records.
func NewManager(shardIDs []dag.ShardId, store storage.Store, logger *zap.Logger, prepareTimeout time.Duration) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	weights := make(map[dag.ShardId]int, len(shardIDs))
	shards := make(map[dag.ShardId]*Shard, len(shardIDs))
	for _, id := range shardIDs {
		weights[id] = 1
		shards[id] = NewShard(id)
	}
	m := &Manager{
		ring:   ring.New(weights),
		shards: shards,
		store:  store,
		logger: logger,
		params: DefaultRebalanceParams(),
	}
	m.loadSource = pendingCountLoadSource{mgr: m}
	m.coordinator = NewCoordinator(store, logger, prepareTimeout, m.participantFor)
	return m
}

// SetRebalanceParams overrides the defaults Rebalance uses, e.g. from a
// loaded config.Shard.
func (m *Manager) SetRebalanceParams(p RebalanceParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = p
}

func (m *Manager) shard(id dag.ShardId) (*Shard, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shards[id]
	return s, ok
}

// ShardByID exposes the live Shard for id, for callers (e.g. the
// engine) that need to update shard-local state like state_root after
// a commit lands durably.
func (m *Manager) ShardByID(id dag.ShardId) (*Shard, bool) {
	return m.shard(id)
}

// Shards returns the set of shard ids this Manager currently owns, with
// their ring weights.
func (m *Manager) Shards() map[dag.ShardId]int {
	return m.ring.Shards()
}

func (m *Manager) participantFor(id dag.ShardId) Participant {
	s, ok := m.shard(id)
	if !ok {
		return nil
	}
	return NewLocalParticipant(s)
}

// Assign returns the shard tx's TxId maps to under the current ring
// configuration (spec.md §4.4 assign).
func (m *Manager) Assign(id txid.TxId) dag.ShardId {
	return m.ring.ShardOf(id)
}

// Submit records tx as pending on its assigned shard (spec.md §4.4
// submit). Callers are expected to have already inserted tx into the
// ledger; Submit only updates shard-local bookkeeping.
func (m *Manager) Submit(tx dag.Transaction) error {
	s, ok := m.shard(tx.Shard)
	if !ok {
		return engineerr.New(engineerr.KindUnknownParent, "shard not owned by this manager")
	}
	s.AddPending(tx.Id)
	return nil
}

// BeginCrossShard starts and drives the 2PC protocol for tx across
// targets, returning the final decision (spec.md §4.4
// begin_cross_shard). source is tx's home shard and is updated directly
// rather than through a Participant round-trip.
func (m *Manager) BeginCrossShard(ctx context.Context, tx dag.Transaction, source dag.ShardId, targets []dag.ShardId) (CrossShardStatus, error) {
	if s, ok := m.shard(source); ok {
		s.AddPending(tx.Id)
	}
	cst := NewCrossShardTx(tx, source, targets)
	status, err := m.coordinator.Run(ctx, cst)
	if status == CSCommitted || status == CSAborted {
		if s, ok := m.shard(source); ok {
			s.RemovePending(tx.Id)
		}
	}
	return status, err
}

// Recover re-drives any in-flight cross-shard transaction whose
// decision record exists at key (spec.md §4.4 crash-recovery:
// coordinators re-read in-flight records on restart and re-drive from
// last durable state).
func (m *Manager) Recover(ctx context.Context, id txid.TxId) (CrossShardStatus, error) {
	cst, err := m.coordinator.Recover(ctx, id)
	if err != nil {
		return CSPending, err
	}
	return m.coordinator.Run(ctx, cst)
}

// RebalancePlan describes the outcome of a Rebalance call: the shard
// count before and after, and how many pending transactions were
// migrated to a new shard as a result.
type RebalancePlan struct {
	OldShardCount int
	NewShardCount int
	Migrated      int
}

// Rebalance implements spec.md §4.4's rebalance operation verbatim:
// collect per-shard load, and if the fraction of overloaded shards
// (load exceeding MaxTransactionsPerShard) meets ReshardThreshold,
// resize the shard set to ceil(total_tx / MaxTransactionsPerShard)
// clamped to [MinShards, MaxShards], apply it to the Ring, then migrate
// every pending transaction whose ring assignment changed. Migration
// preserves tx id and parents: only the shard's pending-set membership
// moves, never the transaction itself.
//
// Load collection is adapted from the teacher's coordinator.HealthMonitor
// poll loop (collect a snapshot, then act on it) generalized from a
// liveness check into a load figure via the LoadSource.
func (m *Manager) Rebalance() RebalancePlan {
	m.mu.RLock()
	ids := make([]dag.ShardId, 0, len(m.shards))
	snapshot := make(map[dag.ShardId]*Shard, len(m.shards))
	for id, s := range m.shards {
		ids = append(ids, id)
		snapshot[id] = s
	}
	params := m.params
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	oldCount := len(ids)
	if oldCount == 0 {
		return RebalancePlan{}
	}

	totalTx := 0
	overloaded := 0
	pendingByShard := make(map[dag.ShardId][]txid.TxId, oldCount)
	for _, id := range ids {
		load := m.loadSource.Load(id)
		totalTx += load
		if load > params.MaxTransactionsPerShard {
			overloaded++
		}
		pendingByShard[id] = snapshot[id].PendingIds()
	}

	if float64(overloaded)/float64(oldCount) < params.ReshardThreshold {
		return RebalancePlan{OldShardCount: oldCount, NewShardCount: oldCount}
	}

	perShard := params.MaxTransactionsPerShard
	if perShard <= 0 {
		perShard = 1
	}
	newCount := int(math.Ceil(float64(totalTx) / float64(perShard)))
	if newCount < params.MinShards {
		newCount = params.MinShards
	}
	if newCount > params.MaxShards {
		newCount = params.MaxShards
	}
	if newCount == oldCount {
		return RebalancePlan{OldShardCount: oldCount, NewShardCount: oldCount}
	}

	m.mu.Lock()
	switch {
	case newCount > oldCount:
		nextID := ids[len(ids)-1] + 1
		for i := 0; i < newCount-oldCount; i++ {
			id := nextID + dag.ShardId(i)
			m.ring.Add(id, 1)
			m.shards[id] = NewShard(id)
		}
	case newCount < oldCount:
		for _, id := range ids[newCount:] {
			m.ring.Remove(id)
			delete(m.shards, id)
		}
	}
	currentShards := make(map[dag.ShardId]*Shard, len(m.shards))
	for id, s := range m.shards {
		currentShards[id] = s
	}
	m.mu.Unlock()

	migrated := 0
	for source, pending := range pendingByShard {
		for _, id := range pending {
			target := m.ring.ShardOf(id)
			if target == source {
				continue
			}
			if s, ok := currentShards[source]; ok {
				s.RemovePending(id)
			}
			if s, ok := currentShards[target]; ok {
				s.AddPending(id)
				migrated++
			}
		}
	}

	m.logger.Info("resharded ring",
		zap.Uint64("epoch", m.ring.Epoch()),
		zap.Int("old_shard_count", oldCount),
		zap.Int("new_shard_count", newCount),
		zap.Int("migrated", migrated))

	return RebalancePlan{OldShardCount: oldCount, NewShardCount: newCount, Migrated: migrated}
}
