// Package engine implements the transaction orchestrator (C6): the
// single entry point that assigns a transaction to a shard, routes it
// through either the intra-shard DAG/Avalanche path or the cross-shard
// 2PC path, persists the outcome, and drains downstream parallel work.
//
// Grounded on the teacher's cmd/coordinator main.go request-handling
// shape (validate -> route -> respond) and internal/shard.Shard's
// atomic stats-counter style, generalized into the six-step process
// pipeline spec.md §4.6 describes.
package engine

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dreamware/shardledger/internal/avalanche"
	"github.com/dreamware/shardledger/internal/dag"
	"github.com/dreamware/shardledger/internal/engineerr"
	"github.com/dreamware/shardledger/internal/shardmgr"
	"github.com/dreamware/shardledger/internal/storage"
)

// Config holds C6's own tunables.
type Config struct {
	MaxInflight int // default 1000
}

// DefaultConfig returns spec.md §6's documented default.
func DefaultConfig() Config {
	return Config{MaxInflight: 1000}
}

// Metrics are the engine's internal, in-process instrumentation
// primitives (spec.md's instrumentation ambient concern). They are
// plain prometheus metric types held on the Engine and readable via
// Snapshot; nothing here registers an HTTP exporter; deliberately so,
// exporters are a named non-goal.
type Metrics struct {
	ProcessedTotal  prometheus.Counter
	ConfirmedTotal  prometheus.Counter
	RejectedTotal   prometheus.Counter
	ConflictTotal   prometheus.Counter
	BusyTotal       prometheus.Counter
	ProcessDuration prometheus.Histogram
}

// NewMetrics constructs a fresh, unregistered set of metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ProcessedTotal:  prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_processed_total"}),
		ConfirmedTotal:  prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_confirmed_total"}),
		RejectedTotal:   prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_rejected_total"}),
		ConflictTotal:   prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_conflicting_total"}),
		BusyTotal:       prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_busy_total"}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Name: "engine_process_duration_seconds"}),
	}
}

// Snapshot is a point-in-time read of the engine's counters, gathered
// through each metric's own Write method (the metrics are not
// registered with a prometheus registry) rather than a custom accessor
// per metric.
type Snapshot struct {
	Processed  float64
	Confirmed  float64
	Rejected   float64
	Conflicted float64
	Busy       float64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Processed:  readCounter(m.ProcessedTotal),
		Confirmed:  readCounter(m.ConfirmedTotal),
		Rejected:   readCounter(m.RejectedTotal),
		Conflicted: readCounter(m.ConflictTotal),
		Busy:       readCounter(m.BusyTotal),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

// Engine is the C6 orchestrator wiring together the DAG ledger (C2),
// Avalanche voting (C5), and the shard manager (C4, which itself wraps
// the ring C3 and storage C1).
type Engine struct {
	ledger    *dag.Ledger
	avalanche *avalanche.Engine
	shards    *shardmgr.Manager
	store     storage.Store
	logger    *zap.Logger
	metrics   *Metrics

	admission *semaphore.Weighted
}

// New constructs an Engine. cfg.MaxInflight bounds concurrent Process
// calls; exhaustion surfaces ErrBusy immediately via a non-blocking
// TryAcquire, matching spec.md §4.6's back-pressure rule.
func New(ledger *dag.Ledger, ava *avalanche.Engine, shards *shardmgr.Manager, store storage.Store, logger *zap.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = DefaultConfig().MaxInflight
	}
	return &Engine{
		ledger:    ledger,
		avalanche: ava,
		shards:    shards,
		store:     store,
		logger:    logger,
		metrics:   NewMetrics(),
		admission: semaphore.NewWeighted(int64(cfg.MaxInflight)),
	}
}

// Metrics returns the engine's instrumentation handles.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Process implements the six-step orchestration of spec.md §4.6.
func (e *Engine) Process(ctx context.Context, tx dag.Transaction) (dag.Status, error) {
	if !e.admission.TryAcquire(1) {
		e.metrics.BusyTotal.Inc()
		return dag.Pending, engineerr.New(engineerr.KindBusy, "max_inflight exhausted")
	}
	defer e.admission.Release(1)

	start := time.Now()
	defer func() { e.metrics.ProcessDuration.Observe(time.Since(start).Seconds()) }()
	e.metrics.ProcessedTotal.Inc()

	// Step 1: assign.
	shard := e.shards.Assign(tx.Id)
	tx.Shard = shard

	// Step 2: cross-shard detection.
	if e.ledger.Analyzer().TouchesMultipleShards(tx) {
		targets := e.crossShardTargets(tx, shard)
		status, err := e.shards.BeginCrossShard(ctx, tx, shard, targets)
		if err != nil {
			e.logger.Warn("cross-shard begin failed", zap.String("tx", tx.Id.String()), zap.Error(err))
		}
		if status == shardmgr.CSCommitted || status == shardmgr.CSAborted {
			return e.finalizeCrossShard(ctx, tx, status)
		}
		return dag.Pending, nil
	}

	// Step 3: DAG insert.
	result, err := e.ledger.Insert(ctx, tx)
	if result != dag.Inserted {
		e.metrics.RejectedTotal.Inc()
		if result == dag.RejectedDuplicate {
			// tx is already in the ledger under a prior Process call;
			// repeat calls must return its actual terminal status, not
			// synthesize a fresh Rejected.
			if existing, ok := e.ledger.Get(tx.Id); ok {
				return existing.Status, err
			}
		}
		return dag.Rejected, err
	}
	if err := e.shards.Submit(tx); err != nil {
		e.logger.Warn("submit to shard failed", zap.String("tx", tx.Id.String()), zap.Error(err))
	}

	// Step 4: Avalanche.
	status, err := e.avalanche.Run(ctx, tx)
	if err != nil {
		return dag.Conflicting, err
	}
	e.ledger.SetStatus(tx.Id, status)

	switch status {
	case dag.Confirmed:
		e.metrics.ConfirmedTotal.Inc()
		if err := e.persistConfirmed(ctx, tx, shard); err != nil {
			return status, err
		}
		e.drainParallel(ctx, 16)
	case dag.Rejected:
		e.metrics.RejectedTotal.Inc()
		if err := e.persistTx(ctx, tx, status); err != nil {
			return status, err
		}
	default:
		e.metrics.ConflictTotal.Inc()
		if err := e.persistTx(ctx, tx, status); err != nil {
			return status, err
		}
	}

	return status, nil
}

// crossShardTargets computes the shard set a transaction's write-set
// touches beyond its home shard. Without a richer per-key shard
// resolver wired into PayloadAnalyzer, every other shard currently on
// the ring is treated as a potential target; a deployment with a
// precise per-key shard mapping can narrow this via its own
// PayloadAnalyzer plus a smarter Manager method.
func (e *Engine) crossShardTargets(_ dag.Transaction, home dag.ShardId) []dag.ShardId {
	var targets []dag.ShardId
	for id := range e.shards.Shards() {
		if id != home {
			targets = append(targets, id)
		}
	}
	return targets
}

func (e *Engine) finalizeCrossShard(ctx context.Context, tx dag.Transaction, cs shardmgr.CrossShardStatus) (dag.Status, error) {
	status := dag.Rejected
	if cs == shardmgr.CSCommitted {
		status = dag.Confirmed
	}
	result, err := e.ledger.Insert(ctx, tx)
	if result == dag.Inserted {
		e.ledger.SetStatus(tx.Id, status)
	}
	if status == dag.Confirmed {
		e.metrics.ConfirmedTotal.Inc()
	} else {
		e.metrics.RejectedTotal.Inc()
	}
	return status, err
}

// persistConfirmed implements step 5: persist tx+status atomically,
// then update the shard's state root.
func (e *Engine) persistConfirmed(ctx context.Context, tx dag.Transaction, shard dag.ShardId) error {
	if err := e.persistTx(ctx, tx, dag.Confirmed); err != nil {
		return err
	}
	root := tx.Id[:]
	if s, ok := e.shards.ShardByID(shard); ok {
		s.UpdateStateRoot(root)
	}
	return nil
}

// drainParallel attempts to advance up to limit parallel-executable
// transactions. In this single-process engine that means re-offering
// them to Avalanche; a multi-process deployment would instead hand
// these to worker goroutines. Errors are logged, not surfaced: draining
// is best-effort downstream progress, not part of Process's contract.
func (e *Engine) drainParallel(ctx context.Context, limit int) {
	for _, tx := range e.ledger.ParallelExecutable(limit) {
		status, err := e.avalanche.Run(ctx, tx)
		if err != nil {
			e.logger.Warn("drain avalanche run failed", zap.String("tx", tx.Id.String()), zap.Error(err))
			continue
		}
		e.ledger.SetStatus(tx.Id, status)
		if status == dag.Confirmed {
			if err := e.persistTx(ctx, tx, status); err != nil {
				e.logger.Warn("drain persist failed", zap.String("tx", tx.Id.String()), zap.Error(err))
			}
		}
	}
}

func (e *Engine) persistTx(ctx context.Context, tx dag.Transaction, status dag.Status) error {
	return storage.WithRetry(ctx, func() error {
		key := append([]byte(storage.PrefixTx), tx.Id[:]...)
		value := []byte(status.String())
		if err := e.store.Put(ctx, storage.CFTransactions, key, value); err != nil {
			return engineerr.Wrap(engineerr.KindStorageUnavailable, err, "persist confirmed tx")
		}
		return nil
	})
}
