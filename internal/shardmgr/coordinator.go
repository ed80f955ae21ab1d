package shardmgr

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dreamware/shardledger/internal/dag"
	"github.com/dreamware/shardledger/internal/engineerr"
	"github.com/dreamware/shardledger/internal/storage"
	"github.com/dreamware/shardledger/internal/txid"
)

// decisionRecord is the durable shape stored under meta/cross/<id>: the
// single source of truth participants re-ask for on recovery (spec.md
// §4.4's "the decision record guarantees all others eventually do").
type decisionRecord struct {
	Tx      dag.Transaction
	Status  CrossShardStatus
	Source  dag.ShardId
	Targets []dag.ShardId
}

func decisionKey(id txid.TxId) []byte {
	return []byte(storage.PrefixMeta + "cross/" + id.String())
}

// Coordinator runs the cross-shard 2PC protocol described in spec.md
// §4.4. It is the single writer of each CrossShardTx's decision record;
// participants are reached through the Participant interface, which
// keeps the transport opaque.
type Coordinator struct {
	store        storage.Store
	logger       *zap.Logger
	participants func(dag.ShardId) Participant

	prepareTimeout time.Duration
}

// NewCoordinator constructs a Coordinator. participantOf resolves a
// ShardId to the Participant endpoint that serves it.
func NewCoordinator(store storage.Store, logger *zap.Logger, prepareTimeout time.Duration, participantOf func(dag.ShardId) Participant) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:          store,
		logger:         logger,
		participants:   participantOf,
		prepareTimeout: prepareTimeout,
	}
}

// Run drives cst through Prepare, Decide, and Ack. It returns the final
// status (Committed or Aborted). Run is safe to call again for a
// CrossShardTx recovered from a durable record after a coordinator
// crash: each phase's actions are idempotent given the record's current
// status.
func (c *Coordinator) Run(ctx context.Context, cst *CrossShardTx) (CrossShardStatus, error) {
	if cst.Status() == CSPending {
		if err := c.prepare(ctx, cst); err != nil {
			return cst.Status(), err
		}
	}

	status := cst.Status()
	if status == CSPending || status == CSPrepared {
		// All targets prepared (prepare() has moved us to CSPrepared):
		// persist the Commit decision before acting on it. If it cannot
		// be persisted, nothing is delivered and the error is returned.
		if err := c.persistDecision(ctx, cst, CSCommitted); err != nil {
			return cst.Status(), err
		}
		cst.transition(CSCommitted)
	}

	c.ackAll(ctx, cst)
	return cst.Status(), nil
}

func (c *Coordinator) prepare(ctx context.Context, cst *CrossShardTx) error {
	prepareCtx, cancel := context.WithTimeout(ctx, c.prepareTimeout)
	defer cancel()

	failed := false
	for _, target := range cst.Targets {
		p := c.participants(target)
		vote, err := p.Prepare(prepareCtx, cst.Tx)
		if err != nil || vote == PrepareFail {
			failed = true
			c.logger.Warn("2pc prepare failed",
				zap.String("tx", cst.Id().String()),
				zap.Int32("target", int32(target)),
				zap.Error(err))
			break
		}
		cst.recordPrepareOk(target)
	}

	if prepareCtx.Err() != nil {
		failed = true
	}

	if failed {
		if err := c.persistDecision(ctx, cst, CSAborted); err != nil {
			return err
		}
		cst.transition(CSAborted)
		c.abortAll(ctx, cst)
		return engineerr.New(engineerr.KindPrepareFail, "target rejected or timed out")
	}

	cst.transition(CSPrepared)
	return nil
}

func (c *Coordinator) abortAll(ctx context.Context, cst *CrossShardTx) {
	for _, target := range cst.Targets {
		p := c.participants(target)
		if err := p.Abort(ctx, cst.Id()); err != nil {
			c.logger.Warn("2pc abort delivery failed", zap.Int32("target", int32(target)), zap.Error(err))
			continue
		}
		cst.recordAck(target)
	}
}

// ackAll drives the ack phase, retrying unacked targets with capped
// exponential backoff, per spec.md §4.4's ack-phase retry rule.
func (c *Coordinator) ackAll(ctx context.Context, cst *CrossShardTx) {
	status := cst.Status()
	deliver := func(p Participant, target dag.ShardId) error {
		switch status {
		case CSCommitted:
			return p.Commit(ctx, cst.Id())
		case CSAborted:
			return p.Abort(ctx, cst.Id())
		default:
			return nil
		}
	}

	for _, target := range cst.unacked() {
		p := c.participants(target)
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 5 * time.Second
		_ = backoff.Retry(func() error {
			if err := deliver(p, target); err != nil {
				return err
			}
			cst.recordAck(target)
			return nil
		}, backoff.WithContext(bo, ctx))
	}
}

func (c *Coordinator) persistDecision(ctx context.Context, cst *CrossShardTx, status CrossShardStatus) error {
	rec := decisionRecord{
		Tx:      cst.Tx,
		Status:  status,
		Source:  cst.Source,
		Targets: cst.Targets,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return engineerr.Wrap(engineerr.KindInvalidTransaction, err, "marshal decision record")
	}
	return storage.WithRetry(ctx, func() error {
		err := c.store.Put(ctx, storage.CFMetadata, decisionKey(cst.Id()), data)
		if err != nil {
			return engineerr.Wrap(engineerr.KindStorageUnavailable, err, "persist 2pc decision")
		}
		return nil
	})
}

// Recover reads a durable decision record back, for a coordinator
// restarting mid-protocol (spec.md §4.4 failure semantics: "on restart,
// re-reads in-flight CrossShardTx records and re-drives the protocol
// from their last durable state").
func (c *Coordinator) Recover(ctx context.Context, id txid.TxId) (*CrossShardTx, error) {
	data, err := c.store.Get(ctx, storage.CFMetadata, decisionKey(id))
	if err != nil {
		return nil, err
	}
	var rec decisionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, engineerr.Wrap(engineerr.KindStorageCorrupt, err, "decode decision record")
	}
	cst := NewCrossShardTx(rec.Tx, rec.Source, rec.Targets)
	cst.status = rec.Status
	return cst, nil
}
