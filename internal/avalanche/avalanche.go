// Package avalanche implements the repeated-sampling consensus engine
// (C5): bounded rounds of concurrent vote queries, confidence
// accumulation, and the metastability-resolving vote-query decision
// chain from spec.md §4.5.
//
// The round-execution shape (dedicated bounded fan-out, wait for all,
// then decide) has no direct analogue in the teacher, which never
// models distributed voting; it is grounded instead on the erigon
// dependency golang.org/x/sync's errgroup+semaphore pattern for
// bounded concurrent fan-out, combined with the teacher's RWMutex/
// atomic-counter bookkeeping style used throughout internal/shard.
package avalanche

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dreamware/shardledger/internal/dag"
	"github.com/dreamware/shardledger/internal/engineerr"
	"github.com/dreamware/shardledger/internal/peer"
	"github.com/dreamware/shardledger/internal/txid"
)

// Config holds the Avalanche engine's tunable parameters, all with the
// spec.md §6 defaults.
type Config struct {
	SampleSize  int           // k, default 20
	Threshold   float64       // alpha, default 0.8
	MaxRounds   int           // beta, default 10
	VoteTimeout time.Duration // default 5s
	// MaxConcurrentQueries bounds how many vote queries within a single
	// round run at once; defaults to SampleSize (fully parallel) if 0.
	MaxConcurrentQueries int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		SampleSize:  20,
		Threshold:   0.8,
		MaxRounds:   10,
		VoteTimeout: 5 * time.Second,
	}
}

// Ledger is the slice of *dag.Ledger the engine needs: read access,
// conflict lookup for resolve_metastability, and confirmed-parent
// counting for the priority tuple.
type Ledger interface {
	Get(id txid.TxId) (dag.Transaction, bool)
	Conflicts(tx dag.Transaction) []dag.Transaction
	Analyzer() dag.PayloadAnalyzer
	ConfirmedParentCount(id txid.TxId) int
}

// roundState tracks the commutative accept/reject tallies threaded
// through a transaction's bounded voting rounds. Ported from the
// confidence bookkeeping in the original Rust source's
// crates/consensus/src/avalanche.rs and src/core/avalanche/voting.rs:
// round tallies accumulate independent of arrival order and are only
// inspected at round boundaries.
type roundState struct {
	accept int
	reject int
}

func (r roundState) acceptRatio() float64 {
	total := r.accept + r.reject
	if total == 0 {
		return 0
	}
	return float64(r.accept) / float64(total)
}

func (r roundState) rejectRatio() float64 {
	total := r.accept + r.reject
	if total == 0 {
		return 0
	}
	return float64(r.reject) / float64(total)
}

// answerCache memoizes LocalVoter-style answers keyed by (TxId,
// localStatus) so that repeated identical-state queries (the §4.5
// idempotence requirement) don't redo conflict-set computation.
type answerCacheKey struct {
	id     txid.TxId
	status dag.Status
}

// Engine runs Avalanche voting rounds for transactions in a Ledger,
// sampling peers through a peer.Sampler.
type Engine struct {
	ledger  Ledger
	sampler peer.Sampler
	cfg     Config
	cache   *lru.Cache[answerCacheKey, peer.Vote]
}

// NewEngine constructs an Engine. cacheSize bounds the idempotent-answer
// LRU; 0 disables caching.
func NewEngine(ledger Ledger, sampler peer.Sampler, cfg Config, cacheSize int) (*Engine, error) {
	if cfg.MaxConcurrentQueries == 0 {
		cfg.MaxConcurrentQueries = cfg.SampleSize
	}
	var cache *lru.Cache[answerCacheKey, peer.Vote]
	if cacheSize > 0 {
		c, err := lru.New[answerCacheKey, peer.Vote](cacheSize)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.KindUnknown, err, "build answer cache")
		}
		cache = c
	}
	return &Engine{ledger: ledger, sampler: sampler, cfg: cfg, cache: cache}, nil
}

// Run executes bounded Avalanche rounds for tx and returns its final
// status: Confirmed, Rejected, or Conflicting if no threshold is
// reached within MaxRounds. ctx cancellation is honored between (not
// within) rounds, per spec.md §5.
func (e *Engine) Run(ctx context.Context, tx dag.Transaction) (dag.Status, error) {
	state := roundState{}

	for round := 1; round <= e.cfg.MaxRounds; round++ {
		if ctx.Err() != nil {
			return dag.Conflicting, engineerr.Wrap(engineerr.KindCancelled, ctx.Err(), "avalanche cancelled")
		}

		if cur, ok := e.ledger.Get(tx.Id); ok && cur.Status.Terminal() {
			// Another path (e.g. a committed cross-shard bundle) already
			// finalized tx; stop voting and discard this round.
			return cur.Status, nil
		}

		peers := e.sampler.SampleUniform(e.cfg.SampleSize)
		votes, err := e.runRound(ctx, tx, peers)
		if err != nil {
			return dag.Conflicting, err
		}

		for _, v := range votes {
			switch v {
			case peer.VoteAccept:
				state.accept++
			default:
				state.reject++
			}
		}

		if state.acceptRatio() >= e.cfg.Threshold {
			return dag.Confirmed, nil
		}
		if state.rejectRatio() >= e.cfg.Threshold {
			return dag.Rejected, nil
		}
	}

	return dag.Conflicting, nil
}

// runRound fans out one round's vote queries, bounded to
// MaxConcurrentQueries concurrent in-flight RPCs, and waits for all of
// them to complete before returning — the memory barrier spec.md §5
// requires between rounds.
func (e *Engine) runRound(ctx context.Context, tx dag.Transaction, peers []peer.Handle) ([]peer.Vote, error) {
	votes := make([]peer.Vote, len(peers))
	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrentQueries))
	g, gctx := errgroup.WithContext(ctx)

	for i, p := range peers {
		i, p := i, p
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			votes[i] = e.sampler.Query(gctx, p, tx, e.cfg.VoteTimeout)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, engineerr.Wrap(engineerr.KindCancelled, err, "avalanche round")
	}
	return votes, nil
}

// VoteQuery implements the local decision chain from spec.md §4.5 for a
// peer answering about tx using its own ledger view: unknown locally ->
// Reject, a local Confirmed or Rejected status short-circuits, otherwise
// (Pending or Conflicting) validate then resolve metastability. Exposed so a Sampler implementation (e.g.
// peer.HTTPSampler's server side, not modeled here) can reuse the exact
// same decision logic this engine uses against its own ledger.
func (e *Engine) VoteQuery(tx dag.Transaction) peer.Vote {
	local, ok := e.ledger.Get(tx.Id)
	if !ok {
		return peer.VoteReject
	}

	key := answerCacheKey{id: tx.Id, status: local.Status}
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			return v
		}
	}

	vote := e.voteQueryUncached(local)
	if e.cache != nil {
		e.cache.Add(key, vote)
	}
	return vote
}

func (e *Engine) voteQueryUncached(local dag.Transaction) peer.Vote {
	switch local.Status {
	case dag.Confirmed:
		return peer.VoteAccept
	case dag.Rejected:
		return peer.VoteReject
	}

	if err := e.ledger.Analyzer().Validate(local); err != nil {
		return peer.VoteReject
	}

	return e.resolveMetastability(local)
}

// resolveMetastability implements spec.md §4.5's priority-tuple and
// deterministic-tiebreak rule.
func (e *Engine) resolveMetastability(tx dag.Transaction) peer.Vote {
	conflicts := e.ledger.Conflicts(tx)
	if len(conflicts) == 0 {
		return peer.VoteAccept
	}

	better, worse := 0, 0
	for _, c := range conflicts {
		switch e.comparePriority(tx, c) {
		case priorityBetter:
			better++
		case priorityWorse:
			worse++
		}
	}

	if worse == 0 && better > 0 {
		return peer.VoteAccept
	}
	if better == 0 && worse > 0 {
		return peer.VoteReject
	}

	// Tied: fall back to local confidence, then the deterministic
	// lexicographic tiebreak over tx.Id vs every conflicting tx's id.
	// The engine has no standing local confidence figure of its own
	// outside of an in-flight Run call, so the id tiebreak is the
	// practical default here.
	for _, c := range conflicts {
		if !tx.Id.Less(c.Id) {
			return peer.VoteReject
		}
	}
	return peer.VoteAccept
}

type priorityOutcome int

const (
	priorityTied priorityOutcome = iota
	priorityBetter
	priorityWorse
)

// comparePriority implements the tuple (lower_timestamp, higher_fee,
// more_confirmed_parents) compared lexicographically, per spec.md §4.5.
func (e *Engine) comparePriority(a, b dag.Transaction) priorityOutcome {
	if a.Timestamp.Before(b.Timestamp) {
		return priorityBetter
	}
	if a.Timestamp.After(b.Timestamp) {
		return priorityWorse
	}

	analyzer := e.ledger.Analyzer()
	aFee, bFee := analyzer.Fee(a.Payload), analyzer.Fee(b.Payload)
	if cmp := aFee.Cmp(bFee); cmp > 0 {
		return priorityBetter
	} else if cmp < 0 {
		return priorityWorse
	}

	aParents := e.ledger.ConfirmedParentCount(a.Id)
	bParents := e.ledger.ConfirmedParentCount(b.Id)
	if aParents > bParents {
		return priorityBetter
	}
	if aParents < bParents {
		return priorityWorse
	}
	return priorityTied
}
