package engine

import (
	"context"
	"testing"
	"time"

	"github.com/dreamware/shardledger/internal/avalanche"
	"github.com/dreamware/shardledger/internal/dag"
	"github.com/dreamware/shardledger/internal/peer"
	"github.com/dreamware/shardledger/internal/shardmgr"
	"github.com/dreamware/shardledger/internal/storage"
	"github.com/dreamware/shardledger/internal/txid"
)

// crossShardAnalyzer flags every transaction as touching multiple
// shards, to exercise Process's cross-shard branch deterministically.
type crossShardAnalyzer struct {
	dag.SenderPrefixAnalyzer
	cross bool
}

func (a crossShardAnalyzer) TouchesMultipleShards(dag.Transaction) bool { return a.cross }

func newTestEngine(t *testing.T, numShards int, cross bool) (*Engine, *dag.Ledger) {
	t.Helper()
	analyzer := crossShardAnalyzer{cross: cross}
	ledger := dag.NewLedger(analyzer)

	store := storage.NewMemoryStore()
	shardIDs := make([]dag.ShardId, numShards)
	for i := range shardIDs {
		shardIDs[i] = dag.ShardId(i)
	}
	shards := shardmgr.NewManager(shardIDs, store, nil, time.Second)

	sampler := peer.NewInMemorySampler(1)
	for i := 0; i < 5; i++ {
		h := peer.Handle(rune('a' + i))
		sampler.Register(h, func(context.Context, dag.Transaction) peer.Vote { return peer.VoteAccept })
	}

	avaCfg := avalanche.Config{SampleSize: 5, Threshold: 0.8, MaxRounds: 5, VoteTimeout: time.Second}
	ava, err := avalanche.NewEngine(ledger, sampler, avaCfg, 0)
	if err != nil {
		t.Fatal(err)
	}

	return New(ledger, ava, shards, store, nil, Config{MaxInflight: 10}), ledger
}

func TestProcessConfirmsASimpleSeed(t *testing.T) {
	eng, _ := newTestEngine(t, 1, false)
	tx := dag.New(nil, []byte("sender:a/seed"), time.Now())

	status, err := eng.Process(context.Background(), tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != dag.Confirmed {
		t.Fatalf("expected Confirmed, got %v", status)
	}
}

func TestProcessConfirmsAChainOfParents(t *testing.T) {
	eng, _ := newTestEngine(t, 1, false)

	seed := dag.New(nil, []byte("sender:a/seed"), time.Now())
	if status, err := eng.Process(context.Background(), seed); err != nil || status != dag.Confirmed {
		t.Fatalf("seed: status=%v err=%v", status, err)
	}

	child := dag.New([]txid.TxId{seed.Id}, []byte("sender:b/child"), time.Now())
	status, err := eng.Process(context.Background(), child)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != dag.Confirmed {
		t.Fatalf("expected child to confirm once its parent is Confirmed, got %v", status)
	}
}

func TestProcessOnDuplicateInsertReturnsOriginalStatus(t *testing.T) {
	eng, _ := newTestEngine(t, 1, false)
	tx := dag.New(nil, []byte("sender:a/seed"), time.Now())

	if status, err := eng.Process(context.Background(), tx); err != nil || status != dag.Confirmed {
		t.Fatalf("first process: status=%v err=%v", status, err)
	}

	status, err := eng.Process(context.Background(), tx)
	if status != dag.Confirmed {
		t.Errorf("expected the original terminal status Confirmed on a duplicate insert, got %v err=%v", status, err)
	}
}

func TestProcessHandlesCrossShardCommit(t *testing.T) {
	eng, _ := newTestEngine(t, 3, true)
	tx := dag.New(nil, []byte("sender:a/cross"), time.Now())

	status, err := eng.Process(context.Background(), tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != dag.Confirmed {
		t.Fatalf("expected Confirmed for a cross-shard commit, got %v", status)
	}
}

func TestProcessEnforcesMaxInflight(t *testing.T) {
	eng, _ := newTestEngine(t, 1, false)

	for i := 0; i < 10; i++ {
		if !eng.admission.TryAcquire(1) {
			t.Fatalf("expected to acquire slot %d", i)
		}
	}

	tx := dag.New(nil, []byte("sender:a/overflow"), time.Now())
	status, err := eng.Process(context.Background(), tx)
	if err == nil {
		t.Fatal("expected an error when admission is exhausted")
	}
	if status != dag.Pending {
		t.Errorf("expected Pending status on busy rejection, got %v", status)
	}
}

func TestMetricsSnapshotTracksOutcomes(t *testing.T) {
	eng, _ := newTestEngine(t, 1, false)
	tx := dag.New(nil, []byte("sender:a/seed"), time.Now())

	if _, err := eng.Process(context.Background(), tx); err != nil {
		t.Fatal(err)
	}

	snap := eng.Metrics().Snapshot()
	if snap.Processed != 1 {
		t.Errorf("expected 1 processed, got %v", snap.Processed)
	}
	if snap.Confirmed != 1 {
		t.Errorf("expected 1 confirmed, got %v", snap.Confirmed)
	}
}
