package ring

import (
	"testing"

	"github.com/dreamware/shardledger/internal/dag"
	"github.com/dreamware/shardledger/internal/txid"
	"pgregory.net/rapid"
)

func idAt(n byte) txid.TxId {
	var id txid.TxId
	id[0] = n
	id[1] = n >> 2
	id[31] = n * 7
	return id
}

func TestShardOfIsDeterministic(t *testing.T) {
	r := New(map[dag.ShardId]int{0: 1, 1: 1, 2: 1})
	id := idAt(42)
	first := r.ShardOf(id)
	for i := 0; i < 100; i++ {
		if got := r.ShardOf(id); got != first {
			t.Fatalf("expected stable assignment across reads, got %d then %d", first, got)
		}
	}
}

func TestShardOfDistributesAcrossAllShards(t *testing.T) {
	r := New(map[dag.ShardId]int{0: 1, 1: 1, 2: 1, 3: 1})
	seen := make(map[dag.ShardId]int)
	for i := 0; i < 5000; i++ {
		id := idAt(byte(i))
		seen[r.ShardOf(id)]++
	}
	for s := dag.ShardId(0); s < 4; s++ {
		if seen[s] == 0 {
			t.Errorf("shard %d received no keys out of 5000 samples", s)
		}
	}
}

func TestEpochIncrementsOnMutation(t *testing.T) {
	r := New(map[dag.ShardId]int{0: 1})
	start := r.Epoch()
	r.Add(1, 1)
	if r.Epoch() != start+1 {
		t.Errorf("expected epoch to increment after Add, got %d", r.Epoch())
	}
	r.Remove(1)
	if r.Epoch() != start+2 {
		t.Errorf("expected epoch to increment after Remove, got %d", r.Epoch())
	}
	r.Reweight(0, 5)
	if r.Epoch() != start+3 {
		t.Errorf("expected epoch to increment after Reweight, got %d", r.Epoch())
	}
}

func TestRemoveShardReassignsOnlyItsKeys(t *testing.T) {
	r := New(map[dag.ShardId]int{0: 1, 1: 1, 2: 1})
	const n = 2000

	before := make(map[txid.TxId]dag.ShardId, n)
	ids := make([]txid.TxId, n)
	for i := 0; i < n; i++ {
		ids[i] = idAt(byte(i % 256))
		ids[i][2] = byte(i / 256)
		before[ids[i]] = r.ShardOf(ids[i])
	}

	r.Remove(2)

	moved := 0
	movedAwayFromRemoved := 0
	for _, id := range ids {
		after := r.ShardOf(id)
		if after != before[id] {
			moved++
			if before[id] == 2 {
				movedAwayFromRemoved++
			}
		}
	}

	// Every key that was on the removed shard must move; no key that
	// wasn't should land on the now-absent shard 2.
	for _, id := range ids {
		if r.ShardOf(id) == 2 {
			t.Fatalf("key %s still maps to removed shard 2", id)
		}
	}
	if movedAwayFromRemoved == 0 {
		t.Error("expected at least some keys to have been on the removed shard")
	}
	if moved != movedAwayFromRemoved {
		t.Errorf("expected only keys from removed shard 2 to move, moved=%d, from shard 2=%d", moved, movedAwayFromRemoved)
	}
}

// TestAddShardDisplacesBoundedFraction checks the O(1/old_shard_count)
// reassignment bound (spec.md §8 testable property): adding one shard
// to a ring of n should not reassign more than roughly a 1/(n+1)
// fraction of keys, with slack for small-sample variance.
func TestAddShardDisplacesBoundedFraction(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		oldCount := rapid.IntRange(2, 8).Draw(rt, "oldCount")
		weights := make(map[dag.ShardId]int, oldCount)
		for i := 0; i < oldCount; i++ {
			weights[dag.ShardId(i)] = 1
		}
		r := New(weights)

		const n = 3000
		before := make([]dag.ShardId, n)
		ids := make([]txid.TxId, n)
		for i := 0; i < n; i++ {
			var id txid.TxId
			id[0] = byte(i)
			id[1] = byte(i >> 8)
			id[2] = byte(i >> 16)
			id[30] = byte(i * 31)
			ids[i] = id
			before[i] = r.ShardOf(id)
		}

		r.Add(dag.ShardId(oldCount), 1)

		moved := 0
		for i, id := range ids {
			if r.ShardOf(id) != before[i] {
				moved++
			}
		}

		fraction := float64(moved) / float64(n)
		// Expected fraction is roughly 1/(oldCount+1); allow generous
		// slack since this is a statistical bound, not exact.
		expected := 1.0 / float64(oldCount+1)
		if fraction > expected*4+0.05 {
			rt.Fatalf("displaced fraction %.3f far exceeds expected ~%.3f for oldCount=%d", fraction, expected, oldCount)
		}
	})
}

// TestRingBalanceWithinEpsilon checks the literal ring-balance property
// (spec.md §8): over N>=1e4 shard_of queries against S equal-weight
// shards, every shard's share of the samples falls within N/S*(1+-eps)
// for eps=0.05.
func TestRingBalanceWithinEpsilon(t *testing.T) {
	const (
		shardCount = 8
		n          = 20000
		eps        = 0.05
	)
	weights := make(map[dag.ShardId]int, shardCount)
	for i := 0; i < shardCount; i++ {
		weights[dag.ShardId(i)] = 1
	}
	r := New(weights)

	counts := make(map[dag.ShardId]int, shardCount)
	for i := 0; i < n; i++ {
		var id txid.TxId
		id[0] = byte(i)
		id[1] = byte(i >> 8)
		id[2] = byte(i >> 16)
		id[3] = byte(i >> 24)
		id[16] = byte(i * 37)
		id[31] = byte(i * 131)
		counts[r.ShardOf(id)]++
	}

	expected := float64(n) / float64(shardCount)
	low, high := expected*(1-eps), expected*(1+eps)
	for s := dag.ShardId(0); s < shardCount; s++ {
		got := float64(counts[s])
		if got < low || got > high {
			t.Errorf("shard %d received %d of %d samples, want within [%.0f, %.0f] (N/S=%.0f, eps=%.2f)",
				s, counts[s], n, low, high, expected, eps)
		}
	}
}

func TestShardsReflectsCurrentWeights(t *testing.T) {
	r := New(map[dag.ShardId]int{0: 1, 1: 2})
	shards := r.Shards()
	if shards[0] != 1 || shards[1] != 2 {
		t.Errorf("expected weights {0:1, 1:2}, got %v", shards)
	}
	r.Reweight(1, 5)
	if got := r.Shards()[1]; got != 5 {
		t.Errorf("expected reweighted shard 1 to report weight 5, got %d", got)
	}
}

func TestReweightToZeroRemovesShard(t *testing.T) {
	r := New(map[dag.ShardId]int{0: 1, 1: 1})
	r.Reweight(1, 0)
	if _, ok := r.Shards()[1]; ok {
		t.Error("expected reweighting to 0 to remove the shard")
	}
}

func TestShardOfOnEmptyRingReturnsZero(t *testing.T) {
	r := New(map[dag.ShardId]int{})
	if got := r.ShardOf(idAt(1)); got != 0 {
		t.Errorf("expected shard 0 as the degenerate default on an empty ring, got %d", got)
	}
}
