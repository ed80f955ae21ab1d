package peer

import (
	"context"
	"testing"
	"time"

	"github.com/dreamware/shardledger/internal/dag"
	"github.com/dreamware/shardledger/internal/txid"
)

func TestInMemorySamplerSampleUniformRespectsK(t *testing.T) {
	s := NewInMemorySampler(1)
	for i := 0; i < 10; i++ {
		h := Handle(rune('a' + i))
		s.Register(h, func(context.Context, dag.Transaction) Vote { return VoteAccept })
	}

	sample := s.SampleUniform(3)
	if len(sample) != 3 {
		t.Fatalf("expected 3 peers, got %d", len(sample))
	}
	seen := make(map[Handle]bool)
	for _, h := range sample {
		if seen[h] {
			t.Errorf("expected sampling without replacement, got duplicate %s", h)
		}
		seen[h] = true
	}
}

func TestInMemorySamplerSampleUniformCapsAtPeerCount(t *testing.T) {
	s := NewInMemorySampler(1)
	s.Register("only", func(context.Context, dag.Transaction) Vote { return VoteAccept })

	sample := s.SampleUniform(10)
	if len(sample) != 1 {
		t.Fatalf("expected sample capped at 1 peer, got %d", len(sample))
	}
}

func TestInMemorySamplerQueryReturnsVoterAnswer(t *testing.T) {
	s := NewInMemorySampler(1)
	s.Register("p1", func(context.Context, dag.Transaction) Vote { return VoteAccept })

	vote := s.Query(context.Background(), "p1", dag.Transaction{}, time.Second)
	if vote != VoteAccept {
		t.Errorf("expected VoteAccept, got %v", vote)
	}
}

func TestInMemorySamplerQueryUnregisteredPeerUnreachable(t *testing.T) {
	s := NewInMemorySampler(1)
	vote := s.Query(context.Background(), "ghost", dag.Transaction{}, time.Second)
	if vote != VoteUnreachable {
		t.Errorf("expected VoteUnreachable for an unregistered peer, got %v", vote)
	}
}

func TestInMemorySamplerQueryTimesOut(t *testing.T) {
	s := NewInMemorySampler(1)
	s.Register("slow", func(ctx context.Context, _ dag.Transaction) Vote {
		<-ctx.Done()
		return VoteAccept
	})

	vote := s.Query(context.Background(), "slow", dag.Transaction{}, 10*time.Millisecond)
	if vote != VoteTimeout {
		t.Errorf("expected VoteTimeout, got %v", vote)
	}
}

func TestInMemorySamplerUpdatePeersReplacesSet(t *testing.T) {
	s := NewInMemorySampler(1)
	s.Register("old", func(context.Context, dag.Transaction) Vote { return VoteAccept })

	s.UpdatePeers([]Handle{"new1", "new2"})
	sample := s.SampleUniform(10)
	if len(sample) != 2 {
		t.Fatalf("expected 2 peers after UpdatePeers, got %d", len(sample))
	}
	for _, h := range sample {
		if h == "old" {
			t.Error("expected old peer to be gone after UpdatePeers")
		}
	}
}

func TestVoteString(t *testing.T) {
	cases := map[Vote]string{
		VoteAccept:      "Accept",
		VoteReject:      "Reject",
		VoteTimeout:     "Timeout",
		VoteUnreachable: "Unreachable",
	}
	for v, want := range cases {
		if got := v.String(); got != want {
			t.Errorf("String() for %d = %s, want %s", v, got, want)
		}
	}
}

// fakeVoterLedger satisfies the unexported voterLedger interface
// LocalVoter depends on, so tests can drive its decision chain without a
// real *dag.Ledger.
type fakeVoterLedger struct {
	tx       dag.Transaction
	ok       bool
	analyzer dag.PayloadAnalyzer
}

func (f fakeVoterLedger) Get(id txid.TxId) (dag.Transaction, bool) { return f.tx, f.ok }
func (f fakeVoterLedger) Analyzer() dag.PayloadAnalyzer            { return f.analyzer }

func TestLocalVoterRejectsUnknownTransaction(t *testing.T) {
	ledger := fakeVoterLedger{ok: false}
	voter := LocalVoter(ledger, func(dag.Transaction) Vote { return VoteAccept })
	vote := voter(context.Background(), dag.Transaction{})
	if vote != VoteReject {
		t.Errorf("expected VoteReject for an unknown tx, got %v", vote)
	}
}

func TestLocalVoterShortCircuitsOnTerminalStatus(t *testing.T) {
	confirmedLedger := fakeVoterLedger{ok: true, tx: dag.Transaction{Status: dag.Confirmed}}
	voter := LocalVoter(confirmedLedger, func(dag.Transaction) Vote { return VoteReject })
	if vote := voter(context.Background(), dag.Transaction{}); vote != VoteAccept {
		t.Errorf("expected VoteAccept short-circuit for a Confirmed local tx, got %v", vote)
	}

	rejectedLedger := fakeVoterLedger{ok: true, tx: dag.Transaction{Status: dag.Rejected}}
	voter = LocalVoter(rejectedLedger, func(dag.Transaction) Vote { return VoteAccept })
	if vote := voter(context.Background(), dag.Transaction{}); vote != VoteReject {
		t.Errorf("expected VoteReject short-circuit for a Rejected local tx, got %v", vote)
	}
}
