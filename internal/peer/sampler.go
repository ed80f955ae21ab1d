// Package peer implements the PeerSampler collaborator (C7): uniform
// peer sampling without replacement and the vote-query RPC the
// Avalanche engine drives. The transport is opaque; HTTPSampler and
// InMemorySampler are the two implementations a deployment chooses
// between.
//
// Adapted from the teacher's internal/cluster package (PostJSON/GetJSON
// helpers, a mutex-guarded peer list) generalized from "coordinator
// talks to shard nodes" into "engine samples voting peers".
package peer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/dreamware/shardledger/internal/dag"
	"github.com/dreamware/shardledger/internal/txid"
)

// Vote is a peer's reply to a vote query.
type Vote int

const (
	VoteReject Vote = iota
	VoteAccept
	VoteTimeout
	VoteUnreachable
)

func (v Vote) String() string {
	switch v {
	case VoteAccept:
		return "Accept"
	case VoteReject:
		return "Reject"
	case VoteTimeout:
		return "Timeout"
	case VoteUnreachable:
		return "Unreachable"
	default:
		return "Unknown"
	}
}

// Handle identifies a peer. Transport-agnostic: an HTTP base URL, a
// node id, whatever the deployment's transport needs to route to it.
type Handle string

// Sampler is the PeerSampler contract from spec.md §4.7.
type Sampler interface {
	// SampleUniform draws up to k peers without replacement from the
	// currently live set.
	SampleUniform(k int) []Handle
	// Query asks peer to vote on tx, honoring timeout.
	Query(ctx context.Context, peer Handle, tx dag.Transaction, timeout time.Duration) Vote
	// UpdatePeers atomically replaces the live peer set.
	UpdatePeers(peers []Handle)
}

// InMemorySampler is an in-process test harness: peers are Voter
// closures rather than network endpoints, and SampleUniform shuffles
// without replacement using math/rand.
type InMemorySampler struct {
	mu    sync.RWMutex
	peers []Handle
	voter map[Handle]Voter
	rnd   *rand.Rand
}

// Voter answers a vote query for a single in-process peer, used by
// InMemorySampler in tests and simulations.
type Voter func(ctx context.Context, tx dag.Transaction) Vote

// NewInMemorySampler constructs a sampler with no peers registered.
func NewInMemorySampler(seed int64) *InMemorySampler {
	return &InMemorySampler{
		voter: make(map[Handle]Voter),
		rnd:   rand.New(rand.NewSource(seed)),
	}
}

// Register adds or replaces a peer's Voter.
func (s *InMemorySampler) Register(h Handle, v Voter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.voter[h]; !exists {
		s.peers = append(s.peers, h)
	}
	s.voter[h] = v
}

func (s *InMemorySampler) SampleUniform(k int) []Handle {
	s.mu.RLock()
	all := append([]Handle(nil), s.peers...)
	s.mu.RUnlock()

	s.mu.Lock()
	s.rnd.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	s.mu.Unlock()

	if k > len(all) {
		k = len(all)
	}
	return all[:k]
}

func (s *InMemorySampler) Query(ctx context.Context, h Handle, tx dag.Transaction, timeout time.Duration) Vote {
	s.mu.RLock()
	v, ok := s.voter[h]
	s.mu.RUnlock()
	if !ok {
		return VoteUnreachable
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan Vote, 1)
	go func() { result <- v(qctx, tx) }()

	select {
	case vote := <-result:
		return vote
	case <-qctx.Done():
		return VoteTimeout
	}
}

func (s *InMemorySampler) UpdatePeers(peers []Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = append([]Handle(nil), peers...)
}

// LocalVoter builds a Voter out of the vote-query decision chain spec.md
// §4.5 describes for a peer backed by an in-process ledger: unknown tx
// rejects, a Confirmed or Rejected local status short-circuits, otherwise
// validate and defer metastability resolution to resolver.
func LocalVoter(ledger voterLedger, resolver func(tx dag.Transaction) Vote) Voter {
	return func(_ context.Context, tx dag.Transaction) Vote {
		local, ok := ledger.Get(tx.Id)
		if !ok {
			return VoteReject
		}
		switch local.Status {
		case dag.Confirmed:
			return VoteAccept
		case dag.Rejected:
			return VoteReject
		}
		if err := ledger.Analyzer().Validate(local); err != nil {
			return VoteReject
		}
		return resolver(local)
	}
}

// voterLedger is the minimal slice of *dag.Ledger's surface LocalVoter
// needs, kept narrow so tests can supply a fake.
type voterLedger interface {
	Get(id txid.TxId) (dag.Transaction, bool)
	Analyzer() dag.PayloadAnalyzer
}
