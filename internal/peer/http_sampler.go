package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/dreamware/shardledger/internal/dag"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// voteRequest/voteResponse are the JSON wire shapes HTTPSampler posts to
// a peer's vote endpoint. Adapted from the teacher's cluster.PostJSON
// request/response pattern.
type voteRequest struct {
	TxId      string   `json:"tx_id"`
	Payload   []byte   `json:"payload"`
	Parents   []string `json:"parents"`
	Shard     int32    `json:"shard"`
	Timestamp int64    `json:"timestamp"`
}

type voteResponse struct {
	Vote string `json:"vote"`
}

// HTTPSampler implements Sampler over plain HTTP POST, grounded on the
// teacher's cluster.PostJSON helper (shared *http.Client,
// context-deadline requests, non-2xx treated as failure). Peer liveness
// ("is this peer eligible for sampling") is updated from each Query's
// outcome: a failed query marks the peer down and a successful one
// marks it live again. Nothing polls peers in the background.
type HTTPSampler struct {
	mu    sync.RWMutex
	peers []Handle
	live  map[Handle]bool
	rnd   *rand.Rand
}

// NewHTTPSampler constructs a sampler with no peers registered.
func NewHTTPSampler(seed int64) *HTTPSampler {
	return &HTTPSampler{
		live: make(map[Handle]bool),
		rnd:  rand.New(rand.NewSource(seed)),
	}
}

func (s *HTTPSampler) UpdatePeers(peers []Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = append([]Handle(nil), peers...)
	for _, p := range peers {
		if _, ok := s.live[p]; !ok {
			s.live[p] = true
		}
	}
}

func (s *HTTPSampler) SampleUniform(k int) []Handle {
	s.mu.RLock()
	candidates := make([]Handle, 0, len(s.peers))
	for _, p := range s.peers {
		if s.live[p] {
			candidates = append(candidates, p)
		}
	}
	s.mu.RUnlock()

	s.mu.Lock()
	s.rnd.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	s.mu.Unlock()

	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k]
}

// Query sends a vote request to peer's /vote endpoint (peer is
// interpreted as a base URL, matching the teacher's convention of
// addressing nodes by "host:port"). Marks the peer live or down for
// future SampleUniform calls based on reachability, mirroring
// HealthMonitor's status bookkeeping.
func (s *HTTPSampler) Query(ctx context.Context, p Handle, tx dag.Transaction, timeout time.Duration) Vote {
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parents := make([]string, len(tx.Parents))
	for i, parentID := range tx.Parents {
		parents[i] = parentID.String()
	}
	req := voteRequest{
		TxId:      tx.Id.String(),
		Payload:   tx.Payload,
		Parents:   parents,
		Shard:     int32(tx.Shard),
		Timestamp: tx.Timestamp.UnixNano(),
	}

	var resp voteResponse
	err := postJSON(qctx, string(p)+"/vote", req, &resp)
	if err != nil {
		s.markLive(p, false)
		if qctx.Err() != nil {
			return VoteTimeout
		}
		return VoteUnreachable
	}
	s.markLive(p, true)

	switch resp.Vote {
	case "Accept":
		return VoteAccept
	default:
		return VoteReject
	}
}

func (s *HTTPSampler) markLive(p Handle, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[p] = ok
}

func postJSON(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
