package shardmgr

import (
	"context"

	"github.com/dreamware/shardledger/internal/dag"
	"github.com/dreamware/shardledger/internal/txid"
)

// PrepareVote is a 2PC participant's reply to Prepare.
type PrepareVote int

const (
	PrepareOk PrepareVote = iota
	PrepareFail
)

// Participant is the per-shard endpoint the 2PC coordinator drives.
// The transport is opaque (spec.md §4.7 applies equally here): a
// Participant may be an in-process Shard (LocalParticipant) or a
// stand-in for a remote shard reached over whatever RPC mechanism a
// deployment chooses.
type Participant interface {
	// Prepare durably records "promised to commit" and reserves
	// resources for tx, replying PrepareOk or PrepareFail.
	Prepare(ctx context.Context, tx dag.Transaction) (PrepareVote, error)
	// Commit applies the commit decision for txID, durably.
	Commit(ctx context.Context, txID txid.TxId) error
	// Abort releases any reservation for txID.
	Abort(ctx context.Context, txID txid.TxId) error
}

// LocalParticipant adapts an in-process Shard into a Participant. It
// never fails Prepare on its own account (resource reservation is just
// a set-membership check); a deployment that wants to simulate
// participant failure injects that via a wrapping Participant in tests.
// Its reservations and commits live only in the wrapped Shard's
// in-memory sets; nothing is written to storage, so they do not survive
// a restart.
type LocalParticipant struct {
	shard *Shard
}

// NewLocalParticipant wraps shard as a Participant.
func NewLocalParticipant(shard *Shard) *LocalParticipant {
	return &LocalParticipant{shard: shard}
}

func (p *LocalParticipant) Prepare(_ context.Context, tx dag.Transaction) (PrepareVote, error) {
	p.shard.Reserve(tx.Id)
	return PrepareOk, nil
}

func (p *LocalParticipant) Commit(_ context.Context, txID txid.TxId) error {
	p.shard.RemovePending(txID)
	return nil
}

func (p *LocalParticipant) Abort(_ context.Context, txID txid.TxId) error {
	p.shard.Release(txID)
	p.shard.RemovePending(txID)
	return nil
}
