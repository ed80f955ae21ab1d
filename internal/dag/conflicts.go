package dag

import (
	"strings"

	"github.com/holiman/uint256"
)

// Conflicts returns every currently-known transaction that directly
// conflicts with tx: write-sets intersect, or one's write-set
// intersects the other's read-set. Only transactions still in
// contention (Pending or Conflicting) are considered, since a Confirmed
// or Rejected transaction's conflict already resolved.
func (l *Ledger) Conflicts(tx Transaction) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	txRead := l.analyzer.ReadSet(tx.Payload)
	txWrite := l.analyzer.WriteSet(tx.Payload)

	var out []Transaction
	for id, n := range l.nodes {
		if id == tx.Id {
			continue
		}
		if n.Tx.Status != Pending && n.Tx.Status != Conflicting {
			continue
		}
		otherRead := l.analyzer.ReadSet(n.Tx.Payload)
		otherWrite := l.analyzer.WriteSet(n.Tx.Payload)

		if intersects(txWrite, otherWrite) || intersects(txWrite, otherRead) || intersects(otherWrite, txRead) {
			out = append(out, n.Tx)
		}
	}
	return out
}

func intersects(a, b map[string]struct{}) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for k := range small {
		if _, ok := big[k]; ok {
			return true
		}
	}
	return false
}

// SenderPrefixAnalyzer is the conservative fallback PayloadAnalyzer used
// when no domain-specific analyzer is injected. It treats the payload's
// leading "sender:" token (up to the first '/') as both the sole read
// and write key, so two transactions conflict iff they share a sender
// prefix.
//
// Guarantee: never misses a true conflict that a same-sender scheme
// could model, but is over-conservative — unrelated transactions from
// the same sender collide even when their actual read/write sets are
// disjoint.
type SenderPrefixAnalyzer struct{}

func (SenderPrefixAnalyzer) senderKey(payload []byte) string {
	s := string(payload)
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		return "sender:" + s[:idx]
	}
	return "sender:" + s
}

func (a SenderPrefixAnalyzer) ReadSet(payload []byte) map[string]struct{} {
	return map[string]struct{}{a.senderKey(payload): {}}
}

func (a SenderPrefixAnalyzer) WriteSet(payload []byte) map[string]struct{} {
	return map[string]struct{}{a.senderKey(payload): {}}
}

func (SenderPrefixAnalyzer) TouchesMultipleShards(Transaction) bool { return false }

func (SenderPrefixAnalyzer) Validate(Transaction) error { return nil }

// Fee always returns zero: the sender-prefix fallback has no concept of
// a fee field within an opaque payload.
func (SenderPrefixAnalyzer) Fee([]byte) *uint256.Int { return uint256.NewInt(0) }
