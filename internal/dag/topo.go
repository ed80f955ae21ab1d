package dag

import (
	"github.com/dreamware/shardledger/internal/txid"
)

// TopoOptions configures TopologicalOrder. Decided Open Question
// (SPEC_FULL.md §9): by default only Confirmed transactions are
// included; IncludePending widens that to also include Pending
// transactions whose parents are already Confirmed (the pending
// frontier), which callers like ParallelExecutable build on.
type TopoOptions struct {
	// FromTips restricts the traversal to ancestors of the given tips.
	// A nil/empty slice means "the whole DAG".
	FromTips []txid.TxId
	// IncludePending widens inclusion beyond Confirmed transactions.
	IncludePending bool
}

// TopologicalOrder returns transactions in a stable topological order
// (Kahn's algorithm, ties broken by ascending TxId so that repeated
// calls against a fixed DAG are byte-for-byte identical).
func (l *Ledger) TopologicalOrder(opts TopoOptions) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	include := func(n *DagNode) bool {
		if n.Tx.Status == Confirmed {
			return true
		}
		return opts.IncludePending && n.Tx.Status == Pending
	}

	var universe map[txid.TxId]struct{}
	if len(opts.FromTips) > 0 {
		universe = make(map[txid.TxId]struct{})
		var walk func(id txid.TxId)
		walk = func(id txid.TxId) {
			if _, seen := universe[id]; seen {
				return
			}
			n, ok := l.nodes[id]
			if !ok || !include(n) {
				return
			}
			universe[id] = struct{}{}
			for _, p := range n.Tx.Parents {
				walk(p)
			}
		}
		for _, tip := range opts.FromTips {
			walk(tip)
		}
	}

	inDegree := make(map[txid.TxId]int)
	for id, n := range l.nodes {
		if !include(n) {
			continue
		}
		if universe != nil {
			if _, ok := universe[id]; !ok {
				continue
			}
		}
		count := 0
		for _, p := range n.Tx.Parents {
			pn, ok := l.nodes[p]
			if !ok || !include(pn) {
				continue
			}
			if universe != nil {
				if _, ok := universe[p]; !ok {
					continue
				}
			}
			count++
		}
		inDegree[id] = count
	}

	childrenOf := func(id txid.TxId) []txid.TxId {
		n := l.nodes[id]
		var out []txid.TxId
		for c := range n.Children {
			if _, ok := inDegree[c]; ok {
				out = append(out, c)
			}
		}
		txid.SortSlice(out)
		return out
	}

	var ready []txid.TxId
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	txid.SortSlice(ready)

	var order []Transaction
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, l.nodes[id].Tx)

		var newlyReady []txid.TxId
		for _, c := range childrenOf(id) {
			inDegree[c]--
			if inDegree[c] == 0 {
				newlyReady = append(newlyReady, c)
			}
		}
		txid.SortSlice(newlyReady)
		ready = mergeSorted(ready, newlyReady)
	}

	return order
}

// mergeSorted merges two already-sorted TxId-ordered slices of
// Transaction-identifying ids, preserving the stable-order contract of
// TopologicalOrder.
func mergeSorted(a, b []txid.TxId) []txid.TxId {
	if len(b) == 0 {
		return a
	}
	out := make([]txid.TxId, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Less(b[j]) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
