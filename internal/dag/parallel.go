package dag

// ParallelExecutable returns a maximal antichain of Pending transactions
// whose read/write sets don't intersect each other and whose parents
// are all Confirmed, capped at limit members. Decided Open Question
// (SPEC_FULL.md §9): this walks the pending frontier in topological
// order and greedily grows the antichain, rather than returning just
// the next limit-sized batch — so the result is maximal given that
// ordering, not an arbitrary prefix.
func (l *Ledger) ParallelExecutable(limit int) []Transaction {
	candidates := l.TopologicalOrder(TopoOptions{IncludePending: true})

	var pending []Transaction
	for _, tx := range candidates {
		if tx.Status == Pending && l.allParentsConfirmed(tx) {
			pending = append(pending, tx)
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var (
		chosen    []Transaction
		readSets  []map[string]struct{}
		writeSets []map[string]struct{}
	)

	for _, tx := range pending {
		if limit > 0 && len(chosen) >= limit {
			break
		}
		r := l.analyzer.ReadSet(tx.Payload)
		w := l.analyzer.WriteSet(tx.Payload)

		conflictsWithChosen := false
		for i := range chosen {
			if intersects(w, writeSets[i]) || intersects(w, readSets[i]) || intersects(writeSets[i], r) {
				conflictsWithChosen = true
				break
			}
		}
		if conflictsWithChosen {
			continue
		}
		chosen = append(chosen, tx)
		readSets = append(readSets, r)
		writeSets = append(writeSets, w)
	}

	return chosen
}

func (l *Ledger) allParentsConfirmed(tx Transaction) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, p := range tx.Parents {
		pn, ok := l.nodes[p]
		if !ok || pn.Tx.Status != Confirmed {
			return false
		}
	}
	return true
}
