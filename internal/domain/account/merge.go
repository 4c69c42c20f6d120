package account

// MergeAll merges account sequences into a single ordered collection.
//
// Sequences are consumed in argument order and each sequence keeps its own
// order. When an ID is reported more than once, only the last occurrence is
// kept, at its own position, so the later source wins and source grouping is
// never interleaved. Callers pass manual accounts before linked accounts.
func MergeAll(seqs ...[]Account) []Account {
	total := 0
	for _, seq := range seqs {
		total += len(seq)
	}

	// Flattened index of the last occurrence of every ID
	last := make(map[string]int, total)
	i := 0
	for _, seq := range seqs {
		for _, acc := range seq {
			last[acc.ID] = i
			i++
		}
	}

	merged := make([]Account, 0, len(last))
	i = 0
	for _, seq := range seqs {
		for _, acc := range seq {
			if last[acc.ID] == i {
				merged = append(merged, acc)
			}
			i++
		}
	}

	return merged
}
