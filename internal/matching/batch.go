package matching

import "github.com/spigell/grant-matcher/internal/funding"

// Partition splits candidates into consecutive batches of at most size
// sources. Concatenating the batches yields the candidates in order.
func Partition(candidates []Candidate, size int) [][]funding.Source {
	if size <= 0 {
		size = DefaultBatchSize
	}

	batches := make([][]funding.Source, 0, (len(candidates)+size-1)/size)
	for start := 0; start < len(candidates); start += size {
		end := min(start+size, len(candidates))
		batch := make([]funding.Source, 0, end-start)
		for _, c := range candidates[start:end] {
			batch = append(batch, c.Source)
		}
		batches = append(batches, batch)
	}
	return batches
}
