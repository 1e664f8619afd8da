package model

import "time"

// AggregateResult is the unit stored in the cache and returned to callers.
// The sum of Rankings[*].Count always equals len(Transfers).
type AggregateResult struct {
	Balance   TokenAmount          `json:"balance"`
	Transfers []TransferRecord     `json:"transfers"`
	Rankings  []ContributorRanking `json:"rankings"`
	Cached    bool                 `json:"cached"`
	CachedAt  time.Time            `json:"cachedAt"`
}

// RankedCount returns the total of all contributor counts.
func (r *AggregateResult) RankedCount() int {
	total := 0
	for _, ranking := range r.Rankings {
		total += ranking.Count
	}
	return total
}
