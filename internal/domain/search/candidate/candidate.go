// Package candidate holds the transient per-query retrieval state. A
// candidate exists only for the lifetime of one search call and is never
// persisted or cached across queries.
package candidate

import "github.com/cartfox/shelfsearch/internal/domain/rank"

// Candidate is one product in the fusion/diversification pipeline.
type Candidate struct {
	ID      string
	Lexical rank.Rank // position in the lexical ranking, if any
	Vector  rank.Rank // position in the vector ranking, if any
	Fused   float64   // RRF score
	MMR     float64   // MMR score, set only for selected candidates
}

// Less orders candidates by descending fused score with the deterministic
// tie-break chain: lower lexical rank, lower vector rank, then id.
func Less(a, b Candidate) bool {
	if a.Fused != b.Fused {
		return a.Fused > b.Fused
	}
	if a.Lexical != b.Lexical {
		return a.Lexical.Before(b.Lexical)
	}
	if a.Vector != b.Vector {
		return a.Vector.Before(b.Vector)
	}
	return a.ID < b.ID
}
