package search

import (
	"sort"

	"github.com/cartfox/shelfsearch/internal/domain/rank"
	"github.com/cartfox/shelfsearch/internal/domain/search/candidate"
	"github.com/cartfox/shelfsearch/internal/index/lexical"
	"github.com/cartfox/shelfsearch/internal/index/vector"
)

// fuseRRF merges the lexical and vector rankings via weighted Reciprocal
// Rank Fusion (Cormack et al. 2009):
//
//	score(d) = alpha * 1/(k + lex_rank(d)) + (1-alpha) * 1/(k + vec_rank(d))
//
// A product absent from one ranking contributes 0 for that leg rather than
// a made-up bottom rank. The result is sorted by fused score with the
// deterministic tie-break chain from candidate.Less.
func fuseRRF(lexHits []lexical.Hit, vecHits []vector.Hit, alpha float64, kRRF int) []candidate.Candidate {
	merged := make(map[string]*candidate.Candidate, len(lexHits)+len(vecHits))

	for i, h := range lexHits {
		merged[h.ID] = &candidate.Candidate{
			ID:      h.ID,
			Lexical: rank.Of(i + 1),
			Vector:  rank.None(),
		}
	}

	for i, h := range vecHits {
		if c, ok := merged[h.ID]; ok {
			c.Vector = rank.Of(i + 1)
			continue
		}
		merged[h.ID] = &candidate.Candidate{
			ID:      h.ID,
			Lexical: rank.None(),
			Vector:  rank.Of(i + 1),
		}
	}

	fused := make([]candidate.Candidate, 0, len(merged))
	for _, c := range merged {
		c.Fused = alpha*c.Lexical.Reciprocal(kRRF) + (1-alpha)*c.Vector.Reciprocal(kRRF)
		fused = append(fused, *c)
	}

	sort.Slice(fused, func(i, j int) bool {
		return candidate.Less(fused[i], fused[j])
	})

	return fused
}
