package search

import (
	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/domain/search/candidate"
)

// rerankMMR applies Maximal Marginal Relevance over a fused candidate pool:
//
//	mmr(d) = lambda * relevance(d) - (1-lambda) * max_sim(d, selected)
//
// Relevance is the fused score min/max-normalized over the pool, so lambda
// weighs comparable quantities. The pool must arrive sorted by fused score;
// the top candidate seeds the selection, and score ties are resolved by
// pool position, which makes lambda=1 reduce exactly to the fused order.
// embOf returns a product embedding or nil; products without embeddings
// contribute zero similarity and so are never penalized for diversity.
//
// A pool no larger than limit is returned unchanged: there is nothing to
// diversify away.
func rerankMMR(
	pool []candidate.Candidate,
	embOf func(id string) []float32,
	lambda float64,
	limit int,
) []candidate.Candidate {
	if len(pool) <= limit {
		return pool
	}

	relevance := normalizeFused(pool)

	selected := make([]candidate.Candidate, 0, limit)
	selectedEmb := make([][]float32, 0, limit)
	remaining := make([]int, 0, len(pool)-1)

	// Seed with the top fused candidate.
	seed := pool[0]
	seed.MMR = lambda * relevance[0]
	selected = append(selected, seed)
	selectedEmb = append(selectedEmb, embOf(seed.ID))
	for i := 1; i < len(pool); i++ {
		remaining = append(remaining, i)
	}

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := -1
		bestScore := 0.0

		for ri, pi := range remaining {
			// True max over comparable pairs: negative similarity rewards
			// anti-similar candidates instead of being clamped to zero.
			// Products without embeddings stay at 0 and are never penalized.
			maxSim := 0.0
			emb := embOf(pool[pi].ID)
			if emb != nil {
				compared := false
				for _, se := range selectedEmb {
					if se == nil {
						continue
					}
					sim := domain.CosineSimilarity(emb, se)
					if !compared || sim > maxSim {
						maxSim = sim
						compared = true
					}
				}
			}
			score := lambda*relevance[pi] - (1-lambda)*maxSim
			// Strict comparison keeps the earliest (highest fused) candidate on ties.
			if bestIdx == -1 || score > bestScore {
				bestIdx = ri
				bestScore = score
			}
		}

		pi := remaining[bestIdx]
		chosen := pool[pi]
		chosen.MMR = bestScore
		selected = append(selected, chosen)
		selectedEmb = append(selectedEmb, embOf(chosen.ID))
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

// normalizeFused maps fused scores onto [0,1] over the pool. A pool with a
// single distinct score normalizes to all-ones.
func normalizeFused(pool []candidate.Candidate) []float64 {
	minF, maxF := pool[0].Fused, pool[0].Fused
	for _, c := range pool[1:] {
		if c.Fused < minF {
			minF = c.Fused
		}
		if c.Fused > maxF {
			maxF = c.Fused
		}
	}

	rel := make([]float64, len(pool))
	if maxF == minF {
		for i := range rel {
			rel[i] = 1
		}
		return rel
	}
	for i, c := range pool {
		rel[i] = (c.Fused - minF) / (maxF - minF)
	}
	return rel
}
