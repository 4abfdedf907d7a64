// Package vector provides dense-embedding nearest-neighbor retrieval.
// The index is an immutable flat (exact) index built per catalog snapshot;
// at catalog scale a brute-force scan beats the bookkeeping cost of an
// approximate structure and keeps retrieval fully deterministic.
package vector

import (
	"sort"

	"github.com/cartfox/shelfsearch/internal/domain"
)

// Entry is one indexable embedding with its insertion sequence.
type Entry struct {
	ID        string
	Seq       uint64
	Embedding []float32
}

// Hit is a ranked retrieval result.
type Hit struct {
	ID    string
	Score float64
}

// Index holds per-product embeddings. Products that failed embedding
// computation are absent; they are excluded here, not silently zeroed.
type Index struct {
	entries []Entry
	byID    map[string]int
}

// Build creates an index from the given entries. Entries with empty
// embeddings are rejected from the index.
func Build(entries []Entry) *Index {
	ix := &Index{byID: make(map[string]int, len(entries))}
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		ix.byID[e.ID] = len(ix.entries)
		ix.entries = append(ix.entries, e)
	}
	return ix
}

// Count returns the number of indexed embeddings.
func (ix *Index) Count() int { return len(ix.entries) }

// Embedding returns the stored embedding for a product, nil if absent.
func (ix *Index) Embedding(id string) []float32 {
	i, ok := ix.byID[id]
	if !ok {
		return nil
	}
	return ix.entries[i].Embedding
}

// Retrieve ranks indexed products by descending cosine similarity to the
// query embedding, returning at most k hits. Ties are broken by insertion
// order. allowed restricts candidates before ranking; nil means no
// restriction.
func (ix *Index) Retrieve(query []float32, k int, allowed func(id string) bool) []Hit {
	if len(ix.entries) == 0 || len(query) == 0 || k <= 0 {
		return nil
	}

	type scored struct {
		hit Hit
		seq uint64
	}
	hits := make([]scored, 0, len(ix.entries))
	for _, e := range ix.entries {
		if allowed != nil && !allowed(e.ID) {
			continue
		}
		hits = append(hits, scored{
			hit: Hit{ID: e.ID, Score: domain.CosineSimilarity(query, e.Embedding)},
			seq: e.Seq,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].hit.Score != hits[j].hit.Score {
			return hits[i].hit.Score > hits[j].hit.Score
		}
		return hits[i].seq < hits[j].seq
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = h.hit
	}
	return out
}
