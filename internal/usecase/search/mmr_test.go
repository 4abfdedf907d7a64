package search

import (
	"testing"

	"github.com/cartfox/shelfsearch/internal/domain/rank"
	"github.com/cartfox/shelfsearch/internal/domain/search/candidate"
)

func poolOf(idsAndScores ...any) []candidate.Candidate {
	pool := make([]candidate.Candidate, 0, len(idsAndScores)/2)
	for i := 0; i < len(idsAndScores); i += 2 {
		pool = append(pool, candidate.Candidate{
			ID:      idsAndScores[i].(string),
			Lexical: rank.Of(i/2 + 1),
			Fused:   idsAndScores[i+1].(float64),
		})
	}
	return pool
}

func embeddings(m map[string][]float32) func(string) []float32 {
	return func(id string) []float32 { return m[id] }
}

func selectedIDs(cands []candidate.Candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	return ids
}

func TestRerankMMR_PoolNotLargerThanLimitIsNoop(t *testing.T) {
	pool := poolOf("a", 0.5, "b", 0.4)
	got := rerankMMR(pool, embeddings(nil), 0.7, 2)

	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("expected unchanged pool, got %v", selectedIDs(got))
	}
}

func TestRerankMMR_SeedIsTopFused(t *testing.T) {
	pool := poolOf("a", 0.9, "b", 0.8, "c", 0.7)
	got := rerankMMR(pool, embeddings(nil), 0.7, 2)

	if got[0].ID != "a" {
		t.Errorf("selection must seed with the top fused candidate, got %s", got[0].ID)
	}
}

func TestRerankMMR_LambdaOneEqualsFusedOrder(t *testing.T) {
	pool := poolOf("a", 0.9, "b", 0.8, "c", 0.7, "d", 0.6, "e", 0.5)
	// Identical embeddings maximize the diversity penalty; lambda=1 must
	// ignore it entirely.
	same := []float32{1, 0}
	embs := embeddings(map[string][]float32{
		"a": same, "b": same, "c": same, "d": same, "e": same,
	})

	got := rerankMMR(pool, embs, 1.0, 3)

	want := []string{"a", "b", "c"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("lambda=1 must reduce to top-limit by fused score, got %v", selectedIDs(got))
		}
	}
}

func TestRerankMMR_PenalizesNearDuplicates(t *testing.T) {
	// "b" is nearly identical to the seed "a"; "c" is orthogonal. With a
	// meaningful diversity weight, "c" must displace "b".
	pool := poolOf("a", 0.9, "b", 0.85, "c", 0.8)
	embs := embeddings(map[string][]float32{
		"a": {1, 0},
		"b": {0.999, 0.04},
		"c": {0, 1},
	})

	got := rerankMMR(pool, embs, 0.5, 2)

	if got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("expected [a c], got %v", selectedIDs(got))
	}
}

func TestRerankMMR_MissingEmbeddingNotPenalized(t *testing.T) {
	// "b" has no embedding: its similarity to anything is 0, so it keeps
	// its full relevance and must be picked over the near-duplicate "c".
	pool := poolOf("a", 0.9, "c", 0.85, "b", 0.5)
	embs := embeddings(map[string][]float32{
		"a": {1, 0},
		"c": {1, 0},
	})

	got := rerankMMR(pool, embs, 0.5, 2)

	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("expected [a b], got %v", selectedIDs(got))
	}
}

func TestRerankMMR_AntiSimilarBeatsOrthogonal(t *testing.T) {
	// Relevance normalizes to a=1, b=0.8, c=0. At lambda=0.5 the
	// anti-similar c scores 0.5*0 - 0.5*(-1) = 0.5 against b's
	// 0.5*0.8 - 0.5*0 = 0.4; clamping negative similarity to zero would
	// flip the selection to b.
	pool := poolOf("a", 1.0, "b", 0.9, "c", 0.5)
	embs := embeddings(map[string][]float32{
		"a": {1, 0},
		"b": {0, 1},
		"c": {-1, 0},
	})

	got := selectedIDs(rerankMMR(pool, embs, 0.5, 2))
	want := []string{"a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRerankMMR_ScoreTieBreaksByPoolPosition(t *testing.T) {
	// All fused scores equal and no embeddings: every MMR score ties, so
	// the selection must follow pool order.
	pool := poolOf("c", 0.5, "a", 0.5, "b", 0.5)
	got := rerankMMR(pool, embeddings(nil), 0.7, 2)

	if got[0].ID != "c" || got[1].ID != "a" {
		t.Errorf("ties must resolve by pool position, got %v", selectedIDs(got))
	}
}

func TestRerankMMR_SelectsExactlyLimit(t *testing.T) {
	pool := poolOf("a", 0.9, "b", 0.8, "c", 0.7, "d", 0.6)
	got := rerankMMR(pool, embeddings(nil), 0.7, 3)

	if len(got) != 3 {
		t.Errorf("expected 3 selected, got %d", len(got))
	}
}

func TestNormalizeFused_ConstantPool(t *testing.T) {
	pool := poolOf("a", 0.5, "b", 0.5)
	rel := normalizeFused(pool)
	for i, r := range rel {
		if r != 1 {
			t.Errorf("rel[%d] = %v, want 1 for a constant pool", i, r)
		}
	}
}

func TestNormalizeFused_Range(t *testing.T) {
	pool := poolOf("a", 1.0, "b", 0.75, "c", 0.5)
	rel := normalizeFused(pool)
	if rel[0] != 1 || rel[2] != 0 {
		t.Errorf("expected endpoints 1 and 0, got %v and %v", rel[0], rel[2])
	}
	if rel[1] != 0.5 {
		t.Errorf("expected midpoint 0.5, got %v", rel[1])
	}
}
