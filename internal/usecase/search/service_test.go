package search

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/domain/search/filter"
	"github.com/cartfox/shelfsearch/internal/domain/search/query"
	"github.com/cartfox/shelfsearch/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterSearchMetrics()
	os.Exit(m.Run())
}

// chairCatalog builds the canonical diversification fixture: three
// near-identical leather office chairs followed by a mesh and a fabric one.
// All titles carry the same query terms at the same term frequency, so the
// lexical ranking falls back to insertion order.
func chairCatalog(t *testing.T) []productSpec {
	t.Helper()
	return []productSpec{
		{id: "leather-1", title: "leather office chair", category: "chairs", price: 220,
			attrs: map[string]string{"material": "leather"}, emb: []float32{1, 0, 0}},
		{id: "leather-2", title: "leather office chair", category: "chairs", price: 240,
			attrs: map[string]string{"material": "leather"}, emb: []float32{0.9995, 0.03, 0}},
		{id: "leather-3", title: "leather office chair", category: "chairs", price: 260,
			attrs: map[string]string{"material": "leather"}, emb: []float32{0.999, 0.045, 0}},
		{id: "mesh-1", title: "mesh office chair", category: "chairs", price: 180,
			attrs: map[string]string{"material": "mesh"}, emb: []float32{0, 1, 0}},
		{id: "fabric-1", title: "fabric office chair", category: "chairs", price: 150,
			attrs: map[string]string{"material": "fabric"}, emb: []float32{0.3, 0.3, 0.9}},
	}
}

func chairEmbedder() *mockEmbedder {
	return &mockEmbedder{vectors: map[string][]float32{
		"office chair": {1, 0.01, 0},
	}}
}

func TestSearch_HybridRanksAcrossBothLegs(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	svc := newTestService(store, chairEmbedder())

	out, err := svc.Search(context.Background(), mustQuery(t, "office chair", 5, false, query.Overrides{}))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(out.Results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(out.Results))
	}
	if out.Degraded {
		t.Error("expected full hybrid search, got degraded")
	}
	if out.Results[0].ID() != "leather-1" {
		t.Errorf("expected leather-1 first (top of both legs), got %s", out.Results[0].ID())
	}
	for i := 1; i < len(out.Results); i++ {
		if out.Results[i].Score() > out.Results[i-1].Score() {
			t.Errorf("results not sorted by score at %d", i)
		}
	}
}

func TestSearch_WithoutMMR_TopResultsAreNearDuplicates(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	svc := newTestService(store, chairEmbedder())

	out, err := svc.Search(context.Background(), mustQuery(t, "office chair", 3, false, query.Overrides{}))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	for _, r := range out.Results {
		if r.Attributes()["material"] != "leather" {
			t.Fatalf("expected the undiversified top-3 to be all leather, got %v", resultIDs(out))
		}
	}
}

func TestSearch_MMRBreaksUpNearDuplicates(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	svc := newTestService(store, chairEmbedder())

	out, err := svc.Search(context.Background(), mustQuery(t, "office chair", 3, true, query.Overrides{}))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out.Results))
	}

	materials := map[string]bool{}
	for _, r := range out.Results {
		materials[r.Attributes()["material"]] = true
	}
	if len(materials) < 2 {
		t.Errorf("expected at least 2 distinct materials after diversification, got %v from %v",
			materials, resultIDs(out))
	}
	if out.Results[0].ID() != "leather-1" {
		t.Errorf("diversification must keep the top relevance seed, got %s", out.Results[0].ID())
	}
}

func TestSearch_LambdaOneMatchesFusedOrder(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	svc := newTestService(store, chairEmbedder())

	plain, err := svc.Search(context.Background(), mustQuery(t, "office chair", 3, false, query.Overrides{}))
	if err != nil {
		t.Fatalf("Search plain: %v", err)
	}
	diversified, err := svc.Search(context.Background(),
		mustQuery(t, "office chair", 3, true, query.Overrides{Lambda: floatPtr(1.0)}))
	if err != nil {
		t.Fatalf("Search lambda=1: %v", err)
	}

	plainIDs := resultIDs(plain)
	divIDs := resultIDs(diversified)
	for i := range plainIDs {
		if plainIDs[i] != divIDs[i] {
			t.Fatalf("lambda=1 must match the fused order: %v vs %v", divIDs, plainIDs)
		}
	}
}

func TestSearch_FiltersRestrictCandidates(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	svc := newTestService(store, chairEmbedder())

	filters := mustExpression(t, []filter.Condition{mustMatch(t, "material", "mesh")}, nil)
	out, err := svc.Search(context.Background(), mustFilteredQuery(t, "office chair", filters, 5, false))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(out.Results) != 1 || out.Results[0].ID() != "mesh-1" {
		t.Errorf("expected only mesh-1, got %v", resultIDs(out))
	}
}

func TestSearch_FiltersEliminateEverything(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	svc := newTestService(store, chairEmbedder())

	filters := mustExpression(t, []filter.Condition{mustMatch(t, "material", "marble")}, nil)
	out, err := svc.Search(context.Background(), mustFilteredQuery(t, "office chair", filters, 5, false))
	if err != nil {
		t.Fatalf("eliminating filters must not error: %v", err)
	}
	if len(out.Results) != 0 {
		t.Errorf("expected empty results, got %v", resultIDs(out))
	}
}

func TestSearch_MustNotExcludes(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	svc := newTestService(store, chairEmbedder())

	filters := mustExpression(t, nil, []filter.Condition{mustMatch(t, "material", "leather")})
	out, err := svc.Search(context.Background(), mustFilteredQuery(t, "office chair", filters, 5, false))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	for _, r := range out.Results {
		if r.Attributes()["material"] == "leather" {
			t.Errorf("must_not leather violated by %s", r.ID())
		}
	}
	if len(out.Results) != 2 {
		t.Errorf("expected mesh and fabric, got %v", resultIDs(out))
	}
}

func TestSearch_EmbedderFailureDegradesToLexical(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	emb := &mockEmbedder{err: errors.New("provider down")}
	svc := newTestService(store, emb)

	out, err := svc.Search(context.Background(), mustQuery(t, "mesh office chair", 5, false, query.Overrides{}))
	if err != nil {
		t.Fatalf("degraded search must not error: %v", err)
	}

	if !out.Degraded {
		t.Error("expected Degraded flag")
	}
	if len(out.Results) == 0 {
		t.Fatal("expected lexical-only results")
	}
	// Pure BM25: the mesh chair carries the extra query term.
	if out.Results[0].ID() != "mesh-1" {
		t.Errorf("expected mesh-1 first lexically, got %s", out.Results[0].ID())
	}
}

func TestSearch_EmbedderTimeoutDegrades(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	emb := chairEmbedder()
	emb.delay = 300 * time.Millisecond // budget in newTestService is 100ms
	svc := newTestService(store, emb)

	start := time.Now()
	out, err := svc.Search(context.Background(), mustQuery(t, "office chair", 3, false, query.Overrides{}))
	if err != nil {
		t.Fatalf("timed-out embedding must degrade, not fail: %v", err)
	}
	if !out.Degraded {
		t.Error("expected Degraded flag after embed timeout")
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("search must not wait out the full embedder delay, took %v", elapsed)
	}
}

func TestSearch_CallerDeadlineDuringEmbedDegrades(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	emb := chairEmbedder()
	emb.delay = 500 * time.Millisecond
	svc := newTestService(store, emb)

	// The caller's own deadline expires before both the embedder and the
	// internal budget; the completed lexical leg must still be returned.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := svc.Search(ctx, mustQuery(t, "mesh office chair", 3, false, query.Overrides{}))
	if err != nil {
		t.Fatalf("caller deadline during embed must degrade, not fail: %v", err)
	}
	if !out.Degraded {
		t.Error("expected Degraded flag after caller deadline expiry")
	}
	if len(out.Results) == 0 {
		t.Fatal("expected lexical-only results")
	}
	if out.Results[0].ID() != "mesh-1" {
		t.Errorf("expected mesh-1 first lexically, got %s", out.Results[0].ID())
	}
}

func TestSearch_NoRetrievalPath(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	emb := &mockEmbedder{err: errors.New("provider down")}
	svc := newTestService(store, emb)

	// Stop words only: no lexical signal, and the vector leg is down.
	_, err := svc.Search(context.Background(), mustQuery(t, "of the", 3, false, query.Overrides{}))
	if !errors.Is(err, domain.ErrNoRetrieval) {
		t.Fatalf("expected ErrNoRetrieval, got %v", err)
	}
}

func TestSearch_EmptyTextBrowsesByPrice(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	svc := newTestService(store, chairEmbedder())

	out, err := svc.Search(context.Background(), mustQuery(t, "", 3, false, query.Overrides{}))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	want := []string{"fabric-1", "mesh-1", "leather-1"}
	got := resultIDs(out)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected price-ascending browse %v, got %v", want, got)
		}
	}
}

func TestSearch_EmptyTextWithFilters(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	svc := newTestService(store, chairEmbedder())

	filters := mustExpression(t, []filter.Condition{mustMatch(t, "material", "leather")}, nil)
	out, err := svc.Search(context.Background(), mustFilteredQuery(t, "", filters, 10, false))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	want := []string{"leather-1", "leather-2", "leather-3"}
	got := resultIDs(out)
	if len(got) != 3 {
		t.Fatalf("expected 3 leather chairs, got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSearch_EmptyCatalog(t *testing.T) {
	store := buildStore(t, nil)
	svc := newTestService(store, chairEmbedder())

	out, err := svc.Search(context.Background(), mustQuery(t, "office chair", 5, false, query.Overrides{}))
	if err != nil {
		t.Fatalf("empty catalog must not error: %v", err)
	}
	if len(out.Results) != 0 {
		t.Errorf("expected no results, got %v", resultIDs(out))
	}
}

func TestSearch_RepeatedQueryIsDeterministic(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	svc := newTestService(store, chairEmbedder())
	q := mustQuery(t, "office chair", 3, true, query.Overrides{})

	first, err := svc.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := svc.Search(context.Background(), q)
		if err != nil {
			t.Fatalf("Search repeat %d: %v", i, err)
		}
		a, b := resultIDs(first), resultIDs(again)
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("non-deterministic ordering on repeat %d: %v vs %v", i, a, b)
			}
		}
	}
}

func TestSearch_SnapshotIsolation(t *testing.T) {
	store := buildStore(t, chairCatalog(t))
	svc := newTestService(store, chairEmbedder())

	out, err := svc.Search(context.Background(), mustQuery(t, "office chair", 5, false, query.Overrides{}))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	versionBefore := out.Version

	store.Remove([]string{"leather-1"})

	out2, err := svc.Search(context.Background(), mustQuery(t, "office chair", 5, false, query.Overrides{}))
	if err != nil {
		t.Fatalf("Search after remove: %v", err)
	}
	if out2.Version == versionBefore {
		t.Error("expected a new snapshot version after removal")
	}
	for _, r := range out2.Results {
		if r.ID() == "leather-1" {
			t.Error("removed product must not surface in the new snapshot")
		}
	}
}

func TestSearch_AlphaOverrideChangesLeaning(t *testing.T) {
	// fabric ranks above mesh on the vector leg and below it lexically;
	// pushing alpha to the extremes must flip their relative order.
	store := buildStore(t, chairCatalog(t))
	svc := newTestService(store, chairEmbedder())

	lexical, err := svc.Search(context.Background(),
		mustQuery(t, "office chair", 5, false, query.Overrides{Alpha: floatPtr(1.0)}))
	if err != nil {
		t.Fatalf("Search alpha=1: %v", err)
	}
	vectorial, err := svc.Search(context.Background(),
		mustQuery(t, "office chair", 5, false, query.Overrides{Alpha: floatPtr(0.0)}))
	if err != nil {
		t.Fatalf("Search alpha=0: %v", err)
	}

	lexPos := indexOf(resultIDs(lexical), "mesh-1")
	vecPos := indexOf(resultIDs(vectorial), "mesh-1")
	if lexPos == -1 || vecPos == -1 {
		t.Fatal("mesh-1 missing from results")
	}
	if !(lexPos < vecPos) {
		t.Errorf("mesh-1 should rank better lexically (%d) than vectorially (%d)", lexPos, vecPos)
	}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
