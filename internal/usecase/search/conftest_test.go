package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/domain/search/filter"
	"github.com/cartfox/shelfsearch/internal/domain/search/query"
	"github.com/cartfox/shelfsearch/internal/index"
)

// mockEmbedder returns a fixed vector per text, with optional failure.
type mockEmbedder struct {
	vectors map[string][]float32
	err     error
	delay   time.Duration
	calls   int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return domain.EmbeddingResult{}, ctx.Err()
		}
	}
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	if v, ok := m.vectors[text]; ok {
		return domain.EmbeddingResult{Embedding: v, TotalTokens: 1}, nil
	}
	return domain.EmbeddingResult{}, errors.New("no vector configured for " + text)
}

func (m *mockEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i, t := range texts {
		r, err := m.Embed(ctx, t)
		if err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
		out.Embeddings[i] = r.Embedding
		out.TotalTokens += r.TotalTokens
	}
	return out, nil
}

type productSpec struct {
	id       string
	title    string
	desc     string
	category string
	price    float64
	attrs    map[string]string
	emb      []float32
}

func buildStore(t *testing.T, specs []productSpec) *index.Store {
	t.Helper()
	store := index.NewStore()
	products := make([]domain.Product, 0, len(specs))
	for _, s := range specs {
		p, err := domain.NewProduct(s.id, s.title, s.desc, s.category, s.price, s.attrs)
		if err != nil {
			t.Fatalf("new product %s: %v", s.id, err)
		}
		if s.emb != nil {
			p.SetEmbedding(s.emb)
		}
		products = append(products, p)
	}
	store.Upsert(products)
	return store
}

func newTestService(store *index.Store, emb Embedder) *Service {
	return New(store, emb, 100*time.Millisecond, zap.NewNop())
}

func mustQuery(t *testing.T, text string, limit int, diversify bool, ov query.Overrides) *query.Query {
	t.Helper()
	q, err := query.New(text, filter.Expression{}, limit, diversify, query.DefaultParams(), ov)
	if err != nil {
		t.Fatalf("new query: %v", err)
	}
	return &q
}

func mustFilteredQuery(
	t *testing.T, text string, filters filter.Expression, limit int, diversify bool,
) *query.Query {
	t.Helper()
	q, err := query.New(text, filters, limit, diversify, query.DefaultParams(), query.Overrides{})
	if err != nil {
		t.Fatalf("new query: %v", err)
	}
	return &q
}

func mustMatch(t *testing.T, key, value string) filter.Condition {
	t.Helper()
	c, err := filter.NewMatch(key, value)
	if err != nil {
		t.Fatalf("new match: %v", err)
	}
	return c
}

func mustExpression(t *testing.T, must, mustNot []filter.Condition) filter.Expression {
	t.Helper()
	e, err := filter.NewExpression(must, mustNot)
	if err != nil {
		t.Fatalf("new expression: %v", err)
	}
	return e
}

func resultIDs(out Output) []string {
	ids := make([]string, len(out.Results))
	for i := range out.Results {
		ids[i] = out.Results[i].ID()
	}
	return ids
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
