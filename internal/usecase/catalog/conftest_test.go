package catalog

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/index"
)

// mockRepo is an in-memory ProductRepository.
type mockRepo struct {
	mu       sync.Mutex
	saved    map[string]domain.Product
	order    []string
	saveErr  error
	loadErr  error
	deleted  []string
	saves    int
}

func newMockRepo() *mockRepo {
	return &mockRepo{saved: make(map[string]domain.Product)}
}

func (m *mockRepo) SaveAll(_ context.Context, products []*domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	for _, p := range products {
		if _, ok := m.saved[p.ID()]; !ok {
			m.order = append(m.order, p.ID())
		}
		m.saved[p.ID()] = *p
	}
	return nil
}

func (m *mockRepo) Delete(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := m.saved[id]; ok {
			delete(m.saved, id)
			removed++
		}
		m.deleted = append(m.deleted, id)
	}
	return removed, nil
}

func (m *mockRepo) LoadAll(_ context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make([]domain.Product, 0, len(m.saved))
	for _, id := range m.order {
		if p, ok := m.saved[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// mockEmbedder counts batch calls and can fail wholesale.
type mockEmbedder struct {
	mu    sync.Mutex
	dims  int
	err   error
	calls int
	texts []string
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.texts = append(m.texts, texts...)
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	dims := m.dims
	if dims == 0 {
		dims = 3
	}
	embeddings := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, dims)
		v[0] = float32(len(texts[i])) // deterministic, text-dependent
		v[1] = 1
		embeddings[i] = v
	}
	return domain.BatchEmbeddingResult{Embeddings: embeddings, TotalTokens: len(texts)}, nil
}

func newTestService(t *testing.T, repo *mockRepo, emb Embedder) (*Service, *index.Store) {
	t.Helper()
	store := index.NewStore()
	svc, err := New(store, repo, emb, 2, 100, zap.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Release)
	return svc, store
}

func input(id, title string, price float64) ProductInput {
	return ProductInput{
		ID:       id,
		Title:    title,
		Category: "furniture",
		Price:    price,
	}
}
