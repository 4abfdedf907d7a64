// Package index composes the lexical, vector, and attribute indexes into
// immutable catalog snapshots. A search call pins one snapshot for its
// whole duration; writers build a replacement snapshot off to the side and
// publish it with an atomic pointer swap, so readers never block writers
// and writers never block readers.
package index

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/index/attribute"
	"github.com/cartfox/shelfsearch/internal/index/lexical"
	"github.com/cartfox/shelfsearch/internal/index/vector"
)

// Snapshot is one consistent, immutable view of the catalog: the document
// store plus all three indexes built from the same product set. A product
// is either visible in every index it qualifies for or in none.
type Snapshot struct {
	products  map[string]domain.Product
	seqs      map[string]uint64
	lexical   *lexical.Index
	vector    *vector.Index
	attrs     *attribute.Index
	version   uint64
	updatedAt time.Time
}

// Product returns a product by id.
func (s *Snapshot) Product(id string) (domain.Product, bool) {
	p, ok := s.products[id]
	return p, ok
}

// All returns every product in the snapshot (unspecified order).
func (s *Snapshot) All() []domain.Product {
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	return out
}

// Lexical returns the BM25 index.
func (s *Snapshot) Lexical() *lexical.Index { return s.lexical }

// Vector returns the embedding index.
func (s *Snapshot) Vector() *vector.Index { return s.vector }

// Attributes returns the facet index.
func (s *Snapshot) Attributes() *attribute.Index { return s.attrs }

// Count returns the number of products in the snapshot.
func (s *Snapshot) Count() int { return len(s.products) }

// VectorCount returns how many products carry an embedding. The difference
// from Count makes the degraded (lexical-only) population observable.
func (s *Snapshot) VectorCount() int { return s.vector.Count() }

// Version returns the monotonically increasing snapshot version.
func (s *Snapshot) Version() uint64 { return s.version }

// UpdatedAt returns the time of the mutation that produced this snapshot.
func (s *Snapshot) UpdatedAt() time.Time { return s.updatedAt }

// Store owns the current snapshot. Mutations serialize on a mutex, copy the
// product set, rebuild the indexes, and swap the snapshot pointer, so every
// upsert/remove batch is atomic from any reader's point of view.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	nextSeq uint64
}

// NewStore creates a store holding an empty snapshot.
func NewStore() *Store {
	s := &Store{nextSeq: 1}
	s.current.Store(buildSnapshot(map[string]domain.Product{}, map[string]uint64{}, 0))
	return s
}

// Current returns the latest published snapshot. The returned snapshot
// stays valid and consistent for as long as the caller holds it.
func (s *Store) Current() *Snapshot { return s.current.Load() }

// Upsert adds or replaces products and publishes a new snapshot. A
// replaced product keeps its original insertion sequence, which keeps
// re-ingesting identical data fully idempotent, tie-breaks included.
func (s *Store) Upsert(products []domain.Product) {
	if len(products) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next := cloneProducts(prev.products)
	seqs := cloneSeqs(prev.seqs)
	for _, p := range products {
		if _, exists := seqs[p.ID()]; !exists {
			seqs[p.ID()] = s.nextSeq
			s.nextSeq++
		}
		next[p.ID()] = p
	}
	s.current.Store(buildSnapshot(next, seqs, prev.version+1))
}

// Remove deletes products by id and publishes a new snapshot.
// Returns how many products were actually removed.
func (s *Store) Remove(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next := cloneProducts(prev.products)
	seqs := cloneSeqs(prev.seqs)
	removed := 0
	for _, id := range ids {
		if _, ok := next[id]; ok {
			delete(next, id)
			delete(seqs, id)
			removed++
		}
	}
	if removed == 0 {
		return 0
	}
	s.current.Store(buildSnapshot(next, seqs, prev.version+1))
	return removed
}

func buildSnapshot(products map[string]domain.Product, seqs map[string]uint64, version uint64) *Snapshot {
	docs := make([]lexical.Doc, 0, len(products))
	entries := make([]vector.Entry, 0, len(products))
	flat := make([]domain.Product, 0, len(products))
	for id, p := range products {
		seq := seqs[id]
		docs = append(docs, lexical.Doc{ID: id, Seq: seq, Text: p.Blob()})
		if p.HasEmbedding() {
			entries = append(entries, vector.Entry{ID: id, Seq: seq, Embedding: p.Embedding()})
		}
		flat = append(flat, p)
	}

	return &Snapshot{
		products:  products,
		seqs:      seqs,
		lexical:   lexical.Build(docs),
		vector:    vector.Build(entries),
		attrs:     attribute.Build(flat),
		version:   version,
		updatedAt: time.Now().UTC(),
	}
}

func cloneProducts(m map[string]domain.Product) map[string]domain.Product {
	out := make(map[string]domain.Product, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSeqs(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
