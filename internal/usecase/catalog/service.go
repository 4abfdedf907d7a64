package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/metrics"
)

const (
	// embedChunkSize is how many product blobs go into one embedding API call.
	embedChunkSize = 64
	defaultBatch   = 500
)

// ProductInput is one raw product in an ingestion batch.
type ProductInput struct {
	ID          string
	Title       string
	Description string
	Category    string
	Price       float64
	Attributes  map[string]string
}

// Report summarizes one ingestion batch. Products listed in
// WithoutEmbedding were stored lexically only because their embedding
// chunk failed; re-upserting them retries vectorization.
type Report struct {
	Upserted         int
	WithoutEmbedding []string
}

// Stats describes the published catalog snapshot.
type Stats struct {
	ProductCount int
	VectorCount  int
	Version      uint64
	LastUpdated  time.Time
}

// Service handles catalog mutation: validation, batch embedding through a
// worker pool, durable persistence, and atomic snapshot publication.
type Service struct {
	store    SnapshotStore
	repo     ProductRepository
	embed    Embedder
	pool     *ants.Pool
	maxBatch int
	logger   *zap.Logger
}

// New creates a catalog service with its embedding worker pool.
func New(
	store SnapshotStore,
	repo ProductRepository,
	embed Embedder,
	workers int,
	maxBatch int,
	logger *zap.Logger,
) (*Service, error) {
	if workers < 1 {
		workers = 1
	}
	if maxBatch <= 0 {
		maxBatch = defaultBatch
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Service{
		store:    store,
		repo:     repo,
		embed:    embed,
		pool:     pool,
		maxBatch: maxBatch,
		logger:   logger,
	}, nil
}

// Release shuts down the worker pool.
func (s *Service) Release() {
	s.pool.Release()
}

// Upsert validates, embeds, persists, and publishes a product batch.
// The batch becomes visible to searches in a single snapshot swap: no query
// ever observes a half-ingested batch. Embedding failures degrade the
// affected products to lexical-only retrieval instead of failing the batch.
func (s *Service) Upsert(ctx context.Context, inputs []ProductInput) (Report, error) {
	if len(inputs) == 0 {
		return Report{}, nil
	}
	if len(inputs) > s.maxBatch {
		return Report{}, fmt.Errorf(
			"batch of %d exceeds the maximum of %d: %w", len(inputs), s.maxBatch, domain.ErrInvalidParameter)
	}

	products, err := buildProducts(inputs)
	if err != nil {
		return Report{}, err
	}

	missing := s.embedAll(ctx, products)
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	if err := s.repo.SaveAll(ctx, products); err != nil {
		return Report{}, fmt.Errorf("persist batch: %w", err)
	}

	flat := make([]domain.Product, len(products))
	for i := range products {
		flat[i] = *products[i]
	}
	s.store.Upsert(flat)
	s.observeCatalog()

	return Report{Upserted: len(products), WithoutEmbedding: missing}, nil
}

// Remove deletes products by id from both the durable store and the
// published snapshot. Unknown ids are ignored.
func (s *Service) Remove(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) > s.maxBatch {
		return 0, fmt.Errorf(
			"batch of %d exceeds the maximum of %d: %w", len(ids), s.maxBatch, domain.ErrInvalidParameter)
	}

	if _, err := s.repo.Delete(ctx, ids); err != nil {
		return 0, fmt.Errorf("delete batch: %w", err)
	}

	removed := s.store.Remove(ids)
	s.observeCatalog()
	return removed, nil
}

// Stats reports the current snapshot's size and freshness.
func (s *Service) Stats(_ context.Context) Stats {
	snap := s.store.Current()
	return Stats{
		ProductCount: snap.Count(),
		VectorCount:  snap.VectorCount(),
		Version:      snap.Version(),
		LastUpdated:  snap.UpdatedAt(),
	}
}

// Restore replays the durable store into the snapshot store, preserving
// stored embeddings so startup does not re-vectorize the catalog.
func (s *Service) Restore(ctx context.Context) (int, error) {
	products, err := s.repo.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load catalog: %w", err)
	}
	if len(products) > 0 {
		s.store.Upsert(products)
	}
	s.observeCatalog()
	return len(products), nil
}

// buildProducts validates the batch and deduplicates by id, last
// occurrence winning, so one request cannot race against itself.
func buildProducts(inputs []ProductInput) ([]*domain.Product, error) {
	byID := make(map[string]int, len(inputs))
	products := make([]*domain.Product, 0, len(inputs))

	for _, in := range inputs {
		p, err := domain.NewProduct(in.ID, in.Title, in.Description, in.Category, in.Price, in.Attributes)
		if err != nil {
			return nil, fmt.Errorf("product %q: %w", in.ID, err)
		}
		if pos, seen := byID[in.ID]; seen {
			products[pos] = &p
			continue
		}
		byID[in.ID] = len(products)
		products = append(products, &p)
	}
	return products, nil
}

// embedAll vectorizes product blobs in fixed-size chunks fanned out over
// the worker pool. A failed chunk leaves its products without embeddings
// and returns their ids.
func (s *Service) embedAll(ctx context.Context, products []*domain.Product) []string {
	if s.embed == nil {
		return allIDs(products)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		missing []string
	)

	for start := 0; start < len(products); start += embedChunkSize {
		end := start + embedChunkSize
		if end > len(products) {
			end = len(products)
		}
		chunk := products[start:end]

		wg.Add(1)
		task := func() {
			defer wg.Done()

			texts := make([]string, len(chunk))
			for i, p := range chunk {
				texts[i] = p.Blob()
			}

			res, err := s.embed.BatchEmbed(ctx, texts)
			if err != nil || len(res.Embeddings) != len(chunk) {
				if err == nil {
					err = fmt.Errorf("got %d embeddings for %d products", len(res.Embeddings), len(chunk))
				}
				s.logger.Warn("Embedding chunk failed, storing products without vectors",
					zap.Int("chunk_size", len(chunk)),
					zap.Error(fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)),
				)
				mu.Lock()
				missing = append(missing, allIDs(chunk)...)
				mu.Unlock()
				return
			}

			for i, p := range chunk {
				p.SetEmbedding(res.Embeddings[i])
			}
		}

		if err := s.pool.Submit(task); err != nil {
			// Pool rejected the task (released or overloaded); run inline
			// rather than dropping the chunk.
			task()
		}
	}

	wg.Wait()
	return missing
}

func (s *Service) observeCatalog() {
	snap := s.store.Current()
	metrics.CatalogProducts.Set(float64(snap.Count()))
	metrics.CatalogVectorless.Set(float64(snap.Count() - snap.VectorCount()))
}

func allIDs(products []*domain.Product) []string {
	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ID()
	}
	return ids
}
