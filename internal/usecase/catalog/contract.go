package catalog

import (
	"context"

	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/index"
)

// ProductRepository is the durable store behind the in-memory indexes.
type ProductRepository interface {
	SaveAll(ctx context.Context, products []*domain.Product) error
	Delete(ctx context.Context, ids []string) (int, error)
	LoadAll(ctx context.Context) ([]domain.Product, error)
}

// SnapshotStore publishes immutable catalog snapshots.
type SnapshotStore interface {
	Current() *index.Snapshot
	Upsert(products []domain.Product)
	Remove(ids []string) int
}

// Embedder vectorizes product text at ingestion time.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}
