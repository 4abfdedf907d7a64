package search

import (
	"context"

	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/index"
)

// SnapshotSource pins one immutable catalog view per search call.
type SnapshotSource interface {
	Current() *index.Snapshot
}

// Embedder vectorizes query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
