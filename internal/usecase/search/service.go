package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/domain/search/candidate"
	"github.com/cartfox/shelfsearch/internal/domain/search/query"
	"github.com/cartfox/shelfsearch/internal/domain/search/result"
	"github.com/cartfox/shelfsearch/internal/index"
	"github.com/cartfox/shelfsearch/internal/index/lexical"
	"github.com/cartfox/shelfsearch/internal/index/vector"
	"github.com/cartfox/shelfsearch/internal/metrics"
)

// Service runs the hybrid retrieval pipeline: filter resolution, parallel
// lexical and vector legs, RRF fusion, optional MMR diversification, and
// materialization from the pinned snapshot.
type Service struct {
	snaps        SnapshotSource
	embed        Embedder
	embedTimeout time.Duration
	logger       *zap.Logger
}

// New creates a search service. embedTimeout is the per-query budget for
// the embedding call; on expiry the query degrades to lexical-only instead
// of failing.
func New(snaps SnapshotSource, embed Embedder, embedTimeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		snaps:        snaps,
		embed:        embed,
		embedTimeout: embedTimeout,
		logger:       logger,
	}
}

// Output is the outcome of one search call.
type Output struct {
	Results  []result.Result
	Degraded bool // vector leg was skipped (embedding unavailable)
	Version  uint64
}

// Search executes a validated query against the current snapshot.
func (s *Service) Search(ctx context.Context, q *query.Query) (Output, error) {
	snap := s.snaps.Current()
	p := q.Params()

	allowed := snap.Attributes().Resolve(q.Filters())
	if allowed != nil && len(allowed) == 0 {
		// Filters eliminated the whole catalog; an empty result is an
		// answer, not an error.
		metrics.SearchRequestsTotal.WithLabelValues("ok").Inc()
		return Output{Results: []result.Result{}, Version: snap.Version()}, nil
	}
	allowedFn := membership(allowed)

	if q.Text() == "" {
		out := s.browse(snap, allowed, q.Limit())
		metrics.SearchRequestsTotal.WithLabelValues("ok").Inc()
		return out, nil
	}

	depth := q.Limit()
	if q.Diversify() && p.MMREnabled && p.FetchK > depth {
		depth = p.FetchK
	}

	lexStart := time.Now()
	lexHits := snap.Lexical().Retrieve(q.Text(), depth, allowedFn)
	metrics.SearchStageDuration.WithLabelValues("lexical").Observe(time.Since(lexStart).Seconds())

	vecHits, degraded := s.vectorLeg(ctx, snap, q.Text(), depth, allowedFn)
	if degraded && len(lexHits) == 0 && len(lexical.Tokenize(q.Text())) == 0 {
		// No vector leg and the query has no lexical signal either:
		// nothing can rank this request.
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return Output{}, fmt.Errorf("embedding unavailable and query has no indexable terms: %w", domain.ErrNoRetrieval)
	}

	fuseStart := time.Now()
	fused := fuseRRF(lexHits, vecHits, p.Alpha, p.KRRF)
	metrics.SearchStageDuration.WithLabelValues("fusion").Observe(time.Since(fuseStart).Seconds())

	selected := fused
	if q.Diversify() && p.MMREnabled {
		if len(selected) > p.FetchK {
			selected = selected[:p.FetchK]
		}
		mmrStart := time.Now()
		selected = rerankMMR(selected, snap.Vector().Embedding, p.Lambda, q.Limit())
		metrics.SearchStageDuration.WithLabelValues("mmr").Observe(time.Since(mmrStart).Seconds())
	}
	if len(selected) > q.Limit() {
		selected = selected[:q.Limit()]
	}

	results := s.materialize(snap, selected)

	status := "ok"
	if degraded {
		status = "degraded"
	}
	metrics.SearchRequestsTotal.WithLabelValues(status).Inc()

	return Output{Results: results, Degraded: degraded, Version: snap.Version()}, nil
}

// vectorLeg embeds the query under the configured budget and retrieves by
// cosine similarity. Any embedding failure, including the caller's own
// deadline expiring mid-embed, degrades the query to lexical-only rather
// than failing it: the completed sub-stages still produce a ranking.
func (s *Service) vectorLeg(
	ctx context.Context, snap *index.Snapshot, text string, depth int, allowedFn func(string) bool,
) ([]vector.Hit, bool) {
	if s.embed == nil {
		return nil, true
	}

	embedCtx := ctx
	if s.embedTimeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, s.embedTimeout)
		defer cancel()
	}

	embStart := time.Now()
	embRes, err := s.embed.Embed(embedCtx, text)
	metrics.SearchStageDuration.WithLabelValues("embed").Observe(time.Since(embStart).Seconds())

	if err != nil {
		s.logger.Warn("Embedding unavailable, degrading to lexical-only",
			zap.Error(err),
			zap.Duration("budget", s.embedTimeout),
		)
		return nil, true
	}

	vecStart := time.Now()
	hits := snap.Vector().Retrieve(embRes.Embedding, depth, allowedFn)
	metrics.SearchStageDuration.WithLabelValues("vector").Observe(time.Since(vecStart).Seconds())
	return hits, false
}

// browse serves text-less queries: every product passing the filters,
// ordered by ascending price with id as tie-break.
func (s *Service) browse(snap *index.Snapshot, allowed map[string]struct{}, limit int) Output {
	products := snap.All()
	filtered := products[:0]
	for i := range products {
		if allowed == nil {
			filtered = append(filtered, products[i])
			continue
		}
		if _, ok := allowed[products[i].ID()]; ok {
			filtered = append(filtered, products[i])
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Price() != filtered[j].Price() {
			return filtered[i].Price() < filtered[j].Price()
		}
		return filtered[i].ID() < filtered[j].ID()
	})
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	results := make([]result.Result, 0, len(filtered))
	for i := range filtered {
		p := &filtered[i]
		results = append(results, result.New(
			p.ID(), p.Title(), p.Price(), p.Category(), p.Attributes(), 0,
		))
	}
	return Output{Results: results, Version: snap.Version()}
}

// materialize resolves selected candidates against the snapshot's product
// store. A candidate whose product vanished indicates an index
// inconsistency; it is logged, counted, and dropped rather than failing
// the whole query.
func (s *Service) materialize(snap *index.Snapshot, selected []candidate.Candidate) []result.Result {
	results := make([]result.Result, 0, len(selected))
	for _, c := range selected {
		p, ok := snap.Product(c.ID)
		if !ok {
			metrics.SearchInconsistentTotal.Inc()
			s.logger.Error("Dropping candidate missing from snapshot",
				zap.String("product_id", c.ID),
				zap.Uint64("snapshot_version", snap.Version()),
				zap.Error(domain.ErrIndexInconsistent),
			)
			continue
		}
		results = append(results, result.New(
			p.ID(), p.Title(), p.Price(), p.Category(), p.Attributes(), c.Fused,
		))
	}
	return results
}

func membership(allowed map[string]struct{}) func(string) bool {
	if allowed == nil {
		return nil
	}
	return func(id string) bool {
		_, ok := allowed[id]
		return ok
	}
}
