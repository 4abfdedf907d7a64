// Package shelfsearch embeds the catalog retrieval engine in-process:
// hybrid lexical and vector search with rank fusion and result
// diversification, without the HTTP layer.
package shelfsearch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/domain/search/filter"
	"github.com/cartfox/shelfsearch/internal/domain/search/query"
	"github.com/cartfox/shelfsearch/internal/index"
	catalogrepo "github.com/cartfox/shelfsearch/internal/repository/catalog"
	openaiEmb "github.com/cartfox/shelfsearch/internal/transport/openai"
	cataloguc "github.com/cartfox/shelfsearch/internal/usecase/catalog"
	searchuc "github.com/cartfox/shelfsearch/internal/usecase/search"
)

// Sentinel errors surfaced by the engine.
var (
	// ErrInvalidParameter signals a rejected search or ingestion parameter.
	ErrInvalidParameter = domain.ErrInvalidParameter
	// ErrNoRetrieval signals that neither retrieval leg could produce a
	// ranking. The only search failure surfaced to the caller.
	ErrNoRetrieval = domain.ErrNoRetrieval
)

const defaultEmbedTimeout = 3 * time.Second

// EmbedFunc turns texts into dense vectors. One vector per input text,
// aligned by position.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Product is one catalog record.
type Product struct {
	ID          string
	Title       string
	Description string
	Category    string
	Price       float64
	Attributes  map[string]string
}

// Result is a single ranked search hit.
type Result struct {
	ID         string
	Title      string
	Price      float64
	Category   string
	Attributes map[string]string
	Score      float64
}

// SearchOutput is the outcome of one search call.
type SearchOutput struct {
	Results []Result
	// Degraded reports lexical-only retrieval (embedding unavailable).
	Degraded        bool
	SnapshotVersion uint64
}

// Report summarizes one ingestion batch.
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

// RangeFilter bounds a numeric attribute. gt/gte and lt/lte are mutually
// exclusive.
type RangeFilter struct {
	GT  *float64
	GTE *float64
	LT  *float64
	LTE *float64
}

// FilterCondition is a single facet clause: exactly one of Match, AnyOf
// or Range must be set.
type FilterCondition struct {
	Key   string
	Match string
	AnyOf []string
	Range *RangeFilter
}

// FilterExpression restricts the candidate set before ranking.
type FilterExpression struct {
	Must    []FilterCondition
	MustNot []FilterCondition
}

// SearchRequest describes one query. Zero values fall back to the engine
// defaults; pointer fields override per call.
type SearchRequest struct {
	Query     string
	Limit     int
	Diversify *bool
	Filters   *FilterExpression
	Alpha     *float64
	Lambda    *float64
	KRRF      *int
	FetchK    *int
}

type engineConfig struct {
	embedFn      EmbedFunc
	openaiKey    string
	openaiURL    string
	openaiModel  string
	dimensions   int
	storagePath  string
	embedTimeout time.Duration
	workers      int
	maxBatch     int
	defaults     query.Params
	logger       *zap.Logger
}

// Option configures the engine.
type Option func(*engineConfig)

// WithEmbedFunc plugs in a custom embedding function.
func WithEmbedFunc(fn EmbedFunc) Option {
	return func(c *engineConfig) { c.embedFn = fn }
}

// WithOpenAI uses an OpenAI-compatible embedding endpoint. baseURL may be
// empty for the public API.
func WithOpenAI(apiKey, baseURL, model string, dimensions int) Option {
	return func(c *engineConfig) {
		c.openaiKey = apiKey
		c.openaiURL = baseURL
		c.openaiModel = model
		c.dimensions = dimensions
	}
}

// WithStoragePath persists products on disk at path. Without it the
// engine runs fully in memory.
func WithStoragePath(path string) Option {
	return func(c *engineConfig) { c.storagePath = path }
}

// WithEmbedTimeout bounds the per-query embedding call. On expiry the
// query degrades to lexical-only retrieval.
func WithEmbedTimeout(d time.Duration) Option {
	return func(c *engineConfig) { c.embedTimeout = d }
}

// WithRankingDefaults overrides the engine-level ranking parameters.
func WithRankingDefaults(alpha, lambda float64, kRRF, fetchK int) Option {
	return func(c *engineConfig) {
		c.defaults.Alpha = alpha
		c.defaults.Lambda = lambda
		c.defaults.KRRF = kRRF
		c.defaults.FetchK = fetchK
	}
}

// WithIngestion sets the embedding worker pool size and the maximum
// ingestion batch size.
func WithIngestion(workers, maxBatch int) Option {
	return func(c *engineConfig) {
		c.workers = workers
		c.maxBatch = maxBatch
	}
}

// WithLogger sets the engine logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *engineConfig) { c.logger = logger }
}

// Engine is the in-process retrieval engine.
type Engine struct {
	store    *index.Store
	repo     *catalogrepo.Repo
	catalog  *cataloguc.Service
	search   *searchuc.Service
	defaults query.Params
}

// New creates an Engine. An embedding source is required: either
// WithEmbedFunc or WithOpenAI.
func New(opts ...Option) (*Engine, error) {
	cfg := &engineConfig{
		embedTimeout: defaultEmbedTimeout,
		workers:      1,
		defaults:     query.DefaultParams(),
		logger:       zap.NewNop(),
	}
	for _, o := range opts {
		o(cfg)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	repo, err := catalogrepo.Open(cfg.storagePath, cfg.storagePath == "", cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("shelfsearch: open product store: %w", err)
	}

	store := index.NewStore()

	catalogSvc, err := cataloguc.New(store, repo, embedder, cfg.workers, cfg.maxBatch, cfg.logger)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("shelfsearch: create catalog service: %w", err)
	}

	if _, err := catalogSvc.Restore(context.Background()); err != nil {
		catalogSvc.Release()
		_ = repo.Close()
		return nil, fmt.Errorf("shelfsearch: restore catalog: %w", err)
	}

	return &Engine{
		store:    store,
		repo:     repo,
		catalog:  catalogSvc,
		search:   searchuc.New(store, embedder, cfg.embedTimeout, cfg.logger),
		defaults: cfg.defaults,
	}, nil
}

func buildEmbedder(cfg *engineConfig) (domain.Embedder, error) {
	if cfg.embedFn != nil {
		return funcEmbedder{fn: cfg.embedFn}, nil
	}
	if cfg.openaiKey != "" || cfg.openaiURL != "" {
		return openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     cfg.openaiKey,
			BaseURL:    cfg.openaiURL,
			Model:      cfg.openaiModel,
			Dimensions: cfg.dimensions,
			Provider:   "openai",
			Logger:     cfg.logger,
		}), nil
	}
	return nil, errors.New("shelfsearch: embedding source required (use WithEmbedFunc or WithOpenAI)")
}

// Close releases the worker pool and the durable store.
func (e *Engine) Close() error {
	e.catalog.Release()
	if err := e.repo.Close(); err != nil {
		return fmt.Errorf("shelfsearch: close product store: %w", err)
	}
	return nil
}

// Upsert validates, embeds and publishes a product batch atomically.
func (e *Engine) Upsert(ctx context.Context, products []Product) (Report, error) {
	inputs := make([]cataloguc.ProductInput, len(products))
	for i, p := range products {
		inputs[i] = cataloguc.ProductInput{
			ID:          p.ID,
			Title:       p.Title,
			Description: p.Description,
			Category:    p.Category,
			Price:       p.Price,
			Attributes:  p.Attributes,
		}
	}

	report, err := e.catalog.Upsert(ctx, inputs)
	if err != nil {
		return Report{}, err
	}
	return Report{Upserted: report.Upserted, WithoutEmbedding: report.WithoutEmbedding}, nil
}

// Remove deletes products by id. Unknown ids are ignored; returns the
// number actually removed.
func (e *Engine) Remove(ctx context.Context, ids []string) (int, error) {
	return e.catalog.Remove(ctx, ids)
}

// Stats describes the currently published snapshot.
func (e *Engine) Stats(ctx context.Context) Stats {
	s := e.catalog.Stats(ctx)
	return Stats{
		ProductCount: s.ProductCount,
		VectorCount:  s.VectorCount,
		Version:      s.Version,
		LastUpdated:  s.LastUpdated,
	}
}

// Search runs one query against the current snapshot.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (SearchOutput, error) {
	filters, err := filtersFromRequest(req.Filters)
	if err != nil {
		return SearchOutput{}, fmt.Errorf("invalid filter: %v: %w", err, domain.ErrInvalidParameter)
	}

	limit := req.Limit
	if limit == 0 {
		limit = 10
	}
	diversify := true
	if req.Diversify != nil {
		diversify = *req.Diversify
	}

	q, err := query.New(req.Query, filters, limit, diversify, e.defaults, query.Overrides{
		Alpha:  req.Alpha,
		Lambda: req.Lambda,
		KRRF:   req.KRRF,
		FetchK: req.FetchK,
	})
	if err != nil {
		return SearchOutput{}, err
	}

	out, err := e.search.Search(ctx, &q)
	if err != nil {
		return SearchOutput{}, err
	}

	results := make([]Result, len(out.Results))
	for i := range out.Results {
		r := &out.Results[i]
		results[i] = Result{
			ID:         r.ID(),
			Title:      r.Title(),
			Price:      r.Price(),
			Category:   r.Category(),
			Attributes: r.Attributes(),
			Score:      r.Score(),
		}
	}

	return SearchOutput{
		Results:         results,
		Degraded:        out.Degraded,
		SnapshotVersion: out.Version,
	}, nil
}

func filtersFromRequest(f *FilterExpression) (filter.Expression, error) {
	if f == nil {
		return filter.Expression{}, nil
	}

	must, err := conditions(f.Must)
	if err != nil {
		return filter.Expression{}, err
	}
	mustNot, err := conditions(f.MustNot)
	if err != nil {
		return filter.Expression{}, err
	}
	return filter.NewExpression(must, mustNot)
}

func conditions(cs []FilterCondition) ([]filter.Condition, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	out := make([]filter.Condition, 0, len(cs))
	for _, c := range cs {
		cond, err := condition(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func condition(c FilterCondition) (filter.Condition, error) {
	set := 0
	if c.Match != "" {
		set++
	}
	if len(c.AnyOf) > 0 {
		set++
	}
	if c.Range != nil {
		set++
	}
	if set != 1 {
		return filter.Condition{},
			fmt.Errorf("filter condition %q must have exactly one of Match, AnyOf or Range", c.Key)
	}

	switch {
	case c.Match != "":
		return filter.NewMatch(c.Key, c.Match)
	case len(c.AnyOf) > 0:
		return filter.NewMatchAny(c.Key, c.AnyOf)
	default:
		rf, err := filter.NewRangeFilter(c.Range.GT, c.Range.GTE, c.Range.LT, c.Range.LTE)
		if err != nil {
			return filter.Condition{}, err
		}
		return filter.NewRange(c.Key, rf)
	}
}

// funcEmbedder adapts an EmbedFunc to the internal embedder contract.
type funcEmbedder struct {
	fn EmbedFunc
}

func (f funcEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	vecs, err := f.fn(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	if len(vecs) != 1 {
		return domain.EmbeddingResult{}, fmt.Errorf("embed func returned %d vectors for 1 text", len(vecs))
	}
	return domain.EmbeddingResult{Embedding: vecs[0]}, nil
}

func (f funcEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	vecs, err := f.fn(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	if len(vecs) != len(texts) {
		return domain.BatchEmbeddingResult{},
			fmt.Errorf("embed func returned %d vectors for %d texts", len(vecs), len(texts))
	}
	return domain.BatchEmbeddingResult{Embeddings: vecs}, nil
}
