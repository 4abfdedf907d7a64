package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/domain/search/filter"
	"github.com/cartfox/shelfsearch/internal/domain/search/query"
	cataloguc "github.com/cartfox/shelfsearch/internal/usecase/catalog"
	healthuc "github.com/cartfox/shelfsearch/internal/usecase/health"
	searchuc "github.com/cartfox/shelfsearch/internal/usecase/search"
)

const defaultLimit = 10

// Error response codes.
const (
	codeBadRequest        = "bad_request"
	codeValidationFailed  = "validation_failed"
	codeInvalidParameter  = "invalid_parameter"
	codeProductNotFound   = "product_not_found"
	codeNoRetrieval       = "no_retrieval_signal"
	codeEmbeddingProvider = "embedding_provider_error"
	codeInternalError     = "internal_error"
)

// searchService runs validated queries against the current catalog snapshot.
type searchService interface {
	Search(ctx context.Context, q *query.Query) (searchuc.Output, error)
}

// catalogService mutates and inspects the catalog.
type catalogService interface {
	Upsert(ctx context.Context, inputs []cataloguc.ProductInput) (cataloguc.Report, error)
	Remove(ctx context.Context, ids []string) (int, error)
	Stats(ctx context.Context) cataloguc.Stats
}

// healthService aggregates dependency health checks.
type healthService interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API surface over the retrieval engine.
type Server struct {
	search        searchService
	catalog       catalogService
	health        healthService
	defaults      query.Params
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. defaults are the engine-level
// ranking parameters; every search request may override them.
func NewServer(
	search searchService,
	catalog catalogService,
	health healthService,
	defaults query.Params,
	logger *zap.Logger,
) *Server {
	s := &Server{
		search:   search,
		catalog:  catalog,
		health:   health,
		defaults: defaults,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidParameter, http.StatusBadRequest, codeInvalidParameter),
		sentinelHandler(domain.ErrEmptyProduct, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrProductNotFound, http.StatusNotFound, codeProductNotFound),
		sentinelHandler(domain.ErrNoRetrieval, http.StatusServiceUnavailable, codeNoRetrieval),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProvider),
	}
	return s
}

// Register mounts the API routes on the given router.
func (s *Server) Register(r chi.Router) {
	r.Post("/search", s.handleSearch)
	r.Put("/products", s.handleUpsertProducts)
	r.Delete("/products", s.handleDeleteProducts)
	r.Get("/stats", s.handleStats)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type rangeFilterDTO struct {
	GT  *float64 `json:"gt,omitempty"`
	GTE *float64 `json:"gte,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

type filterConditionDTO struct {
	Key   string          `json:"key"`
	Match *string         `json:"match,omitempty"`
	AnyOf []string        `json:"any_of,omitempty"`
	Range *rangeFilterDTO `json:"range,omitempty"`
}

type filterExpressionDTO struct {
	Must    []filterConditionDTO `json:"must,omitempty"`
	MustNot []filterConditionDTO `json:"must_not,omitempty"`
}

type searchRequest struct {
	Query     string               `json:"query"`
	Limit     int                  `json:"limit"`
	Diversify *bool                `json:"diversify,omitempty"`
	Filters   *filterExpressionDTO `json:"filters,omitempty"`
	Alpha     *float64             `json:"alpha,omitempty"`
	Lambda    *float64             `json:"lambda,omitempty"`
	KRRF      *int                 `json:"k_rrf,omitempty"`
	FetchK    *int                 `json:"fetch_k,omitempty"`
}

type searchResultItem struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Price      float64           `json:"price"`
	Category   string            `json:"category,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Score      float64           `json:"score"`
}

type searchResponse struct {
	Items           []searchResultItem `json:"items"`
	Total           int                `json:"total"`
	Degraded        bool               `json:"degraded"`
	SnapshotVersion uint64             `json:"snapshot_version"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	filters, err := filtersFromDTO(req.Filters)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	diversify := true
	if req.Diversify != nil {
		diversify = *req.Diversify
	}

	q, err := query.New(req.Query, filters, limit, diversify, s.defaults, query.Overrides{
		Alpha:  req.Alpha,
		Lambda: req.Lambda,
		KRRF:   req.KRRF,
		FetchK: req.FetchK,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	out, err := s.search.Search(r.Context(), &q)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]searchResultItem, len(out.Results))
	for i := range out.Results {
		res := &out.Results[i]
		items[i] = searchResultItem{
			ID:         res.ID(),
			Title:      res.Title(),
			Price:      res.Price(),
			Category:   res.Category(),
			Attributes: res.Attributes(),
			Score:      res.Score(),
		}
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Items:           items,
		Total:           len(items),
		Degraded:        out.Degraded,
		SnapshotVersion: out.Version,
	})
}

type productDTO struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	Price       float64           `json:"price"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type upsertRequest struct {
	Products []productDTO `json:"products"`
}

type upsertResponse struct {
	Upserted         int      `json:"upserted"`
	WithoutEmbedding []string `json:"without_embedding,omitempty"`
}

func (s *Server) handleUpsertProducts(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Products) == 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "at least one product is required")
		return
	}

	inputs := make([]cataloguc.ProductInput, len(req.Products))
	for i, p := range req.Products {
		inputs[i] = cataloguc.ProductInput{
			ID:          p.ID,
			Title:       p.Title,
			Description: p.Description,
			Category:    p.Category,
			Price:       p.Price,
			Attributes:  p.Attributes,
		}
	}

	report, err := s.catalog.Upsert(r.Context(), inputs)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, upsertResponse{
		Upserted:         report.Upserted,
		WithoutEmbedding: report.WithoutEmbedding,
	})
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

type deleteResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) handleDeleteProducts(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "at least one id is required")
		return
	}

	removed, err := s.catalog.Remove(r.Context(), req.IDs)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{Removed: removed})
}

type statsResponse struct {
	ProductCount    int        `json:"product_count"`
	VectorCount     int        `json:"vector_count"`
	SnapshotVersion uint64     `json:"snapshot_version"`
	LastUpdated     *time.Time `json:"last_updated,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.catalog.Stats(r.Context())

	resp := statsResponse{
		ProductCount:    stats.ProductCount,
		VectorCount:     stats.VectorCount,
		SnapshotVersion: stats.Version,
	}
	if !stats.LastUpdated.IsZero() {
		t := stats.LastUpdated.UTC()
		resp.LastUpdated = &t
	}

	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	// Degraded still serves traffic: lexical retrieval needs no external
	// dependency, so the probe answer stays 200.
	writeJSON(w, http.StatusOK, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

func filtersFromDTO(f *filterExpressionDTO) (filter.Expression, error) {
	if f == nil {
		return filter.Expression{}, nil
	}

	must, err := conditionsFromDTO(f.Must)
	if err != nil {
		return filter.Expression{}, err
	}
	mustNot, err := conditionsFromDTO(f.MustNot)
	if err != nil {
		return filter.Expression{}, err
	}

	return filter.NewExpression(must, mustNot)
}

func conditionsFromDTO(cs []filterConditionDTO) ([]filter.Condition, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	out := make([]filter.Condition, 0, len(cs))
	for _, c := range cs {
		cond, err := conditionFromDTO(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func conditionFromDTO(c filterConditionDTO) (filter.Condition, error) {
	set := 0
	if c.Match != nil {
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
			errors.New("filter condition must have exactly one of match, any_of or range")
	}

	switch {
	case c.Match != nil:
		return filter.NewMatch(c.Key, *c.Match)
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidParameter,
		domain.ErrEmptyProduct,
		domain.ErrProductNotFound,
		domain.ErrNoRetrieval,
		domain.ErrEmbeddingUnavailable,
		domain.ErrEmbeddingProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			s.logger.Warn("domain error", zap.Error(err))
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
