package query

import (
	"fmt"
	"strings"

	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/domain/search/filter"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	MaxLimit       = 200
	MaxFetchK      = 500
)

// Params are the tunable ranking parameters. Defaults come from engine
// configuration; every value can be overridden per call.
type Params struct {
	Alpha      float64 // RRF lexical vs vector weight
	Lambda     float64 // MMR relevance vs diversity weight
	KRRF       int     // RRF smoothing constant
	FetchK     int     // candidate pool size before diversification
	MMREnabled bool    // global diversification toggle
}

// DefaultParams returns the documented design defaults.
func DefaultParams() Params {
	return Params{Alpha: 0.6, Lambda: 0.7, KRRF: 60, FetchK: 50, MMREnabled: true}
}

// Overrides carries optional per-call parameter replacements.
// Nil fields keep the engine defaults.
type Overrides struct {
	Alpha  *float64
	Lambda *float64
	KRRF   *int
	FetchK *int
}

// Query is a validated search request.
type Query struct {
	text      string
	filters   filter.Expression
	limit     int
	diversify bool
	params    Params
}

// New validates and normalizes a search request against the given defaults.
// Invalid parameters are rejected synchronously, before any retrieval work.
// Text may be empty: combined with filters it degrades to the documented
// default ordering instead of failing.
func New(
	text string,
	filters filter.Expression,
	limit int,
	diversify bool,
	defaults Params,
	ov Overrides,
) (Query, error) {
	if len(text) > MaxQueryLength {
		return Query{}, fmt.Errorf("query too long (max %d chars): %w", MaxQueryLength, domain.ErrInvalidParameter)
	}
	if limit <= 0 {
		return Query{}, fmt.Errorf("limit must be positive, got %d: %w", limit, domain.ErrInvalidParameter)
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	p := defaults
	if ov.Alpha != nil {
		p.Alpha = *ov.Alpha
	}
	if ov.Lambda != nil {
		p.Lambda = *ov.Lambda
	}
	if ov.KRRF != nil {
		p.KRRF = *ov.KRRF
	}
	if ov.FetchK != nil {
		p.FetchK = *ov.FetchK
	}

	if p.Alpha < 0 || p.Alpha > 1 {
		return Query{}, fmt.Errorf("alpha must be in [0,1], got %f: %w", p.Alpha, domain.ErrInvalidParameter)
	}
	if p.Lambda < 0 || p.Lambda > 1 {
		return Query{}, fmt.Errorf("lambda must be in [0,1], got %f: %w", p.Lambda, domain.ErrInvalidParameter)
	}
	if p.KRRF <= 0 {
		return Query{}, fmt.Errorf("k_rrf must be positive, got %d: %w", p.KRRF, domain.ErrInvalidParameter)
	}
	if p.FetchK < limit {
		return Query{}, fmt.Errorf(
			"fetch_k (%d) must be >= limit (%d): %w", p.FetchK, limit, domain.ErrInvalidParameter,
		)
	}
	if p.FetchK > MaxFetchK {
		p.FetchK = MaxFetchK
	}

	return Query{
		text:      strings.TrimSpace(text),
		filters:   filters,
		limit:     limit,
		diversify: diversify,
		params:    p,
	}, nil
}

// Text returns the trimmed query text.
func (q *Query) Text() string { return q.text }

// Filters returns the facet constraints.
func (q *Query) Filters() filter.Expression { return q.filters }

// Limit returns the requested result count.
func (q *Query) Limit() int { return q.limit }

// Diversify reports whether MMR re-ranking was requested.
func (q *Query) Diversify() bool { return q.diversify }

// Params returns the effective ranking parameters after overrides.
func (q *Query) Params() Params { return q.params }
