// Package attribute provides hard filtering over structured product facets.
// It is a plain multi-valued inverted mapping from facet value to product
// id set plus a numeric table for range facets. Like the other indexes it
// is immutable once built.
package attribute

import (
	"strings"

	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/domain/search/filter"
)

// PriceField is the reserved numeric facet backed by Product.Price.
const PriceField = "price"

// CategoryField is the reserved facet backed by Product.Category.
const CategoryField = "category"

// Index maps facet values to product ids.
type Index struct {
	facets   map[string]map[string]map[string]struct{} // facet -> value -> ids
	numerics map[string]map[string]float64             // facet -> id -> value
	all      map[string]struct{}
}

// Build indexes the category, price, and attribute facets of every product.
// Facet values are matched case-insensitively.
func Build(products []domain.Product) *Index {
	ix := &Index{
		facets:   make(map[string]map[string]map[string]struct{}),
		numerics: map[string]map[string]float64{PriceField: make(map[string]float64, len(products))},
		all:      make(map[string]struct{}, len(products)),
	}
	for i := range products {
		p := &products[i]
		ix.all[p.ID()] = struct{}{}
		ix.add(CategoryField, p.Category(), p.ID())
		ix.numerics[PriceField][p.ID()] = p.Price()
		for facet, value := range p.Attributes() {
			ix.add(facet, value, p.ID())
		}
	}
	return ix
}

func (ix *Index) add(facet, value, id string) {
	if facet == "" || value == "" {
		return
	}
	facet = strings.ToLower(facet)
	value = strings.ToLower(value)
	if ix.facets[facet] == nil {
		ix.facets[facet] = make(map[string]map[string]struct{})
	}
	if ix.facets[facet][value] == nil {
		ix.facets[facet][value] = make(map[string]struct{})
	}
	ix.facets[facet][value][id] = struct{}{}
}

// Resolve evaluates a filter expression into the allowed product id set.
// A nil return means no restriction; an empty non-nil set means the filters
// eliminated every product.
func (ix *Index) Resolve(expr filter.Expression) map[string]struct{} {
	if expr.IsEmpty() {
		return nil
	}

	allowed := cloneSet(ix.all)
	for _, c := range expr.Must() {
		allowed = intersect(allowed, ix.matching(c))
		if len(allowed) == 0 {
			return allowed
		}
	}
	for _, c := range expr.MustNot() {
		for id := range ix.matching(c) {
			delete(allowed, id)
		}
		if len(allowed) == 0 {
			return allowed
		}
	}
	return allowed
}

// matching returns the ids satisfying a single condition.
func (ix *Index) matching(c filter.Condition) map[string]struct{} {
	out := make(map[string]struct{})
	switch {
	case c.IsMatch():
		values := ix.facets[strings.ToLower(c.Key())]
		if values == nil {
			return out
		}
		for _, want := range c.AnyOf() {
			for id := range values[strings.ToLower(want)] {
				out[id] = struct{}{}
			}
		}
	case c.IsRange():
		table := ix.numerics[strings.ToLower(c.Key())]
		for id, v := range table {
			if c.Range().Contains(v) {
				out[id] = struct{}{}
			}
		}
	}
	return out
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(map[string]struct{}, len(a))
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}
