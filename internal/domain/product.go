package domain

import (
	"fmt"
	"sort"
	"strings"
)

// MaxDescriptionSize caps the description length used for indexing.
const MaxDescriptionSize = 32768 // 32KB

// Product is the catalog aggregate (immutable by replacement).
// The embedding is computed once at ingestion; a product with no embedding
// is still retrievable lexically and through attribute filters.
type Product struct {
	id          string
	title       string
	description string
	category    string
	price       float64
	attributes  map[string]string
	embedding   []float32
	blob        string
}

// NewProduct validates and creates a Product.
// Title and description may be empty: such products degrade to
// attribute-only retrieval rather than being rejected.
func NewProduct(
	id, title, description, category string,
	price float64, attributes map[string]string,
) (Product, error) {
	if id == "" {
		return Product{}, ErrEmptyProduct
	}
	if len(id) > 256 {
		return Product{}, fmt.Errorf("product id too long (max 256): %w", ErrInvalidParameter)
	}
	if price < 0 {
		return Product{}, fmt.Errorf("price must be non-negative, got %f: %w", price, ErrInvalidParameter)
	}
	if len(description) > MaxDescriptionSize {
		description = description[:MaxDescriptionSize]
	}

	p := Product{
		id:          id,
		title:       title,
		description: description,
		category:    category,
		price:       price,
		attributes:  cloneStringMap(attributes),
	}
	p.blob = buildBlob(p)
	return p, nil
}

// ReconstructProduct creates a Product without validation (storage hydration).
func ReconstructProduct(
	id, title, description, category string,
	price float64, attributes map[string]string, embedding []float32,
) Product {
	p := Product{
		id:          id,
		title:       title,
		description: description,
		category:    category,
		price:       price,
		attributes:  attributes,
		embedding:   embedding,
	}
	p.blob = buildBlob(p)
	return p
}

// ID returns the stable unique key.
func (p *Product) ID() string { return p.id }

// Title returns the product title.
func (p *Product) Title() string { return p.title }

// Description returns the product description.
func (p *Product) Description() string { return p.description }

// Category returns the product category facet.
func (p *Product) Category() string { return p.category }

// Price returns the numeric price.
func (p *Product) Price() float64 { return p.price }

// Attributes returns the facet name -> value mapping (room, material, color).
func (p *Product) Attributes() map[string]string { return p.attributes }

// Embedding returns the cached embedding vector, nil when unavailable.
func (p *Product) Embedding() []float32 { return p.embedding }

// HasEmbedding reports whether the product participates in vector retrieval.
func (p *Product) HasEmbedding() bool { return len(p.embedding) > 0 }

// Blob returns the derived text used for lexical indexing and embedding.
func (p *Product) Blob() string { return p.blob }

// SetEmbedding caches the embedding computed at ingestion.
func (p *Product) SetEmbedding(v []float32) { p.embedding = v }

// buildBlob concatenates title, description, category and attribute values
// into the text indexed lexically and sent to the embedder. Attribute order
// is sorted by facet name so the blob is stable across upserts.
func buildBlob(p Product) string {
	parts := make([]string, 0, 3+len(p.attributes))
	for _, s := range []string{p.title, p.description, p.category} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	facets := make([]string, 0, len(p.attributes))
	for name := range p.attributes {
		facets = append(facets, name)
	}
	sort.Strings(facets)
	for _, name := range facets {
		if v := p.attributes[name]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
