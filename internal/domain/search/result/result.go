package result

// Result is a single ranked search hit, materialized from the catalog.
type Result struct {
	id         string
	title      string
	price      float64
	category   string
	attributes map[string]string
	score      float64
}

// New creates a search result.
func New(
	id, title string, price float64, category string,
	attributes map[string]string, score float64,
) Result {
	return Result{
		id: id, title: title, price: price, category: category,
		attributes: attributes, score: score,
	}
}

// ID returns the product identifier.
func (r *Result) ID() string { return r.id }

// Title returns the product title.
func (r *Result) Title() string { return r.title }

// Price returns the product price.
func (r *Result) Price() float64 { return r.price }

// Category returns the product category.
func (r *Result) Category() string { return r.category }

// Attributes returns the product facets.
func (r *Result) Attributes() map[string]string { return r.attributes }

// Score returns the final ranking score (fused or MMR).
func (r *Result) Score() float64 { return r.score }
