package catalog

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cartfox/shelfsearch/internal/domain"
)

// productDTO is the msgpack persistence shape of a catalog product.
// Seq preserves first-insertion order so index tie-breaks survive restarts.
type productDTO struct {
	ID          string            `msgpack:"id"`
	Title       string            `msgpack:"title"`
	Description string            `msgpack:"description"`
	Category    string            `msgpack:"category"`
	Price       float64           `msgpack:"price"`
	Attributes  map[string]string `msgpack:"attributes,omitempty"`
	Embedding   []float32         `msgpack:"embedding,omitempty"`
	Seq         uint64            `msgpack:"seq"`
}

func toDTO(p *domain.Product, seq uint64) productDTO {
	return productDTO{
		ID:          p.ID(),
		Title:       p.Title(),
		Description: p.Description(),
		Category:    p.Category(),
		Price:       p.Price(),
		Attributes:  p.Attributes(),
		Embedding:   p.Embedding(),
		Seq:         seq,
	}
}

func (d *productDTO) toDomain() domain.Product {
	return domain.ReconstructProduct(
		d.ID, d.Title, d.Description, d.Category,
		d.Price, d.Attributes, d.Embedding,
	)
}

func marshalDTO(d productDTO) ([]byte, error) {
	data, err := msgpack.Marshal(&d)
	if err != nil {
		return nil, fmt.Errorf("marshal product %s: %w", d.ID, err)
	}
	return data, nil
}

func unmarshalDTO(data []byte) (productDTO, error) {
	var d productDTO
	if err := msgpack.Unmarshal(data, &d); err != nil {
		return productDTO{}, fmt.Errorf("unmarshal product: %w", err)
	}
	return d, nil
}
