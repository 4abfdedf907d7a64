package catalog

import (
	"testing"

	"go.uber.org/zap"

	"github.com/cartfox/shelfsearch/internal/domain"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := Open("", true, zap.NewNop())
	if err != nil {
		t.Fatalf("open in-memory repo: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("close repo: %v", err)
		}
	})
	return repo
}

func mustProduct(t *testing.T, id, title string, price float64) *domain.Product {
	t.Helper()
	p, err := domain.NewProduct(id, title, "", "furniture", price, nil)
	if err != nil {
		t.Fatalf("new product %s: %v", id, err)
	}
	return &p
}
