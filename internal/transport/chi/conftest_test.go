package chi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cartfox/shelfsearch/internal/domain/search/query"
	cataloguc "github.com/cartfox/shelfsearch/internal/usecase/catalog"
	healthuc "github.com/cartfox/shelfsearch/internal/usecase/health"
	searchuc "github.com/cartfox/shelfsearch/internal/usecase/search"
)

type stubSearch struct {
	out     searchuc.Output
	err     error
	lastQ   *query.Query
	queries int
}

func (s *stubSearch) Search(_ context.Context, q *query.Query) (searchuc.Output, error) {
	s.lastQ = q
	s.queries++
	if s.err != nil {
		return searchuc.Output{}, s.err
	}
	return s.out, nil
}

type stubCatalog struct {
	report     cataloguc.Report
	upsertErr  error
	removed    int
	removeErr  error
	stats      cataloguc.Stats
	lastInputs []cataloguc.ProductInput
	lastIDs    []string
}

func (c *stubCatalog) Upsert(_ context.Context, inputs []cataloguc.ProductInput) (cataloguc.Report, error) {
	c.lastInputs = inputs
	if c.upsertErr != nil {
		return cataloguc.Report{}, c.upsertErr
	}
	return c.report, nil
}

func (c *stubCatalog) Remove(_ context.Context, ids []string) (int, error) {
	c.lastIDs = ids
	if c.removeErr != nil {
		return 0, c.removeErr
	}
	return c.removed, nil
}

func (c *stubCatalog) Stats(_ context.Context) cataloguc.Stats {
	return c.stats
}

type stubHealth struct {
	report healthuc.Report
}

func (h *stubHealth) Check(_ context.Context) healthuc.Report {
	return h.report
}

type testEnv struct {
	search  *stubSearch
	catalog *stubCatalog
	health  *stubHealth
	router  *chi.Mux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		search:  &stubSearch{},
		catalog: &stubCatalog{},
		health: &stubHealth{report: healthuc.Report{
			Status: healthuc.Healthy,
			Checks: map[string]healthuc.CheckResult{},
		}},
	}

	srv := NewServer(env.search, env.catalog, env.health, query.DefaultParams(), zap.NewNop())
	env.router = chi.NewRouter()
	srv.Register(env.router)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strReader(body))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func strReader(s string) *strings.Reader {
	return strings.NewReader(s)
}
