package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/layer-atlas/internal/catalog"
	"github.com/mohammed-shakir/layer-atlas/internal/metrics"
	"github.com/mohammed-shakir/layer-atlas/internal/proxy"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	allow, err := proxy.NewAllowlist([]string{"https://titiler.example.org"})
	if err != nil {
		t.Fatalf("allowlist: %v", err)
	}
	cat, err := catalog.Parse([]byte("layers:\n  - id: 7\n    provider: raster\n    query: https://t/{z}/{x}/{y}.png\n"), nil)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	p := metrics.Init(metrics.Config{})
	return NewRouter(slog.Default(), Deps{
		Proxy:   proxy.New(nil, nil, allow),
		Catalog: cat,
		Metrics: p.Handler(),
	})
}

func TestRouter_Mounts(t *testing.T) {
	r := newTestRouter(t)
	cases := []struct {
		method, path string
		status       int
		contains     string
	}{
		{http.MethodGet, "/healthz", http.StatusOK, "ok"},
		{http.MethodGet, "/readyz", http.StatusOK, `"ready"`},
		{http.MethodGet, "/api/layers/7", http.StatusOK, `"id":7`},
		{http.MethodPost, "/api/titiler/statistics?titilerUrl=https://evil.example&cogUrl=s3://a", http.StatusBadRequest, "Invalid titilerUrl"},
		{http.MethodGet, "/api/titiler/statistics", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/metrics", http.StatusOK, "http_requests_total"},
	}
	for _, c := range cases {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(c.method, c.path, nil))
		if rr.Code != c.status {
			t.Fatalf("%s %s status=%d want %d", c.method, c.path, rr.Code, c.status)
		}
		if c.contains != "" && !strings.Contains(rr.Body.String(), c.contains) {
			t.Fatalf("%s %s body missing %q:\n%s", c.method, c.path, c.contains, rr.Body.String())
		}
	}
}
