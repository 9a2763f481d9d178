package analysis

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mohammed-shakir/layer-atlas/pkg/layer"
	"github.com/mohammed-shakir/layer-atlas/pkg/registry"
	"github.com/mohammed-shakir/layer-atlas/pkg/timeline"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
	query []string
	body  []string
}

func (r *recorder) handler(status int, payload string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.paths = append(r.paths, req.URL.Path)
		r.query = append(r.query, req.URL.RawQuery)
		r.body = append(r.body, string(b))
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, payload)
	}
}

func cogEntry() registry.Entry {
	e := entry(66, layer.ProviderCOG, true)
	e.Body = &layer.Body{URL: "https://titiler.example.org/cog/tiles/{z}/{x}/{y}?url=s3%3A%2F%2Fbucket%2F{year}.tif"}
	e.Timeline = &timeline.Timeline{Format: "%Y", DefaultDate: "2020"}
	e.SelectedDate = "2022"
	return e
}

func TestCOGSource(t *testing.T) {
	base, cog, err := COGSource(cogEntry(), "")
	if err != nil {
		t.Fatalf("cog source: %v", err)
	}
	if base != "https://titiler.example.org" || cog != "s3://bucket/2022.tif" {
		t.Fatalf("got base=%q cog=%q", base, cog)
	}

	r := entry(7, layer.ProviderRaster, true)
	r.AnalysisQuery = "s3://bucket/raster.tif"
	base, cog, err = COGSource(r, "https://titiler.example.org")
	if err != nil || base != "https://titiler.example.org" || cog != "s3://bucket/raster.tif" {
		t.Fatalf("raster got base=%q cog=%q err=%v", base, cog, err)
	}
	if _, _, err := COGSource(entry(8, layer.ProviderVectorSQL, true), "x"); err == nil {
		t.Fatalf("vector layer has no raster source")
	}
}

func TestProxyFetcher_Scalar(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK,
		`{"features":[{"properties":{"statistics":{"b1":{"min":0,"max":10,"mean":4.2,"std":1.1}}}}]}`))
	defer srv.Close()

	f := &ProxyFetcher{Client: srv.Client(), ProxyURL: srv.URL}
	g, _ := ParseGeometry([]byte(squareGeoJSON))
	res, err := f.Fetch(context.Background(), cogEntry(), g)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Kind != KindScalar || res.Stats.Mean != 4.2 {
		t.Fatalf("got %+v", res)
	}
	if rec.paths[0] != "/api/titiler/statistics" {
		t.Fatalf("path got %q", rec.paths[0])
	}
	if !strings.Contains(rec.query[0], "titilerUrl=https%3A%2F%2Ftitiler.example.org") ||
		!strings.Contains(rec.query[0], "cogUrl=s3%3A%2F%2Fbucket%2F2022.tif") {
		t.Fatalf("query got %q", rec.query[0])
	}
	if !strings.Contains(rec.body[0], `"type":"Feature"`) {
		t.Fatalf("body got %q", rec.body[0])
	}
}

func TestProxyFetcher_ErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   ErrorKind
	}{
		{http.StatusGatewayTimeout, `{"error":"Request to TiTiler timed out","kind":"upstream_timeout"}`, ErrTimeout},
		{http.StatusBadGateway, `{"error":"TiTiler unreachable","kind":"upstream_unavailable"}`, ErrNetwork},
		{http.StatusBadRequest, `{"error":"Invalid titilerUrl","kind":"invalid_titiler_url"}`, ErrRejected},
		{http.StatusNotFound, `{"detail":"not found"}`, ErrUpstream},
	}
	g, _ := ParseGeometry([]byte(squareGeoJSON))
	for _, c := range cases {
		srv := httptest.NewServer((&recorder{}).handler(c.status, c.body))
		f := &ProxyFetcher{Client: srv.Client(), ProxyURL: srv.URL}
		_, err := f.Fetch(context.Background(), cogEntry(), g)
		srv.Close()
		var fe *FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("status %d: want FetchError, got %v", c.status, err)
		}
		if fe.Kind != c.kind || fe.Status != c.status {
			t.Fatalf("status %d: got kind=%s status=%d", c.status, fe.Kind, fe.Status)
		}
	}
}

func TestProxyFetcher_CategoricalFlag(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK,
		`{"type":"Feature","properties":{"statistics":{"b1":{"histogram":[[3,9],[1,2]]}}}}`))
	defer srv.Close()
	e := cogEntry()
	e.Categorical = true
	f := &ProxyFetcher{Client: srv.Client(), ProxyURL: srv.URL, HistogramBins: 10}
	g, _ := ParseGeometry([]byte(squareGeoJSON))
	res, err := f.Fetch(context.Background(), e, g)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Kind != KindCategorical || res.Categories[0].Count != 9 {
		t.Fatalf("got %+v", res)
	}
	if !strings.Contains(rec.query[0], "categorical=true") || strings.Contains(rec.query[0], "histogram_bins") {
		t.Fatalf("query got %q", rec.query[0])
	}
}

func TestSQLFetcher_SubstitutesGeometry(t *testing.T) {
	var gotQ string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQ = r.URL.Query().Get("q")
		_, _ = io.WriteString(w, `{"rows":[{"category":"reef","count":4}]}`)
	}))
	defer srv.Close()

	e := entry(5, layer.ProviderVectorSQL, true)
	e.AnalysisQuery = "select category, count(*) from reefs where st_intersects(the_geom, st_geomfromgeojson('{{geometry}}')) group by 1"
	f := &SQLFetcher{Client: srv.Client(), Endpoint: srv.URL + "/api/v2/sql"}
	g, _ := ParseGeometry([]byte(squareGeoJSON))
	res, err := f.Fetch(context.Background(), e, g)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if strings.Contains(gotQ, GeometryToken) || !strings.Contains(gotQ, `"type":"Polygon"`) {
		t.Fatalf("sql got %q", gotQ)
	}
	if res.Kind != KindCategorical || res.Categories[0].Label != "reef" {
		t.Fatalf("got %+v", res)
	}
}

func TestDispatcher_Unsupported(t *testing.T) {
	d := Dispatcher{}
	_, err := d.Fetch(context.Background(), entry(1, layer.ProviderBasemap, true), Geometry{})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != ErrUnsupported {
		t.Fatalf("got %v", err)
	}
}
