package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/mohammed-shakir/layer-atlas/internal/core/config"
)

func testConfig() config.Config {
	return config.Config{
		LogLevel:        "error",
		LayerCatalog:    "testdata/catalog.yaml",
		AnalysisWorkers: 2,
		HistogramBins:   10,
		DefaultViewport: config.ViewportCfg{Zoom: 2, Lat: 3.86, Lng: 47.28},
	}
}

func execute(t *testing.T, cfg config.Config, args ...string) (string, error) {
	t.Helper()
	var out, errb bytes.Buffer
	cmd := newRootCmd(cfg, &out, &errb)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCatalogValidate_OK(t *testing.T) {
	out, err := execute(t, testConfig(), "catalog", "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	var got struct {
		Layers int `json:"layers"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Layers != 3 {
		t.Fatalf("layers got %d want 3", got.Layers)
	}
}

func TestCatalogValidate_ReportsRejected(t *testing.T) {
	out, err := execute(t, testConfig(), "catalog", "validate", "--catalog", "testdata/broken.yaml")
	if err == nil {
		t.Fatalf("want error for rejected layer")
	}
	if !strings.Contains(out, `"warning"`) || !strings.Contains(out, `"error"`) {
		t.Fatalf("output got %q", out)
	}
}

func TestStateEncode_RoundTripsThroughDecode(t *testing.T) {
	out, err := execute(t, testConfig(),
		"state", "encode", "--layer", "66", "--layer", "5",
		"--date", "66=2021", "--opacity", "5=0.5", "--zoom", "6", "--tab", "analysis")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	q, err := url.ParseQuery(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("parse %q: %v", out, err)
	}
	if q.Get("zoom") != "6" || q.Get("tab") != "analysis" {
		t.Fatalf("query got %v", q)
	}
	if !strings.Contains(q.Get("layers"), `"date":"2021"`) {
		t.Fatalf("layers got %q", q.Get("layers"))
	}

	dec, err := execute(t, testConfig(), "state", "decode", strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Contains(dec, `"reset"`) || !strings.Contains(dec, `"date": "2021"`) {
		t.Fatalf("decode got %s", dec)
	}
}

func TestStateEncode_UnknownLayer(t *testing.T) {
	if _, err := execute(t, testConfig(), "state", "encode", "--layer", "404"); err == nil {
		t.Fatalf("want error for unknown layer")
	}
}

func TestTiles_ResolvesTimelineDate(t *testing.T) {
	q := `layers=[{"id":66,"opacity":1,"order":null,"date":"2019"}]`
	out, err := execute(t, testConfig(), "tiles", q)
	if err != nil {
		t.Fatalf("tiles: %v", err)
	}
	var defs []struct {
		LayerID int    `json:"layerId"`
		URL     string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &defs); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(defs) != 1 || !strings.Contains(defs[0].URL, "2019.tif") {
		t.Fatalf("defs got %+v", defs)
	}
}

func TestTiles_YAML(t *testing.T) {
	q := `layers=[{"id":1,"opacity":1,"order":null}]`
	out, err := execute(t, testConfig(), "tiles", "--yaml", q)
	if err != nil {
		t.Fatalf("tiles: %v", err)
	}
	if !strings.Contains(out, "layerId: 1") {
		t.Fatalf("yaml got %q", out)
	}
}

type fakeBackend struct {
	mu    sync.Mutex
	stats []url.Values
	sql   []string
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/titiler/statistics":
		f.mu.Lock()
		f.stats = append(f.stats, r.URL.Query())
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"type":"Feature","properties":{"statistics":{"b1":{"histogram":[[12,3],[1,2]]}}}}`)
	case "/sql":
		f.mu.Lock()
		f.sql = append(f.sql, r.URL.Query().Get("q"))
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"rows":[{"category":"reef","count":4}]}`)
	default:
		http.NotFound(w, r)
	}
}

func TestAnalyze_RunsEverySuitableLayer(t *testing.T) {
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	q := `layers=[{"id":66,"opacity":1,"order":null,"date":"2021"},{"id":5,"opacity":1,"order":null},{"id":1,"opacity":1,"order":null}]`
	out, err := execute(t, testConfig(), "analyze", q,
		"--geometry", "testdata/square.geojson",
		"--proxy", srv.URL,
		"--sql", srv.URL+"/sql")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var got struct {
		State   string `json:"state"`
		Results []struct {
			LayerID int    `json:"layerId"`
			Kind    string `json:"kind"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.State != "result" || len(got.Results) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got.Results[0].LayerID != 5 || got.Results[1].LayerID != 66 {
		t.Fatalf("results not sorted by id: %+v", got.Results)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.stats) != 1 || backend.stats[0].Get("cogUrl") != "s3://bucket/landcover/2021.tif" {
		t.Fatalf("statistics calls got %v", backend.stats)
	}
	if len(backend.sql) != 1 || strings.Contains(backend.sql[0], "{{geometry}}") {
		t.Fatalf("sql calls got %v", backend.sql)
	}
}

func TestAnalyze_RequiresGeometry(t *testing.T) {
	if _, err := execute(t, testConfig(), "analyze", "layers=[]"); err == nil {
		t.Fatalf("want error without --geometry")
	}
}
