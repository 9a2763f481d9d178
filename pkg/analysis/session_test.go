package analysis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mohammed-shakir/layer-atlas/pkg/layer"
	"github.com/mohammed-shakir/layer-atlas/pkg/registry"
	"github.com/mohammed-shakir/layer-atlas/pkg/timeline"
)

func entry(id int, p layer.Provider, suitable bool) registry.Entry {
	return registry.Entry{LayerConfig: layer.LayerConfig{ID: id, Provider: p, AnalysisSuitable: suitable, Opacity: 1}}
}

func drawnSession(t *testing.T, f Fetcher) *Session {
	t.Helper()
	s := NewSession(f, WithConcurrency(2))
	s.StartDrawing()
	g, err := ParseGeometry([]byte(squareGeoJSON))
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	if err := s.CompleteDrawing(g); err != nil {
		t.Fatalf("complete drawing: %v", err)
	}
	return s
}

func TestSession_Transitions(t *testing.T) {
	s := NewSession(nil)
	if err := s.CancelDrawing(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel from idle got %v", err)
	}
	s.StartDrawing()
	if err := s.CompleteDrawing(Geometry{}); err == nil {
		t.Fatalf("empty geometry accepted")
	}
	if s.View().State != StateDrawing {
		t.Fatalf("invalid geometry must keep drawing, got %s", s.View().State)
	}
	if err := s.CancelDrawing(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if s.View().State != StateIdle {
		t.Fatalf("state got %s", s.View().State)
	}
	if _, err := s.Begin([]registry.Entry{entry(1, layer.ProviderCOG, true)}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("analyze from idle got %v", err)
	}
}

func TestSession_PartialFailureKeepsOtherLayers(t *testing.T) {
	f := FetcherFunc(func(_ context.Context, e registry.Entry, _ Geometry) (Result, error) {
		if e.ID == 2 {
			return Result{}, &FetchError{Kind: ErrTimeout}
		}
		return Result{Kind: KindScalar, Stats: &Stats{Min: 1, Max: 2, Mean: 1.5}}, nil
	})
	s := drawnSession(t, f)
	res, err := s.Analyze(context.Background(), []registry.Entry{
		entry(1, layer.ProviderCOG, true),
		entry(2, layer.ProviderCOG, true),
		entry(3, layer.ProviderRaster, false),
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d results want 2 (layer 3 is not suitable)", len(res))
	}
	if res[1].Kind != KindScalar || res[1].LayerID != 1 {
		t.Fatalf("layer 1 got %+v", res[1])
	}
	if res[2].Kind != KindError || res[2].Message != "analysis service unavailable" {
		t.Fatalf("layer 2 got %+v", res[2])
	}
	if s.View().State != StateResult {
		t.Fatalf("state got %s", s.View().State)
	}
}

func TestSession_AllFailed(t *testing.T) {
	f := FetcherFunc(func(context.Context, registry.Entry, Geometry) (Result, error) {
		return Result{}, errors.New("boom")
	})
	s := drawnSession(t, f)
	if _, err := s.Analyze(context.Background(), []registry.Entry{entry(1, layer.ProviderCOG, true)}); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if s.View().State != StateFailed {
		t.Fatalf("state got %s", s.View().State)
	}
}

func TestSession_SameCombinationAnalyzedOnce(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc(func(context.Context, registry.Entry, Geometry) (Result, error) {
		calls.Add(1)
		return Result{Kind: KindScalar, Stats: &Stats{}}, nil
	})
	s := drawnSession(t, f)
	layers := []registry.Entry{entry(1, layer.ProviderCOG, true), entry(2, layer.ProviderRaster, true)}
	for i := 0; i < 3; i++ {
		if _, err := s.Analyze(context.Background(), layers); err != nil {
			t.Fatalf("analyze %d: %v", i, err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("fetch calls got %d want 2", calls.Load())
	}
	// a different layer set is analyzed again
	if _, err := s.Analyze(context.Background(), layers[:1]); err != nil {
		t.Fatalf("analyze subset: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("fetch calls got %d want 3", calls.Load())
	}
}

func TestSession_DateChangeAnalyzedAgain(t *testing.T) {
	var (
		mu   sync.Mutex
		cogs []string
	)
	f := FetcherFunc(func(_ context.Context, e registry.Entry, _ Geometry) (Result, error) {
		mu.Lock()
		cogs = append(cogs, resolveDate(e.AnalysisQuery, e))
		mu.Unlock()
		return Result{Kind: KindScalar, Stats: &Stats{}}, nil
	})
	s := drawnSession(t, f)

	e := entry(1, layer.ProviderRaster, true)
	e.AnalysisQuery = "s3://bucket/{year}-{month}-{day}.tif"
	e.Timeline = &timeline.Timeline{Format: "%Y-%m-%d", DefaultDate: "2020-01-01"}
	e.SelectedDate = "2020-01-01"
	if _, err := s.Analyze(context.Background(), []registry.Entry{e}); err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	// same date again is not refetched
	if _, err := s.Analyze(context.Background(), []registry.Entry{e}); err != nil {
		t.Fatalf("repeat analyze: %v", err)
	}
	e.SelectedDate = "2021-06-01"
	if _, err := s.Analyze(context.Background(), []registry.Entry{e}); err != nil {
		t.Fatalf("second analyze: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"s3://bucket/2020-01-01.tif", "s3://bucket/2021-06-01.tif"}
	if len(cogs) != len(want) || cogs[0] != want[0] || cogs[1] != want[1] {
		t.Fatalf("fetched %v want %v", cogs, want)
	}
}

func TestSession_StaleResponsesDiscarded(t *testing.T) {
	s := drawnSession(t, nil)
	t1, err := s.Begin([]registry.Entry{entry(1, layer.ProviderCOG, true)})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	// user starts over before the response lands
	s.StartDrawing()
	if s.Deliver(t1.Token, Result{LayerID: 1, Kind: KindScalar, Stats: &Stats{}}) {
		t.Fatalf("stale result accepted")
	}
	if len(s.View().Results) != 0 {
		t.Fatalf("stale result visible: %+v", s.View().Results)
	}
}

func TestSession_NewDrawingCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	f := FetcherFunc(func(ctx context.Context, _ registry.Entry, _ Geometry) (Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return Result{}, &FetchError{Kind: ErrNetwork, Err: ctx.Err()}
	})
	s := drawnSession(t, f)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Analyze(context.Background(), []registry.Entry{entry(1, layer.ProviderCOG, true)})
		errCh <- err
	}()
	<-started
	s.StartDrawing()
	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("got %v want ErrSuperseded", err)
	}
	if v := s.View(); v.State != StateDrawing || len(v.Results) != 0 {
		t.Fatalf("view got %+v", v)
	}
}

func TestSession_NoSuitableLayers(t *testing.T) {
	s := drawnSession(t, nil)
	if _, err := s.Begin([]registry.Entry{entry(1, layer.ProviderCOG, false)}); !errors.Is(err, ErrNoLayers) {
		t.Fatalf("got %v want ErrNoLayers", err)
	}
}
