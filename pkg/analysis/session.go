package analysis

import (
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/layer-atlas/pkg/registry"
)

type State int

const (
	StateIdle State = iota
	StateDrawing
	StateDrawn
	StateAnalyzing
	StateResult
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDrawing:
		return "drawing"
	case StateDrawn:
		return "drawn"
	case StateAnalyzing:
		return "analyzing"
	case StateResult:
		return "result"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrInvalidTransition = errors.New("analysis: invalid state transition")
	ErrNoGeometry        = errors.New("analysis: no geometry drawn")
	ErrNoLayers          = errors.New("analysis: no analysis suitable layers active")
	// ErrSuperseded is returned by Analyze when a newer drawing or analysis
	// replaced the one it was running.
	ErrSuperseded = errors.New("analysis: superseded by a newer request")
)

// Ticket identifies one analysis request. Fresh is false when the same
// geometry and layer set were already analyzed and nothing was started.
type Ticket struct {
	Token  uint64
	Layers []registry.Entry
	Fresh  bool
}

// View is a snapshot of the session.
type View struct {
	State    State
	Geometry *Geometry
	Token    uint64
	Results  map[int]Result
}

// Session drives one drawing and its analysis. Results are only accepted for
// the current token; starting a new drawing invalidates everything in flight.
type Session struct {
	fetcher     Fetcher
	concurrency int
	log         *slog.Logger

	mu      sync.Mutex
	state   State
	geom    *Geometry
	token   uint64
	cancel  context.CancelFunc
	results map[int]Result
	pending int
	key     uint64
	hasKey  bool
}

type SessionOption func(*Session)

// WithConcurrency bounds the layers fetched at once.
func WithConcurrency(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

func NewSession(f Fetcher, opts ...SessionOption) *Session {
	s := &Session{
		fetcher:     f,
		concurrency: 4,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		results:     map[int]Result{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// invalidateLocked drops in-flight work by moving to a new token.
func (s *Session) invalidateLocked() {
	s.token++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.results = map[int]Result{}
	s.pending = 0
}

// StartDrawing discards the current geometry and its results.
func (s *Session) StartDrawing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked()
	s.geom = nil
	s.hasKey = false
	s.state = StateDrawing
}

// CancelDrawing returns to idle from drawing.
func (s *Session) CancelDrawing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDrawing {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, s.state)
	}
	s.state = StateIdle
	return nil
}

// CompleteDrawing validates g and keeps it. An invalid geometry leaves the
// session drawing.
func (s *Session) CompleteDrawing(g Geometry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDrawing {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, s.state)
	}
	if err := g.Validate(); err != nil {
		return err
	}
	s.geom = &g
	s.state = StateDrawn
	return nil
}

// Clear drops the geometry and returns to idle.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked()
	s.geom = nil
	s.hasKey = false
	s.state = StateIdle
}

// Begin starts an analysis over the analysis suitable entries. A combination
// already analyzed, or being analyzed, is not started again.
func (s *Session) Begin(entries []registry.Entry) (Ticket, error) {
	eligible := make([]registry.Entry, 0, len(entries))
	for _, e := range entries {
		if e.AnalysisSuitable {
			eligible = append(eligible, e)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateDrawn, StateAnalyzing, StateResult, StateFailed:
	default:
		return Ticket{}, fmt.Errorf("%w: analyze from %s", ErrInvalidTransition, s.state)
	}
	if s.geom == nil {
		return Ticket{}, ErrNoGeometry
	}
	if len(eligible) == 0 {
		return Ticket{}, ErrNoLayers
	}
	key := combinationKey(*s.geom, eligible)
	if s.hasKey && s.key == key && s.state != StateFailed {
		return Ticket{Token: s.token, Layers: eligible, Fresh: false}, nil
	}
	s.invalidateLocked()
	s.key, s.hasKey = key, true
	s.pending = len(eligible)
	s.state = StateAnalyzing
	return Ticket{Token: s.token, Layers: eligible, Fresh: true}, nil
}

// Deliver records a layer result. It reports false, and drops the result,
// when token is no longer current.
func (s *Session) Deliver(token uint64, r Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token || s.state != StateAnalyzing {
		s.log.Debug("stale analysis result dropped", "layer_id", r.LayerID, "token", token, "current", s.token)
		return false
	}
	if _, dup := s.results[r.LayerID]; dup {
		return false
	}
	s.results[r.LayerID] = r
	s.pending--
	if s.pending > 0 {
		return true
	}
	s.state = StateFailed
	for _, res := range s.results {
		if res.Kind != KindError {
			s.state = StateResult
			break
		}
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return true
}

// Analyze runs Begin and fetches every eligible layer, at most concurrency at
// a time. A failing layer becomes an error result and never blanks the others.
// It returns ErrSuperseded when a newer request replaced this one meanwhile.
func (s *Session) Analyze(ctx context.Context, entries []registry.Entry) (map[int]Result, error) {
	t, err := s.Begin(entries)
	if err != nil {
		return nil, err
	}
	if !t.Fresh {
		return s.View().Results, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.token != t.Token {
		s.mu.Unlock()
		cancel()
		return nil, ErrSuperseded
	}
	s.cancel = cancel
	geom := *s.geom
	s.mu.Unlock()
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(s.concurrency)
	for _, e := range t.Layers {
		g.Go(func() error {
			res, err := s.fetcher.Fetch(gctx, e, geom)
			if err != nil {
				fe := asFetchError(err)
				s.log.Warn("layer analysis failed", "layer_id", e.ID, "kind", string(fe.Kind), "err", err)
				res = errorResult(e.ID, fe)
			}
			res.LayerID = e.ID
			s.Deliver(t.Token, res)
			return nil
		})
	}
	_ = g.Wait()

	v := s.View()
	if v.Token != t.Token {
		return nil, ErrSuperseded
	}
	return v.Results, nil
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{State: s.state, Token: s.token, Results: maps.Clone(s.results)}
	if s.geom != nil {
		g := *s.geom
		v.Geometry = &g
	}
	return v
}

// combinationKey identifies a geometry plus the analysis inputs of each layer:
// the resolved source (date tokens applied), chart limit and result shape.
// Activation order does not matter.
func combinationKey(g Geometry, entries []registry.Entry) uint64 {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b registry.Entry) int { return cmp.Compare(a.ID, b.ID) })

	h := xxhash.New()
	var buf [8]byte
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	writeStr := func(v string) {
		writeUint(uint64(len(v)))
		_, _ = h.WriteString(v)
	}

	writeUint(g.Fingerprint())
	for _, e := range sorted {
		writeUint(uint64(e.ID))
		writeStr(string(e.Provider))
		writeStr(resolveDate(e.AnalysisQuery, e))
		if e.Body != nil {
			writeStr(resolveDate(e.Body.URL, e))
			writeStr(resolveDate(e.Body.Source, e))
		}
		writeStr(e.AnalysisType)
		writeUint(uint64(chartLimit(e)))
		if e.Categorical {
			writeUint(1)
		} else {
			writeUint(0)
		}
	}
	return h.Sum64()
}
