// Package registry holds the active layer set: one entry per layer id, kept in a
// single order shared by the map canvas and the legend.
package registry

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohammed-shakir/layer-atlas/pkg/layer"
	"github.com/mohammed-shakir/layer-atlas/pkg/timeline"
)

var (
	// ErrReentrantMutation is returned for mutations attempted from inside a
	// listener. Mutations from other goroutines wait for the notification to
	// finish instead.
	ErrReentrantMutation = errors.New("registry: mutation during notification")
	ErrNotActive         = errors.New("registry: layer not active")
	// ErrBoundsOnly marks a failure to fit the map to a layer's bounds. The layer
	// itself rendered, so it is logged and not recorded on the entry.
	ErrBoundsOnly = errors.New("registry: layer bounds unavailable")
)

// Entry is an active layer: its configuration plus live state.
type Entry struct {
	layer.LayerConfig
	SelectedDate string `json:"date,omitempty"`
	Loading      bool   `json:"loading"`
	LastError    string `json:"lastError,omitempty"`
	Seq          uint64 `json:"-"`
}

func (e Entry) clone() Entry {
	e.LayerConfig = e.LayerConfig.Clone()
	return e
}

// Compare orders entries: explicit orders first, ascending, then entries in
// append order. Ties are broken by activation sequence.
func Compare(a, b Entry) int {
	switch {
	case a.Order != nil && b.Order == nil:
		return -1
	case a.Order == nil && b.Order != nil:
		return 1
	case a.Order != nil:
		if c := cmp.Compare(*a.Order, *b.Order); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.Seq, b.Seq)
}

type Op string

const (
	OpActivate   Op = "activate"
	OpDeactivate Op = "deactivate"
	OpUpdate     Op = "update"
	OpRestore    Op = "restore"
	OpReset      Op = "reset"
)

// Change describes the mutation a notification is about. ID is 0 for
// whole-registry operations.
type Change struct {
	Op Op
	ID int
}

// Listener receives the ordered snapshot after each mutation.
type Listener func(entries []Entry, ch Change)

type Registry struct {
	// mutMu serializes mutations, including their notification.
	mutMu sync.Mutex
	// owner is the goroutine holding mutMu, 0 when free.
	owner atomic.Uint64

	mu        sync.Mutex
	entries   map[int]*Entry
	seq       uint64
	listeners map[uint64]Listener
	nextSub   uint64
	log       *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		entries:   map[int]*Entry{},
		listeners: map[uint64]Listener{},
		log:       logger,
	}
}

// Subscribe registers fn and returns a function removing it.
func (r *Registry) Subscribe(fn Listener) (unsubscribe func()) {
	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// mutate runs fn under the lock and, when it reports a change, notifies every
// listener with the new snapshot before returning.
func (r *Registry) mutate(ch Change, fn func() (bool, error)) error {
	g := goroutineID()
	if r.owner.Load() == g {
		return ErrReentrantMutation
	}
	r.mutMu.Lock()
	r.owner.Store(g)
	defer func() {
		r.owner.Store(0)
		r.mutMu.Unlock()
	}()

	r.mu.Lock()
	changed, err := fn()
	if err != nil || !changed {
		r.mu.Unlock()
		return err
	}
	snap := r.orderedLocked()
	ids := make([]uint64, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]Listener, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, r.listeners[id])
	}
	r.mu.Unlock()

	for _, l := range subs {
		l(cloneAll(snap), ch)
	}
	return nil
}

func cloneAll(in []Entry) []Entry {
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = e.clone()
	}
	return out
}

// normalize re-applies the layer rules to an already decoded config.
func normalize(cfg layer.LayerConfig) (layer.LayerConfig, error) {
	if cfg.ID <= 0 {
		return cfg, &layer.ValidationError{ID: cfg.ID, Field: "id", Reason: "must be a positive integer"}
	}
	if cfg.Provider == "" {
		return cfg, &layer.ValidationError{ID: cfg.ID, Field: "provider", Reason: "required"}
	}
	if cfg.ChartLimit != nil && *cfg.ChartLimit <= 0 {
		return cfg, &layer.ValidationError{ID: cfg.ID, Field: "chartLimit", Reason: "must be a positive integer"}
	}
	cfg = cfg.Clone()
	cfg.Opacity = layer.ClampOpacity(cfg.Opacity)
	return cfg, nil
}

// Activate inserts cfg. If the layer is already active its identity, position
// and live attributes are kept and only the configuration is refreshed.
func (r *Registry) Activate(cfg layer.LayerConfig) error {
	cfg, err := normalize(cfg)
	if err != nil {
		return err
	}
	return r.mutate(Change{Op: OpActivate, ID: cfg.ID}, func() (bool, error) {
		if cur, ok := r.entries[cfg.ID]; ok {
			cfg.Opacity = cur.Opacity
			cfg.Order = cur.Order
			if cur.ChartLimit != nil {
				cfg.ChartLimit = cur.ChartLimit
			}
			cur.LayerConfig = cfg
			return true, nil
		}
		r.seq++
		r.entries[cfg.ID] = &Entry{LayerConfig: cfg, Loading: true, Seq: r.seq}
		return true, nil
	})
}

// Deactivate removes the layer. Unknown ids are a no-op.
func (r *Registry) Deactivate(id int) error {
	return r.mutate(Change{Op: OpDeactivate, ID: id}, func() (bool, error) {
		if _, ok := r.entries[id]; !ok {
			return false, nil
		}
		delete(r.entries, id)
		return true, nil
	})
}

func (r *Registry) update(id int, fn func(e *Entry) error) error {
	return r.mutate(Change{Op: OpUpdate, ID: id}, func() (bool, error) {
		e, ok := r.entries[id]
		if !ok {
			return false, fmt.Errorf("layer %d: %w", id, ErrNotActive)
		}
		if err := fn(e); err != nil {
			return false, err
		}
		return true, nil
	})
}

// SetOpacity clamps v to [0,1].
func (r *Registry) SetOpacity(id int, v float64) error {
	return r.update(id, func(e *Entry) error {
		e.Opacity = layer.ClampOpacity(v)
		return nil
	})
}

func (r *Registry) SetOrder(id int, order int) error {
	return r.update(id, func(e *Entry) error {
		e.Order = &order
		return nil
	})
}

// SetChartLimit sets or, with nil, clears the chart limit.
func (r *Registry) SetChartLimit(id int, limit *int) error {
	if limit != nil && *limit <= 0 {
		return &layer.ValidationError{ID: id, Field: "chartLimit", Reason: "must be a positive integer"}
	}
	return r.update(id, func(e *Entry) error {
		if limit == nil {
			e.ChartLimit = nil
			return nil
		}
		v := *limit
		e.ChartLimit = &v
		return nil
	})
}

// SetDate selects the timeline date of a temporal layer. A date the timeline
// cannot parse is kept and recorded as the entry's last error; rendering then
// falls back to the default date.
func (r *Registry) SetDate(id int, date string) error {
	return r.update(id, func(e *Entry) error {
		if e.Timeline == nil {
			return &layer.ValidationError{ID: id, Field: "date", Reason: "layer has no timeline"}
		}
		t, err := e.Timeline.Parse(date)
		if err != nil {
			fe := &timeline.FallbackError{Selected: date, Format: e.Timeline.Format, Err: err}
			e.SelectedDate = date
			e.LastError = fe.Error()
			r.log.Warn("timeline date fallback", "layer_id", id, "date", date, "err", err)
			return nil
		}
		e.SelectedDate = e.Timeline.Clamp(t).Format(time.DateOnly)
		e.LastError = ""
		return nil
	})
}

// Reorder moves the entry at position from to position to and renumbers the
// orders of every entry to match the new sequence.
func (r *Registry) Reorder(from, to int) error {
	return r.mutate(Change{Op: OpUpdate}, func() (bool, error) {
		list := r.orderedLocked()
		if from < 0 || from >= len(list) || to < 0 || to >= len(list) {
			return false, fmt.Errorf("registry: reorder %d -> %d out of range [0,%d)", from, to, len(list))
		}
		if from == to {
			return false, nil
		}
		moved := list[from]
		list = slices.Delete(list, from, from+1)
		list = slices.Insert(list, to, moved)
		for i, e := range list {
			ord := i
			r.entries[e.ID].Order = &ord
		}
		return true, nil
	})
}

func (r *Registry) MarkLoading(id int, loading bool) error {
	return r.update(id, func(e *Entry) error {
		e.Loading = loading
		if loading {
			e.LastError = ""
		}
		return nil
	})
}

// MarkFailed records a render failure reported by the map canvas.
func (r *Registry) MarkFailed(id int, cause error) error {
	if errors.Is(cause, ErrBoundsOnly) {
		r.log.Warn("layer bounds unavailable", "layer_id", id, "err", cause)
		return nil
	}
	return r.update(id, func(e *Entry) error {
		e.Loading = false
		if cause != nil {
			e.LastError = cause.Error()
		}
		return nil
	})
}

// Restore replaces the whole registry with entries, in slice order. Nothing
// changes when any entry is invalid.
func (r *Registry) Restore(entries []Entry) error {
	next := make(map[int]*Entry, len(entries))
	for _, in := range entries {
		cfg, err := normalize(in.LayerConfig)
		if err != nil {
			return fmt.Errorf("registry: restore: %w", err)
		}
		if _, dup := next[cfg.ID]; dup {
			return fmt.Errorf("registry: restore: duplicate layer %d", cfg.ID)
		}
		e := &Entry{LayerConfig: cfg, SelectedDate: in.SelectedDate, Loading: true}
		if e.SelectedDate != "" && cfg.Timeline != nil {
			if _, err := cfg.Timeline.Parse(e.SelectedDate); err != nil {
				e.LastError = (&timeline.FallbackError{Selected: e.SelectedDate, Format: cfg.Timeline.Format, Err: err}).Error()
			}
		}
		next[cfg.ID] = e
	}
	return r.mutate(Change{Op: OpRestore}, func() (bool, error) {
		for _, in := range entries {
			r.seq++
			next[in.ID].Seq = r.seq
		}
		r.entries = next
		return true, nil
	})
}

// Reset empties the registry.
func (r *Registry) Reset() error {
	return r.mutate(Change{Op: OpReset}, func() (bool, error) {
		if len(r.entries) == 0 {
			return false, nil
		}
		r.entries = map[int]*Entry{}
		return true, nil
	})
}

func (r *Registry) Get(id int) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// OrderedEntries returns a copy of the entries sorted by Compare. Both the map
// z-index and the legend use this order.
func (r *Registry) OrderedEntries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneAll(r.orderedLocked())
}

func (r *Registry) orderedLocked() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	slices.SortFunc(out, Compare)
	return out
}
