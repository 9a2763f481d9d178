package urlstate

import (
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/mohammed-shakir/layer-atlas/pkg/registry"
)

// DefaultDebounce matches the router replace throttle of the web client.
const DefaultDebounce = 100 * time.Millisecond

// Sink receives the query string to put in the address bar.
type Sink interface {
	Replace(query string)
}

type SinkFunc func(query string)

func (f SinkFunc) Replace(query string) { f(query) }

type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

// Writer keeps the query string in sync with the registry. Bursts of changes
// within the debounce window produce one write, built from the state at the
// time of the write.
type Writer struct {
	codec Codec
	reg   *registry.Registry
	sink  Sink
	delay time.Duration
	after afterFunc
	log   *slog.Logger

	mu       sync.Mutex
	pending  timer
	viewport Viewport
	tab      string
	drawing  bool
	extra    url.Values
	last     string
	written  bool
	unsub    func()
}

type WriterOption func(*Writer)

func WithDebounce(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d >= 0 {
			w.delay = d
		}
	}
}

func WithLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) {
		if l != nil {
			w.log = l
		}
	}
}

func withAfterFunc(f afterFunc) WriterOption {
	return func(w *Writer) { w.after = f }
}

// NewWriter subscribes to reg. Call Close to detach.
func NewWriter(reg *registry.Registry, c Codec, sink Sink, initial State, opts ...WriterOption) *Writer {
	w := &Writer{
		codec:    c,
		reg:      reg,
		sink:     sink,
		delay:    DefaultDebounce,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		viewport: initial.Viewport,
		tab:      initial.Tab,
		drawing:  initial.Drawing,
		extra:    initial.Extra,
		after: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, o := range opts {
		o(w)
	}
	w.unsub = reg.Subscribe(func([]registry.Entry, registry.Change) { w.schedule() })
	return w
}

func (w *Writer) SetViewport(v Viewport) {
	w.mu.Lock()
	w.viewport = v
	w.mu.Unlock()
	w.schedule()
}

func (w *Writer) SetTab(tab string) {
	w.mu.Lock()
	w.tab = tab
	w.mu.Unlock()
	w.schedule()
}

func (w *Writer) SetDrawing(on bool) {
	w.mu.Lock()
	w.drawing = on
	w.mu.Unlock()
	w.schedule()
}

func (w *Writer) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = w.after(w.delay, w.Flush)
}

// Flush writes the current state now, unless it equals the last write.
func (w *Writer) Flush() {
	entries := w.reg.OrderedEntries()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	st := State{
		Layers:   LayersFrom(entries),
		Viewport: w.viewport,
		Tab:      w.tab,
		Drawing:  w.drawing,
		Extra:    w.extra,
	}
	q := w.codec.ToQueryString(st)
	if w.written && q == w.last {
		w.mu.Unlock()
		return
	}
	w.last, w.written = q, true
	w.mu.Unlock()

	w.log.Debug("url state write", "layers", len(entries))
	w.sink.Replace(q)
}

// Close stops pending writes and unsubscribes from the registry.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	unsub := w.unsub
	w.unsub = nil
	w.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
