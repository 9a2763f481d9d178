package hotness

import (
	"math"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestTracker(hl time.Duration) (*Tracker, *fakeClock) {
	fc := &fakeClock{now: time.Unix(0, 0).UTC()}
	tr := New(hl)
	tr.now = fc.Now
	return tr, fc
}

func almostEq(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("got=%g want=%g", got, want)
	}
}

const cogKey = "cog:info:abc:titiler.example.org:def"

func TestInc_Accumulates(t *testing.T) {
	tr, _ := newTestTracker(time.Minute)
	for i := 1; i <= 3; i++ {
		tr.Inc(cogKey)
		almostEq(t, tr.Score(cogKey), float64(i))
	}
	if tr.Score("") != 0 {
		t.Fatalf("empty key should score 0")
	}
}

func TestHalfLife(t *testing.T) {
	hl := 2 * time.Second
	tr, fc := newTestTracker(hl)
	tr.Inc(cogKey)

	fc.Add(hl)
	almostEq(t, tr.Score(cogKey), 0.5)
	fc.Add(hl)
	almostEq(t, tr.Score(cogKey), 0.25)

	tr.Inc(cogKey)
	almostEq(t, tr.Score(cogKey), 1.25)
}

func TestConcurrentInc(t *testing.T) {
	tr, _ := newTestTracker(time.Minute)
	const n = 256
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			tr.Inc(cogKey)
		}()
	}
	wg.Wait()
	almostEq(t, tr.Score(cogKey), n)
}

func TestReset_OnlySelected(t *testing.T) {
	tr, _ := newTestTracker(30 * time.Second)
	tr.Inc("a")
	tr.Inc("b")
	tr.Reset("a", "")
	if got := tr.Score("a"); got != 0 {
		t.Fatalf("a got %g want 0", got)
	}
	if tr.Score("b") <= 0 || tr.Size() != 1 {
		t.Fatalf("b should survive, size=%d", tr.Size())
	}
}

func TestDecay_Edges(t *testing.T) {
	if got := decay(0, 10, 60); got != 0 {
		t.Fatalf("got %g want 0", got)
	}
	if got := decay(5, 0, 60); got != 5 {
		t.Fatalf("got %g want 5", got)
	}
	if got := decay(5, 10, 0); got != 5 {
		t.Fatalf("got %g want 5", got)
	}
}

func TestAdmission(t *testing.T) {
	tr, fc := newTestTracker(time.Minute)
	a := &Admission{Hot: tr, Threshold: 2}

	a.Touch(cogKey)
	if a.ShouldCache(cogKey) {
		t.Fatalf("one request should not be admitted at threshold 2")
	}
	a.Touch(cogKey)
	if !a.ShouldCache(cogKey) {
		t.Fatalf("two requests should be admitted")
	}
	fc.Add(time.Minute)
	if a.ShouldCache(cogKey) {
		t.Fatalf("score should have decayed below threshold")
	}
	a.Forget(cogKey)
	if tr.Size() != 0 {
		t.Fatalf("forget left %d keys", tr.Size())
	}

	var nilAdm *Admission
	nilAdm.Touch(cogKey)
	if !nilAdm.ShouldCache(cogKey) || !(&Admission{Hot: tr, Threshold: 1}).ShouldCache("cold") {
		t.Fatalf("nil admission and threshold 1 admit everything")
	}
}
