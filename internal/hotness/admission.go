package hotness

import "github.com/mohammed-shakir/layer-atlas/internal/core/observability"

// Admission decides whether a response is worth caching: only keys whose
// score reached Threshold are admitted. A threshold of 1 or less admits a key
// on its first request.
type Admission struct {
	Hot       Interface
	Threshold float64
}

type sizer interface{ Size() int }

// Touch records one request for key.
func (a *Admission) Touch(key string) {
	if a == nil || a.Hot == nil {
		return
	}
	a.Hot.Inc(key)
	if s, ok := a.Hot.(sizer); ok {
		observability.SetHotKeys(s.Size())
	}
}

func (a *Admission) ShouldCache(key string) bool {
	if a == nil || a.Hot == nil || a.Threshold <= 1 {
		return true
	}
	ok := a.Hot.Score(key) >= a.Threshold
	if !ok {
		observability.IncCacheBypass()
	}
	return ok
}

func (a *Admission) Forget(keys ...string) {
	if a == nil || a.Hot == nil {
		return
	}
	a.Hot.Reset(keys...)
	if s, ok := a.Hot.(sizer); ok {
		observability.SetHotKeys(s.Size())
	}
}
