// Package hotness scores how often a COG's metadata is requested. Scores decay
// exponentially so a burst of requests cools down on its own.
package hotness

import (
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

type Interface interface {
	Inc(key string)
	Score(key string) float64
	Reset(keys ...string)
}

const numShards = 64

// Tracker is a sharded decaying counter. The zero value is not usable; call New.
type Tracker struct {
	halfLife float64 // seconds
	now      func() time.Time
	shards   [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*counter
}

type counter struct {
	score float64
	last  time.Time
}

var _ Interface = (*Tracker)(nil)

func New(halfLife time.Duration) *Tracker {
	if halfLife <= 0 {
		halfLife = 5 * time.Minute
	}
	t := &Tracker{halfLife: halfLife.Seconds(), now: time.Now}
	for i := range t.shards {
		t.shards[i].m = make(map[string]*counter)
	}
	return t
}

func (t *Tracker) Inc(key string) {
	if key == "" {
		return
	}
	s := t.shard(key)
	n := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.m[key]
	if c == nil {
		s.m[key] = &counter{score: 1, last: n}
		return
	}
	c.score = decay(c.score, n.Sub(c.last).Seconds(), t.halfLife) + 1
	c.last = n
}

func (t *Tracker) Score(key string) float64 {
	if key == "" {
		return 0
	}
	s := t.shard(key)
	s.mu.RLock()
	c := s.m[key]
	if c == nil {
		s.mu.RUnlock()
		return 0
	}
	score, last := c.score, c.last
	s.mu.RUnlock()
	return decay(score, t.now().Sub(last).Seconds(), t.halfLife)
}

// Reset forgets keys. Called when a COG is invalidated so a rewritten file
// starts cold.
func (t *Tracker) Reset(keys ...string) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		s := t.shard(k)
		s.mu.Lock()
		delete(s.m, k)
		s.mu.Unlock()
	}
}

// Size is the number of tracked keys.
func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.RLock()
		total += len(t.shards[i].m)
		t.shards[i].mu.RUnlock()
	}
	return total
}

// score * e^(-ln2/halfLife * dt)
func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	return score * math.Exp(-math.Ln2/halfLife*dt)
}

func (t *Tracker) shard(key string) *shard {
	return &t.shards[xxhash.Sum64String(key)&(numShards-1)]
}
