// Package cache keeps TiTiler /info responses in a process-local LRU, with an
// optional shared Redis tier behind it.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/layer-atlas/internal/cache/keys"
	"github.com/mohammed-shakir/layer-atlas/internal/core/observability"
	"github.com/mohammed-shakir/layer-atlas/internal/hotness"
)

// Remote is the shared tier; redisstore.Client implements it.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	DelPrefix(ctx context.Context, prefix string) (int, error)
}

type InfoCache struct {
	mem       *expirable.LRU[string, []byte]
	remote    Remote
	ttl       time.Duration
	opTimeout time.Duration
	admit     *hotness.Admission
	logger    *slog.Logger
}

type Option func(*InfoCache)

func WithRemote(r Remote) Option { return func(c *InfoCache) { c.remote = r } }

func WithOpTimeout(d time.Duration) Option { return func(c *InfoCache) { c.opTimeout = d } }

// WithAdmission caches a COG's info only once it is requested often enough.
func WithAdmission(a *hotness.Admission) Option { return func(c *InfoCache) { c.admit = a } }

func WithLogger(l *slog.Logger) Option { return func(c *InfoCache) { c.logger = l } }

func NewInfoCache(size int, ttl time.Duration, opts ...Option) *InfoCache {
	if size <= 0 {
		size = 512
	}
	c := &InfoCache{
		mem:       expirable.NewLRU[string, []byte](size, nil, ttl),
		ttl:       ttl,
		opTimeout: 250 * time.Millisecond,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get never fails; a Redis error is logged and reported as a miss.
func (c *InfoCache) Get(ctx context.Context, titilerBase, cogURL string) ([]byte, bool) {
	key := keys.Info(titilerBase, cogURL)
	c.admit.Touch(key)
	if b, ok := c.mem.Get(key); ok {
		observability.ObserveCacheOp("memory", "hit")
		return b, true
	}
	observability.ObserveCacheOp("memory", "miss")
	if c.remote == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	b, ok, err := c.remote.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "info cache remote get failed", "err", err)
		return nil, false
	}
	if ok {
		c.mem.Add(key, b)
	}
	return b, ok
}

func (c *InfoCache) Put(ctx context.Context, titilerBase, cogURL string, body []byte) {
	key := keys.Info(titilerBase, cogURL)
	if !c.admit.ShouldCache(key) {
		return
	}
	c.mem.Add(key, body)
	if c.remote == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.remote.Set(ctx, key, body, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "info cache remote set failed", "err", err)
	}
}

// Invalidate drops every cached /info response for cogURL from both tiers.
func (c *InfoCache) Invalidate(ctx context.Context, cogURL string) (int, error) {
	prefix := keys.CogPrefix(cogURL)
	removed := 0
	for _, k := range c.mem.Keys() {
		if strings.HasPrefix(k, prefix) && c.mem.Remove(k) {
			c.admit.Forget(k)
			removed++
		}
	}
	if c.remote == nil {
		return removed, nil
	}
	n, err := c.remote.DelPrefix(ctx, prefix)
	return removed + n, err
}

func (c *InfoCache) Len() int { return c.mem.Len() }
