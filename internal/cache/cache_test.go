package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/layer-atlas/internal/cache/redisstore"
	"github.com/mohammed-shakir/layer-atlas/internal/hotness"
)

func TestInfoCache_MemoryOnly(t *testing.T) {
	c := NewInfoCache(4, time.Minute)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "https://t.example", "s3://a.tif"); ok {
		t.Fatalf("empty cache hit")
	}
	c.Put(ctx, "https://t.example", "s3://a.tif", []byte(`{"bounds":[0,0,1,1]}`))
	b, ok := c.Get(ctx, "https://t.example/", "s3://a.tif")
	if !ok || string(b) != `{"bounds":[0,0,1,1]}` {
		t.Fatalf("got %q ok=%v", b, ok)
	}
}

func TestInfoCache_RedisTierBackfillsMemory(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	ctx := context.Background()
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	writer := NewInfoCache(4, time.Minute, WithRemote(rc))
	writer.Put(ctx, "https://t.example", "s3://a.tif", []byte("info"))

	reader := NewInfoCache(4, time.Minute, WithRemote(rc))
	if b, ok := reader.Get(ctx, "https://t.example", "s3://a.tif"); !ok || string(b) != "info" {
		t.Fatalf("remote get got %q ok=%v", b, ok)
	}
	if reader.Len() != 1 {
		t.Fatalf("memory not backfilled, len=%d", reader.Len())
	}

	n, err := reader.Invalidate(ctx, "s3://a.tif")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed=%d want 2 (memory+redis)", n)
	}
	if _, ok := writer.Get(ctx, "https://other.example", "s3://a.tif"); ok {
		t.Fatalf("other base never cached")
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("redis keys left: %v", mr.Keys())
	}
}

type failingRemote struct{}

func (failingRemote) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("down")
}

func (failingRemote) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}

func (failingRemote) DelPrefix(context.Context, string) (int, error) { return 0, errors.New("down") }

func TestInfoCache_RemoteErrorsDegradeToMiss(t *testing.T) {
	c := NewInfoCache(4, time.Minute, WithRemote(failingRemote{}))
	ctx := context.Background()
	if _, ok := c.Get(ctx, "b", "cog"); ok {
		t.Fatalf("want miss")
	}
	c.Put(ctx, "b", "cog", []byte("x"))
	if _, ok := c.Get(ctx, "b", "cog"); !ok {
		t.Fatalf("memory tier should still hold the value")
	}
	if _, err := c.Invalidate(ctx, "cog"); err == nil {
		t.Fatalf("remote error should surface from Invalidate")
	}
}

func TestInfoCache_AdmissionSkipsColdCOGs(t *testing.T) {
	adm := &hotness.Admission{Hot: hotness.New(time.Hour), Threshold: 2}
	c := NewInfoCache(4, time.Minute, WithAdmission(adm))
	ctx := context.Background()

	c.Get(ctx, "https://t.example", "s3://a.tif")
	c.Put(ctx, "https://t.example", "s3://a.tif", []byte("info"))
	if c.Len() != 0 {
		t.Fatalf("cold cog cached")
	}
	c.Get(ctx, "https://t.example", "s3://a.tif")
	c.Put(ctx, "https://t.example", "s3://a.tif", []byte("info"))
	if _, ok := c.Get(ctx, "https://t.example", "s3://a.tif"); !ok {
		t.Fatalf("hot cog not cached")
	}
}
