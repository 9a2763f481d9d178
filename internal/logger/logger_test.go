package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &m); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	return m
}

func TestSlogBridge_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Service: "layerproxy"}, &buf)
	l := NewSlog(&zl)

	ctx := WithRequestID(context.Background(), "abc123")
	ctx = WithComponent(ctx, "proxy")
	ctx = WithRoute(ctx, "statistics")
	ctx = WithLayer(ctx, 66)
	l.InfoContext(ctx, "forwarded", "status", 200, "err", errors.New("none"))

	m := decodeLine(t, buf.Bytes())
	want := map[string]any{
		"msg":        "forwarded",
		"level":      "info",
		"service":    "layerproxy",
		"request_id": "abc123",
		"component":  "proxy",
		"route":      "statistics",
		"layer_id":   float64(66),
		"status":     float64(200),
		"err":        "none",
	}
	for k, v := range want {
		if m[k] != v {
			t.Fatalf("field %s got %v want %v", k, m[k], v)
		}
	}
	if _, ok := m["timestamp"]; !ok {
		t.Fatalf("missing timestamp")
	}
}

func TestSlogBridge_GroupsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	l := NewSlog(&zl).With("svc", "a").WithGroup("upstream")
	l.Warn("slow", slog.Int("ms", 120))

	m := decodeLine(t, buf.Bytes())
	if m["svc"] != "a" || m["upstream.ms"] != float64(120) || m["level"] != "warn" {
		t.Fatalf("got %v", m)
	}
}

func TestSlogBridge_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	l := NewSlog(&zl)
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}
	l.Error("shown")
	if buf.Len() == 0 {
		t.Fatalf("error not logged")
	}
	Build(Config{Level: "info"}, &buf)
}

func TestWithRequestID_GeneratesID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if len(RequestID(ctx)) != 16 {
		t.Fatalf("generated id got %q", RequestID(ctx))
	}
}
