// Package proxy forwards info, statistics and point queries to allowlisted
// TiTiler deployments. Requests are validated before any network call and
// upstream responses are relayed untouched.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/layer-atlas/internal/auditevents"
	"github.com/mohammed-shakir/layer-atlas/internal/core/observability"
	mylog "github.com/mohammed-shakir/layer-atlas/internal/logger"
	h3mapper "github.com/mohammed-shakir/layer-atlas/internal/mapper/h3"
	"github.com/mohammed-shakir/layer-atlas/pkg/analysis"
)

const (
	maxRequestBody  = 4 << 20
	maxUpstreamBody = 32 << 20
	maxAuditCells   = 64
)

// InfoCache holds /info responses; cache.InfoCache implements it.
type InfoCache interface {
	Get(ctx context.Context, titilerBase, cogURL string) ([]byte, bool)
	Put(ctx context.Context, titilerBase, cogURL string, body []byte)
}

type Handler struct {
	logger  *slog.Logger
	client  *http.Client
	allow   *Allowlist
	timeout time.Duration
	cache   InfoCache
	audit   auditevents.Sink
	mapper  *h3mapper.Mapper
	h3Res   int
	maxBody int64
}

type Option func(*Handler)

func WithTimeout(d time.Duration) Option { return func(h *Handler) { h.timeout = d } }

func WithInfoCache(c InfoCache) Option { return func(h *Handler) { h.cache = c } }

func WithAudit(s auditevents.Sink, res int) Option {
	return func(h *Handler) {
		h.audit = s
		h.h3Res = res
	}
}

func New(logger *slog.Logger, client *http.Client, allow *Allowlist, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	h := &Handler{
		logger:  logger,
		client:  client,
		allow:   allow,
		timeout: 30 * time.Second,
		audit:   auditevents.Nop{},
		mapper:  h3mapper.New(),
		h3Res:   7,
		maxBody: maxUpstreamBody,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes mounts the handlers, typically under /api/titiler.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/info", h.Info)
	r.Post("/statistics", h.Statistics)
	r.Get("/point", h.Point)
}

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	const route = "info"
	ctx := mylog.WithRoute(r.Context(), route)
	t, err := ParseInfo(r, h.allow)
	if err != nil {
		h.rejected(ctx, w, route, err)
		return
	}
	if h.cache != nil {
		if b, ok := h.cache.Get(ctx, t.Base, t.CogURL); ok {
			writeRaw(w, http.StatusOK, "application/json", b)
			return
		}
	}

	res, err := h.forward(ctx, route, http.MethodGet, t.Base+"/info?"+t.Query.Encode(), nil)
	if err != nil {
		h.upstreamFailed(ctx, w, route, err)
		return
	}
	if h.cache != nil && res.status == http.StatusOK {
		h.cache.Put(ctx, t.Base, t.CogURL, res.body)
	}
	writeRaw(w, res.status, res.contentType, res.body)
}

func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	const route = "statistics"
	ctx := mylog.WithRoute(r.Context(), route)
	t, err := ParseStatistics(r, h.allow)
	if err != nil {
		h.rejected(ctx, w, route, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.rejected(ctx, w, route, reject(ReasonInvalidBody, "Invalid request body"))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 || !json.Valid(body) {
		h.rejected(ctx, w, route, reject(ReasonInvalidBody, "Request body must be GeoJSON"))
		return
	}

	start := time.Now()
	res, err := h.forward(ctx, route, http.MethodPost, t.Base+"/statistics?"+t.Query.Encode(), body)
	ev := auditevents.Event{
		Route:       route,
		TitilerBase: t.Base,
		CogURL:      t.CogURL,
		DurationMS:  time.Since(start).Milliseconds(),
		RequestID:   mylog.RequestID(ctx),
		Footprint:   h.footprint(ctx, body),
	}
	if err != nil {
		ev.Outcome = outcomeOf(err)
		h.audit.Publish(ev)
		h.upstreamFailed(ctx, w, route, err)
		return
	}
	ev.Status, ev.Outcome = res.status, "ok"
	h.audit.Publish(ev)
	writeRaw(w, res.status, res.contentType, res.body)
}

func (h *Handler) Point(w http.ResponseWriter, r *http.Request) {
	const route = "point"
	ctx := mylog.WithRoute(r.Context(), route)
	t, err := ParsePoint(r, h.allow)
	if err != nil {
		h.rejected(ctx, w, route, err)
		return
	}
	target := fmt.Sprintf("%s/point/%s/%s?%s", t.Base,
		strconv.FormatFloat(t.Lon, 'f', -1, 64),
		strconv.FormatFloat(t.Lat, 'f', -1, 64),
		t.Query.Encode())
	res, err := h.forward(ctx, route, http.MethodGet, target, nil)
	if err != nil {
		h.upstreamFailed(ctx, w, route, err)
		return
	}
	writeRaw(w, res.status, res.contentType, res.body)
}

var errUpstreamTooLarge = errors.New("titiler response too large")

type upstreamResponse struct {
	status      int
	contentType string
	body        []byte
}

// forward makes exactly one attempt; retry policy belongs to the caller.
func (h *Handler) forward(ctx context.Context, route, method, target string, body []byte) (upstreamResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return upstreamResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		observability.ObserveUpstream(route, outcomeOf(err), time.Since(start).Seconds())
		return upstreamResponse{}, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// one byte past the limit tells a full body from a truncated one
	b, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody+1))
	if err == nil && int64(len(b)) > h.maxBody {
		err = fmt.Errorf("%w: over %d bytes", errUpstreamTooLarge, h.maxBody)
	}
	observability.ObserveUpstream(route, outcomeOf(err), time.Since(start).Seconds())
	if err != nil {
		return upstreamResponse{}, fmt.Errorf("read body: %w", err)
	}
	h.logger.DebugContext(ctx, "titiler response",
		"status", resp.StatusCode, "duration", time.Since(start).String())
	return upstreamResponse{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        b,
	}, nil
}

// footprint is best effort; TiTiler stays the judge of the body.
func (h *Handler) footprint(ctx context.Context, body []byte) *h3mapper.Footprint {
	g, err := analysis.ParseGeometry(body)
	if err != nil {
		return nil
	}
	fp, err := h.mapper.Footprint(g.Polygon, h.h3Res, maxAuditCells)
	if err != nil {
		h.logger.DebugContext(ctx, "footprint skipped", "err", err)
		return nil
	}
	observability.ObserveFootprint(fp.Count)
	return &fp
}

func (h *Handler) rejected(ctx context.Context, w http.ResponseWriter, route string, err error) {
	var re *RejectError
	if !errors.As(err, &re) {
		re = &RejectError{Reason: ReasonInvalidParameter, Message: err.Error()}
	}
	observability.IncRejection(route, re.Reason)
	h.logger.InfoContext(ctx, "proxy request rejected", "reason", re.Reason)
	writeError(w, http.StatusBadRequest, re.Message, re.Reason)
}

func (h *Handler) upstreamFailed(ctx context.Context, w http.ResponseWriter, route string, err error) {
	if isTimeout(err) {
		h.logger.ErrorContext(ctx, "titiler timeout", "route", route, "err", err)
		writeError(w, http.StatusGatewayTimeout, msgTimeout, ReasonUpstreamTimeout)
		return
	}
	h.logger.ErrorContext(ctx, "titiler request failed", "route", route, "err", err)
	writeError(w, http.StatusBadGateway, msgUnavailable, ReasonUpstreamUnavailable)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}

func writeRaw(w http.ResponseWriter, status int, contentType string, body []byte) {
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": kind})
}
