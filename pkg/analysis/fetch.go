package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/layer-atlas/pkg/layer"
	"github.com/mohammed-shakir/layer-atlas/pkg/registry"
	"github.com/mohammed-shakir/layer-atlas/pkg/timeline"
)

type ErrorKind string

const (
	ErrNetwork     ErrorKind = "network"
	ErrTimeout     ErrorKind = "timeout"
	ErrRejected    ErrorKind = "rejected"
	ErrUpstream    ErrorKind = "upstream"
	ErrResponse    ErrorKind = "response"
	ErrUnsupported ErrorKind = "unsupported"
)

// FetchError is a per-layer analysis failure.
type FetchError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("analysis %s (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("analysis %s: %s", e.Kind, msg)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UserMessage is the text shown in place of the chart.
func (e *FetchError) UserMessage() string {
	switch e.Kind {
	case ErrNetwork, ErrTimeout:
		return "analysis service unavailable"
	case ErrRejected:
		if e.Message != "" {
			return e.Message
		}
		return "analysis request rejected"
	case ErrUnsupported:
		return e.Message
	}
	return "analysis failed"
}

func asFetchError(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Kind: ErrResponse, Err: err}
}

// transportError classifies an http.Client error.
func transportError(err error) *FetchError {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &FetchError{Kind: ErrTimeout, Err: err}
	}
	return &FetchError{Kind: ErrNetwork, Err: err}
}

// Fetcher computes one layer's result for a geometry.
type Fetcher interface {
	Fetch(ctx context.Context, e registry.Entry, g Geometry) (Result, error)
}

type FetcherFunc func(ctx context.Context, e registry.Entry, g Geometry) (Result, error)

func (f FetcherFunc) Fetch(ctx context.Context, e registry.Entry, g Geometry) (Result, error) {
	return f(ctx, e, g)
}

func chartLimit(e registry.Entry) int {
	if e.ChartLimit != nil {
		return *e.ChartLimit
	}
	return DefaultChartLimit
}

func resolveDate(tmpl string, e registry.Entry) string {
	if e.Timeline == nil {
		return tmpl
	}
	out, _ := timeline.Substitute(tmpl, *e.Timeline, e.SelectedDate)
	return out
}

// COGSource returns the TiTiler base and COG url a raster layer is analyzed
// with. cog layers carry both in their tile template; raster layers name the
// COG in their analysis query and use fallbackBase.
func COGSource(e registry.Entry, fallbackBase string) (base, cogURL string, err error) {
	switch e.Provider {
	case layer.ProviderCOG:
		if e.Body == nil || e.Body.URL == "" {
			return "", "", fmt.Errorf("layer %d: no tile url", e.ID)
		}
		tile := resolveDate(e.Body.URL, e)
		u, err := url.Parse(tile)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", "", fmt.Errorf("layer %d: tile url %q is not absolute", e.ID, tile)
		}
		base = u.Scheme + "://" + u.Host
		cogURL = u.Query().Get("url")
		if e.Body.Source != "" {
			cogURL = resolveDate(e.Body.Source, e)
		}
	case layer.ProviderRaster:
		base = fallbackBase
		cogURL = resolveDate(e.AnalysisQuery, e)
	default:
		return "", "", fmt.Errorf("layer %d: provider %s has no raster source", e.ID, e.Provider)
	}
	if base == "" || cogURL == "" {
		return "", "", fmt.Errorf("layer %d: missing titiler base or cog url", e.ID)
	}
	return base, cogURL, nil
}

// ProxyFetcher runs raster statistics through the analysis proxy.
type ProxyFetcher struct {
	Client *http.Client
	// ProxyURL is the proxy origin, e.g. http://localhost:8090.
	ProxyURL string
	// DefaultTitiler is the TiTiler base used for raster layers.
	DefaultTitiler string
	HistogramBins  int
}

func (p *ProxyFetcher) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (p *ProxyFetcher) Fetch(ctx context.Context, e registry.Entry, g Geometry) (Result, error) {
	base, cogURL, err := COGSource(e, p.DefaultTitiler)
	if err != nil {
		return Result{}, &FetchError{Kind: ErrUnsupported, Message: err.Error()}
	}
	body, err := g.FeatureJSON()
	if err != nil {
		return Result{}, &FetchError{Kind: ErrResponse, Err: err}
	}

	q := url.Values{}
	q.Set("titilerUrl", base)
	q.Set("cogUrl", cogURL)
	if e.Categorical {
		q.Set("categorical", "true")
	} else if p.HistogramBins > 0 {
		q.Set("histogram_bins", strconv.Itoa(p.HistogramBins))
	}
	endpoint := strings.TrimRight(p.ProxyURL, "/") + "/api/titiler/statistics?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, &FetchError{Kind: ErrNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client().Do(req)
	if err != nil {
		return Result{}, transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Result{}, transportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, proxyError(resp.StatusCode, data)
	}
	res, err := ParseStatistics(e.ID, data, e.Categorical, chartLimit(e))
	if err != nil {
		return Result{}, &FetchError{Kind: ErrResponse, Err: err}
	}
	return res, nil
}

// proxyError maps the proxy's JSON error body and status to a FetchError.
func proxyError(status int, body []byte) *FetchError {
	var eb struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	_ = json.Unmarshal(body, &eb)
	fe := &FetchError{Status: status, Message: eb.Error}
	switch {
	case status == http.StatusGatewayTimeout || eb.Kind == "upstream_timeout":
		fe.Kind = ErrTimeout
	case status == http.StatusBadGateway || eb.Kind == "upstream_unavailable":
		fe.Kind = ErrNetwork
	case status == http.StatusBadRequest:
		fe.Kind = ErrRejected
	default:
		fe.Kind = ErrUpstream
	}
	if fe.Message == "" {
		fe.Message = strings.TrimSpace(string(body))
	}
	return fe
}

// GeometryToken is replaced with the drawn geometry in vector analysis queries.
const GeometryToken = "{{geometry}}"

// SQLFetcher runs a vector layer's analysis query against the SQL API.
type SQLFetcher struct {
	Client *http.Client
	// Endpoint is the SQL API url, the query goes in the q parameter.
	Endpoint string
}

func (s *SQLFetcher) Fetch(ctx context.Context, e registry.Entry, g Geometry) (Result, error) {
	if strings.TrimSpace(e.AnalysisQuery) == "" {
		return Result{}, &FetchError{Kind: ErrUnsupported, Message: fmt.Sprintf("layer %d has no analysis query", e.ID)}
	}
	gj, err := g.GeometryJSON()
	if err != nil {
		return Result{}, &FetchError{Kind: ErrResponse, Err: err}
	}
	sql := strings.ReplaceAll(resolveDate(e.AnalysisQuery, e), GeometryToken, string(gj))

	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return Result{}, &FetchError{Kind: ErrNetwork, Err: err}
	}
	q := u.Query()
	q.Set("q", sql)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, &FetchError{Kind: ErrNetwork, Err: err}
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Result{}, transportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &FetchError{Kind: ErrUpstream, Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	res, err := ParseRows(e.ID, data, e.AnalysisType, chartLimit(e))
	if err != nil {
		return Result{}, &FetchError{Kind: ErrResponse, Err: err}
	}
	return res, nil
}

// Dispatcher routes each layer to the fetcher of its provider.
type Dispatcher struct {
	Raster Fetcher
	Vector Fetcher
}

func (d Dispatcher) Fetch(ctx context.Context, e registry.Entry, g Geometry) (Result, error) {
	var f Fetcher
	switch e.Provider {
	case layer.ProviderCOG, layer.ProviderRaster:
		f = d.Raster
	case layer.ProviderVectorSQL:
		f = d.Vector
	}
	if f == nil {
		return Result{}, &FetchError{Kind: ErrUnsupported, Message: fmt.Sprintf("%s layers cannot be analyzed", e.Provider)}
	}
	return f.Fetch(ctx, e, g)
}
