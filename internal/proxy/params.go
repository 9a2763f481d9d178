package proxy

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Reasons are the machine-readable "kind" of a JSON error body.
const (
	ReasonMissingParams       = "missing_parameters"
	ReasonInvalidTitilerURL   = "invalid_titiler_url"
	ReasonInvalidCoordinates  = "invalid_coordinates"
	ReasonInvalidParameter    = "invalid_parameter"
	ReasonInvalidBody         = "invalid_body"
	ReasonUpstreamTimeout     = "upstream_timeout"
	ReasonUpstreamUnavailable = "upstream_unavailable"
)

const (
	msgMissing     = "Missing required parameters: titilerUrl and cogUrl"
	msgInvalidBase = "Invalid titilerUrl"
	msgInvalidXY   = "Invalid coordinates"
	msgTimeout     = "Request to TiTiler timed out"
	msgUnavailable = "Failed to fetch from TiTiler"
)

// RejectError is a request refused before any upstream call.
type RejectError struct {
	Reason  string
	Message string
}

func (e *RejectError) Error() string { return e.Message }

func reject(reason, format string, args ...any) *RejectError {
	return &RejectError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Target is a validated upstream call.
type Target struct {
	Base   string
	CogURL string
	Query  url.Values
	Lon    float64
	Lat    float64
}

func parseTarget(q url.Values, allow *Allowlist) (Target, error) {
	rawBase := strings.TrimSpace(q.Get("titilerUrl"))
	cog := strings.TrimSpace(q.Get("cogUrl"))
	if rawBase == "" || cog == "" {
		return Target{}, reject(ReasonMissingParams, msgMissing)
	}
	base, ok := allow.Check(rawBase)
	if !ok {
		return Target{}, reject(ReasonInvalidTitilerURL, msgInvalidBase)
	}
	out := url.Values{}
	out.Set("url", cog)
	return Target{Base: base, CogURL: cog, Query: out}, nil
}

func ParseInfo(r *http.Request, allow *Allowlist) (Target, error) {
	return parseTarget(r.URL.Query(), allow)
}

func ParseStatistics(r *http.Request, allow *Allowlist) (Target, error) {
	q := r.URL.Query()
	t, err := parseTarget(q, allow)
	if err != nil {
		return Target{}, err
	}
	if err := copyPositiveInt(q, t.Query, "bidx"); err != nil {
		return Target{}, err
	}
	if err := copyPositiveInt(q, t.Query, "histogram_bins"); err != nil {
		return Target{}, err
	}
	if v := strings.TrimSpace(q.Get("categorical")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Target{}, reject(ReasonInvalidParameter, "Invalid categorical: %q", v)
		}
		t.Query.Set("categorical", strconv.FormatBool(b))
	}
	return t, nil
}

func ParsePoint(r *http.Request, allow *Allowlist) (Target, error) {
	q := r.URL.Query()
	t, err := parseTarget(q, allow)
	if err != nil {
		return Target{}, err
	}
	lon, okLon := parseCoord(q.Get("lon"), 180)
	lat, okLat := parseCoord(q.Get("lat"), 90)
	if !okLon || !okLat {
		return Target{}, reject(ReasonInvalidCoordinates, msgInvalidXY)
	}
	t.Lon, t.Lat = lon, lat
	if err := copyPositiveInt(q, t.Query, "bidx"); err != nil {
		return Target{}, err
	}
	return t, nil
}

func parseCoord(s string, limit float64) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, v >= -limit && v <= limit
}

func copyPositiveInt(in, out url.Values, key string) error {
	v := strings.TrimSpace(in.Get(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return reject(ReasonInvalidParameter, "Invalid %s: must be a positive integer", key)
	}
	out.Set(key, strconv.Itoa(n))
	return nil
}
