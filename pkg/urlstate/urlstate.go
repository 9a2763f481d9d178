// Package urlstate mirrors the active layer set and viewport into a shareable
// query string and restores it back.
package urlstate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/layer-atlas/pkg/registry"
)

// Query parameter names.
const (
	ParamLayers  = "layers"
	ParamTab     = "tab"
	ParamZoom    = "zoom"
	ParamCenter  = "center"
	ParamDrawing = "drawing"
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Viewport struct {
	Center LatLng
	Zoom   float64
}

// DefaultViewport is used when the site sets none.
var DefaultViewport = Viewport{Center: LatLng{Lat: 3.86, Lng: 47.28}, Zoom: 2}

// LayerState is the persisted subset of an active layer. Order is written as
// null when unset. A missing opacity keeps the catalog default on restore.
type LayerState struct {
	ID         int      `json:"id"`
	Opacity    *float64 `json:"opacity,omitempty"`
	Order      *int     `json:"order"`
	ChartLimit *int     `json:"chartLimit,omitempty"`
	Date       string   `json:"date,omitempty"`
}

// State is everything the query string carries. Extra holds unrelated params,
// which are kept as-is.
type State struct {
	Layers   []LayerState
	Viewport Viewport
	Tab      string
	Drawing  bool
	Extra    url.Values
}

// ParseError reports a malformed parameter. Restoration treats it as fatal for
// the whole query string.
type ParseError struct {
	Param string
	Err   error
}

func (e *ParseError) Error() string { return fmt.Sprintf("urlstate: param %q: %v", e.Param, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// Codec converts between State and query strings. Viewport fields equal to
// Defaults are left out of the query string.
type Codec struct {
	Defaults Viewport
}

func NewCodec(defaults Viewport) Codec { return Codec{Defaults: defaults} }

// LayersFrom extracts the persisted attributes of entries, keeping their order.
func LayersFrom(entries []registry.Entry) []LayerState {
	out := make([]LayerState, 0, len(entries))
	for _, e := range entries {
		op := e.Opacity
		ls := LayerState{ID: e.ID, Opacity: &op, Date: e.SelectedDate}
		if e.Order != nil {
			v := *e.Order
			ls.Order = &v
		}
		if e.ChartLimit != nil {
			v := *e.ChartLimit
			ls.ChartLimit = &v
		}
		out = append(out, ls)
	}
	return out
}

func (c Codec) ToQueryString(s State) string {
	q := url.Values{}
	for k, vs := range s.Extra {
		if isOwnParam(k) {
			continue
		}
		q[k] = append([]string(nil), vs...)
	}
	if len(s.Layers) > 0 {
		b, err := json.Marshal(s.Layers)
		if err == nil {
			q.Set(ParamLayers, string(b))
		}
	}
	if s.Tab != "" {
		q.Set(ParamTab, s.Tab)
	}
	if s.Viewport.Zoom != c.Defaults.Zoom {
		q.Set(ParamZoom, formatFloat(s.Viewport.Zoom))
	}
	if s.Viewport.Center != c.Defaults.Center {
		center := url.Values{}
		center.Set("lat", formatFloat(s.Viewport.Center.Lat))
		center.Set("lng", formatFloat(s.Viewport.Center.Lng))
		q.Set(ParamCenter, center.Encode())
	}
	if s.Drawing {
		q.Set(ParamDrawing, "true")
	}
	return q.Encode()
}

// FromQueryString parses raw, with or without a leading '?'. Any malformed
// parameter fails the whole parse.
func (c Codec) FromQueryString(raw string) (State, error) {
	s := State{Viewport: c.Defaults}
	q, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return State{}, &ParseError{Param: "query", Err: err}
	}
	for k, vs := range q {
		if isOwnParam(k) {
			continue
		}
		if s.Extra == nil {
			s.Extra = url.Values{}
		}
		s.Extra[k] = vs
	}

	if v := q.Get(ParamLayers); v != "" {
		layers, err := parseLayers(v)
		if err != nil {
			return State{}, &ParseError{Param: ParamLayers, Err: err}
		}
		s.Layers = layers
	}
	s.Tab = q.Get(ParamTab)
	if v := q.Get(ParamZoom); v != "" {
		z, err := strconv.ParseFloat(v, 64)
		if err != nil || z < 0 || z > 24 {
			return State{}, &ParseError{Param: ParamZoom, Err: fmt.Errorf("invalid zoom %q", v)}
		}
		s.Viewport.Zoom = z
	}
	if v := q.Get(ParamCenter); v != "" {
		center, err := parseCenter(v)
		if err != nil {
			return State{}, &ParseError{Param: ParamCenter, Err: err}
		}
		s.Viewport.Center = center
	}
	if v := q.Get(ParamDrawing); v != "" {
		d, err := strconv.ParseBool(v)
		if err != nil {
			return State{}, &ParseError{Param: ParamDrawing, Err: err}
		}
		s.Drawing = d
	}
	return s, nil
}

func isOwnParam(k string) bool {
	switch k {
	case ParamLayers, ParamTab, ParamZoom, ParamCenter, ParamDrawing:
		return true
	}
	return false
}

func parseLayers(v string) ([]LayerState, error) {
	var layers []LayerState
	dec := json.NewDecoder(strings.NewReader(v))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&layers); err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(layers))
	for _, l := range layers {
		if l.ID <= 0 {
			return nil, fmt.Errorf("layer id %d is not positive", l.ID)
		}
		if seen[l.ID] {
			return nil, fmt.Errorf("layer %d listed twice", l.ID)
		}
		seen[l.ID] = true
		if l.ChartLimit != nil && *l.ChartLimit <= 0 {
			return nil, fmt.Errorf("layer %d: chartLimit must be positive", l.ID)
		}
	}
	return layers, nil
}

// the center is written as a nested query string; JSON is accepted too
func parseCenter(v string) (LatLng, error) {
	var c LatLng
	if strings.HasPrefix(strings.TrimSpace(v), "{") {
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return LatLng{}, err
		}
	} else {
		q, err := url.ParseQuery(v)
		if err != nil {
			return LatLng{}, err
		}
		if c.Lat, err = strconv.ParseFloat(q.Get("lat"), 64); err != nil {
			return LatLng{}, fmt.Errorf("lat: %w", err)
		}
		if c.Lng, err = strconv.ParseFloat(q.Get("lng"), 64); err != nil {
			return LatLng{}, fmt.Errorf("lng: %w", err)
		}
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return LatLng{}, fmt.Errorf("center %v,%v out of range", c.Lat, c.Lng)
	}
	return c, nil
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
