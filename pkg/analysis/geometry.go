// Package analysis runs zonal statistics for a drawn region over the active
// analysis-suitable layers.
package analysis

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ValidationError rejects a drawn geometry.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "analysis: invalid geometry: " + e.Reason }

// Geometry is the single polygon a user drew, in [lng, lat].
type Geometry struct {
	Polygon orb.Polygon
}

// Rectangle builds the geometry of a dragged box.
func Rectangle(b orb.Bound) Geometry {
	return Geometry{Polygon: b.ToPolygon()}
}

// ParseGeometry accepts a GeoJSON Polygon, a Feature or a FeatureCollection
// holding one polygon. The result is validated.
func ParseGeometry(data []byte) (Geometry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Geometry{}, &ValidationError{Reason: "not GeoJSON: " + err.Error()}
	}

	var g orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return Geometry{}, &ValidationError{Reason: err.Error()}
		}
		if len(fc.Features) != 1 {
			return Geometry{}, &ValidationError{Reason: fmt.Sprintf("expected one feature, got %d", len(fc.Features))}
		}
		g = fc.Features[0].Geometry
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return Geometry{}, &ValidationError{Reason: err.Error()}
		}
		g = f.Geometry
	default:
		gg, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return Geometry{}, &ValidationError{Reason: err.Error()}
		}
		g = gg.Geometry()
	}

	var poly orb.Polygon
	switch t := g.(type) {
	case orb.Polygon:
		poly = t
	case orb.MultiPolygon:
		if len(t) != 1 {
			return Geometry{}, &ValidationError{Reason: "only a single polygon can be analyzed"}
		}
		poly = t[0]
	case orb.Bound:
		poly = t.ToPolygon()
	default:
		return Geometry{}, &ValidationError{Reason: fmt.Sprintf("unsupported geometry type %T", g)}
	}
	out := Geometry{Polygon: poly}
	if err := out.Validate(); err != nil {
		return Geometry{}, err
	}
	return out, nil
}

// Validate checks ring closure, coordinate ranges and that the polygon has area.
func (g Geometry) Validate() error {
	if len(g.Polygon) == 0 {
		return &ValidationError{Reason: "empty polygon"}
	}
	for i, ring := range g.Polygon {
		if len(ring) < 4 {
			return &ValidationError{Reason: fmt.Sprintf("ring %d has %d points, need at least 4", i, len(ring))}
		}
		if !ring.Closed() {
			return &ValidationError{Reason: fmt.Sprintf("ring %d is not closed", i)}
		}
		for _, p := range ring {
			if math.IsNaN(p.Lon()) || math.IsNaN(p.Lat()) ||
				p.Lon() < -180 || p.Lon() > 180 || p.Lat() < -90 || p.Lat() > 90 {
				return &ValidationError{Reason: fmt.Sprintf("coordinate %v out of range", p)}
			}
		}
	}
	if math.Abs(planar.Area(g.Polygon)) == 0 {
		return &ValidationError{Reason: "polygon has no area"}
	}
	return nil
}

func (g Geometry) Bound() orb.Bound { return g.Polygon.Bound() }

// GeometryJSON is the bare GeoJSON geometry.
func (g Geometry) GeometryJSON() ([]byte, error) {
	return json.Marshal(geojson.NewGeometry(g.Polygon))
}

// FeatureJSON wraps the polygon in a GeoJSON Feature, the body the statistics
// endpoint expects.
func (g Geometry) FeatureJSON() ([]byte, error) {
	return geojson.NewFeature(g.Polygon).MarshalJSON()
}

// Fingerprint hashes the coordinates.
func (g Geometry) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, ring := range g.Polygon {
		for _, p := range ring {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p[0]))
			_, _ = h.Write(buf[:])
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p[1]))
			_, _ = h.Write(buf[:])
		}
		_, _ = h.Write([]byte{0xff})
	}
	return h.Sum64()
}
