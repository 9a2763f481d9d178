// Package h3mapper maps statistics geometries onto H3 cells. The proxy uses
// the resulting footprint for audit events and the footprint histogram.
package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"
)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// Footprint summarises the cells a geometry covers.
type Footprint struct {
	Res    int      `json:"res"`
	Count  int      `json:"count"`
	Center string   `json:"center"`
	Cells  []string `json:"cells,omitempty"`
}

func (m *Mapper) CellsForBound(b orb.Bound, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	outer := h3.GeoLoop{
		{Lat: b.Min.Lat(), Lng: b.Min.Lon()},
		{Lat: b.Min.Lat(), Lng: b.Max.Lon()},
		{Lat: b.Max.Lat(), Lng: b.Max.Lon()},
		{Lat: b.Max.Lat(), Lng: b.Min.Lon()},
	}
	return polyfillOne(outer, nil, res)
}

func (m *Mapper) CellsForPolygon(p orb.Polygon, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, errors.New("empty polygon")
	}
	outer := toLoop(p[0])
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 4 vertices")
	}
	var holes []h3.GeoLoop
	for i := 1; i < len(p); i++ {
		h := toLoop(p[i])
		if len(h) < 3 {
			return nil, fmt.Errorf("hole %d has < 4 vertices", i-1)
		}
		holes = append(holes, h)
	}
	return polyfillOne(outer, holes, res)
}

// Footprint covers p at res. A polygon smaller than one cell still maps to the
// cell under its bound center. When maxCells > 0 the cell list is coarsened
// until it fits; Count always reports the cells at the requested resolution.
func (m *Mapper) Footprint(p orb.Polygon, res, maxCells int) (Footprint, error) {
	cells, err := m.CellsForPolygon(p, res)
	if err != nil {
		return Footprint{}, err
	}
	center, err := h3.LatLngToCell(toLatLng(p.Bound().Center()), res)
	if err != nil {
		return Footprint{}, fmt.Errorf("h3 center cell: %w", err)
	}
	if len(cells) == 0 {
		cells = []string{center.String()}
	}

	fp := Footprint{Res: res, Count: len(cells), Center: center.String(), Cells: cells}
	if maxCells <= 0 {
		return fp, nil
	}
	for r := res - 1; len(fp.Cells) > maxCells && r >= 0; r-- {
		coarse, err := m.Coarsen(fp.Cells, r)
		if err != nil {
			return Footprint{}, err
		}
		fp.Cells = coarse
	}
	if len(fp.Cells) > maxCells {
		fp.Cells = nil
	}
	return fp, nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func toLatLng(p orb.Point) h3.LatLng {
	return h3.LatLng{Lat: p.Lat(), Lng: p.Lon()}
}

// orb rings are closed; h3 loops are not.
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, pt := range r {
		loop = append(loop, toLatLng(pt))
	}
	if len(loop) >= 2 && loop[0] == loop[len(loop)-1] {
		loop = loop[:len(loop)-1]
	}
	return loop
}

// polyfillOne computes unique cells and returns them sorted for determinism.
func polyfillOne(outer h3.GeoLoop, holes []h3.GeoLoop, res int) ([]string, error) {
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 4 vertices")
	}
	poly := h3.GeoPolygon{
		GeoLoop: outer,
		Holes:   holes,
	}

	indexes, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	return uniqueSorted(indexes), nil
}

func uniqueSorted(cells []h3.Cell) []string {
	out := make([]string, 0, len(cells))
	seen := make(map[string]struct{}, len(cells))
	for _, c := range cells {
		s := c.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
