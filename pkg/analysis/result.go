package analysis

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/mohammed-shakir/layer-atlas/pkg/layer"
)

// DefaultChartLimit caps categorical series when a layer sets no chart limit.
const DefaultChartLimit = 100

type Kind string

const (
	KindHistogram   Kind = "histogram"
	KindCategorical Kind = "categorical"
	KindScalar      Kind = "scalar"
	KindError       Kind = "error"
)

type Category struct {
	Label string  `json:"label"`
	Count float64 `json:"count"`
}

type Stats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Result is the outcome of one layer's analysis over one geometry. Exactly the
// fields of Kind are set.
type Result struct {
	LayerID    int         `json:"layerId"`
	Kind       Kind        `json:"kind"`
	Bins       []float64   `json:"bins,omitempty"`
	Counts     []float64   `json:"counts,omitempty"`
	Categories []Category  `json:"categories,omitempty"`
	Stats      *Stats      `json:"stats,omitempty"`
	Message    string      `json:"message,omitempty"`
	Err        *FetchError `json:"-"`
}

func errorResult(layerID int, err *FetchError) Result {
	return Result{LayerID: layerID, Kind: KindError, Message: err.UserMessage(), Err: err}
}

type bandStats struct {
	Min       *float64    `json:"min"`
	Max       *float64    `json:"max"`
	Mean      *float64    `json:"mean"`
	Std       *float64    `json:"std"`
	Histogram [][]float64 `json:"histogram"`
}

type statsProps struct {
	Statistics map[string]bandStats `json:"statistics"`
}

type statsFeature struct {
	Properties statsProps `json:"properties"`
}

// ParseStatistics reads a raster statistics response, either a Feature or a
// FeatureCollection, using its first band. Categorical layers get their value
// histogram as categories; other layers get a histogram when one is present
// and scalar stats otherwise.
func ParseStatistics(layerID int, body []byte, categorical bool, chartLimit int) (Result, error) {
	var doc struct {
		statsFeature
		Features []statsFeature `json:"features"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{}, fmt.Errorf("decode statistics: %w", err)
	}
	props := doc.Properties
	if len(doc.Features) > 0 {
		props = doc.Features[0].Properties
	}
	if len(props.Statistics) == 0 {
		return Result{}, fmt.Errorf("statistics: no bands in response")
	}
	bands := make([]string, 0, len(props.Statistics))
	for b := range props.Statistics {
		bands = append(bands, b)
	}
	sort.Strings(bands)
	bs := props.Statistics[bands[0]]

	hasHistogram := len(bs.Histogram) == 2 && len(bs.Histogram[0]) > 0
	switch {
	case categorical:
		if !hasHistogram {
			return Result{}, fmt.Errorf("statistics: categorical layer without value histogram")
		}
		cats := make([]Category, 0, len(bs.Histogram[0]))
		for i, n := range bs.Histogram[0] {
			if i >= len(bs.Histogram[1]) {
				break
			}
			cats = append(cats, Category{Label: strconv.FormatFloat(bs.Histogram[1][i], 'f', -1, 64), Count: n})
		}
		return Result{LayerID: layerID, Kind: KindCategorical, Categories: topCategories(cats, chartLimit)}, nil
	case hasHistogram:
		return Result{
			LayerID: layerID,
			Kind:    KindHistogram,
			Counts:  slices.Clone(bs.Histogram[0]),
			Bins:    slices.Clone(bs.Histogram[1]),
		}, nil
	}
	if bs.Min == nil || bs.Max == nil || bs.Mean == nil {
		return Result{}, fmt.Errorf("statistics: band %s without min/max/mean", bands[0])
	}
	st := &Stats{Min: *bs.Min, Max: *bs.Max, Mean: *bs.Mean}
	if bs.Std != nil {
		st.Std = *bs.Std
	}
	return Result{LayerID: layerID, Kind: KindScalar, Stats: st}, nil
}

// keys a category row may carry its label under
var labelKeys = []string{"category", "mappingValue", "label", "name", "value"}

// ParseRows maps SQL API rows to a result. The declared analysis type wins;
// without one the row shape decides.
func ParseRows(layerID int, body []byte, analysisType string, chartLimit int) (Result, error) {
	var doc struct {
		Rows  []map[string]any `json:"rows"`
		Error []string         `json:"error"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{}, fmt.Errorf("decode rows: %w", err)
	}
	if len(doc.Error) > 0 {
		return Result{}, fmt.Errorf("sql api: %s", doc.Error[0])
	}
	if len(doc.Rows) == 0 {
		return Result{}, fmt.Errorf("sql api: no rows")
	}

	kind := analysisType
	if kind == "" {
		kind = inferKind(doc.Rows[0])
	}
	switch kind {
	case layer.AnalysisCategorical:
		cats := make([]Category, 0, len(doc.Rows))
		for _, row := range doc.Rows {
			label, ok := rowLabel(row)
			n, okN := number(row["count"])
			if !ok || !okN {
				return Result{}, fmt.Errorf("categorical row without label/count: %v", row)
			}
			cats = append(cats, Category{Label: label, Count: n})
		}
		return Result{LayerID: layerID, Kind: KindCategorical, Categories: topCategories(cats, chartLimit)}, nil
	case layer.AnalysisHistogram:
		res := Result{LayerID: layerID, Kind: KindHistogram}
		for _, row := range doc.Rows {
			lo, ok := number(row["min"])
			n, okN := number(row["count"])
			if !ok || !okN {
				return Result{}, fmt.Errorf("histogram row without min/count: %v", row)
			}
			res.Bins = append(res.Bins, lo)
			res.Counts = append(res.Counts, n)
		}
		return res, nil
	default:
		row := doc.Rows[0]
		st := &Stats{}
		var ok [3]bool
		st.Min, ok[0] = number(row["min"])
		st.Max, ok[1] = number(row["max"])
		st.Mean, ok[2] = firstNumber(row, "mean", "avg")
		if !ok[0] || !ok[1] || !ok[2] {
			return Result{}, fmt.Errorf("scalar row without min/max/mean: %v", row)
		}
		st.Std, _ = firstNumber(row, "std", "stdev", "stddev")
		return Result{LayerID: layerID, Kind: KindScalar, Stats: st}, nil
	}
}

func inferKind(row map[string]any) string {
	_, hasCount := row["count"]
	if _, ok := rowLabel(row); ok && hasCount {
		return layer.AnalysisCategorical
	}
	_, hasMin := row["min"]
	_, hasMax := row["max"]
	if hasMin && hasCount && !hasMax {
		return layer.AnalysisHistogram
	}
	return layer.AnalysisScalar
}

func rowLabel(row map[string]any) (string, bool) {
	for _, k := range labelKeys {
		if s, ok := row[k].(string); ok {
			return s, true
		}
	}
	return "", false
}

func firstNumber(row map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := number(row[k]); ok {
			return v, true
		}
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// topCategories keeps the limit largest categories, largest first.
func topCategories(cats []Category, limit int) []Category {
	if limit <= 0 {
		limit = DefaultChartLimit
	}
	slices.SortStableFunc(cats, func(a, b Category) int { return cmp.Compare(b.Count, a.Count) })
	if len(cats) > limit {
		cats = cats[:limit]
	}
	return cats
}
