package layer

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mohammed-shakir/layer-atlas/pkg/timeline"
)

// RawSource mirrors the CMS layerConfig column.
type RawSource struct {
	Body *Body `json:"body,omitempty" yaml:"body,omitempty"`
}

// Raw is a layer record as stored in the CMS or the catalog file, before validation.
type Raw struct {
	ID                int                `json:"id" yaml:"id"`
	Name              string             `json:"name,omitempty" yaml:"name,omitempty"`
	Provider          string             `json:"provider" yaml:"provider"`
	StyleExpression   string             `json:"styleExpression,omitempty" yaml:"styleExpression,omitempty"`
	Query             string             `json:"query,omitempty" yaml:"query,omitempty"`
	Opacity           *float64           `json:"opacity,omitempty" yaml:"opacity,omitempty"`
	Order             *float64           `json:"order,omitempty" yaml:"order,omitempty"`
	ChartLimit        *float64           `json:"chartLimit,omitempty" yaml:"chartLimit,omitempty"`
	InteractionConfig any                `json:"interactionConfig,omitempty" yaml:"interactionConfig,omitempty"`
	Timeline          *timeline.Timeline `json:"timeline,omitempty" yaml:"timeline,omitempty"`
	AnalysisSuitable  bool               `json:"analysisSuitable,omitempty" yaml:"analysisSuitable,omitempty"`
	AnalysisQuery     string             `json:"analysisQuery,omitempty" yaml:"analysisQuery,omitempty"`
	AnalysisType      string             `json:"analysisType,omitempty" yaml:"analysisType,omitempty"`
	Categorical       bool               `json:"categorical,omitempty" yaml:"categorical,omitempty"`
	LayerConfig       *RawSource         `json:"layerConfig,omitempty" yaml:"layerConfig,omitempty"`
	Params            map[string]string  `json:"params,omitempty" yaml:"params,omitempty"`
}

// ValidationError rejects a layer record. The caller skips the layer.
type ValidationError struct {
	ID     int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("layer %d: %s: %s", e.ID, e.Field, e.Reason)
}

// Warning is a non fatal correction applied during validation.
type Warning struct {
	Field  string
	Reason string
}

func (w Warning) String() string { return w.Field + ": " + w.Reason }

// Validate turns a raw record into a LayerConfig. It has no side effects.
func Validate(raw Raw) (LayerConfig, []Warning, error) {
	var warns []Warning
	fail := func(field, reason string) (LayerConfig, []Warning, error) {
		return LayerConfig{}, warns, &ValidationError{ID: raw.ID, Field: field, Reason: reason}
	}

	if raw.ID <= 0 {
		return fail("id", "must be a positive integer")
	}
	if strings.TrimSpace(raw.Provider) == "" {
		return fail("provider", "required")
	}
	cfg := LayerConfig{
		ID:               raw.ID,
		Name:             raw.Name,
		Provider:         ParseProvider(raw.Provider),
		Style:            raw.StyleExpression,
		Query:            strings.TrimSpace(raw.Query),
		Opacity:          1,
		AnalysisSuitable: raw.AnalysisSuitable,
		AnalysisQuery:    raw.AnalysisQuery,
		AnalysisType:     strings.ToLower(strings.TrimSpace(raw.AnalysisType)),
		Categorical:      raw.Categorical,
		Params:           raw.Params,
	}
	if raw.LayerConfig != nil && raw.LayerConfig.Body != nil {
		b := *raw.LayerConfig.Body
		cfg.Body = &b
	}

	if cfg.Provider == ProviderCOG {
		if cfg.Body == nil || strings.TrimSpace(cfg.Body.URL) == "" {
			return fail("layerConfig.body.url", "required for cog layers")
		}
	} else if cfg.Query == "" {
		return fail("query", "required")
	}

	if raw.Opacity != nil {
		o, w := clampOpacity(*raw.Opacity)
		cfg.Opacity = o
		if w != "" {
			warns = append(warns, Warning{Field: "opacity", Reason: w})
		}
	}

	if raw.Order != nil {
		if ord, ok := finiteInt(*raw.Order); ok {
			cfg.Order = &ord
		} else {
			warns = append(warns, Warning{Field: "order", Reason: "not a finite number, using append order"})
		}
	}

	if raw.ChartLimit != nil {
		n, ok := finiteInt(*raw.ChartLimit)
		if !ok || n <= 0 || float64(n) != *raw.ChartLimit {
			return fail("chartLimit", "must be a positive integer")
		}
		cfg.ChartLimit = &n
	}

	if raw.InteractionConfig != nil {
		ic, err := decodeInteraction(raw.InteractionConfig)
		if err != nil {
			return fail("interactionConfig", err.Error())
		}
		cfg.Interaction = ic
	}

	if raw.Timeline != nil {
		tl := *raw.Timeline
		if err := timeline.CheckFormat(tl.Format); err != nil {
			return fail("timeline.format", err.Error())
		}
		if tl.Format == "" {
			tl.Format = timeline.DefaultFormat
		}
		if tl.DefaultDate == "" {
			warns = append(warns, Warning{Field: "timeline.defaultDate", Reason: "missing, templates stay unresolved until a date is selected"})
		} else if _, err := tl.Parse(tl.DefaultDate); err != nil {
			return fail("timeline.defaultDate", err.Error())
		}
		cfg.Timeline = &tl
	}

	switch cfg.AnalysisType {
	case "", AnalysisHistogram, AnalysisCategorical, AnalysisScalar:
	default:
		return fail("analysisType", fmt.Sprintf("unknown analysis type %q", cfg.AnalysisType))
	}
	if cfg.AnalysisSuitable && cfg.Provider == ProviderVectorSQL && strings.TrimSpace(cfg.AnalysisQuery) == "" {
		return fail("analysisQuery", "required for analysis suitable vector-sql layers")
	}

	return cfg, warns, nil
}

// ClampOpacity bounds v to [0,1]; NaN becomes 1.
func ClampOpacity(v float64) float64 {
	o, _ := clampOpacity(v)
	return o
}

func clampOpacity(v float64) (float64, string) {
	switch {
	case math.IsNaN(v):
		return 1, "not a number, using 1"
	case v < 0:
		return 0, fmt.Sprintf("%g clamped to 0", v)
	case v > 1:
		return 1, fmt.Sprintf("%g clamped to 1", v)
	}
	return v, ""
}

func finiteInt(v float64) (int, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, false
	}
	return int(v), true
}

// the CMS stores interactionConfig either as an object or as JSON text
func decodeInteraction(v any) (*InteractionConfig, error) {
	var data []byte
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		data = []byte(t)
	case *InteractionConfig:
		return t, nil
	case InteractionConfig:
		return &t, nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		data = b
	}
	var ic InteractionConfig
	if err := json.Unmarshal(data, &ic); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &ic, nil
}
