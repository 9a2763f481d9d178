// Package layer defines the declarative layer configuration authored in the CMS
// and the validation every consumer runs before using it.
package layer

import (
	"maps"
	"strings"

	"github.com/mohammed-shakir/layer-atlas/pkg/timeline"
)

// Provider names the tile service family a layer is served by.
type Provider string

const (
	ProviderVectorSQL Provider = "vector-sql"
	ProviderRaster    Provider = "raster"
	ProviderCOG       Provider = "cog"
	ProviderBasemap   Provider = "basemap"
)

// aliases used by older CMS records
var providerAliases = map[string]Provider{
	"carto":   ProviderVectorSQL,
	"cartodb": ProviderVectorSQL,
	"leaflet": ProviderRaster,
	"xyz":     ProviderRaster,
}

// ParseProvider normalizes a provider name. Unknown names are returned as-is.
func ParseProvider(s string) Provider {
	s = strings.ToLower(strings.TrimSpace(s))
	if p, ok := providerAliases[s]; ok {
		return p
	}
	return Provider(s)
}

// Known reports whether p is one of the built-in providers.
func (p Provider) Known() bool {
	switch p {
	case ProviderVectorSQL, ProviderRaster, ProviderCOG, ProviderBasemap:
		return true
	}
	return false
}

// Analysis types a vector-sql analysis query may declare.
const (
	AnalysisHistogram   = "histogram"
	AnalysisCategorical = "categorical"
	AnalysisScalar      = "scalar"
)

// OutputField is one column exposed on feature click.
type OutputField struct {
	Column   string `json:"column" yaml:"column"`
	Property string `json:"property,omitempty" yaml:"property,omitempty"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
}

type InteractionConfig struct {
	Output []OutputField `json:"output" yaml:"output"`
}

// Columns returns the output column names in declared order.
func (ic *InteractionConfig) Columns() []string {
	if ic == nil {
		return nil
	}
	out := make([]string, 0, len(ic.Output))
	for _, f := range ic.Output {
		if c := strings.TrimSpace(f.Column); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Body carries provider specific source settings (layerConfig.body).
type Body struct {
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// LayerConfig is a validated layer definition. Order nil means append order.
type LayerConfig struct {
	ID               int                `json:"id"`
	Name             string             `json:"name,omitempty"`
	Provider         Provider           `json:"provider"`
	Style            string             `json:"styleExpression,omitempty"`
	Query            string             `json:"query,omitempty"`
	Opacity          float64            `json:"opacity"`
	Order            *int               `json:"order"`
	ChartLimit       *int               `json:"chartLimit,omitempty"`
	Interaction      *InteractionConfig `json:"interactionConfig,omitempty"`
	Timeline         *timeline.Timeline `json:"timeline,omitempty"`
	AnalysisSuitable bool               `json:"analysisSuitable"`
	AnalysisQuery    string             `json:"analysisQuery,omitempty"`
	AnalysisType     string             `json:"analysisType,omitempty"`
	Categorical      bool               `json:"categorical,omitempty"`
	Body             *Body              `json:"layerConfig,omitempty"`
	Params           map[string]string  `json:"params,omitempty"`
}

// Clone returns a deep copy.
func (c LayerConfig) Clone() LayerConfig {
	out := c
	if c.Order != nil {
		v := *c.Order
		out.Order = &v
	}
	if c.ChartLimit != nil {
		v := *c.ChartLimit
		out.ChartLimit = &v
	}
	if c.Interaction != nil {
		ic := InteractionConfig{Output: append([]OutputField(nil), c.Interaction.Output...)}
		out.Interaction = &ic
	}
	if c.Timeline != nil {
		tl := *c.Timeline
		tl.Steps = append([]string(nil), c.Timeline.Steps...)
		out.Timeline = &tl
	}
	if c.Body != nil {
		b := *c.Body
		out.Body = &b
	}
	out.Params = maps.Clone(c.Params)
	return out
}

// TileTemplate is the source template the adapter renders: Body.URL for cog
// layers, Query for every other provider.
func (c LayerConfig) TileTemplate() string {
	if c.Provider == ProviderCOG && c.Body != nil && c.Body.URL != "" {
		return c.Body.URL
	}
	return c.Query
}
