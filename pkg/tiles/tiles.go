// Package tiles translates layer configurations into the tile definitions a map
// canvas renders, one adapter per provider.
package tiles

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mohammed-shakir/layer-atlas/pkg/layer"
	"github.com/mohammed-shakir/layer-atlas/pkg/timeline"
)

type Kind string

const (
	KindSQL         Kind = "sql"
	KindTile        Kind = "tile"
	KindBasemap     Kind = "basemap"
	KindUnsupported Kind = "unsupported"
)

// MaxZIndex is the z-index of the top-most layer; lower layers count down from it.
const MaxZIndex = 1000

// TileDefinition is what the map canvas needs to draw one layer.
type TileDefinition struct {
	LayerID       int     `json:"layerId"`
	Provider      string  `json:"provider"`
	Kind          Kind    `json:"kind"`
	SQL           string  `json:"sql,omitempty"`
	Style         string  `json:"style,omitempty"`
	Interactivity string  `json:"interactivity,omitempty"`
	URL           string  `json:"url,omitempty"`
	Opacity       float64 `json:"opacity"`
	ZIndex        int     `json:"zIndex"`
	Reason        string  `json:"reason,omitempty"`
	// DateError is set when the selected date fell back to the timeline default.
	DateError string `json:"dateError,omitempty"`
}

// RuntimeParams are the live values a definition is rendered with.
type RuntimeParams struct {
	SelectedDate string
	Opacity      float64
	ZIndex       int
	// Params fill {{key}} placeholders, on top of the layer's own params.
	Params map[string]string
}

// Adapter renders one provider family.
type Adapter interface {
	Definition(cfg layer.LayerConfig, rp RuntimeParams) TileDefinition
}

type AdapterFunc func(cfg layer.LayerConfig, rp RuntimeParams) TileDefinition

func (f AdapterFunc) Definition(cfg layer.LayerConfig, rp RuntimeParams) TileDefinition {
	return f(cfg, rp)
}

var (
	mu       sync.RWMutex
	adapters = map[layer.Provider]Adapter{
		layer.ProviderVectorSQL: AdapterFunc(vectorSQL),
		layer.ProviderRaster:    AdapterFunc(raster),
		layer.ProviderCOG:       AdapterFunc(cog),
		layer.ProviderBasemap:   AdapterFunc(basemap),
	}
)

// Register installs or replaces the adapter for a provider.
func Register(p layer.Provider, a Adapter) {
	mu.Lock()
	defer mu.Unlock()
	adapters[p] = a
}

// ToTileDefinition renders cfg. Unknown providers produce an unsupported
// definition instead of an error.
func ToTileDefinition(cfg layer.LayerConfig, rp RuntimeParams) TileDefinition {
	mu.RLock()
	a, ok := adapters[cfg.Provider]
	mu.RUnlock()
	if !ok {
		d := base(cfg, rp, KindUnsupported)
		d.Reason = fmt.Sprintf("%s provider is not yet supported.", cfg.Provider)
		return d
	}
	return a.Definition(cfg, rp)
}

func base(cfg layer.LayerConfig, rp RuntimeParams, kind Kind) TileDefinition {
	return TileDefinition{
		LayerID:  cfg.ID,
		Provider: string(cfg.Provider),
		Kind:     kind,
		Opacity:  layer.ClampOpacity(rp.Opacity),
		ZIndex:   rp.ZIndex,
	}
}

// render fills {{key}} params, then timeline tokens when the layer has a timeline.
func render(tmpl string, cfg layer.LayerConfig, rp RuntimeParams) (string, string) {
	tmpl = fillParams(tmpl, cfg.Params)
	tmpl = fillParams(tmpl, rp.Params)
	if cfg.Timeline == nil {
		return tmpl, ""
	}
	out, err := timeline.Substitute(tmpl, *cfg.Timeline, rp.SelectedDate)
	if err != nil {
		return out, err.Error()
	}
	return out, ""
}

func fillParams(tmpl string, params map[string]string) string {
	if len(params) == 0 || !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func vectorSQL(cfg layer.LayerConfig, rp RuntimeParams) TileDefinition {
	d := base(cfg, rp, KindSQL)
	var styleErr string
	d.SQL, d.DateError = render(cfg.Query, cfg, rp)
	d.Style, styleErr = render(cfg.Style, cfg, rp)
	if d.DateError == "" {
		d.DateError = styleErr
	}
	if cols := cfg.Interaction.Columns(); len(cols) > 0 {
		d.Interactivity = strings.Join(cols, ",")
	}
	return d
}

func raster(cfg layer.LayerConfig, rp RuntimeParams) TileDefinition {
	d := base(cfg, rp, KindTile)
	d.URL, d.DateError = render(cfg.Query, cfg, rp)
	return d
}

func cog(cfg layer.LayerConfig, rp RuntimeParams) TileDefinition {
	d := base(cfg, rp, KindTile)
	tmpl := cfg.TileTemplate()
	if tmpl == "" {
		d.Kind = KindUnsupported
		d.Reason = "cog layer without layerConfig.body.url"
		return d
	}
	d.URL, d.DateError = render(tmpl, cfg, rp)
	return d
}

func basemap(cfg layer.LayerConfig, rp RuntimeParams) TileDefinition {
	d := base(cfg, rp, KindBasemap)
	d.URL = cfg.Query
	d.ZIndex = 0
	return d
}
