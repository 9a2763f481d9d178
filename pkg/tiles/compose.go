package tiles

import (
	"github.com/mohammed-shakir/layer-atlas/pkg/layer"
	"github.com/mohammed-shakir/layer-atlas/pkg/registry"
)

// Compose renders the registry order for the map canvas. The first entry is
// drawn on top. Only one basemap renders, beneath everything else; later
// basemaps come back as unsupported so the legend can flag them.
func Compose(entries []registry.Entry, params map[string]string) []TileDefinition {
	out := make([]TileDefinition, 0, len(entries))
	basemapSeen := false
	for i, e := range entries {
		rp := RuntimeParams{
			SelectedDate: e.SelectedDate,
			Opacity:      e.Opacity,
			ZIndex:       MaxZIndex - i,
			Params:       params,
		}
		if e.Provider == layer.ProviderBasemap {
			if basemapSeen {
				d := base(e.LayerConfig, rp, KindUnsupported)
				d.Reason = "basemap superseded"
				out = append(out, d)
				continue
			}
			basemapSeen = true
		}
		out = append(out, ToTileDefinition(e.LayerConfig, rp))
	}
	return out
}
