package urlstate

import (
	"io"
	"log/slog"

	"github.com/mohammed-shakir/layer-atlas/pkg/layer"
	"github.com/mohammed-shakir/layer-atlas/pkg/registry"
)

// Catalog resolves layer ids found in a URL to their full configuration.
type Catalog interface {
	Lookup(id int) (layer.LayerConfig, bool)
}

// Apply restores the registry from raw. The restore is all or nothing: a
// malformed query string leaves the registry empty and returns the default
// viewport together with the parse error. Ids the catalog does not know are
// dropped.
func Apply(reg *registry.Registry, cat Catalog, c Codec, raw string, logger *slog.Logger) (State, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	empty := State{Viewport: c.Defaults}

	s, err := c.FromQueryString(raw)
	if err != nil {
		logger.Warn("url state malformed, starting with no layers", "err", err)
		if rerr := reg.Reset(); rerr != nil {
			return empty, rerr
		}
		return empty, err
	}

	entries := make([]registry.Entry, 0, len(s.Layers))
	kept := s.Layers[:0:0]
	for _, ls := range s.Layers {
		cfg, ok := cat.Lookup(ls.ID)
		if !ok {
			logger.Warn("url state references unknown layer", "layer_id", ls.ID)
			continue
		}
		cfg = cfg.Clone()
		if ls.Opacity != nil {
			cfg.Opacity = layer.ClampOpacity(*ls.Opacity)
		}
		cfg.Order = ls.Order
		if ls.ChartLimit != nil {
			cfg.ChartLimit = ls.ChartLimit
		}
		e := registry.Entry{LayerConfig: cfg}
		if cfg.Timeline != nil {
			e.SelectedDate = ls.Date
		}
		entries = append(entries, e)
		kept = append(kept, ls)
	}
	if err := reg.Restore(entries); err != nil {
		logger.Warn("url state restore rejected, starting with no layers", "err", err)
		if rerr := reg.Reset(); rerr != nil {
			return empty, rerr
		}
		return empty, err
	}
	s.Layers = kept
	logger.Debug("url state restored", "layers", len(entries))
	return s, nil
}
