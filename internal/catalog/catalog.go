// Package catalog loads the layer catalog file. Style and query of a shared
// layer are always resolved here, never taken from a URL.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/layer-atlas/pkg/layer"
)

type file struct {
	Layers []layer.Raw `yaml:"layers"`
}

// Issue records a layer that was skipped or corrected while loading.
type Issue struct {
	ID      int
	Err     error
	Warning *layer.Warning
}

type Catalog struct {
	byID   map[int]layer.LayerConfig
	ids    []int
	issues []Issue
}

func Load(path string, logger *slog.Logger) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(b, logger)
}

// Parse decodes a catalog document. A layer that fails validation is skipped
// and logged; only a document that cannot be decoded is an error.
func Parse(data []byte, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{byID: make(map[int]layer.LayerConfig, len(f.Layers))}
	for _, raw := range f.Layers {
		cfg, warns, err := layer.Validate(raw)
		for i := range warns {
			logger.Warn("layer corrected", "layer_id", raw.ID, "warning", warns[i].String())
			c.issues = append(c.issues, Issue{ID: raw.ID, Warning: &warns[i]})
		}
		if err != nil {
			logger.Warn("layer skipped", "layer_id", raw.ID, "err", err)
			c.issues = append(c.issues, Issue{ID: raw.ID, Err: err})
			continue
		}
		if _, dup := c.byID[cfg.ID]; dup {
			err := fmt.Errorf("layer %d: duplicate id", cfg.ID)
			logger.Warn("layer skipped", "layer_id", cfg.ID, "err", err)
			c.issues = append(c.issues, Issue{ID: cfg.ID, Err: err})
			continue
		}
		c.byID[cfg.ID] = cfg
		c.ids = append(c.ids, cfg.ID)
	}
	slices.Sort(c.ids)
	return c, nil
}

// Lookup returns a copy; callers may mutate it freely.
func (c *Catalog) Lookup(id int) (layer.LayerConfig, bool) {
	cfg, ok := c.byID[id]
	if !ok {
		return layer.LayerConfig{}, false
	}
	return cfg.Clone(), true
}

// All lists layers by ascending id.
func (c *Catalog) All() []layer.LayerConfig {
	out := make([]layer.LayerConfig, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.byID[id].Clone())
	}
	return out
}

func (c *Catalog) Issues() []Issue { return slices.Clone(c.issues) }

func (c *Catalog) Len() int { return len(c.ids) }

// Routes serves the catalog as JSON.
func (c *Catalog) Routes(r chi.Router) {
	r.Get("/", c.list)
	r.Get("/{id}", c.get)
}

func (c *Catalog) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"layers": c.All()})
}

func (c *Catalog) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid layer id", "kind": "invalid_parameter"})
		return
	}
	cfg, ok := c.Lookup(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Layer not found", "kind": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
