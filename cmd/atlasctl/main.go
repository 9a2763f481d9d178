// Command atlasctl drives the layer registry, URL state, tile composition and
// analysis pipeline from the command line.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/layer-atlas/internal/catalog"
	"github.com/mohammed-shakir/layer-atlas/internal/core/config"
	"github.com/mohammed-shakir/layer-atlas/internal/logger"
	"github.com/mohammed-shakir/layer-atlas/pkg/urlstate"
)

var Version = "dev"

// env holds what every subcommand shares.
type env struct {
	cfg         config.Config
	catalogPath string
	logLevel    string
	asYAML      bool
	out         io.Writer
	log         *slog.Logger
}

func main() {
	if err := newRootCmd(config.FromEnv(), os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config, stdout, stderr io.Writer) *cobra.Command {
	e := &env{cfg: cfg, out: stdout}

	root := &cobra.Command{
		Use:           "atlasctl",
		Short:         "Inspect layer catalogs, shared map URLs and zonal statistics",
		Version:       Version,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			zl := logger.Build(logger.Config{
				Level:     e.logLevel,
				Console:   true,
				Service:   "atlasctl",
				Component: cmd.Name(),
			}, stderr)
			e.log = logger.NewSlog(&zl)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&e.catalogPath, "catalog", cfg.LayerCatalog, "layer catalog file (env LAYER_CATALOG)")
	pf.StringVar(&e.logLevel, "log-level", cfg.LogLevel, "debug|info|warn|error")
	pf.BoolVarP(&e.asYAML, "yaml", "y", false, "print YAML instead of JSON")

	root.AddCommand(
		newCatalogCmd(e),
		newStateCmd(e),
		newTilesCmd(e),
		newAnalyzeCmd(e),
	)
	return root
}

func (e *env) loadCatalog() (*catalog.Catalog, error) {
	c, err := catalog.Load(e.catalogPath, e.log)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return c, nil
}

func (e *env) codec() urlstate.Codec {
	v := e.cfg.DefaultViewport
	return urlstate.NewCodec(urlstate.Viewport{
		Center: urlstate.LatLng{Lat: v.Lat, Lng: v.Lng},
		Zoom:   v.Zoom,
	})
}

func (e *env) print(v any) error {
	if e.asYAML {
		// round trip through JSON so the json tags name the fields
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		enc := yaml.NewEncoder(e.out)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
