package main

import (
	"fmt"
	"net/http"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/layer-atlas/internal/core/httpclient"
	"github.com/mohammed-shakir/layer-atlas/pkg/analysis"
	"github.com/mohammed-shakir/layer-atlas/pkg/registry"
	"github.com/mohammed-shakir/layer-atlas/pkg/urlstate"
)

func newAnalyzeCmd(e *env) *cobra.Command {
	var (
		geometryPath string
		proxyURL     string
		titilerURL   string
		sqlURL       string
		workers      int
		bins         int
	)
	cmd := &cobra.Command{
		Use:   "analyze QUERY",
		Short: "Run zonal statistics for the layers of a shared URL over a GeoJSON polygon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.loadCatalog()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(geometryPath)
			if err != nil {
				return fmt.Errorf("read geometry: %w", err)
			}
			g, err := analysis.ParseGeometry(data)
			if err != nil {
				return err
			}

			reg := registry.New(e.log)
			if _, err := urlstate.Apply(reg, c, e.codec(), args[0], e.log); err != nil {
				return fmt.Errorf("shared url: %w", err)
			}

			client := httpclient.NewOutbound(e.cfg.UpstreamTimeout)
			s := analysis.NewSession(dispatcher(client, proxyURL, titilerURL, sqlURL, bins),
				analysis.WithConcurrency(workers),
				analysis.WithLogger(e.log))
			s.StartDrawing()
			if err := s.CompleteDrawing(g); err != nil {
				return err
			}
			results, err := s.Analyze(cmd.Context(), reg.OrderedEntries())
			if err != nil {
				return err
			}

			ids := make([]int, 0, len(results))
			for id := range results {
				ids = append(ids, id)
			}
			slices.Sort(ids)
			out := make([]analysis.Result, 0, len(ids))
			for _, id := range ids {
				out = append(out, results[id])
			}
			return e.print(map[string]any{"state": s.View().State.String(), "results": out})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&geometryPath, "geometry", "g", "", "GeoJSON file with one polygon")
	f.StringVar(&proxyURL, "proxy", e.cfg.ProxyURL, "analysis proxy origin (env PROXY_URL)")
	f.StringVar(&titilerURL, "titiler", e.cfg.TitilerDefaultURL, "TiTiler base for raster layers (env TITILER_DEFAULT_URL)")
	f.StringVar(&sqlURL, "sql", e.cfg.SQLAPIURL, "SQL API endpoint for vector layers (env SQL_API_URL)")
	f.IntVar(&workers, "concurrency", e.cfg.AnalysisWorkers, "layers analyzed in parallel")
	f.IntVar(&bins, "bins", e.cfg.HistogramBins, "histogram bins for continuous rasters")
	_ = cmd.MarkFlagRequired("geometry")
	return cmd
}

func dispatcher(client *http.Client, proxyURL, titilerURL, sqlURL string, bins int) analysis.Dispatcher {
	return analysis.Dispatcher{
		Raster: &analysis.ProxyFetcher{
			Client:         client,
			ProxyURL:       proxyURL,
			DefaultTitiler: titilerURL,
			HistogramBins:  bins,
		},
		Vector: &analysis.SQLFetcher{Client: client, Endpoint: sqlURL},
	}
}
