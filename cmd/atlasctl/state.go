package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/layer-atlas/pkg/registry"
	"github.com/mohammed-shakir/layer-atlas/pkg/urlstate"
)

func newStateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Encode and decode shareable map URLs",
	}

	var (
		layers    []int
		dates     map[string]string
		opacities map[string]string
		zoom      float64
		lat, lng  float64
		tab       string
	)
	encode := &cobra.Command{
		Use:   "encode",
		Short: "Activate catalog layers and print the query string",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := e.loadCatalog()
			if err != nil {
				return err
			}
			reg := registry.New(e.log)
			for _, id := range layers {
				cfg, ok := c.Lookup(id)
				if !ok {
					return fmt.Errorf("layer %d is not in the catalog", id)
				}
				if err := reg.Activate(cfg); err != nil {
					return fmt.Errorf("activate %d: %w", id, err)
				}
			}
			if err := applyPerLayer(opacities, func(id int, v string) error {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return fmt.Errorf("opacity %q: %w", v, err)
				}
				return reg.SetOpacity(id, f)
			}); err != nil {
				return err
			}
			if err := applyPerLayer(dates, reg.SetDate); err != nil {
				return err
			}

			codec := e.codec()
			vp := codec.Defaults
			if cmd.Flags().Changed("zoom") {
				vp.Zoom = zoom
			}
			if cmd.Flags().Changed("lat") {
				vp.Center.Lat = lat
			}
			if cmd.Flags().Changed("lng") {
				vp.Center.Lng = lng
			}
			q := codec.ToQueryString(urlstate.State{
				Layers:   urlstate.LayersFrom(reg.OrderedEntries()),
				Viewport: vp,
				Tab:      tab,
			})
			_, err = fmt.Fprintln(e.out, q)
			return err
		},
	}
	f := encode.Flags()
	f.IntSliceVar(&layers, "layer", nil, "layer id to activate, top first (repeatable)")
	f.StringToStringVar(&dates, "date", nil, "selected date per layer, e.g. 66=2021")
	f.StringToStringVar(&opacities, "opacity", nil, "opacity per layer, e.g. 7=0.5")
	f.Float64Var(&zoom, "zoom", 0, "viewport zoom")
	f.Float64Var(&lat, "lat", 0, "viewport center latitude")
	f.Float64Var(&lng, "lng", 0, "viewport center longitude")
	f.StringVar(&tab, "tab", "", "sidebar tab")

	decode := &cobra.Command{
		Use:   "decode QUERY",
		Short: "Restore a query string against the catalog and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := e.loadCatalog()
			if err != nil {
				return err
			}
			reg := registry.New(e.log)
			st, err := urlstate.Apply(reg, c, e.codec(), args[0], e.log)
			var pe *urlstate.ParseError
			if err != nil && !errors.As(err, &pe) {
				return err
			}
			out := map[string]any{
				"viewport": st.Viewport,
				"tab":      st.Tab,
				"drawing":  st.Drawing,
				"layers":   reg.OrderedEntries(),
			}
			if pe != nil {
				out["reset"] = pe.Error()
			}
			return e.print(out)
		},
	}

	cmd.AddCommand(encode, decode)
	return cmd
}

func applyPerLayer(m map[string]string, fn func(id int, v string) error) error {
	for k, v := range m {
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return fmt.Errorf("layer id %q: %w", k, err)
		}
		if err := fn(id, v); err != nil {
			return fmt.Errorf("layer %d: %w", id, err)
		}
	}
	return nil
}
