package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/layer-atlas/pkg/registry"
	"github.com/mohammed-shakir/layer-atlas/pkg/tiles"
	"github.com/mohammed-shakir/layer-atlas/pkg/urlstate"
)

func newTilesCmd(e *env) *cobra.Command {
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "tiles QUERY",
		Short: "Print the tile definitions the map would render for a shared URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := e.loadCatalog()
			if err != nil {
				return err
			}
			reg := registry.New(e.log)
			if _, err := urlstate.Apply(reg, c, e.codec(), args[0], e.log); err != nil {
				e.log.Warn("shared url reset", "err", err)
			}
			return e.print(tiles.Compose(reg.OrderedEntries(), params))
		},
	}
	cmd.Flags().StringToStringVar(&params, "param", nil, "template parameter, e.g. iso=KEN")
	return cmd
}
