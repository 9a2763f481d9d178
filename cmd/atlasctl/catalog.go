package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCatalogCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Work with the layer catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate every layer and report corrections",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := e.loadCatalog()
			if err != nil {
				return err
			}
			type issue struct {
				ID      int    `json:"id"`
				Level   string `json:"level"`
				Message string `json:"message"`
			}
			var (
				issues []issue
				failed int
			)
			for _, is := range c.Issues() {
				switch {
				case is.Err != nil:
					failed++
					issues = append(issues, issue{ID: is.ID, Level: "error", Message: is.Err.Error()})
				case is.Warning != nil:
					issues = append(issues, issue{ID: is.ID, Level: "warning", Message: is.Warning.String()})
				}
			}
			if err := e.print(map[string]any{"layers": c.Len(), "issues": issues}); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d layer(s) rejected", failed)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the validated layers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := e.loadCatalog()
			if err != nil {
				return err
			}
			return e.print(c.All())
		},
	})
	return cmd
}
