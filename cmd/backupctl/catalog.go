package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCatalogCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show the tables in a backup and their restore order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tTABLE\tRANK\tKEY\tFUNCTION")
			for i, t := range cat.InsertionOrder() {
				fn := t.Function
				if fn == "" {
					fn = "-"
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", i+1, t.Name, t.Rank, strings.Join(t.Key, ","), fn)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			var order []string
			for _, t := range cat.DeletionOrder() {
				order = append(order, t.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nclear order: %s\n", strings.Join(order, ", "))
			return nil
		},
	}
}
