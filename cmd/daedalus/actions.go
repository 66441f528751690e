package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/plugins/all"
)

func newActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the registered action types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := actions.NewRegistry()
			bundle, err := all.Register(reg, all.Options{})
			if err != nil {
				return err
			}
			defer bundle.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tACTION\tDESCRIPTION")
			for _, a := range reg.Actions() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.Category, a.ID, a.Description)
			}
			return w.Flush()
		},
	}
}
