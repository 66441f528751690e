package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wehubfusion/Daedalus/internal/workflowfile"
	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/plugins/all"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a workflow file's graph and action types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := workflowfile.Load(args[0])
			if err != nil {
				return err
			}

			reg := actions.NewRegistry()
			bundle, err := all.Register(reg, all.Options{})
			if err != nil {
				return err
			}
			defer bundle.Close()

			var unknown []string
			for _, n := range f.Nodes {
				if n.Type != workflow.NodeAction {
					continue
				}
				actionType, _ := n.Config["actionType"].(string)
				if _, ok := reg.Lookup(actionType); !ok {
					unknown = append(unknown, fmt.Sprintf("node %q uses unknown action type %q", n.ID, actionType))
				}
			}
			for _, u := range unknown {
				fmt.Fprintln(cmd.ErrOrStderr(), u)
			}
			if len(unknown) > 0 {
				return fmt.Errorf("%s: %d unknown action type(s)", args[0], len(unknown))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d nodes, %d edges, ok\n", args[0], len(f.Nodes), len(f.Edges))
			return nil
		},
	}
}
