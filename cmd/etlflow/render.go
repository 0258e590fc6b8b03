package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRenderCmd(root *rootOptions) *cobra.Command {
	var (
		runID  string
		output string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the pipeline graph, or the state of a run, as Graphviz DOT",
		Example: `  etlflow render | dot -Tpng > dag.png
  etlflow render --run-id 5f1c... -o run.dot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			var dot string
			if runID != "" {
				dot, err = a.engine.RenderRunStatus(cmd.Context(), runID)
			} else {
				dot, err = a.engine.RenderDAG(cfg.Pipeline.DAGName)
			}
			if err != nil {
				return err
			}

			if output == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), dot)
				return err
			}
			return os.WriteFile(output, []byte(dot), 0o644)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "render the task states of this run")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}
