package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warriorguo/etlflow/types"
)

var logicalTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02T15",
	"2006-01-02",
}

func parseLogicalTime(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.UTC().Truncate(time.Hour).Add(-time.Hour), nil
	}
	for _, layout := range logicalTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.NotValidf("logical time %q", s)
}

type runOptions struct {
	runID       string
	logicalTime string
	params      map[string]string
	timeout     time.Duration
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once for a logical time and wait for it",
		Example: `  etlflow run --config etlflow.yaml --logical-time 2018-11-01T00
  etlflow run -c etlflow.yaml --param env=dev`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logicalTime, err := parseLogicalTime(opts.logicalTime, time.Now())
			if err != nil {
				return err
			}
			if opts.runID == "" {
				opts.runID = uuid.NewString()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// an interrupt cancels the running attempts
			a, err := newApp(cfg, types.WithContext(ctx))
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			params := types.Data{}
			for k, v := range opts.params {
				params[k] = v
			}
			if err := a.engine.RunDAG(ctx, cfg.Pipeline.DAGName, opts.runID, logicalTime, params); err != nil {
				return err
			}

			status, err := a.engine.WaitRun(ctx, opts.runID)
			if err != nil {
				log.Warnf("run %s interrupted: %v", opts.runID, err)
				if terr := a.engine.TerminateRun(context.Background(), opts.runID); terr != nil {
					log.Warnf("terminate run %s: %v", opts.runID, terr)
				}
				return err
			}

			dag, _ := a.engine.GetDAG(cfg.Pipeline.DAGName)
			order, _ := dag.TopologicalOrder()
			printSummary(cmd.OutOrStdout(), status, order)
			if status.Status != types.Succeeded {
				return errors.Errorf("run %s %s: %s", status.RunID, status.Status, status.LastError)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "run id, a uuid by default")
	cmd.Flags().StringVarP(&opts.logicalTime, "logical-time", "t", "", "start of the interval to process, the previous hour by default")
	cmd.Flags().StringToStringVarP(&opts.params, "param", "p", nil, "run parameter key=value, available to key templates as .Params")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "give up waiting after this long")
	return cmd
}

func statusColor(s types.StatusType) *color.Color {
	switch s {
	case types.Succeeded:
		return color.New(color.FgGreen, color.Bold)
	case types.Failed:
		return color.New(color.FgRed, color.Bold)
	case types.UpstreamFailed:
		return color.New(color.FgYellow)
	case types.Running, types.Retrying:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

func printSummary(w io.Writer, status *types.RunStatus, order []string) {
	fmt.Fprintf(w, "run %s of %s for %s: ", status.RunID, status.DAGName, status.LogicalTime.Format(time.RFC3339))
	statusColor(status.Status).Fprintln(w, status.Status.String())

	for _, name := range order {
		task, exists := status.Tasks[name]
		if !exists {
			continue
		}
		fmt.Fprintf(w, "  %-28s ", name)
		statusColor(task.Status).Fprintf(w, "%-16s", task.Status.String())
		if task.Attempts > 1 {
			fmt.Fprintf(w, " attempts=%d", task.Attempts)
		}
		if !task.StartTime.IsZero() && !task.EndTime.IsZero() {
			fmt.Fprintf(w, " %s", task.EndTime.Sub(task.StartTime).Round(time.Millisecond))
		}
		if task.LastError != "" {
			fmt.Fprintf(w, " %s", task.LastError)
		}
		fmt.Fprintln(w)
	}
}
