package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/devrev/replicawatch/internal/config"
	"github.com/devrev/replicawatch/internal/model"
	"github.com/devrev/replicawatch/internal/service"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var watch time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the recent records seen by every node",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup("stderr")
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			for {
				printRound(cmd.OutOrStdout(), a.status.GetAll(ctx))
				if watch <= 0 {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(watch):
				}
			}
		},
	}

	cmd.Flags().DurationVar(&watch, "watch", 0, "repeat every interval until interrupted")
	return cmd
}

func printRound(out io.Writer, round model.StatusRound) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "AS OF %s\n", round.AsOf.Format(time.RFC3339))
	fmt.Fprintln(tw, "NODE\tROLE\tRECORDS\tNEWEST\tLATENCY\tERROR")
	for _, st := range round.Nodes {
		newest := "-"
		if len(st.Records) > 0 {
			newest = st.Records[0].ID
		}
		errMsg := st.Error
		if errMsg == "" {
			errMsg = st.RoleError
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%dms\t%s\n",
			st.Node, st.Role, len(st.Records), newest, st.LatencyMs, errMsg)
	}
	tw.Flush()
}

func loadCmd() *cobra.Command {
	var (
		total     int
		stepCount int
		mirror    bool
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Bulk load synthetic records into the primary step by step",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup("stderr")
			if err != nil {
				return err
			}
			defer a.close()

			if stepCount <= 0 {
				stepCount = a.cfg.BulkLoad.StepCount
			}
			return runLoad(cmd.Context(), cmd.OutOrStdout(), a.bulk, total, stepCount, mirror)
		},
	}

	cmd.Flags().IntVar(&total, "total", model.DefaultPushTotal, "number of records to write")
	cmd.Flags().IntVar(&stepCount, "steps", 0, "number of steps (defaults to bulk_load.step_count)")
	cmd.Flags().BoolVar(&mirror, "mirror", false, "also append records to the in-process mirror")
	return cmd
}

func runLoad(ctx context.Context, out io.Writer, bulk *service.BulkLoadService, total, stepCount int, mirror bool) error {
	for step := 1; step <= stepCount; step++ {
		p, err := bulk.Step(ctx, service.StepRequest{
			Total:     total,
			Step:      step,
			StepCount: stepCount,
			Mirror:    mirror,
		})
		if p != nil {
			fmt.Fprintf(out, "[%3d%%] step %d/%d: %s\n", p.Percent, step, stepCount, p.Message)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), strings.TrimRight(string(out), "\n")+"\n")
			return err
		},
	}
}
