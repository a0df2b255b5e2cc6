package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/samuelsimko/scaling-mlps/tracking"
	"github.com/samuelsimko/scaling-mlps/training"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or the epochs of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := tracking.OpenHistory(tracking.HistoryConfig{Path: path}, nil)
			if err != nil {
				return err
			}
			defer history.Close()

			if len(args) == 1 {
				return printEpochs(cmd, history, args[0])
			}
			return printRuns(cmd, history)
		},
	}
	cmd.Flags().StringVar(&path, "history_path", "", "Directory of the local run history store")
	cmd.MarkFlagRequired("history_path")
	return cmd
}

func printRuns(cmd *cobra.Command, history *tracking.HistorySink) error {
	runs, err := history.Runs()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "EPOCH", "BEST ACC", "COMPUTE", "UPDATED")
	for _, r := range runs {
		best := "-"
		if r.BestAccuracy >= 0 {
			best = fmt.Sprintf("%.4f", r.BestAccuracy)
		}
		compute := "-"
		if c, ok := r.Latest[training.MetricCompute]; ok {
			compute = humanize.SIWithDigits(c, 3, "FLOP")
		}
		t.Row(r.ID, r.Name, strconv.Itoa(r.LastEpoch), best, compute, humanize.Time(r.Updated))
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.String())
	return nil
}

func printEpochs(cmd *cobra.Command, history *tracking.HistorySink, runID string) error {
	epochs, err := history.Epochs(runID)
	if err != nil {
		return err
	}
	if len(epochs) == 0 {
		return fmt.Errorf("no epochs recorded for run %s", runID)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("EPOCH", "METRICS")
	for _, e := range epochs {
		names := make([]string, 0, len(e.Metrics))
		for name := range e.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s=%.4g", name, e.Metrics[name])
		}
		t.Row(strconv.Itoa(e.Epoch), strings.Join(parts, ", "))
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.String())
	return nil
}
