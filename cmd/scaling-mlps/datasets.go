package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/samuelsimko/scaling-mlps/vision/dataset"
	"github.com/spf13/cobra"
)

func newDatasetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List the known datasets and their statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("NAME", "CLASSES", "TRAIN", "TEST", "RESOLUTION", "FORMAT")
			for _, name := range dataset.Names() {
				info, err := dataset.Lookup(name)
				if err != nil {
					return err
				}
				t.Row(info.Name,
					humanize.Comma(int64(info.Classes)),
					humanize.Comma(int64(info.TrainSamples)),
					humanize.Comma(int64(info.TestSamples)),
					strconv.Itoa(info.Resolution),
					info.Format.String(),
				)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
}
