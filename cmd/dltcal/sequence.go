package main

import (
	"fmt"

	"codeberg.org/dltlab/dltcal/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewSequenceCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "sequence",
		Aliases: []string{"plan"},
		Short:   "Print the setpoints a run would visit",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			seq, err := cfg.Sequence()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			color.New(color.Bold).Fprintf(out, "%d setpoints, %.2f K to %.2f K\n",
				seq.Len(), cfg.StartTemperature, cfg.StopTemperature)
			for i, sp := range seq.Values() {
				fmt.Fprintf(out, "%4d  %8.2f K\n", i+1, sp)
			}
			return nil
		},
	}
}
