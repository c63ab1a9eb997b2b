package main

import (
	"fmt"

	"codeberg.org/dltlab/dltcal/internal/lakeshore"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and mark Lake Shore controllers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := lakeshore.ListPorts()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ports) == 0 {
				fmt.Fprintln(out, "No serial ports found.")
				return nil
			}

			bold := color.New(color.Bold).SprintFunc()
			green := color.New(color.FgGreen, color.Bold).SprintFunc()
			faint := color.New(color.Faint).SprintFunc()

			for _, p := range ports {
				name := p.Name
				if p.LakeShore {
					name = green(name)
				} else {
					name = bold(name)
				}
				desc := p.Product
				if desc == "" {
					desc = "unknown device"
				}
				if p.IsUSB {
					desc = fmt.Sprintf("%s %s", desc, faint(fmt.Sprintf("(%s:%s %s)", p.VID, p.PID, p.Serial)))
				}
				fmt.Fprintf(out, "%s  %s\n", name, desc)
			}
			return nil
		},
	}
}
