package main

import (
	"fmt"
	"os"

	"codeberg.org/dltlab/dltcal/internal/config"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/lakeshore"
	"codeberg.org/dltlab/dltcal/internal/process"
	"github.com/spf13/cobra"
)

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dltcal",
		Short: "dltcal runs temperature-stepped DLT calibrations",
		Long: `dltcal drives a Lake Shore Model 335 through a sequence of setpoints,
waits for the stage to settle at each one, captures a spectrum and logs the
temperatures next to it.

Settings come from dltcal.toml, DLTCAL_* environment variables and flags.`,
		SilenceUsage: true,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		NewRunCommand(),
		NewPortsCommand(),
		NewSequenceCommand(),
	)
	return cmd
}

func handleCmdError(err error) {
	switch {
	case errors.HasCode(err, lakeshore.ErrNoDevice):
		fmt.Fprintln(os.Stderr, "\nNo Lake Shore controller was found.")
		fmt.Fprintln(os.Stderr, "  - Check the USB cable, or pass the port with '--port'")
		fmt.Fprintln(os.Stderr, "  - Run 'dltcal ports' to see what the host can see")
		fmt.Fprintln(os.Stderr, "  - Use '--simulate' to try the run without hardware")
	case errors.HasCode(err, errors.ErrAlreadyRunning):
		fmt.Fprintln(os.Stderr, "\nAnother dltcal run is active on this host.")
	case errors.HasCode(err, process.ErrPrecondition):
		fmt.Fprintln(os.Stderr, "\nThe run could not start; check that both instruments are connected.")
	}
}
