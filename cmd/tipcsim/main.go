// tipcsim is a discrete-event simulator of TIPC link establishment and
// ring-topology neighbor monitoring. It loads a scenario describing a set
// of nodes and the bearers between them, runs the simulation against a
// virtual clock for a configured duration, and serves the resulting
// Prometheus metrics while it runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	appversion "github.com/tipcsim/core/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

// newRootCmd builds the tipcsim command tree: run, validate, version.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tipcsim",
		Short:         "Discrete-event simulator for TIPC link establishment and neighbor monitoring",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// newVersionCmd prints build version information in the appversion
// package's Full() format.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), appversion.Full("tipcsim"))
			return nil
		},
	}
}
