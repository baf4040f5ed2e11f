package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command of the cosim tool
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cosim",
		Short: "cosim - Multiscale co-simulation orchestrator",
		Long: `cosim couples a macroscale and a microscale simulator that advance in
lock-step synchronization windows and exchange coupling data between them.`,
		SilenceUsage: true,
		Version:      Version,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	cmd.AddCommand(NewSerialCommand())
	cmd.AddCommand(NewLaunchCommand())
	cmd.AddCommand(NewSealCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewVersionCommand prints version information
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), PrintVersion())
		},
	}
}

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// PrintVersion prints version information
func PrintVersion() string {
	return fmt.Sprintf("cosim v%s (commit: %s, built on: %s)", Version, Commit, Date)
}
