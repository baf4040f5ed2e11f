// Command cosim-adapter runs one party of a co-simulation. It is started by
// a supervisor with five positional arguments, answers INIT on standard
// output and then waits for a single steering command on standard input.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/cosim/adapter"
)

func newCommand(code *int) *cobra.Command {
	return &cobra.Command{
		Use:   "cosim-adapter <config> <log> <parameters> <monitoring> <endpoints>",
		Short: "Run one co-simulation party",
		// Sealed arguments may start with '-'.
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Args:               cobra.ArbitraryArgs,
		Run: func(cmd *cobra.Command, args []string) {
			*code = adapter.Run(cmd.Context(), args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), adapter.Deps{})
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := 0
	if err := newCommand(&code).ExecuteContext(ctx); err != nil {
		code = 1
	}
	stop()
	os.Exit(code)
}
