package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/cosim"
	"github.com/GoCodeAlone/cosim/protocol"
	"github.com/GoCodeAlone/cosim/supervisor"
)

// NewSealCommand prints the sealed startup arguments of one party, for
// starting it by hand.
func NewSealCommand() *cobra.Command {
	var (
		plan supervisor.Plan
		logs logFlags
		role string
	)
	cmd := &cobra.Command{
		Use:   "seal <parameters>",
		Short: "Print the startup arguments of one party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan.ParametersPath = args[0]
			plan.Log = logs.settings("")
			parties, err := plan.Parties()
			if err != nil {
				return err
			}
			for _, p := range parties {
				if p.Config.Role != cosim.Role(role) {
					continue
				}
				sealed, err := protocol.BuildStartupArgs(p, protocol.KeyFromEnv())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(sealed, " "))
				return nil
			}
			return fmt.Errorf("%w: role %q is not part of the plan", cosim.ErrConfiguration, role)
		},
	}
	logs.register(cmd)
	cmd.Flags().StringVar(&role, "role", string(cosim.RoleMacroscale), "Party role")
	cmd.Flags().StringVar(&plan.Server, "nats", "nats://127.0.0.1:4222", "NATS server")
	cmd.Flags().StringVar(&plan.RunID, "run-id", "manual", "Run identifier")
	cmd.Flags().BoolVar(&plan.Relays, "relays", false, "Plan with relay parties")
	cmd.Flags().BoolVar(&plan.Monitoring, "monitoring", false, "Enable resource monitoring")
	cmd.Flags().StringVar(&plan.ResultsDir, "results", "", "Directory for result files")
	return cmd
}
