package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/cosim"
	"github.com/GoCodeAlone/cosim/protocol"
	"github.com/GoCodeAlone/cosim/supervisor"
)

// NewLaunchCommand starts every party as its own process.
func NewLaunchCommand() *cobra.Command {
	var (
		plan        supervisor.Plan
		logs        logFlags
		binary      string
		initTimeout time.Duration
		embedded    bool
	)
	cmd := &cobra.Command{
		Use:   "launch <parameters>",
		Short: "Run a co-simulation with one process per party",
		Long: `Start the parties of a co-simulation with the cosim-adapter binary, connect
them through a NATS server, collect their INIT responses and send START with
the global minimum step size.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, closer, err := cosim.NewLogger(logs.settings("supervisor"), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			plan.ParametersPath = args[0]
			if plan.RunID == "" {
				plan.RunID = uuid.NewString()
			}
			plan.Log = cosim.LogSettings{Level: logs.level, Format: logs.format}
			if embedded {
				ns, err := startEmbeddedNATS()
				if err != nil {
					return fmt.Errorf("%w: %w", cosim.ErrLiveness, err)
				}
				defer ns.Shutdown()
				plan.Server = ns.ClientURL()
				logger.Info("Embedded NATS server started", "url", plan.Server)
			}
			parties, err := plan.Parties()
			if err != nil {
				return err
			}

			launcher := &supervisor.Launcher{
				Binary:      binary,
				Key:         protocol.KeyFromEnv(),
				Stderr:      os.Stderr,
				InitTimeout: initTimeout,
				Logger:      logger,
			}
			result, err := launcher.Launch(cmd.Context(), parties)
			if result != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: global minimum step size %g\n", plan.RunID, result.GlobalMinimumStepSize)
				for _, o := range result.Parties {
					fmt.Fprintf(cmd.OutOrStdout(), "%-10s pid=%d local=%g exit=%d\n", o.Role, o.PID, o.LocalMinimumStepSize, o.ExitCode)
				}
			}
			return err
		},
	}
	logs.register(cmd)
	cmd.Flags().StringVar(&binary, "adapter", "cosim-adapter", "Party executable")
	cmd.Flags().StringVar(&plan.Server, "nats", "nats://127.0.0.1:4222", "NATS server the parties connect through")
	cmd.Flags().StringVar(&plan.RunID, "run-id", "", "Run identifier (default: random)")
	cmd.Flags().BoolVar(&plan.Relays, "relays", false, "Run the transformers as separate parties")
	cmd.Flags().BoolVar(&plan.Monitoring, "monitoring", false, "Enable resource monitoring in every party")
	cmd.Flags().StringVar(&plan.LogDir, "log-dir", "", "Directory for per-party log files")
	cmd.Flags().StringVar(&plan.ResultsDir, "results", "", "Directory for result files")
	cmd.Flags().StringVar(&plan.RendezvousDir, "rendezvous", "", "Directory where parties announce their endpoints")
	cmd.Flags().BoolVar(&embedded, "embedded-nats", false, "Start a NATS server inside the supervisor and ignore --nats")
	cmd.Flags().DurationVar(&initTimeout, "init-timeout", supervisor.DefaultInitTimeout, "How long to wait for INIT responses")
	return cmd
}

// startEmbeddedNATS runs a NATS server on a free loopback port for the
// lifetime of one launch.
func startEmbeddedNATS() (*server.Server, error) {
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		return nil, err
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats server did not become ready")
	}
	return ns, nil
}
