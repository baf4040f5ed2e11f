package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/cosim"
	"github.com/GoCodeAlone/cosim/engines/meanfield"
	"github.com/GoCodeAlone/cosim/engines/spiking"
	"github.com/GoCodeAlone/cosim/transform"
)

type logFlags struct {
	level  string
	format string
	file   string
}

func (f *logFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.level, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&f.format, "log-format", "text", "Log format (text, json)")
	cmd.Flags().StringVar(&f.file, "log-file", "", "Write logs to this file instead of stderr")
}

func (f *logFlags) settings(component string) cosim.LogSettings {
	return cosim.LogSettings{Level: f.level, Format: f.format, File: f.file, Component: component}
}

// NewSerialCommand runs both sides of a co-simulation in this process.
func NewSerialCommand() *cobra.Command {
	var (
		logs       logFlags
		resultsDir string
	)
	cmd := &cobra.Command{
		Use:   "serial <parameters>",
		Short: "Run a co-simulation in a single process",
		Long: `Run the meanfield and spiking simulators in one process, connected by an
in-memory link. The transformers named in the parameters file convert the
coupling data in each direction.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, closer, err := cosim.NewLogger(logs.settings("serial"), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			params, err := cosim.LoadParameters(args[0])
			if err != nil {
				return err
			}
			if resultsDir != "" {
				params.ResultsDir = resultsDir
			}
			result, sim, err := RunSerial(cmd.Context(), params, logger)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), cosim.RoleMacroscale, result.Macro)
			printResult(cmd.OutOrStdout(), cosim.RoleMicroscale, result.Micro)

			if params.ResultsDir != "" {
				sides := []struct {
					role   cosim.Role
					result *cosim.RunResult
					orch   *cosim.Orchestrator
				}{
					{cosim.RoleMacroscale, result.Macro, sim.Macro()},
					{cosim.RoleMicroscale, result.Micro, sim.Micro()},
				}
				for _, side := range sides {
					rep := cosim.FileReporter{Dir: params.ResultsDir, Role: side.role}
					if err := rep.Report(cmd.Context(), side.result, side.orch.Results()); err != nil {
						logger.Warn("Reporting failed", "role", side.role, "error", err)
					}
				}
			}
			return nil
		},
	}
	logs.register(cmd)
	cmd.Flags().StringVar(&resultsDir, "results", "", "Directory for result files (overrides results_dir)")
	return cmd
}

// RunSerial builds the meanfield and spiking engines from params and runs
// them against each other. The synchronization window is narrowed to the
// meanfield connectome delay when that is shorter.
func RunSerial(ctx context.Context, params *cosim.Parameters, logger cosim.Logger) (*cosim.CoSimulationResult, *cosim.CoSimulation, error) {
	proxies, err := params.ProxyMap()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", cosim.ErrConfiguration, err)
	}
	macro, err := cosim.FromFactory(meanfield.New).Resolve(ctx, cosim.EngineSetup{
		Params: params, Proxies: proxies, Logger: logger, Seed: params.Seed,
	})
	if err != nil {
		return nil, nil, err
	}
	micro, err := cosim.FromBuilder(spiking.Builder{}).Resolve(ctx, cosim.EngineSetup{
		Params: params, Proxies: proxies, Logger: logger, Seed: params.Seed + 1,
	})
	if err != nil {
		return nil, nil, err
	}
	forward, err := transform.New(params.Forward)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: forward: %w", cosim.ErrConfiguration, err)
	}
	backward, err := transform.New(params.Backward)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: backward: %w", cosim.ErrConfiguration, err)
	}

	run := *params
	if s, ok := macro.(cosim.StepSizer); ok {
		if m := s.MinimumStepSize(); m > 0 && m < run.SynchronizationTime {
			logger.Info("Narrowing synchronization window", "configured", run.SynchronizationTime, "window", m)
			run.SynchronizationTime = m
		}
	}

	sim, err := cosim.NewCoSimulation(cosim.CoSimulationConfig{
		Params:   &run,
		Macro:    macro,
		Micro:    micro,
		Forward:  forward,
		Backward: backward,
		Logger:   logger,
		Subject:  cosim.NewSubject(logger),
	})
	if err != nil {
		return nil, nil, err
	}
	result, err := sim.Run(ctx)
	for _, e := range []cosim.Engine{macro, micro} {
		if c, ok := e.(cosim.Closer); ok {
			_ = c.Close()
		}
	}
	if err != nil {
		return nil, sim, err
	}
	return result, sim, nil
}

func printResult(w io.Writer, role cosim.Role, r *cosim.RunResult) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "%-10s requested=%g achieved=%g steps=%d cycles=%d flushed=%t\n",
		role, r.Requested, r.Length, r.Steps, r.Cycles, r.Flushed)
}
