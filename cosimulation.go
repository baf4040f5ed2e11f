package cosim

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// CoSimulation runs both parties of a co-simulation inside one process, each
// on its own goroutine, connected by an in-memory pipe. Each side behaves
// exactly as it would in its own process.
type CoSimulation struct {
	macro     *Orchestrator
	micro     *Orchestrator
	macroLink Link
	microLink Link
	params    *Parameters
	logger    Logger
}

// CoSimulationConfig collects the collaborators of an in-process run.
type CoSimulationConfig struct {
	Params *Parameters
	Macro  Engine
	Micro  Engine
	// Forward converts macroscale output for the microscale side, Backward
	// the reverse. Nil means pass-through.
	Forward  Transformer
	Backward Transformer
	Logger   Logger
	Subject  *Subject
	Metrics  func(Role) *Metrics
	RunID    string
}

// NewCoSimulation wires two orchestrators together.
func NewCoSimulation(cfg CoSimulationConfig) (*CoSimulation, error) {
	if cfg.Params == nil {
		return nil, configurationError(ErrConfigNil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger()
	}
	runID := cfg.RunID
	if runID == "" {
		runID = NewEventID()
	}

	macroLink, microLink := NewPipe(DefaultPipeBuffer)
	build := func(role Role, engine Engine, link Link, transformer Transformer, seed uint64) (*Orchestrator, error) {
		opts := []Option{
			WithRole(role),
			WithRunID(runID),
			WithLink(link, role.Starter()),
			WithTransformer(transformer),
			WithSeed(seed),
			WithFlushPolicy(cfg.Params.Flush),
			WithLogger(logger),
			WithSubject(cfg.Subject),
			WithResults(NewTimeSeries()),
		}
		if cfg.Metrics != nil {
			opts = append(opts, WithMetrics(cfg.Metrics(role)))
		}
		return NewOrchestrator(engine, cfg.Params.Dt, cfg.Params.SynchronizationTime, opts...)
	}

	macro, err := build(RoleMacroscale, cfg.Macro, macroLink, cfg.Backward, cfg.Params.Seed)
	if err != nil {
		return nil, fmt.Errorf("macroscale: %w", err)
	}
	micro, err := build(RoleMicroscale, cfg.Micro, microLink, cfg.Forward, cfg.Params.Seed+1)
	if err != nil {
		return nil, fmt.Errorf("microscale: %w", err)
	}

	return &CoSimulation{
		macro:     macro,
		micro:     micro,
		macroLink: macroLink,
		microLink: microLink,
		params:    cfg.Params,
		logger:    logger,
	}, nil
}

// Macro returns the macroscale orchestrator.
func (c *CoSimulation) Macro() *Orchestrator { return c.macro }

// Micro returns the microscale orchestrator.
func (c *CoSimulation) Micro() *Orchestrator { return c.micro }

// CoSimulationResult holds both sides' results.
type CoSimulationResult struct {
	Macro *RunResult
	Micro *RunResult
}

// Run drives both sides until the configured length is reached. A fault on
// either side closes its link end, so the peer stops at its next exchange
// instead of waiting forever.
func (c *CoSimulation) Run(ctx context.Context) (*CoSimulationResult, error) {
	var result CoSimulationResult
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer c.macroLink.Close()
		r, err := c.macro.Run(gctx, c.params.SimulationLength, c.params.AdvanceForDelayedOutput)
		if err != nil {
			return fmt.Errorf("macroscale: %w", err)
		}
		result.Macro = r
		return nil
	})
	g.Go(func() error {
		defer c.microLink.Close()
		r, err := c.micro.Run(gctx, c.params.SimulationLength, c.params.AdvanceForDelayedOutput)
		if err != nil {
			return fmt.Errorf("microscale: %w", err)
		}
		result.Micro = r
		return nil
	})

	if err := g.Wait(); err != nil {
		c.logger.Error("Co-simulation failed", "fault", FaultOf(err), "error", err)
		return nil, err
	}
	return &result, nil
}
