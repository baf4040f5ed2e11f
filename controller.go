package cosim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/GoCodeAlone/cosim/health"
	"github.com/GoCodeAlone/cosim/lifecycle"
)

// RunState is the lifecycle state of one party.
type RunState string

const (
	StateUninitialized RunState = "UNINITIALIZED"
	StateConfigured    RunState = "CONFIGURED"
	StateRunning       RunState = "RUNNING"
	StateFinalized     RunState = "FINALIZED"
	StateFailed        RunState = "FAILED"
)

// Terminal reports whether no command is accepted in s.
func (s RunState) Terminal() bool { return s == StateFinalized || s == StateFailed }

// LinkOpener connects a party to its peer once the run is about to start.
type LinkOpener func(ctx context.Context, role Role) (Link, error)

// ResourceMonitor samples process resources while a run is in progress.
type ResourceMonitor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ControllerConfig holds the collaborators of a Controller. Params and Source
// are required; everything else is optional.
type ControllerConfig struct {
	Role        Role
	RunID       string
	Params      *Parameters
	Source      EngineSource
	OpenLink    LinkOpener
	Transformer Transformer
	Reporter    Reporter
	Monitor     ResourceMonitor
	Dispatcher  *lifecycle.Dispatcher
	Subject     *Subject
	Metrics     *Metrics
	Logger      Logger
}

// Controller is the state machine a supervising process drives through
// INIT, START and END. It owns every piece of run state: nothing is kept in
// package variables, so several controllers can live in one process.
type Controller struct {
	cfg    ControllerConfig
	logger Logger

	mu      sync.Mutex
	state   RunState
	engine  Engine
	proxies *ProxyNodeMap
	local   float64
	link    Link
	orch    *Orchestrator
	result  *RunResult
	err     error
	pending []*lifecycle.Event
}

// NewController creates a controller in the UNINITIALIZED state.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Params == nil {
		return nil, configurationError(ErrConfigNil)
	}
	if cfg.Role == "" {
		cfg.Role = RoleMacroscale
	}
	if !cfg.Role.Valid() {
		return nil, configurationError(fmt.Errorf("unknown role %q", cfg.Role))
	}
	if cfg.RunID == "" {
		cfg.RunID = NewEventID()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger()
	}
	return &Controller{cfg: cfg, logger: logger, state: StateUninitialized}, nil
}

// State returns the current state.
func (c *Controller) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the fault that moved the controller to FAILED, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// LocalMinimumStepSize returns the step size reported by INIT.
func (c *Controller) LocalMinimumStepSize() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// ControllerStatus is a snapshot of a controller for status reporting.
type ControllerStatus struct {
	RunID                string   `json:"run_id"`
	Role                 Role     `json:"role"`
	State                RunState `json:"state"`
	LocalMinimumStepSize float64  `json:"local_minimum_step_size,omitempty"`
	Length               float64  `json:"length,omitempty"`
	Cycles               int      `json:"cycles,omitempty"`
	Fault                Fault    `json:"fault,omitempty"`
	Error                string   `json:"error,omitempty"`
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := ControllerStatus{
		RunID:                c.cfg.RunID,
		Role:                 c.cfg.Role,
		State:                c.state,
		LocalMinimumStepSize: c.local,
		Fault:                FaultOf(c.err),
		Error:                errorString(c.err),
	}
	if c.result != nil {
		st.Length = c.result.Length
		st.Cycles = c.result.Cycles
	}
	return st
}

// Name implements health.HealthChecker.
func (c *Controller) Name() string { return "controller" }

// Check implements health.HealthChecker: a failed controller is critical.
func (c *Controller) Check(_ context.Context) (*health.CheckResult, error) {
	st := c.Status()
	result := &health.CheckResult{
		Status:  health.StatusHealthy,
		Message: string(st.State),
		Details: map[string]any{"role": string(st.Role), "run_id": st.RunID},
	}
	if st.State == StateFailed {
		result.Status = health.StatusCritical
		result.Error = st.Error
	}
	return result, nil
}

// Results returns the run result and the observed time series. They are
// only available once the controller is FINALIZED.
func (c *Controller) Results() (*RunResult, *TimeSeries, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFinalized {
		return nil, nil, fmt.Errorf("%w: results are available once %s, state is %s", ErrInvalidTransition, StateFinalized, c.state)
	}
	if c.orch == nil {
		return c.result, nil, nil
	}
	return c.result, c.orch.Results(), nil
}

// Handle executes one steering command. Unknown or out-of-order commands
// are protocol faults and move the controller to FAILED.
func (c *Controller) Handle(ctx context.Context, cmd Command) error {
	c.mu.Lock()
	c.record(lifecycle.EventTypeCommandReceived, lifecycle.EventStatusStarted, cmd.describe(), nil)
	c.mu.Unlock()
	c.flush(ctx)

	switch cmd.Kind {
	case CommandInit:
		_, err := c.Init(ctx)
		return err
	case CommandStart:
		globalMin, err := cmd.Parameter(0)
		if err != nil {
			return c.Reject(ctx, cmd, err)
		}
		return c.Start(ctx, globalMin)
	case CommandEnd:
		return c.End(ctx)
	default:
		return c.Reject(ctx, cmd, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.describe()))
	}
}

// Reject refuses cmd and fails the controller. The returned error is a
// protocol fault naming the command.
func (c *Controller) Reject(ctx context.Context, cmd Command, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.describe())
	}
	err := protocolError(cause)

	defer c.flush(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(lifecycle.EventTypeCommandRejected, lifecycle.EventStatusFailed, cmd.describe(), err)
	if c.state.Terminal() {
		return err
	}
	c.failLocked(err)
	return err
}

// Init builds the engine and the proxy map and returns the local minimum
// step size: the synchronization time, or the engine's own bound when that
// is smaller.
func (c *Controller) Init(ctx context.Context) (float64, error) {
	defer c.flush(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expectLocked(CommandInit, StateUninitialized); err != nil {
		return 0, err
	}

	params := c.cfg.Params
	proxies, err := params.ProxyMap()
	if err != nil {
		return 0, c.failLocked(configurationError(err))
	}
	engine, err := c.cfg.Source.Resolve(ctx, EngineSetup{
		Params:  params,
		Proxies: proxies,
		Logger:  c.logger,
		Seed:    params.Seed,
	})
	if err != nil {
		return 0, c.failLocked(err)
	}

	local := params.SynchronizationTime
	if sizer, ok := engine.(StepSizer); ok {
		if m := sizer.MinimumStepSize(); m > 0 && m < local {
			local = m
		}
	}
	c.engine = engine
	c.proxies = proxies
	c.local = local

	c.logger.Info("Engine configured",
		"role", c.cfg.Role, "source", c.cfg.Source.Kind(),
		"proxies", proxies.Len(), "localMinimumStepSize", local)
	c.transitionLocked(StateConfigured, lifecycle.PhaseInitialization, nil)
	return local, nil
}

// Start runs the orchestrator to completion on a window of globalMin and
// then finalizes. globalMin must be positive, no larger than the local
// minimum and a whole multiple of dt.
func (c *Controller) Start(ctx context.Context, globalMin float64) error {
	defer c.flush(ctx)
	c.mu.Lock()
	if err := c.expectLocked(CommandStart, StateConfigured); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.checkGlobalMinimum(globalMin); err != nil {
		err = c.failLocked(err)
		c.mu.Unlock()
		return err
	}
	orch, err := c.prepareLocked(ctx, globalMin)
	if err != nil {
		err = c.failLocked(err)
		c.mu.Unlock()
		return err
	}
	c.orch = orch
	c.transitionLocked(StateRunning, lifecycle.PhaseRunning, nil)
	c.mu.Unlock()
	c.flush(ctx)

	if c.cfg.Monitor != nil {
		if err := c.cfg.Monitor.Start(ctx); err != nil {
			c.logger.Warn("Resource monitor did not start", "role", c.cfg.Role, "error", err)
		}
	}

	params := c.cfg.Params
	result, runErr := orch.Run(ctx, params.SimulationLength, params.AdvanceForDelayedOutput)
	c.stopMonitor(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if runErr != nil {
		c.record(lifecycle.EventTypeRunFailed, lifecycle.EventStatusFailed, "", runErr)
		return c.failLocked(runErr)
	}
	c.result = result
	c.record(lifecycle.EventTypeRunCompleted, lifecycle.EventStatusCompleted,
		fmt.Sprintf("%d cycles, length %g", result.Cycles, result.Length), nil)
	return c.finalizeLocked(ctx)
}

// End finalizes the party: it reports, then releases the engine and the
// link. Reporting failures are logged and do not fail the run.
func (c *Controller) End(ctx context.Context) error {
	defer c.flush(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expectLocked(CommandEnd, StateConfigured, StateRunning); err != nil {
		return err
	}
	return c.finalizeLocked(ctx)
}

func (c *Controller) checkGlobalMinimum(globalMin float64) error {
	if math.IsNaN(globalMin) || globalMin <= 0 {
		return protocolError(fmt.Errorf("%w: global minimum step size %g", ErrStepSizeMismatch, globalMin))
	}
	if globalMin > c.local*(1+1e-9) {
		return configurationError(fmt.Errorf("%w: global %g exceeds local %g", ErrStepSizeMismatch, globalMin, c.local))
	}
	if _, err := WindowSteps(globalMin, c.cfg.Params.Dt); err != nil {
		return configurationError(fmt.Errorf("%w: %w", ErrStepSizeMismatch, err))
	}
	return nil
}

func (c *Controller) prepareLocked(ctx context.Context, window float64) (*Orchestrator, error) {
	params := c.cfg.Params
	opts := []Option{
		WithRole(c.cfg.Role),
		WithRunID(c.cfg.RunID),
		WithTransformer(c.cfg.Transformer),
		WithSeed(params.Seed),
		WithFlushPolicy(params.Flush),
		WithLogger(c.logger),
		WithSubject(c.cfg.Subject),
		WithMetrics(c.cfg.Metrics),
		WithResults(NewTimeSeries()),
	}
	if c.cfg.OpenLink != nil {
		link, err := c.cfg.OpenLink(ctx, c.cfg.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: open link: %w", ErrLiveness, err)
		}
		c.link = link
		opts = append(opts, WithLink(link, c.cfg.Role.Starter()))
	}
	return NewOrchestrator(c.engine, params.Dt, window, opts...)
}

func (c *Controller) finalizeLocked(ctx context.Context) error {
	if c.cfg.Reporter != nil && c.result != nil {
		if err := c.cfg.Reporter.Report(ctx, c.result, c.orch.Results()); err != nil {
			if !errors.Is(err, ErrReporting) {
				err = fmt.Errorf("%w: %w", ErrReporting, err)
			}
			c.logger.Warn("End-of-run reporting failed", "role", c.cfg.Role, "error", err)
			c.record(lifecycle.EventTypeReportingFailed, lifecycle.EventStatusFailed, "", err)
		}
	}
	c.releaseLocked()
	c.transitionLocked(StateFinalized, lifecycle.PhaseFinalization, nil)
	return nil
}

// failLocked moves the controller to FAILED and returns err.
func (c *Controller) failLocked(err error) error {
	c.err = err
	c.logger.Error("Controller failed", "role", c.cfg.Role, "state", c.state, "fault", FaultOf(err), "error", err)
	c.releaseLocked()
	c.transitionLocked(StateFailed, lifecycle.PhaseFinalization, err)
	return err
}

func (c *Controller) releaseLocked() {
	if closer, ok := c.engine.(Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Warn("Engine did not close cleanly", "role", c.cfg.Role, "error", err)
		}
	}
	c.engine = nil
	if c.link != nil {
		if err := c.link.Close(); err != nil {
			c.logger.Warn("Link did not close cleanly", "role", c.cfg.Role, "error", err)
		}
		c.link = nil
	}
	c.record(lifecycle.EventTypeResourcesReleased, lifecycle.EventStatusCompleted, "", nil)
}

func (c *Controller) stopMonitor(ctx context.Context) {
	if c.cfg.Monitor == nil {
		return
	}
	if err := c.cfg.Monitor.Stop(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("Resource monitor did not stop cleanly", "role", c.cfg.Role, "error", err)
	}
}

// expectLocked checks that cmd is legal in the current state. Commands
// arriving in a terminal state are refused without changing it; any other
// out-of-order command fails the controller.
func (c *Controller) expectLocked(cmd SteeringCommand, allowed ...RunState) error {
	if c.state.Terminal() {
		return protocolError(fmt.Errorf("%w: %s refused in %s", ErrTerminalState, cmd, c.state))
	}
	for _, s := range allowed {
		if c.state == s {
			return nil
		}
	}
	err := protocolError(fmt.Errorf("%w: %s in %s", ErrInvalidTransition, cmd, c.state))
	c.record(lifecycle.EventTypeCommandRejected, lifecycle.EventStatusFailed, cmd.String(), err)
	return c.failLocked(err)
}

func (c *Controller) transitionLocked(to RunState, phase lifecycle.Phase, cause error) {
	from := c.state
	c.state = to
	c.logger.Debug("State changed", "role", c.cfg.Role, "from", from, "to", to)

	status := lifecycle.EventStatusCompleted
	if to == StateFailed {
		status = lifecycle.EventStatusFailed
	}
	c.queue(&lifecycle.Event{
		Type:   lifecycle.EventTypeStateChanged,
		Phase:  phase,
		Status: status,
		From:   string(from),
		To:     string(to),
		Error:  errorString(cause),
	})
}

func (c *Controller) record(t lifecycle.EventType, status lifecycle.EventStatus, msg string, cause error) {
	phase := lifecycle.PhaseRunning
	switch c.state {
	case StateUninitialized:
		phase = lifecycle.PhaseInitialization
	case StateFinalized, StateFailed:
		phase = lifecycle.PhaseFinalization
	}
	c.queue(&lifecycle.Event{Type: t, Phase: phase, Status: status, Message: msg, Error: errorString(cause)})
}

// queue stages event for delivery. Events are delivered by flush, after the
// lock is released, so observers may call back into the controller.
func (c *Controller) queue(event *lifecycle.Event) {
	if c.cfg.Dispatcher == nil {
		return
	}
	event.Source = "cosim/controller/" + string(c.cfg.Role)
	event.Timestamp = time.Now()
	event.Data = map[string]any{"run_id": c.cfg.RunID, "state": string(c.state)}
	c.pending = append(c.pending, event)
}

func (c *Controller) flush(ctx context.Context) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, event := range pending {
		if err := c.cfg.Dispatcher.Dispatch(context.WithoutCancel(ctx), event); err != nil {
			c.logger.Debug("Failed to dispatch lifecycle event", "type", event.Type, "error", err)
		}
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
