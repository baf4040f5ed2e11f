package cosim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RunResult describes a finished run. Length, not Requested, is the
// simulated length actually achieved.
type RunResult struct {
	RunID     string
	Requested float64
	Length    float64
	Steps     int64
	Cycles    int
	Flushed   bool
	// Final is the outbound update of the last cycle.
	Final *CouplingUpdate
}

// Orchestrator drives one party's engine through synchronization windows.
// It owns the party's clock and is its only mutator. The loop is
// single-threaded; it blocks only while exchanging updates over its link.
type Orchestrator struct {
	engine      Engine
	clock       *Clock
	windowSteps int
	current     int
	flush       FlushPolicy

	transformer Transformer
	rng         *rand.Rand

	link    Link
	starter bool

	role    Role
	runID   string
	logger  Logger
	subject *Subject
	metrics *Metrics
	series  *TimeSeries

	seed    *CouplingUpdate
	cycle   int
	started bool
}

// NewOrchestrator creates an orchestrator for engine on the dt grid with a
// synchronization window of synchronizationTime.
func NewOrchestrator(engine Engine, dt, synchronizationTime float64, opts ...Option) (*Orchestrator, error) {
	if engine == nil {
		return nil, configurationError(ErrEngineNil)
	}
	clock, err := NewClock(dt)
	if err != nil {
		return nil, configurationError(err)
	}
	steps, err := WindowSteps(synchronizationTime, dt)
	if err != nil {
		return nil, configurationError(err)
	}

	o := &Orchestrator{
		engine:      engine,
		clock:       clock,
		windowSteps: steps,
		current:     steps,
		transformer: PassThrough{},
		rng:         NewRand(0, StreamTransformer),
		logger:      NopLogger(),
		runID:       NewEventID(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, configurationError(err)
		}
	}
	return o, nil
}

// Clock exposes the party's clock for reading.
func (o *Orchestrator) Clock() *Clock { return o.clock }

// WindowSteps returns the configured window length in steps.
func (o *Orchestrator) WindowSteps() int { return o.windowSteps }

// Cycles returns the number of cycles completed.
func (o *Orchestrator) Cycles() int { return o.cycle }

// Results returns the recorded time series, or nil when recording is off.
func (o *Orchestrator) Results() *TimeSeries { return o.series }

// SetSynchronizationTime re-derives the window length. It is only allowed
// before the first cycle.
func (o *Orchestrator) SetSynchronizationTime(t float64) error {
	if o.started || o.cycle > 0 {
		return fmt.Errorf("%w: window cannot change once the run has started", ErrInvalidTransition)
	}
	steps, err := WindowSteps(t, o.clock.Dt())
	if err != nil {
		return configurationError(err)
	}
	o.windowSteps = steps
	o.current = steps
	return nil
}

// Seed returns a copy of the engine's initial outbound update. The engine is
// asked only once; every later call returns a fresh copy of the same value.
func (o *Orchestrator) Seed(ctx context.Context) (*CouplingUpdate, error) {
	if o.seed == nil {
		seed, err := o.engine.InitialOutbound(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: initial outbound: %w", ErrKernel, err)
		}
		if seed == nil {
			return nil, fmt.Errorf("%w: engine produced no initial outbound update", ErrKernel)
		}
		seed.Window = Window{StartStep: o.clock.Elapsed(), Dt: o.clock.Dt()}
		if err := seed.Validate(); err != nil {
			return nil, fmt.Errorf("%w: initial outbound: %w", ErrKernel, err)
		}
		o.seed = seed
	}
	return o.seed.Clone(), nil
}

// RunCycle advances the engine over the next window. incoming is nil on the
// starting side's first cycle, otherwise the peer's update for the window
// that ends where this one starts. The returned update describes the steps
// actually taken and belongs to the caller.
func (o *Orchestrator) RunCycle(ctx context.Context, incoming *CouplingUpdate) (*CouplingUpdate, error) {
	window := o.clock.Window(o.current)

	inbound, err := o.prepareInbound(window, incoming)
	if err != nil {
		return nil, err
	}

	steps, out, err := o.advance(ctx, window, inbound)
	if err != nil {
		return nil, o.cycleError(ErrKernel, window, err)
	}
	switch {
	case steps < 0 || steps > window.Steps:
		return nil, o.cycleError(ErrKernel, window, fmt.Errorf("%w: reported %d steps", ErrEngineOverstep, steps))
	case steps == 0:
		return nil, o.cycleError(ErrLiveness, window, ErrNoProgress)
	case out == nil:
		return nil, o.cycleError(ErrKernel, window, errors.New("engine produced no outbound update"))
	}

	out.Window = Window{StartStep: window.StartStep, Steps: steps, Dt: window.Dt}
	if err := out.Validate(); err != nil {
		return nil, o.cycleError(ErrKernel, window, err)
	}

	o.clock.advance(steps)
	o.cycle++

	if o.series != nil {
		if err := o.series.Append(out); err != nil {
			o.logger.Warn("Dropping update from results", "cycle", o.cycle, "error", err)
		}
	}
	return out, nil
}

func (o *Orchestrator) prepareInbound(window Window, incoming *CouplingUpdate) (*CouplingUpdate, error) {
	if incoming == nil {
		return nil, nil
	}
	if incoming.Window.EndStep() != window.StartStep {
		return nil, o.cycleError(ErrProtocol, window, fmt.Errorf("%w: update %s, window %s",
			ErrWindowMismatch, incoming.Window, window))
	}
	if err := incoming.consume(); err != nil {
		return nil, o.cycleError(ErrProtocol, window, err)
	}

	transformed, err := o.transformer.Transform(incoming, o.rng)
	if err != nil {
		return nil, o.cycleError(ErrKernel, window, fmt.Errorf("%w: %w", ErrTransformFailed, err))
	}
	if transformed == nil {
		return nil, o.cycleError(ErrKernel, window, fmt.Errorf("%w: no output", ErrTransformFailed))
	}
	if err := transformed.Validate(); err != nil {
		return nil, o.cycleError(ErrKernel, window, fmt.Errorf("%w: %w", ErrTransformFailed, err))
	}
	return transformed, nil
}

// advance calls the engine with a context that cannot be cancelled: a kernel
// step is never interrupted mid-window.
func (o *Orchestrator) advance(ctx context.Context, window Window, inbound *CouplingUpdate) (steps int, out *CouplingUpdate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernel panic: %v", r)
		}
	}()
	return o.engine.Advance(context.WithoutCancel(ctx), window, inbound)
}

func (o *Orchestrator) cycleError(fault error, window Window, cause error) error {
	err := &CycleError{Fault: fault, Cycle: o.cycle, Window: window, Cause: cause}
	o.logger.Error("Cycle failed",
		"role", o.role,
		"fault", FaultOf(err),
		"cycle", o.cycle,
		"windowStart", window.Start(),
		"windowEnd", window.End(),
		"stepsAttempted", window.Steps,
		"error", cause)
	return err
}

// Run advances until round(total/dt) steps have been taken, then, when
// advanceForDelayedOutput is set, runs one extra flush cycle. Abort requests
// carried by ctx are honoured only between cycles.
func (o *Orchestrator) Run(ctx context.Context, total float64, advanceForDelayedOutput bool) (*RunResult, error) {
	if o.started {
		return nil, fmt.Errorf("%w: orchestrator already ran", ErrInvalidTransition)
	}
	o.started = true

	remaining := StepsFor(total, o.clock.Dt())
	if remaining <= 0 {
		return nil, configurationError(fmt.Errorf("%w: %g", ErrInvalidLength, total))
	}

	began := time.Now()
	startStep := o.clock.Elapsed()
	o.logger.Info("Run started",
		"role", o.role, "runID", o.runID, "length", total,
		"dt", o.clock.Dt(), "windowSteps", o.windowSteps, "steps", remaining)
	o.notify(ctx, EventTypeRunStarted, RunSummary{RunID: o.runID, Requested: total})

	if o.link != nil && o.starter {
		if err := o.sendSeed(ctx); err != nil {
			return nil, o.failRun(ctx, total, startStep, err)
		}
	}

	var last *CouplingUpdate
	for remaining > 0 {
		o.current = int(min(remaining, int64(o.windowSteps)))
		advanced, out, elapsed, err := o.step(ctx)
		if err != nil {
			o.current = o.windowSteps
			return nil, o.failRun(ctx, total, startStep, err)
		}
		remaining -= int64(advanced)
		last = out
		o.progress(ctx, EventTypeCycleCompleted, advanced, remaining, elapsed)
	}

	if advanceForDelayedOutput {
		o.current = o.flush.Steps(o.windowSteps)
		advanced, out, elapsed, err := o.step(ctx)
		o.current = o.windowSteps
		if err != nil {
			return nil, o.failRun(ctx, total, startStep, err)
		}
		last = out
		o.progress(ctx, EventTypeFlushCompleted, advanced, 0, elapsed)
	}
	o.current = o.windowSteps

	steps := o.clock.Elapsed() - startStep
	result := &RunResult{
		RunID:     o.runID,
		Requested: total,
		Length:    float64(steps) * o.clock.Dt(),
		Steps:     steps,
		Cycles:    o.cycle,
		Flushed:   advanceForDelayedOutput,
		Final:     last,
	}
	o.logger.Info("Run completed",
		"role", o.role, "runID", o.runID, "requested", total, "achieved", result.Length,
		"steps", steps, "cycles", o.cycle, "duration", time.Since(began))
	o.notify(ctx, EventTypeRunCompleted, RunSummary{
		RunID: o.runID, Requested: total, Achieved: result.Length, Steps: steps,
		Cycles: o.cycle, Flushed: result.Flushed, DurationSeconds: time.Since(began).Seconds(),
	})
	return result, nil
}

// step runs one cycle including the exchange with the peer.
func (o *Orchestrator) step(ctx context.Context) (int, *CouplingUpdate, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, 0, fmt.Errorf("%w before cycle %d: %w", ErrRunAborted, o.cycle, context.Cause(ctx))
	}
	began := time.Now()

	incoming, err := o.receive(ctx)
	if err != nil {
		return 0, nil, 0, err
	}

	before := o.clock.Elapsed()
	out, err := o.RunCycle(ctx, incoming)
	if err != nil {
		return 0, nil, 0, err
	}
	advanced := int(o.clock.Elapsed() - before)

	if o.link != nil {
		if err := o.link.Send(ctx, out); err != nil {
			return 0, nil, 0, o.exchangeError("send", err)
		}
	}
	return advanced, out, time.Since(began), nil
}

func (o *Orchestrator) sendSeed(ctx context.Context) error {
	seed, err := o.Seed(ctx)
	if err != nil {
		return err
	}
	if err := o.link.Send(ctx, seed); err != nil {
		return o.exchangeError("send seed", err)
	}
	return nil
}

func (o *Orchestrator) receive(ctx context.Context) (*CouplingUpdate, error) {
	if o.link == nil || (o.starter && o.cycle == 0) {
		return nil, nil
	}
	update, err := o.link.Receive(ctx)
	if err != nil {
		return nil, o.exchangeError("receive", err)
	}
	return update, nil
}

// exchangeError classifies a link failure. Cancellation is an abort; any
// other failure means the peer can no longer make progress with us.
func (o *Orchestrator) exchangeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w during %s: %w", ErrRunAborted, op, err)
	}
	o.logger.Error("Exchange failed", "role", o.role, "op", op, "cycle", o.cycle, "error", err)
	return fmt.Errorf("%w: %s in cycle %d: %w", ErrLiveness, op, o.cycle, err)
}

func (o *Orchestrator) progress(ctx context.Context, eventType string, advanced int, remaining int64, elapsed time.Duration) {
	o.logger.Debug("Cycle completed",
		"role", o.role, "cycle", o.cycle, "steps", advanced,
		"remaining", remaining, "time", o.clock.Time())
	o.metrics.observeCycle(advanced, remaining, o.clock.Time(), elapsed)
	o.notify(ctx, eventType, CycleProgress{
		RunID:          o.runID,
		Cycle:          o.cycle,
		StartStep:      o.clock.Elapsed() - int64(advanced),
		RequestedSteps: o.current,
		ActualSteps:    advanced,
		RemainingSteps: remaining,
		Time:           o.clock.Time(),
	})
}

func (o *Orchestrator) failRun(ctx context.Context, total float64, startStep int64, err error) error {
	o.metrics.observeFault(err)
	steps := o.clock.Elapsed() - startStep
	o.notify(ctx, EventTypeRunFailed, RunSummary{
		RunID: o.runID, Requested: total, Achieved: float64(steps) * o.clock.Dt(),
		Steps: steps, Cycles: o.cycle, Error: err.Error(), Fault: FaultOf(err),
	})
	return err
}

func (o *Orchestrator) notify(ctx context.Context, eventType string, data any) {
	if o.subject == nil {
		return
	}
	source := "cosim/orchestrator"
	if o.role != "" {
		source += "/" + string(o.role)
	}
	event := NewCloudEvent(eventType, source, data, nil)
	if err := o.subject.NotifyObservers(context.WithoutCancel(ctx), event); err != nil {
		o.logger.Debug("Failed to notify observers", "event", eventType, "error", err)
	}
}
