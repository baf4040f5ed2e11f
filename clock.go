package cosim

import (
	"fmt"
	"math"
)

// stepEpsilon absorbs binary floating point noise when a time span that is a
// whole or half multiple of dt in decimal lands just short of it after division.
const stepEpsilon = 1e-9

// StepsFor converts a simulated duration into a step count on the dt grid.
// Halves round up.
func StepsFor(duration, dt float64) int64 {
	return int64(math.Floor(duration/dt + 0.5 + stepEpsilon))
}

// WindowSteps returns the step count of a synchronization time and checks
// that the time and the count stay consistent on the dt grid.
func WindowSteps(synchronizationTime, dt float64) (int, error) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return 0, fmt.Errorf("%w: dt=%g", ErrInvalidStepSize, dt)
	}
	steps := StepsFor(synchronizationTime, dt)
	if steps < 1 || math.Abs(float64(steps)*dt-synchronizationTime) > 1e-6*dt {
		return 0, fmt.Errorf("%w: synchronization time %g, dt %g", ErrInvalidWindow, synchronizationTime, dt)
	}
	return int(steps), nil
}

// Clock is the simulated time of one party: a step counter on a fixed dt.
// The orchestrator is its only mutator.
type Clock struct {
	elapsed int64
	dt      float64
}

// NewClock returns a clock at step zero.
func NewClock(dt float64) (*Clock, error) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("%w: dt=%g", ErrInvalidStepSize, dt)
	}
	return &Clock{dt: dt}, nil
}

// Dt returns the fixed integration step.
func (c *Clock) Dt() float64 { return c.dt }

// Elapsed returns the number of steps taken so far.
func (c *Clock) Elapsed() int64 { return c.elapsed }

// Time returns the simulated time reached so far.
func (c *Clock) Time() float64 { return float64(c.elapsed) * c.dt }

// Window returns the window of the given length starting at the current step.
func (c *Clock) Window(steps int) Window {
	return Window{StartStep: c.elapsed, Steps: steps, Dt: c.dt}
}

func (c *Clock) advance(steps int) {
	if steps < 0 {
		panic(fmt.Sprintf("cosim: clock cannot move backwards (%d steps)", steps))
	}
	c.elapsed += int64(steps)
}

// Window is the span [StartStep*Dt, (StartStep+Steps)*Dt) that one engine
// advances over before the opposite party may consume its output.
type Window struct {
	StartStep int64   `json:"start_step"`
	Steps     int     `json:"steps"`
	Dt        float64 `json:"dt"`
}

// EndStep returns the first step after the window.
func (w Window) EndStep() int64 { return w.StartStep + int64(w.Steps) }

// Start returns the simulated start time.
func (w Window) Start() float64 { return float64(w.StartStep) * w.Dt }

// End returns the simulated end time (exclusive).
func (w Window) End() float64 { return float64(w.EndStep()) * w.Dt }

// Duration returns the simulated length of the window.
func (w Window) Duration() float64 { return float64(w.Steps) * w.Dt }

// Contains reports whether t lies inside [Start, End).
func (w Window) Contains(t float64) bool {
	return t >= w.Start() && t < w.End()
}

func (w Window) String() string {
	return fmt.Sprintf("[%g, %g)", w.Start(), w.End())
}
