package cosim

import (
	"context"
	"errors"
	"sync"
)

var errStubKernel = errors.New("stub kernel failure")

// stubEngine emits one state sample per step for node 0, valued by the
// index of the window it was produced in.
type stubEngine struct {
	mu sync.Mutex

	// quantum makes the engine advance only whole multiples of quantum steps
	// when the window is longer than one quantum.
	quantum int
	// zero makes every Advance report zero steps.
	zero bool
	// overstep makes Advance report one step more than the window.
	overstep bool
	// panicAt and failAt trigger on the given cycle index (1-based).
	panicAt int
	failAt  int

	seedCalls int
	windows   []Window
	inbound   []*CouplingUpdate
}

func (e *stubEngine) Advance(_ context.Context, w Window, in *CouplingUpdate) (int, *CouplingUpdate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.windows = append(e.windows, w)
	e.inbound = append(e.inbound, in)
	cycle := len(e.windows)

	if cycle == e.panicAt {
		panic("stub kernel exploded")
	}
	if cycle == e.failAt {
		return 0, nil, errStubKernel
	}

	steps := w.Steps
	switch {
	case e.zero:
		steps = 0
	case e.overstep:
		steps = w.Steps + 1
	case e.quantum > 0 && steps > e.quantum:
		steps -= steps % e.quantum
	}

	out := &CouplingUpdate{Representation: RepresentationState, Nodes: []int{0}, Values: [][]float64{{}}}
	for i := 0; i < steps; i++ {
		out.Times = append(out.Times, w.Start()+float64(i)*w.Dt)
		out.Values[0] = append(out.Values[0], float64(cycle))
	}
	return steps, out, nil
}

func (e *stubEngine) InitialOutbound(context.Context) (*CouplingUpdate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seedCalls++
	return &CouplingUpdate{
		Representation: RepresentationState,
		Nodes:          []int{0},
		Times:          []float64{0},
		Values:         [][]float64{{-1}},
	}, nil
}

func (e *stubEngine) Windows() []Window {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Window(nil), e.windows...)
}

func (e *stubEngine) Inbound() []*CouplingUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*CouplingUpdate(nil), e.inbound...)
}

// closingStubEngine records Close calls and reports a minimum step size.
type closingStubEngine struct {
	stubEngine
	minStep float64
	closed  int
}

func (e *closingStubEngine) MinimumStepSize() float64 { return e.minStep }

func (e *closingStubEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}
