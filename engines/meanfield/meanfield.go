// Package meanfield is the macroscale engine: a network of Wilson-Cowan
// regions with delayed linear coupling. Proxy regions take their excitatory
// activity from the microscale side instead of integrating it.
package meanfield

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/GoCodeAlone/cosim"
)

// ErrClosed is returned by an engine used after Close.
var ErrClosed = errors.New("meanfield engine closed")

// Engine integrates the region network on the party's dt grid.
type Engine struct {
	p       cosim.MeanFieldParameters
	dt      float64
	proxies *cosim.ProxyNodeMap
	weights [][]float64
	rng     *rand.Rand
	logger  cosim.Logger

	e, i []float64
	// history holds E for the last delay+1 steps, oldest first, indexed
	// modulo its length by absolute step.
	history [][]float64
	delay   int
	step    int64
	closed  bool
}

// New builds an engine from setup. It has the shape of cosim.EngineFactory.
func New(_ context.Context, setup cosim.EngineSetup) (cosim.Engine, error) {
	return newEngine(setup)
}

func newEngine(setup cosim.EngineSetup) (*Engine, error) {
	params := setup.Params
	if params == nil {
		return nil, fmt.Errorf("meanfield: no parameters")
	}
	n := params.Regions
	if n <= 0 {
		return nil, fmt.Errorf("meanfield: %d regions", n)
	}
	delay, err := cosim.WindowSteps(params.MeanField.Delay, params.Dt)
	if err != nil {
		return nil, fmt.Errorf("meanfield delay: %w", err)
	}
	weights := params.MeanField.Weights
	if len(weights) == 0 {
		weights = Ring(n)
	}
	for r, row := range weights {
		if len(row) != n {
			return nil, fmt.Errorf("meanfield: connectome row %d has %d columns for %d regions", r, len(row), n)
		}
	}
	logger := setup.Logger
	if logger == nil {
		logger = cosim.NopLogger()
	}

	eng := &Engine{
		p:       params.MeanField,
		dt:      params.Dt,
		proxies: setup.Proxies,
		weights: weights,
		rng:     cosim.NewRand(setup.Seed, cosim.StreamEngine),
		logger:  logger,
		e:       make([]float64, n),
		i:       make([]float64, n),
		delay:   delay,
		history: make([][]float64, delay+1),
	}
	for r := range n {
		eng.e[r] = 0.1 + 0.01*float64(r)
		eng.i[r] = 0.05
	}
	for k := range eng.history {
		eng.history[k] = append([]float64(nil), eng.e...)
	}
	return eng, nil
}

// Ring returns a connectome coupling each region to its two neighbours.
func Ring(n int) [][]float64 {
	w := make([][]float64, n)
	for r := range n {
		w[r] = make([]float64, n)
		if n == 1 {
			continue
		}
		w[r][(r+1)%n] = 1
		w[r][(r+n-1)%n] = 1
	}
	return w
}

// MinimumStepSize is the connectome delay: no window may be longer, or a
// region would need input the other side has not produced yet.
func (m *Engine) MinimumStepSize() float64 { return float64(m.delay) * m.dt }

// InitialOutbound reports the current state of the proxy regions.
func (m *Engine) InitialOutbound(_ context.Context) (*cosim.CouplingUpdate, error) {
	if m.closed {
		return nil, ErrClosed
	}
	u := m.newUpdate(0)
	u.Times = append(u.Times, float64(m.step)*m.dt)
	for k, region := range u.Nodes {
		u.Values[k] = append(u.Values[k], m.e[region])
	}
	return u, nil
}

// Advance integrates every step of window. Proxy regions follow inbound
// rates, each sample held until the next one.
func (m *Engine) Advance(_ context.Context, window cosim.Window, inbound *cosim.CouplingUpdate) (int, *cosim.CouplingUpdate, error) {
	if m.closed {
		return 0, nil, ErrClosed
	}
	if window.StartStep != m.step {
		return 0, nil, fmt.Errorf("meanfield at step %d asked to advance %s", m.step, window)
	}
	if inbound != nil {
		if err := m.checkInbound(inbound); err != nil {
			return 0, nil, err
		}
	}

	// Inbound updates describe the previous window; shift maps their times
	// onto this one.
	var shift float64
	if inbound != nil {
		shift = window.Start() - inbound.Window.Start()
	}
	out := m.newUpdate(window.Steps)
	for k := 0; k < window.Steps; k++ {
		t := float64(m.step) * m.dt
		if inbound != nil {
			m.substitute(inbound, t-shift)
		}
		out.Times = append(out.Times, t)
		for n, region := range out.Nodes {
			out.Values[n] = append(out.Values[n], m.e[region])
		}
		m.integrate()
	}
	m.logger.Debug("Meanfield advanced", "window", window.String(), "steps", window.Steps)
	return window.Steps, out, nil
}

// Close releases the state buffers.
func (m *Engine) Close() error {
	m.closed = true
	m.history = nil
	return nil
}

func (m *Engine) newUpdate(capacity int) *cosim.CouplingUpdate {
	nodes := m.proxies.Regions()
	u := &cosim.CouplingUpdate{
		Representation: cosim.RepresentationState,
		Nodes:          nodes,
		Times:          make([]float64, 0, capacity),
		Values:         make([][]float64, len(nodes)),
	}
	for k := range u.Values {
		u.Values[k] = make([]float64, 0, capacity)
	}
	return u
}

func (m *Engine) checkInbound(u *cosim.CouplingUpdate) error {
	switch u.Representation {
	case cosim.RepresentationRate, cosim.RepresentationState:
	default:
		return fmt.Errorf("meanfield cannot take %s updates", u.Representation)
	}
	for _, region := range u.Nodes {
		if !m.proxies.IsProxy(region) {
			return fmt.Errorf("meanfield: inbound node %d is not a proxy region", region)
		}
	}
	return nil
}

// substitute sets proxy E to the inbound sample in force at t.
func (m *Engine) substitute(u *cosim.CouplingUpdate, t float64) {
	idx := -1
	for k, ts := range u.Times {
		if ts <= t+1e-9*m.dt {
			idx = k
		}
	}
	if idx < 0 {
		if len(u.Times) == 0 {
			return
		}
		idx = 0
	}
	for n, region := range u.Nodes {
		m.e[region] = u.Values[n][idx]
	}
}

func (m *Engine) integrate() {
	n := len(m.e)
	delayed := m.history[int((m.step+1)%int64(len(m.history)))]
	coupling := make([]float64, n)
	for r := range n {
		var sum float64
		for j, w := range m.weights[r] {
			sum += w * delayed[j]
		}
		coupling[r] = m.p.GlobalCoupling * sum
	}

	de, di := m.derivatives(m.e, m.i, coupling)
	nextE := make([]float64, n)
	nextI := make([]float64, n)
	if m.p.Integrator == "euler" {
		for r := range n {
			nextE[r] = m.e[r] + m.dt*de[r]
			nextI[r] = m.i[r] + m.dt*di[r]
		}
	} else {
		predE := make([]float64, n)
		predI := make([]float64, n)
		for r := range n {
			predE[r] = m.e[r] + m.dt*de[r]
			predI[r] = m.i[r] + m.dt*di[r]
		}
		de2, di2 := m.derivatives(predE, predI, coupling)
		for r := range n {
			nextE[r] = m.e[r] + m.dt/2*(de[r]+de2[r])
			nextI[r] = m.i[r] + m.dt/2*(di[r]+di2[r])
		}
	}
	if m.p.Noise > 0 {
		sd := m.p.Noise * math.Sqrt(m.dt)
		for r := range n {
			nextE[r] += sd * m.rng.NormFloat64()
		}
	}
	for r := range n {
		if m.proxies.IsProxy(r) {
			continue
		}
		m.e[r] = clamp01(nextE[r])
		m.i[r] = clamp01(nextI[r])
	}

	m.step++
	slot := int(m.step % int64(len(m.history)))
	m.history[slot] = append(m.history[slot][:0], m.e...)
}

func (m *Engine) derivatives(e, i, coupling []float64) ([]float64, []float64) {
	de := make([]float64, len(e))
	di := make([]float64, len(i))
	for r := range e {
		xe := m.p.CEE*e[r] - m.p.CIE*i[r] + m.p.P + coupling[r]
		xi := m.p.CEI*e[r] - m.p.CII*i[r] + m.p.Q
		de[r] = (-e[r] + (1-e[r])*sigmoid(xe, m.p.AlphaE, m.p.ThetaE)) / m.p.TauE
		di[r] = (-i[r] + (1-i[r])*sigmoid(xi, m.p.AlphaI, m.p.ThetaI)) / m.p.TauI
	}
	return de, di
}

// sigmoid is the Wilson-Cowan response function, shifted to be zero at x=0.
func sigmoid(x, a, theta float64) float64 {
	return 1/(1+math.Exp(-a*(x-theta))) - 1/(1+math.Exp(a*theta))
}

func clamp01(x float64) float64 {
	return math.Min(1, math.Max(0, x))
}
