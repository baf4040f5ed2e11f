// Package spiking is the microscale engine: one population of leaky
// integrate-and-fire neurons per proxy region, driven by Poisson background
// input and by the macroscale side.
package spiking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/GoCodeAlone/cosim"
)

// ErrClosed is returned by an engine used after Close.
var ErrClosed = errors.New("spiking engine closed")

// Builder builds spiking engines. It is used as a cosim.EngineBuilder.
type Builder struct {
	// Resolution overrides the parameters' internal resolution when set.
	Resolution float64
}

// Build implements cosim.EngineBuilder.
func (b Builder) Build(_ context.Context, setup cosim.EngineSetup) (cosim.Engine, error) {
	if setup.Params == nil {
		return nil, fmt.Errorf("spiking: no parameters")
	}
	p := setup.Params.Spiking
	if b.Resolution > 0 {
		p.Resolution = b.Resolution
	}
	if p.Resolution <= 0 {
		p.Resolution = setup.Params.Dt
	}
	sub := setup.Params.Dt / p.Resolution
	substeps := int(math.Round(sub))
	if substeps < 1 || math.Abs(sub-float64(substeps)) > 1e-6 {
		return nil, fmt.Errorf("spiking: resolution %g does not divide dt %g", p.Resolution, setup.Params.Dt)
	}
	if p.NeuronsPerGroup <= 0 {
		return nil, fmt.Errorf("spiking: %d neurons per group", p.NeuronsPerGroup)
	}
	if setup.Proxies == nil || setup.Proxies.Len() == 0 {
		return nil, cosim.ErrProxyMapEmpty
	}
	logger := setup.Logger
	if logger == nil {
		logger = cosim.NopLogger()
	}

	regions := setup.Proxies.Regions()
	e := &Engine{
		p:          p,
		dt:         setup.Params.Dt,
		substeps:   substeps,
		regions:    regions,
		rng:        cosim.NewRand(setup.Seed, cosim.StreamEngine),
		logger:     logger,
		groups:     make([]*population, len(regions)),
		refractory: int(math.Round(p.Refractory / p.Resolution)),
	}
	for g := range e.groups {
		pop := &population{v: make([]float64, p.NeuronsPerGroup), refr: make([]int, p.NeuronsPerGroup)}
		for n := range pop.v {
			pop.v[n] = p.VReset + (p.VThreshold-p.VReset)*e.rng.Float64()
		}
		e.groups[g] = pop
	}
	return e, nil
}

type population struct {
	v    []float64
	refr []int
}

// Engine steps the populations at an internal resolution that divides dt.
type Engine struct {
	p          cosim.SpikingParameters
	dt         float64
	substeps   int
	refractory int
	regions    []int
	rng        *rand.Rand
	logger     cosim.Logger
	groups     []*population
	step       int64
	closed     bool
}

// InitialOutbound reports no spikes.
func (s *Engine) InitialOutbound(_ context.Context) (*cosim.CouplingUpdate, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return s.newUpdate(), nil
}

// Advance runs every step of window. Inbound spikes are delivered to every
// neuron of the region's population at the substep they fall in; inbound
// rates drive each neuron with Poisson input, each sample held until the
// next one.
func (s *Engine) Advance(_ context.Context, window cosim.Window, inbound *cosim.CouplingUpdate) (int, *cosim.CouplingUpdate, error) {
	if s.closed {
		return 0, nil, ErrClosed
	}
	if window.StartStep != s.step {
		return 0, nil, fmt.Errorf("spiking at step %d asked to advance %s", s.step, window)
	}
	d, err := s.drive(window, inbound)
	if err != nil {
		return 0, nil, err
	}

	out := s.newUpdate()
	h := s.dt / float64(s.substeps)
	decay := math.Exp(-h / s.p.TauM)
	background := s.p.BackgroundRate * h / 1000

	for k := 0; k < window.Steps; k++ {
		for sub := range s.substeps {
			t := float64(s.step)*s.dt + float64(sub)*h
			for g, pop := range s.groups {
				in := d.at(g, t, t+h, h)
				for n := range pop.v {
					if pop.refr[n] > 0 {
						pop.refr[n]--
						continue
					}
					v := pop.v[n] * decay
					v += float64(poissonCount(s.rng, background)) * s.p.BackgroundWeight
					v += in.spikes * s.p.InputWeight
					if in.rate > 0 {
						v += float64(poissonCount(s.rng, in.rate)) * s.p.InputWeight
					}
					if v >= s.p.VThreshold {
						out.Spikes[g] = append(out.Spikes[g], t)
						v = s.p.VReset
						pop.refr[n] = s.refractory
					}
					pop.v[n] = v
				}
			}
		}
		s.step++
	}
	for g := range out.Spikes {
		slices.Sort(out.Spikes[g])
	}
	s.logger.Debug("Spiking advanced", "window", window.String(), "steps", window.Steps)
	return window.Steps, out, nil
}

// Close releases the populations.
func (s *Engine) Close() error {
	s.closed = true
	s.groups = nil
	return nil
}

func (s *Engine) newUpdate() *cosim.CouplingUpdate {
	return &cosim.CouplingUpdate{
		Representation: cosim.RepresentationSpikes,
		Nodes:          slices.Clone(s.regions),
		Spikes:         make([][]float64, len(s.regions)),
	}
}

// drive is an inbound update resolved per population. The update describes
// the window before the one being advanced; shift maps its times onto the
// current window.
type drive struct {
	shift  float64
	spikes [][]float64
	times  []float64
	rates  [][]float64
}

type input struct {
	spikes float64
	rate   float64
}

// at returns the input population g receives during [from, to): the number
// of inbound spikes in it and the expected Poisson count of the rate in force.
func (d drive) at(g int, from, to, h float64) input {
	var in input
	from, to = from-d.shift, to-d.shift
	if d.spikes != nil {
		for _, t := range d.spikes[g] {
			if t >= from && t < to {
				in.spikes++
			}
		}
	}
	if d.rates != nil && len(d.times) > 0 {
		idx := 0
		for k, ts := range d.times {
			if ts <= from {
				idx = k
			}
		}
		in.rate = d.rates[g][idx] * h / 1000
	}
	return in
}

func (s *Engine) drive(window cosim.Window, u *cosim.CouplingUpdate) (drive, error) {
	var d drive
	if u == nil {
		return d, nil
	}
	d.shift = window.Start() - u.Window.Start()
	index := make(map[int]int, len(s.regions))
	for g, r := range s.regions {
		index[r] = g
	}
	switch u.Representation {
	case cosim.RepresentationSpikes:
		d.spikes = make([][]float64, len(s.regions))
		for k, r := range u.Nodes {
			g, ok := index[r]
			if !ok {
				return d, fmt.Errorf("spiking: inbound node %d is not a proxy region", r)
			}
			d.spikes[g] = u.Spikes[k]
		}
	case cosim.RepresentationRate, cosim.RepresentationState:
		d.times = u.Times
		d.rates = make([][]float64, len(s.regions))
		for g := range d.rates {
			d.rates[g] = make([]float64, len(u.Times))
		}
		for k, r := range u.Nodes {
			g, ok := index[r]
			if !ok {
				return d, fmt.Errorf("spiking: inbound node %d is not a proxy region", r)
			}
			d.rates[g] = u.Values[k]
		}
	default:
		return d, fmt.Errorf("spiking cannot take %s updates", u.Representation)
	}
	return d, nil
}

// poissonCount draws from a Poisson distribution with mean lambda.
func poissonCount(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	if lambda > 30 {
		n := int(math.Round(lambda + math.Sqrt(lambda)*rng.NormFloat64()))
		return max(n, 0)
	}
	limit := math.Exp(-lambda)
	k := 0
	for p := rng.Float64(); p > limit; p *= rng.Float64() {
		k++
	}
	return k
}
