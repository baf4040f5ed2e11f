// Package transform converts coupling updates between the macroscale and
// microscale representations.
package transform

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/GoCodeAlone/cosim"
)

// Model names
const (
	ModelPassThrough      = ""
	ModelRate             = "RATE"
	ModelSpikes           = "SPIKES"
	ModelSpikesToRate     = "SPIKES_TO_RATE"
	ModelSpikesToHistRate = "SPIKES_TO_HIST_RATE"
)

// Static errors for transform package
var (
	ErrUnknownModel          = errors.New("unknown transformer model")
	ErrWrongRepresentation   = errors.New("update has the wrong representation for this model")
	ErrInvalidTransformParam = errors.New("invalid transformer parameter")
)

// Factory builds a transformer from its parameters.
type Factory func(p cosim.TransformerParameters) (cosim.Transformer, error)

var (
	modelsMu sync.RWMutex
	models   = map[string]Factory{}
)

// Register makes a model available to New under name.
func Register(name string, f Factory) {
	modelsMu.Lock()
	defer modelsMu.Unlock()
	models[strings.ToUpper(name)] = f
}

// Models lists the registered model names.
func Models() []string {
	modelsMu.RLock()
	defer modelsMu.RUnlock()
	names := make([]string, 0, len(models))
	for n := range models {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// New builds the transformer named by p.Model. An empty model is the
// pass-through transformer.
func New(p cosim.TransformerParameters) (cosim.Transformer, error) {
	modelsMu.RLock()
	f, ok := models[strings.ToUpper(strings.TrimSpace(p.Model))]
	modelsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, p.Model)
	}
	return f(p)
}

// ScaleRate multiplies state or rate traces by a fixed factor and labels
// the result as rates.
type ScaleRate struct {
	Factor float64
}

func (s ScaleRate) Transform(u *cosim.CouplingUpdate, _ *rand.Rand) (*cosim.CouplingUpdate, error) {
	if u.Representation != cosim.RepresentationState && u.Representation != cosim.RepresentationRate {
		return nil, fmt.Errorf("%w: %s cannot take %s", ErrWrongRepresentation, ModelRate, u.Representation)
	}
	out := &cosim.CouplingUpdate{
		Window:         u.Window,
		Representation: cosim.RepresentationRate,
		Nodes:          slices.Clone(u.Nodes),
		Times:          slices.Clone(u.Times),
		Values:         make([][]float64, len(u.Values)),
	}
	for i, trace := range u.Values {
		row := make([]float64, len(trace))
		for j, v := range trace {
			row[j] = v * s.Factor
		}
		out.Values[i] = row
	}
	return out, nil
}

// RateToSpikes draws Poisson spike trains from state or rate traces. Each
// sample is an instantaneous rate in Hz after scaling, held until the next
// sample; every node emits Neurons independent trains, merged in time order.
// Times are in ms.
type RateToSpikes struct {
	Factor  float64
	Neurons int
}

func (s RateToSpikes) Transform(u *cosim.CouplingUpdate, rng *rand.Rand) (*cosim.CouplingUpdate, error) {
	if u.Representation != cosim.RepresentationState && u.Representation != cosim.RepresentationRate {
		return nil, fmt.Errorf("%w: %s cannot take %s", ErrWrongRepresentation, ModelSpikes, u.Representation)
	}
	out := &cosim.CouplingUpdate{
		Window:         u.Window,
		Representation: cosim.RepresentationSpikes,
		Nodes:          slices.Clone(u.Nodes),
		Spikes:         make([][]float64, len(u.Nodes)),
	}
	end := u.Window.End()
	for i, trace := range u.Values {
		var train []float64
		for n := 0; n < s.Neurons; n++ {
			for j, v := range trace {
				from := u.Times[j]
				to := end
				if j+1 < len(u.Times) {
					to = u.Times[j+1]
				}
				train = poisson(rng, train, v*s.Factor, from, to)
			}
		}
		sort.Float64s(train)
		out.Spikes[i] = train
	}
	return out, nil
}

// poisson appends the spikes of a homogeneous Poisson process of rate hz
// over [from, to) ms.
func poisson(rng *rand.Rand, train []float64, hz, from, to float64) []float64 {
	if !(hz > 0) || !(to > from) {
		return train
	}
	perMs := hz / 1000
	for t := from + rng.ExpFloat64()/perMs; t < to; t += rng.ExpFloat64() / perMs {
		train = append(train, t)
	}
	return train
}

// SpikesToRate turns spike trains into rates in Hz, scaled by Factor. Bin
// is the histogram bin in ms. A zero Bin means one bin spanning the window,
// or one bin per step when Hist is set.
type SpikesToRate struct {
	Factor float64
	Bin    float64
	Hist   bool
}

func (s SpikesToRate) Transform(u *cosim.CouplingUpdate, _ *rand.Rand) (*cosim.CouplingUpdate, error) {
	if u.Representation != cosim.RepresentationSpikes {
		return nil, fmt.Errorf("%w: spike models cannot take %s", ErrWrongRepresentation, u.Representation)
	}
	start, end := u.Window.Start(), u.Window.End()
	bin := s.Bin
	if bin <= 0 && s.Hist {
		bin = u.Window.Dt
	}
	if bin <= 0 || bin > end-start {
		bin = end - start
	}
	bins := int(math.Ceil((end-start)/bin - 1e-9))
	if bins < 1 {
		bins = 1
	}

	out := &cosim.CouplingUpdate{
		Window:         u.Window,
		Representation: cosim.RepresentationRate,
		Nodes:          slices.Clone(u.Nodes),
		Times:          make([]float64, bins),
		Values:         make([][]float64, len(u.Nodes)),
	}
	widths := make([]float64, bins)
	for b := range bins {
		out.Times[b] = start + float64(b)*bin
		widths[b] = math.Min(bin, end-out.Times[b])
	}
	for i, train := range u.Spikes {
		counts := make([]float64, bins)
		for _, t := range train {
			if t < start || t >= end {
				continue
			}
			b := min(int((t-start)/bin), bins-1)
			counts[b]++
		}
		for b := range counts {
			counts[b] = counts[b] / widths[b] * 1000 * s.Factor
		}
		out.Values[i] = counts
	}
	return out, nil
}

func scale(p cosim.TransformerParameters) (float64, error) {
	if math.IsNaN(p.ScaleFactor) || math.IsInf(p.ScaleFactor, 0) {
		return 0, fmt.Errorf("%w: scale factor %g", ErrInvalidTransformParam, p.ScaleFactor)
	}
	return p.ScaleFactor, nil
}

func init() {
	Register(ModelPassThrough, func(cosim.TransformerParameters) (cosim.Transformer, error) {
		return cosim.PassThrough{}, nil
	})
	Register(ModelRate, func(p cosim.TransformerParameters) (cosim.Transformer, error) {
		f, err := scale(p)
		if err != nil {
			return nil, err
		}
		return ScaleRate{Factor: f}, nil
	})
	Register(ModelSpikes, func(p cosim.TransformerParameters) (cosim.Transformer, error) {
		f, err := scale(p)
		if err != nil {
			return nil, err
		}
		if p.NumberOfNeurons <= 0 {
			return nil, fmt.Errorf("%w: number of neurons %d", ErrInvalidTransformParam, p.NumberOfNeurons)
		}
		return RateToSpikes{Factor: f, Neurons: p.NumberOfNeurons}, nil
	})
	Register(ModelSpikesToRate, func(p cosim.TransformerParameters) (cosim.Transformer, error) {
		f, err := scale(p)
		if err != nil {
			return nil, err
		}
		return SpikesToRate{Factor: f}, nil
	})
	Register(ModelSpikesToHistRate, func(p cosim.TransformerParameters) (cosim.Transformer, error) {
		f, err := scale(p)
		if err != nil {
			return nil, err
		}
		if p.BinWidth < 0 {
			return nil, fmt.Errorf("%w: bin width %g", ErrInvalidTransformParam, p.BinWidth)
		}
		return SpikesToRate{Factor: f, Bin: p.BinWidth, Hist: true}, nil
	})
}
