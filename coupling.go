package cosim

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Representation names the native form of a coupling payload.
type Representation string

const (
	// RepresentationState carries sampled state variables of the macroscale
	// field, one trace per proxy node.
	RepresentationState Representation = "state"
	// RepresentationRate carries population firing rates, one trace per proxy node.
	RepresentationRate Representation = "rate"
	// RepresentationSpikes carries spike times, one train per proxy node.
	RepresentationSpikes Representation = "spikes"
)

// CouplingUpdate is the payload exchanged at a window boundary. Values and
// Spikes are indexed like Nodes, which holds proxy-node indices.
//
// An update is owned by its producer until it is handed on. The receiver
// treats it as read-only and consumes it exactly once.
type CouplingUpdate struct {
	Window         Window         `json:"window"`
	Representation Representation `json:"representation"`
	Nodes          []int          `json:"nodes"`
	// Times holds the sample times shared by every trace in Values.
	Times  []float64   `json:"times,omitempty"`
	Values [][]float64 `json:"values,omitempty"`
	Spikes [][]float64 `json:"spikes,omitempty"`

	consumed atomic.Bool
}

// Validate checks that the payload shape matches the node list.
func (u *CouplingUpdate) Validate() error {
	if u == nil {
		return fmt.Errorf("coupling update is nil")
	}
	switch u.Representation {
	case RepresentationState, RepresentationRate:
		if len(u.Values) != len(u.Nodes) {
			return fmt.Errorf("%s update has %d traces for %d nodes", u.Representation, len(u.Values), len(u.Nodes))
		}
		for i, trace := range u.Values {
			if len(trace) != len(u.Times) {
				return fmt.Errorf("trace for node %d has %d samples, expected %d", u.Nodes[i], len(trace), len(u.Times))
			}
		}
	case RepresentationSpikes:
		if len(u.Spikes) != len(u.Nodes) {
			return fmt.Errorf("spike update has %d trains for %d nodes", len(u.Spikes), len(u.Nodes))
		}
	default:
		return fmt.Errorf("unknown representation %q", u.Representation)
	}
	return nil
}

// Consumed reports whether the update has already been fed to an engine or
// transformer.
func (u *CouplingUpdate) Consumed() bool { return u.consumed.Load() }

func (u *CouplingUpdate) consume() error {
	if !u.consumed.CompareAndSwap(false, true) {
		return ErrUpdateConsumed
	}
	return nil
}

// Clone returns a deep, unconsumed copy.
func (u *CouplingUpdate) Clone() *CouplingUpdate {
	if u == nil {
		return nil
	}
	c := &CouplingUpdate{
		Window:         u.Window,
		Representation: u.Representation,
		Nodes:          append([]int(nil), u.Nodes...),
		Times:          append([]float64(nil), u.Times...),
		Values:         cloneMatrix(u.Values),
		Spikes:         cloneMatrix(u.Spikes),
	}
	return c
}

// Trace returns the values for one proxy node.
func (u *CouplingUpdate) Trace(node int) ([]float64, bool) {
	for i, n := range u.Nodes {
		if n == node {
			if i < len(u.Values) {
				return u.Values[i], true
			}
			return nil, false
		}
	}
	return nil, false
}

// Train returns the spike times for one proxy node.
func (u *CouplingUpdate) Train(node int) ([]float64, bool) {
	for i, n := range u.Nodes {
		if n == node {
			if i < len(u.Spikes) {
				return u.Spikes[i], true
			}
			return nil, false
		}
	}
	return nil, false
}

// Equal reports bit-identical payloads. NaNs compare equal to NaNs with the
// same bits.
func (u *CouplingUpdate) Equal(o *CouplingUpdate) bool {
	if u == nil || o == nil {
		return u == o
	}
	if u.Window != o.Window || u.Representation != o.Representation || len(u.Nodes) != len(o.Nodes) {
		return false
	}
	for i := range u.Nodes {
		if u.Nodes[i] != o.Nodes[i] {
			return false
		}
	}
	return equalBits(u.Times, o.Times) && equalMatrix(u.Values, o.Values) && equalMatrix(u.Spikes, o.Spikes)
}

func cloneMatrix(m [][]float64) [][]float64 {
	if m == nil {
		return nil
	}
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func equalMatrix(a, b [][]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalBits(a[i], b[i]) {
			return false
		}
	}
	return true
}

func equalBits(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			return false
		}
	}
	return true
}
