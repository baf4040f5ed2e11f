package cosim

import (
	"fmt"
	"slices"
	"sync"
)

// TimeSeries accumulates the coupling variables a party observed during a
// run. Appending copies the payload, so recorded updates can still be handed
// on to the peer.
type TimeSeries struct {
	mu             sync.RWMutex
	representation Representation
	nodes          []int
	times          []float64
	values         [][]float64
	spikes         [][]float64
}

// NewTimeSeries returns an empty series.
func NewTimeSeries() *TimeSeries { return &TimeSeries{} }

// Append records u. The first update fixes the node layout; later updates
// must match it.
func (ts *TimeSeries) Append(u *CouplingUpdate) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.nodes == nil {
		ts.representation = u.Representation
		ts.nodes = append([]int{}, u.Nodes...)
		ts.values = make([][]float64, len(u.Nodes))
		ts.spikes = make([][]float64, len(u.Nodes))
	}
	if u.Representation != ts.representation || !slices.Equal(u.Nodes, ts.nodes) {
		return fmt.Errorf("update layout %s%v does not match series layout %s%v",
			u.Representation, u.Nodes, ts.representation, ts.nodes)
	}

	ts.times = append(ts.times, u.Times...)
	for i := range ts.nodes {
		if i < len(u.Values) {
			ts.values[i] = append(ts.values[i], u.Values[i]...)
		}
		if i < len(u.Spikes) {
			ts.spikes[i] = append(ts.spikes[i], u.Spikes[i]...)
		}
	}
	return nil
}

// Representation returns the representation of the recorded updates.
func (ts *TimeSeries) Representation() Representation {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.representation
}

// Nodes returns the proxy nodes the series is keyed by.
func (ts *TimeSeries) Nodes() []int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return slices.Clone(ts.nodes)
}

// Len returns the number of samples recorded per node.
func (ts *TimeSeries) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.times)
}

// Times returns a copy of the sample times.
func (ts *TimeSeries) Times() []float64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return slices.Clone(ts.times)
}

// Values returns a copy of the samples of node, in time order.
func (ts *TimeSeries) Values(node int) []float64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if i := slices.Index(ts.nodes, node); i >= 0 {
		return slices.Clone(ts.values[i])
	}
	return nil
}

// Spikes returns a copy of the spike times of node.
func (ts *TimeSeries) Spikes(node int) []float64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if i := slices.Index(ts.nodes, node); i >= 0 {
		return slices.Clone(ts.spikes[i])
	}
	return nil
}
