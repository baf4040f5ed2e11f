package cosim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateUpdate() *CouplingUpdate {
	return &CouplingUpdate{
		Window:         Window{StartStep: 0, Steps: 2, Dt: 0.1},
		Representation: RepresentationState,
		Nodes:          []int{3, 5},
		Times:          []float64{0, 0.1},
		Values:         [][]float64{{1, 2}, {3, 4}},
	}
}

func TestCouplingUpdateValidate(t *testing.T) {
	require.NoError(t, stateUpdate().Validate())

	bad := stateUpdate()
	bad.Values = bad.Values[:1]
	assert.Error(t, bad.Validate())

	bad = stateUpdate()
	bad.Values[1] = []float64{1}
	assert.Error(t, bad.Validate())

	spikes := &CouplingUpdate{Representation: RepresentationSpikes, Nodes: []int{0}, Spikes: [][]float64{{0.1}}}
	require.NoError(t, spikes.Validate())
	spikes.Nodes = []int{0, 1}
	assert.Error(t, spikes.Validate())

	assert.Error(t, (&CouplingUpdate{Representation: "voltage"}).Validate())

	var nilUpdate *CouplingUpdate
	assert.Error(t, nilUpdate.Validate())
}

func TestCouplingUpdateCloneIsDeep(t *testing.T) {
	u := stateUpdate()
	require.NoError(t, u.consume())

	c := u.Clone()
	assert.True(t, u.Equal(c))
	assert.False(t, c.Consumed())

	c.Values[0][0] = 42
	c.Nodes[0] = 9
	assert.Equal(t, 1.0, u.Values[0][0])
	assert.Equal(t, 3, u.Nodes[0])
	assert.False(t, u.Equal(c))
}

func TestCouplingUpdateLookup(t *testing.T) {
	u := stateUpdate()
	trace, ok := u.Trace(5)
	require.True(t, ok)
	assert.Equal(t, []float64{3, 4}, trace)

	_, ok = u.Trace(4)
	assert.False(t, ok)
	_, ok = u.Train(3)
	assert.False(t, ok)
}

func TestCouplingUpdateEqualComparesBits(t *testing.T) {
	a := stateUpdate()
	b := stateUpdate()
	a.Values[0][0] = math.NaN()
	b.Values[0][0] = math.NaN()
	assert.True(t, a.Equal(b))

	b.Values[0][0] = math.Copysign(0, -1)
	a.Values[0][0] = 0
	assert.False(t, a.Equal(b))
}

func TestPassThroughIsIdentity(t *testing.T) {
	u := stateUpdate()
	out, err := PassThrough{}.Transform(u, NewRand(1, StreamTransformer))
	require.NoError(t, err)
	assert.Same(t, u, out)
	assert.True(t, stateUpdate().Equal(out))
}

func TestNewRandIsDeterministicPerStream(t *testing.T) {
	a := NewRand(42, StreamEngine)
	b := NewRand(42, StreamEngine)
	c := NewRand(42, StreamTransformer)

	for range 5 {
		x, y := a.Float64(), b.Float64()
		assert.Equal(t, x, y)
		assert.NotEqual(t, x, c.Float64())
	}
}
