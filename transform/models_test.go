package transform

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/cosim"
)

func stateUpdate(values ...float64) *cosim.CouplingUpdate {
	times := make([]float64, len(values))
	for i := range times {
		times[i] = float64(i)
	}
	return &cosim.CouplingUpdate{
		Window:         cosim.Window{StartStep: 0, Steps: len(values), Dt: 1},
		Representation: cosim.RepresentationState,
		Nodes:          []int{2},
		Times:          times,
		Values:         [][]float64{values},
	}
}

func spikeUpdate(train ...float64) *cosim.CouplingUpdate {
	return &cosim.CouplingUpdate{
		Window:         cosim.Window{StartStep: 0, Steps: 10, Dt: 1},
		Representation: cosim.RepresentationSpikes,
		Nodes:          []int{5},
		Spikes:         [][]float64{train},
	}
}

func TestNew(t *testing.T) {
	assert.Equal(t, []string{"", ModelRate, ModelSpikes, ModelSpikesToHistRate, ModelSpikesToRate}, Models())

	tr, err := New(cosim.TransformerParameters{})
	require.NoError(t, err)
	assert.IsType(t, cosim.PassThrough{}, tr)

	tr, err = New(cosim.TransformerParameters{Model: " rate ", ScaleFactor: 2})
	require.NoError(t, err)
	assert.Equal(t, ScaleRate{Factor: 2}, tr)

	tests := []struct {
		name string
		p    cosim.TransformerParameters
		want error
	}{
		{"unknown", cosim.TransformerParameters{Model: "FOURIER"}, ErrUnknownModel},
		{"nan factor", cosim.TransformerParameters{Model: ModelRate, ScaleFactor: math.NaN()}, ErrInvalidTransformParam},
		{"no neurons", cosim.TransformerParameters{Model: ModelSpikes, ScaleFactor: 1}, ErrInvalidTransformParam},
		{"negative bin", cosim.TransformerParameters{Model: ModelSpikesToHistRate, ScaleFactor: 1, BinWidth: -1}, ErrInvalidTransformParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.p)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestScaleRate(t *testing.T) {
	in := stateUpdate(1, 2, 3)
	out, err := ScaleRate{Factor: 0.5}.Transform(in, nil)
	require.NoError(t, err)
	assert.Equal(t, cosim.RepresentationRate, out.Representation)
	assert.Equal(t, [][]float64{{0.5, 1, 1.5}}, out.Values)
	assert.Equal(t, [][]float64{{1, 2, 3}}, in.Values, "input is left untouched")
	assert.Equal(t, in.Window, out.Window)

	_, err = ScaleRate{Factor: 1}.Transform(spikeUpdate(1), nil)
	assert.ErrorIs(t, err, ErrWrongRepresentation)
}

func TestRateToSpikes(t *testing.T) {
	in := stateUpdate(1000, 0, 1000, 0, 1000, 0, 1000, 0, 1000, 0)
	model := RateToSpikes{Factor: 1, Neurons: 100}

	out, err := model.Transform(in, cosim.NewRand(42, cosim.StreamTransformer))
	require.NoError(t, err)
	require.NoError(t, out.Validate())
	train := out.Spikes[0]
	assert.True(t, slices.IsSorted(train))
	// Five 1 ms intervals at 1 kHz for 100 neurons: about 500 spikes.
	assert.InDelta(t, 500, len(train), 120)
	for _, s := range train {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.Less(t, s, 10.0)
		assert.Equal(t, 0, int(s)%2, "silent samples emit no spikes")
	}

	again, err := model.Transform(in, cosim.NewRand(42, cosim.StreamTransformer))
	require.NoError(t, err)
	assert.True(t, out.Equal(again), "same seed, same trains")

	silent, err := model.Transform(stateUpdate(0, 0), cosim.NewRand(1, 1))
	require.NoError(t, err)
	assert.Empty(t, silent.Spikes[0])

	_, err = model.Transform(spikeUpdate(), cosim.NewRand(1, 1))
	assert.ErrorIs(t, err, ErrWrongRepresentation)
}

func TestSpikesToRate(t *testing.T) {
	in := spikeUpdate(1, 2, 9.5, 10, -1)

	out, err := SpikesToRate{Factor: 1}.Transform(in, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, out.Times)
	assert.InDelta(t, 300, out.Values[0][0], 1e-9)

	out, err = SpikesToRate{Factor: 2, Bin: 5, Hist: true}.Transform(in, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 5}, out.Times)
	assert.InDeltaSlice(t, []float64{800, 400}, out.Values[0], 1e-9)

	out, err = SpikesToRate{Factor: 1, Hist: true}.Transform(in, nil)
	require.NoError(t, err)
	require.Len(t, out.Times, 10)
	assert.InDelta(t, 1000, out.Values[0][1], 1e-9)
	assert.InDelta(t, 0, out.Values[0][5], 1e-9)
	require.NoError(t, out.Validate())

	_, err = SpikesToRate{}.Transform(stateUpdate(1), nil)
	assert.ErrorIs(t, err, ErrWrongRepresentation)
}
