package meanfield

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/cosim"
)

func testSetup(t *testing.T, mutate func(*cosim.Parameters)) cosim.EngineSetup {
	t.Helper()
	p := &cosim.Parameters{SimulationLength: 2, Regions: 3, ProxyNodes: []int{0}}
	require.NoError(t, cosim.ProcessConfigDefaults(p))
	if mutate != nil {
		mutate(p)
	}
	proxies, err := p.ProxyMap()
	require.NoError(t, err)
	return cosim.EngineSetup{Params: p, Proxies: proxies, Seed: p.Seed}
}

func window(start int64, steps int) cosim.Window {
	return cosim.Window{StartStep: start, Steps: steps, Dt: 0.1}
}

func TestNewValidates(t *testing.T) {
	_, err := New(context.Background(), cosim.EngineSetup{})
	assert.Error(t, err)

	setup := testSetup(t, nil)
	setup.Params.Regions = 0
	_, err = New(context.Background(), setup)
	assert.Error(t, err)

	setup = testSetup(t, func(p *cosim.Parameters) { p.MeanField.Weights = [][]float64{{0, 1}, {1, 0}, {1, 1}} })
	_, err = New(context.Background(), setup)
	assert.ErrorContains(t, err, "connectome row 0")
}

func TestRing(t *testing.T) {
	assert.Equal(t, [][]float64{{0, 1, 1}, {1, 0, 1}, {1, 1, 0}}, Ring(3))
	assert.Equal(t, [][]float64{{0}}, Ring(1))
}

func TestMinimumStepSizeIsDelay(t *testing.T) {
	eng, err := newEngine(testSetup(t, func(p *cosim.Parameters) { p.MeanField.Delay = 0.5 }))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, eng.MinimumStepSize(), 1e-12)
}

func TestInitialOutboundReportsProxyState(t *testing.T) {
	eng, err := newEngine(testSetup(t, func(p *cosim.Parameters) { p.ProxyNodes = []int{0, 2} }))
	require.NoError(t, err)

	u, err := eng.InitialOutbound(context.Background())
	require.NoError(t, err)
	require.NoError(t, u.Validate())
	assert.Equal(t, []int{0, 2}, u.Nodes)
	assert.Equal(t, []float64{0}, u.Times)
	assert.InDelta(t, 0.10, u.Values[0][0], 1e-12)
	assert.InDelta(t, 0.12, u.Values[1][0], 1e-12)
}

func TestAdvanceFollowsInboundOnProxies(t *testing.T) {
	ctx := context.Background()
	eng, err := newEngine(testSetup(t, nil))
	require.NoError(t, err)

	steps, first, err := eng.Advance(ctx, window(0, 10), nil)
	require.NoError(t, err)
	assert.Equal(t, 10, steps)
	require.NoError(t, first.Validate())
	assert.Len(t, first.Times, 10)
	assert.InDelta(t, 0.9, first.Times[9], 1e-12)

	inbound := &cosim.CouplingUpdate{
		Window:         window(0, 10),
		Representation: cosim.RepresentationRate,
		Nodes:          []int{0},
		Times:          []float64{0, 0.5},
		Values:         [][]float64{{0.7, 0.3}},
	}
	_, second, err := eng.Advance(ctx, window(10, 10), inbound)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 0.7, 0.7, 0.7, 0.7, 0.3, 0.3, 0.3, 0.3, 0.3}, second.Values[0])
	for _, e := range eng.e {
		assert.GreaterOrEqual(t, e, 0.0)
		assert.LessOrEqual(t, e, 1.0)
	}
}

func TestAdvanceRejects(t *testing.T) {
	ctx := context.Background()
	eng, err := newEngine(testSetup(t, nil))
	require.NoError(t, err)

	_, _, err = eng.Advance(ctx, window(5, 10), nil)
	assert.ErrorContains(t, err, "at step 0")

	notProxy := &cosim.CouplingUpdate{Representation: cosim.RepresentationRate, Nodes: []int{1}, Times: []float64{0}, Values: [][]float64{{1}}}
	_, _, err = eng.Advance(ctx, window(0, 10), notProxy)
	assert.ErrorContains(t, err, "not a proxy region")

	spikes := &cosim.CouplingUpdate{Representation: cosim.RepresentationSpikes, Nodes: []int{0}, Spikes: [][]float64{{0.1}}}
	_, _, err = eng.Advance(ctx, window(0, 10), spikes)
	assert.Error(t, err)

	require.NoError(t, eng.Close())
	_, _, err = eng.Advance(ctx, window(0, 10), nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = eng.InitialOutbound(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAdvanceIsDeterministicPerSeed(t *testing.T) {
	run := func(integrator string) *cosim.CouplingUpdate {
		eng, err := newEngine(testSetup(t, func(p *cosim.Parameters) {
			p.MeanField.Noise = 0.05
			p.MeanField.Integrator = integrator
			p.ProxyNodes = []int{2}
		}))
		require.NoError(t, err)
		_, out, err := eng.Advance(context.Background(), window(0, 20), nil)
		require.NoError(t, err)
		return out
	}
	assert.True(t, run("heun").Equal(run("heun")))
	assert.True(t, run("euler").Equal(run("euler")))
}
