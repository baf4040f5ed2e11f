package cosim

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoSimulationExchangesPreviousWindow(t *testing.T) {
	macro := &stubEngine{}
	micro := &stubEngine{}
	params := testParameters()
	params.SimulationLength = 5.0

	sim, err := NewCoSimulation(CoSimulationConfig{Params: params, Macro: macro, Micro: micro})
	require.NoError(t, err)

	result, err := sim.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(50), result.Macro.Steps)
	assert.Equal(t, int64(50), result.Micro.Steps)
	assert.Equal(t, 5, result.Macro.Cycles)
	assert.Equal(t, 5, result.Micro.Cycles)
	assert.Equal(t, result.Macro.RunID, result.Micro.RunID)

	assert.Equal(t, 1, macro.seedCalls)
	assert.Zero(t, micro.seedCalls, "only the starting side seeds the exchange")

	macroIn, macroWindows := macro.Inbound(), macro.Windows()
	assert.Nil(t, macroIn[0], "the starter's first cycle has no inbound update")
	for k := 1; k < len(macroWindows); k++ {
		require.NotNil(t, macroIn[k])
		assert.Equal(t, macroWindows[k].StartStep, macroIn[k].Window.EndStep())
		assert.Equal(t, float64(k), macroIn[k].Values[0][0], "cycle k consumes the peer's cycle k-1 output")
	}

	microIn, microWindows := micro.Inbound(), micro.Windows()
	require.NotNil(t, microIn[0])
	assert.Equal(t, -1.0, microIn[0].Values[0][0], "the first microscale window consumes the seed")
	for k := range microWindows {
		assert.Equal(t, microWindows[k].StartStep, microIn[k].Window.EndStep())
		assert.True(t, microIn[k].Consumed())
	}
}

func TestCoSimulationAppliesTransformers(t *testing.T) {
	macro := &stubEngine{}
	micro := &stubEngine{}
	double := TransformerFunc(func(u *CouplingUpdate, _ *rand.Rand) (*CouplingUpdate, error) {
		out := u.Clone()
		for i := range out.Values {
			for j := range out.Values[i] {
				out.Values[i][j] *= 2
			}
		}
		return out, nil
	})

	params := testParameters()
	params.SimulationLength = 2.0
	sim, err := NewCoSimulation(CoSimulationConfig{Params: params, Macro: macro, Micro: micro, Forward: double})
	require.NoError(t, err)
	_, err = sim.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, -2.0, micro.Inbound()[0].Values[0][0])
	assert.Equal(t, 1.0, macro.Inbound()[1].Values[0][0], "the backward direction is pass-through")
}

func TestCoSimulationFaultStopsBothSides(t *testing.T) {
	macro := &stubEngine{}
	micro := &stubEngine{panicAt: 2}
	params := testParameters()
	params.SimulationLength = 5.0

	sim, err := NewCoSimulation(CoSimulationConfig{Params: params, Macro: macro, Micro: micro})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sim.Run(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, Fatal(err))
	case <-time.After(5 * time.Second):
		t.Fatal("co-simulation did not stop after a kernel fault")
	}
	assert.Less(t, len(macro.Windows()), 5)
}

func TestCoSimulationSharedMetricsRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	params := testParameters()
	params.SimulationLength = 3.0

	sim, err := NewCoSimulation(CoSimulationConfig{
		Params:  params,
		Macro:   &stubEngine{},
		Micro:   &stubEngine{},
		Metrics: func(r Role) *Metrics { return NewMetrics(reg, r) },
	})
	require.NoError(t, err)
	_, err = sim.Run(context.Background())
	require.NoError(t, err)

	m := NewMetrics(reg, RoleMacroscale)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cycles.WithLabelValues(string(RoleMacroscale))))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.steps.WithLabelValues(string(RoleMicroscale))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.remaining.WithLabelValues(string(RoleMicroscale))))
}

func TestNewCoSimulationRequiresParameters(t *testing.T) {
	_, err := NewCoSimulation(CoSimulationConfig{Macro: &stubEngine{}, Micro: &stubEngine{}})
	assert.ErrorIs(t, err, ErrConfiguration)
}
