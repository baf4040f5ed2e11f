package cosim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testParametersYAML = `
dt: 0.1
synchronization_time: 1.0
simulation_length: 10.0
regions: 4
proxy_nodes: [1, 2]
forward:
  model: RATE
  scale_factor: 2.5
flush:
  window_steps: 3
  allow_exceed_window: true
meanfield:
  delay: 2.0
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadParametersYAML(t *testing.T) {
	params, err := LoadParameters(writeFile(t, "params.yaml", testParametersYAML))
	require.NoError(t, err)

	assert.Equal(t, 0.1, params.Dt)
	assert.Equal(t, 10.0, params.SimulationLength)
	assert.Equal(t, []int{1, 2}, params.ProxyNodes)
	assert.Equal(t, "RATE", params.Forward.Model)
	assert.Equal(t, 2.5, params.Forward.ScaleFactor)
	assert.Equal(t, FlushPolicy{WindowSteps: 3, AllowExceedWindow: true}, params.Flush)
	assert.Equal(t, 2.0, params.MeanField.Delay)

	// defaults
	assert.Equal(t, uint64(42), params.Seed)
	assert.Equal(t, 10.0, params.MeanField.TauE)
	assert.Equal(t, "heun", params.MeanField.Integrator)
	assert.Equal(t, 10, params.Spiking.NeuronsPerGroup)
	assert.Equal(t, 1.0, params.Backward.ScaleFactor)
	assert.Equal(t, "1s", params.Monitoring.Interval)

	steps, err := params.WindowSteps()
	require.NoError(t, err)
	assert.Equal(t, 10, steps)
}

func TestLoadParametersKeepsExplicitZeros(t *testing.T) {
	content := `
dt: 0.1
synchronization_time: 0.5
simulation_length: 2.0
seed: 0
proxy_nodes: [0]
meanfield:
  global_coupling: 0
spiking:
  background_rate: 0
`
	params, err := LoadParameters(writeFile(t, "zeros.yaml", content))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), params.Seed)
	assert.Zero(t, params.MeanField.GlobalCoupling)
	assert.Zero(t, params.Spiking.BackgroundRate)
	assert.Equal(t, []int{0}, params.ProxyNodes)

	// untouched fields still get their defaults
	assert.Equal(t, 1.0, params.MeanField.Delay)
	assert.Equal(t, 1.0, params.Spiking.BackgroundWeight)

	t.Setenv("COSIM_SEED", "0")
	params, err = LoadParameters(writeFile(t, "default-seed.yaml", testParametersYAML))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), params.Seed)
}

func TestLoadParametersRejectsExplicitZeroStep(t *testing.T) {
	_, err := LoadParameters(writeFile(t, "zero-dt.yaml", "dt: 0\nsimulation_length: 1\n"))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, ErrConfigRequiredFieldMissing)
}

func TestLoadParametersTOMLAndJSON(t *testing.T) {
	toml := `
dt = 0.1
synchronization_time = 0.5
simulation_length = 2.0
proxy_nodes = [0]
`
	params, err := LoadParameters(writeFile(t, "params.toml", toml))
	require.NoError(t, err)
	assert.Equal(t, 0.5, params.SynchronizationTime)
	assert.Equal(t, []int{0}, params.ProxyNodes)

	json := `{"dt": 0.05, "synchronization_time": 1.0, "simulation_length": 4.0, "proxy_nodes": [0, 3]}`
	params, err = LoadParameters(writeFile(t, "params.json", json))
	require.NoError(t, err)
	assert.Equal(t, 0.05, params.Dt)
	assert.Equal(t, []int{0, 3}, params.ProxyNodes)
}

func TestLoadParametersEnvironmentOverride(t *testing.T) {
	t.Setenv("COSIM_SIMULATION_LENGTH", "20")
	t.Setenv("COSIM_SEED", "7")
	t.Setenv("COSIM_PROXY_NODES", "0, 3")

	params, err := LoadParameters(writeFile(t, "params.yaml", testParametersYAML))
	require.NoError(t, err)
	assert.Equal(t, 20.0, params.SimulationLength)
	assert.Equal(t, uint64(7), params.Seed)
	assert.Equal(t, []int{0, 3}, params.ProxyNodes)
}

func TestLoadParametersFailuresAreConfigurationFaults(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported extension", "params.ini", "dt=0.1"},
		{"malformed yaml", "params.yaml", "dt: [unterminated"},
		{"window off the grid", "params.yaml", "dt: 0.1\nsynchronization_time: 0.25\nsimulation_length: 1\n"},
		{"missing length", "params.yaml", "dt: 0.1\n"},
		{"proxy outside regions", "params.yaml", "dt: 0.1\nsimulation_length: 1\nregions: 2\nproxy_nodes: [0, 5]\n"},
		{"duplicate proxy", "params.yaml", "dt: 0.1\nsimulation_length: 1\nproxy_nodes: [1, 1]\n"},
		{"unknown integrator", "params.yaml", "dt: 0.1\nsimulation_length: 1\nmeanfield:\n  integrator: rk4\n"},
		{"resolution does not divide dt", "params.yaml", "dt: 0.1\nsimulation_length: 1\nspiking:\n  resolution: 0.03\n"},
		{"bad monitoring interval", "params.yaml", "dt: 0.1\nsimulation_length: 1\nmonitoring:\n  interval: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadParameters(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Equal(t, 1, ExitCode(err))
		})
	}

	_, err := LoadParameters(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestValidateConfigRequired(t *testing.T) {
	type section struct {
		Name string `required:"true"`
	}
	type config struct {
		Rate    float64 `required:"true"`
		Label   string  `default:"x"`
		Section section
	}

	cfg := &config{}
	err := ValidateConfig(cfg)
	require.ErrorIs(t, err, ErrConfigRequiredFieldMissing)
	assert.Contains(t, err.Error(), "Rate")
	assert.Contains(t, err.Error(), "Section.Name")
	assert.Equal(t, "x", cfg.Label)

	assert.ErrorIs(t, ValidateConfig(nil), ErrConfigNil)
	assert.ErrorIs(t, ValidateConfig(config{}), ErrConfigNotPointer)
}
