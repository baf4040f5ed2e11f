package feeders

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineSection struct {
	Neurons int     `yaml:"neurons" toml:"neurons" json:"neurons" env:"NEURONS"`
	Rate    float64 `yaml:"rate" toml:"rate" json:"rate" env:"RATE"`
}

type testParams struct {
	Name    string        `yaml:"name" toml:"name" json:"name" env:"NAME"`
	Nodes   []int         `yaml:"nodes" toml:"nodes" json:"nodes" env:"NODES"`
	Enabled bool          `yaml:"enabled" toml:"enabled" json:"enabled" env:"ENABLED"`
	Seed    uint64        `yaml:"seed" toml:"seed" json:"seed" env:"SEED"`
	Engine  engineSection `yaml:"engine" toml:"engine" json:"engine"`
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestForFile(t *testing.T) {
	tests := []struct {
		file    string
		content string
	}{
		{"p.yaml", "name: run\nnodes: [1, 2]\nengine:\n  neurons: 10\n  rate: 2.5\n"},
		{"p.yml", "name: run\nnodes: [1, 2]\nengine:\n  neurons: 10\n  rate: 2.5\n"},
		{"p.toml", "name = \"run\"\nnodes = [1, 2]\n[engine]\nneurons = 10\nrate = 2.5\n"},
		{"p.json", `{"name": "run", "nodes": [1, 2], "engine": {"neurons": 10, "rate": 2.5}}`},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			f, err := ForFile(writeTemp(t, tt.file, tt.content))
			require.NoError(t, err)

			var p testParams
			require.NoError(t, f.Feed(&p))
			assert.Equal(t, "run", p.Name)
			assert.Equal(t, []int{1, 2}, p.Nodes)
			assert.Equal(t, 10, p.Engine.Neurons)
			assert.Equal(t, 2.5, p.Engine.Rate)

			var section engineSection
			require.NoError(t, f.FeedKey("engine", &section))
			assert.Equal(t, 10, section.Neurons)

			var missing engineSection
			require.NoError(t, f.FeedKey("absent", &missing))
			assert.Zero(t, missing)
		})
	}

	_, err := ForFile("params.ini")
	assert.Error(t, err)
}

func TestFileFeederErrors(t *testing.T) {
	var p testParams
	err := NewYamlFeeder(filepath.Join(t.TempDir(), "missing.yaml")).Feed(&p)
	assert.ErrorIs(t, err, ErrFileRead)

	err = NewJSONFeeder(writeTemp(t, "bad.json", "{")).Feed(&p)
	assert.ErrorIs(t, err, ErrDecode)

	err = NewTomlFeeder(writeTemp(t, "bad.toml", "name = ")).Feed(&p)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestEnvFeeder(t *testing.T) {
	env := map[string]string{
		"COSIM_NAME":    "from-env",
		"COSIM_NODES":   "3, 4,5",
		"COSIM_ENABLED": "true",
		"COSIM_SEED":    "99",
		"COSIM_NEURONS": "64",
		"COSIM_RATE":    "",
	}
	f := EnvFeeder{Prefix: "cosim", Lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	p := testParams{Engine: engineSection{Rate: 1.5}}
	require.NoError(t, f.Feed(&p))
	assert.Equal(t, "from-env", p.Name)
	assert.Equal(t, []int{3, 4, 5}, p.Nodes)
	assert.True(t, p.Enabled)
	assert.Equal(t, uint64(99), p.Seed)
	assert.Equal(t, 64, p.Engine.Neurons)
	assert.Equal(t, 1.5, p.Engine.Rate, "empty variables leave the value alone")
}

func TestEnvFeederFromProcessEnvironment(t *testing.T) {
	t.Setenv("TESTFEED_NAME", "process")
	var p testParams
	require.NoError(t, NewEnvFeeder("TESTFEED").Feed(&p))
	assert.Equal(t, "process", p.Name)
}

func TestEnvFeederErrors(t *testing.T) {
	var p testParams
	assert.ErrorIs(t, EnvFeeder{}.Feed(&p), ErrEmptyPrefix)
	assert.ErrorIs(t, NewEnvFeeder("X").Feed(p), ErrInvalidStructure)

	f := EnvFeeder{Prefix: "X", Lookup: func(k string) (string, bool) {
		if k == "X_SEED" {
			return "not-a-number", true
		}
		return "", false
	}}
	assert.Error(t, f.Feed(&p))
}
