package adapter_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/cosim"
	"github.com/GoCodeAlone/cosim/adapter"
	"github.com/GoCodeAlone/cosim/protocol"
	"github.com/GoCodeAlone/cosim/supervisor"
	"github.com/GoCodeAlone/cosim/transport"
)

var testKey = []byte("adapter-test-key")

const testParameters = `
dt: 0.1
synchronization_time: 0.5
simulation_length: 2.0
seed: 11
regions: 2
proxy_nodes: [0]
spiking:
  neurons_per_group: 5
forward:
  model: RATE
  scale_factor: 1000
backward:
  model: SPIKES_TO_RATE
  scale_factor: 0.001
`

func writeParameters(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parameters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testParameters), 0o644))
	return path
}

type idleEngine struct{}

func (idleEngine) Advance(_ context.Context, w cosim.Window, _ *cosim.CouplingUpdate) (int, *cosim.CouplingUpdate, error) {
	return w.Steps, &cosim.CouplingUpdate{Representation: cosim.RepresentationSpikes, Nodes: []int{0}, Spikes: [][]float64{{}}}, nil
}

func (idleEngine) InitialOutbound(context.Context) (*cosim.CouplingUpdate, error) {
	return &cosim.CouplingUpdate{Representation: cosim.RepresentationSpikes, Nodes: []int{0}, Spikes: [][]float64{{}}}, nil
}

func idleDeps() adapter.Deps {
	return adapter.Deps{
		Key:    testKey,
		Getpid: func() int { return 4242 },
		Sources: map[cosim.Role]cosim.EngineSource{
			cosim.RoleMacroscale: cosim.FromFactory(func(context.Context, cosim.EngineSetup) (cosim.Engine, error) {
				return idleEngine{}, nil
			}),
		},
	}
}

func macroArgs(t *testing.T, paramsPath string) []string {
	t.Helper()
	args, err := protocol.BuildStartupArgs(protocol.StartupArgs{
		Config:         protocol.ConfigHandle{RunID: "single", Role: cosim.RoleMacroscale},
		Log:            cosim.LogSettings{Level: "error"},
		ParametersPath: paramsPath,
		Endpoints:      []protocol.Endpoint{},
	}, testKey)
	require.NoError(t, err)
	return args
}

func TestMissingArguments(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := adapter.Run(context.Background(), []string{"one", "two"}, strings.NewReader(""), &stdout, &stderr, adapter.Deps{Key: testKey})

	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "missing argument[s]; required: 5, received: 2")
	assert.Contains(t, stderr.String(), `received arguments: ["one" "two"]`)
}

func TestTamperedArguments(t *testing.T) {
	args := macroArgs(t, writeParameters(t))
	var stdout, stderr bytes.Buffer
	deps := idleDeps()
	deps.Key = []byte("another-key")

	code := adapter.Run(context.Background(), args, strings.NewReader(""), &stdout, &stderr, deps)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "integrity check failed")
}

func TestCommandOtherThanStart(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		want  string
	}{
		{"unknown", "{'STEERING_COMMAND': {'SteeringCommands.PAUSE': 7}, 'PARAMETERS': []}\n", "unknown command: {'STEERING_COMMAND': {'SteeringCommands.PAUSE': 7}, 'PARAMETERS': []}"},
		{"end", "{'STEERING_COMMAND': {'SteeringCommands.END': 3}, 'PARAMETERS': []}\n", "unknown command: {'STEERING_COMMAND': {'SteeringCommands.END': 3}"},
		{"none", "", "unknown command: <none>"},
		{"start without parameter", `{"STEERING_COMMAND": {"SteeringCommands.START": 2}, "PARAMETERS": []}` + "\n", "malformed command:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := adapter.Run(context.Background(), macroArgs(t, writeParameters(t)), strings.NewReader(tt.stdin), &stdout, &stderr, idleDeps())

			assert.Equal(t, 1, code)
			assert.Contains(t, stderr.String(), tt.want)
			resp, err := protocol.ReadInitResponse(bufio.NewReader(&stdout))
			require.NoError(t, err, "INIT is answered before the command is read")
			assert.Equal(t, 4242, resp.PID)
			assert.InDelta(t, 0.5, resp.LocalMinimumStepSize, 1e-12)
		})
	}
}

func TestParametersFault(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := adapter.Run(context.Background(), macroArgs(t, filepath.Join(t.TempDir(), "missing.yaml")),
		strings.NewReader(""), &stdout, &stderr, idleDeps())

	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "configuration fault")
}

// runningParty is one adapter.Run on its own goroutine, wired to pipes the
// way a supervisor wires a child process.
type runningParty struct {
	role   cosim.Role
	stdin  *io.PipeWriter
	stdout *bufio.Reader
	stderr *bytes.Buffer
	code   chan int
}

func startParty(ctx context.Context, t *testing.T, role cosim.Role, args []string) *runningParty {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	p := &runningParty{role: role, stdin: inW, stdout: bufio.NewReader(outR), stderr: &bytes.Buffer{}, code: make(chan int, 1)}
	go func() {
		code := adapter.Run(ctx, args, inR, outW, p.stderr, adapter.Deps{Key: testKey})
		_ = outW.Close()
		p.code <- code
	}()
	return p
}

// steer answers INIT for every party, sends START with the smallest local
// minimum and waits for every exit code.
func steer(t *testing.T, parties []*runningParty) float64 {
	t.Helper()
	global := 0.0
	for _, p := range parties {
		resp, err := protocol.ReadInitResponse(p.stdout)
		require.NoError(t, err, "%s INIT", p.role)
		if global == 0 || resp.LocalMinimumStepSize < global {
			global = resp.LocalMinimumStepSize
		}
	}
	start, err := protocol.FormatCommand(cosim.Command{Kind: cosim.CommandStart, Parameters: []float64{global}})
	require.NoError(t, err)
	for _, p := range parties {
		_, err := fmt.Fprintln(p.stdin, start)
		require.NoError(t, err)
		require.NoError(t, p.stdin.Close())
	}
	for _, p := range parties {
		select {
		case code := <-p.code:
			assert.Equal(t, 0, code, "%s exit code, stderr: %s", p.role, p.stderr.String())
		case <-time.After(30 * time.Second):
			t.Fatalf("%s did not finish", p.role)
		}
	}
	return global
}

func TestTwoPartiesOverMemoryPipes(t *testing.T) {
	ctx := context.Background()
	paramsPath := writeParameters(t)
	results := t.TempDir()
	name := "adapter-" + t.Name()
	t.Cleanup(func() { transport.ReleasePipe(name) })

	url := "mem://" + name
	endpoints := []protocol.Endpoint{
		{Direction: cosim.MacroToMicro, Mode: protocol.ModeOut, URL: url},
		{Direction: cosim.MacroToMicro, Mode: protocol.ModeIn, URL: url},
		{Direction: cosim.MicroToMacro, Mode: protocol.ModeOut, URL: url},
		{Direction: cosim.MicroToMacro, Mode: protocol.ModeIn, URL: url},
	}

	var parties []*runningParty
	for _, role := range []cosim.Role{cosim.RoleMacroscale, cosim.RoleMicroscale} {
		args, err := protocol.BuildStartupArgs(protocol.StartupArgs{
			Config:         protocol.ConfigHandle{RunID: "mem-run", Role: role, ResultsDir: results},
			Log:            cosim.LogSettings{Level: "error"},
			ParametersPath: paramsPath,
			Endpoints:      endpoints,
		}, testKey)
		require.NoError(t, err)
		parties = append(parties, startParty(ctx, t, role, args))
	}

	global := steer(t, parties)
	assert.InDelta(t, 0.5, global, 1e-12)
	for _, role := range []string{"macroscale", "microscale"} {
		assert.FileExists(t, filepath.Join(results, "mem-run", role+"_summary.yaml"))
		assert.FileExists(t, filepath.Join(results, "mem-run", role+"_timeseries.csv"))
	}
}

func TestFourPartiesOverNATS(t *testing.T) {
	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go s.Start()
	require.True(t, s.ReadyForConnections(5*time.Second))
	t.Cleanup(s.Shutdown)

	plan := supervisor.Plan{
		RunID:          "nats-run",
		ParametersPath: writeParameters(t),
		Server:         s.ClientURL(),
		Relays:         true,
		Log:            cosim.LogSettings{Level: "error"},
		ResultsDir:     t.TempDir(),
		RendezvousDir:  t.TempDir(),
	}
	startups, err := plan.Parties()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	var parties []*runningParty
	for _, startup := range startups {
		args, err := protocol.BuildStartupArgs(startup, testKey)
		require.NoError(t, err)
		parties = append(parties, startParty(ctx, t, startup.Config.Role, args))
	}

	steer(t, parties)
	raw, err := os.ReadFile(filepath.Join(plan.ResultsDir, "nats-run", "microscale_summary.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "steps: 20")
}
