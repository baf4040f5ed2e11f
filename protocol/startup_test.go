package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/cosim"
)

func sampleStartupArgs() StartupArgs {
	return StartupArgs{
		Config: ConfigHandle{
			RunID:      "run-7",
			Role:       cosim.RoleMicroscale,
			ResultsDir: "results",
			Peers:      []cosim.Role{cosim.RoleMacroscale},
		},
		Log:            cosim.LogSettings{Level: "debug", Format: "json"},
		ParametersPath: "parameters.yaml",
		Monitoring:     true,
		Endpoints: []Endpoint{
			{Direction: cosim.MacroToMicro, Mode: ModeIn, URL: "nats://127.0.0.1:4222/cosim.run-7.macro_to_micro"},
			{Direction: cosim.MicroToMacro, Mode: ModeOut, URL: "nats://127.0.0.1:4222/cosim.run-7.micro_to_macro"},
		},
	}
}

func TestStartupArgsRoundTrip(t *testing.T) {
	in := sampleStartupArgs()
	args, err := BuildStartupArgs(in, testKey)
	require.NoError(t, err)
	require.Len(t, args, RequiredArgs)
	assert.Equal(t, "parameters.yaml", args[2])
	assert.Equal(t, "true", args[3])

	out, err := ParseStartupArgs(args, testKey)
	require.NoError(t, err)
	assert.Equal(t, in, *out)

	ep, ok := Select(out.Endpoints, cosim.MicroToMacro, ModeOut)
	require.True(t, ok)
	assert.Contains(t, ep.URL, "micro_to_macro")
	_, ok = Select(out.Endpoints, cosim.MicroToMacro, ModeIn)
	assert.False(t, ok)
}

func TestParseStartupArgsCount(t *testing.T) {
	_, err := ParseStartupArgs([]string{"a", "b"}, testKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArgumentCount)
	assert.ErrorIs(t, err, cosim.ErrProtocol)
	assert.Contains(t, err.Error(), "missing argument[s]; required: 5, received: 2")

	var countErr *ArgumentCountError
	require.ErrorAs(t, err, &countErr)
	assert.Equal(t, []string{"a", "b"}, countErr.Received)
}

func TestParseStartupArgsFaults(t *testing.T) {
	valid, err := BuildStartupArgs(sampleStartupArgs(), testKey)
	require.NoError(t, err)

	badRole := sampleStartupArgs()
	badRole.Config.Role = "mesoscale"
	badRoleArgs, err := BuildStartupArgs(badRole, testKey)
	require.NoError(t, err)

	badEndpoint := sampleStartupArgs()
	badEndpoint.Endpoints[0].Mode = "sideways"
	badEndpointArgs, err := BuildStartupArgs(badEndpoint, testKey)
	require.NoError(t, err)

	with := func(i int, v string) []string {
		args := append([]string(nil), valid...)
		args[i] = v
		return args
	}

	tests := []struct {
		name  string
		args  []string
		fault error
		cause error
	}{
		{"config sealed as log", with(0, valid[1]), cosim.ErrProtocol, ErrKindMismatch},
		{"empty parameters path", with(2, " "), cosim.ErrProtocol, ErrMalformedArgument},
		{"bad monitoring flag", with(3, "maybe"), cosim.ErrProtocol, ErrMalformedArgument},
		{"tampered endpoints", with(4, valid[4]+"AA"), cosim.ErrProtocol, nil},
		{"unknown role", badRoleArgs, cosim.ErrConfiguration, nil},
		{"bad endpoint", badEndpointArgs, cosim.ErrConfiguration, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStartupArgs(tt.args, testKey)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.fault)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}

	_, err = ParseStartupArgs(valid, []byte("wrong"))
	assert.ErrorIs(t, err, ErrIntegrity)
}
