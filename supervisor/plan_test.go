package supervisor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/cosim"
	"github.com/GoCodeAlone/cosim/protocol"
)

func TestPlanDirectParties(t *testing.T) {
	plan := Plan{RunID: "r1", ParametersPath: "p.yaml", Server: "nats://127.0.0.1:4222/", LogDir: "/var/log/cosim"}
	parties, err := plan.Parties()
	require.NoError(t, err)
	require.Len(t, parties, 2)

	macro := parties[0]
	assert.Equal(t, cosim.RoleMacroscale, macro.Config.Role)
	assert.Equal(t, filepath.Join("/var/log/cosim", "macroscale.log"), macro.Log.File)
	assert.Equal(t, []protocol.Endpoint{
		{Direction: cosim.MicroToMacro, Mode: protocol.ModeIn, URL: "nats://127.0.0.1:4222/cosim.r1.micro_to_macro"},
		{Direction: cosim.MacroToMicro, Mode: protocol.ModeOut, URL: "nats://127.0.0.1:4222/cosim.r1.macro_to_micro"},
	}, macro.Endpoints)
	assert.False(t, macro.Config.ExternalTransformers)
	assert.Empty(t, macro.Config.Peers)

	micro := parties[1]
	in, ok := protocol.Select(micro.Endpoints, cosim.MacroToMicro, protocol.ModeIn)
	require.True(t, ok)
	out, ok := protocol.Select(macro.Endpoints, cosim.MacroToMicro, protocol.ModeOut)
	require.True(t, ok)
	assert.Equal(t, out.URL, in.URL, "what one side sends the other receives")
}

func TestPlanRelayParties(t *testing.T) {
	plan := Plan{RunID: "r2", Server: "nats://h:1", Relays: true, RendezvousDir: "/tmp/rv"}
	parties, err := plan.Parties()
	require.NoError(t, err)

	byRole := make(map[cosim.Role]protocol.StartupArgs)
	for _, p := range parties {
		byRole[p.Config.Role] = p
		assert.True(t, p.Config.ExternalTransformers)
		assert.Len(t, p.Config.Peers, 3)
		assert.NotContains(t, p.Config.Peers, p.Config.Role)
	}
	require.Len(t, byRole, 4)
	assert.Equal(t, []cosim.Role{cosim.RoleMacroscale, cosim.RoleForward, cosim.RoleBackward, cosim.RoleMicroscale}, plan.Roles())

	macroOut, _ := protocol.Select(byRole[cosim.RoleMacroscale].Endpoints, cosim.MacroToMicro, protocol.ModeOut)
	fwdIn, _ := protocol.Select(byRole[cosim.RoleForward].Endpoints, cosim.MacroToMicro, protocol.ModeIn)
	fwdOut, _ := protocol.Select(byRole[cosim.RoleForward].Endpoints, cosim.MacroToMicro, protocol.ModeOut)
	microIn, _ := protocol.Select(byRole[cosim.RoleMicroscale].Endpoints, cosim.MacroToMicro, protocol.ModeIn)
	assert.Equal(t, "nats://h:1/cosim.r2.macro_to_micro.raw", macroOut.URL)
	assert.Equal(t, macroOut.URL, fwdIn.URL)
	assert.Equal(t, fwdOut.URL, microIn.URL)

	microOut, _ := protocol.Select(byRole[cosim.RoleMicroscale].Endpoints, cosim.MicroToMacro, protocol.ModeOut)
	bwdIn, _ := protocol.Select(byRole[cosim.RoleBackward].Endpoints, cosim.MicroToMacro, protocol.ModeIn)
	bwdOut, _ := protocol.Select(byRole[cosim.RoleBackward].Endpoints, cosim.MicroToMacro, protocol.ModeOut)
	macroIn, _ := protocol.Select(byRole[cosim.RoleMacroscale].Endpoints, cosim.MicroToMacro, protocol.ModeIn)
	assert.Equal(t, microOut.URL, bwdIn.URL)
	assert.Equal(t, bwdOut.URL, macroIn.URL)
}

func TestPlanErrors(t *testing.T) {
	_, err := Plan{RunID: "r", Server: "mem://x"}.Parties()
	assert.ErrorIs(t, err, ErrNoTransport)

	_, err = Plan{Server: "nats://h:1"}.Parties()
	assert.ErrorIs(t, err, cosim.ErrConfiguration)
}
