// Package supervisor launches the parties of a co-simulation as separate
// processes and drives them through INIT and START.
package supervisor

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/GoCodeAlone/cosim"
	"github.com/GoCodeAlone/cosim/protocol"
)

// ErrNoTransport is returned when a plan names no NATS server.
var ErrNoTransport = errors.New("plan needs a nats:// server url")

// Plan describes one multi-process run.
type Plan struct {
	RunID          string
	ParametersPath string
	// Server is the NATS server every party connects to, e.g. nats://127.0.0.1:4222.
	Server string
	// Relays runs the forward and backward transformers as their own parties.
	Relays     bool
	Monitoring bool
	Log        cosim.LogSettings
	// LogDir, when set, gives every party its own log file named after its role.
	LogDir        string
	ResultsDir    string
	RendezvousDir string
}

// Roles returns the parties of the plan in launch order.
func (p Plan) Roles() []cosim.Role {
	if p.Relays {
		return []cosim.Role{cosim.RoleMacroscale, cosim.RoleForward, cosim.RoleBackward, cosim.RoleMicroscale}
	}
	return []cosim.Role{cosim.RoleMacroscale, cosim.RoleMicroscale}
}

// Parties returns the startup arguments of every party. Subjects are
// prefixed with the run id so concurrent runs can share a server.
func (p Plan) Parties() ([]protocol.StartupArgs, error) {
	if !strings.HasPrefix(p.Server, "nats://") {
		return nil, fmt.Errorf("%w: %q", ErrNoTransport, p.Server)
	}
	if p.RunID == "" {
		return nil, fmt.Errorf("%w: plan needs a run id", cosim.ErrConfiguration)
	}
	base := strings.TrimRight(p.Server, "/") + "/cosim." + p.RunID + "."
	subject := func(d cosim.Direction, stage string) string {
		s := base + strings.ToLower(string(d))
		if stage != "" {
			s += "." + stage
		}
		return s
	}

	roles := p.Roles()
	parties := make([]protocol.StartupArgs, 0, len(roles))
	for _, role := range roles {
		var eps []protocol.Endpoint
		switch {
		case !p.Relays:
			eps = []protocol.Endpoint{
				{Direction: role.Inbound(), Mode: protocol.ModeIn, URL: subject(role.Inbound(), "")},
				{Direction: role.Outbound(), Mode: protocol.ModeOut, URL: subject(role.Outbound(), "")},
			}
		case role == cosim.RoleForward || role == cosim.RoleBackward:
			d := role.Outbound()
			eps = []protocol.Endpoint{
				{Direction: d, Mode: protocol.ModeIn, URL: subject(d, "raw")},
				{Direction: d, Mode: protocol.ModeOut, URL: subject(d, "")},
			}
		default:
			eps = []protocol.Endpoint{
				{Direction: role.Inbound(), Mode: protocol.ModeIn, URL: subject(role.Inbound(), "")},
				{Direction: role.Outbound(), Mode: protocol.ModeOut, URL: subject(role.Outbound(), "raw")},
			}
		}

		logSettings := p.Log
		if p.LogDir != "" {
			logSettings.File = filepath.Join(p.LogDir, string(role)+".log")
		}
		handle := protocol.ConfigHandle{
			RunID:                p.RunID,
			Role:                 role,
			ResultsDir:           p.ResultsDir,
			ExternalTransformers: p.Relays,
			RendezvousDir:        p.RendezvousDir,
		}
		if p.RendezvousDir != "" {
			for _, other := range roles {
				if other != role {
					handle.Peers = append(handle.Peers, other)
				}
			}
		}
		parties = append(parties, protocol.StartupArgs{
			Config:         handle,
			Log:            logSettings,
			ParametersPath: p.ParametersPath,
			Monitoring:     p.Monitoring,
			Endpoints:      eps,
		})
	}
	return parties, nil
}
