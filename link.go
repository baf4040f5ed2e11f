package cosim

import "context"

// Link moves coupling updates between this party and its peer. Send and
// Receive block only on I/O and honour ctx; Receive returns ErrLinkClosed
// once the peer has closed its side.
type Link interface {
	Send(ctx context.Context, update *CouplingUpdate) error
	Receive(ctx context.Context) (*CouplingUpdate, error)
	Close() error
}

// Direction names a data-exchange direction between the two scales.
type Direction string

const (
	MacroToMicro Direction = "MACRO_TO_MICRO"
	MicroToMacro Direction = "MICRO_TO_MACRO"
)

// Role names the party a process plays in a co-simulation.
type Role string

const (
	RoleMacroscale Role = "macroscale"
	RoleMicroscale Role = "microscale"
	RoleForward    Role = "forward"
	RoleBackward   Role = "backward"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleMacroscale, RoleMicroscale, RoleForward, RoleBackward:
		return true
	}
	return false
}

// Starter reports whether the role seeds the exchange.
func (r Role) Starter() bool { return r == RoleMacroscale }

// Inbound returns the direction this role receives on.
func (r Role) Inbound() Direction {
	switch r {
	case RoleMacroscale, RoleBackward:
		return MicroToMacro
	default:
		return MacroToMicro
	}
}

// Outbound returns the direction this role sends on.
func (r Role) Outbound() Direction {
	switch r {
	case RoleMacroscale, RoleForward:
		return MacroToMicro
	default:
		return MicroToMacro
	}
}
