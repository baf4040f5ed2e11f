package cosim

import "fmt"

// SteeringCommand is a command sent by the supervising process. The numeric
// values are part of the control protocol.
type SteeringCommand int

const (
	CommandInit  SteeringCommand = 1
	CommandStart SteeringCommand = 2
	CommandEnd   SteeringCommand = 3
	CommandExit  SteeringCommand = 4
)

var commandNames = map[SteeringCommand]string{
	CommandInit:  "INIT",
	CommandStart: "START",
	CommandEnd:   "END",
	CommandExit:  "EXIT",
}

// String returns the protocol name of c.
func (c SteeringCommand) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("SteeringCommand(%d)", int(c))
}

// Known reports whether c is one of the protocol's commands.
func (c SteeringCommand) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// CommandByName looks a command up by its protocol name.
func CommandByName(name string) (SteeringCommand, bool) {
	for c, n := range commandNames {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

// Command is a decoded steering command envelope. Raw keeps the text it was
// decoded from for diagnostics.
type Command struct {
	Kind       SteeringCommand
	Parameters []float64
	Raw        string
}

// Parameter returns the i-th parameter.
func (c Command) Parameter(i int) (float64, error) {
	if i < 0 || i >= len(c.Parameters) {
		return 0, fmt.Errorf("%w: %s needs parameter %d", ErrMissingParameter, c.Kind, i)
	}
	return c.Parameters[i], nil
}

func (c Command) describe() string {
	if c.Raw != "" {
		return c.Raw
	}
	return c.Kind.String()
}
