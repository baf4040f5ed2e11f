package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/cosim"
)

const commandPrefix = "SteeringCommands."

type commandEnvelope struct {
	SteeringCommand map[string]int `yaml:"STEERING_COMMAND" json:"STEERING_COMMAND"`
	Parameters      []float64      `yaml:"PARAMETERS" json:"PARAMETERS"`
}

// ParseCommand decodes one command line. It accepts JSON and the mapping
// literal a supervisor may print, e.g.
//
//	{'STEERING_COMMAND': {'SteeringCommands.START': 2}, 'PARAMETERS': [0.1]}
//
// The returned Command always carries the raw line, even on error, so the
// caller can name the offending command. Anything that is not a known
// command wraps cosim.ErrUnknownCommand.
func ParseCommand(line string) (cosim.Command, error) {
	raw := strings.TrimSpace(line)
	cmd := cosim.Command{Raw: raw}
	if raw == "" {
		return cmd, fmt.Errorf("%w: %w: empty command", cosim.ErrProtocol, ErrMalformedCommand)
	}

	var env commandEnvelope
	if err := yaml.Unmarshal([]byte(raw), &env); err != nil || len(env.SteeringCommand) != 1 {
		return cmd, fmt.Errorf("%w: %w: %s", cosim.ErrProtocol, cosim.ErrUnknownCommand, raw)
	}

	for name, value := range env.SteeringCommand {
		kind, ok := cosim.CommandByName(strings.TrimPrefix(name, commandPrefix))
		if !ok || int(kind) != value {
			return cmd, fmt.Errorf("%w: %w: %s", cosim.ErrProtocol, cosim.ErrUnknownCommand, raw)
		}
		cmd.Kind = kind
	}
	cmd.Parameters = env.Parameters
	if cmd.Kind == cosim.CommandStart && len(cmd.Parameters) == 0 {
		return cmd, fmt.Errorf("%w: %w: START without a global minimum step size", cosim.ErrProtocol, cosim.ErrMissingParameter)
	}
	return cmd, nil
}

// FormatCommand renders cmd as a single JSON line that ParseCommand reads.
func FormatCommand(cmd cosim.Command) (string, error) {
	if !cmd.Kind.Known() {
		return "", fmt.Errorf("%w: %s", cosim.ErrUnknownCommand, cmd.Kind)
	}
	params := cmd.Parameters
	if params == nil {
		params = []float64{}
	}
	raw, err := json.Marshal(commandEnvelope{
		SteeringCommand: map[string]int{commandPrefix + cmd.Kind.String(): int(cmd.Kind)},
		Parameters:      params,
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
