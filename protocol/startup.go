package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GoCodeAlone/cosim"
)

// RequiredArgs is the number of positional startup arguments.
const RequiredArgs = 5

// ConfigHandle identifies the run and the party's place in it.
type ConfigHandle struct {
	RunID      string     `json:"run_id"`
	Role       cosim.Role `json:"role"`
	ResultsDir string     `json:"results_dir,omitempty"`
	// ExternalTransformers is set when the transformers run as their own
	// relay parties; the engine parties then exchange updates unchanged.
	ExternalTransformers bool `json:"external_transformers,omitempty"`
	// RendezvousDir, when set, is where parties announce their endpoints
	// and wait for the peers named in Peers before connecting.
	RendezvousDir string       `json:"rendezvous_dir,omitempty"`
	Peers         []cosim.Role `json:"peers,omitempty"`
}

// Endpoint is one peer connection. Mode is "in" for the link a party
// receives on and "out" for the one it sends on.
type Endpoint struct {
	Direction cosim.Direction `json:"direction"`
	Mode      string          `json:"mode"`
	URL       string          `json:"url"`
}

// Endpoint modes
const (
	ModeIn  = "in"
	ModeOut = "out"
)

// StartupArgs are the decoded positional arguments of a party process.
type StartupArgs struct {
	Config         ConfigHandle
	Log            cosim.LogSettings
	ParametersPath string
	Monitoring     bool
	Endpoints      []Endpoint
}

// ArgumentCountError reports a wrong number of startup arguments.
type ArgumentCountError struct {
	Received []string
}

func (e *ArgumentCountError) Error() string {
	return fmt.Sprintf("missing argument[s]; required: %d, received: %d", RequiredArgs, len(e.Received))
}

func (e *ArgumentCountError) Unwrap() error { return ErrArgumentCount }

// ParseStartupArgs validates and decodes the five startup arguments: the
// sealed config handle, the sealed log settings, the parameters path, the
// monitoring flag and the sealed endpoint list. Argument and integrity
// problems are protocol faults; a well-formed handle naming an unknown role
// is a configuration fault.
func ParseStartupArgs(args []string, key []byte) (*StartupArgs, error) {
	if len(args) != RequiredArgs {
		return nil, fmt.Errorf("%w: %w", cosim.ErrProtocol, &ArgumentCountError{Received: args})
	}

	var out StartupArgs
	if err := Open(args[0], KindConfig, key, &out.Config); err != nil {
		return nil, fmt.Errorf("%w: argument 1: %w", cosim.ErrProtocol, err)
	}
	if err := Open(args[1], KindLog, key, &out.Log); err != nil {
		return nil, fmt.Errorf("%w: argument 2: %w", cosim.ErrProtocol, err)
	}
	out.ParametersPath = strings.TrimSpace(args[2])
	if out.ParametersPath == "" {
		return nil, fmt.Errorf("%w: %w: argument 3: empty parameters path", cosim.ErrProtocol, ErrMalformedArgument)
	}
	monitoring, err := strconv.ParseBool(strings.TrimSpace(args[3]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: argument 4: %w", cosim.ErrProtocol, ErrMalformedArgument, err)
	}
	out.Monitoring = monitoring
	if err := Open(args[4], KindEndpoints, key, &out.Endpoints); err != nil {
		return nil, fmt.Errorf("%w: argument 5: %w", cosim.ErrProtocol, err)
	}

	if !out.Config.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", cosim.ErrConfiguration, out.Config.Role)
	}
	for i, ep := range out.Endpoints {
		if err := ep.validate(); err != nil {
			return nil, fmt.Errorf("%w: endpoint %d: %w", cosim.ErrConfiguration, i, err)
		}
	}
	return &out, nil
}

// BuildStartupArgs is the inverse of ParseStartupArgs.
func BuildStartupArgs(a StartupArgs, key []byte) ([]string, error) {
	cfg, err := Seal(KindConfig, a.Config, key)
	if err != nil {
		return nil, err
	}
	logSettings, err := Seal(KindLog, a.Log, key)
	if err != nil {
		return nil, err
	}
	endpoints := a.Endpoints
	if endpoints == nil {
		endpoints = []Endpoint{}
	}
	eps, err := Seal(KindEndpoints, endpoints, key)
	if err != nil {
		return nil, err
	}
	return []string{cfg, logSettings, a.ParametersPath, strconv.FormatBool(a.Monitoring), eps}, nil
}

// Select returns the endpoint with the given direction and mode.
func Select(endpoints []Endpoint, direction cosim.Direction, mode string) (Endpoint, bool) {
	for _, ep := range endpoints {
		if ep.Direction == direction && ep.Mode == mode {
			return ep, true
		}
	}
	return Endpoint{}, false
}

func (e Endpoint) validate() error {
	switch e.Direction {
	case cosim.MacroToMicro, cosim.MicroToMacro:
	default:
		return fmt.Errorf("unknown direction %q", e.Direction)
	}
	if e.Mode != ModeIn && e.Mode != ModeOut {
		return fmt.Errorf("unknown mode %q", e.Mode)
	}
	if e.URL == "" {
		return fmt.Errorf("empty url")
	}
	return nil
}
