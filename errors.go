package cosim

import (
	"errors"
	"fmt"
)

// Fault classes. Every error leaving the orchestrator or the controller wraps
// exactly one of these so callers can classify it with errors.Is.
var (
	ErrConfiguration = errors.New("configuration fault")
	ErrLiveness      = errors.New("liveness fault")
	ErrKernel        = errors.New("kernel fault")
	ErrProtocol      = errors.New("protocol fault")
	ErrReporting     = errors.New("reporting fault")
)

// Run errors
var (
	// Configuration errors
	ErrInvalidStepSize       = errors.New("integration step size must be positive")
	ErrInvalidWindow         = errors.New("synchronization time must be a positive multiple of the step size")
	ErrInvalidLength         = errors.New("simulation length must be positive")
	ErrProxyMapNotBijective  = errors.New("proxy node map is not a bijection")
	ErrProxyMapEmpty         = errors.New("proxy node map is empty")
	ErrEngineSourceEmpty     = errors.New("engine source holds neither a builder nor a factory")
	ErrEngineNil             = errors.New("engine source produced a nil engine")
	ErrStepSizeMismatch      = errors.New("global minimum step size is incompatible with the local step size")
	ErrUnsupportedParameters = errors.New("unsupported parameters file format")

	// Config validation errors
	ErrConfigNil                  = errors.New("config is nil")
	ErrConfigNotPointer           = errors.New("config must be a pointer")
	ErrConfigNotStruct            = errors.New("config must be a struct")
	ErrConfigRequiredFieldMissing = errors.New("required field is missing")
	ErrConfigValidationFailed     = errors.New("config validation failed")
	ErrUnsupportedTypeForDefault  = errors.New("unsupported type for default value")
	ErrDefaultValueParseError     = errors.New("failed to parse default value")
	ErrDefaultValueOverflowsInt   = errors.New("default value overflows int")
	ErrDefaultValueOverflowsFloat = errors.New("default value overflows float")

	// Exchange errors
	ErrUpdateConsumed  = errors.New("coupling update already consumed")
	ErrWindowMismatch  = errors.New("coupling update does not belong to the expected window")
	ErrNoProgress      = errors.New("engine reported zero steps while work remains")
	ErrLinkClosed      = errors.New("link closed by peer")
	ErrRunAborted      = errors.New("run aborted at cycle boundary")
	ErrEngineOverstep  = errors.New("engine advanced past the end of the window")
	ErrTransformFailed = errors.New("transformer stage failed")

	// Controller errors
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrTerminalState     = errors.New("controller is in a terminal state")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrMissingParameter  = errors.New("command is missing a required parameter")
)

// Fault names a class in the run's error taxonomy.
type Fault string

const (
	FaultNone          Fault = ""
	FaultConfiguration Fault = "configuration"
	FaultLiveness      Fault = "liveness"
	FaultKernel        Fault = "kernel"
	FaultProtocol      Fault = "protocol"
	FaultReporting     Fault = "reporting"
	FaultUnclassified  Fault = "unclassified"
)

// FaultOf classifies err. Errors that wrap none of the class sentinels are
// reported as FaultUnclassified and treated as fatal.
func FaultOf(err error) Fault {
	switch {
	case err == nil:
		return FaultNone
	case errors.Is(err, ErrConfiguration):
		return FaultConfiguration
	case errors.Is(err, ErrLiveness):
		return FaultLiveness
	case errors.Is(err, ErrKernel):
		return FaultKernel
	case errors.Is(err, ErrProtocol):
		return FaultProtocol
	case errors.Is(err, ErrReporting):
		return FaultReporting
	default:
		return FaultUnclassified
	}
}

// Fatal reports whether err must terminate the process. Only reporting faults
// are recoverable.
func Fatal(err error) bool {
	f := FaultOf(err)
	return f != FaultNone && f != FaultReporting
}

// ExitCode maps err to the process exit status: 0 for success or a
// reporting-only fault, 1 for everything else.
func ExitCode(err error) int {
	if Fatal(err) {
		return 1
	}
	return 0
}

// CycleError carries the window context of a fault raised inside a cycle.
type CycleError struct {
	Fault  error
	Cycle  int
	Window Window
	Cause  error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v in cycle %d, window [%g, %g) (%d steps): %v",
		e.Fault, e.Cycle, e.Window.Start(), e.Window.End(), e.Window.Steps, e.Cause)
}

// Unwrap exposes both the fault class and the underlying cause.
func (e *CycleError) Unwrap() []error {
	return []error{e.Fault, e.Cause}
}

func configurationError(err error) error {
	return fmt.Errorf("%w: %w", ErrConfiguration, err)
}

func protocolError(err error) error {
	return fmt.Errorf("%w: %w", ErrProtocol, err)
}
