package cosim

import (
	"context"
	"fmt"
)

// Engine wraps one native simulation kernel behind a synchronized advance.
type Engine interface {
	// Advance applies inbound (nil on a side's first cycle) as boundary input
	// for exactly this window, then steps the kernel without looking past
	// window.End(). It returns the steps actually taken, which may be fewer
	// than window.Steps when the kernel quantizes to its own resolution, and
	// the update describing what happened during the steps taken.
	Advance(ctx context.Context, window Window, inbound *CouplingUpdate) (int, *CouplingUpdate, error)

	// InitialOutbound returns the run's seed coupling value before any
	// stepping. Only the side that starts the exchange calls it.
	InitialOutbound(ctx context.Context) (*CouplingUpdate, error)
}

// Closer is implemented by engines holding resources that must be released
// once the run is finalized.
type Closer interface {
	Close() error
}

// StepSizer is implemented by engines whose native resolution bounds the
// smallest window they can be synchronized on.
type StepSizer interface {
	MinimumStepSize() float64
}

// EngineSetup is everything an engine needs at build time.
type EngineSetup struct {
	Params  *Parameters
	Proxies *ProxyNodeMap
	Logger  Logger
	Seed    uint64
}

// EngineBuilder builds a ready-to-advance engine.
type EngineBuilder interface {
	Build(ctx context.Context, setup EngineSetup) (Engine, error)
}

// EngineFactory is a plain function producing a ready-to-advance engine.
type EngineFactory func(ctx context.Context, setup EngineSetup) (Engine, error)

// EngineSource is either a builder instance or a factory function. It is
// resolved once, when the controller becomes configured.
type EngineSource struct {
	builder EngineBuilder
	factory EngineFactory
}

// FromBuilder wraps a builder instance.
func FromBuilder(b EngineBuilder) EngineSource { return EngineSource{builder: b} }

// FromFactory wraps a factory function.
func FromFactory(f EngineFactory) EngineSource { return EngineSource{factory: f} }

// Kind returns "builder", "factory" or "" for an empty source.
func (s EngineSource) Kind() string {
	switch {
	case s.builder != nil:
		return "builder"
	case s.factory != nil:
		return "factory"
	default:
		return ""
	}
}

// Resolve produces the engine. Failures are configuration faults.
func (s EngineSource) Resolve(ctx context.Context, setup EngineSetup) (Engine, error) {
	var (
		engine Engine
		err    error
	)
	switch {
	case s.builder != nil:
		engine, err = s.builder.Build(ctx, setup)
	case s.factory != nil:
		engine, err = s.factory(ctx, setup)
	default:
		return nil, configurationError(ErrEngineSourceEmpty)
	}
	if err != nil {
		return nil, configurationError(fmt.Errorf("%s failed to build engine: %w", s.Kind(), err))
	}
	if engine == nil {
		return nil, configurationError(ErrEngineNil)
	}
	return engine, nil
}
