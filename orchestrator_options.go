package cosim

import "fmt"

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithTransformer sets the transformer applied to inbound updates. A nil
// transformer means pass-through.
func WithTransformer(t Transformer) Option {
	return func(o *Orchestrator) error {
		if t == nil {
			t = PassThrough{}
		}
		o.transformer = t
		return nil
	}
}

// WithSeed seeds the generator handed to the transformer.
func WithSeed(seed uint64) Option {
	return func(o *Orchestrator) error {
		o.rng = NewRand(seed, StreamTransformer)
		return nil
	}
}

// WithLink connects the orchestrator to its peer. The starter sends the
// engine's seed before its first cycle and advances its first cycle without
// inbound data.
func WithLink(link Link, starter bool) Option {
	return func(o *Orchestrator) error {
		if link == nil {
			return fmt.Errorf("link is nil")
		}
		o.link = link
		o.starter = starter
		return nil
	}
}

// WithRole labels logs, events and metrics.
func WithRole(role Role) Option {
	return func(o *Orchestrator) error {
		o.role = role
		return nil
	}
}

// WithRunID sets the run identifier carried by events.
func WithRunID(id string) Option {
	return func(o *Orchestrator) error {
		o.runID = id
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(o *Orchestrator) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

// WithSubject routes run events to subject's observers.
func WithSubject(subject *Subject) Option {
	return func(o *Orchestrator) error {
		o.subject = subject
		return nil
	}
}

// WithMetrics records cycle metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) error {
		o.metrics = m
		return nil
	}
}

// WithFlushPolicy sizes the flush cycle.
func WithFlushPolicy(p FlushPolicy) Option {
	return func(o *Orchestrator) error {
		if p.WindowSteps < 0 {
			return fmt.Errorf("flush window steps must not be negative: %d", p.WindowSteps)
		}
		o.flush = p
		return nil
	}
}

// WithResults records every outbound update into ts.
func WithResults(ts *TimeSeries) Option {
	return func(o *Orchestrator) error {
		o.series = ts
		return nil
	}
}
