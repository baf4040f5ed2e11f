// Package monitor samples process resources during a run and serves the
// party's status over HTTP.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/cosim"
	"github.com/GoCodeAlone/cosim/health"
)

// DefaultMaxSamples bounds the samples kept in memory.
const DefaultMaxSamples = 10000

// Static errors for monitor package
var (
	ErrAlreadyStarted = errors.New("resource monitor already started")
	ErrNotStarted     = errors.New("resource monitor not started")
	ErrStopTimedOut   = errors.New("resource monitor stop timed out")
)

// Sample is one reading of the process's resources.
type Sample struct {
	At            time.Time `json:"at" yaml:"at"`
	ResidentBytes float64   `json:"resident_bytes" yaml:"resident_bytes"`
	VirtualBytes  float64   `json:"virtual_bytes" yaml:"virtual_bytes"`
	CPUSeconds    float64   `json:"cpu_seconds" yaml:"cpu_seconds"`
	HeapBytes     float64   `json:"heap_bytes" yaml:"heap_bytes"`
	Goroutines    float64   `json:"goroutines" yaml:"goroutines"`
}

// ResourceMonitor samples process and runtime metrics on a schedule. It is
// a side channel: failures are logged and never reach the run.
type ResourceMonitor struct {
	interval   time.Duration
	registry   *prometheus.Registry
	logger     cosim.Logger
	maxSamples int

	mu      sync.Mutex
	cron    *cron.Cron
	samples []Sample
	lastErr error
}

// NewResourceMonitor creates a monitor sampling every interval into its own
// registry. Intervals under a second are rounded up to one second.
func NewResourceMonitor(interval time.Duration, logger cosim.Logger) *ResourceMonitor {
	if logger == nil {
		logger = cosim.NopLogger()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return &ResourceMonitor{
		interval:   max(interval, time.Second),
		registry:   reg,
		logger:     logger,
		maxSamples: DefaultMaxSamples,
	}
}

// Registry returns the registry the monitor gathers from. Other metrics of
// the party may be registered on it so that one /metrics endpoint serves all.
func (m *ResourceMonitor) Registry() *prometheus.Registry { return m.registry }

// Start takes a first sample and schedules the rest.
func (m *ResourceMonitor) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return ErrAlreadyStarted
	}
	c := cron.New()
	c.Schedule(cron.Every(m.interval), cron.FuncJob(func() {
		if _, err := m.Sample(); err != nil {
			m.logger.Warn("Resource sample failed", "error", err)
		}
	}))
	c.Start()
	m.cron = c
	m.logger.Info("Resource monitor started", "interval", m.interval)

	go func() {
		if _, err := m.Sample(); err != nil {
			m.logger.Warn("Resource sample failed", "error", err)
		}
	}()
	return nil
}

// Stop cancels the schedule, waits for a running sample and takes a final
// one.
func (m *ResourceMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c == nil {
		return ErrNotStarted
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStopTimedOut, ctx.Err())
	}
	if _, err := m.Sample(); err != nil {
		m.logger.Warn("Final resource sample failed", "error", err)
	}
	m.logger.Info("Resource monitor stopped", "samples", len(m.Samples()))
	return nil
}

// Sample gathers the registry once and records the reading.
func (m *ResourceMonitor) Sample() (Sample, error) {
	families, err := m.registry.Gather()
	s := Sample{At: time.Now()}
	for _, mf := range families {
		switch mf.GetName() {
		case "process_resident_memory_bytes":
			s.ResidentBytes = value(mf)
		case "process_virtual_memory_bytes":
			s.VirtualBytes = value(mf)
		case "process_cpu_seconds_total":
			s.CPUSeconds = value(mf)
		case "go_memstats_heap_alloc_bytes":
			s.HeapBytes = value(mf)
		case "go_goroutines":
			s.Goroutines = value(mf)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
	if err != nil {
		return s, fmt.Errorf("gather: %w", err)
	}
	m.samples = append(m.samples, s)
	if over := len(m.samples) - m.maxSamples; over > 0 {
		m.samples = append(m.samples[:0], m.samples[over:]...)
	}
	return s, nil
}

// Samples returns a copy of the recorded samples, oldest first.
func (m *ResourceMonitor) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sample(nil), m.samples...)
}

// Name implements health.HealthChecker.
func (m *ResourceMonitor) Name() string { return "resource-monitor" }

// Check implements health.HealthChecker. A failing gather is a warning: the
// monitor never affects the run.
func (m *ResourceMonitor) Check(_ context.Context) (*health.CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := &health.CheckResult{
		Status:  health.StatusHealthy,
		Details: map[string]any{"samples": len(m.samples), "running": m.cron != nil},
	}
	if m.lastErr != nil {
		result.Status = health.StatusWarning
		result.Message = m.lastErr.Error()
	}
	return result, nil
}

func value(mf *dto.MetricFamily) float64 {
	metrics := mf.GetMetric()
	if len(metrics) == 0 {
		return 0
	}
	metric := metrics[0]
	switch mf.GetType() {
	case dto.MetricType_COUNTER:
		return metric.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return metric.GetGauge().GetValue()
	case dto.MetricType_UNTYPED:
		return metric.GetUntyped().GetValue()
	default:
		return 0
	}
}
