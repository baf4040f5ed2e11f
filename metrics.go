package cosim

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the orchestrator's Prometheus collectors, partitioned by role.
// A nil *Metrics records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	steps         *prometheus.CounterVec
	remaining     *prometheus.GaugeVec
	simulatedTime *prometheus.GaugeVec
	cycleLatency  *prometheus.HistogramVec
	faults        *prometheus.CounterVec
	role          string
}

// NewMetrics registers the orchestrator collectors with reg. Both parties of
// an in-process run may share one registry: collectors that are already
// registered are reused.
func NewMetrics(reg prometheus.Registerer, role Role) *Metrics {
	return &Metrics{
		role: string(role),
		cycles: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosim",
			Subsystem: "orchestrator",
			Name:      "cycles_total",
			Help:      "Total synchronization cycles completed",
		}, []string{"role"})),
		steps: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosim",
			Subsystem: "orchestrator",
			Name:      "steps_total",
			Help:      "Total integration steps actually advanced",
		}, []string{"role"})),
		remaining: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cosim",
			Subsystem: "orchestrator",
			Name:      "remaining_steps",
			Help:      "Steps left before the requested length is reached",
		}, []string{"role"})),
		simulatedTime: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cosim",
			Subsystem: "orchestrator",
			Name:      "simulated_time",
			Help:      "Simulated time reached, in model time units",
		}, []string{"role"})),
		cycleLatency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cosim",
			Subsystem: "orchestrator",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of one cycle, exchange included",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"role"})),
		faults: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosim",
			Subsystem: "orchestrator",
			Name:      "faults_total",
			Help:      "Faults raised by the orchestrator, by class",
		}, []string{"role", "fault"})),
	}
}

func (m *Metrics) observeCycle(steps int, remaining int64, simulated float64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(m.role).Inc()
	m.steps.WithLabelValues(m.role).Add(float64(steps))
	m.remaining.WithLabelValues(m.role).Set(float64(remaining))
	m.simulatedTime.WithLabelValues(m.role).Set(simulated)
	m.cycleLatency.WithLabelValues(m.role).Observe(elapsed.Seconds())
}

func (m *Metrics) observeFault(err error) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(m.role, string(FaultOf(err))).Inc()
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
