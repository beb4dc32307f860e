package agent

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the agent's Prometheus collectors.
type Metrics struct {
	cycles   *prometheus.CounterVec
	duration prometheus.Histogram
	running  prometheus.Gauge
}

// NewMetrics creates the agent collectors and registers them with reg when
// it is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyroagent_cycles_total",
			Help: "Capture and upload cycles by kind (tick, flush) and result (success, error).",
		}, []string{"kind", "result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pyroagent_upload_duration_seconds",
			Help:    "Time spent capturing, encoding and uploading one report.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pyroagent_running",
			Help: "Whether the agent upload loop is running.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range m.Collectors() {
		err := reg.Register(c)
		if err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	return m, nil
}

// Collectors returns every collector in m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.cycles, m.duration, m.running}
}

// Cycles returns the counter of cycles with the given kind and result
// ("success" or "error").
func (m *Metrics) Cycles(kind EventKind, result string) prometheus.Counter {
	return m.cycles.WithLabelValues(kind.String(), result)
}

func (m *Metrics) observe(ev Event) {
	result := "success"
	if ev.Err != nil {
		result = "error"
	}

	m.cycles.WithLabelValues(ev.Kind.String(), result).Inc()
	m.duration.Observe(ev.Duration.Seconds())
}
