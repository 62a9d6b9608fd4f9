// Package metrics exposes Prometheus collectors for backend invocations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deixis/clibridge/internal/model"
)

// Metrics holds the collectors on a private registry, so several instances
// can coexist in one process (tests, embedded use).
type Metrics struct {
	registry    *prometheus.Registry
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// New creates and registers the invocation collectors plus the standard Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clibridge",
			Name:      "invocations_total",
			Help:      "Backend invocations by model, status and failure kind.",
		}, []string{"model", "status", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clibridge",
			Name:      "invocation_duration_seconds",
			Help:      "Wall time of backend invocations.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.invocations,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// OtherModel labels invocations of variants outside the known table. Callers
// may name any variant, so labelling them verbatim would make the series
// count unbounded.
const OtherModel = "other"

// Observe records one invocation. kind is empty unless status is a failure.
func (m *Metrics) Observe(variant, status, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(modelLabel(variant), status, kind).Inc()
	m.duration.WithLabelValues(status).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func modelLabel(variant string) string {
	if _, known := model.Lookup(variant); known {
		return variant
	}
	return OtherModel
}
