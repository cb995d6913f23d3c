// Package metrics exports the outcome of a verification run for the
// node_exporter textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "airfi_gate"

// States reported by the last_decision gauge.
var states = []string{"granted", "denied", "failed"}

// Recorder holds the gauges for one run.
type Recorder struct {
	registry      *prometheus.Registry
	lastRun       prometheus.Gauge
	lastDecision  *prometheus.GaugeVec
	oracleLatency prometheus.Gauge
	lastError     *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last access verification.",
		}),
		lastDecision: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_decision",
			Help:      "1 for the state of the last access verification, 0 otherwise.",
		}, []string{"state"}),
		oracleLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "oracle_call_duration_seconds",
			Help:      "Duration of the last checkAccess call.",
		}),
		lastError: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_error",
			Help:      "1 for the error kind of the last failed verification.",
		}, []string{"kind"}),
	}
	r.registry.MustRegister(r.lastRun, r.lastDecision, r.oracleLatency, r.lastError)
	return r
}

// Observe records the outcome of one verification. errorKind is empty on success.
func (r *Recorder) Observe(at time.Time, state string, oracleLatency time.Duration, errorKind string) {
	r.lastRun.Set(float64(at.UnixNano()) / 1e9)
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		r.lastDecision.WithLabelValues(s).Set(v)
	}
	r.oracleLatency.Set(oracleLatency.Seconds())
	if errorKind != "" {
		r.lastError.WithLabelValues(errorKind).Set(1)
	}
}

// Registry returns the registry holding the gauges.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile atomically writes the metrics in text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
