// Package telemetry carries the ambient observability surface SPEC_FULL.md
// §4.13 adds: spec.md's non-goals exclude functional scope (multi-plant
// multiplexing, local time-series storage), not instrumentation of the
// loop itself, so a small Prometheus registry is wired in regardless.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters/gauge this repository exposes.
type Metrics struct {
	LoopIterations     prometheus.Counter
	MeasurementsSent   prometheus.Counter
	AuthFailures       prometheus.Counter
	UpgradesAttempted  prometheus.Counter
	FreeHeapBytes      prometheus.Gauge
}

// New constructs Metrics and registers them against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoopIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iop_loop_iterations_total",
			Help: "Total number of event loop iterations run.",
		}),
		MeasurementsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iop_measurements_sent_total",
			Help: "Total number of sensor readings successfully reported.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iop_auth_failures_total",
			Help: "Total number of failed authenticate attempts.",
		}),
		UpgradesAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iop_upgrades_attempted_total",
			Help: "Total number of self-upgrade attempts.",
		}),
		FreeHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iop_free_heap_bytes",
			Help: "Free DRAM reported by the hardware façade at last sample.",
		}),
	}

	reg.MustRegister(m.LoopIterations, m.MeasurementsSent, m.AuthFailures, m.UpgradesAttempted, m.FreeHeapBytes)
	return m
}
