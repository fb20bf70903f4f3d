// Package metrics holds the Prometheus collectors of the sync workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Iteration outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeIdle    = "idle"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	RowsApplied *prometheus.CounterVec
	Watermark   *prometheus.GaugeVec
	Lag         *prometheus.GaugeVec
	Iterations  *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RowsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dstream_sync_rows_applied_total",
				Help: "Rows written to the target, by operation.",
			},
			[]string{"table", "op"},
		),
		Watermark: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dstream_sync_watermark",
				Help: "Last journal id committed to the target.",
			},
			[]string{"table"},
		),
		Lag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dstream_sync_lag",
				Help: "Journal ids not yet applied to the target.",
			},
			[]string{"table"},
		),
		Iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dstream_sync_iterations_total",
				Help: "Worker iterations, by outcome.",
			},
			[]string{"table", "outcome"},
		),
	}
	m.Registry.MustRegister(m.RowsApplied, m.Watermark, m.Lag, m.Iterations)
	return m
}

// ObserveIteration records one worker iteration.
func (m *Metrics) ObserveIteration(table, outcome string, watermark, journalMax int64) {
	if m == nil {
		return
	}
	m.Iterations.With(prometheus.Labels{"table": table, "outcome": outcome}).Inc()
	if outcome == OutcomeError {
		return
	}
	m.Watermark.With(prometheus.Labels{"table": table}).Set(float64(watermark))
	lag := journalMax - watermark
	if lag < 0 {
		lag = 0
	}
	m.Lag.With(prometheus.Labels{"table": table}).Set(float64(lag))
}

// ObserveApplied records rows written by a committed batch.
func (m *Metrics) ObserveApplied(table string, inserted, updated int) {
	if m == nil {
		return
	}
	m.RowsApplied.With(prometheus.Labels{"table": table, "op": "insert"}).Add(float64(inserted))
	m.RowsApplied.With(prometheus.Labels{"table": table, "op": "update"}).Add(float64(updated))
}
