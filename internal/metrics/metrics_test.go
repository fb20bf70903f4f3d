package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveIteration("ORDERS", OutcomeApplied, 10, 15)
	m.ObserveApplied("ORDERS", 3, 2)
	m.ObserveIteration("ORDERS", OutcomeError, 0, 0)

	assert.Equal(t, float64(10), testutil.ToFloat64(m.Watermark.WithLabelValues("ORDERS")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.Lag.WithLabelValues("ORDERS")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.RowsApplied.WithLabelValues("ORDERS", "insert")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RowsApplied.WithLabelValues("ORDERS", "update")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Iterations.WithLabelValues("ORDERS", OutcomeError)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveIteration("ORDERS", OutcomeIdle, 1, 1)
	m.ObserveApplied("ORDERS", 1, 1)
}
