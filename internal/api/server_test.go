package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katasec/dstream-sync/internal/cdc/replica"
	"github.com/katasec/dstream-sync/internal/metrics"
)

type staticStatus []replica.Status

func (s staticStatus) Workers() []replica.Status { return s }

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestWorkersEndpoint(t *testing.T) {
	workers := staticStatus{
		{Schema: "app", Table: "ITEMS", State: replica.StateIdle, Watermark: 42, JournalMax: 42},
		{Schema: "app", Table: "ORDERS", State: replica.StateRetrying, LastError: "connection"},
	}
	s := NewServer(":0", metrics.New(), workers, hclog.NewNullLogger())

	rec := serve(t, s.Handler(), "/v1/workers")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Workers []replica.Status `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Workers, 2)
	assert.Equal(t, int64(42), body.Workers[0].Watermark)
	assert.Equal(t, replica.StateRetrying, body.Workers[1].State)

	rec = serve(t, s.Handler(), "/v1/workers/ORDERS")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"retrying"`)

	rec = serve(t, s.Handler(), "/v1/workers/NOPE")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.ObserveIteration("ITEMS", metrics.OutcomeApplied, 7, 9)
	s := NewServer(":0", m, staticStatus{}, hclog.NewNullLogger())

	rec := serve(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `dstream_sync_watermark{table="ITEMS"} 7`), body)
	assert.Contains(t, body, `dstream_sync_lag{table="ITEMS"} 2`)

	assert.Equal(t, http.StatusOK, serve(t, s.Handler(), "/healthz").Code)
}
