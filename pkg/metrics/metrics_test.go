package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesOwnRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.LeadsProcessedTotal.WithLabelValues("bayut", "success").Inc()

	rec := httptest.NewRecorder()
	m.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `relay_leads_processed_total{outcome="success",portal="bayut"} 1`)
	assert.NotContains(t, body, "go_goroutines", "default registry collectors leaked in")
}

func TestIndexPage(t *testing.T) {
	m := New(prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	m.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/metrics"`)

	rec = httptest.NewRecorder()
	m.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
