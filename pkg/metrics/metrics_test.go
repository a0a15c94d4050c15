package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposed(t *testing.T) {
	m := New("test")
	m.IntentsSubmitted.Add(3)
	m.Triggers.WithLabelValues("settled").Inc()
	m.ObserveHTTP("GET", "/api/v1/stats", 200, 10*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.IntentsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Triggers.WithLabelValues("settled")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `cowsolver_intents_submitted_total{service="test"} 3`))
	assert.Contains(t, body, "cowsolver_http_requests_total")
}

func TestNewUsesPrivateRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		New("a")
		New("a")
	})
}
