package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerServesRegisteredNames(t *testing.T) {
	m := New()
	m.TurnsTotal.WithLabelValues("llm").Inc()
	m.InterruptsTotal.Inc()
	m.ActiveCalls.Set(3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "callwave_turns_total")
	assert.Contains(t, body, "callwave_interrupts_total")
	assert.Contains(t, body, "callwave_active_calls 3")
}
