package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExporterRecordsAndServesMetrics(t *testing.T) {
	e := New(Config{})

	e.RecordIngested("REQUEST")
	e.RecordFAQHit()
	e.RecordAlertCreated("breach", 2)
	e.RecordDelivery(true)
	e.RecordDelivery(false)
	e.RecordReconcileSweep(10, 2, 1, 7, 0)
	e.RecordClassifyCache(true)
	e.RecordClassifyCache(false)
	e.SetBreakerState("open")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	e.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "buhbot_sla_messages_ingested_total")
	require.Contains(t, body, "buhbot_sla_classify_circuit_breaker_state")
}
