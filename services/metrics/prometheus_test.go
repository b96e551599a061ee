package metricsvc

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveTransition("UNDER_REVIEW", "ELIGIBLE")
	m.ObserveTransition("UNDER_REVIEW", "ELIGIBLE")
	m.ObserveBulk("APPROVE", 3, 1, 2)
	m.ObserveScan(4, 1, 0, 250*time.Millisecond)
	m.IncAuditFailure()
	m.IncNotificationFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("UNDER_REVIEW", "ELIGIBLE")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BulkItems.WithLabelValues("APPROVE", "successful")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BulkItems.WithLabelValues("APPROVE", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BulkItems.WithLabelValues("APPROVE", "skipped")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ScanExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScanSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveTransition("PENDING", "EXPIRED")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `masomo_eligibility_transitions_total{from="PENDING",to="EXPIRED"} 1`)
}

func TestMetrics_IsolatedRegistries(t *testing.T) {
	// two instances must not collide on registration
	a, b := New(), New()
	a.IncAuditFailure()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.AuditFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.AuditFailures))
}
