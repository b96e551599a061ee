package metricsvc

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/masomo-eligibility/core"
)

type Metrics struct {
	reg *prometheus.Registry

	Transitions          *prometheus.CounterVec
	BulkItems            *prometheus.CounterVec
	ScanExpired          prometheus.Counter
	ScanSkipped          prometheus.Counter
	ScanFailed           prometheus.Counter
	ScanDuration         prometheus.Histogram
	AuditFailures        prometheus.Counter
	NotificationFailures prometheus.Counter
}

var _ core.Metrics = (*Metrics)(nil)

// New registers the eligibility collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "masomo_eligibility_transitions_total",
			Help: "Total number of committed eligibility status transitions",
		}, []string{"from", "to"}),
		BulkItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "masomo_bulk_items_total",
			Help: "Total number of bulk verification items by action and outcome",
		}, []string{"action", "outcome"}),
		ScanExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "masomo_expiry_scan_expired_total",
			Help: "Total number of tenants expired by the scanner",
		}),
		ScanSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "masomo_expiry_scan_skipped_total",
			Help: "Total number of due tenants the scanner skipped",
		}),
		ScanFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "masomo_expiry_scan_failed_total",
			Help: "Total number of due tenants the scanner failed to expire",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "masomo_expiry_scan_duration_seconds",
			Help:    "Duration of expiry scans",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		AuditFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "masomo_audit_append_failures_total",
			Help: "Total number of audit entries that could not be persisted",
		}),
		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "masomo_notification_failures_total",
			Help: "Total number of notifications that could not be delivered",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTransition(from, to string) {
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveBulk(action string, successful, failed, skipped int) {
	m.BulkItems.WithLabelValues(action, "successful").Add(float64(successful))
	m.BulkItems.WithLabelValues(action, "failed").Add(float64(failed))
	m.BulkItems.WithLabelValues(action, "skipped").Add(float64(skipped))
}

func (m *Metrics) ObserveScan(expired, skipped, failed int, took time.Duration) {
	m.ScanExpired.Add(float64(expired))
	m.ScanSkipped.Add(float64(skipped))
	m.ScanFailed.Add(float64(failed))
	m.ScanDuration.Observe(took.Seconds())
}

func (m *Metrics) IncAuditFailure() {
	m.AuditFailures.Inc()
}

func (m *Metrics) IncNotificationFailure() {
	m.NotificationFailures.Inc()
}
