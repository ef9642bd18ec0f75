package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ArthaIntegrity/internal/audit"
	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
	"github.com/jmerrifield20/ArthaIntegrity/internal/ledger"
	"github.com/jmerrifield20/ArthaIntegrity/internal/verify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	integrityRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	integrityRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "integrity_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	integrityCommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_commits_total",
		Help: "Commit attempts by entry kind, record type, and outcome.",
	}, []string{"kind", "record_type", "outcome"})

	integrityVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_verifications_total",
		Help: "Verifications by source and verdict.",
	}, []string{"source", "verdict"})

	integrityLedgerAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_ledger_attempts_total",
		Help: "Ledger call attempts by operation and outcome.",
	}, []string{"op", "outcome"})

	integrityAuditEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_audit_entries_total",
		Help: "Audit journal entries appended by action.",
	}, []string{"action"})

	integrityAlertDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_alert_deliveries_total",
		Help: "Alert delivery attempts by channel and outcome.",
	}, []string{"channel", "outcome"})

	integrityRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter, by read or write class.",
	}, []string{"class"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		integrityRequestsTotal.WithLabelValues(method, path, status).Inc()
		integrityRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Observer feeds integrity.Service outcomes into Prometheus.
type Observer struct{}

// CommitObserved implements integrity.Observer.
func (Observer) CommitObserved(kind ledger.EntryKind, rt digest.RecordType, outcome string) {
	integrityCommitsTotal.WithLabelValues(string(kind), string(rt), outcome).Inc()
}

// VerifyObserved implements integrity.Observer.
func (Observer) VerifyObserved(verdict verify.Verdict) {
	integrityVerificationsTotal.WithLabelValues("api", string(verdict)).Inc()
}

// AuditObserved implements integrity.Observer.
func (Observer) AuditObserved(action audit.Action) {
	integrityAuditEntriesTotal.WithLabelValues(string(action)).Inc()
}

// RecordSweepVerdict records a verdict reached by the periodic sweep.
func RecordSweepVerdict(verdict verify.Verdict) {
	integrityVerificationsTotal.WithLabelValues("sweep", string(verdict)).Inc()
}

// RecordLedgerAttempt records one ledger call attempt. It matches
// ledger.AttemptObserver.
func RecordLedgerAttempt(op string, _ int, err error) {
	integrityLedgerAttemptsTotal.WithLabelValues(op, ledgerOutcome(err)).Inc()
}

// RecordAlertDelivery records one alert delivery. It matches
// alert.MetricsRecorder.
func RecordAlertDelivery(channel string, success bool) {
	outcome := "failed"
	if success {
		outcome = "delivered"
	}
	integrityAlertDeliveriesTotal.WithLabelValues(channel, outcome).Inc()
}

func ledgerOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrRejected):
		return "rejected"
	case errors.Is(err, ledger.ErrTransient):
		return "transient"
	}
	return "error"
}
