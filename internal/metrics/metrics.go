// Package metrics provides Prometheus metric collection and exposure.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector gathers the service-level counters the API reports.
type Collector struct {
	httpStatus      *prometheus.CounterVec
	httpLatency     prometheus.Histogram
	authDenials     prometheus.Counter
	activityWrites  prometheus.Counter
	mailSent        prometheus.Counter
	mailFailed      prometheus.Counter
	snapshotsPushed *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_http_status_total",
			Help: "Responses by HTTP status code.",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskhub_http_latency_seconds",
			Help:    "Request handling latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		authDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_auth_denials_total",
			Help: "Requests rejected for missing or insufficient permissions.",
		}),
		activityWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_activity_log_writes_total",
			Help: "Activity log entries written.",
		}),
		mailSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_mail_sent_total",
			Help: "Notification emails handed to the SMTP server.",
		}),
		mailFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_mail_failed_total",
			Help: "Notification emails that failed to send.",
		}),
		snapshotsPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_realtime_snapshots_total",
			Help: "Collection snapshots pushed to live subscribers.",
		}, []string{"collection"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.httpLatency,
		c.authDenials,
		c.activityWrites,
		c.mailSent,
		c.mailFailed,
		c.snapshotsPushed,
	)

	return c
}

// RecordHTTPStatus counts a response by status code.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordHTTPLatency observes request handling time.
func (c *Collector) RecordHTTPLatency(duration time.Duration) {
	c.httpLatency.Observe(duration.Seconds())
}

// RecordAuthDenial counts a 401 or 403 decision.
func (c *Collector) RecordAuthDenial() {
	c.authDenials.Inc()
}

// RecordActivityWrite counts one activity log entry.
func (c *Collector) RecordActivityWrite() {
	c.activityWrites.Inc()
}

// RecordMailSent counts a successfully handed-off email.
func (c *Collector) RecordMailSent() {
	c.mailSent.Inc()
}

// RecordMailFailed counts a failed email send.
func (c *Collector) RecordMailFailed() {
	c.mailFailed.Inc()
}

// RecordSnapshotPushed counts a realtime snapshot push for a collection.
func (c *Collector) RecordSnapshotPushed(collection string) {
	c.snapshotsPushed.WithLabelValues(collection).Inc()
}

// Handler returns an HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
