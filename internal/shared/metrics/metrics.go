package metrics

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsnap_http_requests_total",
			Help: "Total HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medsnap_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	documentOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsnap_document_operations_total",
			Help: "Document catalog operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)
	quotaRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medsnap_quota_rejections_total",
		Help: "Uploads rejected by the free-tier quota",
	})
	compensationGaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsnap_compensation_gaps_total",
			Help: "Best-effort cleanup steps that failed",
		},
		[]string{"step"},
	)
	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsnap_webhook_events_total",
			Help: "Payment webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)
	reconcileDrift = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsnap_reconcile_corrections_total",
			Help: "Corrections applied by the reconciliation pass",
		},
		[]string{"kind"},
	)
	panics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsnap_http_panics_total",
			Help: "Handler panics recovered by route",
		},
		[]string{"route"},
	)
	cleanupJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsnap_cleanup_jobs_total",
			Help: "Blob cleanup queue jobs by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		requestsTotal,
		requestDuration,
		documentOps,
		quotaRejections,
		compensationGaps,
		webhookEvents,
		reconcileDrift,
		cleanupJobs,
		panics,
	)
}

// ObserveRequest records a completed HTTP request.
func ObserveRequest(method, route string, status int, seconds float64) {
	if route == "" {
		route = "unmatched"
	}
	requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(method, route).Observe(seconds)
}

// IncDocumentOp counts a catalog operation ("create", "update", "delete", "reassign").
func IncDocumentOp(op, outcome string) {
	documentOps.WithLabelValues(op, outcome).Inc()
}

func IncQuotaRejected() {
	quotaRejections.Inc()
}

// IncCompensationGap counts a failed best-effort step ("blob_delete", "counter_update").
func IncCompensationGap(step string) {
	compensationGaps.WithLabelValues(step).Inc()
}

func IncWebhookEvent(eventType, outcome string) {
	webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func IncReconcileCorrection(kind string) {
	reconcileDrift.WithLabelValues(kind).Inc()
}

func IncCleanupJob(outcome string) {
	cleanupJobs.WithLabelValues(outcome).Inc()
}

func IncPanic(route string) {
	if route == "" {
		route = "unmatched"
	}
	panics.WithLabelValues(route).Inc()
}

// Registry exposes the registry for tests.
func Registry() *prometheus.Registry {
	return registry
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
