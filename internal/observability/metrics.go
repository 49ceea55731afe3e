package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	notificationsTotal      *prometheus.CounterVec
	deliveriesTotal         *prometheus.CounterVec
	gatewayBatchesTotal     *prometheus.CounterVec
	gatewayBatchDuration    *prometheus.HistogramVec
	receiptChecksTotal      *prometheus.CounterVec
	tokensDeactivatedTotal  prometheus.Counter
	workerInflight          *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pushfanout",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pushfanout",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pushfanout",
				Name:      "notifications_total",
				Help:      "Total number of notifications reaching a post-send status.",
			},
			[]string{"status"},
		),
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pushfanout",
				Name:      "deliveries_total",
				Help:      "Total number of per-recipient delivery outcomes recorded.",
			},
			[]string{"status"},
		),
		gatewayBatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pushfanout",
				Name:      "gateway_batches_total",
				Help:      "Total number of gateway batch calls by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		gatewayBatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pushfanout",
				Name:      "gateway_batch_duration_seconds",
				Help:      "Gateway batch call duration in seconds by operation.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"operation"},
		),
		receiptChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pushfanout",
				Name:      "receipt_checks_total",
				Help:      "Total number of receipts resolved by outcome.",
			},
			[]string{"outcome"},
		),
		tokensDeactivatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pushfanout",
				Name:      "tokens_deactivated_total",
				Help:      "Total number of tokens deactivated after a permanently invalid receipt.",
			},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pushfanout",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight worker tasks grouped by kind.",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsTotal,
		m.deliveriesTotal,
		m.gatewayBatchesTotal,
		m.gatewayBatchDuration,
		m.receiptChecksTotal,
		m.tokensDeactivatedTotal,
		m.workerInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncNotificationStatus(status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncDeliveryOutcome(status string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncGatewayBatch(operation string, outcome string) {
	if m == nil {
		return
	}
	m.gatewayBatchesTotal.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveGatewayBatchDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.gatewayBatchDuration.WithLabelValues(normalizeLabel(operation)).Observe(seconds)
}

func (m *Metrics) IncReceiptCheck(outcome string) {
	if m == nil {
		return
	}
	m.receiptChecksTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncTokenDeactivated() {
	if m == nil {
		return
	}
	m.tokensDeactivatedTotal.Inc()
}

func (m *Metrics) IncWorkerInFlight(kind string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) DecWorkerInFlight(kind string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(kind)).Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
