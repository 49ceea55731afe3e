package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDeliveryCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncNotificationStatus("SENT")
	metrics.IncDeliveryOutcome("RECEIPT_OK")
	metrics.IncGatewayBatch("send", "ok")
	metrics.ObserveGatewayBatchDuration("send", 120*time.Millisecond)
	metrics.IncReceiptCheck("error")
	metrics.IncTokenDeactivated()
	metrics.IncWorkerInFlight("SEND")
	metrics.DecWorkerInFlight("SEND")

	if got := testutil.ToFloat64(metrics.notificationsTotal.WithLabelValues("sent")); got != 1 {
		t.Fatalf("notifications_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.deliveriesTotal.WithLabelValues("receipt_ok")); got != 1 {
		t.Fatalf("deliveries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.gatewayBatchesTotal.WithLabelValues("send", "ok")); got != 1 {
		t.Fatalf("gateway_batches_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.receiptChecksTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("receipt_checks_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.tokensDeactivatedTotal); got != 1 {
		t.Fatalf("tokens_deactivated_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight.WithLabelValues("send")); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics

	metrics.IncNotificationStatus("SENT")
	metrics.IncDeliveryOutcome("RECEIPT_OK")
	metrics.IncGatewayBatch("send", "ok")
	metrics.ObserveGatewayBatchDuration("send", time.Second)
	metrics.IncReceiptCheck("ok")
	metrics.IncTokenDeactivated()
	metrics.IncWorkerInFlight("SEND")
	metrics.DecWorkerInFlight("SEND")

	if metrics.Handler() == nil {
		t.Fatal("expected fallback handler for nil metrics")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareSkipsMetricsPath(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/metrics", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/metrics", "200")); got != 0 {
		t.Fatalf("http_requests_total for /metrics = %v, want 0", got)
	}
}
