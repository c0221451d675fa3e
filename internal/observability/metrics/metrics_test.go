package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordInvoiceIssued(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newEngineMetrics(registry, Config{
		ServiceName: "recur",
		Environment: "test",
	})

	metrics.RecordInvoiceIssued("cycle", "USD", 2200)
	metrics.RecordInvoiceIssued("proration", "USD", 550)

	issued := testutil.ToFloat64(metrics.invoicesIssued.WithLabelValues("cycle"))
	if issued != 1 {
		t.Fatalf("expected 1 cycle invoice, got %v", issued)
	}
	amount := testutil.ToFloat64(metrics.invoiceAmount.WithLabelValues("usd"))
	if amount != 2750 {
		t.Fatalf("expected invoiced amount 2750, got %v", amount)
	}
}

func TestHTTPMetricsStatusCodeBuckets(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newHTTPMetrics(registry, Config{
		ServiceName: "recur",
		Environment: "test",
	})

	metrics.Record("/v1/invoices", "POST", 201, 5*time.Millisecond)
	metrics.Record("/v1/invoices", "POST", 503, 5*time.Millisecond)

	ok := testutil.ToFloat64(metrics.requests.WithLabelValues("/v1/invoices", "POST", "2xx"))
	if ok != 1 {
		t.Fatalf("expected one 2xx request, got %v", ok)
	}
	failed := testutil.ToFloat64(metrics.requests.WithLabelValues("/v1/invoices", "POST", "5xx"))
	if failed != 1 {
		t.Fatalf("expected one 5xx request, got %v", failed)
	}
}
