package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels stamped on every metric series.
type Config struct {
	ServiceName string
	Environment string
}

func (c Config) constLabels() prometheus.Labels {
	serviceName := strings.TrimSpace(c.ServiceName)
	if serviceName == "" {
		serviceName = "recur"
	}
	environment := strings.TrimSpace(c.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

// EngineMetrics exposes billing engine health signals.
type EngineMetrics struct {
	invoicesIssued       *prometheus.CounterVec
	invoiceAmount        *prometheus.CounterVec
	paymentEvents        *prometheus.CounterVec
	usageEvents          *prometheus.CounterVec
	creditsApplied       prometheus.Counter
	creditAmountApplied  prometheus.Counter
	dunningNotifications *prometheus.CounterVec
	webhookDeliveries    *prometheus.CounterVec
	webhookBacklog       prometheus.Gauge
	subscriptionEvents   *prometheus.CounterVec
	ledgerEntries        *prometheus.CounterVec
	gatewayLatency       *prometheus.HistogramVec
}

var (
	engineMetricsOnce sync.Once
	engineMetrics     *EngineMetrics
)

// Engine returns the singleton engine metrics registry.
func Engine() *EngineMetrics {
	return EngineWithConfig(Config{})
}

// EngineWithConfig returns the singleton engine metrics registry using config labels.
func EngineWithConfig(cfg Config) *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetrics = newEngineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return engineMetrics
}

// ResetEngineMetricsForTest resets the engine metrics singleton for tests.
func ResetEngineMetricsForTest() {
	engineMetricsOnce = sync.Once{}
	engineMetrics = nil
}

func newEngineMetrics(registerer prometheus.Registerer, cfg Config) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := cfg.constLabels()

	invoicesIssued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "recur_invoices_issued_total",
		Help:        "Invoices issued by kind.",
		ConstLabels: constLabels,
	}, []string{"kind"})
	invoiceAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "recur_invoice_amount_minor_total",
		Help:        "Invoiced amount in minor units by currency.",
		ConstLabels: constLabels,
	}, []string{"currency"})
	paymentEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "recur_payment_events_total",
		Help:        "Payment lifecycle events by type.",
		ConstLabels: constLabels,
	}, []string{"event"})
	usageEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "recur_usage_events_total",
		Help:        "Usage ingestion outcomes.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	creditsApplied := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "recur_credits_applied_total",
		Help:        "Credit notes applied to invoices.",
		ConstLabels: constLabels,
	})
	creditAmountApplied := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "recur_credit_amount_applied_minor_total",
		Help:        "Credit amount applied to invoices in minor units.",
		ConstLabels: constLabels,
	})
	dunningNotifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "recur_dunning_notifications_total",
		Help:        "Dunning notifications emitted by level.",
		ConstLabels: constLabels,
	}, []string{"level"})
	webhookDeliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "recur_webhook_deliveries_total",
		Help:        "Webhook delivery attempts by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	webhookBacklog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "recur_webhook_backlog",
		Help:        "Webhook deliveries still pending dispatch.",
		ConstLabels: constLabels,
	})
	subscriptionEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "recur_subscription_transitions_total",
		Help:        "Subscription status transitions.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	ledgerEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "recur_ledger_entries_total",
		Help:        "Ledger entries posted by source type.",
		ConstLabels: constLabels,
	}, []string{"source_type"})
	gatewayLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "recur_gateway_request_duration_seconds",
		Help:        "Payment gateway request latency by operation.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		ConstLabels: constLabels,
	}, []string{"provider", "operation"})

	registerer.MustRegister(
		invoicesIssued,
		invoiceAmount,
		paymentEvents,
		usageEvents,
		creditsApplied,
		creditAmountApplied,
		dunningNotifications,
		webhookDeliveries,
		webhookBacklog,
		subscriptionEvents,
		ledgerEntries,
		gatewayLatency,
	)

	return &EngineMetrics{
		invoicesIssued:       invoicesIssued,
		invoiceAmount:        invoiceAmount,
		paymentEvents:        paymentEvents,
		usageEvents:          usageEvents,
		creditsApplied:       creditsApplied,
		creditAmountApplied:  creditAmountApplied,
		dunningNotifications: dunningNotifications,
		webhookDeliveries:    webhookDeliveries,
		webhookBacklog:       webhookBacklog,
		subscriptionEvents:   subscriptionEvents,
		ledgerEntries:        ledgerEntries,
		gatewayLatency:       gatewayLatency,
	}
}

// RecordInvoiceIssued increments the issued counter and invoiced amount.
func (m *EngineMetrics) RecordInvoiceIssued(kind, currency string, totalMinor int64) {
	if m == nil {
		return
	}
	m.invoicesIssued.WithLabelValues(kind).Inc()
	if totalMinor > 0 {
		m.invoiceAmount.WithLabelValues(strings.ToLower(currency)).Add(float64(totalMinor))
	}
}

// RecordPaymentEvent increments the payment event counter.
func (m *EngineMetrics) RecordPaymentEvent(event string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(event).Inc()
}

// RecordUsageEvent increments the usage ingestion counter by outcome.
func (m *EngineMetrics) RecordUsageEvent(outcome string) {
	if m == nil {
		return
	}
	m.usageEvents.WithLabelValues(outcome).Inc()
}

// RecordCreditApplied increments credit application counters.
func (m *EngineMetrics) RecordCreditApplied(amountMinor int64) {
	if m == nil {
		return
	}
	m.creditsApplied.Inc()
	if amountMinor > 0 {
		m.creditAmountApplied.Add(float64(amountMinor))
	}
}

// RecordDunningNotification increments the dunning counter by level.
func (m *EngineMetrics) RecordDunningNotification(level string) {
	if m == nil {
		return
	}
	m.dunningNotifications.WithLabelValues(level).Inc()
}

// RecordWebhookDelivery increments webhook delivery attempts by result.
func (m *EngineMetrics) RecordWebhookDelivery(result string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(result).Inc()
}

// SetWebhookBacklog records the pending webhook delivery count.
func (m *EngineMetrics) SetWebhookBacklog(pending int64) {
	if m == nil {
		return
	}
	m.webhookBacklog.Set(float64(pending))
}

// RecordSubscriptionTransition increments the subscription status transition counter.
func (m *EngineMetrics) RecordSubscriptionTransition(from, to string) {
	if m == nil {
		return
	}
	m.subscriptionEvents.WithLabelValues(from, to).Inc()
}

// RecordLedgerEntry increments the ledger entry counter by source type.
func (m *EngineMetrics) RecordLedgerEntry(sourceType string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(sourceType).Inc()
}

// ObserveGatewayLatency records gateway round-trip latency.
func (m *EngineMetrics) ObserveGatewayLatency(provider, operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// HTTPMetrics instruments inbound API traffic.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewHTTPMetrics registers HTTP server metrics on the default registerer.
func NewHTTPMetrics(cfg Config) *HTTPMetrics {
	return newHTTPMetrics(prometheus.DefaultRegisterer, cfg)
}

func newHTTPMetrics(registerer prometheus.Registerer, cfg Config) *HTTPMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := cfg.constLabels()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "recur_http_requests_total",
		Help:        "HTTP requests by route, method and status code.",
		ConstLabels: constLabels,
	}, []string{"route", "method", "status_code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "recur_http_request_duration_seconds",
		Help:        "HTTP request latency by route and method.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"route", "method"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "recur_http_in_flight_requests",
		Help:        "In-flight HTTP requests.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(requests, duration, inFlight)

	return &HTTPMetrics{
		requests: requests,
		duration: duration,
		inFlight: inFlight,
	}
}

// Record captures one completed request.
func (m *HTTPMetrics) Record(route, method string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, statusCodeLabel(statusCode)).Inc()
	m.duration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// IncInFlight marks a request as started.
func (m *HTTPMetrics) IncInFlight() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// DecInFlight marks a request as finished.
func (m *HTTPMetrics) DecInFlight() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

func statusCodeLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "other"
	}
}
