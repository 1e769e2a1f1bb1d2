package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Wallet API Metrics
	walletCallsTotal   *prometheus.CounterVec
	walletCallDuration *prometheus.HistogramVec

	// State Machine Metrics
	transitionsTotal  *prometheus.CounterVec
	createdAmount     *prometheus.HistogramVec

	// Sweeper Metrics
	sweepPassDuration *prometheus.HistogramVec
	sweepItemsTotal   *prometheus.CounterVec

	// Merchant Callback Metrics
	reportsTotal *prometheus.CounterVec

	// Workflow Metrics
	sweepWorkflowDuration        *prometheus.HistogramVec
	sweepWorkflowExecutionsTotal *prometheus.CounterVec
	sweepActivityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Wallet API Metrics
		walletCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knockturn_wallet_calls_total",
				Help: "Total number of wallet API calls by method and status",
			},
			[]string{"method", "status"},
		),
		walletCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knockturn_wallet_call_duration_seconds",
				Help:    "Duration of wallet API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"method"},
		),

		// State Machine Metrics
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knockturn_transitions_total",
				Help: "Total number of transaction status transitions by type, edge and result",
			},
			[]string{"type", "from", "to", "result"},
		),
		createdAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knockturn_created_amount_grin",
				Help:    "Amounts of created transactions in GRIN",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"type"},
		),

		// Sweeper Metrics
		sweepPassDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knockturn_sweep_pass_duration_seconds",
				Help:    "Duration of sweep passes in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"pass"},
		),
		sweepItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knockturn_sweep_items_total",
				Help: "Total number of transactions handled by sweep passes",
			},
			[]string{"pass", "result"},
		),

		// Merchant Callback Metrics
		reportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knockturn_merchant_reports_total",
				Help: "Total number of merchant callback attempts by status",
			},
			[]string{"status"},
		),

		// Workflow Metrics
		sweepWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knockturn_sweep_workflow_duration_seconds",
				Help:    "Duration of sweep workflow executions in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"status"},
		),
		sweepWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knockturn_sweep_workflow_executions_total",
				Help: "Total number of sweep workflow executions",
			},
			[]string{"status"},
		),
		sweepActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knockturn_sweep_activity_duration_seconds",
				Help:    "Duration of sweep activity executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"activity"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knockturn_db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knockturn_db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knockturn_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knockturn_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knockturn_nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knockturn_nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Wallet API metric helpers

// RecordWalletCall records a wallet API call with duration.
func (m *Metrics) RecordWalletCall(method string, err error, duration float64) {
	if m == nil {
		return
	}
	m.walletCallsTotal.WithLabelValues(method, errorStatus(err)).Inc()
	m.walletCallDuration.WithLabelValues(method).Observe(duration)
}

// State machine metric helpers

// RecordTransition records an attempted status transition.
// result is "success", "lost_race" or "error".
func (m *Metrics) RecordTransition(txType, from, to, result string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(txType, from, to, result).Inc()
}

// RecordCreated records the amount of a newly created transaction in nanogrin.
func (m *Metrics) RecordCreated(txType string, nanogrin int64) {
	if m == nil {
		return
	}
	m.createdAmount.WithLabelValues(txType).Observe(float64(nanogrin) / 1e9)
}

// Sweeper metric helpers

// RecordSweepPass records the duration of one sweep pass.
func (m *Metrics) RecordSweepPass(pass string, duration float64) {
	if m == nil {
		return
	}
	m.sweepPassDuration.WithLabelValues(pass).Observe(duration)
}

// RecordSweepItem records the outcome for one transaction in a sweep pass.
func (m *Metrics) RecordSweepItem(pass, result string) {
	if m == nil {
		return
	}
	m.sweepItemsTotal.WithLabelValues(pass, result).Inc()
}

// RecordReport records a merchant callback attempt.
func (m *Metrics) RecordReport(err error) {
	if m == nil {
		return
	}
	m.reportsTotal.WithLabelValues(errorStatus(err)).Inc()
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	if m == nil {
		return
	}
	m.sweepWorkflowDuration.WithLabelValues(status).Observe(duration)
	m.sweepWorkflowExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	if m == nil {
		return
	}
	m.sweepActivityDuration.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, errorStatus(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func errorStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
