package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the monitor. Following the
// explicit dependency injection pattern, this struct is passed to every
// component that records metrics; all components tolerate a nil *Metrics.
type Metrics struct {
	// RPC layer
	rpcCallsTotal    *prometheus.CounterVec
	rpcCallDuration  *prometheus.HistogramVec
	rpcRateLimitHits *prometheus.CounterVec
	rpcRetries       *prometheus.CounterVec
	endpointHealthy  *prometheus.GaugeVec
	limiterWaits     *prometheus.HistogramVec

	// Cache tiers
	cacheRequestsTotal  *prometheus.CounterVec
	cacheEvictionsTotal *prometheus.CounterVec

	// Aggregation pipeline
	transactionsClassified *prometheus.CounterVec
	metricsRefreshDuration *prometheus.HistogramVec
	metricsServedTotal     *prometheus.CounterVec

	// Persistent store
	storeOperationsTotal *prometheus.CounterVec
	storeOpDuration      *prometheus.HistogramVec

	// HTTP
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS
	natsMessagesPublished *prometheus.CounterVec
}

// New creates a Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method, status and endpoint",
			},
			[]string{"method", "status", "endpoint"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presale_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		rpcRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_rpc_rate_limit_hits_total",
				Help: "Total number of RPC rate limit responses (429)",
			},
			[]string{"endpoint"},
		),
		rpcRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_rpc_retries_total",
				Help: "Total number of RPC retry attempts by reason",
			},
			[]string{"endpoint", "reason"},
		),
		endpointHealthy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "presale_rpc_endpoint_healthy",
				Help: "Whether an RPC endpoint is currently considered healthy (1/0)",
			},
			[]string{"endpoint"},
		),
		limiterWaits: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presale_rate_limiter_wait_seconds",
				Help:    "Time spent waiting on the per-endpoint rate limiter",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"endpoint"},
		),

		cacheRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_cache_requests_total",
				Help: "Cache lookups by tier, category and result",
			},
			[]string{"tier", "category", "result"},
		),
		cacheEvictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_cache_evictions_total",
				Help: "LRU evictions by tier and category",
			},
			[]string{"tier", "category"},
		),

		transactionsClassified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_transactions_classified_total",
				Help: "Transactions classified by event kind",
			},
			[]string{"wallet", "kind"},
		),
		metricsRefreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presale_metrics_refresh_duration_seconds",
				Help:    "Duration of full metrics recomputation cycles",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"wallet", "status"},
		),
		metricsServedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_metrics_served_total",
				Help: "Metrics responses by cache provenance",
			},
			[]string{"wallet", "source"},
		),

		storeOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_store_operations_total",
				Help: "Persistent store operations by collection and status",
			},
			[]string{"operation", "collection", "status"},
		),
		storeOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presale_store_operation_duration_seconds",
				Help:    "Duration of persistent store operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "collection"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presale_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
	}
}

// RPC layer helpers

// RecordRPCCall records one RPC round trip with its duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.rpcCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.rpcCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a 429 response from an endpoint.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.rpcRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt against an endpoint.
func (m *Metrics) RecordRPCRetry(endpoint, reason string) {
	m.rpcRetries.WithLabelValues(endpoint, reason).Inc()
}

// SetEndpointHealthy reflects an endpoint's health flag.
func (m *Metrics) SetEndpointHealthy(endpoint string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.endpointHealthy.WithLabelValues(endpoint).Set(v)
}

// RecordLimiterWait records time spent blocked on a rate limiter.
func (m *Metrics) RecordLimiterWait(endpoint string, seconds float64) {
	m.limiterWaits.WithLabelValues(endpoint).Observe(seconds)
}

// Cache helpers

// RecordCacheRequest records a lookup result ("hit" or "miss").
func (m *Metrics) RecordCacheRequest(tier, category, result string) {
	m.cacheRequestsTotal.WithLabelValues(tier, category, result).Inc()
}

// RecordCacheEviction records an LRU eviction.
func (m *Metrics) RecordCacheEviction(tier, category string) {
	m.cacheEvictionsTotal.WithLabelValues(tier, category).Inc()
}

// Aggregation helpers

// RecordTransactionClassified records a classifier outcome.
func (m *Metrics) RecordTransactionClassified(wallet, kind string) {
	m.transactionsClassified.WithLabelValues(wallet, kind).Inc()
}

// RecordMetricsRefresh records one metrics recomputation cycle.
func (m *Metrics) RecordMetricsRefresh(wallet, status string, duration float64) {
	m.metricsRefreshDuration.WithLabelValues(wallet, status).Observe(duration)
}

// RecordMetricsServed records where a served snapshot came from
// ("memory", "store", "computed", "stale").
func (m *Metrics) RecordMetricsServed(wallet, source string) {
	m.metricsServedTotal.WithLabelValues(wallet, source).Inc()
}

// Store helpers

// RecordStoreOperation records a persistent store operation.
func (m *Metrics) RecordStoreOperation(operation, collection string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.storeOperationsTotal.WithLabelValues(operation, collection, status).Inc()
	m.storeOpDuration.WithLabelValues(operation, collection).Observe(duration)
}

// HTTP helpers

// RecordHTTPRequest records an HTTP request with its duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS helpers

// RecordNATSPublish records a publish attempt.
func (m *Metrics) RecordNATSPublish(subject, status string) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
}

func statusCodeToString(code int) string {
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
