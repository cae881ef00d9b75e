package solana

import (
	"sync"
	"time"

	"github.com/alien88ted/presale-monitor/service/ratelimit"
)

// EndpointConfig describes one RPC endpoint in configuration.
type EndpointConfig struct {
	Name              string
	URL               string
	Priority          int // lower is preferred
	RequestsPerSecond float64
}

// Endpoint wraps one RPC service instance with its own rate limiter and
// health bookkeeping. Endpoints are never deleted, only marked
// unhealthy/healthy.
type Endpoint struct {
	name     string
	url      string
	priority int
	limiter  ratelimit.Limiter
	client   RPCClient

	mu                  sync.Mutex
	healthy             bool
	consecutiveFailures int
	failureCount        uint64
	successCount        uint64
	totalLatency        time.Duration
	retryAt             time.Time // do not re-attempt an unhealthy endpoint before this
}

// NewEndpoint wraps a client with health tracking and a token-bucket
// limiter sized to the configured rate.
func NewEndpoint(cfg EndpointConfig, client RPCClient) *Endpoint {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	return &Endpoint{
		name:     cfg.Name,
		url:      cfg.URL,
		priority: cfg.Priority,
		limiter:  ratelimit.NewTokenBucket(cfg.RequestsPerSecond),
		client:   client,
		healthy:  true,
	}
}

// Name returns the endpoint identifier used in logs and metrics.
func (e *Endpoint) Name() string { return e.name }

// Client returns the endpoint's RPC client.
func (e *Endpoint) Client() RPCClient { return e.client }

// Limiter returns the endpoint's rate limiter.
func (e *Endpoint) Limiter() ratelimit.Limiter { return e.limiter }

// Healthy reports whether the endpoint is currently usable.
func (e *Endpoint) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy
}

func (e *Endpoint) recordSuccess(latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.successCount++
	e.consecutiveFailures = 0
	e.totalLatency += latency
	e.healthy = true
}

// recordFailure returns true when the failure tipped the endpoint into
// the unhealthy state.
func (e *Endpoint) recordFailure(unhealthyAfter int, reprobeDelay time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failureCount++
	e.consecutiveFailures++
	if e.healthy && e.consecutiveFailures >= unhealthyAfter {
		e.healthy = false
		e.retryAt = time.Now().Add(reprobeDelay)
		return true
	}
	return false
}

func (e *Endpoint) markHealthy(latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = true
	e.consecutiveFailures = 0
	e.successCount++
	e.totalLatency += latency
	e.retryAt = time.Time{}
}

func (e *Endpoint) markUnhealthy(reprobeDelay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = false
	e.retryAt = time.Now().Add(reprobeDelay)
}

// retryable reports whether an unhealthy endpoint may be re-attempted as
// a last resort.
func (e *Endpoint) retryable(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !now.Before(e.retryAt)
}

// Status is a point-in-time view of an endpoint for diagnostics.
type Status struct {
	Name                string          `json:"name"`
	URL                 string          `json:"url"`
	Priority            int             `json:"priority"`
	Healthy             bool            `json:"healthy"`
	FailureCount        uint64          `json:"failure_count"`
	SuccessCount        uint64          `json:"success_count"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	AverageLatency      time.Duration   `json:"average_latency"`
	Limiter             ratelimit.Stats `json:"rate_limiter"`
}

// Status returns the endpoint's current state.
func (e *Endpoint) Status() Status {
	e.mu.Lock()
	s := Status{
		Name:                e.name,
		URL:                 e.url,
		Priority:            e.priority,
		Healthy:             e.healthy,
		FailureCount:        e.failureCount,
		SuccessCount:        e.successCount,
		ConsecutiveFailures: e.consecutiveFailures,
	}
	if e.successCount > 0 {
		s.AverageLatency = e.totalLatency / time.Duration(e.successCount)
	}
	e.mu.Unlock()
	s.Limiter = e.limiter.Stats()
	return s
}
