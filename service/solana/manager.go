package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/alien88ted/presale-monitor/service/metrics"
)

// ErrAllEndpointsFailed is returned when every endpoint has been
// exhausted within the retry budget. Callers should treat it as
// transient and fall back to cached data where possible.
var ErrAllEndpointsFailed = errors.New("all rpc endpoints failed")

const (
	// unhealthyAfter is the number of consecutive failures that mark an
	// endpoint unhealthy.
	unhealthyAfter = 5

	// reprobeDelay is how long an unhealthy endpoint is benched before
	// it may be re-attempted.
	reprobeDelay = 30 * time.Second

	// rateLimitBackoff is the pause before moving to the next endpoint
	// after a 429 response.
	rateLimitBackoff = 2 * time.Second

	// latencySampleCap bounds the rolling latency sample used for
	// percentile reporting.
	latencySampleCap = 512
)

// Manager presents a single logical connection while load-balancing and
// failing over across prioritized endpoints, each independently rate
// limited.
type Manager struct {
	endpoints []*Endpoint // sorted by priority, lower first

	requestTimeout   time.Duration
	rateLimitBackoff time.Duration
	logger           *slog.Logger
	metrics          *metrics.Metrics

	mu      sync.Mutex
	samples []time.Duration // rolling latency sample, newest last
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRequestTimeout bounds every RPC round trip.
func WithRequestTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.requestTimeout = d }
}

// WithMetrics injects the Prometheus collectors.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithRateLimitBackoff overrides the pause after a 429 before the next
// endpoint is tried.
func WithRateLimitBackoff(d time.Duration) ManagerOption {
	return func(m *Manager) { m.rateLimitBackoff = d }
}

// NewManager builds a manager from endpoint configs, dialing a real RPC
// client per endpoint.
func NewManager(cfgs []EndpointConfig, logger *slog.Logger, opts ...ManagerOption) *Manager {
	endpoints := make([]*Endpoint, 0, len(cfgs))
	for _, cfg := range cfgs {
		endpoints = append(endpoints, NewEndpoint(cfg, NewRPCClient(cfg.URL)))
	}
	return NewManagerWithEndpoints(endpoints, logger, opts...)
}

// NewManagerWithEndpoints builds a manager from pre-built endpoints.
// Used by tests to inject mock clients.
func NewManagerWithEndpoints(endpoints []*Endpoint, logger *slog.Logger, opts ...ManagerOption) *Manager {
	sorted := make([]*Endpoint, len(endpoints))
	copy(sorted, endpoints)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].priority < sorted[j].priority })

	m := &Manager{
		endpoints:        sorted,
		requestTimeout:   30 * time.Second,
		rateLimitBackoff: rateLimitBackoff,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connection picks an endpoint and throttles through its rate limiter
// before returning its client: the preferred endpoint if healthy, else
// the best healthy endpoint, else any endpoint as a last resort.
func (m *Manager) Connection(ctx context.Context, preferred string) (RPCClient, error) {
	ep := m.pick(preferred)
	if ep == nil {
		return nil, fmt.Errorf("%w: no endpoints configured", ErrAllEndpointsFailed)
	}
	if err := m.throttle(ctx, ep); err != nil {
		return nil, err
	}
	return ep.client, nil
}

func (m *Manager) pick(preferred string) *Endpoint {
	var fallback *Endpoint
	for _, ep := range m.endpoints {
		if fallback == nil {
			fallback = ep
		}
		if preferred != "" && ep.name == preferred && ep.Healthy() {
			return ep
		}
	}
	for _, ep := range m.endpoints {
		if ep.Healthy() {
			return ep
		}
	}
	return fallback
}

// attemptOrder returns endpoints healthy-first in priority order;
// unhealthy endpoints trail as a last resort, skipping any still inside
// their re-probe bench window.
func (m *Manager) attemptOrder() []*Endpoint {
	now := time.Now()
	order := make([]*Endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		if ep.Healthy() {
			order = append(order, ep)
		}
	}
	for _, ep := range m.endpoints {
		if !ep.Healthy() && ep.retryable(now) {
			order = append(order, ep)
		}
	}
	if len(order) == 0 {
		// Everything is benched; try them all anyway rather than fail
		// without a single attempt.
		order = append(order, m.endpoints...)
	}
	return order
}

// ExecuteWithRetry runs op against endpoints in failover order until it
// succeeds or maxRetries attempts are exhausted. method labels the call
// in logs and metrics.
func (m *Manager) ExecuteWithRetry(ctx context.Context, method string, maxRetries int, op func(ctx context.Context, client RPCClient) error) error {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	attempts := 0

	for attempts < maxRetries {
		for _, ep := range m.attemptOrder() {
			if attempts >= maxRetries {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			attempts++

			if err := m.throttle(ctx, ep); err != nil {
				return err
			}

			callCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
			start := time.Now()
			err := op(callCtx, ep.client)
			latency := time.Since(start)
			cancel()

			status := "success"
			if err != nil {
				status = "error"
			}
			if m.metrics != nil {
				m.metrics.RecordRPCCall(method, status, ep.name, latency.Seconds())
			}

			if err == nil {
				ep.recordSuccess(latency)
				m.recordSample(latency)
				return nil
			}
			lastErr = err

			if isRateLimited(err) {
				m.logger.WarnContext(ctx, "endpoint rate limited, moving to next",
					"endpoint", ep.name,
					"method", method,
				)
				if m.metrics != nil {
					m.metrics.RecordRateLimitHit(ep.name)
					m.metrics.RecordRPCRetry(ep.name, "rate_limit")
				}
				// Fixed backoff before trying the next endpoint; never
				// retry the same one immediately.
				if err := sleepCtx(ctx, m.rateLimitBackoff); err != nil {
					return err
				}
				continue
			}

			if m.metrics != nil {
				m.metrics.RecordRPCRetry(ep.name, "error")
			}
			if tipped := ep.recordFailure(unhealthyAfter, reprobeDelay); tipped {
				m.logger.WarnContext(ctx, "endpoint marked unhealthy",
					"endpoint", ep.name,
					"consecutive_failures", unhealthyAfter,
					"reprobe_in", reprobeDelay,
				)
				if m.metrics != nil {
					m.metrics.SetEndpointHealthy(ep.name, false)
				}
			}
			m.logger.DebugContext(ctx, "rpc call failed, failing over",
				"endpoint", ep.name,
				"method", method,
				"attempt", attempts,
				"error", err,
			)
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %v", ErrAllEndpointsFailed, method, attempts, lastErr)
}

// CheckEndpointHealth issues a cheap liveness probe (latest slot) against
// the named endpoint, bypassing its rate limiter. On success the endpoint
// is marked healthy and its failure count reset.
func (m *Manager) CheckEndpointHealth(ctx context.Context, name string) error {
	var ep *Endpoint
	for _, e := range m.endpoints {
		if e.name == name {
			ep = e
			break
		}
	}
	if ep == nil {
		return fmt.Errorf("unknown endpoint %q", name)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()

	start := time.Now()
	_, err := ep.client.GetSlot(callCtx, rpc.CommitmentConfirmed)
	latency := time.Since(start)

	if err != nil {
		ep.markUnhealthy(reprobeDelay)
		if m.metrics != nil {
			m.metrics.SetEndpointHealthy(ep.name, false)
		}
		return fmt.Errorf("health probe failed for %s: %w", name, err)
	}

	ep.markHealthy(latency)
	m.recordSample(latency)
	if m.metrics != nil {
		m.metrics.SetEndpointHealthy(ep.name, true)
	}
	return nil
}

// EndpointNames returns the configured endpoint names in priority order.
func (m *Manager) EndpointNames() []string {
	names := make([]string, len(m.endpoints))
	for i, ep := range m.endpoints {
		names[i] = ep.name
	}
	return names
}

// Snapshot returns every endpoint's status for diagnostics.
func (m *Manager) Snapshot() []Status {
	out := make([]Status, len(m.endpoints))
	for i, ep := range m.endpoints {
		out[i] = ep.Status()
	}
	return out
}

// HealthyCount returns the number of currently healthy endpoints.
func (m *Manager) HealthyCount() int {
	n := 0
	for _, ep := range m.endpoints {
		if ep.Healthy() {
			n++
		}
	}
	return n
}

// LatencySamples returns a copy of the rolling latency sample for
// percentile reporting.
func (m *Manager) LatencySamples() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.samples))
	copy(out, m.samples)
	return out
}

func (m *Manager) recordSample(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, d)
	if len(m.samples) > latencySampleCap {
		m.samples = m.samples[len(m.samples)-latencySampleCap:]
	}
}

func (m *Manager) throttle(ctx context.Context, ep *Endpoint) error {
	start := time.Now()
	if err := ep.limiter.Wait(ctx); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordLimiterWait(ep.name, time.Since(start).Seconds())
	}
	return nil
}

// isRateLimited detects 429-style responses regardless of which RPC
// provider produced them.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "too many requests")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
