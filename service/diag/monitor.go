// Package diag reports on the health of the monitor itself: endpoint
// state, latency percentiles, cache effectiveness and store
// connectivity, with plain-text recommendations for an operator.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alien88ted/presale-monitor/service/cache"
	"github.com/alien88ted/presale-monitor/service/presale"
	"github.com/alien88ted/presale-monitor/service/solana"
)

// Pinger is the slice of the persistent store the diagnostics need.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SnapshotReader is the optional store slice serving the newest wallet
// snapshot for trend context in the report. *store.Store implements it.
type SnapshotReader interface {
	LatestWalletSnapshot(ctx context.Context, wallet string) (*presale.WalletSnapshot, error)
}

// Validator re-checks configuration validity at runtime.
type Validator interface {
	Validate() error
}

// RefreshReporter is the slice of the aggregator the diagnostics need.
type RefreshReporter interface {
	Wallet() string
	LastRefresh() (time.Time, error)
}

// Config tunes the warning thresholds.
type Config struct {
	ProbeInterval    time.Duration // how often endpoints are probed
	LatencyWarn      time.Duration // average latency above this draws a recommendation
	HitRateWarn      float64       // cache hit rate below this draws a recommendation
	ErrorRateWarn    float64       // RPC error rate above this draws a recommendation
	RefreshStaleWarn time.Duration // last successful refresh older than this draws a recommendation
}

func (c *Config) setDefaults() {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 30 * time.Second
	}
	if c.LatencyWarn <= 0 {
		c.LatencyWarn = 2 * time.Second
	}
	if c.HitRateWarn <= 0 {
		c.HitRateWarn = 0.5
	}
	if c.ErrorRateWarn <= 0 {
		c.ErrorRateWarn = 0.1
	}
	if c.RefreshStaleWarn <= 0 {
		c.RefreshStaleWarn = 10 * time.Minute
	}
}

// Monitor produces diagnostics reports and runs the endpoint probe loop.
type Monitor struct {
	cfg    Config
	rpc    *solana.Manager
	caches []cache.StatsProvider
	store  Pinger          // nil: persistent tier absent
	agg    RefreshReporter // nil: refresh recency not reported
	config Validator       // nil: config validity not checked
	logger *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithStore attaches the persistent tier for connectivity checks.
func WithStore(p Pinger) Option {
	return func(m *Monitor) { m.store = p }
}

// WithRefreshReporter attaches the aggregator for refresh recency.
func WithRefreshReporter(r RefreshReporter) Option {
	return func(m *Monitor) { m.agg = r }
}

// WithConfigCheck attaches the configuration for the validity check.
func WithConfigCheck(v Validator) Option {
	return func(m *Monitor) { m.config = v }
}

// New builds a diagnostics monitor.
func New(cfg Config, rpc *solana.Manager, caches []cache.StatsProvider, logger *slog.Logger, opts ...Option) *Monitor {
	cfg.setDefaults()
	m := &Monitor{
		cfg:    cfg,
		rpc:    rpc,
		caches: caches,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LatencySummary are percentiles over the recent RPC latency sample.
type LatencySummary struct {
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
	Average time.Duration `json:"average"`
	Samples int           `json:"samples"`
}

// CacheReport is one memory-tier category's effectiveness.
type CacheReport struct {
	Name    string      `json:"name"`
	Stats   cache.Stats `json:"stats"`
	HitRate float64     `json:"hit_rate"`
}

// Report is the full diagnostics snapshot served by the API.
type Report struct {
	GeneratedAt      time.Time       `json:"generated_at"`
	Endpoints        []solana.Status `json:"endpoints"`
	HealthyEndpoints int             `json:"healthy_endpoints"`
	ErrorRate        float64         `json:"error_rate"`
	Latency          LatencySummary  `json:"latency"`
	Caches           []CacheReport   `json:"caches"`
	StoreConnected   bool            `json:"store_connected"`
	LastRefresh      time.Time       `json:"last_refresh,omitempty"`
	LastRefreshError string          `json:"last_refresh_error,omitempty"`

	// LastSnapshot is the newest persisted wallet snapshot, for balance
	// and raise trend context. Absent without a store.
	LastSnapshot *presale.WalletSnapshot `json:"last_snapshot,omitempty"`

	Recommendations []string `json:"recommendations"`
}

// Report assembles the current diagnostics snapshot.
func (m *Monitor) Report(ctx context.Context) *Report {
	r := &Report{
		GeneratedAt:      time.Now().UTC(),
		Endpoints:        m.rpc.Snapshot(),
		HealthyEndpoints: m.rpc.HealthyCount(),
		Latency:          summarize(m.rpc.LatencySamples()),
	}

	var successes, failures uint64
	for _, ep := range r.Endpoints {
		successes += ep.SuccessCount
		failures += ep.FailureCount
	}
	if total := successes + failures; total > 0 {
		r.ErrorRate = float64(failures) / float64(total)
	}

	for _, c := range m.caches {
		stats := c.Stats()
		r.Caches = append(r.Caches, CacheReport{
			Name:    c.Name(),
			Stats:   stats,
			HitRate: stats.HitRate(),
		})
	}

	if m.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		r.StoreConnected = m.store.Ping(pingCtx) == nil
		cancel()
	}

	if m.agg != nil {
		last, err := m.agg.LastRefresh()
		r.LastRefresh = last
		if err != nil {
			r.LastRefreshError = err.Error()
		}
	}

	if sr, ok := m.store.(SnapshotReader); ok && m.agg != nil && r.StoreConnected {
		if snap, err := sr.LatestWalletSnapshot(ctx, m.agg.Wallet()); err == nil {
			r.LastSnapshot = snap
		}
	}

	r.Recommendations = m.recommend(r)
	return r
}

// recommend derives operator guidance from the report's raw numbers.
func (m *Monitor) recommend(r *Report) []string {
	var recs []string

	if m.config != nil {
		if err := m.config.Validate(); err != nil {
			recs = append(recs, fmt.Sprintf("config validation failed: %v", err))
		}
	}

	if r.HealthyEndpoints == 0 {
		recs = append(recs, "no healthy RPC endpoints; check endpoint URLs and provider status")
	} else if r.HealthyEndpoints < len(r.Endpoints) {
		recs = append(recs, fmt.Sprintf("%d of %d RPC endpoints unhealthy; consider adding endpoints or raising rate limits",
			len(r.Endpoints)-r.HealthyEndpoints, len(r.Endpoints)))
	}

	if r.ErrorRate > m.cfg.ErrorRateWarn {
		recs = append(recs, fmt.Sprintf("RPC error rate %.1f%% exceeds %.1f%%; upstream providers may be throttling",
			r.ErrorRate*100, m.cfg.ErrorRateWarn*100))
	}

	if r.Latency.Samples > 0 && r.Latency.Average > m.cfg.LatencyWarn {
		recs = append(recs, fmt.Sprintf("average RPC latency %s exceeds %s; consider a faster endpoint",
			r.Latency.Average.Round(time.Millisecond), m.cfg.LatencyWarn))
	}

	for _, c := range r.Caches {
		if c.Stats.Hits+c.Stats.Misses == 0 {
			continue
		}
		if c.HitRate < m.cfg.HitRateWarn {
			recs = append(recs, fmt.Sprintf("cache %q hit rate %.0f%% below %.0f%%; consider raising its TTL or capacity",
				c.Name, c.HitRate*100, m.cfg.HitRateWarn*100))
		}
	}

	if m.store != nil && !r.StoreConnected {
		recs = append(recs, "persistent store unreachable; running degraded on the memory tier only")
	} else if m.store == nil {
		recs = append(recs, "no persistent store configured; snapshots do not survive restarts")
	}

	if m.agg != nil && !r.LastRefresh.IsZero() && time.Since(r.LastRefresh) > m.cfg.RefreshStaleWarn {
		recs = append(recs, fmt.Sprintf("last successful metrics refresh was %s ago; served data may be stale",
			time.Since(r.LastRefresh).Round(time.Second)))
	}

	return recs
}

// CheckResult is one named health check outcome.
type CheckResult struct {
	Status string `json:"status"` // "ok" or "failed"
	Detail string `json:"detail,omitempty"`
}

// HealthStatus is the liveness/readiness shape served at /health.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok", "degraded" or "unhealthy"
	Checks map[string]CheckResult `json:"checks"`
}

// HealthCheck runs the per-dependency checks. "unhealthy" means the
// service cannot serve fresh data at all; "degraded" means it can, with
// caveats.
func (m *Monitor) HealthCheck(ctx context.Context) *HealthStatus {
	h := &HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult),
	}

	if m.config != nil {
		if err := m.config.Validate(); err != nil {
			h.Checks["config"] = CheckResult{Status: "failed", Detail: err.Error()}
			h.Status = "unhealthy"
		} else {
			h.Checks["config"] = CheckResult{Status: "ok"}
		}
	}

	if m.rpc.HealthyCount() > 0 {
		h.Checks["rpc"] = CheckResult{Status: "ok", Detail: fmt.Sprintf("%d healthy endpoints", m.rpc.HealthyCount())}
	} else {
		h.Checks["rpc"] = CheckResult{Status: "failed", Detail: "no healthy endpoints"}
		h.Status = "unhealthy"
	}

	if m.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := m.store.Ping(pingCtx)
		cancel()
		if err != nil {
			h.Checks["store"] = CheckResult{Status: "failed", Detail: err.Error()}
			if h.Status == "ok" {
				h.Status = "degraded"
			}
		} else {
			h.Checks["store"] = CheckResult{Status: "ok"}
		}
	}

	totalEntries := 0
	for _, c := range m.caches {
		totalEntries += c.Stats().Size
	}
	h.Checks["cache"] = CheckResult{Status: "ok", Detail: fmt.Sprintf("%d entries across %d categories", totalEntries, len(m.caches))}

	endpoints := m.rpc.Snapshot()
	withTokens := 0
	for _, ep := range endpoints {
		if ep.Limiter.Tokens >= 1 {
			withTokens++
		}
	}
	if len(endpoints) > 0 && withTokens == 0 {
		h.Checks["rate_limiter"] = CheckResult{Status: "failed", Detail: "all endpoint rate limiters exhausted; requests are queueing"}
		if h.Status == "ok" {
			h.Status = "degraded"
		}
	} else {
		h.Checks["rate_limiter"] = CheckResult{Status: "ok", Detail: fmt.Sprintf("%d of %d endpoints have tokens available", withTokens, len(endpoints))}
	}

	return h
}

// RunProbeLoop re-probes every endpoint on the configured interval until
// ctx is cancelled. Unhealthy endpoints recover through this loop.
func (m *Monitor) RunProbeLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	m.logger.Info("starting endpoint probe loop", "interval", m.cfg.ProbeInterval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("endpoint probe loop stopped")
			return
		case <-ticker.C:
			for _, name := range m.rpc.EndpointNames() {
				if err := m.rpc.CheckEndpointHealth(ctx, name); err != nil {
					m.logger.WarnContext(ctx, "endpoint probe failed", "endpoint", name, "error", err)
				}
			}
		}
	}
}

// summarize computes latency percentiles over a sample.
func summarize(samples []time.Duration) LatencySummary {
	s := LatencySummary{Samples: len(samples)}
	if len(samples) == 0 {
		return s
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	s.P50 = percentile(sorted, 0.50)
	s.P95 = percentile(sorted, 0.95)
	s.P99 = percentile(sorted, 0.99)
	s.Average = total / time.Duration(len(sorted))
	return s
}

// percentile uses the nearest-rank method on a sorted sample.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
