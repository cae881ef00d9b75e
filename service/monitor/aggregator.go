// Package monitor orchestrates the refresh pipeline: signatures and
// transaction details come from the RPC manager through the two cache
// tiers, get classified, and fold into a metrics snapshot.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/alien88ted/presale-monitor/service/cache"
	"github.com/alien88ted/presale-monitor/service/metrics"
	"github.com/alien88ted/presale-monitor/service/nats"
	"github.com/alien88ted/presale-monitor/service/presale"
	"github.com/alien88ted/presale-monitor/service/price"
	"github.com/alien88ted/presale-monitor/service/solana"
	"github.com/alien88ted/presale-monitor/service/store"
)

const lamportsPerSOL = 1e9

// Storage is the persistent tier consumed by the aggregator. *store.Store
// implements it; tests substitute an in-memory fake.
type Storage interface {
	UpsertTransactions(ctx context.Context, txs []presale.Transaction, ttl time.Duration) error
	GetTransaction(ctx context.Context, signature string) (*presale.Transaction, error)
	ListTransactions(ctx context.Context, limit int, before time.Time) ([]presale.Transaction, error)
	SaveMetrics(ctx context.Context, wallet string, m *presale.Metrics, ttl time.Duration) error
	GetMetrics(ctx context.Context, wallet string) (*presale.Metrics, bool, error)
	UpsertContributors(ctx context.Context, contributors []presale.Contributor, ttl time.Duration) error
	TopContributors(ctx context.Context, minUSD float64, limit int) ([]presale.Contributor, error)
	AppendWalletSnapshot(ctx context.Context, snap presale.WalletSnapshot) error
}

// Config tunes the aggregator.
type Config struct {
	Wallet sol.PublicKey

	// Memory-tier TTLs.
	MetricsTTL     time.Duration // freshness window for the computed snapshot
	TransactionTTL time.Duration // 0: transactions are immutable, never expire

	// Persistent-tier TTLs.
	StoreMetricsTTL     time.Duration
	StoreTransactionTTL time.Duration

	// Fetch shape.
	MaxSignatures     int   // cap on history folded per refresh
	SignaturePageSize int   // page size for signature pagination
	FetchConcurrency  int64 // parallel transaction-detail fetches
	MaxRetries        int   // attempt budget per RPC operation

	// Leaderboard shape.
	MinLeaderboardUSD float64
	LeaderboardSize   int

	Classify presale.ClassifyConfig
}

func (c *Config) setDefaults() {
	if c.MetricsTTL <= 0 {
		c.MetricsTTL = 60 * time.Second
	}
	if c.StoreMetricsTTL <= 0 {
		c.StoreMetricsTTL = 5 * time.Minute
	}
	if c.StoreTransactionTTL <= 0 {
		c.StoreTransactionTTL = 30 * 24 * time.Hour
	}
	if c.MaxSignatures <= 0 {
		c.MaxSignatures = 5000
	}
	if c.SignaturePageSize <= 0 || c.SignaturePageSize > 1000 {
		c.SignaturePageSize = 1000
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 40
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.LeaderboardSize <= 0 {
		c.LeaderboardSize = 20
	}
	if c.Classify.DustLamports == 0 && c.Classify.DustToken == 0 && c.Classify.StableMints == nil {
		c.Classify = presale.DefaultClassifyConfig()
	}
}

// MetricsResult wraps a snapshot with its provenance.
type MetricsResult struct {
	Metrics      *presale.Metrics `json:"metrics"`
	Source       string           `json:"source"` // "memory", "store", "computed", "stale"
	Cached       bool             `json:"cached"`
	Stale        bool             `json:"stale"`
	ProcessingMS int64            `json:"processing_ms"`
}

// Aggregator owns the refresh pipeline and the two-tier read path.
type Aggregator struct {
	cfg     Config
	rpc     *solana.Manager
	storage Storage        // nil: degraded mode, memory tier only
	pub     nats.Publisher // nil: event publishing disabled

	prices *price.Resolver

	metricsCache *cache.Cache[*presale.Metrics]
	txCache      *cache.Cache[*presale.Transaction]

	// Feature toggles, enabled unless configured off.
	snapshotHistory     bool
	contributorTracking bool

	sf      singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	lastGood    *presale.Metrics
	lastRefresh time.Time
	lastErr     error
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithStorage attaches the persistent tier. Without it the aggregator
// runs in degraded mode on the memory tier alone.
func WithStorage(s Storage) Option {
	return func(a *Aggregator) { a.storage = s }
}

// WithPublisher attaches the NATS event publisher.
func WithPublisher(p nats.Publisher) Option {
	return func(a *Aggregator) { a.pub = p }
}

// WithMetrics injects the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithSnapshotHistory toggles appending point-in-time wallet snapshots
// on each refresh. Enabled by default.
func WithSnapshotHistory(enabled bool) Option {
	return func(a *Aggregator) { a.snapshotHistory = enabled }
}

// WithContributorTracking toggles persisting the per-contributor ledger.
// Enabled by default.
func WithContributorTracking(enabled bool) Option {
	return func(a *Aggregator) { a.contributorTracking = enabled }
}

// WithCacheCapacity overrides the memory-tier capacities.
func WithCacheCapacity(metricsCap, txCap int) Option {
	return func(a *Aggregator) {
		a.metricsCache = cache.New[*presale.Metrics]("metrics", metricsCap, a.cfg.MetricsTTL, a.metrics)
		a.txCache = cache.New[*presale.Transaction]("transactions", txCap, a.cfg.TransactionTTL, a.metrics)
	}
}

// New builds an Aggregator for one presale wallet.
func New(cfg Config, rpcManager *solana.Manager, prices *price.Resolver, logger *slog.Logger, opts ...Option) *Aggregator {
	cfg.setDefaults()
	a := &Aggregator{
		cfg:                 cfg,
		rpc:                 rpcManager,
		prices:              prices,
		snapshotHistory:     true,
		contributorTracking: true,
		logger:              logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metricsCache == nil {
		a.metricsCache = cache.New[*presale.Metrics]("metrics", 16, cfg.MetricsTTL, a.metrics)
	}
	if a.txCache == nil {
		a.txCache = cache.New[*presale.Transaction]("transactions", 10_000, cfg.TransactionTTL, a.metrics)
	}
	return a
}

// Wallet returns the monitored wallet address.
func (a *Aggregator) Wallet() string { return a.cfg.Wallet.String() }

// Caches exposes the memory-tier categories for diagnostics.
func (a *Aggregator) Caches() []cache.StatsProvider {
	return []cache.StatsProvider{a.metricsCache, a.txCache}
}

// LastRefresh reports when the last successful recomputation finished,
// and its error if the most recent attempt failed.
func (a *Aggregator) LastRefresh() (time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRefresh, a.lastErr
}

const metricsKey = "snapshot"

// GetMetrics serves the aggregate snapshot through the two cache tiers.
// forceRefresh skips both tiers and recomputes. Concurrent refreshes for
// the same wallet coalesce into one upstream fetch cycle; when every
// upstream fails, the last good snapshot is served flagged stale.
func (a *Aggregator) GetMetrics(ctx context.Context, forceRefresh bool) (*MetricsResult, error) {
	start := time.Now()
	wallet := a.Wallet()

	if !forceRefresh {
		if m, ok := a.metricsCache.Get(metricsKey); ok {
			a.served(wallet, "memory")
			return &MetricsResult{Metrics: m, Source: "memory", Cached: true, ProcessingMS: time.Since(start).Milliseconds()}, nil
		}
		if a.storage != nil {
			if m, fresh, err := a.storage.GetMetrics(ctx, wallet); err == nil && fresh {
				a.metricsCache.Set(metricsKey, m)
				a.served(wallet, "store")
				return &MetricsResult{Metrics: m, Source: "store", Cached: true, ProcessingMS: time.Since(start).Milliseconds()}, nil
			}
		}
	}

	v, err, _ := a.sf.Do(metricsKey, func() (any, error) {
		return a.refresh(ctx)
	})
	if err == nil {
		a.served(wallet, "computed")
		return &MetricsResult{Metrics: v.(*presale.Metrics), Source: "computed", ProcessingMS: time.Since(start).Milliseconds()}, nil
	}

	a.logger.ErrorContext(ctx, "metrics refresh failed, falling back to stale data",
		"wallet", wallet,
		"error", err,
	)

	if stale := a.staleSnapshot(ctx, wallet); stale != nil {
		a.served(wallet, "stale")
		return &MetricsResult{Metrics: stale, Source: "stale", Cached: true, Stale: true, ProcessingMS: time.Since(start).Milliseconds()}, nil
	}
	return nil, err
}

// staleSnapshot returns the last good in-process snapshot, or an expired
// store document when the process has never computed one.
func (a *Aggregator) staleSnapshot(ctx context.Context, wallet string) *presale.Metrics {
	a.mu.Lock()
	last := a.lastGood
	a.mu.Unlock()
	if last != nil {
		return last
	}
	if a.storage != nil {
		if m, _, err := a.storage.GetMetrics(ctx, wallet); err == nil {
			return m
		}
	}
	return nil
}

func (a *Aggregator) served(wallet, source string) {
	if a.metrics != nil {
		a.metrics.RecordMetricsServed(wallet, source)
	}
}

// refresh runs one full recomputation cycle.
func (a *Aggregator) refresh(ctx context.Context) (*presale.Metrics, error) {
	start := time.Now()
	wallet := a.Wallet()

	m, contributors, err := a.compute(ctx)

	status := "success"
	if err != nil {
		status = "error"
	}
	if a.metrics != nil {
		a.metrics.RecordMetricsRefresh(wallet, status, time.Since(start).Seconds())
	}

	a.mu.Lock()
	a.lastErr = err
	if err == nil {
		a.lastGood = m
		a.lastRefresh = time.Now()
	}
	a.mu.Unlock()

	if err != nil {
		return nil, err
	}

	a.metricsCache.Set(metricsKey, m)
	a.persist(ctx, m, contributors)
	a.announce(ctx, m)

	a.logger.InfoContext(ctx, "metrics refreshed",
		"wallet", wallet,
		"transactions", m.TransactionCount,
		"total_raised_usd", m.TotalRaised.TotalUSD,
		"contributors", m.UniqueContributors,
		"duration", time.Since(start),
	)
	return m, nil
}

// compute recomputes the snapshot and the full per-contributor ledger.
// The ledger is returned separately because the snapshot's leaderboard is
// threshold-filtered and truncated; the store keeps every contributor.
func (a *Aggregator) compute(ctx context.Context) (*presale.Metrics, []presale.Contributor, error) {
	solPrice := a.prices.SOLPrice(ctx)

	walletInfo, err := a.fetchWalletInfo(ctx, solPrice)
	if err != nil {
		return nil, nil, err
	}

	sigs, err := a.fetchSignatures(ctx)
	if err != nil {
		return nil, nil, err
	}

	txs, err := a.resolveTransactions(ctx, sigs, solPrice)
	if err != nil {
		return nil, nil, err
	}

	m := presale.BuildMetrics(presale.BuildMetricsParams{
		Wallet:          *walletInfo,
		Transactions:    txs,
		MinLeaderboard:  a.cfg.MinLeaderboardUSD,
		LeaderboardSize: a.cfg.LeaderboardSize,
	})

	ledger := presale.ContributorLedger(txs)
	contributors := make([]presale.Contributor, 0, len(ledger))
	for _, c := range ledger {
		contributors = append(contributors, *c)
	}
	return m, contributors, nil
}

func (a *Aggregator) fetchWalletInfo(ctx context.Context, solPrice float64) (*presale.WalletInfo, error) {
	var balance *rpc.GetBalanceResult
	err := a.rpc.ExecuteWithRetry(ctx, "getBalance", a.cfg.MaxRetries, func(ctx context.Context, client solana.RPCClient) error {
		var err error
		balance, err = client.GetBalance(ctx, a.cfg.Wallet, rpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet balance: %w", err)
	}

	balanceSOL := float64(balance.Value) / lamportsPerSOL
	return &presale.WalletInfo{
		Address:    a.Wallet(),
		Lamports:   balance.Value,
		BalanceSOL: balanceSOL,
		BalanceUSD: balanceSOL * solPrice,
		Slot:       balance.Context.Slot,
	}, nil
}

// fetchSignatures pages backwards through the wallet's signature history
// until the history is exhausted or MaxSignatures is reached.
func (a *Aggregator) fetchSignatures(ctx context.Context) ([]*rpc.TransactionSignature, error) {
	var (
		all    []*rpc.TransactionSignature
		before sol.Signature
	)

	for len(all) < a.cfg.MaxSignatures {
		limit := a.cfg.SignaturePageSize
		opts := &rpc.GetSignaturesForAddressOpts{Limit: &limit}
		if !before.IsZero() {
			opts.Before = before
		}

		var page []*rpc.TransactionSignature
		err := a.rpc.ExecuteWithRetry(ctx, "getSignaturesForAddress", a.cfg.MaxRetries, func(ctx context.Context, client solana.RPCClient) error {
			var err error
			page, err = client.GetSignaturesForAddress(ctx, a.cfg.Wallet, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch signatures: %w", err)
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		before = page[len(page)-1].Signature
		if len(page) < limit {
			break
		}
	}

	if len(all) > a.cfg.MaxSignatures {
		all = all[:a.cfg.MaxSignatures]
	}
	return all, nil
}

// resolveTransactions turns signatures into classified transactions
// through the two-tier cache. Detail fetches for cache misses run with
// bounded parallelism; one unparseable transaction never fails the batch.
func (a *Aggregator) resolveTransactions(ctx context.Context, sigs []*rpc.TransactionSignature, solPrice float64) ([]*presale.Transaction, error) {
	results := make([]*presale.Transaction, len(sigs))

	var (
		mu    sync.Mutex
		fresh []presale.Transaction // newly classified, for store write-through and events
	)

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(a.cfg.FetchConcurrency)

	for i, sig := range sigs {
		i, sig := i, sig
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			tx, isNew, err := a.resolveOne(gctx, sig, solPrice)
			if err != nil {
				return err
			}
			results[i] = tx
			if isNew && tx != nil {
				mu.Lock()
				fresh = append(fresh, *tx)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(fresh) > 0 {
		if a.storage != nil {
			if err := a.storage.UpsertTransactions(ctx, fresh, a.cfg.StoreTransactionTTL); err != nil {
				// Degraded mode: keep serving from memory.
				a.logger.WarnContext(ctx, "failed to persist transactions", "count", len(fresh), "error", err)
			}
		}
		a.publishDeposits(ctx, fresh)
	}

	out := results[:0]
	for _, tx := range results {
		if tx != nil {
			out = append(out, tx)
		}
	}
	return out, nil
}

// resolveOne reads a transaction through memory, then store, then RPC.
// The bool reports whether the transaction was classified fresh this call.
func (a *Aggregator) resolveOne(ctx context.Context, sig *rpc.TransactionSignature, solPrice float64) (*presale.Transaction, bool, error) {
	sigStr := sig.Signature.String()

	if tx, ok := a.txCache.Get(sigStr); ok {
		return tx, false, nil
	}
	if a.storage != nil {
		if tx, err := a.storage.GetTransaction(ctx, sigStr); err == nil {
			a.txCache.Set(sigStr, tx)
			return tx, false, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			a.logger.DebugContext(ctx, "store read failed", "signature", sigStr, "error", err)
		}
	}

	var result *rpc.GetTransactionResult
	// Signatures that already failed on chain carry that verdict in the
	// signature record; skip the detail fetch.
	if sig.Err == nil {
		maxVersion := uint64(0)
		opts := &rpc.GetTransactionOpts{
			Encoding:                       sol.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		}
		err := a.rpc.ExecuteWithRetry(ctx, "getTransaction", a.cfg.MaxRetries, func(ctx context.Context, client solana.RPCClient) error {
			var err error
			result, err = client.GetTransaction(ctx, sig.Signature, opts)
			return err
		})
		if err != nil {
			return nil, false, fmt.Errorf("failed to fetch transaction %s: %w", sigStr, err)
		}
	}

	tx, err := presale.Classify(a.cfg.Wallet, sig, result, a.cfg.Classify)
	if err != nil {
		// Unparseable transactions stay in history as unclassified.
		a.logger.WarnContext(ctx, "unparseable transaction", "signature", sigStr, "error", err)
	}
	a.valueInUSD(tx, solPrice)

	if a.metrics != nil {
		a.metrics.RecordTransactionClassified(a.Wallet(), string(tx.Kind))
	}
	a.txCache.Set(sigStr, tx)
	return tx, true, nil
}

// valueInUSD prices a classified transaction. Stablecoins are taken at
// par; unknown tokens value at zero so USD totals are lower bounds.
func (a *Aggregator) valueInUSD(tx *presale.Transaction, solPrice float64) {
	switch tx.Asset {
	case presale.AssetNative:
		tx.USDValue = tx.Amount * solPrice
	case presale.AssetStable:
		tx.USDValue = tx.Amount
	default:
		tx.USDValue = 0
	}
	if tx.Kind == presale.KindUnclassified {
		tx.USDValue = 0
	}
}

// persist writes the computed snapshot, the full contributor ledger and a
// wallet snapshot to the persistent tier. Store failures degrade, never
// fail the refresh.
func (a *Aggregator) persist(ctx context.Context, m *presale.Metrics, contributors []presale.Contributor) {
	if a.storage == nil {
		return
	}
	wallet := a.Wallet()

	if err := a.storage.SaveMetrics(ctx, wallet, m, a.cfg.StoreMetricsTTL); err != nil {
		a.logger.WarnContext(ctx, "failed to persist metrics snapshot", "error", err)
	}
	if a.contributorTracking && len(contributors) > 0 {
		if err := a.storage.UpsertContributors(ctx, contributors, a.cfg.StoreMetricsTTL); err != nil {
			a.logger.WarnContext(ctx, "failed to persist contributors", "error", err)
		}
	}
	if !a.snapshotHistory {
		return
	}
	snap := presale.WalletSnapshot{
		Wallet:         wallet,
		BalanceSOL:     m.Wallet.BalanceSOL,
		BalanceUSD:     m.Wallet.BalanceUSD,
		TotalRaisedUSD: m.TotalRaised.TotalUSD,
		Contributors:   m.UniqueContributors,
		Timestamp:      m.LastUpdated,
	}
	if err := a.storage.AppendWalletSnapshot(ctx, snap); err != nil {
		a.logger.WarnContext(ctx, "failed to append wallet snapshot", "error", err)
	}
}

// publishDeposits emits an event per newly observed countable deposit.
func (a *Aggregator) publishDeposits(ctx context.Context, fresh []presale.Transaction) {
	if a.pub == nil {
		return
	}
	wallet := a.Wallet()
	for i := range fresh {
		tx := &fresh[i]
		if !tx.IsCountableDeposit() {
			continue
		}
		if err := a.pub.PublishDeposit(ctx, nats.FromTransaction(wallet, tx)); err != nil {
			a.logger.WarnContext(ctx, "failed to publish deposit event", "signature", tx.Signature, "error", err)
		}
	}
}

func (a *Aggregator) announce(ctx context.Context, m *presale.Metrics) {
	if a.pub == nil {
		return
	}
	if err := a.pub.PublishMetrics(ctx, nats.FromMetrics(a.Wallet(), m)); err != nil {
		a.logger.WarnContext(ctx, "failed to publish metrics event", "error", err)
	}
}

// ListTransactions returns classified transactions newest first,
// paginated by an opaque signature cursor. When the RPC tier is down the
// persistent tier serves what it has.
func (a *Aggregator) ListTransactions(ctx context.Context, limit int, beforeSig string) ([]*presale.Transaction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	opts := &rpc.GetSignaturesForAddressOpts{Limit: &limit}
	if beforeSig != "" {
		cursor, err := sol.SignatureFromBase58(beforeSig)
		if err != nil {
			return nil, fmt.Errorf("invalid before cursor %q: %w", beforeSig, err)
		}
		opts.Before = cursor
	}

	var sigs []*rpc.TransactionSignature
	err := a.rpc.ExecuteWithRetry(ctx, "getSignaturesForAddress", a.cfg.MaxRetries, func(ctx context.Context, client solana.RPCClient) error {
		var err error
		sigs, err = client.GetSignaturesForAddress(ctx, a.cfg.Wallet, opts)
		return err
	})
	if err != nil {
		if a.storage != nil {
			a.logger.WarnContext(ctx, "rpc unavailable, listing transactions from store", "error", err)
			stored, serr := a.storage.ListTransactions(ctx, limit, time.Time{})
			if serr != nil {
				return nil, err
			}
			out := make([]*presale.Transaction, len(stored))
			for i := range stored {
				out[i] = &stored[i]
			}
			return out, nil
		}
		return nil, err
	}

	solPrice := a.prices.SOLPrice(ctx)
	return a.resolveTransactions(ctx, sigs, solPrice)
}

// TopContributors returns the largest contributors above minUSD.
func (a *Aggregator) TopContributors(ctx context.Context, minUSD float64, limit int) ([]presale.Contributor, error) {
	if limit <= 0 {
		limit = a.cfg.LeaderboardSize
	}

	if a.storage != nil {
		if out, err := a.storage.TopContributors(ctx, minUSD, limit); err == nil && len(out) > 0 {
			return out, nil
		}
	}

	// Recompute from the current snapshot's transaction history.
	res, err := a.GetMetrics(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]presale.Contributor, 0, limit)
	for _, c := range res.Metrics.TopContributors {
		if c.TotalUSD < minUSD {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// RunRefreshLoop recomputes metrics on a fixed interval until ctx is
// cancelled. Intended to run in its own goroutine.
func (a *Aggregator) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("starting metrics refresh loop", "wallet", a.Wallet(), "interval", interval)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("metrics refresh loop stopped")
			return
		case <-ticker.C:
			if _, err := a.GetMetrics(ctx, true); err != nil {
				a.logger.ErrorContext(ctx, "scheduled refresh failed", "error", err)
			}
		}
	}
}
