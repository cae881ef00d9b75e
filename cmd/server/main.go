package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alien88ted/presale-monitor/service/config"
	"github.com/alien88ted/presale-monitor/service/diag"
	"github.com/alien88ted/presale-monitor/service/metrics"
	"github.com/alien88ted/presale-monitor/service/monitor"
	"github.com/alien88ted/presale-monitor/service/nats"
	"github.com/alien88ted/presale-monitor/service/presale"
	"github.com/alien88ted/presale-monitor/service/price"
	"github.com/alien88ted/presale-monitor/service/server"
	"github.com/alien88ted/presale-monitor/service/solana"
	"github.com/alien88ted/presale-monitor/service/store"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"wallet", cfg.PresaleWallet.String(),
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Prometheus collectors, shared by every layer
	m := metrics.New(nil)

	// RPC endpoint pool with failover and per-endpoint rate limits
	rpcManager := solana.NewManager(cfg.RPCEndpoints, logger, solana.WithMetrics(m))
	logger.Info("initialized rpc endpoint pool", "endpoints", rpcManager.EndpointNames())

	// SOL price feed for USD valuation
	prices := price.NewResolver(price.NewBinanceSource(), cfg.PriceTTL, logger)

	aggOpts := []monitor.Option{monitor.WithMetrics(m)}
	diagOpts := []diag.Option{}

	// The persistent tier is optional. Without it the service runs in
	// degraded mode on the memory tier only.
	var docStore *store.Store
	if cfg.MongoURL != "" {
		var err error
		docStore, err = store.New(ctx, cfg.MongoURL, cfg.MongoDatabase, logger, store.WithMetrics(m))
		if err != nil {
			logger.Error("failed to connect to mongodb", "error", err)
			os.Exit(1)
		}
		if err := docStore.EnsureIndexes(ctx); err != nil {
			logger.Error("failed to ensure mongodb indexes", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to mongodb", "database", cfg.MongoDatabase)
		aggOpts = append(aggOpts, monitor.WithStorage(docStore))
		diagOpts = append(diagOpts, diag.WithStore(docStore))
	} else {
		logger.Warn("MONGO_URL not set, running in degraded mode without persistence")
	}

	// Event publishing is optional as well.
	var publisher *nats.JetStreamPublisher
	if cfg.NATSURL != "" && cfg.PushEvents {
		var err error
		publisher, err = nats.NewPublisher(cfg.NATSURL, logger, m)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to nats", "url", cfg.NATSURL)
		aggOpts = append(aggOpts, monitor.WithPublisher(publisher))
	} else {
		logger.Info("event publishing disabled", "nats_url_set", cfg.NATSURL != "", "push_events", cfg.PushEvents)
	}

	aggOpts = append(aggOpts,
		monitor.WithSnapshotHistory(cfg.HistoricalSnapshots),
		monitor.WithContributorTracking(cfg.ContributorTracking),
	)

	classify := presale.DefaultClassifyConfig()
	if cfg.DustLamports > 0 {
		classify.DustLamports = cfg.DustLamports
	}

	agg := monitor.New(monitor.Config{
		Wallet:              cfg.PresaleWallet,
		MetricsTTL:          cfg.MetricsTTL,
		StoreMetricsTTL:     cfg.StoreMetricsTTL,
		StoreTransactionTTL: cfg.StoreTransactionTTL,
		MaxSignatures:       cfg.MaxSignatures,
		FetchConcurrency:    int64(cfg.FetchConcurrency),
		MaxRetries:          cfg.MaxRetries,
		MinLeaderboardUSD:   cfg.MinLeaderboardUSD,
		LeaderboardSize:     cfg.LeaderboardSize,
		Classify:            classify,
	}, rpcManager, prices, logger, aggOpts...)

	diagOpts = append(diagOpts, diag.WithRefreshReporter(agg), diag.WithConfigCheck(cfg))
	diagMonitor := diag.New(diag.Config{ProbeInterval: cfg.ProbeInterval}, rpcManager, agg.Caches(), logger, diagOpts...)

	// Background loops: periodic metrics refresh and endpoint probing
	go agg.RunRefreshLoop(ctx, cfg.RefreshInterval)
	go diagMonitor.RunProbeLoop(ctx)

	httpServer := server.New(cfg.ServerAddr, agg, diagMonitor, m, logger)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		cancel()
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				logger.Error("failed to close nats connection", "error", err)
			}
		}
		if docStore != nil {
			if err := docStore.Close(shutdownCtx); err != nil {
				logger.Error("failed to close mongodb connection", "error", err)
			}
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
