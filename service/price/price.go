// Package price resolves asset prices in USD. Prices feed USD valuation
// of deposits; a lookup failure degrades to the last known price (or
// zero) so totals become lower bounds instead of errors.
package price

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
)

// Source resolves the USD price for a ticker symbol.
type Source interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// binanceSource fetches spot prices from Binance's public ticker.
type binanceSource struct {
	client *binance.Client
}

// NewBinanceSource returns a Source backed by Binance spot tickers.
// No API key is needed for public price data.
func NewBinanceSource() Source {
	return &binanceSource{client: binance.NewClient("", "")}
}

func (b *binanceSource) Price(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", symbol)
	}
	p, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable price %q for %s: %w", prices[0].Price, symbol, err)
	}
	return p, nil
}

// SOLSymbol is the Binance ticker for SOL/USD.
const SOLSymbol = "SOLUSDT"

// Resolver memoizes prices from a Source and degrades gracefully when
// the source is unreachable.
type Resolver struct {
	source Source
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	cached  map[string]cachedPrice
	nowFunc func() time.Time
}

type cachedPrice struct {
	value     float64
	fetchedAt time.Time
}

// NewResolver wraps source with a memo of the given TTL.
func NewResolver(source Source, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Resolver{
		source:  source,
		ttl:     ttl,
		logger:  logger,
		cached:  make(map[string]cachedPrice),
		nowFunc: time.Now,
	}
}

// SOLPrice returns the current SOL/USD price.
func (r *Resolver) SOLPrice(ctx context.Context) float64 {
	return r.PriceUSD(ctx, SOLSymbol)
}

// PriceUSD returns the memoized price for symbol, refreshing it when the
// memo is older than the TTL. On failure it returns the last known price
// so downstream USD totals stay a lower bound; if no price was ever
// fetched it returns 0.
func (r *Resolver) PriceUSD(ctx context.Context, symbol string) float64 {
	r.mu.Lock()
	entry, ok := r.cached[symbol]
	now := r.nowFunc()
	if ok && now.Sub(entry.fetchedAt) < r.ttl {
		r.mu.Unlock()
		return entry.value
	}
	r.mu.Unlock()

	p, err := r.source.Price(ctx, symbol)
	if err != nil {
		r.logger.WarnContext(ctx, "price lookup failed, using last known price",
			"symbol", symbol,
			"last_known", entry.value,
			"error", err,
		)
		return entry.value
	}

	r.mu.Lock()
	r.cached[symbol] = cachedPrice{value: p, fetchedAt: now}
	r.mu.Unlock()
	return p
}
