// Package ratelimit provides the limiters that guard each RPC endpoint.
// Back-pressure is expressed purely as delay: Wait never rejects, it only
// returns early when the caller's context is cancelled.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is the minimal interface implemented by all limiters.
type Limiter interface {
	// Wait blocks until the caller is permitted to issue one request.
	// The only possible error is the context's cancellation error.
	Wait(ctx context.Context) error

	// Stats returns cumulative counters for diagnostics.
	Stats() Stats
}

// Stats are cumulative limiter counters surfaced to the diagnostics
// monitor.
type Stats struct {
	Allowed     uint64        `json:"allowed"`
	Throttled   uint64        `json:"throttled"`
	Tokens      float64       `json:"tokens"`
	TotalWait   time.Duration `json:"total_wait"`
	AverageWait time.Duration `json:"average_wait"`
}

// TokenBucket allows bursts up to its capacity while bounding the
// sustained rate at exactly requestsPerSecond. Tokens refill continuously
// with elapsed time; a caller finding less than one token sleeps for the
// exact deficit before consuming.
type TokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	last      time.Time
	allowed   uint64
	throttled uint64
	totalWait time.Duration
}

// NewTokenBucket constructs a token bucket limiter. The bucket capacity
// equals requestsPerSecond, so a full bucket allows one second's worth of
// burst.
func NewTokenBucket(requestsPerSecond float64) *TokenBucket {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &TokenBucket{
		rate:     requestsPerSecond,
		capacity: requestsPerSecond,
		tokens:   requestsPerSecond,
		last:     time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *TokenBucket) Wait(ctx context.Context) error {
	waited := time.Duration(0)

	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := time.Now()
		l.refill(now)

		if l.tokens >= 1 {
			l.tokens--
			l.allowed++
			if waited > 0 {
				l.throttled++
				l.totalWait += waited
			}
			return nil
		}

		// Sleep for the exact deficit.
		deficit := (1 - l.tokens) / l.rate
		sleep := time.Duration(deficit * float64(time.Second))
		if sleep <= 0 {
			sleep = time.Millisecond
		}

		timer := time.NewTimer(sleep)
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			timer.Stop()
			l.mu.Lock()
			return ctx.Err()
		case <-timer.C:
			waited += sleep
		}
		l.mu.Lock()
	}
}

func (l *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(l.last)
	if elapsed <= 0 {
		return
	}
	l.tokens += l.rate * elapsed.Seconds()
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.last = now
}

// Stats returns cumulative counters and the current token level.
func (l *TokenBucket) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(time.Now())
	return statsFrom(l.allowed, l.throttled, l.tokens, l.totalWait)
}

// SlidingWindow enforces a strict cap of maxRequests per rolling window.
// It keeps the timestamps of recent requests and sleeps until the oldest
// one exits the window when the cap is reached.
type SlidingWindow struct {
	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	stamps      []time.Time
	allowed     uint64
	throttled   uint64
	totalWait   time.Duration
}

// NewSlidingWindow constructs a sliding-window limiter.
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &SlidingWindow{
		window:      window,
		maxRequests: maxRequests,
		stamps:      make([]time.Time, 0, maxRequests),
	}
}

// Wait blocks until the rolling window has room or ctx is cancelled.
func (l *SlidingWindow) Wait(ctx context.Context) error {
	waited := time.Duration(0)

	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := time.Now()
		l.prune(now)

		if len(l.stamps) < l.maxRequests {
			l.stamps = append(l.stamps, now)
			l.allowed++
			if waited > 0 {
				l.throttled++
				l.totalWait += waited
			}
			return nil
		}

		// Sleep until the oldest request leaves the window.
		sleep := l.stamps[0].Add(l.window).Sub(now)
		if sleep <= 0 {
			sleep = time.Millisecond
		}

		timer := time.NewTimer(sleep)
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			timer.Stop()
			l.mu.Lock()
			return ctx.Err()
		case <-timer.C:
			waited += sleep
		}
		l.mu.Lock()
	}
}

func (l *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// Stats returns cumulative counters; Tokens reports remaining window room.
func (l *SlidingWindow) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return statsFrom(l.allowed, l.throttled, float64(l.maxRequests-len(l.stamps)), l.totalWait)
}

// Composite runs several limiters and awaits all of them, for endpoints
// that need both burst control and a strict per-window cap.
type Composite struct {
	limiters []Limiter
}

// NewComposite constructs a limiter that defers to every child in order.
func NewComposite(limiters ...Limiter) *Composite {
	return &Composite{limiters: limiters}
}

// Wait blocks until every child limiter admits the request.
func (l *Composite) Wait(ctx context.Context) error {
	for _, child := range l.limiters {
		if err := child.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stats sums the children's counters; Tokens reports the tightest child.
func (l *Composite) Stats() Stats {
	var out Stats
	for i, child := range l.limiters {
		s := child.Stats()
		out.Allowed += s.Allowed
		out.Throttled += s.Throttled
		out.TotalWait += s.TotalWait
		if i == 0 || s.Tokens < out.Tokens {
			out.Tokens = s.Tokens
		}
	}
	if out.Throttled > 0 {
		out.AverageWait = out.TotalWait / time.Duration(out.Throttled)
	}
	return out
}

func statsFrom(allowed, throttled uint64, tokens float64, totalWait time.Duration) Stats {
	s := Stats{
		Allowed:   allowed,
		Throttled: throttled,
		Tokens:    tokens,
		TotalWait: totalWait,
	}
	if throttled > 0 {
		s.AverageWait = totalWait / time.Duration(throttled)
	}
	return s
}
