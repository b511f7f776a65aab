package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/researchforge/researchd/internal/circuitbreaker"
	"github.com/researchforge/researchd/internal/metrics"
)

// Outcome is what the gateway hands back for one query.
type Outcome struct {
	Results  []Result
	Provider string
	Fallback bool // true when results came from the simulated provider
	Cached   bool
}

// GatewayConfig bounds the gateway's retry and caching behavior. The zero
// value is usable; Normalize fills in defaults.
type GatewayConfig struct {
	MaxAttempts  int           // attempts per provider before falling through
	BackoffBase  time.Duration // first retry delay, doubled per attempt
	BackoffMax   time.Duration // delay cap
	NumResults   int           // results requested per query
	CacheTTL     time.Duration // result cache entry lifetime
	RateLimitRPS float64       // per-provider request rate, 0 = unlimited
}

// Normalize applies the default bounds from the design: 2 retries,
// exponential backoff from 250ms capped at 2s.
func (c GatewayConfig) Normalize() GatewayConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 250 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
	if c.NumResults <= 0 {
		c.NumResults = 5
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Minute
	}
	return c
}

// TaskLog receives one human-readable line per provider attempt; the
// executor points it at the owning task's log sequence.
type TaskLog func(format string, args ...interface{})

// Gateway runs queries through an ordered provider chain with per-provider
// retry, rate limiting and circuit breaking, caching every success.
type Gateway struct {
	providers []Provider
	cache     Cache
	cfg       GatewayConfig
	limiters  map[string]*rate.Limiter
	breakers  map[string]*circuitbreaker.Breaker
	logger    *zap.Logger
}

// NewGateway builds a gateway over an ordered provider chain. Put the
// simulated provider last to get the always-answer behavior; omit it to make
// total outage surface as ErrAllProvidersFailed.
func NewGateway(providers []Provider, cache Cache, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewLocalCache(0)
	}
	cfg = cfg.Normalize()

	g := &Gateway{
		providers: providers,
		cache:     cache,
		cfg:       cfg,
		limiters:  make(map[string]*rate.Limiter, len(providers)),
		breakers:  make(map[string]*circuitbreaker.Breaker, len(providers)),
		logger:    logger,
	}
	for _, p := range providers {
		if cfg.RateLimitRPS > 0 && p.Name() != SimulatedName {
			g.limiters[p.Name()] = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
		}
		if p.Name() != SimulatedName {
			g.breakers[p.Name()] = circuitbreaker.New("search_"+p.Name(), circuitbreaker.DefaultConfig(), logger)
		}
	}
	return g
}

// Search resolves one query through the chain. A cache hit short-circuits
// everything, including retry and backoff.
func (g *Gateway) Search(ctx context.Context, query string, logf TaskLog) (*Outcome, error) {
	if NormalizeQuery(query) == "" {
		return nil, ErrEmptyQuery
	}
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}

	var lastErr error
	for _, p := range g.providers {
		key := CacheKey(p.Name(), query)
		if results, ok := g.cache.Get(ctx, key); ok {
			metrics.SearchCacheHits.Inc()
			return &Outcome{
				Results:  results,
				Provider: p.Name(),
				Fallback: p.Name() == SimulatedName,
				Cached:   true,
			}, nil
		}
		metrics.SearchCacheMisses.Inc()

		results, err := g.attempt(ctx, p, query, logf)
		if err != nil {
			lastErr = err
			continue
		}

		g.cache.Set(ctx, key, results, g.cfg.CacheTTL)
		fallback := p.Name() == SimulatedName
		if fallback {
			metrics.SearchFallbacks.Inc()
			logf("Search %q answered by simulated fallback provider", query)
		} else {
			logf("Search %q succeeded via %s (%d results)", query, p.Name(), len(results))
		}
		return &Outcome{Results: results, Provider: p.Name(), Fallback: fallback}, nil
	}

	if lastErr == nil {
		lastErr = ErrAllProvidersFailed
	}
	return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// attempt runs the bounded retry loop against a single provider.
func (g *Gateway) attempt(ctx context.Context, p Provider, query string, logf TaskLog) ([]Result, error) {
	breaker := g.breakers[p.Name()]
	if breaker != nil && breaker.State() == circuitbreaker.StateOpen {
		logf("Provider %s skipped: circuit open", p.Name())
		metrics.SearchAttempts.WithLabelValues(p.Name(), "error").Inc()
		return nil, fmt.Errorf("provider %s: %w", p.Name(), circuitbreaker.ErrOpen)
	}

	var lastErr error
	for i := 0; i < g.cfg.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if limiter := g.limiters[p.Name()]; limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var results []Result
		call := func() error {
			var err error
			results, err = p.Search(ctx, query, g.cfg.NumResults)
			return err
		}
		var err error
		if breaker != nil {
			err = breaker.Execute(call)
		} else {
			err = call()
		}
		if err == nil {
			metrics.SearchAttempts.WithLabelValues(p.Name(), "ok").Inc()
			return results, nil
		}

		lastErr = err
		g.logger.Warn("Provider attempt failed",
			zap.String("provider", p.Name()),
			zap.String("query", query),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)

		// Permanent failures and tripped breakers move straight to the
		// next provider; only transient ones earn a backoff retry.
		if !IsTransient(err) || i == g.cfg.MaxAttempts-1 {
			break
		}
		metrics.SearchAttempts.WithLabelValues(p.Name(), "retry").Inc()
		logf("Provider %s retrying %q after error: %v", p.Name(), query, err)
		if err := sleepCtx(ctx, g.backoff(i)); err != nil {
			return nil, err
		}
	}

	metrics.SearchAttempts.WithLabelValues(p.Name(), "error").Inc()
	logf("Provider %s gave up on %q: %v", p.Name(), query, lastErr)
	return nil, lastErr
}

func (g *Gateway) backoff(attempt int) time.Duration {
	d := g.cfg.BackoffBase << uint(attempt)
	if d > g.cfg.BackoffMax {
		d = g.cfg.BackoffMax
	}
	return d
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
