package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubProvider scripts a sequence of responses for gateway tests.
type stubProvider struct {
	name    string
	calls   atomic.Int32
	results []Result
	errs    []error // consumed per call; nil entry means success
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Search(_ context.Context, query string, _ int) ([]Result, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	if s.results != nil {
		return s.results, nil
	}
	return []Result{{Title: "t", URL: "https://example.com/" + s.name, Snippet: query}}, nil
}

func transientErr(name string) error {
	return &ProviderError{Provider: name, Transient: true, Err: errors.New("status 503")}
}

func permanentErr(name string) error {
	return &ProviderError{Provider: name, Transient: false, Err: errors.New("status 401")}
}

func fastConfig() GatewayConfig {
	return GatewayConfig{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		NumResults:  3,
		CacheTTL:    time.Minute,
	}
}

func TestGatewayFirstProviderWins(t *testing.T) {
	first := &stubProvider{name: "serper"}
	second := &stubProvider{name: "tavily"}
	g := NewGateway([]Provider{first, second}, nil, fastConfig(), zap.NewNop())

	out, err := g.Search(context.Background(), "go concurrency", nil)
	require.NoError(t, err)
	assert.Equal(t, "serper", out.Provider)
	assert.False(t, out.Fallback)
	assert.False(t, out.Cached)
	assert.Len(t, out.Results, 1)
	assert.Equal(t, int32(1), first.calls.Load())
	assert.Equal(t, int32(0), second.calls.Load())
}

func TestGatewayRetriesTransientThenSucceeds(t *testing.T) {
	p := &stubProvider{
		name: "serper",
		errs: []error{transientErr("serper"), transientErr("serper"), nil},
	}
	g := NewGateway([]Provider{p}, nil, fastConfig(), zap.NewNop())

	out, err := g.Search(context.Background(), "rate limits", nil)
	require.NoError(t, err)
	assert.Equal(t, "serper", out.Provider)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestGatewayPermanentErrorSkipsRetry(t *testing.T) {
	broken := &stubProvider{
		name: "serper",
		errs: []error{permanentErr("serper"), permanentErr("serper"), permanentErr("serper")},
	}
	next := &stubProvider{name: "tavily"}
	g := NewGateway([]Provider{broken, next}, nil, fastConfig(), zap.NewNop())

	out, err := g.Search(context.Background(), "auth failure", nil)
	require.NoError(t, err)
	assert.Equal(t, "tavily", out.Provider)
	// No retry budget spent on a permanent failure.
	assert.Equal(t, int32(1), broken.calls.Load())
}

func TestGatewayFallsThroughToSimulated(t *testing.T) {
	down := &stubProvider{
		name: "serper",
		errs: []error{transientErr("serper"), transientErr("serper"), transientErr("serper")},
	}
	g := NewGateway([]Provider{down, NewSimulatedProvider()}, nil, fastConfig(), zap.NewNop())

	var lines []string
	logf := func(format string, args ...interface{}) {
		lines = append(lines, format)
	}
	out, err := g.Search(context.Background(), "machine learning", logf)
	require.NoError(t, err)
	assert.Equal(t, SimulatedName, out.Provider)
	assert.True(t, out.Fallback)
	assert.NotEmpty(t, out.Results)
	assert.Equal(t, int32(3), down.calls.Load())
	assert.NotEmpty(t, lines)
}

func TestGatewayAllProvidersFailed(t *testing.T) {
	a := &stubProvider{name: "serper", errs: []error{permanentErr("serper")}}
	b := &stubProvider{name: "tavily", errs: []error{permanentErr("tavily")}}
	g := NewGateway([]Provider{a, b}, nil, fastConfig(), zap.NewNop())

	out, err := g.Search(context.Background(), "no luck", nil)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestGatewayEmptyQuery(t *testing.T) {
	g := NewGateway([]Provider{NewSimulatedProvider()}, nil, fastConfig(), zap.NewNop())
	_, err := g.Search(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestGatewayCacheHitSkipsProvider(t *testing.T) {
	p := &stubProvider{name: "serper"}
	g := NewGateway([]Provider{p}, NewLocalCache(16), fastConfig(), zap.NewNop())

	first, err := g.Search(context.Background(), "Go Generics", nil)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	// Same query modulo case and whitespace hits the cache.
	second, err := g.Search(context.Background(), "  go   generics ", nil)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestGatewayCacheIsPerProvider(t *testing.T) {
	cache := NewLocalCache(16)
	down := &stubProvider{name: "serper", errs: []error{permanentErr("serper"), permanentErr("serper")}}
	up := &stubProvider{name: "tavily"}
	g := NewGateway([]Provider{down, up}, cache, fastConfig(), zap.NewNop())

	out, err := g.Search(context.Background(), "caching", nil)
	require.NoError(t, err)
	assert.Equal(t, "tavily", out.Provider)

	// The cached tavily entry must not be attributed to serper next time.
	out, err = g.Search(context.Background(), "caching", nil)
	require.NoError(t, err)
	assert.Equal(t, "tavily", out.Provider)
	assert.True(t, out.Cached)
}

func TestGatewayContextCancellation(t *testing.T) {
	p := &stubProvider{
		name: "serper",
		errs: []error{transientErr("serper"), transientErr("serper"), transientErr("serper")},
	}
	cfg := fastConfig()
	cfg.BackoffBase = time.Minute // retry would stall without cancellation
	g := NewGateway([]Provider{p}, nil, cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Search(ctx, "slow", nil)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("search did not return after cancellation")
	}
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "go generics", NormalizeQuery("  Go   Generics "))
	assert.Equal(t, "", NormalizeQuery(" \t\n"))
	assert.Equal(t, "a b c", NormalizeQuery("a\tb\nc"))
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "serper|go generics", CacheKey("serper", " Go  Generics"))
}
