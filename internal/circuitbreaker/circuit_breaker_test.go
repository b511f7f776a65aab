package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBoom = errors.New("boom")

func testConfig() Config {
	return Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

func fail(b *Breaker) error {
	return b.Execute(func() error { return errBoom })
}

func succeed(b *Breaker) error {
	return b.Execute(func() error { return nil })
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	for i := 0; i < 10; i++ {
		require.NoError(t, succeed(b))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, fail(b), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	err := succeed(b)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	_ = fail(b)
	_ = fail(b)
	require.NoError(t, succeed(b))
	_ = fail(b)
	_ = fail(b)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	for i := 0; i < 3; i++ {
		_ = fail(b)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, succeed(b))
	require.NoError(t, succeed(b))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	for i := 0; i < 3; i++ {
		_ = fail(b)
	}
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	assert.ErrorIs(t, fail(b), errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequests = 1
	b := New("test", cfg, zap.NewNop())
	for i := 0; i < 3; i++ {
		_ = fail(b)
	}
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := succeed(b)
	assert.ErrorIs(t, err, ErrTooManyRequests)
	close(release)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
}
