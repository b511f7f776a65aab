// Package circuitbreaker guards flapping search providers: a provider that
// keeps failing is skipped ahead of its retry budget until it recovers.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/researchforge/researchd/internal/metrics"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds circuit breaker tuning knobs.
type Config struct {
	MaxRequests      uint32        // Max probe requests in half-open state
	Interval         time.Duration // Failure-count window in closed state
	Timeout          time.Duration // Wait before open -> half-open
	FailureThreshold uint32        // Consecutive failures to trip
	SuccessThreshold uint32        // Consecutive half-open successes to close
}

// DefaultConfig returns bounds suitable for external search APIs.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 4,
		SuccessThreshold: 2,
	}
}

type counts struct {
	requests             uint32
	consecutiveSuccesses uint32
	consecutiveFailures  uint32
}

// Breaker implements the circuit breaker pattern around one named provider.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	counts     counts
	expiry     time.Time
}

// New creates a closed breaker.
func New(name string, config Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Execute runs fn if the breaker admits a request, feeding the outcome back
// into the breaker state.
func (b *Breaker) Execute(fn func() error) error {
	generation, err := b.beforeRequest()
	if err != nil {
		return err
	}
	err = fn()
	b.afterRequest(generation, err == nil)
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

func (b *Breaker) beforeRequest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if state == StateOpen {
		return generation, ErrOpen
	}
	if state == StateHalfOpen && b.counts.requests >= b.config.MaxRequests {
		return generation, ErrTooManyRequests
	}
	b.counts.requests++
	return generation, nil
}

func (b *Breaker) afterRequest(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)
	if generation != before {
		return
	}
	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.newGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.consecutiveFailures = 0
	case StateHalfOpen:
		b.counts.consecutiveSuccesses++
		if b.counts.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.setState(StateClosed, now)
		}
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.consecutiveFailures++
		if b.counts.consecutiveFailures >= b.config.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.newGeneration(now)

	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(float64(state))
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.counts = counts{}

	switch b.state {
	case StateClosed:
		if b.config.Interval == 0 {
			b.expiry = time.Time{}
		} else {
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	default: // half-open: stays until threshold decides
		b.expiry = time.Time{}
	}
}
