// Package search fronts the external web-search providers behind a uniform
// gateway with retries, ordered fallback and a shared result cache.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyQuery is returned before any network call for blank input
	ErrEmptyQuery = errors.New("search: empty query")

	// ErrAllProvidersFailed is returned when the chain is exhausted and the
	// simulated fallback is disabled
	ErrAllProvidersFailed = errors.New("search: all providers failed")
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider is one concrete search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, numResults int) ([]Result, error)
}

// ProviderError wraps a provider failure with its retry classification.
// Transient failures (timeouts, rate limits, 5xx) are retried with backoff;
// permanent ones move straight to the next provider in the chain.
type ProviderError struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s: %s failure: %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// NormalizeQuery canonicalizes a query for cache keying: lowercased with
// whitespace runs collapsed.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
