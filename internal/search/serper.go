package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultSerperURL = "https://google.serper.dev/search"

// SerperProvider queries the Serper API (Google results behind an API key).
type SerperProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewSerperProvider builds the provider. baseURL is overridable for tests.
func NewSerperProvider(apiKey, baseURL string, timeout time.Duration) *SerperProvider {
	if baseURL == "" {
		baseURL = defaultSerperURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SerperProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *SerperProvider) Name() string { return "serper" }

func (p *SerperProvider) Search(ctx context.Context, query string, numResults int) ([]Result, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"q":   query,
		"num": clampResults(numResults),
	})
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	req.Header.Set("X-API-KEY", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(p.Name(), resp.StatusCode); err != nil {
		return nil, err
	}

	var parsed struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}

	results := make([]Result, 0, len(parsed.Organic))
	for _, item := range parsed.Organic {
		if len(results) >= numResults {
			break
		}
		results = append(results, Result{Title: item.Title, URL: item.Link, Snippet: item.Snippet})
	}
	return results, nil
}

// classifyStatus maps HTTP status codes onto the transient/permanent split.
func classifyStatus(provider string, status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return &ProviderError{Provider: provider, Transient: true, Err: fmt.Errorf("status %d", status)}
	default:
		return &ProviderError{Provider: provider, Err: fmt.Errorf("status %d", status)}
	}
}

// clampResults keeps the requested result count within API bounds.
func clampResults(n int) int {
	if n <= 0 {
		return 5
	}
	if n > 10 {
		return 10
	}
	return n
}
