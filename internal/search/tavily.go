package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultTavilyURL = "https://api.tavily.com/search"

// TavilyProvider queries the Tavily search API.
type TavilyProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewTavilyProvider builds the provider. baseURL is overridable for tests.
func NewTavilyProvider(apiKey, baseURL string, timeout time.Duration) *TavilyProvider {
	if baseURL == "" {
		baseURL = defaultTavilyURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TavilyProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *TavilyProvider) Name() string { return "tavily" }

func (p *TavilyProvider) Search(ctx context.Context, query string, numResults int) ([]Result, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"api_key":      p.apiKey,
		"query":        query,
		"max_results":  clampResults(numResults),
		"search_depth": "basic",
	})
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
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
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, item := range parsed.Results {
		if len(results) >= numResults {
			break
		}
		results = append(results, Result{Title: item.Title, URL: item.URL, Snippet: item.Content})
	}
	return results, nil
}
