package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const defaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"

// DuckDuckGoProvider scrapes the DuckDuckGo HTML endpoint. It needs no API
// key, which makes it the last real provider before the simulated fallback.
type DuckDuckGoProvider struct {
	baseURL string
	client  *http.Client
}

var (
	ddgResultRe  = regexp.MustCompile(`(?s)<div class="result__body">(.*?)</div>\s*</div>\s*</div>`)
	ddgTitleRe   = regexp.MustCompile(`(?s)<a class="result__a" href=".*?">(.*?)</a>`)
	ddgURLRe     = regexp.MustCompile(`<a class="result__a" href="(.*?)"`)
	ddgSnippetRe = regexp.MustCompile(`(?s)<a class="result__snippet".*?>(.*?)</a>`)
	htmlTagRe    = regexp.MustCompile(`<.*?>`)
)

// NewDuckDuckGoProvider builds the provider. baseURL is overridable for tests.
func NewDuckDuckGoProvider(baseURL string, timeout time.Duration) *DuckDuckGoProvider {
	if baseURL == "" {
		baseURL = defaultDuckDuckGoURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DuckDuckGoProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *DuckDuckGoProvider) Name() string { return "duckduckgo" }

func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, numResults int) ([]Result, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(p.Name(), resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Transient: true, Err: err}
	}

	results := parseDuckDuckGoHTML(string(body), numResults)
	if len(results) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("no results parsed")}
	}
	return results, nil
}

func parseDuckDuckGoHTML(html string, numResults int) []Result {
	var results []Result
	for _, block := range ddgResultRe.FindAllStringSubmatch(html, -1) {
		if len(results) >= numResults {
			break
		}
		body := block[1]

		var title, link, snippet string
		if m := ddgTitleRe.FindStringSubmatch(body); m != nil {
			title = strings.TrimSpace(htmlTagRe.ReplaceAllString(m[1], ""))
		}
		if m := ddgURLRe.FindStringSubmatch(body); m != nil {
			link = strings.TrimSpace(m[1])
			if strings.HasPrefix(link, "/") {
				link = "https://duckduckgo.com" + link
			}
		}
		if m := ddgSnippetRe.FindStringSubmatch(body); m != nil {
			snippet = strings.TrimSpace(htmlTagRe.ReplaceAllString(m[1], ""))
		}

		if title != "" && link != "" {
			results = append(results, Result{Title: title, URL: link, Snippet: snippet})
		}
	}
	return results
}
