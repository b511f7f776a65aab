package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/researchforge/researchd/internal/llm"
	"github.com/researchforge/researchd/internal/search"
)

// Summary condenses one query's raw results into report-ready text.
type Summary struct {
	Query   string   `json:"query"`
	Text    string   `json:"text"`
	Sources []string `json:"sources"`

	// Fallback marks summaries built from simulated results so the writer
	// can hedge claims drawn from them.
	Fallback bool `json:"fallback"`
}

// Summarizer turns raw search results into short summaries.
type Summarizer struct {
	client llm.Client
	logger *zap.Logger
}

// NewSummarizer builds a summarizer.
func NewSummarizer(client llm.Client, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{client: client, logger: logger}
}

const summarizerSystemPrompt = `You summarize web search results for a research report. Write 2-3 factual
paragraphs grounded strictly in the provided snippets. Plain text only.`

// Summarize condenses the results for one query. Errors here fail only this
// query, not the task.
func (s *Summarizer) Summarize(ctx context.Context, topic, query string, results []search.Result) (*Summary, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("summarize %q: no results", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s\nSearch query: %s\n\nResults:\n", topic, query)
	sources := make([]string, 0, len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
		sources = append(sources, r.URL)
	}

	resp, err := s.client.Complete(ctx, llm.Request{
		Role:        llm.RoleSummarizer,
		System:      summarizerSystemPrompt,
		Prompt:      b.String(),
		MaxTokens:   768,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("summarize %q: %w", query, err)
	}

	s.logger.Debug("Query summarized", zap.String("query", query), zap.Int("sources", len(sources)))
	return &Summary{
		Query:   query,
		Text:    strings.TrimSpace(resp.Text),
		Sources: sources,
	}, nil
}
