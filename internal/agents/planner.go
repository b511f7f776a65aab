// Package agents holds the thin LLM-backed stages of the research pipeline:
// planner, summarizer and writer. Each agent owns its prompt and the parsing
// of the model's structured output; nothing else interprets model text.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/researchforge/researchd/internal/llm"
)

var (
	// ErrEmptyTopic is returned before any model call for blank input
	ErrEmptyTopic = errors.New("agents: empty topic")

	// ErrEmptyPlan is returned when the model produced no usable queries
	ErrEmptyPlan = errors.New("agents: plan contains no queries")
)

// Query is one planned search with its rationale.
type Query struct {
	Query  string `json:"query"`
	Reason string `json:"reason"`
}

// Plan is the ordered set of searches derived from a topic.
type Plan struct {
	Topic   string
	Queries []Query
}

// QueryStrings flattens the plan into the executor's input.
func (p *Plan) QueryStrings() []string {
	out := make([]string, 0, len(p.Queries))
	for _, q := range p.Queries {
		out = append(out, q.Query)
	}
	return out
}

// Planner decomposes a research topic into search queries.
type Planner struct {
	client     llm.Client
	maxQueries int
	logger     *zap.Logger
}

// NewPlanner builds a planner bounded to maxQueries per plan.
func NewPlanner(client llm.Client, maxQueries int, logger *zap.Logger) *Planner {
	if maxQueries <= 0 {
		maxQueries = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{client: client, maxQueries: maxQueries, logger: logger}
}

const plannerSystemPrompt = `You are a research planning assistant. Given a topic, produce targeted web
search queries covering its distinct aspects. Output ONLY a JSON array of
objects with "query" and "reason" fields, no prose, no code fences.`

// Plan asks the model for search queries. A model failure or an empty plan
// is fatal to the task (no meaningful degraded output is possible here).
func (p *Planner) Plan(ctx context.Context, topic string) (*Plan, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, ErrEmptyTopic
	}

	resp, err := p.client.Complete(ctx, llm.Request{
		Role:        llm.RolePlanner,
		System:      plannerSystemPrompt,
		Prompt:      fmt.Sprintf("Topic: %s\nProduce at most %d search queries.", topic, p.maxQueries),
		MaxTokens:   1024,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("plan topic: %w", err)
	}

	var queries []Query
	text := stripFences(resp.Text)
	if err := json.Unmarshal([]byte(text), &queries); err != nil {
		// Some models insist on a wrapper object.
		var wrapper struct {
			Queries []Query `json:"queries"`
		}
		if err2 := json.Unmarshal([]byte(text), &wrapper); err2 == nil {
			queries = wrapper.Queries
		} else if arr := extractJSONArray(text); arr != "" {
			_ = json.Unmarshal([]byte(arr), &queries)
		}
	}

	// Models occasionally repeat a query; keep the first occurrence.
	seen := make(map[string]struct{}, len(queries))
	filtered := queries[:0]
	for _, q := range queries {
		if strings.TrimSpace(q.Query) == "" {
			continue
		}
		if _, dup := seen[q.Query]; dup {
			continue
		}
		seen[q.Query] = struct{}{}
		filtered = append(filtered, q)
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyPlan, topic)
	}
	if len(filtered) > p.maxQueries {
		filtered = filtered[:p.maxQueries]
	}

	p.logger.Info("Research plan created",
		zap.String("topic", topic),
		zap.Int("queries", len(filtered)),
	)
	return &Plan{Topic: topic, Queries: filtered}, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

// extractJSONArray pulls the first top-level [...] block out of noisy text.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return ""
}
