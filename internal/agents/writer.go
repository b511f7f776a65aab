package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/researchforge/researchd/internal/llm"
	"github.com/researchforge/researchd/internal/task"
)

// Writer synthesizes the final report from whatever summaries survived the
// search stage.
type Writer struct {
	client llm.Client
	logger *zap.Logger
}

// NewWriter builds a writer.
func NewWriter(client llm.Client, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{client: client, logger: logger}
}

const writerSystemPrompt = `You are a research report writer. Synthesize the provided summaries into a
cohesive markdown report. Summaries marked [degraded provenance] came from
simulated fallback data; hedge any claims drawn from them. Output ONLY a JSON
object with fields "abstract" (2-4 sentences), "body" (markdown, no title
heading) and "follow_up_questions" (array of strings), no code fences.`

type writerOutput struct {
	Abstract          string   `json:"abstract"`
	Body              string   `json:"body"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// Compose produces the report. The summaries arrive as a set; presentation
// order is re-established from the planned query order.
func (w *Writer) Compose(ctx context.Context, topic string, planned []string, summaries []Summary) (*task.Report, error) {
	if len(summaries) == 0 {
		return nil, fmt.Errorf("compose %q: no summaries", topic)
	}
	ordered := reorder(planned, summaries)

	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s\n\n", topic)
	for _, s := range ordered {
		if s.Fallback {
			fmt.Fprintf(&b, "## %s [degraded provenance]\n%s\n\n", s.Query, s.Text)
		} else {
			fmt.Fprintf(&b, "## %s\n%s\n\n", s.Query, s.Text)
		}
	}

	resp, err := w.client.Complete(ctx, llm.Request{
		Role:        llm.RoleWriter,
		System:      writerSystemPrompt,
		Prompt:      b.String(),
		MaxTokens:   4096,
		Temperature: 0.4,
	})
	if err != nil {
		return nil, fmt.Errorf("compose %q: %w", topic, err)
	}

	var out writerOutput
	if err := json.Unmarshal([]byte(stripFences(resp.Text)), &out); err != nil {
		return nil, fmt.Errorf("compose %q: %w: %v", topic, llm.ErrInvalidResponse, err)
	}
	if strings.TrimSpace(out.Body) == "" {
		return nil, fmt.Errorf("compose %q: %w: empty body", topic, llm.ErrInvalidResponse)
	}
	if len(out.FollowUpQuestions) == 0 {
		out.FollowUpQuestions = defaultFollowUps(topic)
	}

	w.logger.Info("Report composed",
		zap.String("topic", topic),
		zap.Int("summaries", len(ordered)),
		zap.Int("follow_ups", len(out.FollowUpQuestions)),
	)
	return &task.Report{
		Abstract:          strings.TrimSpace(out.Abstract),
		Body:              renderBody(topic, out.Abstract, out.Body, ordered, out.FollowUpQuestions),
		FollowUpQuestions: out.FollowUpQuestions,
	}, nil
}

// reorder sorts summaries by planned query order; summaries for queries
// missing from the plan (not expected) sort last in query order.
func reorder(planned []string, summaries []Summary) []Summary {
	pos := make(map[string]int, len(planned))
	for i, q := range planned {
		pos[q] = i
	}
	out := append([]Summary(nil), summaries...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := pos[out[i].Query]
		pj, jok := pos[out[j].Query]
		if iok != jok {
			return iok
		}
		if !iok {
			return out[i].Query < out[j].Query
		}
		return pi < pj
	})
	return out
}

// renderBody assembles the persisted markdown document around the model's
// synthesis: title, abstract, findings with sources, follow-up questions.
func renderBody(topic, abstract, body string, summaries []Summary, followUps []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", topic)
	if strings.TrimSpace(abstract) != "" {
		fmt.Fprintf(&b, "## Summary\n\n%s\n\n", strings.TrimSpace(abstract))
	}
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n\n## Sources\n\n")
	for _, s := range summaries {
		fmt.Fprintf(&b, "### %s\n", s.Query)
		if s.Fallback {
			b.WriteString("(simulated fallback data)\n")
		}
		for _, src := range s.Sources {
			fmt.Fprintf(&b, "- %s\n", src)
		}
		b.WriteString("\n")
	}
	b.WriteString("## Follow-up Questions\n\n")
	for _, q := range followUps {
		fmt.Fprintf(&b, "- %s\n", q)
	}
	return b.String()
}

func defaultFollowUps(topic string) []string {
	return []string{
		fmt.Sprintf("What are the most significant recent advancements in %s?", topic),
		fmt.Sprintf("How does %s impact different industries or sectors?", topic),
		fmt.Sprintf("What are the long-term implications of %s for society?", topic),
	}
}
