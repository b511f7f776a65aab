package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/researchforge/researchd/internal/llm"
)

const writerJSON = `{
	"abstract": "Electric vehicles are reshaping transport.",
	"body": "## Adoption\nEV adoption keeps accelerating.",
	"follow_up_questions": ["How will charging infrastructure scale?"]
}`

func sampleSummaries() []Summary {
	return []Summary{
		{Query: "ev battery technology", Text: "Battery summary.", Sources: []string{"https://example.com/battery"}},
		{Query: "ev adoption rates", Text: "Adoption summary.", Sources: []string{"https://example.com/adoption"}},
	}
}

func TestWriterCompose(t *testing.T) {
	mock := llm.NewMock().Queue(llm.RoleWriter, writerJSON)
	w := NewWriter(mock, zap.NewNop())

	planned := []string{"ev adoption rates", "ev battery technology"}
	report, err := w.Compose(context.Background(), "electric vehicles", planned, sampleSummaries())
	require.NoError(t, err)

	assert.Equal(t, "Electric vehicles are reshaping transport.", report.Abstract)
	assert.Equal(t, []string{"How will charging infrastructure scale?"}, report.FollowUpQuestions)

	assert.Contains(t, report.Body, "# Research Report: electric vehicles")
	assert.Contains(t, report.Body, "## Summary")
	assert.Contains(t, report.Body, "EV adoption keeps accelerating.")
	assert.Contains(t, report.Body, "## Sources")
	assert.Contains(t, report.Body, "https://example.com/battery")
	assert.Contains(t, report.Body, "## Follow-up Questions")

	// Source sections follow the planned order, not arrival order.
	adoption := strings.Index(report.Body, "### ev adoption rates")
	battery := strings.Index(report.Body, "### ev battery technology")
	require.GreaterOrEqual(t, adoption, 0)
	require.GreaterOrEqual(t, battery, 0)
	assert.Less(t, adoption, battery)
}

func TestWriterMarksDegradedProvenance(t *testing.T) {
	var gotPrompt string
	mock := llm.NewMock()
	mock.Fallback = func(req llm.Request) (string, error) {
		gotPrompt = req.Prompt
		return writerJSON, nil
	}
	w := NewWriter(mock, zap.NewNop())

	summaries := []Summary{
		{Query: "real query", Text: "Real summary.", Sources: []string{"https://example.com/real"}},
		{Query: "degraded query", Text: "Simulated summary.", Sources: []string{"https://en.wikipedia.org/wiki/x"}, Fallback: true},
	}
	report, err := w.Compose(context.Background(), "topic", []string{"real query", "degraded query"}, summaries)
	require.NoError(t, err)

	assert.Contains(t, gotPrompt, "degraded query [degraded provenance]")
	assert.NotContains(t, gotPrompt, "real query [degraded provenance]")
	assert.Contains(t, report.Body, "(simulated fallback data)")
}

func TestWriterDefaultFollowUps(t *testing.T) {
	mock := llm.NewMock().Queue(llm.RoleWriter,
		`{"abstract":"a","body":"some body","follow_up_questions":[]}`)
	w := NewWriter(mock, zap.NewNop())

	report, err := w.Compose(context.Background(), "fusion power", []string{"q"}, []Summary{{Query: "q", Text: "t"}})
	require.NoError(t, err)
	require.Len(t, report.FollowUpQuestions, 3)
	assert.Contains(t, report.FollowUpQuestions[0], "fusion power")
}

func TestWriterStripsFences(t *testing.T) {
	mock := llm.NewMock().Queue(llm.RoleWriter, "```json\n"+writerJSON+"\n```")
	w := NewWriter(mock, zap.NewNop())

	report, err := w.Compose(context.Background(), "topic", []string{"q"}, []Summary{{Query: "q", Text: "t"}})
	require.NoError(t, err)
	assert.Equal(t, "Electric vehicles are reshaping transport.", report.Abstract)
}

func TestWriterInvalidOutputFails(t *testing.T) {
	for _, text := range []string{"not json", `{"abstract":"a","body":"  "}`} {
		mock := llm.NewMock().Queue(llm.RoleWriter, text)
		w := NewWriter(mock, zap.NewNop())
		_, err := w.Compose(context.Background(), "topic", []string{"q"}, []Summary{{Query: "q", Text: "t"}})
		assert.ErrorIs(t, err, llm.ErrInvalidResponse, "response: %s", text)
	}
}

func TestWriterNoSummaries(t *testing.T) {
	mock := llm.NewMock()
	w := NewWriter(mock, zap.NewNop())
	_, err := w.Compose(context.Background(), "topic", nil, nil)
	require.Error(t, err)
	assert.Equal(t, 0, mock.Calls(llm.RoleWriter))
}

func TestWriterModelErrorPropagates(t *testing.T) {
	mock := llm.NewMock().FailRole(llm.RoleWriter, llm.ErrUnavailable)
	w := NewWriter(mock, zap.NewNop())
	_, err := w.Compose(context.Background(), "topic", []string{"q"}, []Summary{{Query: "q", Text: "t"}})
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestReorder(t *testing.T) {
	planned := []string{"first", "second", "third"}
	summaries := []Summary{{Query: "third"}, {Query: "unplanned"}, {Query: "first"}}
	out := reorder(planned, summaries)
	require.Len(t, out, 3)
	assert.Equal(t, "first", out[0].Query)
	assert.Equal(t, "third", out[1].Query)
	assert.Equal(t, "unplanned", out[2].Query)
}
