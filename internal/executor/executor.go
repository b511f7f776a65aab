// Package executor fans planned queries out over a bounded worker pool,
// running each query's search -> summarize sub-pipeline independently.
package executor

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/researchforge/researchd/internal/agents"
	"github.com/researchforge/researchd/internal/search"
	"github.com/researchforge/researchd/internal/task"
)

// ErrAllQueriesFailed is the aggregation error: not a single planned query
// produced a usable summary, so the writer has nothing to work with.
var ErrAllQueriesFailed = errors.New("executor: all queries failed")

// DefaultWorkers bounds concurrent outbound calls independent of plan size.
const DefaultWorkers = 5

// Executor runs the concurrent search stage of a task.
type Executor struct {
	gateway    *search.Gateway
	summarizer *agents.Summarizer
	workers    int
	logger     *zap.Logger
}

// New builds an executor with a fixed worker count.
func New(gateway *search.Gateway, summarizer *agents.Summarizer, workers int, logger *zap.Logger) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{gateway: gateway, summarizer: summarizer, workers: workers, logger: logger}
}

// Run resolves every planned query of m, recording one outcome per query as
// it completes. Completion order is unconstrained; a failed query never
// blocks or cancels its siblings. Returns ErrAllQueriesFailed when zero
// queries yielded a summary.
func (e *Executor) Run(ctx context.Context, m *task.Machine, topic string, queries []string) error {
	jobs := make(chan string)
	var wg sync.WaitGroup

	workers := e.workers
	if workers > len(queries) {
		workers = len(queries)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for query := range jobs {
				e.resolve(ctx, m, topic, query)
			}
		}()
	}

	for _, q := range queries {
		jobs <- q
	}
	close(jobs)
	wg.Wait()

	succeeded := 0
	for _, out := range m.Snapshot().SearchResults {
		if out.Status != task.ResultFailed {
			succeeded++
		}
	}
	if succeeded == 0 {
		return ErrAllQueriesFailed
	}
	return nil
}

// resolve runs one query's sub-pipeline and records its outcome.
func (e *Executor) resolve(ctx context.Context, m *task.Machine, topic, query string) {
	outcome, err := e.gateway.Search(ctx, query, m.Logf)
	if err != nil {
		e.record(m, task.SearchOutcome{
			Query:  query,
			Status: task.ResultFailed,
			Error:  err.Error(),
		})
		return
	}

	summary, err := e.summarizer.Summarize(ctx, topic, query, outcome.Results)
	if err != nil {
		e.record(m, task.SearchOutcome{
			Query:    query,
			Provider: outcome.Provider,
			Status:   task.ResultFailed,
			Error:    err.Error(),
		})
		return
	}

	status := task.ResultOK
	if outcome.Fallback {
		status = task.ResultFallback
	}
	e.record(m, task.SearchOutcome{
		Query:    query,
		Summary:  summary.Text,
		Sources:  summary.Sources,
		Provider: outcome.Provider,
		Status:   status,
	})
}

func (e *Executor) record(m *task.Machine, out task.SearchOutcome) {
	if err := m.RecordResult(out); err != nil {
		// Can only happen on a programming error (unplanned or duplicate
		// query); surface it loudly in logs rather than dropping silently.
		e.logger.Error("Failed to record search outcome",
			zap.String("task_id", m.ID()),
			zap.String("query", out.Query),
			zap.Error(err),
		)
	}
}

// Summaries extracts the writer's input set from a task snapshot: every
// usable (ok or fallback) outcome as an agents.Summary.
func Summaries(snap task.ResearchTask) []agents.Summary {
	out := make([]agents.Summary, 0, len(snap.SearchResults))
	for _, r := range snap.SearchResults {
		if r.Status == task.ResultFailed {
			continue
		}
		out = append(out, agents.Summary{
			Query:    r.Query,
			Text:     r.Summary,
			Sources:  r.Sources,
			Fallback: r.Status == task.ResultFallback,
		})
	}
	return out
}
