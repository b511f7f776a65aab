package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/researchforge/researchd/internal/agents"
	"github.com/researchforge/researchd/internal/executor"
	"github.com/researchforge/researchd/internal/llm"
	"github.com/researchforge/researchd/internal/search"
	"github.com/researchforge/researchd/internal/task"
)

const plannerJSON = `[{"query":"ai overview","reason":"basics"},{"query":"ai history","reason":"context"}]`

const reportJSON = `{
	"abstract": "AI in brief.",
	"body": "## Findings\nDetails.",
	"follow_up_questions": ["What about AI safety?", "How is AI regulated?"]
}`

type fixedProvider struct{ fail bool }

func (p *fixedProvider) Name() string { return "fixed" }

func (p *fixedProvider) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	if p.fail {
		return nil, &search.ProviderError{Provider: "fixed", Err: errors.New("down")}
	}
	return []search.Result{{Title: query, URL: "https://example.com/" + query, Snippet: "about " + query}}, nil
}

type recordingPersister struct {
	saved []string
	err   error
}

func (r *recordingPersister) Save(taskID, topic string, _ *task.Report) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	path := "/reports/" + taskID + ".md"
	r.saved = append(r.saved, path)
	return path, nil
}

type fixture struct {
	manager   *Manager
	mock      *llm.Mock
	persister *recordingPersister
}

func newFixture(t *testing.T, provider search.Provider) *fixture {
	t.Helper()
	mock := llm.NewMock()
	mock.Fallback = func(req llm.Request) (string, error) {
		switch req.Role {
		case llm.RolePlanner:
			return plannerJSON, nil
		case llm.RoleSummarizer:
			return "a summary", nil
		case llm.RoleWriter:
			return reportJSON, nil
		}
		return "", llm.ErrUnavailable
	}

	gateway := search.NewGateway([]search.Provider{provider}, nil, search.GatewayConfig{
		MaxAttempts: 1,
		BackoffBase: time.Millisecond,
		BackoffMax:  time.Millisecond,
		NumResults:  3,
		CacheTTL:    time.Minute,
	}, zap.NewNop())

	persister := &recordingPersister{}
	manager := New(
		task.NewStore(),
		agents.NewPlanner(mock, 5, zap.NewNop()),
		agents.NewWriter(mock, zap.NewNop()),
		executor.New(gateway, agents.NewSummarizer(mock, zap.NewNop()), 2, zap.NewNop()),
		persister,
		zap.NewNop(),
	)
	return &fixture{manager: manager, mock: mock, persister: persister}
}

func waitForStatus(t *testing.T, m *Manager, id string, want task.Status) task.ResearchTask {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.GetTaskSnapshot(id)
		require.NoError(t, err)
		if snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := m.GetTaskSnapshot(id)
	t.Fatalf("task %s never reached %s (stuck at %s)", id, want, snap.Status)
	return task.ResearchTask{}
}

func TestManagerHappyPath(t *testing.T) {
	f := newFixture(t, &fixedProvider{})

	id, err := f.manager.StartResearch("artificial intelligence")
	require.NoError(t, err)

	snap := waitForStatus(t, f.manager, id, task.StatusCompleted)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, []string{"ai overview", "ai history"}, snap.PlannedQueries)
	require.Len(t, snap.SearchResults, 2)
	for _, out := range snap.SearchResults {
		assert.Equal(t, task.ResultOK, out.Status)
		assert.Equal(t, "a summary", out.Summary)
	}
	require.NotNil(t, snap.Report)
	assert.Equal(t, "AI in brief.", snap.Report.Abstract)
	assert.Len(t, snap.Report.FollowUpQuestions, 2)
	assert.NotEmpty(t, snap.Logs)

	f.manager.Wait()
	assert.Len(t, f.persister.saved, 1)
	assert.Equal(t, f.persister.saved[0], f.manager.ListTasks()[0].ReportPath)
}

func TestManagerDuplicatePlanQueries(t *testing.T) {
	f := newFixture(t, &fixedProvider{})
	f.mock.Queue(llm.RolePlanner,
		`[{"query":"ai overview","reason":"basics"},
		  {"query":"ai overview","reason":"repeated"},
		  {"query":"ai history","reason":"context"}]`)

	id, err := f.manager.StartResearch("artificial intelligence")
	require.NoError(t, err)

	snap := waitForStatus(t, f.manager, id, task.StatusCompleted)
	assert.Equal(t, []string{"ai overview", "ai history"}, snap.PlannedQueries)
	// One outcome per planned query, even when the model repeats itself.
	assert.Len(t, snap.SearchResults, len(snap.PlannedQueries))
	assert.Equal(t, 100, snap.Progress)
}

func TestManagerFollowUpDeduplicatesQuestions(t *testing.T) {
	f := newFixture(t, &fixedProvider{})
	f.mock.Queue(llm.RoleWriter,
		`{"abstract":"a","body":"## b","follow_up_questions":["repeat me","repeat me","and this"]}`)

	parentID, err := f.manager.StartResearch("echoing topic")
	require.NoError(t, err)
	waitForStatus(t, f.manager, parentID, task.StatusCompleted)

	childID, err := f.manager.RequestFollowUp(parentID)
	require.NoError(t, err)

	childSnap := waitForStatus(t, f.manager, childID, task.StatusCompleted)
	assert.Equal(t, []string{"repeat me", "and this"}, childSnap.PlannedQueries)
	assert.Len(t, childSnap.SearchResults, 2)
}

func TestManagerEmptyTopicRejected(t *testing.T) {
	f := newFixture(t, &fixedProvider{})
	_, err := f.manager.StartResearch("  ")
	assert.ErrorIs(t, err, agents.ErrEmptyTopic)
	assert.Empty(t, f.manager.ListTasks())
}

func TestManagerPlannerFailureFailsTask(t *testing.T) {
	f := newFixture(t, &fixedProvider{})
	f.mock.FailRole(llm.RolePlanner, llm.ErrUnavailable)

	id, err := f.manager.StartResearch("doomed topic")
	require.NoError(t, err)

	snap := waitForStatus(t, f.manager, id, task.StatusFailed)
	assert.Equal(t, 100, snap.Progress)
	assert.Nil(t, snap.Report)
}

func TestManagerAllSearchesFailedFailsTask(t *testing.T) {
	f := newFixture(t, &fixedProvider{fail: true})

	id, err := f.manager.StartResearch("unreachable topic")
	require.NoError(t, err)

	snap := waitForStatus(t, f.manager, id, task.StatusFailed)
	// Outcomes are still visible so the poller can show what happened.
	assert.Len(t, snap.SearchResults, 2)
}

func TestManagerWriterFailureFailsTask(t *testing.T) {
	f := newFixture(t, &fixedProvider{})
	f.mock.Queue(llm.RoleWriter, "definitely not json")

	id, err := f.manager.StartResearch("bad writer")
	require.NoError(t, err)
	waitForStatus(t, f.manager, id, task.StatusFailed)
}

func TestManagerPersistenceFailureDoesNotFailTask(t *testing.T) {
	f := newFixture(t, &fixedProvider{})
	f.persister.err = errors.New("disk full")

	id, err := f.manager.StartResearch("resilient topic")
	require.NoError(t, err)

	snap := waitForStatus(t, f.manager, id, task.StatusCompleted)
	f.manager.Wait()
	snap, err = f.manager.GetTaskSnapshot(id)
	require.NoError(t, err)
	assert.Empty(t, snap.ReportPath)
	require.NotNil(t, snap.Report)

	found := false
	for _, entry := range snap.Logs {
		if strings.HasPrefix(entry.Message, "Warning: report persistence failed") {
			found = true
		}
	}
	assert.True(t, found, "expected a persistence warning in task logs")
}

func TestManagerFollowUpRound(t *testing.T) {
	f := newFixture(t, &fixedProvider{})

	parentID, err := f.manager.StartResearch("artificial intelligence")
	require.NoError(t, err)
	parentSnap := waitForStatus(t, f.manager, parentID, task.StatusCompleted)
	parentReport := *parentSnap.Report

	childID, err := f.manager.RequestFollowUp(parentID)
	require.NoError(t, err)
	assert.NotEqual(t, parentID, childID)

	childSnap := waitForStatus(t, f.manager, childID, task.StatusCompleted)
	assert.Equal(t, parentID, childSnap.ParentID)
	// The child searches the parent's follow-up questions, unplanned.
	assert.Equal(t, parentReport.FollowUpQuestions, childSnap.PlannedQueries)

	parentSnap = waitForStatus(t, f.manager, parentID, task.StatusCompleted)
	require.NotNil(t, parentSnap.Report)
	assert.Equal(t, parentReport.Abstract, parentSnap.Report.Abstract)
	assert.Equal(t, parentReport.Body, parentSnap.Report.Body)
	assert.Equal(t, 100, parentSnap.Progress)
}

func TestManagerFollowUpParentShowsFollowingUp(t *testing.T) {
	f := newFixture(t, &fixedProvider{})

	// Follow-up children skip planning, so stall their summarizer stage to
	// hold the child (and the parent's following_up state) open.
	var stall atomic.Bool
	release := make(chan struct{})
	base := f.mock.Fallback
	f.mock.Fallback = func(req llm.Request) (string, error) {
		if req.Role == llm.RoleSummarizer && stall.Load() {
			<-release
		}
		return base(req)
	}

	parentID, err := f.manager.StartResearch("topic")
	require.NoError(t, err)
	waitForStatus(t, f.manager, parentID, task.StatusCompleted)

	stall.Store(true)
	childID, err := f.manager.RequestFollowUp(parentID)
	require.NoError(t, err)

	parentSnap, err := f.manager.GetTaskSnapshot(parentID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFollowingUp, parentSnap.Status)

	stall.Store(false)
	close(release)
	waitForStatus(t, f.manager, childID, task.StatusCompleted)
	waitForStatus(t, f.manager, parentID, task.StatusCompleted)
}

func TestManagerFollowUpWithoutReport(t *testing.T) {
	f := newFixture(t, &fixedProvider{})
	f.mock.FailRole(llm.RolePlanner, llm.ErrUnavailable)

	id, err := f.manager.StartResearch("failing topic")
	require.NoError(t, err)
	waitForStatus(t, f.manager, id, task.StatusFailed)

	_, err = f.manager.RequestFollowUp(id)
	assert.ErrorIs(t, err, task.ErrNoReport)
}

func TestManagerFollowUpUnknownTask(t *testing.T) {
	f := newFixture(t, &fixedProvider{})
	_, err := f.manager.RequestFollowUp("no-such-id")
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestManagerParentResumesAfterFailedChild(t *testing.T) {
	f := newFixture(t, &fixedProvider{})

	parentID, err := f.manager.StartResearch("topic")
	require.NoError(t, err)
	waitForStatus(t, f.manager, parentID, task.StatusCompleted)

	// Child's summarizer fails every query, so the child fails.
	f.mock.FailRole(llm.RoleSummarizer, llm.ErrUnavailable)
	childID, err := f.manager.RequestFollowUp(parentID)
	require.NoError(t, err)

	waitForStatus(t, f.manager, childID, task.StatusFailed)
	parentSnap := waitForStatus(t, f.manager, parentID, task.StatusCompleted)
	require.NotNil(t, parentSnap.Report, "parent report must survive a failed follow-up")
}
