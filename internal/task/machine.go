package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// transitions is the allowed lifecycle graph. failed additionally absorbs
// from any non-terminal state.
var transitions = map[Status][]Status{
	StatusPending:     {StatusPlanning},
	StatusPlanning:    {StatusSearching},
	StatusSearching:   {StatusWriting},
	StatusWriting:     {StatusCompleted},
	StatusCompleted:   {StatusFollowingUp},
	StatusFollowingUp: {StatusCompleted},
}

// Machine owns one ResearchTask record and serializes every mutation.
// Readers always observe a consistent snapshot: status, progress and the
// logs-so-far are copied under the same lock that writers hold.
type Machine struct {
	mu     sync.Mutex
	t      ResearchTask
	logger *zap.Logger
}

// New creates a machine holding a fresh pending task. parentID is empty for
// root tasks and set for follow-up children.
func New(topic, parentID string, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		t: ResearchTask{
			ID:             uuid.New().String(),
			Topic:          topic,
			Status:         StatusPending,
			PlannedQueries: []string{},
			SearchResults:  make(map[string]SearchOutcome),
			Logs:           []LogEntry{},
			ParentID:       parentID,
			CreatedAt:      time.Now(),
		},
		logger: logger,
	}
}

// ID returns the immutable task id.
func (m *Machine) ID() string {
	return m.t.ID
}

// Topic returns the immutable task topic.
func (m *Machine) Topic() string {
	return m.t.Topic
}

// Snapshot returns a deep copy of the task safe for concurrent use.
func (m *Machine) Snapshot() ResearchTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked()
}

func (m *Machine) copyLocked() ResearchTask {
	cp := m.t
	cp.PlannedQueries = append([]string(nil), m.t.PlannedQueries...)
	cp.SearchResults = make(map[string]SearchOutcome, len(m.t.SearchResults))
	for k, v := range m.t.SearchResults {
		v.Sources = append([]string(nil), v.Sources...)
		cp.SearchResults[k] = v
	}
	cp.Logs = append([]LogEntry(nil), m.t.Logs...)
	if m.t.Report != nil {
		r := *m.t.Report
		r.FollowUpQuestions = append([]string(nil), m.t.Report.FollowUpQuestions...)
		cp.Report = &r
	}
	if m.t.CompletedAt != nil {
		ts := *m.t.CompletedAt
		cp.CompletedAt = &ts
	}
	return cp
}

// Logf appends a timestamped log line to the task.
func (m *Machine) Logf(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logLocked(fmt.Sprintf(format, args...))
}

func (m *Machine) logLocked(msg string) {
	m.t.Logs = append(m.t.Logs, LogEntry{Time: time.Now(), Message: msg})
	m.logger.Info(msg, zap.String("task_id", m.t.ID))
}

// MarkPlanning moves pending -> planning.
func (m *Machine) MarkPlanning() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(StatusPlanning); err != nil {
		return err
	}
	m.logLocked("Planning research approach")
	return nil
}

// MarkSearching records the plan and moves planning -> searching. The
// planned query list is deduplicated (results are keyed by query, so a
// repeated entry could never resolve), set exactly once and append-only
// afterwards.
func (m *Machine) MarkSearching(queries []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deduped := uniqueQueries(queries)
	if len(deduped) == 0 {
		return fmt.Errorf("%w: empty plan", ErrInvalidTransition)
	}
	if err := m.transitionLocked(StatusSearching); err != nil {
		return err
	}
	m.t.PlannedQueries = deduped
	m.logLocked(fmt.Sprintf("Executing %d web searches", len(deduped)))
	return nil
}

// uniqueQueries drops repeated query strings, keeping first-occurrence order.
func uniqueQueries(queries []string) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

// RecordResult stores one query's resolved outcome. Results may arrive in
// any order; each query resolves exactly once. Failed and fallback outcomes
// still advance progress (degrade, don't abort).
func (m *Machine) RecordResult(out SearchOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.t.Status != StatusSearching {
		return fmt.Errorf("%w: record result in %s", ErrInvalidTransition, m.t.Status)
	}
	if !m.plannedLocked(out.Query) {
		return fmt.Errorf("%w: %q", ErrUnplannedQuery, out.Query)
	}
	if _, dup := m.t.SearchResults[out.Query]; dup {
		return fmt.Errorf("%w: duplicate result for %q", ErrUnplannedQuery, out.Query)
	}
	m.t.SearchResults[out.Query] = out
	m.recomputeProgressLocked()
	switch out.Status {
	case ResultOK:
		m.logLocked(fmt.Sprintf("Search %q completed via %s", out.Query, out.Provider))
	case ResultFallback:
		m.logLocked(fmt.Sprintf("Search %q degraded to fallback provider %s", out.Query, out.Provider))
	default:
		m.logLocked(fmt.Sprintf("Search %q failed: %s", out.Query, out.Error))
	}
	return nil
}

// ResolvedCount returns how many planned queries have a recorded outcome.
func (m *Machine) ResolvedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.t.SearchResults)
}

// MarkWriting moves searching -> writing once every query is resolved.
func (m *Machine) MarkWriting() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(StatusWriting); err != nil {
		return err
	}
	m.logLocked("Synthesizing report")
	return nil
}

// Complete attaches the report and moves writing -> completed. The report
// is set exactly once.
func (m *Machine) Complete(r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r == nil {
		return fmt.Errorf("complete: nil report")
	}
	if err := m.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	m.t.Report = r
	now := time.Now()
	m.t.CompletedAt = &now
	m.logLocked("Research complete")
	return nil
}

// SetReportPath records where the persistence collaborator stored the report.
func (m *Machine) SetReportPath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.ReportPath = path
}

// Fail absorbs any active state into failed, recording the cause. A
// following_up task is deliberately excluded even though it is not terminal:
// its own pipeline already finished, and failing it would orphan the
// completed report it still carries. A failing child round is recorded on
// the child; the parent just returns to completed.
func (m *Machine) Fail(cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.t.Status.Terminal() || m.t.Status == StatusFollowingUp {
		return fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, m.t.Status)
	}
	m.t.Status = StatusFailed
	m.t.Progress = 100
	now := time.Now()
	m.t.CompletedAt = &now
	m.logLocked(fmt.Sprintf("Error: %v", cause))
	return nil
}

// MarkFollowingUp moves completed -> following_up when a child round starts.
// The parent's report is left untouched.
func (m *Machine) MarkFollowingUp(childID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(StatusFollowingUp); err != nil {
		return err
	}
	m.logLocked(fmt.Sprintf("Follow-up research started (child task %s)", childID))
	return nil
}

// ResumeCompleted restores following_up -> completed once the child task
// reaches a terminal state, whatever that state was.
func (m *Machine) ResumeCompleted(childStatus Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	m.logLocked(fmt.Sprintf("Follow-up research finished (child %s)", childStatus))
	return nil
}

// Report returns the report pointer, nil until completion.
func (m *Machine) Report() *Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.t.Report == nil {
		return nil
	}
	r := *m.t.Report
	r.FollowUpQuestions = append([]string(nil), m.t.Report.FollowUpQuestions...)
	return &r
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.Status
}

func (m *Machine) plannedLocked(query string) bool {
	for _, q := range m.t.PlannedQueries {
		if q == query {
			return true
		}
	}
	return false
}

func (m *Machine) transitionLocked(to Status) error {
	for _, next := range transitions[m.t.Status] {
		if next == to {
			m.t.Status = to
			m.recomputeProgressLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.t.Status, to)
}

// recomputeProgressLocked derives progress from state. Progress never
// regresses: the guard keeps it monotonic across the completed <->
// following_up round trip.
func (m *Machine) recomputeProgressLocked() {
	var p int
	switch m.t.Status {
	case StatusPending:
		p = 0
	case StatusPlanning:
		p = 10
	case StatusSearching:
		total := len(m.t.PlannedQueries)
		if total == 0 {
			p = 10
		} else {
			p = 10 + (80*len(m.t.SearchResults))/total
		}
	case StatusWriting:
		p = 95
	case StatusCompleted, StatusFailed:
		p = 100
	case StatusFollowingUp:
		p = 100
	}
	if p > m.t.Progress {
		m.t.Progress = p
	}
}
