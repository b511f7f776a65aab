package task

import (
	"errors"
	"time"
)

var (
	// ErrTaskNotFound is returned when a task doesn't exist in the store
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when a status change would violate the lifecycle graph
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnplannedQuery is returned when a result arrives for a query that was never planned
	ErrUnplannedQuery = errors.New("query not in plan")

	// ErrNoReport is returned when a follow-up is requested before a report exists
	ErrNoReport = errors.New("task has no report")
)

// Status is the lifecycle state of a research task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusPlanning    Status = "planning"
	StatusSearching   Status = "searching"
	StatusWriting     Status = "writing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusFollowingUp Status = "following_up"
)

// Terminal reports whether the status admits no further pipeline work.
// A following_up task is not terminal: it returns to completed when its
// child finishes.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ResultStatus classifies how a single query's sub-pipeline resolved.
type ResultStatus string

const (
	ResultOK       ResultStatus = "ok"
	ResultFailed   ResultStatus = "failed"
	ResultFallback ResultStatus = "fallback"
)

// SearchOutcome is the resolved result of one planned query.
type SearchOutcome struct {
	Query    string       `json:"query"`
	Summary  string       `json:"summary,omitempty"`
	Sources  []string     `json:"sources,omitempty"`
	Provider string       `json:"provider,omitempty"`
	Status   ResultStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
}

// Report is the final synthesized output of a task.
type Report struct {
	Abstract          string   `json:"abstract"`
	Body              string   `json:"body"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// LogEntry is one timestamped human-readable event. Logs are for
// observability only and never drive control decisions.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// ResearchTask is the externally observable record of one research run.
// Snapshots of it are what pollers receive; the Machine owns the live copy.
type ResearchTask struct {
	ID             string                   `json:"id"`
	Topic          string                   `json:"topic"`
	Status         Status                   `json:"status"`
	Progress       int                      `json:"progress"`
	PlannedQueries []string                 `json:"planned_queries"`
	SearchResults  map[string]SearchOutcome `json:"search_results"`
	Report         *Report                  `json:"report,omitempty"`
	ReportPath     string                   `json:"report_path,omitempty"`
	Logs           []LogEntry               `json:"logs"`
	ParentID       string                   `json:"parent_id,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	CompletedAt    *time.Time               `json:"completed_at,omitempty"`
}
