// Package orchestrator drives research tasks end to end: plan, concurrent
// search, synthesis, optional follow-up rounds. Every failure lands in the
// task record as terminal state; nothing escapes to pollers as a panic or
// propagated error.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/researchforge/researchd/internal/agents"
	"github.com/researchforge/researchd/internal/executor"
	"github.com/researchforge/researchd/internal/metrics"
	"github.com/researchforge/researchd/internal/task"
)

// Persister files completed reports. Persistence failures are logged on the
// task but never fail it: the report content itself was produced.
type Persister interface {
	Save(taskID, topic string, r *task.Report) (string, error)
}

// Manager owns the task store and wires the pipeline stages together.
type Manager struct {
	store     *task.Store
	planner   *agents.Planner
	writer    *agents.Writer
	executor  *executor.Executor
	persister Persister
	logger    *zap.Logger

	wg sync.WaitGroup
}

// New builds a manager. persister may be nil to disable report persistence.
func New(store *task.Store, planner *agents.Planner, writer *agents.Writer, exec *executor.Executor, persister Persister, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		planner:   planner,
		writer:    writer,
		executor:  exec,
		persister: persister,
		logger:    logger,
	}
}

// StartResearch creates a task for topic and runs its pipeline in the
// background. The returned id is immediately pollable.
func (m *Manager) StartResearch(topic string) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", agents.ErrEmptyTopic
	}

	machine := task.New(topic, "", m.logger)
	m.store.Add(machine)
	metrics.TasksStarted.WithLabelValues("root").Inc()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(context.Background(), machine, nil)
	}()
	return machine.ID(), nil
}

// RequestFollowUp spawns a child task whose queries are the parent's
// follow-up questions, skipping the planner. The parent shows following_up
// until the child terminates, then returns to completed with its own report
// untouched.
func (m *Manager) RequestFollowUp(taskID string) (string, error) {
	parent, err := m.store.Get(taskID)
	if err != nil {
		return "", err
	}
	report := parent.Report()
	if report == nil || len(report.FollowUpQuestions) == 0 {
		return "", task.ErrNoReport
	}

	child := task.New(parent.Topic(), parent.ID(), m.logger)
	if err := parent.MarkFollowingUp(child.ID()); err != nil {
		return "", err
	}
	m.store.Add(child)
	metrics.TasksStarted.WithLabelValues("follow_up").Inc()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(context.Background(), child, report.FollowUpQuestions)
		if err := parent.ResumeCompleted(child.Status()); err != nil {
			m.logger.Error("Failed to restore parent after follow-up",
				zap.String("parent_id", parent.ID()),
				zap.Error(err),
			)
		}
	}()
	return child.ID(), nil
}

// GetTaskSnapshot returns a consistent read-only copy for polling consumers.
func (m *Manager) GetTaskSnapshot(taskID string) (task.ResearchTask, error) {
	return m.store.Snapshot(taskID)
}

// ListTasks returns snapshots of all known tasks, newest first.
func (m *Manager) ListTasks() []task.ResearchTask {
	return m.store.List()
}

// Wait blocks until all in-flight task pipelines have finished. Used for
// graceful shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// run advances one task through the pipeline. presetQueries short-circuits
// planning for follow-up children, whose questions already are queries.
func (m *Manager) run(ctx context.Context, machine *task.Machine, presetQueries []string) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Task pipeline panicked",
				zap.String("task_id", machine.ID()),
				zap.Any("panic", r),
			)
			m.fail(machine, &panicError{val: r})
		}
		metrics.TaskDuration.Observe(time.Since(start).Seconds())
		metrics.TasksCompleted.WithLabelValues(string(machine.Status())).Inc()
	}()

	if err := machine.MarkPlanning(); err != nil {
		m.fail(machine, err)
		return
	}

	queries := presetQueries
	if queries == nil {
		plan, err := m.planner.Plan(ctx, machine.Topic())
		if err != nil {
			m.fail(machine, err)
			return
		}
		queries = plan.QueryStrings()
		metrics.PlannedQueries.Observe(float64(len(queries)))
	} else {
		machine.Logf("Follow-up round: %d queries taken from parent report", len(queries))
	}

	if err := machine.MarkSearching(queries); err != nil {
		m.fail(machine, err)
		return
	}
	// The machine deduplicates the plan; run exactly what it accepted.
	queries = machine.Snapshot().PlannedQueries
	if err := m.executor.Run(ctx, machine, machine.Topic(), queries); err != nil {
		m.fail(machine, err)
		return
	}
	if err := machine.MarkWriting(); err != nil {
		m.fail(machine, err)
		return
	}

	snap := machine.Snapshot()
	report, err := m.writer.Compose(ctx, machine.Topic(), snap.PlannedQueries, executor.Summaries(snap))
	if err != nil {
		m.fail(machine, err)
		return
	}
	if err := machine.Complete(report); err != nil {
		m.fail(machine, err)
		return
	}

	if m.persister != nil {
		path, err := m.persister.Save(machine.ID(), machine.Topic(), report)
		if err != nil {
			// Deliberately non-fatal: the in-memory report stands.
			machine.Logf("Warning: report persistence failed: %v", err)
		} else {
			machine.SetReportPath(path)
		}
	}
}

func (m *Manager) fail(machine *task.Machine, cause error) {
	if err := machine.Fail(cause); err != nil {
		m.logger.Error("Failed to mark task failed",
			zap.String("task_id", machine.ID()),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}

type panicError struct{ val interface{} }

func (p *panicError) Error() string { return fmt.Sprintf("internal pipeline panic: %v", p.val) }
