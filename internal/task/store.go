package task

import (
	"sync"
)

// Store maps task ids to their machines. It is owned by the orchestrator
// instance: constructed once at startup, no ambient global.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*Machine
}

// NewStore creates an empty task store.
func NewStore() *Store {
	return &Store{tasks: make(map[string]*Machine)}
}

// Add registers a machine. The id is assigned at machine creation and never
// changes, so collisions do not occur in practice.
func (s *Store) Add(m *Machine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[m.ID()] = m
}

// Get returns the machine for an id.
func (s *Store) Get(id string) (*Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return m, nil
}

// Snapshot returns a consistent copy of the task record for pollers.
func (s *Store) Snapshot(id string) (ResearchTask, error) {
	m, err := s.Get(id)
	if err != nil {
		return ResearchTask{}, err
	}
	return m.Snapshot(), nil
}

// List returns snapshots of every known task, newest first.
func (s *Store) List() []ResearchTask {
	s.mu.RLock()
	machines := make([]*Machine, 0, len(s.tasks))
	for _, m := range s.tasks {
		machines = append(machines, m)
	}
	s.mu.RUnlock()

	out := make([]ResearchTask, 0, len(machines))
	for _, m := range machines {
		out = append(out, m.Snapshot())
	}
	for i := 0; i < len(out)-1; i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// Len returns the number of tracked tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
