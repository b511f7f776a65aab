package llm

import (
	"context"
	"sync"
)

// Mock is a scripted Client for tests. Responses are dequeued per role;
// when a role's queue is empty the fallback func (if any) is consulted.
type Mock struct {
	mu        sync.Mutex
	responses map[string][]string
	errs      map[string]error
	calls     map[string]int
	Fallback  func(req Request) (string, error)
}

// NewMock creates an empty mock.
func NewMock() *Mock {
	return &Mock{
		responses: make(map[string][]string),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

// Queue appends scripted response texts for a role.
func (m *Mock) Queue(role string, texts ...string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[role] = append(m.responses[role], texts...)
	return m
}

// FailRole makes every call for a role return err once queued texts run out.
func (m *Mock) FailRole(role string, err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[role] = err
	return m
}

// Calls returns how many times a role was invoked.
func (m *Mock) Calls(role string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[role]
}

// Complete implements Client.
func (m *Mock) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls[req.Role]++
	if queue := m.responses[req.Role]; len(queue) > 0 {
		text := queue[0]
		m.responses[req.Role] = queue[1:]
		m.mu.Unlock()
		return &Response{Text: text, Model: "mock"}, nil
	}
	if err, ok := m.errs[req.Role]; ok {
		m.mu.Unlock()
		return nil, err
	}
	fallback := m.Fallback
	m.mu.Unlock()

	if fallback != nil {
		text, err := fallback(req)
		if err != nil {
			return nil, err
		}
		return &Response{Text: text, Model: "mock"}, nil
	}
	return nil, ErrUnavailable
}
