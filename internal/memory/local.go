package memory

import (
	"context"
	"sync"

	"github.com/bull/pdfchat/internal/domain"
)

// Local keeps sessions in process memory. History is lost on restart.
type Local struct {
	budget Budget

	mu       sync.Mutex
	sessions map[string][]domain.Turn
}

// NewLocal creates an in-process store with the given budget.
func NewLocal(budget Budget) (*Local, error) {
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	return &Local{budget: budget, sessions: make(map[string][]domain.Turn)}, nil
}

// Append implements Store.
func (m *Local) Append(ctx context.Context, namespace, sessionID string, turns ...domain.Turn) error {
	key, err := sessionKey(namespace, sessionID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key] = m.budget.fit(m.sessions[key], turns)
	return nil
}

// History implements Store.
func (m *Local) History(ctx context.Context, namespace, sessionID string) ([]domain.Turn, error) {
	key, err := sessionKey(namespace, sessionID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Turn{}, m.sessions[key]...), nil
}
