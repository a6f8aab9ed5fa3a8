package storage

import (
	"context"
	"sync"

	"github.com/example/ride-session/internal/models"
)

// TransitionStore persists matching transitions consumed from the audit
// stream.
type TransitionStore interface {
	SaveTransition(ctx context.Context, t models.Transition) error
	History(ctx context.Context, sessionKey string) ([]models.Transition, error)
}

type MemoryStore struct {
	mu          sync.RWMutex
	transitions map[string][]models.Transition
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transitions: make(map[string][]models.Transition)}
}

func (m *MemoryStore) SaveTransition(_ context.Context, t models.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[t.SessionKey] = append(m.transitions[t.SessionKey], t)
	return nil
}

// History returns a session's transitions in the order they were saved.
func (m *MemoryStore) History(_ context.Context, sessionKey string) ([]models.Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Transition, len(m.transitions[sessionKey]))
	copy(out, m.transitions[sessionKey])
	return out, nil
}
