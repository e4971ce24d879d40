package state

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu   sync.RWMutex
	rows map[string]DialogState
}

// NewMemoryStore constructs an in-memory Store for tests and development.
func NewMemoryStore() Store {
	return &memoryStore{rows: make(map[string]DialogState)}
}

// Get returns a copy of the stored row so callers cannot mutate shared state.
func (m *memoryStore) Get(_ context.Context, chatID, userID int64) (*DialogState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[key(chatID, userID)]
	if !ok {
		return nil, nil
	}
	row.Step = cloneString(row.Step)
	row.Content = cloneString(row.Content)
	return &row, nil
}

// Save replaces the row for the identity.
func (m *memoryStore) Save(_ context.Context, chatID, userID int64, step, content *string) error {
	row := DialogState{
		ChatID:    chatID,
		UserID:    userID,
		Step:      cloneString(step),
		Content:   cloneString(content),
		UpdatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.rows[key(chatID, userID)] = row
	m.mu.Unlock()
	return nil
}
