package storage

import (
	"context"
	"sync"

	"vtuber-backend/internal/model"
)

type MemoryStorage struct {
	history     map[string][]model.Message
	maxMessages int
	mu          sync.RWMutex
}

// NewMemoryStorage keeps at most maxMessages per key; zero keeps all.
func NewMemoryStorage(maxMessages int) *MemoryStorage {
	return &MemoryStorage{
		history:     make(map[string][]model.Message),
		maxMessages: maxMessages,
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Append(_ context.Context, key string, messages ...model.Message) error {
	if err := validateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history[key] = trim(append(m.history[key], messages...), m.maxMessages)
	return nil
}

func (m *MemoryStorage) Recent(_ context.Context, key string, n int) ([]model.Message, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return clone(trim(m.history[key], n)), nil
}

func (m *MemoryStorage) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.history, key)
	return nil
}

func trim(messages []model.Message, n int) []model.Message {
	if n > 0 && len(messages) > n {
		return messages[len(messages)-n:]
	}
	return messages
}

func clone(messages []model.Message) []model.Message {
	out := make([]model.Message, len(messages))
	copy(out, messages)
	return out
}
