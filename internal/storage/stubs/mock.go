package stubs

import (
	"context"
	"sync"

	"pod042/internal/models"
	"pod042/internal/storage"
)

// MockDB is an in-memory implementation of the Storage interface for testing
type MockDB struct {
	mu       sync.RWMutex
	snapshot *models.Snapshot
	saves    int

	// LoadErr and SaveErr, when set, are returned instead of touching the data
	LoadErr error
	SaveErr error
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{}
}

// Initialize does nothing for mock DB
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// LoadSnapshot returns a copy of the last saved snapshot
func (m *MockDB) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.snapshot == nil {
		return nil, storage.ErrNotFound
	}
	out := copySnapshot(m.snapshot)
	if err := storage.CheckVersion(out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveSnapshot stores a copy of the snapshot
func (m *MockDB) SaveSnapshot(ctx context.Context, snapshot *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.snapshot = copySnapshot(snapshot)
	m.saves++
	return nil
}

// Saves returns how many times SaveSnapshot succeeded
func (m *MockDB) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}

func copySnapshot(s *models.Snapshot) *models.Snapshot {
	out := &models.Snapshot{
		Version: s.Version,
		Users:   make(map[string]int64, len(s.Users)),
		Chats:   make(map[int64]*models.ChatState, len(s.Chats)),
	}
	for k, v := range s.Users {
		out.Users[k] = v
	}
	for k, v := range s.Chats {
		out.Chats[k] = v.Clone()
	}
	return out
}
