package storage

import (
	"context"
	"errors"
	"fmt"

	"pod042/internal/models"
)

var (
	// ErrNotFound is returned when nothing was saved yet
	ErrNotFound = errors.New("snapshot not found")
	// ErrSchemaMismatch is returned for snapshots of another schema version
	ErrSchemaMismatch = errors.New("snapshot schema version mismatch")
)

// Storage persists the user directory and chat sessions
type Storage interface {
	// LoadSnapshot returns the last saved snapshot. Implementations return
	// ErrNotFound when nothing was saved and ErrSchemaMismatch for records
	// of another version.
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)

	// SaveSnapshot replaces the saved state in one atomic step
	SaveSnapshot(ctx context.Context, snapshot *models.Snapshot) error

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}

// CheckVersion validates a decoded snapshot and fills nil maps
func CheckVersion(s *models.Snapshot) error {
	if s.Version != models.StateVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrSchemaMismatch, s.Version, models.StateVersion)
	}
	for id, chat := range s.Chats {
		if chat == nil {
			return fmt.Errorf("%w: chat %d has no state", ErrSchemaMismatch, id)
		}
		if chat.Version != models.StateVersion {
			return fmt.Errorf("%w: chat %d has version %d", ErrSchemaMismatch, id, chat.Version)
		}
	}
	if s.Users == nil {
		s.Users = make(map[string]int64)
	}
	if s.Chats == nil {
		s.Chats = make(map[int64]*models.ChatState)
	}
	return nil
}
