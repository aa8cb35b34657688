// Package file stores the bot state as one JSON document in the bot home.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"pod042/internal/models"
	"pod042/internal/storage"
)

// StateFile holds users and chats together, so a save is a single rename
const StateFile = "state.json"

// Store keeps state.json under dir
type Store struct {
	dir string
}

// New creates a file store rooted at dir
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Initialize creates the state directory
func (s *Store) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	return nil
}

// LoadSnapshot reads the state document. A missing file is ErrNotFound.
func (s *Store) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var snapshot models.Snapshot
	if err := readJSON(filepath.Join(s.dir, StateFile), &snapshot); err != nil {
		return nil, err
	}
	if snapshot.Users == nil {
		snapshot.Users = make(map[string]int64)
	}
	if snapshot.Chats == nil {
		snapshot.Chats = make(map[int64]*models.ChatState)
	}
	if err := storage.CheckVersion(&snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// SaveSnapshot writes the document to a temp file and renames it into place
func (s *Store) SaveSnapshot(ctx context.Context, snapshot *models.Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(s.dir, StateFile), snapshot); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Close does nothing for the file store
func (s *Store) Close() error {
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, filepath.Base(path))
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
