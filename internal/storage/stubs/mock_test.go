package stubs

import (
	"context"
	"errors"
	"testing"

	"pod042/internal/models"
	"pod042/internal/storage"
)

func TestMockDB_LoadEmpty(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	if err := db.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	_, err := db.LoadSnapshot(ctx)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMockDB_SaveLoad(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	snapshot := models.NewSnapshot()
	snapshot.Users["alice"] = 42
	snapshot.Chats[7] = models.NewChatState("chat")

	if err := db.SaveSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}

	// Mutating the original after save must not leak into storage
	snapshot.Users["bob"] = 43
	snapshot.Chats[7].Mode = models.ModeIqdb

	loaded, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("Failed to load snapshot: %v", err)
	}

	if len(loaded.Users) != 1 || loaded.Users["alice"] != 42 {
		t.Errorf("Expected only alice=42, got %v", loaded.Users)
	}
	if loaded.Chats[7].Mode != models.ModeIdle {
		t.Errorf("Expected stored chat to stay idle, got %q", loaded.Chats[7].Mode)
	}
	if db.Saves() != 1 {
		t.Errorf("Expected 1 save, got %d", db.Saves())
	}
}

func TestMockDB_InjectedErrors(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()
	boom := errors.New("boom")

	db.SaveErr = boom
	if err := db.SaveSnapshot(ctx, models.NewSnapshot()); !errors.Is(err, boom) {
		t.Errorf("Expected injected save error, got %v", err)
	}

	db.LoadErr = boom
	if _, err := db.LoadSnapshot(ctx); !errors.Is(err, boom) {
		t.Errorf("Expected injected load error, got %v", err)
	}
}
