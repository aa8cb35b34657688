package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pod042/internal/models"
	"pod042/internal/storage"
)

func setupTestDB(t *testing.T) *SQLiteDB {
	t.Helper()

	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Initialize(context.Background()))
	return db
}

func TestSQLiteDB_LoadEmpty(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLiteDB_SaveLoadRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	replyTo := 12
	want := models.NewSnapshot()
	want.Users["alice"] = 1
	want.Users["bob"] = 2
	want.Chats[-42] = &models.ChatState{
		Version:          models.StateVersion,
		Mode:             models.ModeWhatAnime,
		MessageIDToReply: &replyTo,
		VkGroups:         []models.VkGroup{{ID: 1, Name: "One", ScreenName: "one"}},
		Title:            "group",
		Members:          []string{"alice"},
	}

	require.NoError(t, db.SaveSnapshot(ctx, want))

	got, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLiteDB_SaveReplaces(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := models.NewSnapshot()
	first.Users["alice"] = 1
	first.Chats[1] = models.NewChatState("a")
	require.NoError(t, db.SaveSnapshot(ctx, first))

	second := models.NewSnapshot()
	second.Users["bob"] = 2
	require.NoError(t, db.SaveSnapshot(ctx, second))

	got, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"bob": 2}, got.Users)
	assert.Empty(t, got.Chats)
}

func TestSQLiteDB_InitializeIdempotent(t *testing.T) {
	db := setupTestDB(t)

	assert.NoError(t, db.Initialize(context.Background()))
}
