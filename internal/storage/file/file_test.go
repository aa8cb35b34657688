package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pod042/internal/models"
	"pod042/internal/storage"
)

func sampleSnapshot() *models.Snapshot {
	replyTo := 77
	s := models.NewSnapshot()
	s.Users["alice"] = 1001
	s.Users["bob"] = 1002
	s.Chats[-100500] = &models.ChatState{
		Version:          models.StateVersion,
		Mode:             models.ModeConfigureVkGroupsAdd,
		MessageIDToReply: &replyTo,
		VkGroups:         models.DefaultVkGroups(),
		Title:            "anime club",
		Members:          []string{"alice", "bob"},
	}
	s.Chats[1001] = models.NewChatState("")
	return s
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := New(t.TempDir())
	require.NoError(t, st.Initialize(ctx))

	want := sampleSnapshot()
	require.NoError(t, st.SaveSnapshot(ctx, want))

	got, err := st.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_SaveIsStable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st := New(dir)

	require.NoError(t, st.SaveSnapshot(ctx, sampleSnapshot()))
	first, err := os.ReadFile(filepath.Join(dir, StateFile))
	require.NoError(t, err)

	loaded, err := st.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, st.SaveSnapshot(ctx, loaded))
	second, err := os.ReadFile(filepath.Join(dir, StateFile))
	require.NoError(t, err)

	assert.Equal(t, first, second, "save-load-save must be byte-for-byte identical")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files should be left behind")
	assert.Equal(t, StateFile, entries[0].Name())
}

func TestStore_SaveWritesOneDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, New(dir).SaveSnapshot(ctx, sampleSnapshot()))

	raw, err := os.ReadFile(filepath.Join(dir, StateFile))
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "version")
	assert.Contains(t, doc, "users")
	assert.Contains(t, doc, "chats")
}

func TestStore_LoadEmptyMaps(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFile), []byte(`{"version":1}`), 0o644))

	got, err := New(dir).LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.NewSnapshot(), got)
}

func TestStore_LoadMissing(t *testing.T) {
	st := New(t.TempDir())

	_, err := st.LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_LoadCorrupt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st := New(dir)
	require.NoError(t, st.SaveSnapshot(ctx, sampleSnapshot()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFile), []byte("\x80\x04\x95pickle"), 0o644))

	_, err := st.LoadSnapshot(ctx)
	assert.Error(t, err)
}

func TestStore_LoadOtherVersion(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st := New(dir)

	old := sampleSnapshot()
	old.Version = models.StateVersion + 1
	require.NoError(t, st.SaveSnapshot(ctx, old))

	_, err := st.LoadSnapshot(ctx)
	assert.ErrorIs(t, err, storage.ErrSchemaMismatch)
}
