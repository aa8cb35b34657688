package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pod042/internal/models"
	"pod042/internal/storage/file"
	"pod042/internal/storage/stubs"
)

func newTestStore() *Store {
	return NewStore(zap.NewNop())
}

func TestStore_UnseenChatIsIdle(t *testing.T) {
	s := newTestStore()

	assert.Equal(t, models.ModeIdle, s.Mode(12345))
	assert.True(t, InMode(nil, models.ModeIdle))
	assert.True(t, InMode(s.Chat(12345, ""), models.ModeIdle))
}

func TestStore_SetModeThenAbort(t *testing.T) {
	modes := []models.Mode{
		models.ModeWhatAnime,
		models.ModeIqdb,
		models.ModeConfigureVkGroups,
		models.ModeConfigureVkGroupsAdd,
		models.ModeSoundboardJojo,
		models.ModeSoundboardGachi,
	}

	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			s := newTestStore()
			replyTo := 77

			s.SetMode(1, mode, &replyTo)
			state := s.Chat(1, "")
			assert.True(t, InMode(state, mode))
			require.NotNil(t, state.MessageIDToReply)
			assert.Equal(t, 77, *state.MessageIDToReply)

			previous := s.Abort(1)
			assert.Equal(t, mode, previous)
			assert.Equal(t, models.ModeIdle, s.Mode(1))
			assert.Nil(t, s.Chat(1, "").MessageIDToReply)
		})
	}
}

func TestStore_ChatCreatesDefaults(t *testing.T) {
	s := newTestStore()

	state := s.Chat(-100, "group")
	assert.Equal(t, models.StateVersion, state.Version)
	assert.Equal(t, "group", state.Title)
	assert.Equal(t, models.DefaultVkGroups(), state.VkGroups)

	// Empty title keeps the stored one
	assert.Equal(t, "group", s.Chat(-100, "").Title)
	assert.Equal(t, "renamed", s.Chat(-100, "renamed").Title)
}

func TestStore_ChatReturnsCopy(t *testing.T) {
	s := newTestStore()

	state := s.Chat(1, "")
	state.Mode = models.ModeIqdb
	state.VkGroups[0].Name = "changed"

	fresh := s.Chat(1, "")
	assert.Equal(t, models.ModeIdle, fresh.Mode)
	assert.Equal(t, "Sailor fuku", fresh.VkGroups[0].Name)
}

func TestStore_Users(t *testing.T) {
	s := newTestStore()

	s.RememberUser("@alice", 1)
	s.RememberUser("", 2)

	id, ok := s.LookupUser("alice")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	id, ok = s.LookupUser("@alice")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	_, ok = s.LookupUser("bob")
	assert.False(t, ok)

	users, _ := s.Counts()
	assert.Equal(t, 1, users)
}

func TestStore_Observe(t *testing.T) {
	s := newTestStore()

	s.Observe(5, "chat", "alice", 10)
	s.Observe(5, "chat", "alice", 10)
	s.Observe(5, "chat", "", 11)

	state := s.Chat(5, "")
	assert.Equal(t, []string{"alice"}, state.Members)

	users, chats := s.Counts()
	assert.Equal(t, 1, users)
	assert.Equal(t, 1, chats)
}

func TestStore_Update(t *testing.T) {
	s := newTestStore()

	out := s.Update(3, func(state *models.ChatState) {
		state.VkGroups = nil
	})
	assert.Empty(t, out.VkGroups)
	assert.Empty(t, s.Chat(3, "").VkGroups)
}

func TestStore_PersistRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := stubs.NewMockDB()

	s := newTestStore()
	s.Observe(-1, "group", "alice", 1)
	s.RememberUser("bob", 2)
	replyTo := 9
	s.SetMode(-1, models.ModeWhatAnime, &replyTo)

	require.NoError(t, s.Persist(ctx, db))
	assert.Equal(t, 1, db.Saves())

	restored := newTestStore()
	restored.Restore(ctx, db)

	assert.Equal(t, s.Snapshot(), restored.Snapshot())
	assert.Equal(t, models.ModeWhatAnime, restored.Mode(-1))
}

func TestStore_RestoreFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := file.New(t.TempDir())
	require.NoError(t, db.Initialize(ctx))

	s := newTestStore()
	s.Observe(42, "", "carol", 3)
	require.NoError(t, s.Persist(ctx, db))

	restored := newTestStore()
	restored.Restore(ctx, db)
	assert.Equal(t, s.Snapshot(), restored.Snapshot())
}

func TestStore_RestoreFallsBackToEmpty(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, dir string)
	}{
		{
			name:  "missing files",
			setup: func(t *testing.T, dir string) {},
		},
		{
			name: "corrupt document",
			setup: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, file.StateFile), []byte(`{"version":1,"users":{},"chats":`), 0o644))
			},
		},
		{
			name: "other schema version",
			setup: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, file.StateFile), []byte(`{"version":99,"users":{"a":1},"chats":{}}`), 0o644))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setup(t, dir)

			s := newTestStore()
			s.RememberUser("stale", 1)
			s.Restore(context.Background(), file.New(dir))

			users, chats := s.Counts()
			assert.Zero(t, users)
			assert.Zero(t, chats)
			assert.Equal(t, models.ModeIdle, s.Mode(1))
		})
	}
}

func TestStore_RestoreLoadError(t *testing.T) {
	db := stubs.NewMockDB()
	db.LoadErr = errors.New("disk on fire")

	s := newTestStore()
	s.Restore(context.Background(), db)

	users, chats := s.Counts()
	assert.Zero(t, users)
	assert.Zero(t, chats)
}

func TestStore_PersistError(t *testing.T) {
	db := stubs.NewMockDB()
	db.SaveErr = errors.New("read-only")

	err := newTestStore().Persist(context.Background(), db)
	assert.ErrorIs(t, err, db.SaveErr)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := newTestStore()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chatID := int64(i % 4)
			s.Observe(chatID, "", "user", int64(i))
			s.SetMode(chatID, models.ModeIqdb, nil)
			_ = s.Snapshot()
			s.Abort(chatID)
		}(i)
	}
	wg.Wait()

	_, chats := s.Counts()
	assert.Equal(t, 4, chats)
}

func TestGate(t *testing.T) {
	state := models.NewChatState("")

	state.Mode = models.ModeConfigureVkGroupsAdd
	assert.True(t, InVkConfiguration(state))
	assert.False(t, InSoundboard(state))

	state.Mode = models.ModeSoundboardGachi
	assert.True(t, InSoundboard(state))
	assert.False(t, InMode(state, models.ModeSoundboardJojo))

	assert.False(t, InVkConfiguration(nil))
}
