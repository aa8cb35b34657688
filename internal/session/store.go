// Package session keeps the user directory and per-chat workflow state.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"pod042/internal/models"
	"pod042/internal/storage"
)

// Store owns the user directory and the chat sessions. It is safe for
// concurrent use; callers only ever see copies of the chat records.
type Store struct {
	mu     sync.RWMutex
	users  map[string]int64
	chats  map[int64]*models.ChatState
	logger *zap.Logger
}

// NewStore creates an empty store
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		users:  make(map[string]int64),
		chats:  make(map[int64]*models.ChatState),
		logger: logger,
	}
}

// NormalizeHandle strips the leading @ and surrounding spaces
func NormalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}

// RememberUser records the id behind a handle. Later ids overwrite earlier ones.
func (s *Store) RememberUser(handle string, id int64) {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[handle] = id
}

// LookupUser returns the id remembered for handle
func (s *Store) LookupUser(handle string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.users[NormalizeHandle(handle)]
	return id, ok
}

// Chat returns a copy of the chat record, creating it on first sight.
// A non-empty title replaces the stored one.
func (s *Store) Chat(chatID int64, title string) *models.ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatLocked(chatID, title).Clone()
}

// Observe records that handle wrote in chatID
func (s *Store) Observe(chatID int64, title, handle string, userID int64) {
	handle = NormalizeHandle(handle)

	s.mu.Lock()
	defer s.mu.Unlock()

	chat := s.chatLocked(chatID, title)
	if handle == "" {
		return
	}
	s.users[handle] = userID
	if !chat.HasMember(handle) {
		chat.Members = append(chat.Members, handle)
	}
}

func (s *Store) chatLocked(chatID int64, title string) *models.ChatState {
	chat, ok := s.chats[chatID]
	if !ok {
		chat = models.NewChatState(title)
		s.chats[chatID] = chat
	}
	if title != "" && chat.Title != title {
		chat.Title = title
	}
	return chat
}

// Update applies fn to the chat record under the write lock and returns a copy
// of the result. fn must not call back into the store.
func (s *Store) Update(chatID int64, fn func(state *models.ChatState)) *models.ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.chatLocked(chatID, "")
	fn(chat)
	return chat.Clone()
}

// Mode returns the chat's workflow. Unknown chats are idle.
func (s *Store) Mode(chatID int64) models.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return models.ModeIdle
	}
	return chat.Mode
}

// SetMode opens a workflow. replyTo is the bot prompt the user should answer, if any.
func (s *Store) SetMode(chatID int64, mode models.Mode, replyTo *int) {
	s.Update(chatID, func(state *models.ChatState) {
		state.Mode = mode
		state.MessageIDToReply = nil
		if replyTo != nil {
			id := *replyTo
			state.MessageIDToReply = &id
		}
	})
}

// Abort resets the chat to idle and returns the workflow that was open
func (s *Store) Abort(chatID int64) models.Mode {
	var previous models.Mode
	s.Update(chatID, func(state *models.ChatState) {
		previous = state.Mode
		state.Mode = models.ModeIdle
		state.MessageIDToReply = nil
	})
	return previous
}

// Counts returns how many users and chats are known
func (s *Store) Counts() (users, chats int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), len(s.chats)
}

// Snapshot returns a deep copy of everything the store holds
func (s *Store) Snapshot() *models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := models.NewSnapshot()
	for k, v := range s.users {
		out.Users[k] = v
	}
	for k, v := range s.chats {
		out.Chats[k] = v.Clone()
	}
	return out
}

// Replace swaps the store contents for a copy of snapshot
func (s *Store) Replace(snapshot *models.Snapshot) {
	users := make(map[string]int64, len(snapshot.Users))
	for k, v := range snapshot.Users {
		users[k] = v
	}
	chats := make(map[int64]*models.ChatState, len(snapshot.Chats))
	for k, v := range snapshot.Chats {
		if v == nil {
			continue
		}
		chats[k] = v.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = users
	s.chats = chats
}

// Restore loads the saved state once. Any failure leaves the store empty;
// the bot keeps running either way.
func (s *Store) Restore(ctx context.Context, st storage.Storage) {
	snapshot, err := st.LoadSnapshot(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info("No saved state, starting fresh")
		s.Replace(models.NewSnapshot())
		return
	case errors.Is(err, storage.ErrSchemaMismatch):
		s.logger.Warn("Saved state has another schema version, discarding it", zap.Error(err))
		s.Replace(models.NewSnapshot())
		return
	case err != nil:
		s.logger.Error("Failed to load saved state, starting fresh", zap.Error(err))
		s.Replace(models.NewSnapshot())
		return
	}

	s.Replace(snapshot)
	users, chats := s.Counts()
	s.logger.Info("State restored", zap.Int("users", users), zap.Int("chats", chats))
}

// Persist saves the current state once
func (s *Store) Persist(ctx context.Context, st storage.Storage) error {
	snapshot := s.Snapshot()
	if err := st.SaveSnapshot(ctx, snapshot); err != nil {
		s.logger.Error("Failed to save state", zap.Error(err))
		return err
	}
	s.logger.Info("State saved",
		zap.Int("users", len(snapshot.Users)),
		zap.Int("chats", len(snapshot.Chats)),
	)
	return nil
}
