package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pod042/internal/config"
	"pod042/internal/models"
	"pod042/internal/session"
	"pod042/internal/storage/file"
	"pod042/internal/storage/sqlite"
	"pod042/internal/storage/stubs"
)

type fakeSink struct {
	updates []tgbotapi.Update
	err     error
}

func (f *fakeSink) Enqueue(_ context.Context, update tgbotapi.Update) error {
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, update)
	return nil
}

func testApp(sink updateSink) *App {
	return &App{
		config: &config.Config{Port: "0"},
		logger: zap.NewNop(),
		sink:   sink,
	}
}

func TestNewStorage(t *testing.T) {
	home := t.TempDir()

	tests := []struct {
		backend string
		check   func(t *testing.T, st any)
	}{
		{backend: config.StorageMock, check: func(t *testing.T, st any) { assert.IsType(t, &stubs.MockDB{}, st) }},
		{backend: config.StorageFile, check: func(t *testing.T, st any) { assert.IsType(t, &file.Store{}, st) }},
		{backend: config.StorageSQLite, check: func(t *testing.T, st any) { assert.IsType(t, &sqlite.SQLiteDB{}, st) }},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := &config.Config{
				Home:           home,
				StorageBackend: tt.backend,
				SQLitePath:     filepath.Join(home, "state.db"),
			}
			st, err := newStorage(cfg, zap.NewNop())
			require.NoError(t, err)
			defer st.Close()
			tt.check(t, st)
		})
	}

	_, err := newStorage(&config.Config{StorageBackend: "floppy"}, zap.NewNop())
	assert.Error(t, err)
}

func TestPrepareHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "pod042")

	require.NoError(t, prepareHome(home))
	require.NoError(t, prepareHome(home))

	entries, err := os.ReadDir(home)
	require.NoError(t, err)
	assert.Empty(t, entries, "home must not get a staging directory")
}

func TestShutdownPersistsState(t *testing.T) {
	db := stubs.NewMockDB()
	store := session.NewStore(zap.NewNop())
	store.SetMode(1, models.ModeIqdb, nil)

	a := testApp(&fakeSink{})
	a.db = db
	a.store = store

	require.NoError(t, a.Shutdown())
	assert.Equal(t, 1, db.Saves())

	restored := session.NewStore(zap.NewNop())
	restored.Restore(context.Background(), db)
	assert.Equal(t, models.ModeIqdb, restored.Mode(1))
}

func TestRoutes(t *testing.T) {
	sink := &fakeSink{}
	handler := testApp(sink).routes()

	t.Run("root", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Pod 042 bot is running (mode: polling)", rec.Body.String())
	})

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("webhook", func(t *testing.T) {
		rec := httptest.NewRecorder()
		body := `{"update_id":7,"message":{"message_id":1,"chat":{"id":-5,"type":"group"},"text":"hi"}}`
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader(body)))

		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, sink.updates, 1)
		assert.Equal(t, 7, sink.updates[0].UpdateID)
		assert.Equal(t, int64(-5), sink.updates[0].Message.Chat.ID)
	})

	t.Run("webhook bad json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader("{")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("webhook wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telegram-webhook", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestRoutes_EnqueueFailure(t *testing.T) {
	handler := testApp(&fakeSink{err: errors.New("stopped")}).routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader(`{"update_id":1}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
