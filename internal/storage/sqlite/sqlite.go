// Package sqlite persists the bot state in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"pod042/internal/models"
	"pod042/internal/storage"
	"pod042/migrations"
)

const versionKey = "schema_version"

// SQLiteDB implements storage.Storage using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (and creates) the database at dbPath
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer keeps saves serialized
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

// Initialize applies the embedded migrations
func (s *SQLiteDB) Initialize(ctx context.Context) error {
	return migrations.Up(s.db, "sqlite3")
}

// LoadSnapshot reads users and chats
func (s *SQLiteDB) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, versionKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: bad version %q", storage.ErrSchemaMismatch, raw)
	}

	snapshot := &models.Snapshot{
		Version: version,
		Users:   make(map[string]int64),
		Chats:   make(map[int64]*models.ChatState),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT handle, user_id FROM users`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	for rows.Next() {
		var handle string
		var id int64
		if err := rows.Scan(&handle, &id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		snapshot.Users[handle] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT chat_id, state_json FROM chats`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var chatID int64
		var payload string
		if err := rows.Scan(&chatID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		var state models.ChatState
		if err := json.Unmarshal([]byte(payload), &state); err != nil {
			return nil, fmt.Errorf("decode chat %d: %w", chatID, err)
		}
		snapshot.Chats[chatID] = &state
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	if err := storage.CheckVersion(snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// SaveSnapshot replaces all rows in one transaction
func (s *SQLiteDB) SaveSnapshot(ctx context.Context, snapshot *models.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, stmt := range []string{`DELETE FROM users`, `DELETE FROM chats`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear state: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		versionKey, strconv.Itoa(snapshot.Version)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}

	for handle, id := range snapshot.Users {
		if _, err := tx.ExecContext(ctx, `INSERT INTO users (handle, user_id) VALUES (?, ?)`, handle, id); err != nil {
			return fmt.Errorf("failed to save user %s: %w", handle, err)
		}
	}

	now := time.Now().Unix()
	for chatID, state := range snapshot.Chats {
		payload, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode chat %d: %w", chatID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chats (chat_id, state_json, updated_at) VALUES (?, ?, ?)`,
			chatID, string(payload), now); err != nil {
			return fmt.Errorf("failed to save chat %d: %w", chatID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
