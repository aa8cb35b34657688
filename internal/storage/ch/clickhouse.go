package ch

import (
	"context"
	"crypto/tls"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"pod042/internal/models"
	"pod042/internal/storage"
)

// ClickHouseDB stores snapshots as generations of append-only rows.
// A generation becomes visible only once its marker row in bot_snapshots
// is written, so partially written saves are ignored on load. The marker
// records how many rows the generation holds; older generations are deleted
// after a newer marker lands.
type ClickHouseDB struct {
	conn clickhouse.Conn

	mu      sync.Mutex
	lastGen uint64
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		DialTimeout: 10 * time.Second,
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	// Tables are managed via migrations (see cmd/migrate)
	return nil
}

// LoadSnapshot reads the newest complete generation
func (db *ClickHouseDB) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var (
		gen          uint64
		version      uint32
		users, chats uint32
	)
	row := db.conn.QueryRow(ctx, `SELECT generation, version, users, chats FROM bot_snapshots ORDER BY generation DESC LIMIT 1`)
	if err := row.Scan(&gen, &version, &users, &chats); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot marker: %w", err)
	}

	db.observe(gen)

	snapshot := &models.Snapshot{
		Version: int(version),
		Users:   make(map[string]int64),
		Chats:   make(map[int64]*models.ChatState),
	}

	rows, err := db.conn.Query(ctx, `SELECT handle, user_id FROM bot_users WHERE generation = ?`, gen)
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

	rows, err = db.conn.Query(ctx, `SELECT chat_id, state FROM bot_chats WHERE generation = ?`, gen)
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

	if len(snapshot.Users) != int(users) || len(snapshot.Chats) != int(chats) {
		return nil, fmt.Errorf("snapshot %d is incomplete: %d/%d users, %d/%d chats",
			gen, len(snapshot.Users), users, len(snapshot.Chats), chats)
	}

	if err := storage.CheckVersion(snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// SaveSnapshot writes a new generation and publishes it with a marker row
func (db *ClickHouseDB) SaveSnapshot(ctx context.Context, snapshot *models.Snapshot) error {
	gen := db.nextGeneration()

	if len(snapshot.Users) > 0 {
		batch, err := db.conn.PrepareBatch(ctx, `INSERT INTO bot_users (generation, handle, user_id)`)
		if err != nil {
			return fmt.Errorf("failed to prepare users batch: %w", err)
		}
		for handle, id := range snapshot.Users {
			if err := batch.Append(gen, handle, id); err != nil {
				batch.Abort()
				return fmt.Errorf("failed to append user %s: %w", handle, err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to save users: %w", err)
		}
	}

	if len(snapshot.Chats) > 0 {
		batch, err := db.conn.PrepareBatch(ctx, `INSERT INTO bot_chats (generation, chat_id, state)`)
		if err != nil {
			return fmt.Errorf("failed to prepare chats batch: %w", err)
		}
		for chatID, state := range snapshot.Chats {
			payload, err := json.Marshal(state)
			if err != nil {
				batch.Abort()
				return fmt.Errorf("encode chat %d: %w", chatID, err)
			}
			if err := batch.Append(gen, chatID, string(payload)); err != nil {
				batch.Abort()
				return fmt.Errorf("failed to append chat %d: %w", chatID, err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to save chats: %w", err)
		}
	}

	err := db.conn.Exec(ctx, `INSERT INTO bot_snapshots (generation, version, users, chats) VALUES (?, ?, ?, ?)`,
		gen, uint32(snapshot.Version), uint32(len(snapshot.Users)), uint32(len(snapshot.Chats)))
	if err != nil {
		return fmt.Errorf("failed to write snapshot marker: %w", err)
	}

	// The save is published; leftovers are retried by the next prune
	_ = db.prune(ctx, gen)
	return nil
}

// prune deletes every generation older than gen, markers last
func (db *ClickHouseDB) prune(ctx context.Context, gen uint64) error {
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"mutations_sync": 1,
	}))
	for _, table := range []string{"bot_users", "bot_chats", "bot_snapshots"} {
		if err := db.conn.Exec(ctx, "ALTER TABLE "+table+" DELETE WHERE generation < ?", gen); err != nil {
			return fmt.Errorf("failed to prune %s: %w", table, err)
		}
	}
	return nil
}

// nextGeneration returns a strictly increasing generation number
func (db *ClickHouseDB) nextGeneration() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()

	gen := uint64(time.Now().UnixNano())
	if gen <= db.lastGen {
		gen = db.lastGen + 1
	}
	db.lastGen = gen
	return gen
}

func (db *ClickHouseDB) observe(gen uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if gen > db.lastGen {
		db.lastGen = gen
	}
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
