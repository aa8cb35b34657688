// Package migrations embeds the goose migrations of every SQL back end.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed clickhouse/*.sql sqlite/*.sql
var FS embed.FS

// Dialects maps a goose dialect to its migrations directory
var Dialects = map[string]string{
	"clickhouse": "clickhouse",
	"sqlite3":    "sqlite",
}

// Dir returns the migrations directory for dialect
func Dir(dialect string) (string, error) {
	dir, ok := Dialects[dialect]
	if !ok {
		return "", fmt.Errorf("no migrations for dialect %q", dialect)
	}
	return dir, nil
}

// Prepare points goose at the embedded migrations for dialect
func Prepare(dialect string) (string, error) {
	dir, err := Dir(dialect)
	if err != nil {
		return "", err
	}
	goose.SetBaseFS(FS)
	if err := goose.SetDialect(dialect); err != nil {
		return "", fmt.Errorf("failed to set dialect: %w", err)
	}
	return dir, nil
}

// Up applies all pending migrations for dialect
func Up(db *sql.DB, dialect string) error {
	dir, err := Prepare(dialect)
	if err != nil {
		return err
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
