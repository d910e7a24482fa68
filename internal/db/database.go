// Package db opens the SQLite database backing the slidegen server.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Open opens (creating if needed) the SQLite database at dbPath and ensures
// the schema exists. ":memory:" opens a private in-memory database.
func Open(dbPath string, log *zap.Logger) (*sql.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dsn := "file::memory:?_foreign_keys=1"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?_foreign_keys=1&_busy_timeout=5000"
	}

	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time
	database.SetMaxOpenConns(1)

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createTables(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Info("Database initialized", zap.String("path", dbPath))
	return database, nil
}

var schema = []struct {
	name string
	stmt string
}{
	{"presentations", `
	CREATE TABLE IF NOT EXISTS presentations (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL DEFAULT '',
		visual_style TEXT NOT NULL DEFAULT '',
		theme_id TEXT NOT NULL DEFAULT '',
		layout TEXT NOT NULL DEFAULT '',
		view_mode TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`},
	{"slides", `
	CREATE TABLE IF NOT EXISTS slides (
		id TEXT PRIMARY KEY,
		presentation_id TEXT NOT NULL REFERENCES presentations(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '[]',
		image_prompt TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		layout_variant INTEGER NOT NULL DEFAULT 0,
		image_task_id TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`},
	{"idx_slides_presentation", `CREATE INDEX IF NOT EXISTS idx_slides_presentation ON slides(presentation_id, position);`},
	{"image_tasks", `
	CREATE TABLE IF NOT EXISTS image_tasks (
		id TEXT PRIMARY KEY,
		presentation_id TEXT NOT NULL REFERENCES presentations(id) ON DELETE CASCADE,
		slide_id TEXT NOT NULL REFERENCES slides(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`},
	{"idx_image_tasks_status", `CREATE INDEX IF NOT EXISTS idx_image_tasks_status ON image_tasks(status, updated_at);`},
}

func createTables(database *sql.DB) error {
	for _, s := range schema {
		if _, err := database.Exec(s.stmt); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.name, err)
		}
	}
	return nil
}
