// Package persistence opens the SQLite database shared by the checkpoint and
// memory stores and keeps its schema current.
package persistence

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite" // SQLite driver

	"aicoder/pkg/logx"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Open opens (creating if needed) the database at path and migrates it to
// CurrentSchemaVersion. It is safe to call repeatedly on the same file.
func Open(path string) (*sql.DB, error) {
	logger := logx.NewLogger("persistence")

	dsn := path
	if path != MemoryPath {
		dsn = "file:" + path
	}
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	if path != MemoryPath {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	dsn += "?" + params.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer; an in-memory database also lives
	// inside a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("database ready: %s (schema v%d)", path, CurrentSchemaVersion)
	return db, nil
}
