package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// OpenSQLite opens or creates the default zero-configuration backend.
// WAL keeps readers from blocking the single writer; the busy timeout
// covers the brief write lock a checkpoint takes.
func OpenSQLite(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	// SQLite serializes writes anyway; one connection avoids
	// SQLITE_BUSY churn under concurrent appenders.
	db.SetMaxOpenConns(1)

	s := &DB{db: db, dialect: dialectSQLite, logger: logger}
	if err := s.initSQLite(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) initSQLite() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			content TEXT NOT NULL,
			first_message_id INTEGER NOT NULL DEFAULT 0,
			last_message_id INTEGER NOT NULL DEFAULT 0,
			token_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_conversation ON summaries(conversation_id)`,
		`CREATE TABLE IF NOT EXISTS tool_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL,
			tool_name TEXT NOT NULL,
			caller_id TEXT NOT NULL,
			caller_level TEXT NOT NULL,
			allowed BOOLEAN NOT NULL,
			reason TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initializing sqlite schema: %w", err)
		}
	}
	return nil
}
