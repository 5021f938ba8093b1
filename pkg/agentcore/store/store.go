// Package store is the runtime's durable relational layer:
// conversations, their messages, compaction summaries, and the tool
// audit trail. Two backends share one implementation over
// database/sql — SQLite as the zero-configuration default and
// PostgreSQL for multi-instance deployments.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/agentcore/runtime/pkg/agentcore/toolguard"
)

// MessageRow is one persisted conversation message.
type MessageRow struct {
	ID             int64
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// SummaryRow is one persisted compaction summary.
type SummaryRow struct {
	ConversationID string
	Content        string
	FirstMessageID int64
	LastMessageID  int64
	TokenCount     int
	CreatedAt      time.Time
}

// dialect selects the placeholder style for the backend in use.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// DB is the shared implementation behind both backends.
type DB struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// rebind rewrites ? placeholders to $1..$n for PostgreSQL. Queries in
// this package are written with ? and no string literals containing ?.
func (s *DB) rebind(query string) string {
	if s.dialect == dialectSQLite {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// Close releases the underlying connection pool.
func (s *DB) Close() error { return s.db.Close() }

// CreateConversation inserts a new conversation and returns its id.
func (s *DB) CreateConversation(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	if s.dialect == dialectPostgres {
		var id int64
		err := s.queryRow(ctx,
			"INSERT INTO conversations (created_at) VALUES (?) RETURNING id", now).Scan(&id)
		if err != nil {
			return "", fmt.Errorf("creating conversation: %w", err)
		}
		return strconv.FormatInt(id, 10), nil
	}
	res, err := s.exec(ctx, "INSERT INTO conversations (created_at) VALUES (?)", now)
	if err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("reading conversation id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// LatestConversation returns the most recently created conversation
// id, or ("", sql.ErrNoRows wrapped) when none exist.
func (s *DB) LatestConversation(ctx context.Context) (string, error) {
	var id int64
	err := s.queryRow(ctx, "SELECT id FROM conversations ORDER BY id DESC LIMIT 1").Scan(&id)
	if err != nil {
		return "", fmt.Errorf("loading latest conversation: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// AppendMessage persists one message row.
func (s *DB) AppendMessage(ctx context.Context, conversationID, role, content string) error {
	_, err := s.exec(ctx,
		"INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)",
		conversationID, role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// LoadConversation returns every message of a conversation in append
// order.
func (s *DB) LoadConversation(ctx context.Context, conversationID string) ([]MessageRow, error) {
	rows, err := s.query(ctx,
		"SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var m MessageRow
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveSummary persists one compaction summary.
func (s *DB) SaveSummary(ctx context.Context, sum SummaryRow) error {
	_, err := s.exec(ctx,
		"INSERT INTO summaries (conversation_id, content, first_message_id, last_message_id, token_count, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		sum.ConversationID, sum.Content, sum.FirstMessageID, sum.LastMessageID, sum.TokenCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}
	return nil
}

// LoadSummaries returns a conversation's summaries newest first, in
// the shape the context preparer packs from. Satisfies
// contextprep.SummaryStore.
func (s *DB) LoadSummaries(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.query(ctx,
		"SELECT content FROM summaries WHERE conversation_id = ? ORDER BY id DESC",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading summaries for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// Append satisfies toolguard.AuditSink: every tool dispatch decision
// lands in the audit table, allowed or not.
func (s *DB) Append(entry toolguard.AuditEntry) error {
	_, err := s.exec(context.Background(),
		"INSERT INTO tool_audit (ts, tool_name, caller_id, caller_level, allowed, reason) VALUES (?, ?, ?, ?, ?, ?)",
		entry.Timestamp.UTC(), entry.ToolName, entry.CallerID, entry.CallerLevel.String(), entry.Allowed, entry.Reason)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// AuditCount returns how many audit rows have been recorded, for the
// /skills statistics surface.
func (s *DB) AuditCount(ctx context.Context) (int, error) {
	var n int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM tool_audit").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting audit entries: %w", err)
	}
	return n, nil
}
