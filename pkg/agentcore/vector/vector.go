// Package vector is the semantic-search backend behind recall,
// cross-session, and code-context injection. SQLite holds the chunks;
// search is hybrid — in-process cosine similarity over cached
// embeddings when an embedder is configured, FTS5 keyword match (or a
// LIKE fallback on SQLite builds without FTS5) when not. Embeddings
// are stored as JSON-encoded float32 arrays, which avoids a native
// vector extension while keeping the whole corpus cheap to hold in
// memory.
package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver with FTS5 support

	"github.com/agentcore/runtime/pkg/agentcore/contextprep"
)

// Collection names used by the runtime.
const (
	CollectionMessages  = "messages"
	CollectionSummaries = "session_summaries"
	CollectionCode      = "code_chunks"
)

// Embedder turns text into an embedding vector. Nil disables the
// cosine tier and searches run keyword-only.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// Store is the SQLite-backed hybrid search store.
type Store struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger

	ftsAvailable bool

	// cache holds every chunk embedding for in-memory cosine search,
	// refreshed on upsert.
	mu    sync.RWMutex
	cache []cacheEntry
}

type cacheEntry struct {
	rowID          int64
	collection     string
	conversationID string
	text           string
	embedding      []float32
}

// Open opens or creates the vector database at path.
func Open(path string, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, embedder: embedder, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.refreshCache(); err != nil {
		logger.Warn("loading vector cache", "error", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	core := `
		CREATE TABLE IF NOT EXISTS chunks (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			collection      TEXT NOT NULL,
			key             TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			text            TEXT NOT NULL,
			embedding       TEXT,
			created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(collection, key)
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection);
	`
	if _, err := s.db.Exec(core); err != nil {
		return fmt.Errorf("initializing vector schema: %w", err)
	}

	// FTS5 is optional; some SQLite builds lack it, and search then
	// falls back to LIKE queries.
	fts := `
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			text,
			content='chunks',
			content_rowid='id',
			tokenize='porter unicode61'
		);
		CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
			INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
		END;
		CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', old.id, old.text);
		END;
		CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', old.id, old.text);
			INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
		END;
	`
	if _, err := s.db.Exec(fts); err != nil {
		s.ftsAvailable = false
		s.logger.Warn("FTS5 unavailable, using LIKE fallback", "error", err)
	} else {
		s.ftsAvailable = true
	}
	return nil
}

// Upsert stores or replaces one chunk. conversationID may be empty for
// collections that aren't conversation-scoped (code chunks).
func (s *Store) Upsert(ctx context.Context, collection, key, conversationID, text string) error {
	var embJSON any
	if s.embedder != nil {
		emb, err := s.embedder(ctx, text)
		if err != nil {
			// Keyword search still works without the vector; log and
			// store the chunk anyway.
			s.logger.Warn("embedding chunk", "collection", collection, "error", err)
		} else if len(emb) > 0 {
			data, err := json.Marshal(emb)
			if err != nil {
				return fmt.Errorf("encoding embedding: %w", err)
			}
			embJSON = string(data)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (collection, key, conversation_id, text, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			text = excluded.text,
			embedding = excluded.embedding`,
		collection, key, conversationID, text, embJSON)
	if err != nil {
		return fmt.Errorf("upserting chunk %s/%s: %w", collection, key, err)
	}
	return s.refreshCache()
}

// SearchRecall returns prior messages similar to query, excluding the
// current conversation. Satisfies contextprep.VectorStore.
func (s *Store) SearchRecall(ctx context.Context, query, excludeConversationID string, limit int) ([]contextprep.SearchHit, error) {
	return s.search(ctx, CollectionMessages, query, excludeConversationID, limit, 0)
}

// SearchCrossSession returns session summaries from other
// conversations scoring at or above scoreThreshold.
func (s *Store) SearchCrossSession(ctx context.Context, query, excludeConversationID string, scoreThreshold float64) ([]contextprep.SearchHit, error) {
	return s.search(ctx, CollectionSummaries, query, excludeConversationID, 16, scoreThreshold)
}

// SearchCode returns code snippets relevant to query. An empty code
// collection just returns no hits.
func (s *Store) SearchCode(ctx context.Context, query string) ([]contextprep.SearchHit, error) {
	return s.search(ctx, CollectionCode, query, "", 8, 0)
}

func (s *Store) search(ctx context.Context, collection, query, excludeConversationID string, limit int, threshold float64) ([]contextprep.SearchHit, error) {
	if limit <= 0 {
		limit = 8
	}

	var hits []contextprep.SearchHit
	var err error
	if s.embedder != nil {
		hits, err = s.cosineSearch(ctx, collection, query, excludeConversationID, limit)
	} else {
		hits, err = s.keywordSearch(ctx, collection, query, excludeConversationID, limit)
	}
	if err != nil {
		return nil, err
	}

	if threshold > 0 {
		filtered := hits[:0]
		for _, h := range hits {
			if h.Score >= threshold {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}
	return hits, nil
}

func (s *Store) cosineSearch(ctx context.Context, collection, query, excludeConversationID string, limit int) ([]contextprep.SearchHit, error) {
	qEmb, err := s.embedder(ctx, query)
	if err != nil || len(qEmb) == 0 {
		// An embedder outage shouldn't blank out recall entirely.
		return s.keywordSearch(ctx, collection, query, excludeConversationID, limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []contextprep.SearchHit
	for _, e := range s.cache {
		if e.collection != collection || len(e.embedding) == 0 {
			continue
		}
		if excludeConversationID != "" && e.conversationID == excludeConversationID {
			continue
		}
		hits = append(hits, contextprep.SearchHit{Text: e.text, Score: cosine(qEmb, e.embedding)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// keywordSearch scores by the fraction of query terms present in the
// chunk, which keeps scores in [0,1] like the cosine tier.
func (s *Store) keywordSearch(ctx context.Context, collection, query, excludeConversationID string, limit int) ([]contextprep.SearchHit, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var rows *sql.Rows
	var err error
	if s.ftsAvailable {
		rows, err = s.db.QueryContext(ctx, `
			SELECT c.text, c.conversation_id FROM chunks_fts f
			JOIN chunks c ON c.id = f.rowid
			WHERE chunks_fts MATCH ? AND c.collection = ?
			ORDER BY rank LIMIT ?`,
			ftsQuery(terms), collection, limit*4)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT text, conversation_id FROM chunks
			WHERE collection = ? AND text LIKE ?
			LIMIT ?`,
			collection, "%"+terms[0]+"%", limit*4)
	}
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}
	defer rows.Close()

	var hits []contextprep.SearchHit
	for rows.Next() {
		var text, convID string
		if err := rows.Scan(&text, &convID); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		if excludeConversationID != "" && convID == excludeConversationID {
			continue
		}
		hits = append(hits, contextprep.SearchHit{Text: text, Score: termOverlap(terms, text)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) refreshCache() error {
	rows, err := s.db.Query("SELECT id, collection, conversation_id, text, embedding FROM chunks")
	if err != nil {
		return fmt.Errorf("loading vector cache: %w", err)
	}
	defer rows.Close()

	var cache []cacheEntry
	for rows.Next() {
		var e cacheEntry
		var emb sql.NullString
		if err := rows.Scan(&e.rowID, &e.collection, &e.conversationID, &e.text, &emb); err != nil {
			return fmt.Errorf("scanning cache row: %w", err)
		}
		if emb.Valid && emb.String != "" {
			if err := json.Unmarshal([]byte(emb.String), &e.embedding); err != nil {
				s.logger.Warn("decoding stored embedding", "row", e.rowID, "error", err)
			}
		}
		cache = append(cache, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()[]{}`)
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// ftsQuery quotes each term so user punctuation can't break FTS5's
// query syntax, OR-joined for recall-style matching.
func ftsQuery(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

func termOverlap(terms []string, text string) float64 {
	lower := strings.ToLower(text)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
