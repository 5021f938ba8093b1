// store.go persists the parts of a skill's lifecycle that outlive one
// process: versions, trust level, and outcome history. It is backed by
// SQLite, mirroring the embedded-database pattern the rest of this
// codebase uses for anything that needs to survive a restart without
// standing up a separate server.
package skills

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Source names where a skill version came from.
type Source string

const (
	SourceLocal Source = "local" // hand-authored, on disk
	SourceAuto  Source = "auto"  // generated by generate_improved_skill
	SourceUser  Source = "user"  // generated from /feedback, user-driven
)

// Outcome is the string vocabulary used to classify how a turn
// that used a skill went.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeToolFailure    Outcome = "tool_failure"
	OutcomeEmptyResponse  Outcome = "empty_response"
	OutcomeUserRejection  Outcome = "user_rejection"
)

// Version is one persisted skill version record.
type Version struct {
	SkillName     string
	VersionID     int // monotonic, >= 1
	Body          string
	Description   string
	Source        Source
	PredecessorID int // 0 means none (version 1)
	IsActive      bool
	SuccessCount  int
	FailureCount  int
	CreatedAt     time.Time
}

// Store is the SQLite-backed persistence layer for skill versions,
// trust, and outcome events.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) a SQLite database at path and
// ensures its schema exists.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening skill store: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS skill_versions (
			skill_name TEXT NOT NULL,
			version_id INTEGER NOT NULL,
			body TEXT NOT NULL,
			description TEXT,
			source TEXT NOT NULL,
			predecessor_id INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (skill_name, version_id)
		)`,
		`CREATE TABLE IF NOT EXISTS skill_trust (
			skill_name TEXT PRIMARY KEY,
			trust_level TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS skill_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			skill_name TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error_context TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS skill_usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			skill_name TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initializing skill store schema: %w", err)
		}
	}
	return nil
}

// InsertVersion writes a new version row. v.VersionID must already be
// assigned (NextVersionID computes it); the caller deciding whether to
// mark it active happens separately via SetActiveVersion, since
// inserting and activating are independently gated steps.
func (s *Store) InsertVersion(v Version) error {
	_, err := s.db.Exec(
		`INSERT INTO skill_versions (skill_name, version_id, body, description, source, predecessor_id, is_active, success_count, failure_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.SkillName, v.VersionID, v.Body, v.Description, string(v.Source), v.PredecessorID, boolToInt(v.IsActive), v.SuccessCount, v.FailureCount, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting skill version: %w", err)
	}
	return nil
}

// NextVersionID returns the next monotonic version id for a skill (1
// if it has none yet).
func (s *Store) NextVersionID(skillName string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(version_id) FROM skill_versions WHERE skill_name = ?`, skillName).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("computing next version id: %w", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// Versions returns every version of a skill, oldest first.
func (s *Store) Versions(skillName string) ([]Version, error) {
	rows, err := s.db.Query(
		`SELECT skill_name, version_id, body, description, source, predecessor_id, is_active, success_count, failure_count, created_at
		 FROM skill_versions WHERE skill_name = ? ORDER BY version_id ASC`, skillName)
	if err != nil {
		return nil, fmt.Errorf("listing skill versions: %w", err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		var v Version
		var active int
		var source string
		if err := rows.Scan(&v.SkillName, &v.VersionID, &v.Body, &v.Description, &source, &v.PredecessorID, &active, &v.SuccessCount, &v.FailureCount, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning skill version: %w", err)
		}
		v.Source = Source(source)
		v.IsActive = active != 0
		out = append(out, v)
	}
	return out, rows.Err()
}

// ActiveVersion returns the currently-active version of a skill.
func (s *Store) ActiveVersion(skillName string) (Version, bool, error) {
	row := s.db.QueryRow(
		`SELECT skill_name, version_id, body, description, source, predecessor_id, is_active, success_count, failure_count, created_at
		 FROM skill_versions WHERE skill_name = ? AND is_active = 1`, skillName)
	var v Version
	var active int
	var source string
	err := row.Scan(&v.SkillName, &v.VersionID, &v.Body, &v.Description, &source, &v.PredecessorID, &active, &v.SuccessCount, &v.FailureCount, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return Version{}, false, nil
	}
	if err != nil {
		return Version{}, false, fmt.Errorf("loading active skill version: %w", err)
	}
	v.Source = Source(source)
	v.IsActive = active != 0
	return v, true, nil
}

// SetActiveVersion marks versionID as the sole active version for
// skillName, deactivating every other version of it atomically.
func (s *Store) SetActiveVersion(skillName string, versionID int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting activation transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE skill_versions SET is_active = 0 WHERE skill_name = ?`, skillName); err != nil {
		return fmt.Errorf("deactivating prior versions: %w", err)
	}
	res, err := tx.Exec(`UPDATE skill_versions SET is_active = 1 WHERE skill_name = ? AND version_id = ?`, skillName, versionID)
	if err != nil {
		return fmt.Errorf("activating version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("version %d of skill %q does not exist", versionID, skillName)
	}
	return tx.Commit()
}

// PruneVersions deletes every version of skillName past maxVersions,
// oldest-first, never touching version 1 or the currently active
// version — the two that must never be evicted.
func (s *Store) PruneVersions(skillName string, maxVersions int) error {
	versions, err := s.Versions(skillName)
	if err != nil {
		return err
	}
	if len(versions) <= maxVersions {
		return nil
	}

	// candidates for deletion: everything except version 1 and active,
	// oldest first, until we're back at maxVersions.
	var candidates []int
	for _, v := range versions {
		if v.VersionID == 1 || v.IsActive {
			continue
		}
		candidates = append(candidates, v.VersionID)
	}

	excess := len(versions) - maxVersions
	for i := 0; i < excess && i < len(candidates); i++ {
		if _, err := s.db.Exec(`DELETE FROM skill_versions WHERE skill_name = ? AND version_id = ?`, skillName, candidates[i]); err != nil {
			return fmt.Errorf("pruning skill version: %w", err)
		}
	}
	return nil
}

// RecordOutcome records one skill-outcome event for a turn and bumps
// the active version's success/failure counter.
func (s *Store) RecordOutcome(skillName, conversationID string, outcome Outcome, errorContext string) error {
	_, err := s.db.Exec(
		`INSERT INTO skill_outcomes (skill_name, conversation_id, outcome, error_context, created_at) VALUES (?, ?, ?, ?, ?)`,
		skillName, conversationID, string(outcome), errorContext, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("recording skill outcome: %w", err)
	}

	col := "failure_count"
	if outcome == OutcomeSuccess {
		col = "success_count"
	}
	_, err = s.db.Exec(fmt.Sprintf(`UPDATE skill_versions SET %s = %s + 1 WHERE skill_name = ? AND is_active = 1`, col, col), skillName)
	if err != nil {
		return fmt.Errorf("updating skill version counters: %w", err)
	}
	return nil
}

// RecordUsage logs that a skill was active for a turn, for the usage
// statistics the /skills command reports.
func (s *Store) RecordUsage(skillName, conversationID string) error {
	_, err := s.db.Exec(`INSERT INTO skill_usage (skill_name, conversation_id, created_at) VALUES (?, ?, ?)`, skillName, conversationID, time.Now())
	if err != nil {
		return fmt.Errorf("recording skill usage: %w", err)
	}
	return nil
}

// UsageCount returns how many turns a skill has been active for.
func (s *Store) UsageCount(skillName string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM skill_usage WHERE skill_name = ?`, skillName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting skill usage: %w", err)
	}
	return n, nil
}

// EvaluationStats summarizes recent outcomes for check_rollback's
// success-rate computation.
type EvaluationStats struct {
	Total       int
	SuccessRate float64
}

// RecentEvaluations returns outcome stats over the last n evaluations
// of a skill's currently active version.
func (s *Store) RecentEvaluations(skillName string, n int) (EvaluationStats, error) {
	rows, err := s.db.Query(
		`SELECT outcome FROM skill_outcomes WHERE skill_name = ? ORDER BY id DESC LIMIT ?`, skillName, n)
	if err != nil {
		return EvaluationStats{}, fmt.Errorf("loading recent skill evaluations: %w", err)
	}
	defer rows.Close()

	var total, successes int
	for rows.Next() {
		var outcome string
		if err := rows.Scan(&outcome); err != nil {
			return EvaluationStats{}, fmt.Errorf("scanning skill evaluation: %w", err)
		}
		total++
		if outcome == string(OutcomeSuccess) {
			successes++
		}
	}
	if total == 0 {
		return EvaluationStats{}, nil
	}
	return EvaluationStats{Total: total, SuccessRate: float64(successes) / float64(total)}, nil
}

// SetTrust persists a skill's trust level.
func (s *Store) SetTrust(skillName string, level Trust) error {
	_, err := s.db.Exec(
		`INSERT INTO skill_trust (skill_name, trust_level) VALUES (?, ?)
		 ON CONFLICT(skill_name) DO UPDATE SET trust_level = excluded.trust_level`,
		skillName, string(level),
	)
	if err != nil {
		return fmt.Errorf("setting skill trust: %w", err)
	}
	return nil
}

// GetTrust returns a skill's persisted trust level, defaulting to
// untrusted.
func (s *Store) GetTrust(skillName string) (Trust, error) {
	var level string
	err := s.db.QueryRow(`SELECT trust_level FROM skill_trust WHERE skill_name = ?`, skillName).Scan(&level)
	if err == sql.ErrNoRows {
		return TrustUntrusted, nil
	}
	if err != nil {
		return "", fmt.Errorf("getting skill trust: %w", err)
	}
	return Trust(level), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
