package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for threads, messages, and
// artifacts. It serializes concurrent appends per thread via the expected
// prior-index check in AppendMessage.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "resummate.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Threads ---

// EnsureThread creates the thread if it does not exist yet. Existing
// threads are left untouched.
func (s *Store) EnsureThread(id, userRef string) error {
	_, err := s.db.Exec(`
		INSERT INTO threads (id, user_ref, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, userRef, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) Thread(id string) (Thread, error) {
	var t Thread
	var createdAt string
	err := s.db.QueryRow(`SELECT id, user_ref, created_at FROM threads WHERE id = ?`, id).
		Scan(&t.ID, &t.UserRef, &createdAt)
	if err == sql.ErrNoRows {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, err
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Thread{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

// DeleteThread removes a thread with all of its messages and artifacts.
// Returns ErrNotFound if the thread does not exist.
func (s *Store) DeleteThread(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM threads WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking thread: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM artifacts WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("deleting artifacts: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM threads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	return tx.Commit()
}

// --- Messages ---

// AppendMessage appends m to the thread's history and returns its sequence
// index. expectedPrior must be the sequence index of the current last
// message (-1 for an empty thread); a mismatch returns ErrConflict and
// writes nothing. History is append-only: rows are never updated.
func (s *Store) AppendMessage(threadID string, m Message, expectedPrior int) (int, error) {
	toolCalls := ""
	if len(m.ToolCalls) > 0 {
		b, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return 0, fmt.Errorf("marshalling tool calls: %w", err)
		}
		toolCalls = string(b)
	}
	toolResult := ""
	if m.ToolResult != nil {
		b, err := json.Marshal(m.ToolResult)
		if err != nil {
			return 0, fmt.Errorf("marshalling tool result: %w", err)
		}
		toolResult = string(b)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	var tail int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), -1) FROM messages WHERE thread_id = ?`, threadID).Scan(&tail); err != nil {
		return 0, fmt.Errorf("reading thread tail: %w", err)
	}
	if tail != expectedPrior {
		return 0, fmt.Errorf("thread %s tail is %d, expected %d: %w", threadID, tail, expectedPrior, ErrConflict)
	}

	seq := tail + 1
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (thread_id, seq, role, content, tool_calls, tool_result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		threadID, seq, m.Role, m.Content, toolCalls, toolResult, createdAt.Format(time.RFC3339),
	); err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing append: %w", err)
	}
	return seq, nil
}

// Messages returns the thread's full history in sequence order.
func (s *Store) Messages(threadID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT thread_id, seq, role, content, tool_calls, tool_result, created_at
		FROM messages WHERE thread_id = ? ORDER BY seq ASC`, threadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var toolCalls, toolResult, createdAt string
		if err := rows.Scan(&m.ThreadID, &m.Seq, &m.Role, &m.Content, &toolCalls, &toolResult, &createdAt); err != nil {
			return nil, err
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("parsing tool calls for seq %d: %w", m.Seq, err)
			}
		}
		if toolResult != "" {
			var tr ToolResult
			if err := json.Unmarshal([]byte(toolResult), &tr); err != nil {
				return nil, fmt.Errorf("parsing tool result for seq %d: %w", m.Seq, err)
			}
			m.ToolResult = &tr
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// Tail returns the sequence index of the thread's last message, or -1 for
// an empty thread.
func (s *Store) Tail(threadID string) (int, error) {
	var tail int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(seq), -1) FROM messages WHERE thread_id = ?`, threadID).Scan(&tail)
	return tail, err
}

// --- Artifacts ---

// PutArtifact stores a new version of the given artifact kind and returns
// the assigned version number. Prior versions are superseded, not deleted.
func (s *Store) PutArtifact(threadID, kind, fileName, text string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning artifact transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM artifacts WHERE thread_id = ? AND kind = ?`, threadID, kind).Scan(&current); err != nil {
		return 0, fmt.Errorf("reading current artifact version: %w", err)
	}

	version := current + 1
	if _, err := tx.Exec(`
		INSERT INTO artifacts (id, thread_id, kind, version, file_name, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), threadID, kind, version, fileName, text,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return 0, fmt.Errorf("inserting artifact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing artifact: %w", err)
	}
	return version, nil
}

// CurrentArtifact returns the highest version of the given kind for the
// thread, or ErrNotFound if none was ever uploaded.
func (s *Store) CurrentArtifact(threadID, kind string) (Artifact, error) {
	var a Artifact
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, thread_id, kind, version, file_name, content, created_at
		FROM artifacts WHERE thread_id = ? AND kind = ?
		ORDER BY version DESC LIMIT 1`, threadID, kind,
	).Scan(&a.ID, &a.ThreadID, &a.Kind, &a.Version, &a.FileName, &a.Text, &createdAt)
	if err == sql.ErrNoRows {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, err
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Artifact{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return a, nil
}

// DeleteArtifacts removes all versions of the given kind for the thread.
func (s *Store) DeleteArtifacts(threadID, kind string) error {
	_, err := s.db.Exec(`DELETE FROM artifacts WHERE thread_id = ? AND kind = ?`, threadID, kind)
	return err
}
