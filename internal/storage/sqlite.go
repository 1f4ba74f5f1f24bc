// Package storage is the append-only run journal. Nothing in it is read
// back to make a run's decisions; it exists for the history command and
// the /history endpoint.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding runs and their attempts.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "ebooks.db")
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

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
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

// --- Runs ---

// SaveRun writes a run and its attempts in one transaction.
func (s *Store) SaveRun(r Run, attempts []Attempt) error {
	decision := r.Decision
	if decision == "" {
		decision = "{}"
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO runs (id, started_at, finished_at, debug, awake, decision, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Debug, r.Awake, decision, r.Outcome, r.Error,
	); err != nil {
		return fmt.Errorf("inserting run %s: %w", r.ID, err)
	}

	for i, a := range attempts {
		createdAt := a.CreatedAt
		if createdAt.IsZero() {
			createdAt = r.FinishedAt
		}
		if _, err := tx.Exec(`
			INSERT INTO attempts (id, run_id, seq, kind, target_id, text, status, reason, post_id, fallback, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, r.ID, i, a.Kind, a.TargetID, a.Text, a.Status, a.Reason, a.PostID, a.Fallback, formatTime(createdAt),
		); err != nil {
			return fmt.Errorf("inserting attempt %d of run %s: %w", i, r.ID, err)
		}
	}

	return tx.Commit()
}

// GetRun returns one run.
func (s *Store) GetRun(id string) (Run, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, finished_at, debug, awake, decision, outcome, error
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	return r, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, debug, awake, decision, outcome, error
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListAttempts returns a run's attempts in the order they were made.
func (s *Store) ListAttempts(runID string) ([]Attempt, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, seq, kind, target_id, text, status, reason, post_id, fallback, created_at
		FROM attempts WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Attempt
	for rows.Next() {
		var a Attempt
		var createdAt string
		if err := rows.Scan(&a.ID, &a.RunID, &a.Seq, &a.Kind, &a.TargetID, &a.Text, &a.Status, &a.Reason, &a.PostID, &a.Fallback, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		a.CreatedAt = t
		results = append(results, a)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var startedAt, finishedAt string
	if err := row.Scan(&r.ID, &startedAt, &finishedAt, &r.Debug, &r.Awake, &r.Decision, &r.Outcome, &r.Error); err != nil {
		return Run{}, err
	}
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Run{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return Run{}, fmt.Errorf("parsing finished_at: %w", err)
	}
	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
