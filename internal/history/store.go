// Package history is an optional, best-effort audit trail of terminal job
// snapshots, backed by SQLite. It is never authoritative over the
// in-memory queue — the queue's own "no persistence across restarts"
// guarantee is untouched by this package — and a failure to record never
// propagates into the worker loop, matching §7's propagation policy for
// non-critical side effects. Adapted from the teacher's
// internal/store/sqlite.go job-persistence schema, narrowed from "full
// queue recovery" to "append-or-replace completed/failed/cancelled record,"
// one row per job id.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"

	"github.com/gwlsn/transcoder/internal/job"
	"github.com/gwlsn/transcoder/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
	id TEXT PRIMARY KEY,
	input_path TEXT NOT NULL,
	output_path TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	input_size INTEGER,
	output_size INTEGER,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_job_history_completed_at ON job_history(completed_at);
`

// Store is a SQLite-backed append log of terminal jobs.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create history db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends or replaces a terminal job snapshot. Failures are logged
// and swallowed — history recording is a best-effort side effect, never a
// reason to fail a job the worker already finished.
func (s *Store) Record(j *job.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inputSize := fileSizeOrZero(j.InputPath)
	outputSize := fileSizeOrZero(j.OutputPath)

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO job_history (
			id, input_path, output_path, status, error, input_size, output_size,
			created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		j.ID.String(), j.InputPath, j.OutputPath, string(j.Status), nullString(j.Error),
		inputSize, outputSize,
		formatTime(j.CreatedAt), formatTimePtr(j.StartedAt), formatTimePtr(j.CompletedAt),
	)
	if err != nil {
		logger.Warn("history: failed to record job", "job", j.ID, "error", err)
	}
}

// Entry is one recorded row, with the byte counts formatted for display.
type Entry struct {
	ID           string
	InputPath    string
	OutputPath   string
	Status       string
	Error        string
	BytesSaved   int64
	HumanSaved   string
	CompletedAt  time.Time
}

// List returns up to limit entries, most recently completed first.
func (s *Store) List(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, input_path, output_path, status, error, input_size, output_size, completed_at
		FROM job_history
		ORDER BY completed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			id, inputPath, outputPath, status string
			errMsg                            sql.NullString
			inputSize, outputSize             sql.NullInt64
			completedAt                       sql.NullString
		)
		if err := rows.Scan(&id, &inputPath, &outputPath, &status, &errMsg, &inputSize, &outputSize, &completedAt); err != nil {
			return nil, err
		}

		saved := int64(0)
		if inputSize.Valid && outputSize.Valid {
			saved = inputSize.Int64 - outputSize.Int64
		}

		entries = append(entries, Entry{
			ID:          id,
			InputPath:   inputPath,
			OutputPath:  outputPath,
			Status:      status,
			Error:       errMsg.String,
			BytesSaved:  saved,
			HumanSaved:  humanize.Bytes(uint64(absInt64(saved))),
			CompletedAt: parseTimeOrZero(completedAt.String),
		})
	}

	return entries, rows.Err()
}

// TotalBytesSaved sums input_size - output_size across every recorded job
// where both sizes are known, for a human-readable summary line.
func (s *Store) TotalBytesSaved() (int64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total sql.NullInt64
	err := s.db.QueryRow(`
		SELECT SUM(input_size - output_size) FROM job_history
		WHERE input_size IS NOT NULL AND output_size IS NOT NULL
	`).Scan(&total)
	if err != nil {
		return 0, "", err
	}

	return total.Int64, humanize.Bytes(uint64(absInt64(total.Int64))), nil
}

func fileSizeOrZero(path string) sql.NullInt64 {
	info, err := os.Stat(path)
	if err != nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: info.Size(), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimeOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
