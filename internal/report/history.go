package report

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"brandforge/internal/scorecard"
)

// History is the sqlite run-history sink: one row per pipeline run, so past
// scores stay queryable after individual report files rotate away.
type History struct {
	mu sync.Mutex
	db *sql.DB
}

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	mode TEXT,
	intent TEXT,
	worker TEXT,
	preset TEXT,
	overall REAL,
	grade REAL,
	verdict TEXT,
	passed INTEGER,
	exit_code INTEGER,
	error_category TEXT,
	artifact_path TEXT,
	duration_ms INTEGER,
	started_at TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job_id);
`

// OpenHistory opens the history database at path, creating the file and its
// directory on first use.
func OpenHistory(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &History{db: db}, nil
}

// Run is one recorded pipeline run.
type Run struct {
	ID            int64
	JobID         string
	Mode          string
	Intent        string
	Worker        string
	Preset        string
	Overall       float64
	Grade         float64
	Verdict       string
	Passed        bool
	ExitCode      int
	ErrorCategory string
	ArtifactPath  string
	DurationMs    int64
	StartedAt     time.Time
}

// Record appends one run row.
func (h *History) Record(sc *scorecard.Scorecard) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.db.Exec(`INSERT INTO runs
		(job_id, mode, intent, worker, preset, overall, grade, verdict, passed,
		 exit_code, error_category, artifact_path, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.JobID, sc.Mode, sc.Intent, sc.Provenance.Worker, sc.Provenance.Preset,
		sc.Overall, sc.Grade, sc.Verdict, boolToInt(sc.OverallPassed),
		sc.ExitCode, sc.ErrorCategory, sc.ArtifactPath, sc.DurationMs,
		sc.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (h *History) Recent(limit int) ([]Run, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.Query(`SELECT id, job_id, mode, intent, worker, preset,
		overall, grade, verdict, passed, exit_code, error_category,
		artifact_path, duration_ms, started_at
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var passed int
		var started string
		if err := rows.Scan(&r.ID, &r.JobID, &r.Mode, &r.Intent, &r.Worker,
			&r.Preset, &r.Overall, &r.Grade, &r.Verdict, &passed, &r.ExitCode,
			&r.ErrorCategory, &r.ArtifactPath, &r.DurationMs, &started); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Passed = passed != 0
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			r.StartedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
