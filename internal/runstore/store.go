package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cantabile-labs/cantabile-core/internal/config"
	_ "modernc.org/sqlite"
)

// Run is one recorded synthesis run.
type Run struct {
	ID         int64
	LabelPath  string
	OutWavPath string
	Status     string // ok, failed
	Error      string
	BitDepth   string
	MaxGain    float64
	Frames     int
	Samples    int
	Elapsed    time.Duration
	CreatedAt  time.Time
}

// Store keeps a SQLite-backed history of synthesis runs. With an empty
// path the store is ephemeral and records nothing.
type Store struct {
	db    *sql.DB
	cfg   config.RunStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the run store according to config.
func Open(ctx context.Context, cfg config.RunStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("run store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("run store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    label_path TEXT NOT NULL,
    out_wav_path TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    bit_depth TEXT,
    max_gain REAL,
    frames INTEGER,
    samples INTEGER,
    elapsed_ms INTEGER,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun appends one run to the history.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if s.db == nil {
		return nil
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(label_path, out_wav_path, status, error, bit_depth, max_gain, frames, samples, elapsed_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.LabelPath, run.OutWavPath, run.Status, run.Error, run.BitDepth,
		run.MaxGain, run.Frames, run.Samples, run.Elapsed.Milliseconds(), run.CreatedAt)
	return err
}

// ListRecent retrieves up to limit runs, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label_path, out_wav_path, status, error, bit_depth, max_gain, frames, samples, elapsed_ms, created_at
		 FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var elapsedMS int64
		var created string
		if err := rows.Scan(&r.ID, &r.LabelPath, &r.OutWavPath, &r.Status, &r.Error, &r.BitDepth,
			&r.MaxGain, &r.Frames, &r.Samples, &elapsedMS, &created); err != nil {
			return nil, err
		}
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune trims the history to the configured maximum run count.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.MaxRuns <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id IN (
		SELECT id FROM runs ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
	)`, s.cfg.MaxRuns)
	return err
}
