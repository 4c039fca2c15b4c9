package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sergev/bci/script"
	"github.com/sergev/bci/trial"
)

// ErrNotFound is returned when a run is not in the index
var ErrNotFound = errors.New("run not found")

// Run is one saved dataset, as recorded in the index
type Run struct {
	ID           uuid.UUID
	Subject      string
	Kind         string
	StartedAt    time.Time
	SavedAt      time.Time
	Path         string
	SamplingRate float64
	Channels     int
	Trials       int
	Rest         int
	Switch       int
	Short        int
	Blocks       int
	RemoteKey    string // Object key once uploaded, empty otherwise
}

// NewRun describes a dataset saved at path
func NewRun(data *trial.Dataset, path string, savedAt time.Time) Run {
	return Run{
		ID:           data.RunID,
		Subject:      data.Subject,
		Kind:         data.Kind,
		StartedAt:    data.StartedAt,
		SavedAt:      savedAt,
		Path:         path,
		SamplingRate: data.SamplingRate,
		Channels:     data.Channels,
		Trials:       len(data.Trials),
		Rest:         data.Count(script.Rest),
		Switch:       data.Count(script.Switch),
		Short:        data.ShortCount(),
		Blocks:       data.BlocksCompleted,
	}
}

type migration struct {
	version int
	upSQL   string
}

var migrations = []migration{
	{
		version: 1,
		upSQL: `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	subject TEXT NOT NULL,
	kind TEXT NOT NULL,
	started_at TEXT NOT NULL,
	saved_at TEXT NOT NULL,
	path TEXT NOT NULL,
	sampling_rate REAL NOT NULL,
	channels INTEGER NOT NULL,
	trials INTEGER NOT NULL,
	rest_trials INTEGER NOT NULL,
	switch_trials INTEGER NOT NULL,
	short_trials INTEGER NOT NULL,
	blocks INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_by_subject ON runs(subject, started_at);
`,
	},
	{
		version: 2,
		upSQL:   `ALTER TABLE runs ADD COLUMN remote_key TEXT NOT NULL DEFAULT '';`,
	},
}

// Index is the SQLite catalog of saved runs
type Index struct {
	db *sql.DB
}

// OpenIndex opens or creates the index database at path
func OpenIndex(ctx context.Context, path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check migration %d: %w", m.version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.upSQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close closes the database
func (x *Index) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

// Record adds a run, replacing an earlier record of the same run
func (x *Index) Record(ctx context.Context, r Run) error {
	_, err := x.db.ExecContext(ctx, `
INSERT INTO runs(run_id, subject, kind, started_at, saved_at, path, sampling_rate, channels,
	trials, rest_trials, switch_trials, short_trials, blocks, remote_key)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
	saved_at=excluded.saved_at,
	path=excluded.path,
	trials=excluded.trials,
	rest_trials=excluded.rest_trials,
	switch_trials=excluded.switch_trials,
	short_trials=excluded.short_trials,
	blocks=excluded.blocks,
	remote_key=excluded.remote_key
`, r.ID.String(), r.Subject, r.Kind, ts(r.StartedAt), ts(r.SavedAt), r.Path, r.SamplingRate, r.Channels,
		r.Trials, r.Rest, r.Switch, r.Short, r.Blocks, r.RemoteKey)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// MarkUploaded stores the object key of an uploaded run
func (x *Index) MarkUploaded(ctx context.Context, id uuid.UUID, key string) error {
	res, err := x.db.ExecContext(ctx, `UPDATE runs SET remote_key = ? WHERE run_id = ?`, key, id.String())
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const runColumns = `run_id, subject, kind, started_at, saved_at, path, sampling_rate, channels,
	trials, rest_trials, switch_trials, short_trials, blocks, remote_key`

// Get returns the run with given id
func (x *Index) Get(ctx context.Context, id uuid.UUID) (Run, error) {
	row := x.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id.String())
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Runs lists runs, newest first. An empty subject lists all subjects.
func (x *Index) Runs(ctx context.Context, subject string) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if subject != "" {
		query += ` WHERE subject = ?`
		args = append(args, subject)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		r                  Run
		id                 string
		startedAt, savedAt string
	)
	err := scanner.Scan(&id, &r.Subject, &r.Kind, &startedAt, &savedAt, &r.Path, &r.SamplingRate, &r.Channels,
		&r.Trials, &r.Rest, &r.Switch, &r.Short, &r.Blocks, &r.RemoteKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return Run{}, fmt.Errorf("invalid run id %q: %w", id, err)
	}
	if r.StartedAt, err = parseTS(startedAt); err != nil {
		return Run{}, fmt.Errorf("invalid start time %q: %w", startedAt, err)
	}
	if r.SavedAt, err = parseTS(savedAt); err != nil {
		return Run{}, fmt.Errorf("invalid save time %q: %w", savedAt, err)
	}
	return r, nil
}

// Fixed width, so that stored times sort as text
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
