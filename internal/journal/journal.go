// Package journal keeps a SQLite ledger of runs: when each started and
// finished, every output flush and state correction, and the failure that
// ended a run. The last flush is the natural restart point after a crash.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/chrissnell/snowrunner/internal/state"
	"github.com/chrissnell/snowrunner/pkg/migrate"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// ErrNoRun is returned by calls that need Begin first.
var ErrNoRun = errors.New("journal has no active run")

// RunInfo describes a run as it starts.
type RunInfo struct {
	Start, End time.Time
	Threaded   bool
	ConfigPath string
}

// Journal records one run at a time. Its observer methods never block the
// scheduler on errors; failures are logged.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	runID  string
	logger *zap.SugaredLogger
}

// Open opens (creating if needed) the journal database at path and brings
// its schema up to date.
func Open(path string, logger *zap.SugaredLogger) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between observer callbacks.
	db.SetMaxOpenConns(1)

	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	migs, err := migrate.Load(sub)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate.NewMigrator(db, migs, "", logger).Up(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal schema: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

// Begin records a new run and returns its identifier.
func (j *Journal) Begin(ctx context.Context, info RunInfo) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := uuid.New().String()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, run_start, run_end, threaded, config_path, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, stamp(time.Now()), stamp(info.Start), stamp(info.End), info.Threaded, info.ConfigPath, StatusRunning)
	if err != nil {
		return "", fmt.Errorf("recording run start: %w", err)
	}
	j.runID = id
	j.logger.Infof("journal: run %s started", id)
	return id, nil
}

// Finish marks the active run complete unless it already failed.
func (j *Journal) Finish(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.runID == "" {
		return ErrNoRun
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = CASE WHEN status = ? THEN ? ELSE status END WHERE id = ?`,
		stamp(time.Now()), StatusRunning, StatusComplete, j.runID)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// StepCompleted records progress on the active run.
func (j *Journal) StepCompleted(ctx context.Context, t time.Time, index int, _ *state.Record) {
	j.exec(ctx, "step", `UPDATE runs SET last_step = ?, last_time = ? WHERE id = ?`, index, stamp(t), j.active())
}

// OutputFlushed records an output write.
func (j *Journal) OutputFlushed(ctx context.Context, t time.Time, index int) {
	j.exec(ctx, "flush", `INSERT OR REPLACE INTO flushes (run_id, step, model_time, written_at) VALUES (?, ?, ?, ?)`,
		j.active(), index, stamp(t), stamp(time.Now()))
}

// StateCorrected records a survey update.
func (j *Journal) StateCorrected(ctx context.Context, t time.Time, index int) {
	j.exec(ctx, "correction", `INSERT OR REPLACE INTO corrections (run_id, step, model_time, applied_at) VALUES (?, ?, ?, ?)`,
		j.active(), index, stamp(t), stamp(time.Now()))
}

// RunFailed records the failure and marks the run failed.
func (j *Journal) RunFailed(ctx context.Context, t time.Time, index int, err error) {
	id := j.active()
	j.exec(ctx, "failure", `INSERT OR REPLACE INTO failures (run_id, step, model_time, message, failed_at) VALUES (?, ?, ?, ?, ?)`,
		id, index, stamp(t), err.Error(), stamp(time.Now()))
	j.exec(ctx, "failure", `UPDATE runs SET status = ? WHERE id = ?`, StatusFailed, id)
}

// LastFlush returns the model time of the most recent output flush across
// all runs.
func (j *Journal) LastFlush(ctx context.Context) (time.Time, bool, error) {
	var s sql.NullString
	if err := j.db.QueryRowContext(ctx, `SELECT MAX(model_time) FROM flushes`).Scan(&s); err != nil {
		return time.Time{}, false, fmt.Errorf("querying last flush: %w", err)
	}
	if !s.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing flush time %q: %w", s.String, err)
	}
	return t, true, nil
}

// Run is a ledger row.
type Run struct {
	ID        string
	StartedAt time.Time
	Status    string
	LastStep  int
	Flushes   int
	Failure   string
}

const runQuery = `
	SELECT r.id, r.started_at, r.status, r.last_step,
	       (SELECT COUNT(*) FROM flushes f WHERE f.run_id = r.id),
	       (SELECT message FROM failures x WHERE x.run_id = r.id)
	FROM runs r`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r       Run
		started string
		failure sql.NullString
	)
	if err := row.Scan(&r.ID, &started, &r.Status, &r.LastStep, &r.Flushes, &failure); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, started)
	if err != nil {
		return nil, fmt.Errorf("run %s: bad start stamp %q: %w", r.ID, started, err)
	}
	r.StartedAt = t
	r.Failure = failure.String
	return &r, nil
}

// Lookup returns the ledger row of a run.
func (j *Journal) Lookup(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(j.db.QueryRowContext(ctx, runQuery+` WHERE r.id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("looking up run %s: %w", id, err)
	}
	return r, nil
}

// Recent returns up to limit runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, runQuery+` ORDER BY r.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// SchemaVersion is the applied migration version.
func (j *Journal) SchemaVersion() (int, error) {
	return migrate.NewMigrator(j.db, nil, "", j.logger).Version()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) active() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runID
}

func (j *Journal) exec(ctx context.Context, what, query string, args ...interface{}) {
	// Record even when the run is being cancelled.
	if _, err := j.db.ExecContext(context.WithoutCancel(ctx), query, args...); err != nil {
		j.logger.Errorf("journal: recording %s: %v", what, err)
	}
}

func stamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
