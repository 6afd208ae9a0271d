// Package state persists change-feed progress between CLI invocations: the
// continuation cursor for each watched path and a history of feed runs. It
// is an embedded SQLite database in WAL mode; one file per config profile
// directory, safe for a single process at a time.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// walJournalSizeLimit caps the WAL file at 64 MiB.
const walJournalSizeLimit = 67108864

// RunResult describes how a change-feed run ended.
type RunResult string

// Run results recorded in the runs table.
const (
	RunRunning   RunResult = "running"
	RunCompleted RunResult = "completed"
	RunFailed    RunResult = "failed"
	RunCancelled RunResult = "cancelled"
)

// Cursor is the persisted continuation for one enumerated path. Token is the
// service's opaque resumption value; DeltaLink, when set, is a full URL that
// resumes the feed exactly where the last completed run left it.
type Cursor struct {
	Profile   string
	Path      string
	Token     string
	DeltaLink string
	UpdatedAt int64
}

// Run is one change-feed run: a walk of the feed from a cursor (or from
// scratch) until the service hands back a delta link, an error, or a cancel.
type Run struct {
	ID         string
	Profile    string
	Path       string
	StartedAt  int64
	FinishedAt *int64
	Pages      int
	Items      int
	Result     RunResult
}

// Store is the SQLite-backed state database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	cursorStmts cursorStatements
	runStmts    runStatements
}

type cursorStatements struct {
	get, save, clear *sql.Stmt
}

type runStatements struct {
	insert, finish, last, list, prune *sql.Stmt
}

// Open opens the state database at dbPath, applying migrations and preparing
// all repeated statements. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening state database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: prepare statements: %w", err)
	}

	logger.Info("state database ready", "path", dbPath)

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("state: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// --- SQL query constants ---

const (
	sqlGetCursor = `SELECT profile, path, token, delta_link, updated_at
		FROM cursors WHERE profile = ? AND path = ?`

	sqlSaveCursor = `INSERT INTO cursors
		(profile, path, token, delta_link, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(profile, path) DO UPDATE SET
			token      = excluded.token,
			delta_link = excluded.delta_link,
			updated_at = excluded.updated_at`

	sqlClearCursor = `DELETE FROM cursors WHERE profile = ? AND path = ?`
)

const (
	sqlInsertRun = `INSERT INTO runs
		(id, profile, path, started_at, finished_at, pages, items, result)
		VALUES (?, ?, ?, ?, NULL, 0, 0, ?)`

	sqlFinishRun = `UPDATE runs
		SET finished_at = ?, pages = ?, items = ?, result = ?
		WHERE id = ?`

	sqlLastRun = `SELECT id, profile, path, started_at, finished_at, pages, items, result
		FROM runs WHERE profile = ?
		ORDER BY started_at DESC LIMIT 1`

	sqlListRuns = `SELECT id, profile, path, started_at, finished_at, pages, items, result
		FROM runs WHERE profile = ?
		ORDER BY started_at DESC LIMIT ?`

	sqlPruneRuns = `DELETE FROM runs WHERE profile = ? AND id NOT IN (
		SELECT id FROM runs WHERE profile = ?
		ORDER BY started_at DESC LIMIT ?)`
)

// stmtDef maps a SQL string to the prepared statement pointer it populates.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	if err := prepareAll(ctx, s.db, []stmtDef{
		{&s.cursorStmts.get, sqlGetCursor, "getCursor"},
		{&s.cursorStmts.save, sqlSaveCursor, "saveCursor"},
		{&s.cursorStmts.clear, sqlClearCursor, "clearCursor"},
	}); err != nil {
		return err
	}

	return prepareAll(ctx, s.db, []stmtDef{
		{&s.runStmts.insert, sqlInsertRun, "insertRun"},
		{&s.runStmts.finish, sqlFinishRun, "finishRun"},
		{&s.runStmts.last, sqlLastRun, "lastRun"},
		{&s.runStmts.list, sqlListRuns, "listRuns"},
		{&s.runStmts.prune, sqlPruneRuns, "pruneRuns"},
	})
}

// --- Cursor methods ---

// GetCursor retrieves the saved continuation for a profile/path pair.
// Returns (nil, nil) if none exists — callers use the nil cursor to
// distinguish "first enumeration" from "resume".
func (s *Store) GetCursor(ctx context.Context, profile, path string) (*Cursor, error) {
	s.logger.Debug("getting cursor", "profile", profile, "path", path)

	c := &Cursor{}

	err := s.cursorStmts.get.QueryRowContext(ctx, profile, path).Scan(
		&c.Profile, &c.Path, &c.Token, &c.DeltaLink, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil cursor means "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("get cursor %s %q: %w", profile, path, err)
	}

	return c, nil
}

// SaveCursor persists a continuation (insert or update). UpdatedAt is
// stamped here so callers never supply it.
func (s *Store) SaveCursor(ctx context.Context, c *Cursor) error {
	s.logger.Debug("saving cursor", "profile", c.Profile, "path", c.Path)

	_, err := s.cursorStmts.save.ExecContext(ctx,
		c.Profile, c.Path, c.Token, c.DeltaLink, nowNano())
	if err != nil {
		return fmt.Errorf("save cursor %s %q: %w", c.Profile, c.Path, err)
	}

	return nil
}

// ClearCursor removes the saved continuation, forcing the next run to
// enumerate from scratch. Used when the service invalidates the cursor
// (HTTP 410) or on an explicit reset.
func (s *Store) ClearCursor(ctx context.Context, profile, path string) error {
	s.logger.Info("clearing cursor", "profile", profile, "path", path)

	_, err := s.cursorStmts.clear.ExecContext(ctx, profile, path)
	if err != nil {
		return fmt.Errorf("clear cursor %s %q: %w", profile, path, err)
	}

	return nil
}

// --- Run methods ---

// StartRun records the beginning of a change-feed run and returns it with a
// fresh ID. The row stays in "running" state until FinishRun.
func (s *Store) StartRun(ctx context.Context, profile, path string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Profile:   profile,
		Path:      path,
		StartedAt: nowNano(),
		Result:    RunRunning,
	}

	s.logger.Debug("starting run", "id", run.ID, "profile", profile, "path", path)

	_, err := s.runStmts.insert.ExecContext(ctx,
		run.ID, run.Profile, run.Path, run.StartedAt, string(run.Result))
	if err != nil {
		return nil, fmt.Errorf("start run %s: %w", run.ID, err)
	}

	return run, nil
}

// FinishRun records how a run ended and its page/item totals.
func (s *Store) FinishRun(ctx context.Context, id string, pages, items int, result RunResult) error {
	s.logger.Debug("finishing run", "id", id, "result", result, "pages", pages, "items", items)

	_, err := s.runStmts.finish.ExecContext(ctx, nowNano(), pages, items, string(result), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}

	return nil
}

// LastRun returns the most recent run for a profile.
// Returns (nil, nil) if the profile has never run.
func (s *Store) LastRun(ctx context.Context, profile string) (*Run, error) {
	s.logger.Debug("getting last run", "profile", profile)

	run, err := scanRun(s.runStmts.last.QueryRowContext(ctx, profile))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil run means "never ran"
	}

	if err != nil {
		return nil, fmt.Errorf("last run %s: %w", profile, err)
	}

	return run, nil
}

// ListRuns returns up to limit runs for a profile, newest first.
func (s *Store) ListRuns(ctx context.Context, profile string, limit int) ([]*Run, error) {
	s.logger.Debug("listing runs", "profile", profile, "limit", limit)

	rows, err := s.runStmts.list.QueryContext(ctx, profile, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs %s: %w", profile, err)
	}
	defer rows.Close()

	var runs []*Run

	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan run row: %w", scanErr)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}

	return runs, nil
}

// PruneRuns deletes all but the newest keep runs for a profile.
// Returns the number of rows deleted.
func (s *Store) PruneRuns(ctx context.Context, profile string, keep int) (int64, error) {
	s.logger.Debug("pruning runs", "profile", profile, "keep", keep)

	result, err := s.runStmts.prune.ExecContext(ctx, profile, profile, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs %s: %w", profile, err)
	}

	affected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		s.logger.Warn("could not read rows affected", "error", rowsErr)
	}

	return affected, nil
}

// scanRun scans a full run row. Works for both QueryRow and Rows.
func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	run := &Run{}

	var result string

	err := row.Scan(
		&run.ID, &run.Profile, &run.Path, &run.StartedAt,
		&run.FinishedAt, &run.Pages, &run.Items, &result,
	)
	if err != nil {
		return nil, err
	}

	run.Result = RunResult(result)

	return run, nil
}

// --- Maintenance methods ---

// Checkpoint forces a WAL checkpoint to consolidate the WAL file into the
// main database.
func (s *Store) Checkpoint() error {
	s.logger.Debug("running WAL checkpoint")

	_, err := s.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("state: wal checkpoint: %w", err)
	}

	return nil
}

// Close closes all prepared statements and the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing state database")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("state: close database: %w", err)
	}

	return nil
}

// closeStatements closes all prepared statements, collecting errors.
func (s *Store) closeStatements() error {
	stmts := []*sql.Stmt{
		s.cursorStmts.get, s.cursorStmts.save, s.cursorStmts.clear,
		s.runStmts.insert, s.runStmts.finish,
		s.runStmts.last, s.runStmts.list, s.runStmts.prune,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close statements: %s", strings.Join(errs, "; "))
	}

	return nil
}

// nowNano returns the current time as Unix nanoseconds, the timestamp
// representation used throughout the schema.
func nowNano() int64 {
	return time.Now().UnixNano()
}
