// Package history is an sqlite ledger of processor runs. A run is recorded
// as in progress when it starts and finished exactly once, either with the
// RunResult or with the failure that prevented one.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GoodPhotographer/goodphotographer/internal/model"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

type Run struct {
	UUID          string
	ExportDir     string
	InProgress    bool
	State         *model.State
	Success       *bool
	Errors        []string
	FailureReason *string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

type RunRow struct {
	Run
	ID int
}

func (r RunRow) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "uuid: %q, export_dir: %q, in_progress: %t", r.UUID, r.ExportDir, r.InProgress)
	if r.State != nil {
		fmt.Fprintf(&sb, ", state: %s", *r.State)
	}
	if r.Success != nil {
		fmt.Fprintf(&sb, ", success: %t", *r.Success)
	} else {
		sb.WriteString(", success: nil")
	}
	fmt.Fprintf(&sb, ", errors: %d", len(r.Errors))
	if r.FailureReason != nil {
		fmt.Fprintf(&sb, ", failure_reason: %q", *r.FailureReason)
	}
	return sb.String()
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway, one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			export_dir TEXT NOT NULL,
			in_progress BOOLEAN NOT NULL,
			state TEXT DEFAULT NULL,
			success BOOLEAN DEFAULT NULL,
			errors TEXT DEFAULT NULL,
			failure_reason TEXT DEFAULT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Start records that a run identified by uuid is in progress. Starting a run
// still in progress is a no-op, a finished one returns ErrAlreadyFinished.
func Start(ctx context.Context, db *sql.DB, uuid, exportDir string, startedAt time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	inProgress, err := inProgress(ctx, tx, uuid)
	switch {
	case err == nil && inProgress:
		return nil
	case err == nil:
		return ErrAlreadyFinished
	case !errors.Is(err, ErrNotFound):
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (uuid, export_dir, in_progress, started_at) VALUES (?,?,?,?);`,
		uuid, exportDir, true, startedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// FinishResult stores the terminal state and RunResult of a run in progress.
func FinishResult(ctx context.Context, db *sql.DB, uuid string, state model.State, result model.RunResult, finishedAt time.Time) error {
	errs, err := json.Marshal(result.Errors)
	if err != nil {
		return fmt.Errorf("marshaling run errors: %w", err)
	}
	return finish(ctx, db, uuid,
		`UPDATE runs
		 SET
			in_progress = false,
			state = ?,
			success = ?,
			errors = ?,
			finished_at = ?
		 WHERE uuid = ?;`,
		string(state), result.Success, string(errs), finishedAt.UnixMilli(), uuid,
	)
}

// FinishErr stores the reason a run in progress produced no RunResult.
func FinishErr(ctx context.Context, db *sql.DB, uuid, reason string, finishedAt time.Time) error {
	return finish(ctx, db, uuid,
		`UPDATE runs
		 SET
			in_progress = false,
			state = ?,
			success = false,
			failure_reason = ?,
			finished_at = ?
		 WHERE uuid = ?;`,
		string(model.StateFailed), reason, finishedAt.UnixMilli(), uuid,
	)
}

func finish(ctx context.Context, db *sql.DB, uuid, query string, args ...any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	inProgress, err := inProgress(ctx, tx, uuid)
	if err != nil {
		return err
	}
	if !inProgress {
		return ErrAlreadyFinished
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

const selectRuns = `SELECT id, uuid, export_dir, in_progress, state, success, errors, failure_reason, started_at, finished_at FROM runs`

// Get returns the run identified by uuid or ErrNotFound.
func Get(ctx context.Context, db *sql.DB, uuid string) (RunRow, error) {
	row := db.QueryRowContext(ctx, selectRuns+` WHERE uuid=?`, uuid)
	r, err := scanRun(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return RunRow{}, ErrNotFound
	case err != nil:
		return RunRow{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return r, nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all of them.
func List(ctx context.Context, db *sql.DB, limit int) ([]RunRow, error) {
	query := selectRuns + ` ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ret []RunRow
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

func Delete(ctx context.Context, db *sql.DB, uuid string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE uuid=?`, uuid)
	if err != nil {
		return fmt.Errorf("executing sql delete failed: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetching affected rows failed: %w", err)
	}
	if ra != 1 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

func inProgress(ctx context.Context, tx *sql.Tx, uuid string) (bool, error) {
	var ret bool
	err := tx.QueryRowContext(ctx, `SELECT in_progress FROM runs WHERE uuid=?`, uuid).Scan(&ret)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, ErrNotFound
	case err != nil:
		return false, fmt.Errorf("executing sql query failed: %w", err)
	}
	return ret, nil
}

func rollback(ctx context.Context, tx *sql.Tx, uuid string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("uuid", uuid))
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRow, error) {
	var (
		r        RunRow
		state    sql.NullString
		errs     sql.NullString
		started  int64
		finished sql.NullInt64
	)
	err := s.Scan(
		&r.ID,
		&r.UUID,
		&r.ExportDir,
		&r.InProgress,
		&state,
		&r.Success,
		&errs,
		&r.FailureReason,
		&started,
		&finished,
	)
	if err != nil {
		return RunRow{}, err
	}
	if state.Valid {
		s := model.State(state.String)
		r.State = &s
	}
	if errs.Valid {
		if err := json.Unmarshal([]byte(errs.String), &r.Errors); err != nil {
			return RunRow{}, fmt.Errorf("parsing errors of run %s: %w", r.UUID, err)
		}
	}
	r.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		r.FinishedAt = &t
	}
	return r, nil
}
