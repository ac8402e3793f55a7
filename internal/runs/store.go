package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nz-health/extract-loader/internal/dbpool"
	"github.com/nz-health/extract-loader/internal/errs"
)

// Store persists Load Run and Staging Run bookkeeping records in
// etl.load_runs / etl.staging_runs.
type Store struct {
	conn *dbpool.Connection
}

// NewStore builds a Store backed by conn.
func NewStore(conn *dbpool.Connection) *Store {
	return &Store{conn: conn}
}

// StartLoadRun inserts a new Load Run in the running state.
func (s *Store) StartLoadRun(ctx context.Context, loadRunID string, trigger Trigger) (LoadRun, error) {
	run := LoadRun{
		LoadRunID: loadRunID,
		StartedAt: time.Now().UTC(),
		Status:    LoadRunning,
		Trigger:   trigger,
	}

	const query = `
		INSERT INTO etl.load_runs (load_run_id, started_at, status, trigger)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := s.conn.ExecContext(ctx, query, run.LoadRunID, run.StartedAt, run.Status, run.Trigger); err != nil {
		return LoadRun{}, fmt.Errorf("runs: start load run: %w", errs.ClassifyDatabaseError(err))
	}

	return run, nil
}

// GetLoadRun fetches a Load Run by ID.
func (s *Store) GetLoadRun(ctx context.Context, loadRunID string) (LoadRun, error) {
	const query = `
		SELECT load_run_id, started_at, completed_at, status, trigger,
		       total_files, total_rows, notes
		FROM etl.load_runs WHERE load_run_id = $1
	`

	var (
		run         LoadRun
		completedAt sql.NullTime
		notes       sql.NullString
	)

	row := s.conn.QueryRowContext(ctx, query, loadRunID)

	err := row.Scan(&run.LoadRunID, &run.StartedAt, &completedAt, &run.Status, &run.Trigger,
		&run.TotalFiles, &run.TotalRows, &notes)
	if err != nil {
		return LoadRun{}, fmt.Errorf("runs: get load run: %w", errs.ClassifyDatabaseError(err))
	}

	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}

	run.Notes = notes.String

	return run, nil
}

// FinishLoadRun transitions a Load Run to a terminal status, recording
// totals and notes. The caller is responsible for choosing a status valid
// per ValidateLoadTransition given the run's current state.
func (s *Store) FinishLoadRun(ctx context.Context, loadRunID string, status LoadStatus, totalFiles, totalRows int, notes string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidLoadTransition, status)
	}

	const query = `
		UPDATE etl.load_runs
		SET status = $2, completed_at = $3, total_files = $4, total_rows = $5, notes = $6
		WHERE load_run_id = $1
	`

	_, err := s.conn.ExecContext(ctx, query, loadRunID, status, time.Now().UTC(), totalFiles, totalRows, notes)
	if err != nil {
		return fmt.Errorf("runs: finish load run: %w", errs.ClassifyDatabaseError(err))
	}

	return nil
}

// GetStagingRun fetches the Staging Run for (loadRunID, extractType), if
// one exists.
func (s *Store) GetStagingRun(ctx context.Context, loadRunID, extractType string) (StagingRun, bool, error) {
	const query = `
		SELECT staging_run_id, load_run_id, extract_type, source, target,
		       started_at, completed_at, status, rows_read, rows_written,
		       rows_rejected, error, result_json
		FROM etl.staging_runs
		WHERE load_run_id = $1 AND extract_type = $2
	`

	var (
		run         StagingRun
		completedAt sql.NullTime
		errMsg      sql.NullString
		resultJSON  sql.NullString
	)

	row := s.conn.QueryRowContext(ctx, query, loadRunID, extractType)

	err := row.Scan(&run.StagingRunID, &run.LoadRunID, &run.ExtractType, &run.Source, &run.Target,
		&run.StartedAt, &completedAt, &run.Status, &run.RowsRead, &run.RowsWritten,
		&run.RowsRejected, &errMsg, &resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return StagingRun{}, false, nil
	}

	if err != nil {
		return StagingRun{}, false, fmt.Errorf("runs: get staging run: %w", errs.ClassifyDatabaseError(err))
	}

	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}

	run.Error = errMsg.String
	run.ResultJSON = resultJSON.String

	return run, true, nil
}

// StartStagingRun inserts a new Staging Run, or resets an existing one back
// to running when forceReprocess is set (the caller already decided a
// reprocess is wanted; this just clears the previous outcome).
func (s *Store) StartStagingRun(ctx context.Context, stagingRunID, loadRunID, extractType, source, target string, forceReprocess bool) (StagingRun, error) {
	run := StagingRun{
		StagingRunID: stagingRunID,
		LoadRunID:    loadRunID,
		ExtractType:  extractType,
		Source:       source,
		Target:       target,
		StartedAt:    time.Now().UTC(),
		Status:       StagingRunning,
	}

	const insert = `
		INSERT INTO etl.staging_runs
			(staging_run_id, load_run_id, extract_type, source, target, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (load_run_id, extract_type) DO UPDATE SET
			staging_run_id = EXCLUDED.staging_run_id,
			started_at = EXCLUDED.started_at,
			status = EXCLUDED.status,
			completed_at = NULL,
			error = NULL
		WHERE $8
	`

	_, err := s.conn.ExecContext(ctx, insert, run.StagingRunID, run.LoadRunID, run.ExtractType,
		run.Source, run.Target, run.StartedAt, run.Status, forceReprocess)
	if err != nil {
		return StagingRun{}, fmt.Errorf("runs: start staging run: %w", errs.ClassifyDatabaseError(err))
	}

	return run, nil
}

// FinishStagingRun transitions a Staging Run to a terminal status with its
// final counters and, on success, a serialized result usable for a cached
// replay of an already-completed run.
func (s *Store) FinishStagingRun(
	ctx context.Context,
	stagingRunID string,
	status StagingStatus,
	rowsRead, rowsWritten, rowsRejected int,
	errMsg, resultJSON string,
) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidStagingTransition, status)
	}

	const query = `
		UPDATE etl.staging_runs
		SET status = $2, completed_at = $3, rows_read = $4, rows_written = $5,
		    rows_rejected = $6, error = $7, result_json = $8
		WHERE staging_run_id = $1
	`

	_, err := s.conn.ExecContext(ctx, query, stagingRunID, status, time.Now().UTC(),
		rowsRead, rowsWritten, rowsRejected, nullIfEmpty(errMsg), nullIfEmpty(resultJSON))
	if err != nil {
		return fmt.Errorf("runs: finish staging run: %w", errs.ClassifyDatabaseError(err))
	}

	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}

	return s
}
