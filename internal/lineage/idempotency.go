package lineage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nz-health/extract-loader/internal/dbpool"
	"github.com/nz-health/extract-loader/internal/errs"
)

// Store persists idempotency records keyed by a file's
// (bucket, key, versionId, contentHash) identity.
type Store struct {
	conn *dbpool.Connection
}

// NewStore builds a Store backed by conn.
func NewStore(conn *dbpool.Connection) *Store {
	return &Store{conn: conn}
}

// Check reports whether file has already been fully loaded. found is false
// when no idempotency record exists yet for this file identity.
func (s *Store) Check(ctx context.Context, file FileDescriptor) (Record, bool, error) {
	id := FileIdentityKey(file.Bucket, file.Key, file.VersionID, file.ContentHash)

	const query = `
		SELECT bucket, object_key, version_id, content_hash, is_processed,
		       load_run_id, processed_at, row_count, last_error
		FROM etl.raw_idempotency
		WHERE load_run_file_id = $1
	`

	var (
		rec         Record
		loadRunID   sql.NullString
		processedAt sql.NullTime
		lastError   sql.NullString
	)

	row := s.conn.QueryRowContext(ctx, query, id)

	err := row.Scan(&rec.Bucket, &rec.Key, &rec.VersionID, &rec.ContentHash, &rec.IsProcessed,
		&loadRunID, &processedAt, &rec.RowCount, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}

	if err != nil {
		return Record{}, false, fmt.Errorf("lineage: check idempotency: %w", errs.ClassifyDatabaseError(err))
	}

	if loadRunID.Valid {
		rec.LoadRunID = loadRunID.String
	}

	if processedAt.Valid {
		t := processedAt.Time
		rec.ProcessedAt = &t
	}

	if lastError.Valid {
		rec.LastError = lastError.String
	}

	return rec, true, nil
}

// MarkStarted records that a file is now being processed under loadRunID,
// inserting the idempotency row if it does not exist yet. It does not mark
// the file completed: a restart before MarkCompleted still reprocesses the
// file from scratch (see DESIGN.md Open Question 2).
func (s *Store) MarkStarted(ctx context.Context, file FileDescriptor, loadRunID string) error {
	id := FileIdentityKey(file.Bucket, file.Key, file.VersionID, file.ContentHash)

	const query = `
		INSERT INTO etl.raw_idempotency
			(load_run_file_id, bucket, object_key, version_id, content_hash, is_processed, load_run_id)
		VALUES ($1, $2, $3, $4, $5, false, $6)
		ON CONFLICT (load_run_file_id) DO UPDATE SET load_run_id = EXCLUDED.load_run_id
	`

	_, err := s.conn.ExecContext(ctx, query, id, file.Bucket, file.Key, file.VersionID, file.ContentHash, loadRunID)
	if err != nil {
		return fmt.Errorf("lineage: mark started: %w", errs.ClassifyDatabaseError(err))
	}

	return nil
}

// MarkCompleted marks a file fully loaded with rowCount rows written.
func (s *Store) MarkCompleted(ctx context.Context, file FileDescriptor, loadRunID string, rowCount int) error {
	id := FileIdentityKey(file.Bucket, file.Key, file.VersionID, file.ContentHash)

	const query = `
		UPDATE etl.raw_idempotency
		SET is_processed = true, load_run_id = $2, processed_at = $3, row_count = $4, last_error = NULL
		WHERE load_run_file_id = $1
	`

	_, err := s.conn.ExecContext(ctx, query, id, loadRunID, time.Now().UTC(), rowCount)
	if err != nil {
		return fmt.Errorf("lineage: mark completed: %w", errs.ClassifyDatabaseError(err))
	}

	return nil
}

// FileIdentitiesForLoadRun returns the per-row lineage FK (as produced by
// GenerateLoadRunFileID) for every file that was started under loadRunID,
// derived from the idempotency records' stored file identities. Staging
// uses this to scope a raw-table scan to exactly the files its own load
// run wrote, never picking up rows left behind by an abandoned prior
// attempt at the same file (see DESIGN.md Open Question 2).
func (s *Store) FileIdentitiesForLoadRun(ctx context.Context, loadRunID string) ([]string, error) {
	const query = `
		SELECT bucket, object_key, version_id, content_hash
		FROM etl.raw_idempotency
		WHERE load_run_id = $1
	`

	rows, err := s.conn.QueryContext(ctx, query, loadRunID)
	if err != nil {
		return nil, fmt.Errorf("lineage: list file identities for load run: %w", errs.ClassifyDatabaseError(err))
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var bucket, key, versionID, contentHash string

		if err := rows.Scan(&bucket, &key, &versionID, &contentHash); err != nil {
			return nil, fmt.Errorf("lineage: scan file identity: %w", errs.ClassifyDatabaseError(err))
		}

		ids = append(ids, GenerateLoadRunFileID(bucket, key, versionID, contentHash, loadRunID))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lineage: iterate file identities: %w", errs.ClassifyDatabaseError(err))
	}

	return ids, nil
}

// MarkFailed records the last error seen while loading a file, without
// marking it processed.
func (s *Store) MarkFailed(ctx context.Context, file FileDescriptor, loadRunID, lastError string) error {
	id := FileIdentityKey(file.Bucket, file.Key, file.VersionID, file.ContentHash)

	const query = `
		UPDATE etl.raw_idempotency
		SET load_run_id = $2, last_error = $3
		WHERE load_run_file_id = $1
	`

	_, err := s.conn.ExecContext(ctx, query, id, loadRunID, lastError)
	if err != nil {
		return fmt.Errorf("lineage: mark failed: %w", errs.ClassifyDatabaseError(err))
	}

	return nil
}
