package rejection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nz-health/extract-loader/internal/dbpool"
	"github.com/nz-health/extract-loader/internal/errs"
)

const rejectionParamsPerRow = 8

// Store persists rejected rows to etl.staging_rejections and builds
// summaries over them.
type Store struct {
	conn *dbpool.Connection
}

// NewStore builds a Store backed by conn.
func NewStore(conn *dbpool.Connection) *Store {
	return &Store{conn: conn}
}

// EnsureTable creates etl.staging_rejections and its supporting indexes if
// they do not already exist. Safe to call repeatedly; migrations also carry
// this table, this exists so a staging run never depends on a migration
// having been applied in lockstep.
func (s *Store) EnsureTable(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS etl.staging_rejections (
			id                  BIGSERIAL PRIMARY KEY,
			load_run_id         TEXT NOT NULL,
			extract_type        TEXT NOT NULL,
			row_number          INTEGER NOT NULL,
			source_row_id       TEXT,
			rejection_reason    TEXT NOT NULL,
			validation_failures JSONB NOT NULL,
			raw_data            JSONB NOT NULL,
			rejected_at         TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_staging_rejections_load_run_id ON etl.staging_rejections (load_run_id);
		CREATE INDEX IF NOT EXISTS idx_staging_rejections_extract_type ON etl.staging_rejections (extract_type);
		CREATE INDEX IF NOT EXISTS idx_staging_rejections_rejected_at ON etl.staging_rejections (rejected_at);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("rejection: ensure table: %w", errs.ClassifyDatabaseError(err))
	}

	return nil
}

// Flush writes all rows in a single multi-row INSERT. A no-op when rows is
// empty, so callers can call it unconditionally at the end of a batch or run.
func (s *Store) Flush(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	query, args, err := buildInsert(rows)
	if err != nil {
		return fmt.Errorf("rejection: build insert: %w", err)
	}

	return s.conn.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errs.ClassifyDatabaseError(err)
		}

		return nil
	})
}

func buildInsert(rows []Row) (string, []any, error) {
	var (
		placeholders []string
		args         []any
	)

	for i, row := range rows {
		failuresJSON, err := json.Marshal(row.ValidationFailures)
		if err != nil {
			return "", nil, fmt.Errorf("row %d: marshal validation failures: %w", row.RowNumber, err)
		}

		rawJSON, err := json.Marshal(row.RawData)
		if err != nil {
			return "", nil, fmt.Errorf("row %d: marshal raw data: %w", row.RowNumber, err)
		}

		base := i * rejectionParamsPerRow
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))

		args = append(args,
			row.LoadRunID, row.ExtractType, row.RowNumber, row.SourceRowID,
			row.RejectionReason, string(failuresJSON), string(rawJSON), row.RejectedAt,
		)
	}

	query := fmt.Sprintf(
		`INSERT INTO etl.staging_rejections
			(load_run_id, extract_type, row_number, source_row_id, rejection_reason, validation_failures, raw_data, rejected_at)
		 VALUES %s`,
		strings.Join(placeholders, ", "),
	)

	return query, args, nil
}

// BuildSummary aggregates rows into totals by reason and column, plus a
// top-N list of reasons by frequency.
func BuildSummary(rows []Row, topN int) Summary {
	summary := Summary{
		ByReason: make(map[string]int),
		ByColumn: make(map[string]int),
	}

	for _, row := range rows {
		summary.Total++
		summary.ByReason[row.RejectionReason]++

		for _, f := range row.ValidationFailures {
			summary.ByColumn[f.Column]++
		}
	}

	for reason, count := range summary.ByReason {
		summary.TopReasons = append(summary.TopReasons, ReasonCount{Reason: reason, Count: count})
	}

	sort.Slice(summary.TopReasons, func(i, j int) bool {
		if summary.TopReasons[i].Count != summary.TopReasons[j].Count {
			return summary.TopReasons[i].Count > summary.TopReasons[j].Count
		}

		return summary.TopReasons[i].Reason < summary.TopReasons[j].Reason
	})

	if topN > 0 && len(summary.TopReasons) > topN {
		summary.TopReasons = summary.TopReasons[:topN]
	}

	return summary
}

// ShouldStopOnRejectionRate reports whether the observed rejection rate has
// crossed maxPercent (0-100) of total rows processed so far. total == 0
// never trips the threshold.
func ShouldStopOnRejectionRate(total, rejected int, maxPercent float64) bool {
	if total <= 0 || maxPercent <= 0 {
		return false
	}

	rate := float64(rejected) / float64(total) * 100

	return rate > maxPercent
}
