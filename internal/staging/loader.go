// Package staging orchestrates the raw-to-staging transformation pipeline:
// reading raw rows in pages, transforming and validating each row,
// deduplicating by natural key within a batch, and upserting survivors into
// the staging table with lineage.
package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nz-health/extract-loader/internal/batchloader"
	"github.com/nz-health/extract-loader/internal/dbpool"
)

// ErrRowShapeMismatch is returned when a row's values do not match the
// declared columns for a staging upsert.
var ErrRowShapeMismatch = errors.New("staging row does not match column count")

// UpsertSpec describes one batch upsert into a staging table.
type UpsertSpec struct {
	TableName       string
	Columns         []string // target-column names, lineage FK and load_ts already included
	Rows            []map[string]any
	ConflictColumns []string
	BatchNumber     int
}

// lineageColumn and loadTSColumn are appended to every staging row before
// loading, carrying the raw file this row was derived from and the moment
// it was written to staging.
const (
	lineageColumn = "load_run_file_id"
	loadTSColumn  = "load_ts"
)

// Upsert embeds the lineage FK and a fresh load_ts into every row, then
// loads the batch via batchloader with ON CONFLICT ... DO UPDATE over
// spec.ConflictColumns.
func Upsert(ctx context.Context, conn *dbpool.Connection, spec UpsertSpec, loadRunFileID string) (batchloader.Result, error) {
	columns := append(append([]string{}, spec.Columns...), lineageColumn, loadTSColumn)

	loadTS := time.Now().UTC()

	values := make([][]any, 0, len(spec.Rows))

	for i, row := range spec.Rows {
		rowValues := make([]any, 0, len(columns))

		for _, col := range spec.Columns {
			v, ok := row[col]
			if !ok {
				return batchloader.Result{}, fmt.Errorf("%w: row %d missing value for column %s", ErrRowShapeMismatch, i, col)
			}

			rowValues = append(rowValues, v)
		}

		rowValues = append(rowValues, loadRunFileID, loadTS)
		values = append(values, rowValues)
	}

	return batchloader.Load(ctx, conn, batchloader.Spec{
		TableName:       spec.TableName,
		Columns:         columns,
		Values:          values,
		BatchNumber:     spec.BatchNumber,
		ConflictColumns: spec.ConflictColumns,
	})
}
