// Package batchloader builds and executes multi-row INSERT/UPSERT
// statements within a single transaction, splitting a batch across multiple
// statements so no single statement's bind-parameter count approaches
// PostgreSQL's 65,535 wire limit.
package batchloader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nz-health/extract-loader/internal/dbpool"
	"github.com/nz-health/extract-loader/internal/errs"
)

// paramBudget is the parameter-count ceiling enforced per statement: well
// below PostgreSQL's 65,535 wire limit, so a batch never lands exactly on
// it (spec.md §8.2).
const paramBudget = 60000

var (
	// ErrEmptyBatch is returned when a batch has no rows or no columns.
	ErrEmptyBatch = errors.New("batch has no rows or no columns")
	// ErrRowShapeMismatch is returned when a row does not have one value
	// per column.
	ErrRowShapeMismatch = errors.New("row does not match column count")
	// ErrBatchTooLarge is returned when a single row's column count alone
	// exceeds paramBudget, so the batch cannot be split down any further.
	ErrBatchTooLarge = errors.New("batch parameter count exceeds PostgreSQL limit")
)

// Spec describes one batch insert or upsert.
type Spec struct {
	TableName string
	Columns   []string
	Values    [][]any
	// BatchNumber identifies this batch for logging/metrics; purely
	// informational.
	BatchNumber int
	// ConflictColumns, if set, turns the statement into an
	// INSERT ... ON CONFLICT (...) DO UPDATE SET col = EXCLUDED.col for
	// every column not in ConflictColumns.
	ConflictColumns []string
}

// Result reports the outcome of a successful Load.
type Result struct {
	Success      bool
	RowsInserted int
	BatchNumber  int
}

// CalculateOptimalBatchSize caps requestedBatchSize so that
// requestedBatchSize * columnCount never exceeds paramBudget. A
// requestedBatchSize of 0 or below returns the cap itself.
func CalculateOptimalBatchSize(columnCount, requestedBatchSize int) int {
	if columnCount <= 0 {
		return requestedBatchSize
	}

	maxRows := paramBudget / columnCount
	if maxRows < 1 {
		maxRows = 1
	}

	if requestedBatchSize <= 0 || requestedBatchSize > maxRows {
		return maxRows
	}

	return requestedBatchSize
}

// Load validates spec and executes it within a single transaction. When
// spec's row count * column count exceeds paramBudget, Values is split
// across multiple statements of CalculateOptimalBatchSize(columnCount, 0)
// rows apiece (spec.md §4.3 step 2 / scenario S6: 400 columns caps each
// statement at floor(60000/400)=150 rows, executed as two statements for a
// 200-row batch) rather than rejecting the batch outright. ErrBatchTooLarge
// is returned only when a single row's column count alone exceeds the
// budget, since that case cannot be split down any further. No per-row
// retry happens inside a batch: a failure fails the whole transaction.
func Load(ctx context.Context, conn *dbpool.Connection, spec Spec) (Result, error) {
	if len(spec.Values) == 0 || len(spec.Columns) == 0 {
		return Result{}, ErrEmptyBatch
	}

	columnCount := len(spec.Columns)

	for i, row := range spec.Values {
		if len(row) != columnCount {
			return Result{}, fmt.Errorf("%w: row %d has %d values, want %d", ErrRowShapeMismatch, i, len(row), columnCount)
		}
	}

	if columnCount > paramBudget {
		return Result{}, fmt.Errorf("%w: %d columns alone exceeds the %d parameter budget",
			ErrBatchTooLarge, columnCount, paramBudget)
	}

	maxRowsPerStatement := CalculateOptimalBatchSize(columnCount, 0)

	var totalInserted int

	err := conn.Transaction(ctx, func(tx *sql.Tx) error {
		for offset := 0; offset < len(spec.Values); offset += maxRowsPerStatement {
			end := offset + maxRowsPerStatement
			if end > len(spec.Values) {
				end = len(spec.Values)
			}

			chunk := spec
			chunk.Values = spec.Values[offset:end]

			n, execErr := execStatement(ctx, tx, chunk, columnCount)
			if execErr != nil {
				return execErr
			}

			totalInserted += n
		}

		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Success: true, RowsInserted: totalInserted, BatchNumber: spec.BatchNumber}, nil
}

func execStatement(ctx context.Context, tx *sql.Tx, spec Spec, columnCount int) (int, error) {
	rowCount := len(spec.Values)

	query, args := buildStatement(spec, columnCount, rowCount)

	if len(args) != rowCount*columnCount {
		return 0, fmt.Errorf("%w: flattened %d args, want %d", ErrRowShapeMismatch, len(args), rowCount*columnCount)
	}

	res, execErr := tx.ExecContext(ctx, query, args...)
	if execErr != nil {
		return 0, errs.ClassifyDatabaseError(execErr)
	}

	n, raErr := res.RowsAffected()
	if raErr != nil {
		return rowCount, nil
	}

	return int(n), nil
}

func buildStatement(spec Spec, columnCount, rowCount int) (string, []any) {
	var sb strings.Builder

	sb.WriteString("INSERT INTO ")
	sb.WriteString(spec.TableName)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(spec.Columns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, rowCount*columnCount)
	paramIdx := 1

	for r := 0; r < rowCount; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}

		sb.WriteByte('(')

		for c := 0; c < columnCount; c++ {
			if c > 0 {
				sb.WriteByte(',')
			}

			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(paramIdx))
			paramIdx++
			args = append(args, spec.Values[r][c])
		}

		sb.WriteByte(')')
	}

	if len(spec.ConflictColumns) > 0 {
		sb.WriteString(" ON CONFLICT (")
		sb.WriteString(strings.Join(spec.ConflictColumns, ", "))
		sb.WriteString(") DO UPDATE SET ")

		updateCols := updatableColumns(spec.Columns, spec.ConflictColumns)
		clauses := make([]string, 0, len(updateCols))

		for _, col := range updateCols {
			clauses = append(clauses, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}

		if len(clauses) == 0 {
			// Every column participates in the conflict key: nothing to
			// update, degrade to DO NOTHING so reruns are harmless.
			sb.Reset()

			return buildStatementDoNothing(spec, columnCount, rowCount)
		}

		sb.WriteString(strings.Join(clauses, ", "))
	}

	return sb.String(), args
}

func buildStatementDoNothing(spec Spec, columnCount, rowCount int) (string, []any) {
	var sb strings.Builder

	sb.WriteString("INSERT INTO ")
	sb.WriteString(spec.TableName)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(spec.Columns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, rowCount*columnCount)
	paramIdx := 1

	for r := 0; r < rowCount; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}

		sb.WriteByte('(')

		for c := 0; c < columnCount; c++ {
			if c > 0 {
				sb.WriteByte(',')
			}

			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(paramIdx))
			paramIdx++
			args = append(args, spec.Values[r][c])
		}

		sb.WriteByte(')')
	}

	sb.WriteString(" ON CONFLICT (")
	sb.WriteString(strings.Join(spec.ConflictColumns, ", "))
	sb.WriteString(") DO NOTHING")

	return sb.String(), args
}

func updatableColumns(columns, conflictColumns []string) []string {
	conflict := make(map[string]bool, len(conflictColumns))
	for _, c := range conflictColumns {
		conflict[c] = true
	}

	out := make([]string, 0, len(columns))

	for _, c := range columns {
		if !conflict[c] {
			out = append(out, c)
		}
	}

	return out
}
