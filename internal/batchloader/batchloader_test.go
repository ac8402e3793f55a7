package batchloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateOptimalBatchSize_CapsToParamBudget(t *testing.T) {
	// S6: 400 columns, requested batch size 200 -> capped to
	// floor(60000/400) = 150.
	got := CalculateOptimalBatchSize(400, 200)
	assert.Equal(t, 150, got)
}

func TestCalculateOptimalBatchSize_BelowCapUnchanged(t *testing.T) {
	got := CalculateOptimalBatchSize(10, 500)
	assert.Equal(t, 500, got)
}

func TestCalculateOptimalBatchSize_ZeroColumnsReturnsRequested(t *testing.T) {
	got := CalculateOptimalBatchSize(0, 500)
	assert.Equal(t, 500, got)
}

func TestCalculateOptimalBatchSize_MinimumOneRow(t *testing.T) {
	got := CalculateOptimalBatchSize(1_000_000, 10)
	assert.Equal(t, 1, got)
}

func TestLoad_RejectsEmptyBatch(t *testing.T) {
	_, err := Load(nil, nil, Spec{})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestLoad_RejectsRowShapeMismatch(t *testing.T) {
	_, err := Load(nil, nil, Spec{
		TableName: "raw.test",
		Columns:   []string{"a", "b"},
		Values:    [][]any{{"1"}},
	})
	assert.ErrorIs(t, err, ErrRowShapeMismatch)
}

func TestLoad_RejectsRowThatAloneExceedsParamBudget(t *testing.T) {
	// A single row's column count alone exceeding paramBudget cannot be
	// split down any further, unlike TestLoad_SplitsOversizedBatchAcrossStatements
	// (internal/batchloader/batchloader_integration_test.go), where the row
	// count is what's split.
	columns := make([]string, 60001)
	for i := range columns {
		columns[i] = "c"
	}

	row := make([]any, 60001)

	_, err := Load(nil, nil, Spec{
		TableName: "raw.test",
		Columns:   columns,
		Values:    [][]any{row},
	})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestBuildStatement_PlainInsert(t *testing.T) {
	spec := Spec{
		TableName: "raw.extract",
		Columns:   []string{"a", "b"},
		Values:    [][]any{{"1", "2"}, {"3", "4"}},
	}

	query, args := buildStatement(spec, 2, 2)
	assert.Contains(t, query, "INSERT INTO raw.extract (a, b) VALUES")
	assert.Contains(t, query, "($1,$2)")
	assert.Contains(t, query, "($3,$4)")
	assert.Equal(t, []any{"1", "2", "3", "4"}, args)
}

func TestBuildStatement_Upsert(t *testing.T) {
	spec := Spec{
		TableName:       "stg.extract",
		Columns:         []string{"natural_key", "value", "updated_at"},
		Values:          [][]any{{"k1", "v1", "t1"}},
		ConflictColumns: []string{"natural_key"},
	}

	query, _ := buildStatement(spec, 3, 1)
	assert.Contains(t, query, "ON CONFLICT (natural_key) DO UPDATE SET")
	assert.Contains(t, query, "value = EXCLUDED.value")
	assert.Contains(t, query, "updated_at = EXCLUDED.updated_at")
	assert.NotContains(t, query, "natural_key = EXCLUDED.natural_key")
}
