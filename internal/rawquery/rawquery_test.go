package rawquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSelect_SingleLineageFilterWithPagination(t *testing.T) {
	query, args := BuildSelect(
		"raw.patients",
		[]string{"patient_id", "dob"},
		Filter{LoadRunFileIDs: []string{"abc123"}},
		OrderBy("row_number ASC"),
		&Pagination{Limit: 100, Offset: 200},
	)

	assert.Equal(t,
		"SELECT patient_id, dob FROM raw.patients WHERE load_run_file_id = $1 ORDER BY row_number ASC LIMIT $2 OFFSET $3",
		query,
	)
	assert.Equal(t, []any{"abc123", 100, 200}, args)
}

func TestBuildSelect_InListForMultipleLineageIDs(t *testing.T) {
	query, args := BuildSelect(
		"raw.patients",
		nil,
		Filter{LoadRunFileIDs: []string{"a", "b", "c"}},
		"",
		nil,
	)

	assert.Equal(t, "SELECT * FROM raw.patients WHERE load_run_file_id IN ($1, $2, $3)", query)
	assert.Equal(t, []any{"a", "b", "c"}, args)
}

func TestBuildSelect_ExtraConditionAppended(t *testing.T) {
	query, _ := BuildSelect(
		"raw.patients",
		nil,
		Filter{LoadRunFileIDs: []string{"a"}, Extra: "is_active = true"},
		"",
		nil,
	)

	assert.Equal(t, "SELECT * FROM raw.patients WHERE load_run_file_id = $1 AND is_active = true", query)
}

func TestBuildCount_NoPaginationParams(t *testing.T) {
	query, args := BuildCount("raw.patients", Filter{LoadRunFileIDs: []string{"a", "b"}})

	assert.Equal(t, "SELECT COUNT(*) FROM raw.patients WHERE load_run_file_id IN ($1, $2)", query)
	assert.Equal(t, []any{"a", "b"}, args)
}

func TestCursorQueries_BuildsDeclareFetchClose(t *testing.T) {
	declare, args, fetch, closeStmt := CursorQueries(
		"raw_scan", "raw.patients", []string{"patient_id"},
		Filter{LoadRunFileIDs: []string{"a"}}, OrderBy("row_number ASC"),
	)

	assert.Equal(t,
		"DECLARE raw_scan NO SCROLL CURSOR FOR SELECT patient_id FROM raw.patients WHERE load_run_file_id = $1 ORDER BY row_number ASC",
		declare,
	)
	assert.Equal(t, []any{"a"}, args)
	assert.Equal(t, "FETCH 500 FROM raw_scan", fetch(500))
	assert.Equal(t, "CLOSE raw_scan", closeStmt)
}

func TestBuildSelect_NoFilterNoConditions(t *testing.T) {
	query, args := BuildSelect("raw.patients", nil, Filter{}, "", nil)

	assert.Equal(t, "SELECT * FROM raw.patients", query)
	assert.Empty(t, args)
}
