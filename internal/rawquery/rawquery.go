// Package rawquery builds parameterized SELECT/COUNT/cursor statements over
// raw tables, filtered by lineage FK, with optional ad-hoc WHERE and
// LIMIT/OFFSET pagination. It never executes anything itself; callers run
// the returned (query, args) through a *dbpool.Connection.
package rawquery

import (
	"fmt"
	"strings"
)

// Filter narrows a raw-table scan to one or more load_run_file_id values,
// plus an optional caller-supplied WHERE fragment that is appended as written
// and carries no placeholders of its own.
type Filter struct {
	LoadRunFileIDs []string
	Extra          string // e.g. "status = 'active'"; no placeholders of its own
}

// Pagination bounds a scan to one page. Limit <= 0 means unbounded.
type Pagination struct {
	Limit  int
	Offset int
}

// OrderBy is an optional ORDER BY fragment, e.g. "updated_at ASC". Callers
// are responsible for only passing column names, never user input.
type OrderBy string

// BuildSelect returns a SELECT over table restricted to the given columns
// (or "*" when columns is empty), filtered, ordered and paginated as
// requested, along with its positional args in declaration order.
func BuildSelect(table string, columns []string, filter Filter, order OrderBy, page *Pagination) (string, []any) {
	cols := "*"
	if len(columns) > 0 {
		cols = strings.Join(columns, ", ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", cols, table)

	conditions, args, paramIndex := buildConditions(filter)

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	if order != "" {
		query += " ORDER BY " + string(order)
	}

	if page != nil && page.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", paramIndex, paramIndex+1)
		args = append(args, page.Limit, page.Offset)
	}

	return query, args
}

// BuildCount returns a COUNT(*) query over table under the same filter used
// by BuildSelect, so the caller can compute totalBatches = ceil(total /
// batchSize) before paginating.
func BuildCount(table string, filter Filter) (string, []any) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)

	conditions, args, _ := buildConditions(filter)

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	return query, args
}

// CursorQueries returns the DECLARE/FETCH/CLOSE triple for a large scan that
// should not be paged through LIMIT/OFFSET. cursorName must be a valid,
// caller-controlled SQL identifier (never derived from user input).
func CursorQueries(cursorName, table string, columns []string, filter Filter, order OrderBy) (declare string, args []any, fetch func(n int) string, closeStmt string) {
	cols := "*"
	if len(columns) > 0 {
		cols = strings.Join(columns, ", ")
	}

	selectQuery := fmt.Sprintf("SELECT %s FROM %s", cols, table)

	conditions, queryArgs, _ := buildConditions(filter)

	if len(conditions) > 0 {
		selectQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	if order != "" {
		selectQuery += " ORDER BY " + string(order)
	}

	declare = fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", cursorName, selectQuery)
	fetch = func(n int) string {
		return fmt.Sprintf("FETCH %d FROM %s", n, cursorName)
	}
	closeStmt = fmt.Sprintf("CLOSE %s", cursorName)

	return declare, queryArgs, fetch, closeStmt
}

// buildConditions assembles the WHERE fragments shared by BuildSelect,
// BuildCount and CursorQueries: an IN-list over load_run_file_id (singular
// filter collapses to plain equality) plus the caller's ad-hoc fragment.
// paramIndex is returned as the next free positional placeholder, for
// callers that append further parameters (e.g. LIMIT/OFFSET).
func buildConditions(filter Filter) (conditions []string, args []any, paramIndex int) {
	paramIndex = 1

	switch len(filter.LoadRunFileIDs) {
	case 0:
		// no lineage filter at all
	case 1:
		conditions = append(conditions, fmt.Sprintf("load_run_file_id = $%d", paramIndex))
		args = append(args, filter.LoadRunFileIDs[0])
		paramIndex++
	default:
		placeholders := make([]string, len(filter.LoadRunFileIDs))

		for i, id := range filter.LoadRunFileIDs {
			placeholders[i] = fmt.Sprintf("$%d", paramIndex)
			args = append(args, id)
			paramIndex++
		}

		conditions = append(conditions, fmt.Sprintf("load_run_file_id IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.Extra != "" {
		conditions = append(conditions, filter.Extra)
	}

	return conditions, args, paramIndex
}
