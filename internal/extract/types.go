// Package extract defines the Extract Handler registry: the process-wide,
// immutable-after-construction description of each vendor extract's column
// mapping, target table and transformation/validation rules.
package extract

import (
	"errors"
	"fmt"

	"github.com/nz-health/extract-loader/internal/validation"
)

// TargetType is a staging-column's coerced type.
type TargetType string

const (
	TargetText      TargetType = "TEXT"
	TargetInteger   TargetType = "INTEGER"
	TargetDecimal   TargetType = "DECIMAL"
	TargetBoolean   TargetType = "BOOLEAN"
	TargetDate      TargetType = "DATE"
	TargetTimestamp TargetType = "TIMESTAMP"
	TargetUUID      TargetType = "UUID"
	TargetJSON      TargetType = "JSON"
)

// TransformFunc lets a handler apply custom per-value logic before type
// coercion. It receives the raw (pre-coercion) value and the full raw row
// for cross-field derivations, and returns the (possibly rewritten) raw
// value to coerce.
type TransformFunc func(value string, rawRow map[string]string) (string, error)

// ColumnTransformation describes how one raw column becomes one staging
// column.
type ColumnTransformation struct {
	SourceColumn    string
	TargetColumn    string
	TargetType      TargetType
	Required        bool
	DefaultValue    *string
	TransformFunc   TransformFunc
	ValidationRules []validation.Rule
}

// Handler is the immutable description of one vendor extract: where its raw
// rows land, how they map into staging, and which columns form its natural
// key for deduplication/upsert.
type Handler struct {
	ExtractType     string
	TableName       string
	StagingTable    string
	ColumnMapping   []string // raw column order, as written to the raw table
	NaturalKeys     []string // staging target-column names
	Transformations []ColumnTransformation
}

var (
	// ErrHandlerMissing is returned when a lookup finds no handler
	// registered for the requested extract type.
	ErrHandlerMissing = errors.New("extract handler missing")
	// ErrDuplicateExtractType is returned when two handlers declare the
	// same extract type.
	ErrDuplicateExtractType = errors.New("duplicate extract type")
	// ErrHandlerInvalid is returned when a handler fails basic structural
	// validation at registration time.
	ErrHandlerInvalid = errors.New("invalid extract handler")
)

// Validate checks a handler's structural invariants: non-empty identity,
// at least one column, and every natural key name present among the
// declared target columns.
func (h Handler) Validate() error {
	if h.ExtractType == "" {
		return fmt.Errorf("%w: extract type is empty", ErrHandlerInvalid)
	}

	if h.TableName == "" {
		return fmt.Errorf("%w: %s: table name is empty", ErrHandlerInvalid, h.ExtractType)
	}

	if len(h.ColumnMapping) == 0 {
		return fmt.Errorf("%w: %s: no raw columns declared", ErrHandlerInvalid, h.ExtractType)
	}

	targetColumns := make(map[string]bool, len(h.Transformations))
	for _, t := range h.Transformations {
		targetColumns[t.TargetColumn] = true
	}

	for _, nk := range h.NaturalKeys {
		if !targetColumns[nk] {
			return fmt.Errorf("%w: %s: natural key %q is not a declared target column", ErrHandlerInvalid, h.ExtractType, nk)
		}
	}

	return nil
}

// ColumnRules builds the deterministic, declaration-ordered validation
// rule set validation.ValidateRow expects, derived from this handler's
// transformations.
func (h Handler) ColumnRules() []validation.ColumnRules {
	rules := make([]validation.ColumnRules, 0, len(h.Transformations))

	for _, t := range h.Transformations {
		if len(t.ValidationRules) == 0 {
			continue
		}

		rules = append(rules, validation.ColumnRules{Column: t.TargetColumn, Rules: t.ValidationRules})
	}

	return rules
}
