// Package transform implements per-column type coercion from raw text to
// typed staging values, the first half of validating a raw row before it is
// allowed into staging (the second half lives in internal/validation).
package transform

import (
	"github.com/nz-health/extract-loader/internal/validation"
)

// Options controls coercion behavior shared across all columns of a row.
type Options struct {
	TrimStrings         bool
	NullifyEmptyStrings bool
	DateFormat          string
	TimestampFormat     string
}

func (o Options) withDefaults() Options {
	if o.DateFormat == "" {
		o.DateFormat = "2006-01-02"
	}

	if o.TimestampFormat == "" {
		o.TimestampFormat = "2006-01-02T15:04:05Z07:00"
	}

	return o
}

// Result is the outcome of transforming one raw row.
type Result struct {
	Success bool
	// Row holds target-column values on success, keyed by TargetColumn.
	Row map[string]any
	// Failures mirrors validation.Failure so transform-stage rejections
	// (REQUIRED, FORMAT) flow through the same rejection path as
	// validation-stage failures.
	Failures []validation.Failure
	Errors   []error
}
