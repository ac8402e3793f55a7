// Package rejection persists rows that failed transformation or validation
// during staging, and builds summaries over them for operators.
package rejection

import "time"

// Row is one row that failed transformation or validation and did not make
// it into staging.
type Row struct {
	LoadRunID          string
	ExtractType         string
	RowNumber           int
	SourceRowID         *string
	RejectionReason     string
	ValidationFailures  []FailureDetail
	RawData             map[string]any
	RejectedAt          time.Time
}

// FailureDetail mirrors validation.Failure/transform failures without
// importing those packages, so rejection stays a leaf dependency of the
// staging pipeline rather than the other way round.
type FailureDetail struct {
	Column  string `json:"column"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Summary aggregates a set of rejections for reporting.
type Summary struct {
	Total        int
	ByReason     map[string]int
	ByColumn     map[string]int
	TopReasons   []ReasonCount
}

// ReasonCount is one entry of a summary's top-N reasons, ordered by count
// descending.
type ReasonCount struct {
	Reason string
	Count  int
}
