// Package lineage builds the immutable Lineage Tuple attached to every raw
// and staging row, generates the deterministic idempotency key derived from
// a file's identity, and stores/queries idempotency records so a file is
// never fully reloaded twice.
package lineage

import "time"

// FileDescriptor identifies one object-storage object to load.
type FileDescriptor struct {
	Bucket        string
	Key           string
	VersionID     string
	ContentHash   string
	ExtractedDate time.Time
	ExtractType   string
	Size          int64
	LastModified  time.Time
}

// Tuple is the immutable lineage attached to every row written by the raw
// loader and carried forward into staging.
type Tuple struct {
	Bucket        string
	Key           string
	VersionID     string
	ContentHash   string
	ExtractedDate time.Time
	ExtractType   string
	LoadRunID     string
	LoadTS        time.Time
}

// NewTuple builds the lineage tuple for one file within one load run.
func NewTuple(file FileDescriptor, loadRunID string, loadTS time.Time) Tuple {
	return Tuple{
		Bucket:        file.Bucket,
		Key:           file.Key,
		VersionID:     file.VersionID,
		ContentHash:   file.ContentHash,
		ExtractedDate: file.ExtractedDate,
		ExtractType:   file.ExtractType,
		LoadRunID:     loadRunID,
		LoadTS:        loadTS,
	}
}

// Record is the idempotency bookkeeping row keyed by a file's identity.
type Record struct {
	Bucket      string
	Key         string
	VersionID   string
	ContentHash string
	IsProcessed bool
	LoadRunID   string
	ProcessedAt *time.Time
	RowCount    int
	LastError   string
}
