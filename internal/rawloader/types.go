// Package rawloader implements the Raw Loader Service: for one object
// descriptor, checks idempotency, looks up its extract handler, streams and
// parses its bytes, and writes parsed rows into the raw table in batches.
package rawloader

import (
	"context"
	"errors"
	"io"

	"github.com/nz-health/extract-loader/internal/lineage"
)

// ObjectStore is the object-storage collaborator the loader reads file
// bytes from. Implementations (S3, GCS, local filesystem) live outside this
// package; rawloader only depends on this narrow interface.
type ObjectStore interface {
	Open(ctx context.Context, file lineage.FileDescriptor) (io.ReadCloser, error)
}

// ErrHandlerMissing is returned when no extract handler is registered for a
// file's declared extract type.
var ErrHandlerMissing = errors.New("rawloader: no handler registered for extract type")

// LoadResult reports the outcome of loading one file.
type LoadResult struct {
	TotalRows         int
	SuccessfulBatches int
	FailedBatches     int
	Errors            []error
	Warnings          []string
	DurationMs        int64
	BytesProcessed    int64
	RowsPerSecond     float64
	MemoryUsageMB     float64
	Skipped           bool
}

// Options configures LoadFile/LoadMultipleFiles.
type Options struct {
	LoadRunID          string
	BatchSize          int
	MaxQueueSize       int
	SkipValidation     bool // skip the idempotency short-circuit, always reload
	MaxConcurrentFiles int
	MaxRetries         int
	RetryDelayMs       int
	ContinueOnError    bool
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}

	if o.MaxConcurrentFiles <= 0 {
		o.MaxConcurrentFiles = 5
	}

	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}

	if o.RetryDelayMs <= 0 {
		o.RetryDelayMs = 500
	}

	return o
}
