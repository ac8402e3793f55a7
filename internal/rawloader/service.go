package rawloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nz-health/extract-loader/internal/batchloader"
	"github.com/nz-health/extract-loader/internal/dbpool"
	"github.com/nz-health/extract-loader/internal/errs"
	"github.com/nz-health/extract-loader/internal/extract"
	"github.com/nz-health/extract-loader/internal/lineage"
	"github.com/nz-health/extract-loader/internal/parser"
	"github.com/nz-health/extract-loader/internal/streamproc"
)

// Service loads files into their raw tables.
type Service struct {
	conn       *dbpool.Connection
	registry   *extract.Registry
	idempotent *lineage.Store
	store      ObjectStore
	publisher  lineage.EventPublisher
	logger     *slog.Logger
}

// NewService builds a Service. logger may be nil, in which case
// slog.Default() is used. Completion events are discarded
// (lineage.NoopPublisher) unless NewServiceWithPublisher is used instead.
func NewService(conn *dbpool.Connection, registry *extract.Registry, idempotent *lineage.Store, store ObjectStore, logger *slog.Logger) *Service {
	return NewServiceWithPublisher(conn, registry, idempotent, store, lineage.NoopPublisher{}, logger)
}

// NewServiceWithPublisher builds a Service that publishes a
// lineage.CompletionEvent for every LoadFile outcome.
func NewServiceWithPublisher(conn *dbpool.Connection, registry *extract.Registry, idempotent *lineage.Store, store ObjectStore, publisher lineage.EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if publisher == nil {
		publisher = lineage.NoopPublisher{}
	}

	return &Service{conn: conn, registry: registry, idempotent: idempotent, store: store, publisher: publisher, logger: logger}
}

// publish reports a completion event without letting a slow or unreachable
// broker affect the file load it describes: a failure to publish is logged
// and swallowed. A Service built as a zero value (tests exercising loadBatch
// directly) has a nil publisher/logger and simply skips reporting.
func (s *Service) publish(ctx context.Context, loadRunID, extractType, status string, rowsWritten, rowsFailed int) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.Publish(ctx, lineage.CompletionEvent{
		RunID:       loadRunID,
		ExtractType: extractType,
		Stage:       "raw",
		Status:      status,
		RowsWritten: rowsWritten,
		RowsFailed:  rowsFailed,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("rawloader: failed to publish completion event",
			slog.String("loadRunId", loadRunID), slog.String("error", err.Error()))
	}
}

// LoadFile loads one file end to end: idempotency check, handler lookup,
// stream open, parse, batch, insert.
func (s *Service) LoadFile(ctx context.Context, file lineage.FileDescriptor, opts Options) (LoadResult, error) {
	opts = opts.withDefaults()

	started := time.Now()

	if !opts.SkipValidation {
		record, found, err := s.idempotent.Check(ctx, file)
		if err != nil {
			return LoadResult{}, err
		}

		if found && record.IsProcessed {
			return LoadResult{Skipped: true, Warnings: []string{"file already processed, skipping"}}, nil
		}
	}

	handler, err := s.registry.Get(file.ExtractType)
	if err != nil {
		return LoadResult{}, fmt.Errorf("%w: %s: %w", ErrHandlerMissing, file.ExtractType, err)
	}

	tuple := lineage.NewTuple(file, opts.LoadRunID, time.Now().UTC())
	loadRunFileID := lineage.GenerateLoadRunFileID(tuple.Bucket, tuple.Key, tuple.VersionID, tuple.ContentHash, tuple.LoadRunID)

	if err := s.idempotent.MarkStarted(ctx, file, opts.LoadRunID); err != nil {
		return LoadResult{}, err
	}

	stream, err := s.store.Open(ctx, file)
	if err != nil {
		markErr := s.idempotent.MarkFailed(ctx, file, opts.LoadRunID, err.Error())

		return LoadResult{}, firstNonNil(err, markErr)
	}
	defer stream.Close()

	counting := &countingReader{r: stream}

	p := parser.New(counting, parser.Options{Columns: handler.ColumnMapping}, s.logger)

	columns := append([]string{"load_run_file_id"}, handler.ColumnMapping...)

	proc := streamproc.New(p, streamproc.Options{
		BatchSize:       opts.BatchSize,
		MaxQueueSize:    opts.MaxQueueSize,
		ContinueOnError: opts.ContinueOnError,
	}, func(ctx context.Context, batch streamproc.Batch) (streamproc.BatchResult, error) {
		return s.loadBatch(ctx, handler.TableName, columns, loadRunFileID, batch, opts)
	})

	summary, runErr := proc.Run(ctx)

	result := LoadResult{
		TotalRows:         summary.TotalRows,
		SuccessfulBatches: summary.SuccessfulBatches,
		FailedBatches:     summary.FailedBatches,
		Errors:            summary.Errors,
		DurationMs:        time.Since(started).Milliseconds(),
		BytesProcessed:    counting.total,
	}

	if result.DurationMs > 0 {
		result.RowsPerSecond = float64(result.TotalRows) / (float64(result.DurationMs) / 1000)
	}

	if runErr != nil && result.SuccessfulBatches == 0 {
		_ = s.idempotent.MarkFailed(ctx, file, opts.LoadRunID, runErr.Error())
		s.publish(ctx, opts.LoadRunID, file.ExtractType, "failed", 0, result.TotalRows)

		return result, runErr
	}

	if err := s.idempotent.MarkCompleted(ctx, file, opts.LoadRunID, result.TotalRows); err != nil {
		return result, err
	}

	s.publish(ctx, opts.LoadRunID, file.ExtractType, "completed", result.TotalRows, 0)

	return result, nil
}

// loadBatch builds the raw-table insert shape per batch: the lineage FK
// prepended to the handler's declared column order, rows in the order the
// parser produced them, missing fields preserved as empty strings (raw
// fidelity: never drop a column, never coerce here).
func (s *Service) loadBatch(ctx context.Context, tableName string, columns []string, loadRunFileID string, batch streamproc.Batch, opts Options) (streamproc.BatchResult, error) {
	values := make([][]any, 0, len(batch.Rows))

	for _, row := range batch.Rows {
		rowValues := make([]any, 0, len(columns))
		rowValues = append(rowValues, loadRunFileID)

		for _, v := range row.Values {
			rowValues = append(rowValues, v)
		}

		values = append(values, rowValues)
	}

	if len(values) > 0 && len(values[0]) != len(columns) {
		return streamproc.BatchResult{}, fmt.Errorf("rawloader: batch %d has %d columns, want %d",
			batch.BatchNumber, len(values[0]), len(columns))
	}

	result, err := s.loadBatchWithRetry(ctx, tableName, columns, values, batch.BatchNumber, opts)
	if err != nil {
		return streamproc.BatchResult{}, err
	}

	return streamproc.BatchResult{Success: result.Success, RowsInserted: result.RowsInserted}, nil
}

// loadBatchWithRetry paces retries with a token-bucket limiter instead of a
// bare timer: the first attempt always runs immediately (a full bucket),
// every subsequent attempt waits for one token to refill at
// opts.RetryDelayMs, and a cancelled context unblocks the wait immediately
// rather than leaking a timer goroutine.
func (s *Service) loadBatchWithRetry(ctx context.Context, tableName string, columns []string, values [][]any, batchNumber int, opts Options) (batchloader.Result, error) {
	limiter := rate.NewLimiter(rate.Every(time.Duration(opts.RetryDelayMs)*time.Millisecond), 1)

	var lastErr error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return batchloader.Result{}, err
		}

		result, err := batchloader.Load(ctx, s.conn, batchloader.Spec{
			TableName:   tableName,
			Columns:     columns,
			Values:      values,
			BatchNumber: batchNumber,
		})
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !errs.IsRetryable(err) || attempt == opts.MaxRetries {
			break
		}
	}

	return batchloader.Result{}, lastErr
}

// LoadMultipleFiles loads files in concurrency-bounded waves of size
// opts.MaxConcurrentFiles: every wave completes before the next starts, so
// memory and connection-pool pressure never exceed one wave's worth of
// files regardless of how many are queued.
func (s *Service) LoadMultipleFiles(ctx context.Context, files []lineage.FileDescriptor, opts Options) ([]LoadResult, error) {
	opts = opts.withDefaults()

	results := make([]LoadResult, len(files))

	for waveStart := 0; waveStart < len(files); waveStart += opts.MaxConcurrentFiles {
		waveEnd := waveStart + opts.MaxConcurrentFiles
		if waveEnd > len(files) {
			waveEnd = len(files)
		}

		group, groupCtx := errgroup.WithContext(ctx)

		for i := waveStart; i < waveEnd; i++ {
			i := i

			group.Go(func() error {
				result, err := s.LoadFile(groupCtx, files[i], opts)
				results[i] = result

				if err != nil && !opts.ContinueOnError {
					return err
				}

				return nil
			})
		}

		if err := group.Wait(); err != nil {
			return results, err
		}
	}

	return results, nil
}

// countingReader wraps a stream to track total bytes read, for LoadResult's
// BytesProcessed without requiring the object-storage collaborator to know
// its own size up front.
type countingReader struct {
	r     io.Reader
	total int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.total += int64(n)

	return n, err
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}
