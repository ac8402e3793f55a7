package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nz-health/extract-loader/internal/dbpool"
	"github.com/nz-health/extract-loader/internal/errs"
	"github.com/nz-health/extract-loader/internal/extract"
	"github.com/nz-health/extract-loader/internal/lineage"
	"github.com/nz-health/extract-loader/internal/rawquery"
	"github.com/nz-health/extract-loader/internal/rejection"
	"github.com/nz-health/extract-loader/internal/runs"
	"github.com/nz-health/extract-loader/internal/transform"
	"github.com/nz-health/extract-loader/internal/validation"
)

// Options controls one TransformExtract invocation.
type Options struct {
	LoadRunID         string
	BatchSize         int
	ForceReprocess    bool
	MaxErrorsPerBatch int
	MaxTotalErrors    int
	// MaxRejectionRatePct stops the run when the fraction of rejected rows
	// observed so far exceeds this percentage (0-100) of rows read so far.
	// Zero disables the check.
	MaxRejectionRatePct float64
	TransformOptions    transform.Options
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}

	return o
}

// TransformResult is the outcome of transforming one extract's raw rows
// into staging.
type TransformResult struct {
	StagingRunID          string
	TotalRowsRead         int
	TotalRowsTransformed  int
	TotalRowsRejected     int
	TotalRowsDeduplicated int
	SuccessfulBatches     int
	FailedBatches         int
	Errors                []string
	Warnings              []string
	Rejections            rejection.Summary
	DurationMs            int64
	RowsPerSecond         float64
}

// Service orchestrates the raw-to-staging transformation described by
// TransformExtract.
type Service struct {
	conn       *dbpool.Connection
	runs       *runs.Store
	rejections *rejection.Store
	idempotent *lineage.Store
	publisher  lineage.EventPublisher
	logger     *slog.Logger
}

// NewService builds a Service backed by conn, sharing the connection with
// the run-bookkeeping and rejection stores it constructs internally.
// idempotent is the same lineage.Store the raw loader marks files started/
// completed against: TransformExtract uses it to scope its raw-table scan
// to the files opts.LoadRunID actually wrote. Completion events are
// discarded (lineage.NoopPublisher) unless NewServiceWithPublisher is used
// instead.
func NewService(conn *dbpool.Connection, idempotent *lineage.Store) *Service {
	return NewServiceWithPublisher(conn, idempotent, lineage.NoopPublisher{}, nil)
}

// NewServiceWithPublisher builds a Service that publishes a
// lineage.CompletionEvent on every TransformExtract outcome. logger may be
// nil, in which case slog.Default() is used for publish-failure warnings.
func NewServiceWithPublisher(conn *dbpool.Connection, idempotent *lineage.Store, publisher lineage.EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		conn:       conn,
		runs:       runs.NewStore(conn),
		rejections: rejection.NewStore(conn),
		idempotent: idempotent,
		publisher:  publisher,
		logger:     logger,
	}
}

// TransformExtract reads handler.TableName in pages, transforms and
// validates each row, deduplicates by natural key within a batch, and
// upserts survivors into handler.StagingTable. Pages are read with
// LIMIT/OFFSET and no ORDER BY, so page boundaries are stable only while
// nothing writes to the raw table during the run.
func (s *Service) TransformExtract(ctx context.Context, handler extract.Handler, opts Options) (TransformResult, error) {
	opts = opts.withDefaults()

	started := time.Now()

	existing, found, err := s.runs.GetStagingRun(ctx, opts.LoadRunID, handler.ExtractType)
	if err != nil {
		return TransformResult{}, fmt.Errorf("staging: check existing run: %w", err)
	}

	if found && existing.Status == runs.StagingCompleted && !opts.ForceReprocess {
		var cached TransformResult
		if err := json.Unmarshal([]byte(existing.ResultJSON), &cached); err == nil {
			return cached, nil
		}
		// Fall through and reprocess if the cached result is unreadable —
		// better a re-run than a permanently stuck extract.
	}

	stagingRunID := lineage.NewStagingRunID()

	if _, err := s.runs.StartStagingRun(ctx, stagingRunID, opts.LoadRunID, handler.ExtractType,
		handler.TableName, handler.StagingTable, opts.ForceReprocess); err != nil {
		return TransformResult{}, fmt.Errorf("staging: start run: %w", err)
	}

	if err := s.rejections.EnsureTable(ctx); err != nil {
		return TransformResult{}, s.fail(ctx, stagingRunID, handler.ExtractType, err)
	}

	result, runErr := s.run(ctx, stagingRunID, handler, opts)
	if runErr != nil {
		return TransformResult{}, s.fail(ctx, stagingRunID, handler.ExtractType, runErr)
	}

	result.DurationMs = time.Since(started).Milliseconds()
	if result.DurationMs > 0 {
		result.RowsPerSecond = float64(result.TotalRowsTransformed) / (float64(result.DurationMs) / 1000)
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return TransformResult{}, s.fail(ctx, stagingRunID, handler.ExtractType, fmt.Errorf("marshal result: %w", err))
	}

	if err := s.runs.FinishStagingRun(ctx, stagingRunID, runs.StagingCompleted,
		result.TotalRowsRead, result.TotalRowsTransformed, result.TotalRowsRejected, "", string(resultJSON)); err != nil {
		return TransformResult{}, fmt.Errorf("staging: finish run: %w", err)
	}

	s.publish(ctx, stagingRunID, handler.ExtractType, "completed", result.TotalRowsTransformed, result.TotalRowsRejected)

	return result, nil
}

func (s *Service) fail(ctx context.Context, stagingRunID, extractType string, cause error) error {
	_ = s.runs.FinishStagingRun(ctx, stagingRunID, runs.StagingFailed, 0, 0, 0, cause.Error(), "")

	s.publish(ctx, stagingRunID, extractType, "failed", 0, 0)

	return cause
}

// publish reports a completion event without letting a slow or unreachable
// broker affect the run it describes: a failure to publish is logged and
// swallowed.
func (s *Service) publish(ctx context.Context, stagingRunID, extractType, status string, rowsWritten, rowsFailed int) {
	err := s.publisher.Publish(ctx, lineage.CompletionEvent{
		RunID:       stagingRunID,
		ExtractType: extractType,
		Stage:       "staging",
		Status:      status,
		RowsWritten: rowsWritten,
		RowsFailed:  rowsFailed,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("staging: failed to publish completion event",
			slog.String("stagingRunId", stagingRunID), slog.String("error", err.Error()))
	}
}

func (s *Service) run(ctx context.Context, stagingRunID string, handler extract.Handler, opts Options) (TransformResult, error) {
	result := TransformResult{StagingRunID: stagingRunID}

	lineageIDs, err := s.idempotent.FileIdentitiesForLoadRun(ctx, opts.LoadRunID)
	if err != nil {
		return result, fmt.Errorf("staging: resolve load run file identities: %w", err)
	}

	if len(lineageIDs) == 0 {
		return result, nil
	}

	filter := rawquery.Filter{LoadRunFileIDs: lineageIDs}

	countQuery, countArgs := rawquery.BuildCount(handler.TableName, filter)

	var total int

	if err := s.conn.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return result, fmt.Errorf("staging: count raw rows: %w", errs.ClassifyDatabaseError(err))
	}

	totalBatches := int(math.Ceil(float64(total) / float64(opts.BatchSize)))
	columnRules := handler.ColumnRules()

	var allRejections []rejection.Row

	for b := 0; b < totalBatches; b++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		rawRows, rowLineageIDs, err := s.readPage(ctx, handler, filter, b, opts.BatchSize)
		if err != nil {
			result.FailedBatches++
			result.Errors = append(result.Errors, err.Error())

			continue
		}

		result.TotalRowsRead += len(rawRows)

		survivors, batchRejections, batchStopped := transformAndValidate(rawRows, rowLineageIDs, handler.Transformations, columnRules, opts.TransformOptions, opts.LoadRunID, handler.ExtractType, opts.MaxErrorsPerBatch)
		if batchStopped {
			result.Warnings = append(result.Warnings, fmt.Sprintf("batch %d stopped early: per-batch error threshold exceeded", b))
		}

		deduped, dupeCount := dedupeByNaturalKey(survivors, handler.NaturalKeys)
		result.TotalRowsDeduplicated += dupeCount

		allRejections = append(allRejections, batchRejections...)
		result.TotalRowsRejected += len(batchRejections)

		if len(deduped) > 0 {
			if err := upsertSurvivors(ctx, s.conn, handler, deduped, b); err != nil {
				result.FailedBatches++
				result.Errors = append(result.Errors, err.Error())

				continue
			}

			result.TotalRowsTransformed += len(deduped)
			result.SuccessfulBatches++
		}

		if validation.ShouldStopExtract(result.TotalRowsRejected, opts.MaxTotalErrors) {
			result.Warnings = append(result.Warnings, "stopped early: total rejection threshold exceeded")

			break
		}

		if rejection.ShouldStopOnRejectionRate(result.TotalRowsRead, result.TotalRowsRejected, opts.MaxRejectionRatePct) {
			result.Warnings = append(result.Warnings, "stopped early: rejection rate threshold exceeded")

			break
		}
	}

	if err := s.rejections.Flush(ctx, allRejections); err != nil {
		return result, fmt.Errorf("staging: flush rejections: %w", err)
	}

	result.Rejections = rejection.BuildSummary(allRejections, 10)

	return result, nil
}

// survivorRow pairs a transformed row with the lineage FK it was read
// under, so dedup and upsert can keep them together.
type survivorRow struct {
	values        map[string]any
	loadRunFileID string
	index         int
}

func (s *Service) readPage(ctx context.Context, handler extract.Handler, filter rawquery.Filter, batchNumber, batchSize int) ([]map[string]string, []string, error) {
	columns := append([]string{"load_run_file_id"}, handler.ColumnMapping...)

	query, args := rawquery.BuildSelect(handler.TableName, columns, filter, "", &rawquery.Pagination{
		Limit:  batchSize,
		Offset: batchNumber * batchSize,
	})

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("staging: read page %d: %w", batchNumber, errs.ClassifyDatabaseError(err))
	}
	defer rows.Close()

	var (
		rawRows    []map[string]string
		lineageIDs []string
	)

	for rows.Next() {
		scanTargets := make([]any, len(columns))
		scanValues := make([]string, len(columns))

		for i := range scanTargets {
			scanTargets[i] = &scanValues[i]
		}

		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("staging: scan page %d: %w", batchNumber, errs.ClassifyDatabaseError(err))
		}

		row := make(map[string]string, len(handler.ColumnMapping))
		for i, col := range handler.ColumnMapping {
			row[col] = scanValues[i+1]
		}

		rawRows = append(rawRows, row)
		lineageIDs = append(lineageIDs, scanValues[0])
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("staging: iterate page %d: %w", batchNumber, errs.ClassifyDatabaseError(err))
	}

	return rawRows, lineageIDs, nil
}

func transformAndValidate(
	rawRows []map[string]string,
	lineageIDs []string,
	transformations []extract.ColumnTransformation,
	columnRules []validation.ColumnRules,
	opts transform.Options,
	loadRunID, extractType string,
	maxErrorsPerBatch int,
) ([]survivorRow, []rejection.Row, bool) {
	var (
		survivors  []survivorRow
		rejections []rejection.Row
		stopped    bool
	)

	for i, raw := range rawRows {
		transformed := transform.TransformRow(raw, transformations, opts)
		if !transformed.Success {
			rejections = append(rejections, rejectionFromTransform(raw, transformed, i, loadRunID, extractType))

			if validation.ShouldStopBatch(len(rejections), maxErrorsPerBatch) {
				stopped = true

				break
			}

			continue
		}

		validated := validation.ValidateRow(transformed.Row, columnRules)
		if !validated.IsValid {
			rejections = append(rejections, rejectionFromValidation(raw, validated, i, loadRunID, extractType))

			if validation.ShouldStopBatch(len(rejections), maxErrorsPerBatch) {
				stopped = true

				break
			}

			continue
		}

		survivors = append(survivors, survivorRow{
			values:        transformed.Row,
			loadRunFileID: lineageIDs[i],
			index:         i,
		})
	}

	return survivors, rejections, stopped
}

func rejectionFromTransform(raw map[string]string, result transform.Result, rowNumber int, loadRunID, extractType string) rejection.Row {
	details := make([]rejection.FailureDetail, 0, len(result.Failures))
	for _, f := range result.Failures {
		details = append(details, rejection.FailureDetail{Column: f.Column, Rule: f.Rule, Message: f.Message})
	}

	return rejection.Row{
		LoadRunID:          loadRunID,
		ExtractType:        extractType,
		RowNumber:          rowNumber,
		RejectionReason:    "Transformation failed",
		ValidationFailures: details,
		RawData:            rawDataOf(raw),
		RejectedAt:         time.Now().UTC(),
	}
}

func rejectionFromValidation(raw map[string]string, result validation.Result, rowNumber int, loadRunID, extractType string) rejection.Row {
	details := make([]rejection.FailureDetail, 0, len(result.Failures))
	for _, f := range result.Failures {
		details = append(details, rejection.FailureDetail{Column: f.Column, Rule: f.Rule, Message: f.Message})
	}

	return rejection.Row{
		LoadRunID:          loadRunID,
		ExtractType:        extractType,
		RowNumber:          rowNumber,
		RejectionReason:    "Validation failed",
		ValidationFailures: details,
		RawData:            rawDataOf(raw),
		RejectedAt:         time.Now().UTC(),
	}
}

func rawDataOf(raw map[string]string) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}

	return out
}

// nullSentinel distinguishes a NULL natural-key component from an empty
// string one when building the dedup key tuple, so ("", "x") and (NULL,
// "x") never collide.
const nullSentinel = "\x00<nil>\x00"

// dedupeByNaturalKey keeps, for each distinct natural-key tuple, the row
// with the greatest updatedAt; ties break on the lowest original index.
// Rows lacking an "updatedAt" column are treated as having the zero time,
// so the first occurrence in source order wins among them.
func dedupeByNaturalKey(rows []survivorRow, naturalKeys []string) ([]survivorRow, int) {
	if len(naturalKeys) == 0 {
		return rows, 0
	}

	best := make(map[string]survivorRow, len(rows))
	order := make([]string, 0, len(rows))

	for _, row := range rows {
		key := naturalKeyOf(row.values, naturalKeys)

		current, exists := best[key]
		if !exists {
			best[key] = row
			order = append(order, key)

			continue
		}

		if updatedAtOf(row.values).After(updatedAtOf(current.values)) ||
			(updatedAtOf(row.values).Equal(updatedAtOf(current.values)) && row.index < current.index) {
			best[key] = row
		}
	}

	deduped := make([]survivorRow, 0, len(order))
	for _, key := range order {
		deduped = append(deduped, best[key])
	}

	return deduped, len(rows) - len(deduped)
}

func naturalKeyOf(row map[string]any, naturalKeys []string) string {
	h := sha256.New()

	for _, key := range naturalKeys {
		v, ok := row[key]
		if !ok || v == nil {
			h.Write([]byte(nullSentinel))
		} else {
			fmt.Fprintf(h, "%v", v)
		}

		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}

func updatedAtOf(row map[string]any) time.Time {
	v, ok := row["updatedAt"]
	if !ok {
		return time.Time{}
	}

	if t, ok := v.(time.Time); ok {
		return t
	}

	return time.Time{}
}

func upsertSurvivors(ctx context.Context, conn *dbpool.Connection, handler extract.Handler, survivors []survivorRow, batchNumber int) error {
	columns := make([]string, 0, len(handler.Transformations))
	for _, t := range handler.Transformations {
		columns = append(columns, t.TargetColumn)
	}

	// All survivors in one call share a lineage FK only when they came from
	// the same raw file; grouping keeps the upsert's load_run_file_id
	// column accurate per row by splitting into per-lineage sub-batches.
	byLineage := make(map[string][]map[string]any)
	order := make([]string, 0)

	for _, row := range survivors {
		if _, ok := byLineage[row.loadRunFileID]; !ok {
			order = append(order, row.loadRunFileID)
		}

		byLineage[row.loadRunFileID] = append(byLineage[row.loadRunFileID], row.values)
	}

	for _, lineageID := range order {
		rows := byLineage[lineageID]

		if _, err := Upsert(ctx, conn, UpsertSpec{
			TableName:       handler.StagingTable,
			Columns:         columns,
			Rows:            rows,
			ConflictColumns: handler.NaturalKeys,
			BatchNumber:     batchNumber,
		}, lineageID); err != nil {
			return fmt.Errorf("staging: upsert batch %d: %w", batchNumber, err)
		}
	}

	return nil
}
