package staging

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/nz-health/extract-loader/internal/config"
	"github.com/nz-health/extract-loader/internal/dbpool"
	"github.com/nz-health/extract-loader/internal/extract"
	"github.com/nz-health/extract-loader/internal/lineage"
)

func patientsHandler(t *testing.T) extract.Handler {
	t.Helper()

	handler := extract.Handler{
		ExtractType:   "patients",
		TableName:     "raw.patients",
		StagingTable:  "staging.patients",
		ColumnMapping: []string{"patient_id", "nhi", "dob", "is_active", "updated_at"},
		NaturalKeys:   []string{"patientId"},
		Transformations: []extract.ColumnTransformation{
			{SourceColumn: "patient_id", TargetColumn: "patientId", TargetType: extract.TargetText, Required: true},
			{SourceColumn: "nhi", TargetColumn: "nhi", TargetType: extract.TargetText, Required: true},
			{SourceColumn: "dob", TargetColumn: "dob", TargetType: extract.TargetDate, Required: true},
			{SourceColumn: "is_active", TargetColumn: "isActive", TargetType: extract.TargetBoolean, Required: true},
			{SourceColumn: "updated_at", TargetColumn: "updatedAt", TargetType: extract.TargetTimestamp, Required: true},
		},
	}

	require.NoError(t, handler.Validate())

	return handler
}

// seedRawPatient marks a synthetic file started under loadRunID (so
// FileIdentitiesForLoadRun picks it up, the same as a real rawloader run
// would) and inserts one raw.patients row under the resulting lineage FK.
// objectKey must be distinct per call within a test: it is the file identity
// component that keeps rows from distinct "files" from colliding.
func seedRawPatient(ctx context.Context, t *testing.T, conn *dbpool.Connection, idempotent *lineage.Store, loadRunID, objectKey, patientID, nhi, dob, isActive, updatedAt string) {
	t.Helper()

	file := lineage.FileDescriptor{
		Bucket:      "test-bucket",
		Key:         objectKey,
		VersionID:   "v1",
		ContentHash: fmt.Sprintf("hash-%s", objectKey),
		ExtractType: "patients",
	}

	require.NoError(t, idempotent.MarkStarted(ctx, file, loadRunID))

	loadRunFileID := lineage.GenerateLoadRunFileID(file.Bucket, file.Key, file.VersionID, file.ContentHash, loadRunID)

	_, err := conn.ExecContext(ctx, `
		INSERT INTO raw.patients (load_run_file_id, patient_id, nhi, dob, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, loadRunFileID, patientID, nhi, dob, isActive, updatedAt)
	require.NoError(t, err)
}

func TestService_TransformExtract_WritesStagingRowsAndRejections(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := &dbpool.Connection{DB: testDB.Connection}
	idempotent := lineage.NewStore(conn)

	const loadRunID = "load-run-1"

	seedRawPatient(ctx, t, conn, idempotent, loadRunID, "patients-1.csv", "P001", "ABC1234", "1980-05-12", "true", "2024-01-01T00:00:00Z")
	seedRawPatient(ctx, t, conn, idempotent, loadRunID, "patients-2.csv", "P002", "XYZ5678", "1990-07-23", "false", "2024-02-01T00:00:00Z")
	// Missing dob: fails transformation and must be rejected, not staged.
	seedRawPatient(ctx, t, conn, idempotent, loadRunID, "patients-3.csv", "P003", "QRS9999", "", "true", "2024-03-01T00:00:00Z")

	handler := patientsHandler(t)
	svc := NewService(conn, idempotent)

	result, err := svc.TransformExtract(ctx, handler, Options{LoadRunID: loadRunID, BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalRowsRead)
	assert.Equal(t, 2, result.TotalRowsTransformed)
	assert.Equal(t, 1, result.TotalRowsRejected)

	var stagingCount int
	require.NoError(t, testDB.Connection.QueryRowContext(ctx, "SELECT count(*) FROM staging.patients").Scan(&stagingCount))
	assert.Equal(t, 2, stagingCount)

	var rejectionCount int
	require.NoError(t, testDB.Connection.QueryRowContext(ctx, "SELECT count(*) FROM etl.staging_rejections WHERE load_run_id = $1", loadRunID).Scan(&rejectionCount))
	assert.Equal(t, 1, rejectionCount)

	staged, found, err := svc.runs.GetStagingRun(ctx, loadRunID, "patients")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "completed", string(staged.Status))
}

func TestService_TransformExtract_ReturnsCachedResultWithoutForceReprocess(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := &dbpool.Connection{DB: testDB.Connection}
	idempotent := lineage.NewStore(conn)

	const loadRunID = "load-run-1"

	seedRawPatient(ctx, t, conn, idempotent, loadRunID, "patients-1.csv", "P001", "ABC1234", "1980-05-12", "true", "2024-01-01T00:00:00Z")

	handler := patientsHandler(t)
	svc := NewService(conn, idempotent)

	first, err := svc.TransformExtract(ctx, handler, Options{LoadRunID: loadRunID, BatchSize: 10})
	require.NoError(t, err)

	// A second raw row lands after the run completed, under the same load
	// run; a non-forced re-run must return the cached result rather than
	// pick it up.
	seedRawPatient(ctx, t, conn, idempotent, loadRunID, "patients-2.csv", "P002", "XYZ5678", "1990-07-23", "false", "2024-02-01T00:00:00Z")

	second, err := svc.TransformExtract(ctx, handler, Options{LoadRunID: loadRunID, BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, first.TotalRowsTransformed, second.TotalRowsTransformed)

	var stagingCount int
	require.NoError(t, testDB.Connection.QueryRowContext(ctx, "SELECT count(*) FROM staging.patients").Scan(&stagingCount))
	assert.Equal(t, 1, stagingCount)
}
