package lineage

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// FileIdentityKey generates a deterministic identity key for a file,
// independent of any particular load run, the same way the teacher's
// canonicalization package derives idempotency keys: a plain SHA-256 of
// the concatenated identity components. This is the Idempotency Record's
// primary key — it must stay stable across restarts so a file already
// marked processed is recognized as such on every future load attempt.
//
// Formula: SHA256(bucket + key + versionId + contentHash)
func FileIdentityKey(bucket, key, versionID, contentHash string) string {
	input := bucket + key + versionID + contentHash

	hash := sha256.Sum256([]byte(input))

	return hex.EncodeToString(hash[:])
}

// GenerateLoadRunFileID generates the per-row lineage FK stamped on every
// raw and staging row: a surrogate key joining a row to the file *and*
// load run that produced it. Unlike FileIdentityKey, this varies with
// loadRunID on purpose — a restart that reprocesses an already-started
// file writes its rows under a fresh FK rather than colliding with rows
// from a prior attempt, so raw-table representation stays unambiguous
// under (load_run_file_id, rowNumber) across re-runs.
//
// Formula: SHA256(bucket + key + versionId + contentHash + loadRunId)
func GenerateLoadRunFileID(bucket, key, versionID, contentHash, loadRunID string) string {
	input := bucket + key + versionID + contentHash + loadRunID

	hash := sha256.Sum256([]byte(input))

	return hex.EncodeToString(hash[:])
}

// NewLoadRunID generates a fresh random identifier for a load run.
func NewLoadRunID() string {
	return uuid.NewString()
}

// NewStagingRunID generates a fresh random identifier for a staging run.
func NewStagingRunID() string {
	return uuid.NewString()
}
