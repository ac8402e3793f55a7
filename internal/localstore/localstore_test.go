package localstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nz-health/extract-loader/internal/lineage"
)

func TestStore_DescribeAndOpen_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patients.txt"), []byte("row-one|~~|row-two"), 0o600))

	store := New(dir)

	desc, err := store.Describe("patients.txt", "patients")
	require.NoError(t, err)
	assert.Equal(t, "local", desc.Bucket)
	assert.Equal(t, "patients.txt", desc.Key)
	assert.Equal(t, "patients", desc.ExtractType)
	assert.NotEmpty(t, desc.ContentHash)
	assert.EqualValues(t, len("row-one|~~|row-two"), desc.Size)

	rc, err := store.Open(context.Background(), desc)
	require.NoError(t, err)
	defer rc.Close()

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "row-one|~~|row-two", string(content))
}

func TestStore_Describe_MissingFileReturnsError(t *testing.T) {
	store := New(t.TempDir())

	_, err := store.Describe("missing.txt", "patients")
	assert.Error(t, err)
}

func TestStore_Open_MissingFileReturnsError(t *testing.T) {
	store := New(t.TempDir())

	_, err := store.Open(context.Background(), lineage.FileDescriptor{Key: "missing.txt"})
	assert.Error(t, err)
}

func TestStore_Describe_ContentHashChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aaa"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bbb"), 0o600))

	store := New(dir)

	descA, err := store.Describe("a.txt", "patients")
	require.NoError(t, err)

	descB, err := store.Describe("b.txt", "patients")
	require.NoError(t, err)

	assert.NotEqual(t, descA.ContentHash, descB.ContentHash)
}
