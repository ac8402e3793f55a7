// Package localstore implements rawloader.ObjectStore against the local
// filesystem. The vendor object-storage client itself (S3, GCS, SFTP) stays
// an external collaborator; this adapter exists so the loader binary has a
// concrete, dependency-free way to read extract files handed to it on disk
// (a mounted drop folder, a CI fixture, an operator-triggered one-off load).
package localstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nz-health/extract-loader/internal/lineage"
)

// Store reads files rooted at a base directory.
type Store struct {
	baseDir string
}

// New builds a Store rooted at baseDir.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Open implements rawloader.ObjectStore by opening file.Key relative to the
// store's base directory. file.Bucket is ignored: the local filesystem has
// no bucket concept, so Describe always reports "local" there.
func (s *Store) Open(_ context.Context, file lineage.FileDescriptor) (io.ReadCloser, error) {
	path := filepath.Join(s.baseDir, file.Key)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("localstore: open %s: %w", path, err)
	}

	return f, nil
}

// Describe stats a file under the store's base directory and builds the
// lineage.FileDescriptor LoadFile needs: size, modification time and a
// content hash computed from the file's bytes, scoped to extractType.
func (s *Store) Describe(key, extractType string) (lineage.FileDescriptor, error) {
	path := filepath.Join(s.baseDir, key)

	info, err := os.Stat(path)
	if err != nil {
		return lineage.FileDescriptor{}, fmt.Errorf("localstore: stat %s: %w", path, err)
	}

	hash, err := hashFile(path)
	if err != nil {
		return lineage.FileDescriptor{}, err
	}

	return lineage.FileDescriptor{
		Bucket:        "local",
		Key:           key,
		VersionID:     fmt.Sprintf("%d", info.ModTime().UnixNano()),
		ContentHash:   hash,
		ExtractedDate: info.ModTime().UTC(),
		ExtractType:   extractType,
		Size:          info.Size(),
		LastModified:  info.ModTime().UTC(),
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("localstore: open %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("localstore: hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
