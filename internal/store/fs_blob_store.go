package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FilesystemBlobStore implements BlobStore on a local directory. Production
// deployments point the handle scheme at an object store; the engine only
// ever sees the handle.
type FilesystemBlobStore struct {
	dir    string
	logger *zap.Logger
}

// NewFilesystemBlobStore creates a blob store rooted at dir
func NewFilesystemBlobStore(dir string, logger *zap.Logger) (*FilesystemBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	return &FilesystemBlobStore{
		dir:    dir,
		logger: logger,
	}, nil
}

// Put writes a document and returns its handle
func (s *FilesystemBlobStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	s.logger.Debug("Stored blob",
		zap.String("name", name),
		zap.Int("size", len(data)))

	return "file://" + path, nil
}

// Get reads a document by handle
func (s *FilesystemBlobStore) Get(ctx context.Context, handle string) ([]byte, error) {
	const scheme = "file://"
	if len(handle) < len(scheme) || handle[:len(scheme)] != scheme {
		return nil, fmt.Errorf("unsupported blob handle: %s", handle)
	}

	data, err := os.ReadFile(handle[len(scheme):])
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	return data, nil
}
