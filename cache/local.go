package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore implements Store on the local filesystem. Blobs are stored as
// {baseDir}/{key}.tar.gz. Useful for the docker-compose development stack
// and for tests.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a LocalStore rooted at baseDir.
func NewLocalStore(baseDir string) *LocalStore {
	return &LocalStore{baseDir: baseDir}
}

func (s *LocalStore) Name() string { return "local" }

func (s *LocalStore) blobPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, "/\\") {
		return "", fmt.Errorf("cache: invalid key %q", key)
	}
	return filepath.Join(s.baseDir, key+".tar.gz"), nil
}

func (s *LocalStore) Restore(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.blobPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMiss, key)
		}
		return nil, fmt.Errorf("cache: failed to open %q: %w", key, err)
	}
	return f, nil
}

// Rebuild writes the blob to a temporary file and renames it into place, so
// a reader never observes a partially-written cache.
func (s *LocalStore) Rebuild(_ context.Context, key string, r io.Reader) error {
	path, err := s.blobPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("cache: failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+key+"-*")
	if err != nil {
		return fmt.Errorf("cache: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("cache: failed to replace blob: %w", err)
	}
	return nil
}
