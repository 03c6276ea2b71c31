// Package secrets provides scoped access to secret material. Every secret
// lives in a named group (one per deployment environment); a stage only ever
// resolves material from the single group its run is scoped to.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Common errors.
var (
	ErrNotFound     = errors.New("secrets: secret not found")
	ErrInvalidKey   = errors.New("secrets: invalid key")
	ErrProviderInit = errors.New("secrets: provider initialization failed")
)

// Store defines the interface for secret storage backends.
type Store interface {
	// Name returns the store identifier.
	Name() string
	// Get retrieves a secret value by group and name.
	Get(ctx context.Context, group, name string) (string, error)
}

// --- Static Store ---

// StaticStore holds secrets in memory. Used for tests and local development.
type StaticStore struct {
	mu     sync.RWMutex
	groups map[string]map[string]string
}

// NewStaticStore creates an empty in-memory store.
func NewStaticStore() *StaticStore {
	return &StaticStore{groups: make(map[string]map[string]string)}
}

func (s *StaticStore) Name() string { return "static" }

// Set stores a secret under the given group.
func (s *StaticStore) Set(group, name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups[group] == nil {
		s.groups[group] = make(map[string]string)
	}
	s.groups[group][name] = value
}

func (s *StaticStore) Get(_ context.Context, group, name string) (string, error) {
	if group == "" || name == "" {
		return "", ErrInvalidKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.groups[group][name]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, group, name)
	}
	return val, nil
}

// --- File Store ---

// FileStore reads secrets from files laid out as {dir}/{group}/{name}.
// This is compatible with Kubernetes secret volume mounts, one mount per
// group.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-based store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Name() string { return "file" }

func (s *FileStore) Get(_ context.Context, group, name string) (string, error) {
	if group == "" || name == "" {
		return "", ErrInvalidKey
	}
	if strings.ContainsAny(group, "/\\") || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("%w: %s/%s", ErrInvalidKey, group, name)
	}
	path := filepath.Join(s.dir, group, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s/%s", ErrNotFound, group, name)
		}
		return "", fmt.Errorf("secrets: failed to read %s/%s: %w", group, name, err)
	}
	return strings.TrimRight(string(data), "\n\r"), nil
}
