// Package registry pushes built container images to a remote registry.
package registry

import (
	"context"
	"fmt"
	"sync"
)

// Pusher defines the container registry interface: push every listed tag of
// a repository. A push failure is fatal to the run that requested it.
type Pusher interface {
	Push(ctx context.Context, repo string, tags []string) error
}

// FakePusher records pushes in memory. Used in tests and dry runs.
type FakePusher struct {
	mu     sync.Mutex
	Pushed map[string][]string // repo -> tags, in push order
	Err    error
}

// NewFakePusher creates an empty FakePusher.
func NewFakePusher() *FakePusher {
	return &FakePusher{Pushed: make(map[string][]string)}
}

func (f *FakePusher) Push(_ context.Context, repo string, tags []string) error {
	if f.Err != nil {
		return f.Err
	}
	if repo == "" {
		return fmt.Errorf("registry: repo is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pushed[repo] = append(f.Pushed[repo], tags...)
	return nil
}

// Tags returns the tags pushed for a repo.
func (f *FakePusher) Tags(repo string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Pushed[repo]...)
}
