// Package runner executes stage actions against the container runtime:
// running a stage's commands in its image and building the service image.
package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Mount describes a bind mount from host to container.
type Mount struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read_only"`
}

// ExecSpec describes one command execution inside a stage's image.
type ExecSpec struct {
	Image   string
	Command []string
	Env     map[string]string
	Mounts  []Mount
	WorkDir string
	Timeout time.Duration
}

// ExecResult holds the output from a command execution.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CommandRunner executes a stage's commands. A non-zero exit code is
// reported as an error by callers; the runner only fails on runtime errors.
type CommandRunner interface {
	Exec(ctx context.Context, spec ExecSpec) (*ExecResult, error)
}

// ImageBuilder builds the service image from a context directory and tags it.
type ImageBuilder interface {
	Build(ctx context.Context, contextDir, dockerfile, repo string, tags []string) error
}

// --- Fakes ---

// FakeRunner records executions and replies with configured results.
type FakeRunner struct {
	mu      sync.Mutex
	Execs   []ExecSpec
	Results map[string]*ExecResult // keyed by first command word; nil entry = exit 0
	Err     error
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Results: make(map[string]*ExecResult)}
}

func (f *FakeRunner) Exec(_ context.Context, spec ExecSpec) (*ExecResult, error) {
	f.mu.Lock()
	f.Execs = append(f.Execs, spec)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	if len(spec.Command) > 0 {
		key := strings.Fields(strings.Join(spec.Command, " "))[0]
		if res, ok := f.Results[key]; ok && res != nil {
			return res, nil
		}
	}
	return &ExecResult{ExitCode: 0}, nil
}

// Recorded returns a copy of the recorded exec specs.
func (f *FakeRunner) Recorded() []ExecSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExecSpec(nil), f.Execs...)
}

// FakeBuilder records build requests.
type FakeBuilder struct {
	mu     sync.Mutex
	Builds []string // "{repo}:{tag}" per requested tag
	Err    error
}

// NewFakeBuilder creates an empty FakeBuilder.
func NewFakeBuilder() *FakeBuilder {
	return &FakeBuilder{}
}

func (f *FakeBuilder) Build(_ context.Context, _, _, repo string, tags []string) error {
	if f.Err != nil {
		return f.Err
	}
	if repo == "" {
		return fmt.Errorf("runner: repo is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tags {
		f.Builds = append(f.Builds, repo+":"+t)
	}
	return nil
}

// Built returns a copy of the recorded image references.
func (f *FakeBuilder) Built() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Builds...)
}
