// Package pipeline defines the static configuration of a pipeline: an
// ordered list of stages, each gated by a predicate over the trigger event.
package pipeline

import (
	"errors"

	"github.com/GoCodeAlone/conveyor/trigger"
)

// ActionKind identifies what a stage does when it runs.
type ActionKind string

const (
	// ActionRun executes the stage's commands in its image.
	ActionRun ActionKind = "run"
	// ActionRestoreCache materializes the cache mount from the cache store.
	ActionRestoreCache ActionKind = "restore_cache"
	// ActionRebuildCache persists the cache mount back to the cache store.
	ActionRebuildCache ActionKind = "rebuild_cache"
	// ActionBuildImage builds and pushes a container image tagged per the
	// promotion rules for the trigger event.
	ActionBuildImage ActionKind = "build_image"
	// ActionDeployImage updates the target deployment object's image per
	// the promotion rules for the trigger event.
	ActionDeployImage ActionKind = "deploy_image"
)

// Common validation errors.
var (
	ErrInvalidDefinition = errors.New("pipeline: invalid definition")
	ErrGroupOverlap      = errors.New("pipeline: overlapping predicates within group")
)

// SecretRef maps a store-held secret to the name the stage expects.
type SecretRef struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// CacheMountRef identifies the persisted dependency cache and where it is
// mounted inside the stage.
type CacheMountRef struct {
	Path string `json:"path" yaml:"path"`
	Key  string `json:"key" yaml:"key"`
}

// Stage is one executable unit within a pipeline run.
type Stage struct {
	Name string `json:"name" yaml:"name"`

	// Group names a set of mutually-exclusive alternative definitions of
	// the same logical stage. At most one member of a group may match any
	// single trigger event.
	Group string `json:"group,omitempty" yaml:"group,omitempty"`

	When    Predicate         `json:"when,omitempty" yaml:"when,omitempty"`
	Secrets []SecretRef       `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	Mount   *CacheMountRef    `json:"mount,omitempty" yaml:"mount,omitempty"`
	Action  ActionKind        `json:"action" yaml:"action"`
	Image   string            `json:"image,omitempty" yaml:"image,omitempty"`
	Command []string          `json:"commands,omitempty" yaml:"commands,omitempty"`
	Env     map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`

	// Repo is the image repository for build_image actions.
	Repo string `json:"repo,omitempty" yaml:"repo,omitempty"`

	// AlwaysRun marks a stage that still executes after an earlier stage
	// has failed (e.g. a final cache rebuild or notification).
	AlwaysRun bool `json:"always_run,omitempty" yaml:"always_run,omitempty"`
}

// Definition is a complete pipeline: stages execute in declaration order.
type Definition struct {
	Name   string  `json:"name" yaml:"name"`
	Stages []Stage `json:"stages" yaml:"stages"`
}

// SecretGroup returns the secret scope a stage resolves its refs from.
// Deploy stages are scoped by the promotion environment at run time; this
// covers stages with a static environment constraint.
func (s *Stage) SecretGroup() string {
	if len(s.When.Environments) == 1 {
		return s.When.Environments[0]
	}
	return ""
}

var knownActions = map[ActionKind]bool{
	ActionRun:          true,
	ActionRestoreCache: true,
	ActionRebuildCache: true,
	ActionBuildImage:   true,
	ActionDeployImage:  true,
}

// Matches reports whether the stage's predicate accepts the event.
func (s *Stage) Matches(ev trigger.Event) bool {
	return s.When.Matches(ev)
}
