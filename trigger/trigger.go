// Package trigger defines the event that starts a pipeline run.
package trigger

import (
	"errors"
	"fmt"
)

// Kind identifies why the pipeline is running.
type Kind string

const (
	KindPullRequest Kind = "pull_request"
	KindPush        Kind = "push"
	KindTag         Kind = "tag"
	KindDeployment  Kind = "deployment"
)

// ErrInvalidEvent is returned when an event violates the trigger invariants.
var ErrInvalidEvent = errors.New("trigger: invalid event")

// Event describes a single pipeline invocation. It is created once per run
// and immutable thereafter.
type Event struct {
	Kind        Kind   `json:"kind" yaml:"kind"`
	Branch      string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Tag         string `json:"tag,omitempty" yaml:"tag,omitempty"`
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
	BuildNumber int    `json:"build_number" yaml:"build_number"`
	// ParentBuildNumber is set on deployment events that re-deploy an
	// artifact built by an earlier run.
	ParentBuildNumber int `json:"parent_build_number,omitempty" yaml:"parent_build_number,omitempty"`
}

// knownKinds is the set of accepted trigger kinds.
var knownKinds = map[Kind]bool{
	KindPullRequest: true,
	KindPush:        true,
	KindTag:         true,
	KindDeployment:  true,
}

// Validate checks the event invariants:
//   - Kind must be one of pull_request, push, tag, deployment.
//   - Environment is present iff Kind is deployment.
//   - Tag is present iff Kind is tag, except that a deployment to
//     production carries the release tag of the artifact it promotes.
//   - A deployment to stable carries the branch of the artifact it
//     re-deploys.
func (e Event) Validate() error {
	if !knownKinds[e.Kind] {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}

	if e.Kind == KindDeployment {
		if e.Environment == "" {
			return fmt.Errorf("%w: deployment event requires an environment", ErrInvalidEvent)
		}
	} else if e.Environment != "" {
		return fmt.Errorf("%w: environment is only valid on deployment events", ErrInvalidEvent)
	}

	switch e.Kind {
	case KindTag:
		if e.Tag == "" {
			return fmt.Errorf("%w: tag event requires a tag", ErrInvalidEvent)
		}
	case KindDeployment:
		// Production promotions re-deploy a tag-built artifact and carry
		// its release tag. Other deployments must not.
		if e.Environment == "production" && e.Tag == "" {
			return fmt.Errorf("%w: production deployment requires the release tag", ErrInvalidEvent)
		}
		if e.Environment != "production" && e.Tag != "" {
			return fmt.Errorf("%w: tag is only valid on production deployments", ErrInvalidEvent)
		}
		// Stable promotions re-deploy the parent build's branch artifact,
		// so the branch names the image tag.
		if e.Environment == "stable" && e.Branch == "" {
			return fmt.Errorf("%w: stable deployment requires the branch of the artifact it re-deploys", ErrInvalidEvent)
		}
	default:
		if e.Tag != "" {
			return fmt.Errorf("%w: tag is only valid on tag events", ErrInvalidEvent)
		}
	}

	if e.BuildNumber < 0 {
		return fmt.Errorf("%w: build number must not be negative", ErrInvalidEvent)
	}

	return nil
}

// String returns a compact human-readable description for logs.
func (e Event) String() string {
	switch e.Kind {
	case KindTag:
		return fmt.Sprintf("tag %s (build %d)", e.Tag, e.BuildNumber)
	case KindDeployment:
		return fmt.Sprintf("deployment to %s (build %d, parent %d)", e.Environment, e.BuildNumber, e.ParentBuildNumber)
	default:
		return fmt.Sprintf("%s on %s (build %d)", e.Kind, e.Branch, e.BuildNumber)
	}
}
