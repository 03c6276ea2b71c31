// Package promotion maps trigger events to the image tag, deploy target, and
// secret scope of the environment they promote to.
package promotion

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/GoCodeAlone/conveyor/trigger"
)

// EnvironmentName identifies a deployment environment.
type EnvironmentName string

const (
	EnvNightly    EnvironmentName = "nightly"
	EnvStage      EnvironmentName = "stage"
	EnvStable     EnvironmentName = "stable"
	EnvProduction EnvironmentName = "production"
)

// Common errors.
var (
	// ErrNoPromotion means the event does not promote anything (e.g. a
	// pull request or a push to a feature branch).
	ErrNoPromotion = errors.New("promotion: event does not promote")
	// ErrUnknownEnvironment means the event names an environment the model
	// does not know.
	ErrUnknownEnvironment = errors.New("promotion: unknown environment")
)

// Target identifies the deployment object a promotion updates.
type Target struct {
	Namespace  string `json:"namespace" yaml:"namespace"`
	ObjectKind string `json:"object_kind" yaml:"object_kind"`
	ObjectName string `json:"object_name" yaml:"object_name"`
	Container  string `json:"container" yaml:"container"`
}

// Environment binds an environment name to its secret group and deploy
// target. Every environment holds disjoint secret material; a promotion
// never mixes scopes.
type Environment struct {
	Name        EnvironmentName `json:"name" yaml:"name"`
	SecretGroup string          `json:"secret_group" yaml:"secret_group"`
	Target      Target          `json:"target" yaml:"target"`
	Order       int             `json:"order" yaml:"order"` // lower = earlier in the promotion chain
}

// Promotion is the resolved outcome for one event: which image tag goes to
// which target, using which secret scope.
type Promotion struct {
	Environment EnvironmentName `json:"environment"`
	ImageTag    string          `json:"image_tag"`
	Target      Target          `json:"target"`
	SecretGroup string          `json:"secret_group"`
}

// Model holds the environment registry and the promotion rules.
type Model struct {
	mu           sync.RWMutex
	environments map[EnvironmentName]*Environment
}

// NewModel creates a Model with the default environment chain
// nightly → stage → stable → production. Each environment gets its own
// secret group (named after it) and its own namespace holding the service
// deployment object.
func NewModel(service string) *Model {
	m := &Model{environments: make(map[EnvironmentName]*Environment)}
	for i, name := range []EnvironmentName{EnvNightly, EnvStage, EnvStable, EnvProduction} {
		m.environments[name] = &Environment{
			Name:        name,
			SecretGroup: string(name),
			Target: Target{
				Namespace:  string(name),
				ObjectKind: "Deployment",
				ObjectName: service,
				Container:  service,
			},
			Order: i,
		}
	}
	return m
}

// SetEnvironment adds or overrides an environment binding.
func (m *Model) SetEnvironment(env *Environment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.environments[env.Name] = env
}

// GetEnvironment returns an environment by name.
func (m *Model) GetEnvironment(name EnvironmentName) (*Environment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.environments[name]
	return e, ok
}

// ListEnvironments returns all environments ordered along the promotion
// chain.
func (m *Model) ListEnvironments() []*Environment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Environment, 0, len(m.environments))
	for _, e := range m.environments {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Order < result[j].Order
	})
	return result
}

// Resolve computes the promotion for an event:
//   - push to master promotes to nightly, tagged {branch}{build_number}
//     with "/" in the branch replaced by "_";
//   - a tag event promotes the literal tag to stage;
//   - a stable deployment re-deploys the artifact of the parent build,
//     tagged {branch}{parent_build_number};
//   - a production deployment re-deploys the literal release tag.
//
// Events that promote nothing return ErrNoPromotion.
func (m *Model) Resolve(ev trigger.Event) (*Promotion, error) {
	switch ev.Kind {
	case trigger.KindPush:
		if ev.Branch != "master" {
			return nil, fmt.Errorf("%w: push to %q", ErrNoPromotion, ev.Branch)
		}
		return m.promotion(EnvNightly, fmt.Sprintf("%s%d", SanitizeRef(ev.Branch), ev.BuildNumber))

	case trigger.KindTag:
		return m.promotion(EnvStage, ev.Tag)

	case trigger.KindDeployment:
		switch EnvironmentName(ev.Environment) {
		case EnvStable:
			// A stable promotion re-deploys an artifact built by an
			// earlier push run, so it uses the parent build number.
			if ev.Branch == "" {
				return nil, fmt.Errorf("promotion: stable deployment requires a branch")
			}
			return m.promotion(EnvStable, fmt.Sprintf("%s%d", SanitizeRef(ev.Branch), ev.ParentBuildNumber))
		case EnvProduction:
			return m.promotion(EnvProduction, ev.Tag)
		default:
			// Nightly and stage are promoted automatically by push and tag
			// events; a deployment event cannot target them.
			if _, ok := m.GetEnvironment(EnvironmentName(ev.Environment)); ok {
				return nil, fmt.Errorf("%w: %s only receives automatic promotions", ErrNoPromotion, ev.Environment)
			}
			return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, ev.Environment)
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrNoPromotion, ev.Kind)
	}
}

// PackageTags returns the tags a build_image stage pushes for an event:
// the promotion tag for pushes, and the literal tag plus "latest" for tag
// events.
func (m *Model) PackageTags(ev trigger.Event) ([]string, error) {
	switch ev.Kind {
	case trigger.KindPush:
		p, err := m.Resolve(ev)
		if err != nil {
			return nil, err
		}
		return []string{p.ImageTag}, nil
	case trigger.KindTag:
		return []string{ev.Tag, "latest"}, nil
	default:
		return nil, fmt.Errorf("%w: %s does not package an image", ErrNoPromotion, ev.Kind)
	}
}

func (m *Model) promotion(name EnvironmentName, tag string) (*Promotion, error) {
	env, ok := m.GetEnvironment(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, name)
	}
	if tag == "" {
		return nil, fmt.Errorf("promotion: empty image tag for %s", name)
	}
	return &Promotion{
		Environment: env.Name,
		ImageTag:    tag,
		Target:      env.Target,
		SecretGroup: env.SecretGroup,
	}, nil
}

// SanitizeRef makes a git ref usable as an image tag component by replacing
// "/" with "_".
func SanitizeRef(ref string) string {
	return strings.ReplaceAll(ref, "/", "_")
}
