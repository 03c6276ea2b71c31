package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load parses a pipeline definition from YAML and validates it.
func Load(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFromFile reads and validates a pipeline definition file.
func LoadFromFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	return Load(data)
}

// Validate checks the structural invariants of the definition:
//   - every stage has a name and a known action kind;
//   - action-specific fields are present (commands+image for run, mount for
//     cache actions, repo for image actions);
//   - a stage name is reused only between members of the same group;
//   - predicates of stages sharing a group are pairwise disjoint, so at most
//     one member can match any single event.
func (d *Definition) Validate() error {
	if len(d.Stages) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidDefinition)
	}

	nameGroup := make(map[string]string)
	groups := make(map[string][]int)

	for i := range d.Stages {
		s := &d.Stages[i]
		if s.Name == "" {
			return fmt.Errorf("%w: stage %d has no name", ErrInvalidDefinition, i)
		}
		if !knownActions[s.Action] {
			return fmt.Errorf("%w: stage %q has unknown action %q", ErrInvalidDefinition, s.Name, s.Action)
		}

		switch s.Action {
		case ActionRun:
			if s.Image == "" {
				return fmt.Errorf("%w: run stage %q requires an image", ErrInvalidDefinition, s.Name)
			}
			if len(s.Command) == 0 {
				return fmt.Errorf("%w: run stage %q requires commands", ErrInvalidDefinition, s.Name)
			}
		case ActionRestoreCache, ActionRebuildCache:
			if s.Mount == nil {
				return fmt.Errorf("%w: cache stage %q requires a mount", ErrInvalidDefinition, s.Name)
			}
		case ActionBuildImage, ActionDeployImage:
			if s.Repo == "" {
				return fmt.Errorf("%w: %s stage %q requires a repo", ErrInvalidDefinition, s.Action, s.Name)
			}
		}

		if s.Mount != nil && (s.Mount.Path == "" || s.Mount.Key == "") {
			return fmt.Errorf("%w: stage %q mount requires path and key", ErrInvalidDefinition, s.Name)
		}
		for _, ref := range s.Secrets {
			if ref.Source == "" || ref.Target == "" {
				return fmt.Errorf("%w: stage %q has a secret ref without source or target", ErrInvalidDefinition, s.Name)
			}
		}

		if prev, ok := nameGroup[s.Name]; ok {
			if s.Group == "" || prev != s.Group {
				return fmt.Errorf("%w: stage name %q reused outside a shared group", ErrInvalidDefinition, s.Name)
			}
		} else {
			nameGroup[s.Name] = s.Group
		}

		if s.Group != "" {
			groups[s.Group] = append(groups[s.Group], i)
		}
	}

	// Group mates are alternative definitions of one logical stage: their
	// predicates must be statically disjoint.
	for group, members := range groups {
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				a := &d.Stages[members[i]]
				b := &d.Stages[members[j]]
				if a.When.Overlaps(b.When) {
					return fmt.Errorf("%w %q: stages %q and %q can match the same event",
						ErrGroupOverlap, group, a.Name, b.Name)
				}
			}
		}
	}

	return nil
}
