package secrets

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/conveyor/pipeline"
)

// Resolver resolves a stage's declared secret refs into concrete material
// from a single group scope. The group is chosen by the caller (the
// promotion environment of the run); the resolver never reads outside it.
type Resolver struct {
	store Store
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve maps each ref's source secret to its target name. Any missing
// secret fails the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, group string, refs []pipeline.SecretRef) (map[string]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if group == "" {
		return nil, fmt.Errorf("%w: stage declares secrets but has no group scope", ErrInvalidKey)
	}

	resolved := make(map[string]string, len(refs))
	for _, ref := range refs {
		val, err := r.store.Get(ctx, group, ref.Source)
		if err != nil {
			return nil, fmt.Errorf("secrets: failed to resolve %q in group %q: %w", ref.Source, group, err)
		}
		resolved[ref.Target] = val
	}
	return resolved, nil
}

// Store returns the underlying store.
func (r *Resolver) Store() Store {
	return r.store
}
