package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/GoCodeAlone/conveyor/pipeline"
)

func TestResolver_RenamesSourceToTarget(t *testing.T) {
	store := NewStaticStore()
	store.Set("nightly", "k8s_nightly_token", "tok")
	store.Set("nightly", "k8s_nightly_ca", "ca")

	r := NewResolver(store)
	env, err := r.Resolve(context.Background(), "nightly", []pipeline.SecretRef{
		{Source: "k8s_nightly_token", Target: "K8S_TOKEN"},
		{Source: "k8s_nightly_ca", Target: "K8S_CA"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if env["K8S_TOKEN"] != "tok" || env["K8S_CA"] != "ca" {
		t.Errorf("unexpected resolution: %v", env)
	}
}

func TestResolver_MissingSecretIsFatal(t *testing.T) {
	r := NewResolver(NewStaticStore())
	_, err := r.Resolve(context.Background(), "nightly", []pipeline.SecretRef{
		{Source: "k8s_nightly_token", Target: "K8S_TOKEN"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolver_NoRefsNoLookup(t *testing.T) {
	r := NewResolver(NewStaticStore())
	env, err := r.Resolve(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if env != nil {
		t.Errorf("expected nil env, got %v", env)
	}
}

func TestResolver_RefsWithoutScopeRejected(t *testing.T) {
	r := NewResolver(NewStaticStore())
	_, err := r.Resolve(context.Background(), "", []pipeline.SecretRef{{Source: "a", Target: "A"}})
	if err == nil {
		t.Fatal("expected error for refs without group scope")
	}
}
