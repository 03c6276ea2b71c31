package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/GoCodeAlone/conveyor/trigger"
)

const validDefinition = `
name: statics
stages:
  - name: restore-cache
    action: restore_cache
    mount: {path: deps, key: statics-deps}
  - name: test
    action: run
    image: rust:1.31
    commands: ["cargo test"]
    environment:
      RUN_MODE: test
    when:
      events: [pull_request, push, tag]
  - name: build
    group: build
    action: run
    image: rust:1.31
    commands: ["cargo build --release"]
    when:
      events: [push]
      branches: [master]
  - name: build
    group: build
    action: run
    image: rust:1.31
    commands: ["cargo build --release --locked"]
    when:
      events: [tag]
  - name: rebuild-cache
    action: rebuild_cache
    always_run: true
    mount: {path: deps, key: statics-deps}
`

func TestLoad_ValidDefinition(t *testing.T) {
	def, err := Load([]byte(validDefinition))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if def.Name != "statics" {
		t.Errorf("expected name statics, got %q", def.Name)
	}
	if len(def.Stages) != 5 {
		t.Fatalf("expected 5 stages, got %d", len(def.Stages))
	}
	if def.Stages[0].Action != ActionRestoreCache {
		t.Errorf("expected restore_cache, got %s", def.Stages[0].Action)
	}
	if !def.Stages[4].AlwaysRun {
		t.Error("expected rebuild-cache to be always_run")
	}
}

func TestLoad_RepeatedNameBecomesGroupMembers(t *testing.T) {
	def, err := Load([]byte(validDefinition))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Two distinct stage records, never a single overwritten one.
	var builds []Stage
	for _, s := range def.Stages {
		if s.Name == "build" {
			builds = append(builds, s)
		}
	}
	if len(builds) != 2 {
		t.Fatalf("expected 2 build stages, got %d", len(builds))
	}
	if builds[0].Group != "build" || builds[1].Group != "build" {
		t.Error("expected both build stages in the build group")
	}

	// Exactly one matches a master push.
	ev := trigger.Event{Kind: trigger.KindPush, Branch: "master", BuildNumber: 1}
	matched := 0
	for _, s := range builds {
		if s.Matches(ev) {
			matched++
		}
	}
	if matched != 1 {
		t.Errorf("expected exactly one build stage to match, got %d", matched)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(validDefinition), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err != nil {
		t.Fatalf("load from file: %v", err)
	}
	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate_RejectsOverlappingGroup(t *testing.T) {
	def := &Definition{
		Name: "bad",
		Stages: []Stage{
			{
				Name: "deploy", Group: "deploy", Action: ActionDeployImage, Repo: "example/statics",
				When: Predicate{Events: []trigger.Kind{trigger.KindPush}, Branches: []string{"master", "release"}},
			},
			{
				Name: "deploy", Group: "deploy", Action: ActionDeployImage, Repo: "example/statics",
				When: Predicate{Events: []trigger.Kind{trigger.KindPush}, Branches: []string{"release"}},
			},
		},
	}
	err := def.Validate()
	if !errors.Is(err, ErrGroupOverlap) {
		t.Fatalf("expected ErrGroupOverlap, got %v", err)
	}
}

func TestValidate_RejectsNameReuseOutsideGroup(t *testing.T) {
	def := &Definition{
		Name: "bad",
		Stages: []Stage{
			{Name: "test", Action: ActionRun, Image: "rust:1.31", Command: []string{"cargo test"}},
			{Name: "test", Action: ActionRun, Image: "rust:1.31", Command: []string{"cargo check"}},
		},
	}
	if err := def.Validate(); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got %v", err)
	}
}

func TestValidate_ActionRequirements(t *testing.T) {
	cases := []struct {
		name  string
		stage Stage
	}{
		{"unknown action", Stage{Name: "x", Action: "sleep"}},
		{"run without image", Stage{Name: "x", Action: ActionRun, Command: []string{"true"}}},
		{"run without commands", Stage{Name: "x", Action: ActionRun, Image: "alpine"}},
		{"restore without mount", Stage{Name: "x", Action: ActionRestoreCache}},
		{"rebuild without mount", Stage{Name: "x", Action: ActionRebuildCache}},
		{"build without repo", Stage{Name: "x", Action: ActionBuildImage}},
		{"deploy without repo", Stage{Name: "x", Action: ActionDeployImage}},
		{"mount without key", Stage{Name: "x", Action: ActionRestoreCache, Mount: &CacheMountRef{Path: "deps"}}},
		{"secret without target", Stage{Name: "x", Action: ActionDeployImage, Repo: "example/statics", Secrets: []SecretRef{{Source: "token"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := &Definition{Name: "p", Stages: []Stage{tc.stage}}
			if err := def.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
