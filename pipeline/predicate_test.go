package pipeline

import (
	"testing"

	"github.com/GoCodeAlone/conveyor/trigger"
)

func TestPredicate_EmptyMatchesEverything(t *testing.T) {
	var p Predicate
	events := []trigger.Event{
		{Kind: trigger.KindPullRequest, Branch: "feature/x"},
		{Kind: trigger.KindPush, Branch: "master"},
		{Kind: trigger.KindTag, Tag: "v1.0.0"},
		{Kind: trigger.KindDeployment, Environment: "stable"},
	}
	for _, ev := range events {
		if !p.Matches(ev) {
			t.Errorf("empty predicate should match %s", ev.Kind)
		}
	}
}

func TestPredicate_AllConstraintsMustHold(t *testing.T) {
	p := Predicate{
		Events:   []trigger.Kind{trigger.KindPush},
		Branches: []string{"master"},
	}

	if !p.Matches(trigger.Event{Kind: trigger.KindPush, Branch: "master"}) {
		t.Error("expected push to master to match")
	}
	if p.Matches(trigger.Event{Kind: trigger.KindPush, Branch: "feature/x"}) {
		t.Error("expected push to feature branch not to match")
	}
	if p.Matches(trigger.Event{Kind: trigger.KindTag, Tag: "v1.0.0"}) {
		t.Error("expected tag event not to match")
	}
}

func TestPredicate_MembershipIsOrWithinField(t *testing.T) {
	p := Predicate{Events: []trigger.Kind{trigger.KindPullRequest, trigger.KindPush, trigger.KindTag}}

	for _, ev := range []trigger.Event{
		{Kind: trigger.KindPullRequest},
		{Kind: trigger.KindPush},
		{Kind: trigger.KindTag},
	} {
		if !p.Matches(ev) {
			t.Errorf("expected %s to match", ev.Kind)
		}
	}
	if p.Matches(trigger.Event{Kind: trigger.KindDeployment, Environment: "stable"}) {
		t.Error("expected deployment not to match")
	}
}

func TestPredicate_EnvironmentConstraint(t *testing.T) {
	p := Predicate{Environments: []string{"stable"}}

	if !p.Matches(trigger.Event{Kind: trigger.KindDeployment, Environment: "stable"}) {
		t.Error("expected stable deployment to match")
	}
	if p.Matches(trigger.Event{Kind: trigger.KindDeployment, Environment: "production"}) {
		t.Error("expected production deployment not to match")
	}
}

func TestPredicate_Overlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b Predicate
		want bool
	}{
		{
			name: "disjoint events",
			a:    Predicate{Events: []trigger.Kind{trigger.KindPush}},
			b:    Predicate{Events: []trigger.Kind{trigger.KindTag}},
			want: false,
		},
		{
			name: "same event different branches",
			a:    Predicate{Events: []trigger.Kind{trigger.KindPush}, Branches: []string{"master"}},
			b:    Predicate{Events: []trigger.Kind{trigger.KindPush}, Branches: []string{"release"}},
			want: false,
		},
		{
			name: "same event overlapping branches",
			a:    Predicate{Events: []trigger.Kind{trigger.KindPush}, Branches: []string{"master", "release"}},
			b:    Predicate{Events: []trigger.Kind{trigger.KindPush}, Branches: []string{"release"}},
			want: true,
		},
		{
			name: "disjoint environments",
			a:    Predicate{Environments: []string{"stable"}},
			b:    Predicate{Environments: []string{"production"}},
			want: false,
		},
		{
			name: "environment vs non-deployment event",
			a:    Predicate{Environments: []string{"stable"}},
			b:    Predicate{Events: []trigger.Kind{trigger.KindPush, trigger.KindTag}},
			want: false,
		},
		{
			name: "empty overlaps anything",
			a:    Predicate{},
			b:    Predicate{Events: []trigger.Kind{trigger.KindPush}},
			want: true,
		},
		{
			name: "unsatisfiable predicate overlaps nothing",
			a:    Predicate{Environments: []string{"stable"}, Events: []trigger.Kind{trigger.KindPush}},
			b:    Predicate{},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Overlaps(tc.b); got != tc.want {
				t.Errorf("Overlaps = %v, want %v", got, tc.want)
			}
			if got := tc.b.Overlaps(tc.a); got != tc.want {
				t.Errorf("Overlaps (reversed) = %v, want %v", got, tc.want)
			}
		})
	}
}
