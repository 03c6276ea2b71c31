package pipeline

import "github.com/GoCodeAlone/conveyor/trigger"

// Predicate is a conjunction of membership constraints over trigger event
// fields. An empty predicate matches every event; within one field the listed
// values are alternatives.
type Predicate struct {
	Events       []trigger.Kind `json:"events,omitempty" yaml:"events,omitempty"`
	Branches     []string       `json:"branches,omitempty" yaml:"branches,omitempty"`
	Environments []string       `json:"environments,omitempty" yaml:"environments,omitempty"`
}

// IsEmpty reports whether the predicate has no constraints.
func (p Predicate) IsEmpty() bool {
	return len(p.Events) == 0 && len(p.Branches) == 0 && len(p.Environments) == 0
}

// Matches evaluates the predicate against an event. Every present constraint
// must hold; a constraint holds when the event field is a member of the
// listed set.
func (p Predicate) Matches(ev trigger.Event) bool {
	if len(p.Events) > 0 && !containsKind(p.Events, ev.Kind) {
		return false
	}
	if len(p.Branches) > 0 && !contains(p.Branches, ev.Branch) {
		return false
	}
	if len(p.Environments) > 0 && !contains(p.Environments, ev.Environment) {
		return false
	}
	return true
}

// Overlaps reports whether some well-formed event could satisfy both
// predicates. Used to reject ambiguous group configurations at load time.
func (p Predicate) Overlaps(q Predicate) bool {
	if !kindsIntersect(p.effectiveEvents(), q.effectiveEvents()) {
		return false
	}
	if len(p.Branches) > 0 && len(q.Branches) > 0 && !intersect(p.Branches, q.Branches) {
		return false
	}
	if len(p.Environments) > 0 && len(q.Environments) > 0 && !intersect(p.Environments, q.Environments) {
		return false
	}
	return true
}

// effectiveEvents narrows the event constraint using cross-field knowledge:
// an environment constraint can only be satisfied by deployment events.
func (p Predicate) effectiveEvents() []trigger.Kind {
	if len(p.Environments) > 0 {
		if len(p.Events) == 0 || containsKind(p.Events, trigger.KindDeployment) {
			return []trigger.Kind{trigger.KindDeployment}
		}
		// Environments constrained but deployment excluded: unsatisfiable,
		// so it overlaps with nothing.
		return []trigger.Kind{}
	}
	return p.Events
}

func kindsIntersect(a, b []trigger.Kind) bool {
	// nil means unconstrained, but an explicitly empty effective set means
	// unsatisfiable.
	if a != nil && len(a) == 0 {
		return false
	}
	if b != nil && len(b) == 0 {
		return false
	}
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, k := range a {
		if containsKind(b, k) {
			return true
		}
	}
	return false
}

func containsKind(kinds []trigger.Kind, k trigger.Kind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, c := range values {
		if c == v {
			return true
		}
	}
	return false
}

func intersect(a, b []string) bool {
	for _, v := range a {
		if contains(b, v) {
			return true
		}
	}
	return false
}
