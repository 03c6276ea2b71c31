package scheduler

import (
	"errors"
	"fmt"

	"github.com/GoCodeAlone/conveyor/pipeline"
	"github.com/GoCodeAlone/conveyor/trigger"
)

// ErrAmbiguousGroup means more than one member of a stage group matched the
// same event. Definitions are checked for static disjointness at load time,
// so this guards against predicates drifting after load.
var ErrAmbiguousGroup = errors.New("scheduler: multiple group members match event")

// Select returns the stages that run for an event, in declaration order. A
// stage is included when its predicate accepts the event. Within each group
// at most one member may be selected; a second match is an error, never a
// silent pick. An empty selection is a valid (trivially successful) run.
func Select(def *pipeline.Definition, ev trigger.Event) ([]pipeline.Stage, error) {
	matched := make(map[string]string)
	var selected []pipeline.Stage

	for _, st := range def.Stages {
		if !st.Matches(ev) {
			continue
		}
		if st.Group != "" {
			if prev, ok := matched[st.Group]; ok {
				return nil, fmt.Errorf("%w: group %q members %q and %q for %s",
					ErrAmbiguousGroup, st.Group, prev, st.Name, ev)
			}
			matched[st.Group] = st.Name
		}
		selected = append(selected, st)
	}
	return selected, nil
}
