// Package stage defines the ordered installation stages and the executor
// driving them with checkpoint/resume semantics.
package stage

import (
	"context"
	"fmt"

	"github.com/strom-lab/stromup/pkg/sysinfo"
)

// Action is the unit of work bound to a stage. It receives the environment
// context produced by earlier stages and returns a (possibly augmented) copy.
// An action performs its own internal retries for transient failures; the
// executor treats its return as final.
type Action func(ctx context.Context, env sysinfo.Env) (sysinfo.Env, error)

// Stage is one named, ordered unit of installation work.
type Stage struct {
	Ordinal int    // position in the sequence, contiguous from 1
	Name    string // human-readable label
	Action  Action
}

// Registry is the fixed, totally ordered stage sequence known at start-up.
// No branching, no conditional insertion; environment-conditional behavior
// lives inside an individual stage's action.
type Registry []Stage

// Validate checks the registry invariants: non-empty, ordinals contiguous
// from 1, every stage named and bound to an action.
func (r Registry) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("empty stage registry")
	}
	for i, st := range r {
		if st.Ordinal != i+1 {
			return fmt.Errorf("stage %d has ordinal %d, want %d", i, st.Ordinal, i+1)
		}
		if st.Name == "" {
			return fmt.Errorf("stage %d has no name", st.Ordinal)
		}
		if st.Action == nil {
			return fmt.Errorf("stage %d (%s) has no action", st.Ordinal, st.Name)
		}
	}
	return nil
}
