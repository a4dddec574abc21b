package tighten

import (
	"fmt"

	"bigm_lib/bounds"
	"bigm_lib/mip"
)

// InfeasibleBoundProblemError is fatal for a tightening run: a single bound
// problem over a frozen prefix is feasible by construction, so any other
// termination than optimality or a time limit means the inputs are broken
// (for example an empty input domain) and no bound in the run can be trusted.
type InfeasibleBoundProblemError struct {
	Layer  int
	Node   int
	Dir    bounds.Direction
	Status mip.Status
	Err    error
}

func (e *InfeasibleBoundProblemError) Error() string {
	return fmt.Sprintf("tighten: %s bound problem for node (%d,%d) finished %s",
		e.Dir, e.Layer, e.Node, e.Status)
}

func (e *InfeasibleBoundProblemError) Unwrap() error { return e.Err }
