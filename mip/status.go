package mip

// Status is the termination status reported after Optimize.
type Status int

const (
	// StatusOptimal: a provably optimal (integer-feasible) solution was found.
	StatusOptimal Status = iota
	// StatusTimeLimitReached: the wall-clock limit expired. An incumbent may
	// or may not be available; check Result.HasIncumbent.
	StatusTimeLimitReached
	// StatusInfeasible: the problem has no feasible solution.
	StatusInfeasible
	// StatusUnbounded: the objective is unbounded in the optimization direction.
	StatusUnbounded
	// StatusError: the backend failed for a reason other than the above.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusTimeLimitReached:
		return "time limit reached"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	default:
		return "error"
	}
}
