package mip

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/glog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Result of one Optimize call.
type Result struct {
	Status       Status
	Objective    float64
	X            []float64 // values of the model's variables; nil without an incumbent
	HasIncumbent bool
	Nodes        int   // branch-and-bound nodes explored
	Err          error // backend failure detail for StatusError
}

// Value returns the solution value of one variable.
func (r Result) Value(id VarID) float64 { return r.X[id] }

const (
	intTol   = 1e-6
	boundTol = 1e-9
)

var errEmptyUnbounded = errors.New("mip: empty-column variable is unbounded in the objective direction")

// standardForm holds the model translated to "minimize c'y s.t. Aeq y = beq,
// G y <= h, y >= 0" with y = x - lo shifted to nonnegative variables.
// Variables that appear in no row and have no finite upper bound (empty
// columns, typically stale reusable-model variables) are presolved out and
// fixed at their lower bound; the simplex rejects zero columns.
type standardForm struct {
	fullN  int   // model variable count
	keep   []int // model index of each compacted column
	n      int   // compacted variable count, len(keep)
	sign   float64
	offset float64 // objective contribution of the lower-bound shift
	c      []float64
	lo     []float64 // full length, indexed by model variable
	intIdx []int     // compacted indices of integer variables
	aeq    []float64 // meq x n, row-major
	beq    []float64
	g      []float64 // mi x n, row-major
	h      []float64
	meq    int
	mi     int
}

// branchRow is one floor/ceil cut added during branch and bound.
type branchRow struct {
	variable int // compacted index
	coef     float64
	rhs      float64
}

type bnbNode struct {
	cuts []branchRow
}

func (m *Model) toStandardForm() (*standardForm, error) {
	fullN := len(m.vars)
	sf := &standardForm{fullN: fullN, sign: 1, lo: make([]float64, fullN)}
	if m.objDir == Maximize {
		sf.sign = -1
	}
	for i, v := range m.vars {
		sf.lo[i] = v.lo
		if v.integer && v.lo != math.Trunc(v.lo) {
			return nil, fmt.Errorf("mip: integer variable %q has non-integral lower bound %g", v.name, v.lo)
		}
	}

	cFull := make([]float64, fullN)
	for id, coef := range m.objCoefs {
		cFull[id] = sf.sign * coef
		sf.offset += coef * sf.lo[id]
	}

	// Column usage: any constraint row, or a finite upper bound (which will
	// become a row below).
	active := make([]bool, fullN)
	for _, con := range m.cons {
		for id := range con.coefs {
			active[id] = true
		}
	}
	for i, v := range m.vars {
		if !math.IsInf(v.hi, 1) {
			active[i] = true
		}
	}

	oldToNew := make([]int, fullN)
	for i := range oldToNew {
		oldToNew[i] = -1
	}
	for i := 0; i < fullN; i++ {
		if !active[i] {
			// Empty column: fixed at its lower bound, provided the objective
			// does not improve along it.
			if cFull[i] < 0 {
				return nil, errEmptyUnbounded
			}
			continue
		}
		oldToNew[i] = len(sf.keep)
		sf.keep = append(sf.keep, i)
	}
	sf.n = len(sf.keep)

	sf.c = make([]float64, sf.n)
	for newI, oldI := range sf.keep {
		sf.c[newI] = cFull[oldI]
	}
	for newI, oldI := range sf.keep {
		if m.vars[oldI].integer {
			sf.intIdx = append(sf.intIdx, newI)
		}
	}

	appendIneq := func(coefs map[VarID]float64, flip float64, rhs float64) {
		row := make([]float64, sf.n)
		shift := 0.0
		for id, c := range coefs {
			row[oldToNew[id]] = flip * c
			shift += flip * c * sf.lo[id]
		}
		sf.g = append(sf.g, row...)
		sf.h = append(sf.h, rhs-shift)
		sf.mi++
	}

	for _, con := range m.cons {
		switch con.sense {
		case Equal:
			row := make([]float64, sf.n)
			shift := 0.0
			for id, c := range con.coefs {
				row[oldToNew[id]] = c
				shift += c * sf.lo[id]
			}
			sf.aeq = append(sf.aeq, row...)
			sf.beq = append(sf.beq, con.rhs-shift)
			sf.meq++
		case LessEq:
			appendIneq(con.coefs, 1, con.rhs)
		case GreaterEq:
			appendIneq(con.coefs, -1, -con.rhs)
		}
	}

	// Finite upper bounds become inequality rows on the shifted variable.
	for i, v := range m.vars {
		if !math.IsInf(v.hi, 1) {
			row := make([]float64, sf.n)
			row[oldToNew[i]] = 1
			sf.g = append(sf.g, row...)
			sf.h = append(sf.h, v.hi-v.lo)
			sf.mi++
		}
	}
	return sf, nil
}

// solveRelaxation solves the LP relaxation of the standard form plus the
// node's branching cuts. Inequalities are folded into equalities with slack
// columns before handing the tableau to the simplex.
func (sf *standardForm) solveRelaxation(cuts []branchRow) (z float64, y []float64, err error) {
	mi := sf.mi + len(cuts)
	g := make([]float64, 0, mi*sf.n)
	h := make([]float64, 0, mi)
	g = append(g, sf.g...)
	h = append(h, sf.h...)
	for _, cut := range cuts {
		row := make([]float64, sf.n)
		row[cut.variable] = cut.coef
		g = append(g, row...)
		h = append(h, cut.rhs)
	}

	nTotal := sf.n + mi
	mTotal := sf.meq + mi
	if nTotal == 0 || mTotal == 0 {
		return 0, nil, fmt.Errorf("mip: model has no variables or no constraints")
	}

	c := make([]float64, nTotal)
	copy(c, sf.c)

	b := make([]float64, mTotal)
	copy(b, sf.beq)
	copy(b[sf.meq:], h)

	a := mat.NewDense(mTotal, nTotal, nil)
	if sf.meq > 0 {
		a.Slice(0, sf.meq, 0, sf.n).(*mat.Dense).Copy(mat.NewDense(sf.meq, sf.n, sf.aeq))
	}
	if mi > 0 {
		a.Slice(sf.meq, mTotal, 0, sf.n).(*mat.Dense).Copy(mat.NewDense(mi, sf.n, g))
		slack := a.Slice(sf.meq, mTotal, sf.n, nTotal).(*mat.Dense)
		for i := 0; i < mi; i++ {
			slack.Set(i, i, 1)
		}
	}

	z, x, err := lp.Simplex(c, a, b, 0, nil)
	if err != nil {
		return 0, nil, err
	}
	return z, x[:sf.n], nil
}

// expand maps a compacted solution vector back to model variables, filling
// presolved-out columns with their lower bounds.
func (sf *standardForm) expand(y []float64) []float64 {
	x := make([]float64, sf.fullN)
	copy(x, sf.lo)
	for newI, oldI := range sf.keep {
		x[oldI] = y[newI] + sf.lo[oldI]
	}
	return x
}

// Optimize runs branch and bound over the simplex relaxations and reports
// the termination status together with the best solution found.
func (m *Model) Optimize() Result {
	start := time.Now()

	sf, err := m.toStandardForm()
	if err != nil {
		if errors.Is(err, errEmptyUnbounded) {
			return Result{Status: StatusUnbounded, Err: err}
		}
		return Result{Status: StatusError, Err: err}
	}

	var (
		queue      = []bnbNode{{}}
		incumbentY []float64
		incumbentZ = math.Inf(1)
		haveIncum  bool
		nodes      int
		timedOut   bool
		firstNode  = true
	)

	for len(queue) > 0 {
		if m.opts.TimeLimit > 0 && time.Since(start) > m.opts.TimeLimit {
			timedOut = true
			break
		}

		node := queue[0]
		queue = queue[1:]
		nodes++

		z, y, err := sf.solveRelaxation(node.cuts)
		if err != nil {
			switch {
			case errors.Is(err, lp.ErrInfeasible):
				if firstNode {
					return Result{Status: StatusInfeasible, Nodes: nodes}
				}
				firstNode = false
				continue // pruned branch
			case errors.Is(err, lp.ErrUnbounded):
				return Result{Status: StatusUnbounded, Nodes: nodes}
			default:
				return Result{Status: StatusError, Err: err, Nodes: nodes}
			}
		}
		firstNode = false

		// Bound: a relaxation no better than the incumbent cannot improve.
		if haveIncum && z >= incumbentZ-boundTol {
			continue
		}

		if frac := firstFractional(y, sf.intIdx); frac >= 0 {
			f := y[frac]
			floorv := math.Floor(f + intTol)
			queue = append(queue,
				bnbNode{cuts: append(copyCuts(node.cuts), branchRow{variable: frac, coef: 1, rhs: floorv})},
				bnbNode{cuts: append(copyCuts(node.cuts), branchRow{variable: frac, coef: -1, rhs: -(floorv + 1)})},
			)
			continue
		}

		incumbentY = append([]float64(nil), y...)
		incumbentZ = z
		haveIncum = true
	}

	if m.opts.Verbose {
		glog.V(2).Infof("mip: explored %d nodes in %v (incumbent=%t)", nodes, time.Since(start), haveIncum)
	}

	res := Result{Nodes: nodes, HasIncumbent: haveIncum}
	switch {
	case timedOut:
		res.Status = StatusTimeLimitReached
	case haveIncum:
		res.Status = StatusOptimal
	default:
		res.Status = StatusInfeasible
	}
	if haveIncum {
		res.Objective = sf.sign*incumbentZ + sf.offset
		res.X = sf.expand(incumbentY)
		for i, v := range m.vars {
			if v.integer {
				res.X[i] = math.Round(res.X[i])
			}
		}
	}
	return res
}

func firstFractional(y []float64, intVars []int) int {
	for _, i := range intVars {
		if math.Abs(y[i]-math.Round(y[i])) > intTol {
			return i
		}
	}
	return -1
}

func copyCuts(cuts []branchRow) []branchRow {
	return append([]branchRow(nil), cuts...)
}
