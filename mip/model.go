// Package mip is the solver boundary consumed by bound tightening: build a
// model, add variables and named constraints, set an objective, optimize,
// read status and values. The backend is a pure-Go branch-and-bound over
// gonum's simplex; nothing outside this package depends on how a model is
// solved.
package mip

import (
	"fmt"
	"math"
	"time"
)

// Options mirror the knobs the external engine exposes.
type Options struct {
	Verbose   bool
	Threads   int           // accepted for contract compatibility; the backend solves nodes serially
	TimeLimit time.Duration // zero means no limit
}

// VarID identifies a variable within its model.
type VarID int

// Direction of the objective.
type Direction int

const (
	Minimize Direction = iota
	Maximize
)

// Sense of a linear constraint row.
type Sense int

const (
	LessEq Sense = iota
	GreaterEq
	Equal
)

type variable struct {
	name    string
	lo, hi  float64
	integer bool
}

type constraint struct {
	name  string
	coefs map[VarID]float64
	sense Sense
	rhs   float64
}

// Model accumulates variables, named constraints and an objective. Constraint
// names are unique and removable, which is what lets a tightening strategy
// reuse one model across all nodes of a layer.
type Model struct {
	opts   Options
	vars   []variable
	cons   []constraint
	byName map[string]int

	objDir   Direction
	objCoefs map[VarID]float64
}

// NewModel returns an empty model with the given solve options.
func NewModel(opts Options) *Model {
	return &Model{
		opts:     opts,
		byName:   make(map[string]int),
		objCoefs: make(map[VarID]float64),
	}
}

// AddVariable adds a continuous variable with bounds [lo, hi]. lo must be
// finite; hi may be +Inf.
func (m *Model) AddVariable(name string, lo, hi float64) (VarID, error) {
	return m.addVar(name, lo, hi, false)
}

// AddBinary adds an integer variable bounded to [0, 1].
func (m *Model) AddBinary(name string) (VarID, error) {
	return m.addVar(name, 0, 1, true)
}

func (m *Model) addVar(name string, lo, hi float64, integer bool) (VarID, error) {
	if math.IsInf(lo, -1) || math.IsNaN(lo) {
		return 0, fmt.Errorf("mip: variable %q needs a finite lower bound, got %g", name, lo)
	}
	if hi < lo {
		// Allowed: such a model is well-formed but infeasible, and the
		// backend must report that through the status, not here.
		// (Bound tightening relies on this for bad input domains.)
	}
	m.vars = append(m.vars, variable{name: name, lo: lo, hi: hi, integer: integer})
	return VarID(len(m.vars) - 1), nil
}

// NumVariables returns the number of variables added so far.
func (m *Model) NumVariables() int { return len(m.vars) }

// NumConstraints returns the number of constraints currently registered.
func (m *Model) NumConstraints() int { return len(m.cons) }

// AddConstraint registers a named linear row sum(coefs)*x <sense> rhs.
// Names must be unique while registered; a removed name may be reused.
func (m *Model) AddConstraint(name string, coefs map[VarID]float64, sense Sense, rhs float64) error {
	if _, dup := m.byName[name]; dup {
		return fmt.Errorf("mip: constraint %q already registered", name)
	}
	if len(coefs) == 0 {
		return fmt.Errorf("mip: constraint %q has no terms", name)
	}
	for id := range coefs {
		if int(id) < 0 || int(id) >= len(m.vars) {
			return fmt.Errorf("mip: constraint %q references unknown variable %d", name, id)
		}
	}
	cp := make(map[VarID]float64, len(coefs))
	for id, c := range coefs {
		cp[id] = c
	}
	m.byName[name] = len(m.cons)
	m.cons = append(m.cons, constraint{name: name, coefs: cp, sense: sense, rhs: rhs})
	return nil
}

// RemoveConstraint unregisters a named row.
func (m *Model) RemoveConstraint(name string) error {
	idx, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("mip: constraint %q not registered", name)
	}
	m.cons = append(m.cons[:idx], m.cons[idx+1:]...)
	delete(m.byName, name)
	for i := idx; i < len(m.cons); i++ {
		m.byName[m.cons[i].name] = i
	}
	return nil
}

// SetObjective replaces the objective with direction dir over the given
// linear expression.
func (m *Model) SetObjective(dir Direction, coefs map[VarID]float64) {
	m.objDir = dir
	m.objCoefs = make(map[VarID]float64, len(coefs))
	for id, c := range coefs {
		m.objCoefs[id] = c
	}
}

// Scope groups constraints so a transient portion of the model can be torn
// down as a unit. Release removes every row added through the scope; rows the
// caller already removed individually are skipped. A released scope refuses
// further adds, so node state cannot leak across iterations.
type Scope struct {
	m        *Model
	names    []string
	released bool
}

// Scope opens a new constraint scope on the model.
func (m *Model) Scope() *Scope {
	return &Scope{m: m}
}

// AddConstraint registers a row through the scope.
func (s *Scope) AddConstraint(name string, coefs map[VarID]float64, sense Sense, rhs float64) error {
	if s.released {
		return fmt.Errorf("mip: add on released scope (constraint %q)", name)
	}
	if err := s.m.AddConstraint(name, coefs, sense, rhs); err != nil {
		return err
	}
	s.names = append(s.names, name)
	return nil
}

// Release removes every constraint registered through this scope. Safe to
// call more than once.
func (s *Scope) Release() {
	if s.released {
		return
	}
	s.released = true
	for _, name := range s.names {
		if _, ok := s.m.byName[name]; ok {
			// error impossible: the name is registered
			_ = s.m.RemoveConstraint(name)
		}
	}
	s.names = nil
}
