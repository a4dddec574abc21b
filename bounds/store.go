// Package bounds holds the per-node activation bounds that bound tightening
// reads and writes. The store is organized as one arena per activation layer:
// a layer's entries are written exactly once, then the layer is frozen and
// becomes read-only for every later layer's subproblem.
package bounds

import (
	"errors"
	"fmt"
	"sync"

	"bigm_lib/net"
)

// Direction selects which side of a node's interval an operation targets.
type Direction int

const (
	Lower Direction = iota
	Upper
)

func (d Direction) String() string {
	if d == Lower {
		return "lower"
	}
	return "upper"
}

// State of one (node, direction) bound within a tightening run.
type State uint8

const (
	Pending State = iota
	Finalized
	Skipped // time limit with no incumbent; prior value kept
)

// ErrLayerNotFinal is returned when a subproblem builder reads a layer whose
// bounds have not been frozen yet. Hitting it indicates a scheduling bug, not
// a data problem.
var ErrLayerNotFinal = errors.New("bounds: layer is not finalized")

// Interval is one node's current [Lo, Hi] activation bounds.
type Interval struct {
	Lo, Hi float64
}

type entry struct {
	iv    Interval
	state [2]State // indexed by Direction
}

// Store is the mutable bound array shared by all scheduling strategies. The
// mutex guards only the read-then-write of entries; it is never held across a
// solver call.
type Store struct {
	mu     sync.Mutex
	layers [][]entry
	frozen []bool
}

// New builds a store for the given network: layer 0 carries the supplied
// input domain and starts frozen, every other node starts at [-coarse, coarse]
// in state Pending.
func New(desc *net.Descriptor, inputLo, inputHi []float64, coarse float64) (*Store, error) {
	n0 := desc.NodeCount(0)
	if len(inputLo) != n0 || len(inputHi) != n0 {
		return nil, fmt.Errorf("bounds: input bound length %d/%d, want %d", len(inputLo), len(inputHi), n0)
	}
	if coarse <= 0 {
		return nil, fmt.Errorf("bounds: coarse bound must be positive, got %g", coarse)
	}

	s := &Store{
		layers: make([][]entry, desc.LayerCount()+1),
		frozen: make([]bool, desc.LayerCount()+1),
	}
	s.layers[0] = make([]entry, n0)
	for i := 0; i < n0; i++ {
		s.layers[0][i] = entry{
			iv:    Interval{Lo: inputLo[i], Hi: inputHi[i]},
			state: [2]State{Finalized, Finalized},
		}
	}
	s.frozen[0] = true

	for k := 1; k <= desc.LayerCount(); k++ {
		s.layers[k] = make([]entry, desc.NodeCount(k))
		for j := range s.layers[k] {
			s.layers[k][j].iv = Interval{Lo: -coarse, Hi: coarse}
		}
	}
	return s, nil
}

// NewWithInitial builds a store whose every node starts at the supplied
// flattened bounds (layer 0 first). Used to re-run tightening from an already
// tightened bound set.
func NewWithInitial(desc *net.Descriptor, lower, upper []float64) (*Store, error) {
	total := desc.TotalNodes()
	if len(lower) != total || len(upper) != total {
		return nil, fmt.Errorf("bounds: flattened bound length %d/%d, want %d", len(lower), len(upper), total)
	}

	s := &Store{
		layers: make([][]entry, desc.LayerCount()+1),
		frozen: make([]bool, desc.LayerCount()+1),
	}
	off := 0
	for k := 0; k <= desc.LayerCount(); k++ {
		s.layers[k] = make([]entry, desc.NodeCount(k))
		for j := range s.layers[k] {
			s.layers[k][j].iv = Interval{Lo: lower[off], Hi: upper[off]}
			off++
		}
	}
	for i := range s.layers[0] {
		s.layers[0][i].state = [2]State{Finalized, Finalized}
	}
	s.frozen[0] = true
	return s, nil
}

// LayerCount returns the number of activation layers held, K+1.
func (s *Store) LayerCount() int { return len(s.layers) }

// NodeCount returns the number of nodes in activation layer k.
func (s *Store) NodeCount(k int) int { return len(s.layers[k]) }

// Finalized returns the interval of a node in a frozen layer. Subproblem
// builders use this for all prefix-layer reads so that a scheduling bug
// surfaces as ErrLayerNotFinal instead of a silently stale bound.
func (s *Store) Finalized(layer, node int) (Interval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.frozen[layer] {
		return Interval{}, fmt.Errorf("%w: layer %d", ErrLayerNotFinal, layer)
	}
	return s.layers[layer][node].iv, nil
}

// Current returns a node's interval regardless of freeze state. Used for the
// target layer's own box constraints, which are built from the coarse values.
func (s *Store) Current(layer, node int) Interval {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers[layer][node].iv
}

// SetLower finalizes a node's lower bound. A second write to the same
// (node, direction) is an error: bounds are write-once within a run.
func (s *Store) SetLower(layer, node int, v float64) error {
	return s.set(layer, node, Lower, v)
}

// SetUpper finalizes a node's upper bound.
func (s *Store) SetUpper(layer, node int, v float64) error {
	return s.set(layer, node, Upper, v)
}

func (s *Store) set(layer, node int, dir Direction, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen[layer] {
		return fmt.Errorf("bounds: write to frozen layer %d", layer)
	}
	e := &s.layers[layer][node]
	if e.state[dir] != Pending {
		return fmt.Errorf("bounds: duplicate %s write to node (%d,%d)", dir, layer, node)
	}
	if dir == Lower {
		e.iv.Lo = v
	} else {
		e.iv.Hi = v
	}
	e.state[dir] = Finalized
	return nil
}

// Skip resolves a (node, direction) without changing its value: the prior,
// looser bound stays in place. Used when a solve hits the time limit with no
// incumbent.
func (s *Store) Skip(layer, node int, dir Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen[layer] {
		return fmt.Errorf("bounds: skip on frozen layer %d", layer)
	}
	e := &s.layers[layer][node]
	if e.state[dir] != Pending {
		return fmt.Errorf("bounds: duplicate %s resolution of node (%d,%d)", dir, layer, node)
	}
	e.state[dir] = Skipped
	return nil
}

// Freeze marks a layer read-only. Every (node, direction) of the layer must
// be resolved first; freezing with pending entries is a scheduling bug.
func (s *Store) Freeze(layer int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen[layer] {
		return fmt.Errorf("bounds: layer %d already frozen", layer)
	}
	for j, e := range s.layers[layer] {
		if e.state[Lower] == Pending || e.state[Upper] == Pending {
			return fmt.Errorf("bounds: freeze of layer %d with pending node %d", layer, j)
		}
	}
	s.frozen[layer] = true
	return nil
}

// Finalize marks every node of a layer resolved at its current value and
// freezes it. Distributed workers use it to rebuild the coordinator's frozen
// prefix from a flattened snapshot.
func (s *Store) Finalize(layer int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen[layer] {
		return fmt.Errorf("bounds: layer %d already frozen", layer)
	}
	for j := range s.layers[layer] {
		s.layers[layer][j].state = [2]State{Finalized, Finalized}
	}
	s.frozen[layer] = true
	return nil
}

// Frozen reports whether a layer has been finalized.
func (s *Store) Frozen(layer int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen[layer]
}

// NodeState returns the resolution state of one (node, direction).
func (s *Store) NodeState(layer, node int, dir Direction) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers[layer][node].state[dir]
}

// Snapshot returns a deep copy. The distributed strategies hand snapshots to
// workers so the workers never touch shared state.
func (s *Store) Snapshot() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := &Store{
		layers: make([][]entry, len(s.layers)),
		frozen: append([]bool(nil), s.frozen...),
	}
	for k := range s.layers {
		cp.layers[k] = append([]entry(nil), s.layers[k]...)
	}
	return cp
}

// LayerBounds returns copies of one layer's lower and upper vectors.
func (s *Store) LayerBounds(layer int) (lo, hi []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo = make([]float64, len(s.layers[layer]))
	hi = make([]float64, len(s.layers[layer]))
	for j, e := range s.layers[layer] {
		lo[j] = e.iv.Lo
		hi[j] = e.iv.Hi
	}
	return lo, hi
}

// AdoptLower finalizes a whole layer's lower bounds from a worker's returned
// copy. Indices listed in skipped keep their prior value in state Skipped.
func (s *Store) AdoptLower(layer int, vals []float64, skipped []int) error {
	return s.adopt(layer, Lower, vals, skipped)
}

// AdoptUpper finalizes a whole layer's upper bounds from a worker's returned
// copy.
func (s *Store) AdoptUpper(layer int, vals []float64, skipped []int) error {
	return s.adopt(layer, Upper, vals, skipped)
}

func (s *Store) adopt(layer int, dir Direction, vals []float64, skipped []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen[layer] {
		return fmt.Errorf("bounds: adopt into frozen layer %d", layer)
	}
	if len(vals) != len(s.layers[layer]) {
		return fmt.Errorf("bounds: adopt length %d, want %d", len(vals), len(s.layers[layer]))
	}
	skip := make(map[int]bool, len(skipped))
	for _, j := range skipped {
		skip[j] = true
	}
	for j := range vals {
		e := &s.layers[layer][j]
		if e.state[dir] != Pending {
			return fmt.Errorf("bounds: duplicate %s resolution of node (%d,%d)", dir, layer, j)
		}
		if skip[j] {
			e.state[dir] = Skipped
			continue
		}
		if dir == Lower {
			e.iv.Lo = vals[j]
		} else {
			e.iv.Hi = vals[j]
		}
		e.state[dir] = Finalized
	}
	return nil
}

// Lower returns the flattened lower-bound vector, layer 0 first.
func (s *Store) Lower() []float64 { return s.flatten(Lower) }

// Upper returns the flattened upper-bound vector, layer 0 first.
func (s *Store) Upper() []float64 { return s.flatten(Upper) }

func (s *Store) flatten(dir Direction) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []float64
	for _, layer := range s.layers {
		for _, e := range layer {
			if dir == Lower {
				out = append(out, e.iv.Lo)
			} else {
				out = append(out, e.iv.Hi)
			}
		}
	}
	return out
}
