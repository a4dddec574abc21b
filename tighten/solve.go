package tighten

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"bigm_lib/bounds"
	"bigm_lib/mip"
	"bigm_lib/net"
	"bigm_lib/utils"
)

// solveOne runs one bound problem. ok reports whether a value was produced;
// ok=false means the solve hit the time limit with no incumbent and the
// caller keeps the prior bound. Any other non-optimal termination is fatal.
func solveOne(m *mip.Model, layer, node int, dir bounds.Direction, rec *statsRecorder) (float64, bool, error) {
	start := time.Now()
	res := m.Optimize()
	rec.addSolve(time.Since(start), res.Nodes)

	switch res.Status {
	case mip.StatusOptimal:
		return res.Objective, true, nil
	case mip.StatusTimeLimitReached:
		if res.HasIncumbent {
			return res.Objective, true, nil
		}
		// Soft: the prior, looser bound stays valid.
		glog.V(1).Infof("tighten: %s bound of node (%d,%d) hit the time limit with no incumbent, keeping prior value",
			dir, layer, node)
		rec.addSkip()
		return 0, false, nil
	default:
		return 0, false, &InfeasibleBoundProblemError{
			Layer: layer, Node: node, Dir: dir, Status: res.Status, Err: res.Err,
		}
	}
}

// tightenNode solves both directions for node j of the model's target layer
// against a prepared layer model and resolves them in the store. Lower first,
// then upper; the node row is shared, only the objective flips.
func tightenNode(desc *net.Descriptor, store *bounds.Store, lm *layerModel, j int, rec *statsRecorder) error {
	sc, err := lm.attachNode(desc, j)
	if err != nil {
		return err
	}
	defer sc.Release()

	for _, dir := range []bounds.Direction{bounds.Lower, bounds.Upper} {
		lm.pointObjective(j, dir)
		v, ok, err := solveOne(lm.model, lm.layer, j, dir, rec)
		if err != nil {
			return err
		}
		if !ok {
			if err := store.Skip(lm.layer, j, dir); err != nil {
				return err
			}
			continue
		}
		if dir == bounds.Lower {
			err = store.SetLower(lm.layer, j, v)
		} else {
			err = store.SetUpper(lm.layer, j, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// statsRecorder aggregates counters for a run. Safe for concurrent use; all
// methods tolerate a recorder with no destination.
type statsRecorder struct {
	mu sync.Mutex
	s  *utils.TightenStats
}

func newStatsRecorder(s *utils.TightenStats) *statsRecorder {
	return &statsRecorder{s: s}
}

func (r *statsRecorder) addSolve(d time.Duration, nodes int) {
	if r.s == nil {
		return
	}
	r.mu.Lock()
	r.s.Solves++
	r.s.SolveTime += d
	r.s.Nodes += nodes
	r.mu.Unlock()
}

func (r *statsRecorder) addSkip() {
	if r.s == nil {
		return
	}
	r.mu.Lock()
	r.s.Skips++
	r.mu.Unlock()
}

func (r *statsRecorder) addBuild(d time.Duration) {
	if r.s == nil {
		return
	}
	r.mu.Lock()
	r.s.ModelsBuilt++
	r.s.BuildTime += d
	r.mu.Unlock()
}

func (r *statsRecorder) addLayer(d time.Duration) {
	if r.s == nil {
		return
	}
	r.mu.Lock()
	r.s.LayerTimes = append(r.s.LayerTimes, d)
	r.mu.Unlock()
}
