package tighten

import (
	"bigm_lib/bounds"
	"bigm_lib/mip"
	"bigm_lib/net"
)

// LayerProblem is the exported face of one layer's reusable subproblem. The
// distributed workers rebuild it from a bounds snapshot and solve individual
// node problems against it; the in-process strategies use the same machinery
// internally.
type LayerProblem struct {
	desc *net.Descriptor
	lm   *layerModel
}

// NewLayerProblem encodes the frozen prefix of target layer k over the given
// store. Every prefix layer below k must already be frozen.
func NewLayerProblem(desc *net.Descriptor, store *bounds.Store, k int, solver mip.Options) (*LayerProblem, error) {
	lm, err := buildLayerModel(desc, store, k, solver)
	if err != nil {
		return nil, err
	}
	return &LayerProblem{desc: desc, lm: lm}, nil
}

// Layer returns the target layer this problem was built for.
func (p *LayerProblem) Layer() int { return p.lm.layer }

// SolveNode solves one direction for target node j. ok=false means the solve
// hit the time limit with no incumbent and the prior bound must be kept.
func (p *LayerProblem) SolveNode(j int, dir bounds.Direction) (value float64, ok bool, err error) {
	sc, err := p.lm.attachNode(p.desc, j)
	if err != nil {
		return 0, false, err
	}
	defer sc.Release()
	p.lm.pointObjective(j, dir)
	return solveOne(p.lm.model, p.lm.layer, j, dir, newStatsRecorder(nil))
}
