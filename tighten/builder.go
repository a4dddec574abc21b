package tighten

import (
	"fmt"
	"math"

	"bigm_lib/bounds"
	"bigm_lib/mip"
	"bigm_lib/net"
)

// layerModel is the reusable subproblem for one target layer k: the big-M
// encoding of layers 1..k-1 over the input box, plus one variable pair per
// target node. The per-node defining row and the objective are attached
// through a scope so the same model serves every node of the layer.
type layerModel struct {
	model  *mip.Model
	layer  int
	output bool          // layer k is the output layer (no ReLU)
	x      [][]mip.VarID // prefix activations, indexed [layer][node]
	tx     []mip.VarID   // target positive parts (output layer: the value itself)
	ts     []mip.VarID   // target negative parts, hidden target only
}

func varName(kind string, layer, node int) string {
	return fmt.Sprintf("%s_%d_%d", kind, layer, node)
}

// buildLayerModel encodes the frozen prefix once. For a hidden prefix node j
// of layer l with finalized pre-activation bounds [L, U]:
//
//	link:  sum_i w_ji * x_{l-1,i} - x_lj + s_lj = -b_lj
//	up:    x_lj - U*z_lj <= 0
//	lo:    s_lj - L*z_lj <= -L
//
// x is the ReLU output, s the negative part, z the phase indicator. The rows
// stay exact when a node is stably active (L >= 0 forces z = 1) or stably
// inactive (U <= 0 forces z = 0), which is what makes re-running tightening
// on already tight bounds reproduce them.
//
// Every prefix read goes through Finalized so that building against an
// unfrozen layer fails loudly instead of using a stale bound.
func buildLayerModel(desc *net.Descriptor, store *bounds.Store, k int, solver mip.Options) (*layerModel, error) {
	lm := &layerModel{
		model:  mip.NewModel(solver),
		layer:  k,
		output: k == desc.LayerCount(),
		x:      make([][]mip.VarID, k),
	}

	n0 := desc.NodeCount(0)
	lm.x[0] = make([]mip.VarID, n0)
	for i := 0; i < n0; i++ {
		iv, err := store.Finalized(0, i)
		if err != nil {
			return nil, err
		}
		id, err := lm.model.AddVariable(varName("x", 0, i), iv.Lo, iv.Hi)
		if err != nil {
			return nil, err
		}
		lm.x[0][i] = id
	}

	for l := 1; l < k; l++ {
		w := desc.Weight(l)
		b := desc.Bias(l)
		n := desc.NodeCount(l)
		lm.x[l] = make([]mip.VarID, n)
		for j := 0; j < n; j++ {
			iv, err := store.Finalized(l, j)
			if err != nil {
				return nil, err
			}
			x, err := lm.model.AddVariable(varName("x", l, j), 0, math.Inf(1))
			if err != nil {
				return nil, err
			}
			s, err := lm.model.AddVariable(varName("s", l, j), 0, math.Inf(1))
			if err != nil {
				return nil, err
			}
			z, err := lm.model.AddBinary(varName("z", l, j))
			if err != nil {
				return nil, err
			}
			lm.x[l][j] = x

			link := map[mip.VarID]float64{x: -1, s: 1}
			for i := 0; i < desc.NodeCount(l-1); i++ {
				if c := w.At(j, i); c != 0 {
					link[lm.x[l-1][i]] = c
				}
			}
			if err := lm.model.AddConstraint(varName("link", l, j), link, mip.Equal, -b[j]); err != nil {
				return nil, err
			}
			if err := lm.model.AddConstraint(varName("up", l, j),
				map[mip.VarID]float64{x: 1, z: -iv.Hi}, mip.LessEq, 0); err != nil {
				return nil, err
			}
			if err := lm.model.AddConstraint(varName("lo", l, j),
				map[mip.VarID]float64{s: 1, z: -iv.Lo}, mip.LessEq, -iv.Lo); err != nil {
				return nil, err
			}
		}
	}

	// Target variables for every node of layer k. Only the node under
	// optimization gets its defining row, so the others stay inert.
	nk := desc.NodeCount(k)
	lm.tx = make([]mip.VarID, nk)
	if !lm.output {
		lm.ts = make([]mip.VarID, nk)
	}
	for j := 0; j < nk; j++ {
		if lm.output {
			iv := store.Current(k, j)
			id, err := lm.model.AddVariable(varName("x", k, j), iv.Lo, iv.Hi)
			if err != nil {
				return nil, err
			}
			lm.tx[j] = id
			continue
		}
		tx, err := lm.model.AddVariable(varName("x", k, j), 0, math.Inf(1))
		if err != nil {
			return nil, err
		}
		ts, err := lm.model.AddVariable(varName("s", k, j), 0, math.Inf(1))
		if err != nil {
			return nil, err
		}
		lm.tx[j], lm.ts[j] = tx, ts
	}
	return lm, nil
}

// attachNode adds the defining row of target node j through a scope:
// sum_i w_ji * x_{k-1,i} - tx_j (+ ts_j) = -b_j. Releasing the scope returns
// the model to its prefix-only state for the next node.
func (lm *layerModel) attachNode(desc *net.Descriptor, j int) (*mip.Scope, error) {
	w := desc.Weight(lm.layer)
	b := desc.Bias(lm.layer)

	row := map[mip.VarID]float64{lm.tx[j]: -1}
	if !lm.output {
		row[lm.ts[j]] = 1
	}
	for i := 0; i < desc.NodeCount(lm.layer-1); i++ {
		if c := w.At(j, i); c != 0 {
			row[lm.x[lm.layer-1][i]] = c
		}
	}

	sc := lm.model.Scope()
	if err := sc.AddConstraint(varName("node", lm.layer, j), row, mip.Equal, -b[j]); err != nil {
		return nil, err
	}
	return sc, nil
}

// pointObjective aims the objective at node j's pre-activation value,
// tx_j - ts_j for hidden targets and tx_j alone for the output layer.
func (lm *layerModel) pointObjective(j int, dir bounds.Direction) {
	obj := map[mip.VarID]float64{lm.tx[j]: 1}
	if !lm.output {
		obj[lm.ts[j]] = -1
	}
	d := mip.Minimize
	if dir == bounds.Upper {
		d = mip.Maximize
	}
	lm.model.SetObjective(d, obj)
}
