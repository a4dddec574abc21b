// Package prune removes hidden nodes that provably cannot affect a network's
// output: dead nodes (upper bound at or below zero), zero-weight nodes
// (constant output folded into the next bias) and, optionally, stable nodes
// whose pre-activation is a linear combination of other stable nodes. Every
// rewrite is verified by comparing forward passes of the original and pruned
// networks over the input box.
package prune

import (
	"fmt"
	"math"
	"math/rand"

	mapset "github.com/deckarep/golang-set/v2"
	"gonum.org/v1/gonum/mat"

	"bigm_lib/bounds"
	"bigm_lib/net"
)

// Options control which rewrites run and how the result is checked.
type Options struct {
	ZeroTol    float64 // weights at or below this count as zero
	VerifyTol  float64 // max allowed forward-pass deviation
	Dependence bool    // enable linear-dependence folding
	Samples    int     // random verification inputs
	Seed       int64   // verification sampling seed; zero picks a fixed one
}

// DefaultOptions returns the standard pruning configuration. Dependence
// folding stays off unless asked for.
func DefaultOptions() Options {
	return Options{ZeroTol: 1e-8, VerifyTol: 1e-3, Samples: 10}
}

// Report lists what was removed and how faithful the pruned network is. The
// per-layer sets are indexed by hidden layer, entry 0 for layer 1. Consistent
// is false when the verification deviation exceeds the tolerance; the caller
// decides whether to trust the pruned network anyway.
type Report struct {
	Dead         []mapset.Set[int]
	ZeroWeight   []mapset.Set[int]
	Dependent    []mapset.Set[int]
	RemovedTotal int
	MaxDeviation float64
	Consistent   bool
}

// Run prunes the network against its tightened bounds and returns a new
// descriptor; the input descriptor is never modified. The store must hold
// bounds for exactly this network.
func Run(desc *net.Descriptor, store *bounds.Store, opts Options) (*net.Descriptor, *Report, error) {
	if opts.Samples <= 0 {
		opts.Samples = 10
	}
	if store.LayerCount() != desc.LayerCount()+1 {
		return nil, nil, fmt.Errorf("prune: store has %d layers, network has %d", store.LayerCount(), desc.LayerCount()+1)
	}

	k := desc.LayerCount()
	report := &Report{
		Dead:       make([]mapset.Set[int], k-1),
		ZeroWeight: make([]mapset.Set[int], k-1),
		Dependent:  make([]mapset.Set[int], k-1),
		Consistent: true,
	}

	// Working copies, rewritten layer by layer.
	weights := make([]*mat.Dense, k)
	biases := make([][]float64, k)
	for l := 1; l <= k; l++ {
		weights[l-1] = mat.DenseCopyOf(desc.Weight(l))
		biases[l-1] = append([]float64(nil), desc.Bias(l)...)
	}

	for l := 1; l < k; l++ {
		dead := mapset.NewSet[int]()
		zero := mapset.NewSet[int]()
		dep := mapset.NewSet[int]()
		pruneLayer(weights, biases, store, l, opts, dead, zero, dep)
		report.Dead[l-1] = dead
		report.ZeroWeight[l-1] = zero
		report.Dependent[l-1] = dep
		report.RemovedTotal += dead.Cardinality() + zero.Cardinality() + dep.Cardinality()
	}

	pruned, err := net.New(weights, biases)
	if err != nil {
		return nil, nil, fmt.Errorf("prune: rebuilt network is malformed: %w", err)
	}

	dev, err := verify(desc, pruned, store, opts)
	if err != nil {
		return nil, nil, err
	}
	report.MaxDeviation = dev
	report.Consistent = dev <= opts.VerifyTol
	return pruned, report, nil
}

// pruneLayer rewrites hidden layer l in place: weights[l-1]/biases[l-1] lose
// rows, weights[l]/biases[l] absorb the removed nodes' contributions. If the
// rewrite would empty the layer it is left untouched; a ReLU layer needs at
// least one node.
func pruneLayer(weights []*mat.Dense, biases [][]float64, store *bounds.Store, l int,
	opts Options, dead, zero, dep mapset.Set[int]) {

	w := weights[l-1]
	b := biases[l-1]
	wNext := weights[l]
	bNext := biases[l]
	n, prev := w.Dims()
	nOut, _ := wNext.Dims()

	// Folds mutate the next layer as nodes go away; work on copies so nothing
	// is committed if the layer ends up untouched.
	nextCols := mat.DenseCopyOf(wNext)
	nextBias := append([]float64(nil), bNext...)

	var basis []basisRow

	var keep []int
	for j := 0; j < n; j++ {
		iv := store.Current(l, j)

		if iv.Hi <= 0 {
			// Dead: the ReLU output is identically zero, nothing to fold.
			dead.Add(j)
			continue
		}

		allZero := true
		for i := 0; i < prev; i++ {
			if math.Abs(w.At(j, i)) > opts.ZeroTol {
				allZero = false
				break
			}
		}
		if allZero {
			// Constant output relu(b_j); fold it into the next bias.
			c := math.Max(0, b[j])
			for m := 0; m < nOut; m++ {
				nextBias[m] += nextCols.At(m, j) * c
			}
			zero.Add(j)
			continue
		}

		if opts.Dependence && iv.Lo >= 0 {
			full := make([]float64, prev+1)
			mat.Row(full[:prev], j, w)
			full[prev] = b[j]
			if alpha, ok := expressAs(basisRows(basis), full); ok {
				// Stable active node: its pre-activation equals the same
				// combination of the basis nodes' pre-activations, and all of
				// them pass through the ReLU unchanged.
				for m := 0; m < nOut; m++ {
					cj := nextCols.At(m, j)
					for bi, br := range basis {
						nextCols.Set(m, br.node, nextCols.At(m, br.node)+cj*alpha[bi])
					}
				}
				dep.Add(j)
				continue
			}
			basis = append(basis, basisRow{node: j, row: full})
		}

		keep = append(keep, j)
	}

	if len(keep) == 0 || len(keep) == n {
		if len(keep) == 0 {
			dead.Clear()
			zero.Clear()
			dep.Clear()
		}
		return
	}

	// Rebuild layer l and the next layer's input side.
	newW := mat.NewDense(len(keep), prev, nil)
	newB := make([]float64, len(keep))
	newNext := mat.NewDense(nOut, len(keep), nil)
	for jj, j := range keep {
		for i := 0; i < prev; i++ {
			newW.Set(jj, i, w.At(j, i))
		}
		newB[jj] = b[j]
		for m := 0; m < nOut; m++ {
			newNext.Set(m, jj, nextCols.At(m, j))
		}
	}
	weights[l-1] = newW
	biases[l-1] = newB
	weights[l] = newNext
	biases[l] = nextBias
}

// basisRow is one stable node's pre-activation row [w..., b] kept as a
// candidate expression basis for later nodes.
type basisRow struct {
	node int
	row  []float64
}

func basisRows(basis []basisRow) [][]float64 {
	rows := make([][]float64, len(basis))
	for i, br := range basis {
		rows[i] = br.row
	}
	return rows
}

// expressAs solves min ||sum_i alpha_i * rows_i - target|| by least squares
// and accepts the combination when the residual is negligible.
func expressAs(rows [][]float64, target []float64) ([]float64, bool) {
	if len(rows) == 0 {
		return nil, false
	}
	d := len(target)
	a := mat.NewDense(d, len(rows), nil)
	for c, row := range rows {
		for r := 0; r < d; r++ {
			a.Set(r, c, row[r])
		}
	}
	tv := mat.NewVecDense(d, append([]float64(nil), target...))

	var alpha mat.VecDense
	if err := alpha.SolveVec(a, tv); err != nil {
		return nil, false
	}

	var approx mat.VecDense
	approx.MulVec(a, &alpha)
	residual := 0.0
	for r := 0; r < d; r++ {
		residual += math.Abs(approx.AtVec(r) - target[r])
	}
	if residual > 1e-9*float64(d) {
		return nil, false
	}
	out := make([]float64, len(rows))
	for i := range out {
		out[i] = alpha.AtVec(i)
	}
	return out, true
}

// verify compares forward passes of the two networks on the corners of the
// input box's midpoint plus random samples inside it.
func verify(orig, pruned *net.Descriptor, store *bounds.Store, opts Options) (float64, error) {
	lo, hi := store.LayerBounds(0)
	seed := opts.Seed
	if seed == 0 {
		seed = 1
	}
	rng := rand.New(rand.NewSource(seed))

	inputs := make([][]float64, 0, opts.Samples+1)
	mid := make([]float64, len(lo))
	for i := range mid {
		mid[i] = (lo[i] + hi[i]) / 2
	}
	inputs = append(inputs, mid)
	for s := 0; s < opts.Samples; s++ {
		in := make([]float64, len(lo))
		for i := range in {
			in[i] = lo[i] + rng.Float64()*(hi[i]-lo[i])
		}
		inputs = append(inputs, in)
	}

	maxDev := 0.0
	for _, in := range inputs {
		a, err := orig.Forward(in)
		if err != nil {
			return 0, err
		}
		b, err := pruned.Forward(in)
		if err != nil {
			return 0, err
		}
		for i := range a {
			if d := math.Abs(a[i] - b[i]); d > maxDev {
				maxDev = d
			}
		}
	}
	return maxDev, nil
}
