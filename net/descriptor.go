// Package net holds the immutable view of a trained ReLU feedforward
// network that the bound-tightening and pruning engines operate on.
package net

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ShapeError reports weight/bias dimensions that are inconsistent between
// adjacent layers.
type ShapeError struct {
	Layer int
	Want  string
	Got   string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("layer %d: inconsistent shape: want %s, got %s", e.Layer, e.Want, e.Got)
}

// Descriptor is the fixed parameter set of a trained network: one weight
// matrix and one bias vector per layer 1..K. Activation layers are indexed
// 0..K where layer 0 is the input layer. A Descriptor is never mutated after
// construction; the pruning engine builds a new one instead.
type Descriptor struct {
	weights []*mat.Dense // weights[k-1] maps layer k-1 -> k, shape (counts[k], counts[k-1])
	biases  [][]float64  // biases[k-1] has length counts[k]
	counts  []int        // node count per activation layer, length K+1
}

// New validates the shape chain and builds a Descriptor. The input layer size
// is derived from the first weight matrix's column count, each subsequent
// layer size from the matrix's row count.
func New(weights []*mat.Dense, biases [][]float64) (*Descriptor, error) {
	if len(weights) == 0 {
		return nil, &ShapeError{Layer: 1, Want: "at least one weight matrix", Got: "none"}
	}
	if len(weights) != len(biases) {
		return nil, &ShapeError{
			Layer: len(biases) + 1,
			Want:  fmt.Sprintf("%d bias vectors", len(weights)),
			Got:   fmt.Sprintf("%d", len(biases)),
		}
	}

	counts := make([]int, len(weights)+1)
	_, counts[0] = weights[0].Dims()

	for k, w := range weights {
		rows, cols := w.Dims()
		if cols != counts[k] {
			return nil, &ShapeError{
				Layer: k + 1,
				Want:  fmt.Sprintf("%d columns", counts[k]),
				Got:   fmt.Sprintf("%d", cols),
			}
		}
		if len(biases[k]) != rows {
			return nil, &ShapeError{
				Layer: k + 1,
				Want:  fmt.Sprintf("bias length %d", rows),
				Got:   fmt.Sprintf("%d", len(biases[k])),
			}
		}
		counts[k+1] = rows
	}

	// Defensive copies so callers cannot alias into the descriptor.
	ws := make([]*mat.Dense, len(weights))
	bs := make([][]float64, len(biases))
	for k := range weights {
		ws[k] = mat.DenseCopyOf(weights[k])
		bs[k] = append([]float64(nil), biases[k]...)
	}

	return &Descriptor{weights: ws, biases: bs, counts: counts}, nil
}

// LayerCount returns K, the number of weight/bias layers. The network has
// K+1 activation layers, 0..K.
func (d *Descriptor) LayerCount() int { return len(d.weights) }

// NodeCount returns the number of nodes in activation layer l (0 <= l <= K).
func (d *Descriptor) NodeCount(l int) int { return d.counts[l] }

// TotalNodes returns the node count summed over all activation layers.
func (d *Descriptor) TotalNodes() int {
	total := 0
	for _, c := range d.counts {
		total += c
	}
	return total
}

// Weight returns the weight matrix of layer k (1 <= k <= K). The returned
// matrix must not be modified.
func (d *Descriptor) Weight(k int) *mat.Dense { return d.weights[k-1] }

// Bias returns the bias vector of layer k (1 <= k <= K). The returned slice
// must not be modified.
func (d *Descriptor) Bias(k int) []float64 { return d.biases[k-1] }

// Forward evaluates the network on one input vector: ReLU on hidden layers,
// identity on the output layer.
func (d *Descriptor) Forward(input []float64) ([]float64, error) {
	if len(input) != d.counts[0] {
		return nil, &ShapeError{
			Layer: 0,
			Want:  fmt.Sprintf("input length %d", d.counts[0]),
			Got:   fmt.Sprintf("%d", len(input)),
		}
	}

	x := mat.NewVecDense(len(input), append([]float64(nil), input...))
	for k := 1; k <= d.LayerCount(); k++ {
		pre := mat.NewVecDense(d.counts[k], nil)
		pre.MulVec(d.weights[k-1], x)
		for j := 0; j < d.counts[k]; j++ {
			v := pre.AtVec(j) + d.biases[k-1][j]
			if k < d.LayerCount() && v < 0 {
				v = 0
			}
			pre.SetVec(j, v)
		}
		x = pre
	}

	out := make([]float64, x.Len())
	copy(out, x.RawVector().Data)
	return out, nil
}
