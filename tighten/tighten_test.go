package tighten

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"bigm_lib/bounds"
	"bigm_lib/net"
	"bigm_lib/utils"
)

// twoLayerNet is the 2-3-1 reference network used throughout: over the input
// box [-1,1]^2 the hidden pre-activations span [3,7], [1,7] and [0,12], and
// the output spans [9.2, 19.2].
func twoLayerNet(t *testing.T) *net.Descriptor {
	t.Helper()
	w1 := mat.NewDense(3, 2, []float64{1, 1, 2, -1, 4, 2})
	w2 := mat.NewDense(1, 3, []float64{2, 1, 0})
	d, err := net.New([]*mat.Dense{w1, w2}, [][]float64{{5, 4, 6}, {0.2}})
	require.NoError(t, err)
	return d
}

func requireReferenceBounds(t *testing.T, s *bounds.Store) {
	t.Helper()
	wantLo := [][]float64{{3, 1, 0}, {9.2}}
	wantHi := [][]float64{{7, 7, 12}, {19.2}}
	for k := 1; k <= 2; k++ {
		lo, hi := s.LayerBounds(k)
		for j := range lo {
			assert.InDelta(t, wantLo[k-1][j], lo[j], 1e-6, "lower (%d,%d)", k, j)
			assert.InDelta(t, wantHi[k-1][j], hi[j], 1e-6, "upper (%d,%d)", k, j)
		}
	}
}

func TestSequentialReferenceNetwork(t *testing.T) {
	desc := twoLayerNet(t)
	store, err := bounds.New(desc, []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)

	stats := &utils.TightenStats{}
	require.NoError(t, Run(desc, store, Options{Strategy: Sequential, Stats: stats}))

	requireReferenceBounds(t, store)
	assert.True(t, store.Frozen(1) && store.Frozen(2))
	assert.Equal(t, 8, stats.Solves, "two directions per node")
	assert.Equal(t, 0, stats.Skips)
	assert.Equal(t, 2, stats.ModelsBuilt)
}

func TestThreadsMatchSequential(t *testing.T) {
	desc := twoLayerNet(t)

	seq, err := bounds.New(desc, []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)
	require.NoError(t, Run(desc, seq, Options{Strategy: Sequential}))

	for _, workers := range []int{1, 2, 8} {
		par, err := bounds.New(desc, []float64{-1, -1}, []float64{1, 1}, 1e6)
		require.NoError(t, err)
		require.NoError(t, Run(desc, par, Options{Strategy: Threads, Workers: workers}))

		sl, pl := seq.Lower(), par.Lower()
		su, pu := seq.Upper(), par.Upper()
		for i := range sl {
			assert.InDelta(t, sl[i], pl[i], 1e-6, "lower[%d] with %d workers", i, workers)
			assert.InDelta(t, su[i], pu[i], 1e-6, "upper[%d] with %d workers", i, workers)
		}
	}
}

func TestIdempotentOnTightBounds(t *testing.T) {
	desc := twoLayerNet(t)
	first, err := bounds.New(desc, []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)
	require.NoError(t, Run(desc, first, Options{Strategy: Sequential}))

	// Re-run from the tightened bounds: nothing may move. This exercises the
	// stably active hidden nodes (lower bounds 3 and 1) and the exact zero.
	second, err := bounds.NewWithInitial(desc, first.Lower(), first.Upper())
	require.NoError(t, err)
	require.NoError(t, Run(desc, second, Options{Strategy: Sequential}))

	fl, sl := first.Lower(), second.Lower()
	fu, su := first.Upper(), second.Upper()
	for i := range fl {
		assert.InDelta(t, fl[i], sl[i], 1e-6, "lower[%d]", i)
		assert.InDelta(t, fu[i], su[i], 1e-6, "upper[%d]", i)
	}
}

func TestBoundsContainForwardPass(t *testing.T) {
	desc := twoLayerNet(t)
	store, err := bounds.New(desc, []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)
	require.NoError(t, Run(desc, store, Options{Strategy: Sequential}))

	lo, hi := store.LayerBounds(2)
	for _, in := range [][]float64{{-1, -1}, {1, 1}, {-1, 1}, {0.3, -0.7}, {0, 0}} {
		out, err := desc.Forward(in)
		require.NoError(t, err)
		assert.LessOrEqual(t, lo[0]-1e-9, out[0], "input %v", in)
		assert.GreaterOrEqual(t, hi[0]+1e-9, out[0], "input %v", in)
	}
}

func TestLowerNeverExceedsUpper(t *testing.T) {
	desc := twoLayerNet(t)
	store, err := bounds.New(desc, []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)
	require.NoError(t, Run(desc, store, Options{Strategy: Threads, Workers: 3}))

	lo, hi := store.Lower(), store.Upper()
	for i := range lo {
		assert.LessOrEqual(t, lo[i], hi[i]+1e-9, "node %d", i)
	}
}

func TestEmptyInputDomainIsFatal(t *testing.T) {
	desc := twoLayerNet(t)
	// Crossed input bounds: every bound problem is infeasible and the run
	// must stop with the fatal error, not write anything.
	store, err := bounds.New(desc, []float64{1, 1}, []float64{-1, -1}, 1e6)
	require.NoError(t, err)

	err = Run(desc, store, Options{Strategy: Sequential})
	var fatal *InfeasibleBoundProblemError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 1, fatal.Layer)
	assert.False(t, store.Frozen(1))
}

func TestBuilderRefusesUnfrozenPrefix(t *testing.T) {
	desc := twoLayerNet(t)
	store, err := bounds.New(desc, []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)

	// Layer 1 was never tightened or frozen, so a layer-2 model must not
	// come together.
	_, err = buildLayerModel(desc, store, 2, Options{}.solverOptions())
	require.ErrorIs(t, err, bounds.ErrLayerNotFinal)
}

func TestTimeLimitSkipsBothDirections(t *testing.T) {
	desc := twoLayerNet(t)
	store, err := bounds.New(desc, []float64{-1, -1}, []float64{1, 1}, 500)
	require.NoError(t, err)

	stats := &utils.TightenStats{}
	opts := Options{Strategy: Sequential, TimeLimit: time.Nanosecond, Stats: stats}
	require.NoError(t, Run(desc, store, opts), "skips are soft, not errors")

	// Every solve times out before its first node, so every bound keeps its
	// coarse value and the layers still freeze.
	assert.True(t, store.Frozen(1) && store.Frozen(2))
	assert.Equal(t, 8, stats.Skips)
	lo, hi := store.LayerBounds(1)
	for j := range lo {
		assert.Equal(t, -500.0, lo[j])
		assert.Equal(t, 500.0, hi[j])
		assert.Equal(t, bounds.Skipped, store.NodeState(1, j, bounds.Lower))
		assert.Equal(t, bounds.Skipped, store.NodeState(1, j, bounds.Upper))
	}
}

func TestDeepNetStaysExactThroughInactiveNode(t *testing.T) {
	// 1-2-1 net where one hidden node is stably inactive: h1 = relu(x - 5)
	// is dead on [-1, 1], h2 = relu(x + 2) is stably active, output is
	// 3*h1 + 2*h2 - 1, so the output spans [1, 5].
	w1 := mat.NewDense(2, 1, []float64{1, 1})
	w2 := mat.NewDense(1, 2, []float64{3, 2})
	desc, err := net.New([]*mat.Dense{w1, w2}, [][]float64{{-5, 2}, {-1}})
	require.NoError(t, err)

	store, err := bounds.New(desc, []float64{-1}, []float64{1}, 1e6)
	require.NoError(t, err)
	require.NoError(t, Run(desc, store, Options{Strategy: Sequential}))

	lo, hi := store.LayerBounds(1)
	assert.InDelta(t, -6, lo[0], 1e-6)
	assert.InDelta(t, -4, hi[0], 1e-6)
	assert.InDelta(t, 1, lo[1], 1e-6)
	assert.InDelta(t, 3, hi[1], 1e-6)

	lo, hi = store.LayerBounds(2)
	assert.InDelta(t, 1, lo[0], 1e-6)
	assert.InDelta(t, 5, hi[0], 1e-6)
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]Strategy{
		"sequential":  Sequential,
		"threads":     Threads,
		"dist-fine":   DistFine,
		"dist-coarse": DistCoarse,
	} {
		got, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, name, got.String())
	}
	_, err := ParseStrategy("psychic")
	assert.Error(t, err)
}

func TestRunRejectsDistributedStrategies(t *testing.T) {
	desc := twoLayerNet(t)
	store, err := bounds.New(desc, []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)
	assert.Error(t, Run(desc, store, Options{Strategy: DistFine}))
}

func TestObjectiveIsExactOnPureLinearLayer(t *testing.T) {
	// Single linear layer, no hidden nodes: bounds reduce to interval
	// arithmetic, y = 2a - 3b + 1 over a,b in [-1,1] spans [-4, 6].
	w := mat.NewDense(1, 2, []float64{2, -3})
	desc, err := net.New([]*mat.Dense{w}, [][]float64{{1}})
	require.NoError(t, err)

	store, err := bounds.New(desc, []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)
	require.NoError(t, Run(desc, store, Options{Strategy: Sequential}))

	lo, hi := store.LayerBounds(1)
	assert.InDelta(t, -4, lo[0], 1e-9)
	assert.InDelta(t, 6, hi[0], 1e-9)
	assert.False(t, math.IsInf(lo[0], 0))
}
