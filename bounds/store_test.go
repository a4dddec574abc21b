package bounds

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"bigm_lib/net"
)

func smallNet(t *testing.T) *net.Descriptor {
	t.Helper()
	w1 := mat.NewDense(3, 2, []float64{1, 1, 2, -1, 4, 2})
	w2 := mat.NewDense(1, 3, []float64{2, 1, 0})
	d, err := net.New([]*mat.Dense{w1, w2}, [][]float64{{5, 4, 6}, {0.2}})
	require.NoError(t, err)
	return d
}

func TestNewStartsWithFrozenInputLayer(t *testing.T) {
	s, err := New(smallNet(t), []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)

	if !s.Frozen(0) {
		t.Fatal("input layer must start frozen")
	}
	iv, err := s.Finalized(0, 1)
	require.NoError(t, err)
	if iv.Lo != -1 || iv.Hi != 1 {
		t.Errorf("input interval = %+v, want [-1,1]", iv)
	}
	if s.Frozen(1) {
		t.Error("hidden layer must not start frozen")
	}
}

func TestFinalizedRejectsUnfrozenLayer(t *testing.T) {
	s, err := New(smallNet(t), []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)

	_, err = s.Finalized(1, 0)
	require.ErrorIs(t, err, ErrLayerNotFinal)
}

func TestWriteOncePerDirection(t *testing.T) {
	s, err := New(smallNet(t), []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)

	require.NoError(t, s.SetLower(1, 0, 3))
	require.Error(t, s.SetLower(1, 0, 4), "second lower write must fail")
	require.NoError(t, s.SetUpper(1, 0, 6.5))

	iv := s.Current(1, 0)
	if iv.Lo != 3 || iv.Hi != 6.5 {
		t.Errorf("interval = %+v, want [3,6.5]", iv)
	}
}

func TestFreezeRequiresResolvedLayer(t *testing.T) {
	s, err := New(smallNet(t), []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)

	require.Error(t, s.Freeze(1), "freeze with pending nodes must fail")

	for j := 0; j < 3; j++ {
		require.NoError(t, s.SetLower(1, j, float64(j)))
		require.NoError(t, s.SetUpper(1, j, float64(j+10)))
	}
	require.NoError(t, s.Freeze(1))
	require.Error(t, s.SetLower(1, 0, 99), "write after freeze must fail")

	iv, err := s.Finalized(1, 2)
	require.NoError(t, err)
	if iv.Lo != 2 || iv.Hi != 12 {
		t.Errorf("interval = %+v, want [2,12]", iv)
	}
}

func TestSkipKeepsPriorValue(t *testing.T) {
	s, err := New(smallNet(t), []float64{-1, -1}, []float64{1, 1}, 500)
	require.NoError(t, err)

	require.NoError(t, s.Skip(1, 1, Upper))
	if got := s.NodeState(1, 1, Upper); got != Skipped {
		t.Errorf("state = %v, want Skipped", got)
	}
	iv := s.Current(1, 1)
	if iv.Hi != 500 {
		t.Errorf("skipped upper = %v, want coarse 500", iv.Hi)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	s, err := New(smallNet(t), []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)
	cp := s.Snapshot()

	require.NoError(t, s.SetLower(1, 0, 42))
	if cp.Current(1, 0).Lo == 42 {
		t.Error("snapshot sees writes to the original store")
	}
}

func TestAdoptMergesDisjointDirections(t *testing.T) {
	s, err := New(smallNet(t), []float64{-1, -1}, []float64{1, 1}, 1e6)
	require.NoError(t, err)

	require.NoError(t, s.AdoptLower(1, []float64{1, 2, 3}, nil))
	require.NoError(t, s.AdoptUpper(1, []float64{9, 8, 7}, []int{2}))
	require.NoError(t, s.Freeze(1))

	iv, err := s.Finalized(1, 0)
	require.NoError(t, err)
	if iv.Lo != 1 || iv.Hi != 9 {
		t.Errorf("node 0 = %+v, want [1,9]", iv)
	}
	// node 2 upper was skipped: coarse value stays
	iv, err = s.Finalized(1, 2)
	require.NoError(t, err)
	if iv.Lo != 3 || iv.Hi != 1e6 {
		t.Errorf("node 2 = %+v, want [3,1e6]", iv)
	}
	if s.NodeState(1, 2, Upper) != Skipped {
		t.Error("node 2 upper must be Skipped")
	}
}

func TestFinalizeFreezesAtCurrentValues(t *testing.T) {
	s, err := NewWithInitial(smallNet(t),
		[]float64{-1, -1, 3, 1, 0, 9.2},
		[]float64{1, 1, 7, 7, 12, 19.2})
	require.NoError(t, err)

	require.NoError(t, s.Finalize(1))
	iv, err := s.Finalized(1, 2)
	require.NoError(t, err)
	if iv.Lo != 0 || iv.Hi != 12 {
		t.Errorf("interval = %+v, want [0,12]", iv)
	}
	require.Error(t, s.Finalize(1), "double finalize must fail")
	// layer 2 untouched
	if s.Frozen(2) {
		t.Error("layer 2 must stay unfrozen")
	}
}

func TestFlattenedExportOrdering(t *testing.T) {
	s, err := NewWithInitial(smallNet(t),
		[]float64{-1, -1, 0, 1, 2, 3},
		[]float64{1, 1, 10, 11, 12, 13})
	require.NoError(t, err)

	lo := s.Lower()
	hi := s.Upper()
	require.Len(t, lo, 6)
	if lo[2] != 0 || lo[5] != 3 || hi[0] != 1 || hi[5] != 13 {
		t.Errorf("flatten mismatch: lo=%v hi=%v", lo, hi)
	}
}
