package utils

import (
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"bigm_lib/net"
)

func TestSaveLoadWeights(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "weights_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	weightsFile := filepath.Join(tmpDir, "test_weights.json")

	weights := &ModelWeights{
		Version: "1.0",
		Layers: map[string]LayerWeight{
			"layer1": {
				Weight: &WeightData{
					Name:  "layer1.weight",
					Shape: []int{128, 784},
					Data:  make([]float64, 128*784),
				},
				Bias: &WeightData{
					Name:  "layer1.bias",
					Shape: []int{128},
					Data:  make([]float64, 128),
				},
			},
			"layer2": {
				Weight: &WeightData{
					Name:  "layer2.weight",
					Shape: []int{10, 128},
					Data:  make([]float64, 10*128),
				},
			},
		},
	}

	for i := range weights.Layers["layer1"].Weight.Data {
		weights.Layers["layer1"].Weight.Data[i] = float64(i) * 0.001
	}
	for i := range weights.Layers["layer1"].Bias.Data {
		weights.Layers["layer1"].Bias.Data[i] = float64(i) * 0.01
	}

	err = SaveWeights(weightsFile, weights)
	if err != nil {
		t.Fatalf("SaveWeights failed: %v", err)
	}

	loaded, err := LoadWeights(weightsFile)
	if err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}

	if loaded.Version != "1.0" {
		t.Errorf("Version = %s, want 1.0", loaded.Version)
	}
	if len(loaded.Layers) != 2 {
		t.Errorf("Layers count = %d, want 2", len(loaded.Layers))
	}

	layer1 := loaded.Layers["layer1"]
	if layer1.Weight == nil {
		t.Fatal("layer1 weight is nil")
	}
	if len(layer1.Weight.Shape) != 2 || layer1.Weight.Shape[0] != 128 || layer1.Weight.Shape[1] != 784 {
		t.Errorf("layer1 weight shape = %v, want [128, 784]", layer1.Weight.Shape)
	}

	if layer1.Weight.Data[0] != 0.0 {
		t.Errorf("layer1.Weight.Data[0] = %f, want 0", layer1.Weight.Data[0])
	}
	if layer1.Weight.Data[1] != 0.001 {
		t.Errorf("layer1.Weight.Data[1] = %f, want 0.001", layer1.Weight.Data[1])
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	w1 := mat.NewDense(3, 2, []float64{1, 1, 2, -1, 4, 2})
	w2 := mat.NewDense(1, 3, []float64{2, 1, 0})
	d, err := net.New([]*mat.Dense{w1, w2}, [][]float64{{5, 4, 6}, {0.2}})
	if err != nil {
		t.Fatalf("net.New failed: %v", err)
	}

	mw := DescriptorToWeights(d)
	if len(mw.Layers) != 2 {
		t.Fatalf("Layers count = %d, want 2", len(mw.Layers))
	}

	back, err := DescriptorFromWeights(mw)
	if err != nil {
		t.Fatalf("DescriptorFromWeights failed: %v", err)
	}
	if back.LayerCount() != 2 {
		t.Errorf("LayerCount = %d, want 2", back.LayerCount())
	}
	if back.NodeCount(1) != 3 || back.NodeCount(2) != 1 {
		t.Errorf("node counts = %d, %d, want 3, 1", back.NodeCount(1), back.NodeCount(2))
	}
	if got := back.Weight(1).At(2, 0); got != 4 {
		t.Errorf("W1[2][0] = %f, want 4", got)
	}
	if got := back.Bias(2)[0]; got != 0.2 {
		t.Errorf("b2[0] = %f, want 0.2", got)
	}
}

func TestDescriptorFromWeightsMissingBias(t *testing.T) {
	mw := &ModelWeights{
		Version: "1",
		Layers: map[string]LayerWeight{
			"layer1": {
				Weight: &WeightData{Name: "layer1.weight", Shape: []int{2, 2}, Data: make([]float64, 4)},
			},
		},
	}
	if _, err := DescriptorFromWeights(mw); err == nil {
		t.Error("Expected error for missing bias")
	}
}

func TestSaveLoadBounds(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "bounds_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	boundsFile := filepath.Join(tmpDir, "bounds.json")
	b := &BoundsArtifact{
		Version: "1",
		Lower:   []float64{-1, -1, 3, 1, 2},
		Upper:   []float64{1, 1, 7, 5, 6},
	}
	if err := SaveBounds(boundsFile, b); err != nil {
		t.Fatalf("SaveBounds failed: %v", err)
	}
	loaded, err := LoadBounds(boundsFile)
	if err != nil {
		t.Fatalf("LoadBounds failed: %v", err)
	}
	if len(loaded.Lower) != 5 || loaded.Lower[2] != 3 || loaded.Upper[4] != 6 {
		t.Errorf("round-trip mismatch: %+v", loaded)
	}
}

func TestLoadWeightsNotFound(t *testing.T) {
	_, err := LoadWeights("/nonexistent/path/weights.json")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestLoadWeightsInvalidJSON(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "weights_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	badFile := filepath.Join(tmpDir, "bad.json")
	err = os.WriteFile(badFile, []byte("not valid json"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	_, err = LoadWeights(badFile)
	if err == nil {
		t.Error("Expected error for invalid JSON")
	}
}
