package utils

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"bigm_lib/net"
)

// WeightData is one flattened tensor of the artifact: row-major values plus
// their shape.
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelWeights is the on-disk network artifact, layers keyed "layer1".."layerK".
type ModelWeights struct {
	Version string                 `json:"version"`
	Layers  map[string]LayerWeight `json:"layers"`
}

// LayerWeight pairs a layer's weight matrix with its bias vector.
type LayerWeight struct {
	Weight *WeightData `json:"weight,omitempty"`
	Bias   *WeightData `json:"bias,omitempty"`
}

// SaveWeights writes a weights artifact as indented JSON.
func SaveWeights(filepath string, weights *ModelWeights) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadWeights reads a weights artifact back from disk.
func LoadWeights(filepath string) (*ModelWeights, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	return &weights, nil
}

// layerKey is the canonical map key for layer k (1-based).
func layerKey(k int) string { return fmt.Sprintf("layer%d", k) }

// DescriptorFromWeights assembles a network descriptor from a weights
// artifact. Layers are keyed "layer1".."layerK", each with a 2-D weight
// matrix and a bias vector.
func DescriptorFromWeights(mw *ModelWeights) (*net.Descriptor, error) {
	var weights []*mat.Dense
	var biases [][]float64
	for k := 1; ; k++ {
		lw, ok := mw.Layers[layerKey(k)]
		if !ok {
			break
		}
		if lw.Weight == nil || lw.Bias == nil {
			return nil, fmt.Errorf("layer %d: missing weight or bias", k)
		}
		if len(lw.Weight.Shape) != 2 {
			return nil, fmt.Errorf("layer %d: weight shape %v is not 2-D", k, lw.Weight.Shape)
		}
		rows, cols := lw.Weight.Shape[0], lw.Weight.Shape[1]
		if rows*cols != len(lw.Weight.Data) {
			return nil, fmt.Errorf("layer %d: weight data length %d does not match shape %v",
				k, len(lw.Weight.Data), lw.Weight.Shape)
		}
		weights = append(weights, mat.NewDense(rows, cols, append([]float64(nil), lw.Weight.Data...)))
		biases = append(biases, append([]float64(nil), lw.Bias.Data...))
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("no layers found (expected keys layer1..layerK)")
	}
	return net.New(weights, biases)
}

// DescriptorToWeights converts a descriptor back into the artifact schema.
func DescriptorToWeights(d *net.Descriptor) *ModelWeights {
	mw := &ModelWeights{Version: "1", Layers: make(map[string]LayerWeight)}
	for k := 1; k <= d.LayerCount(); k++ {
		w := d.Weight(k)
		rows, cols := w.Dims()
		data := make([]float64, 0, rows*cols)
		for i := 0; i < rows; i++ {
			data = append(data, w.RawRowView(i)...)
		}
		mw.Layers[layerKey(k)] = LayerWeight{
			Weight: &WeightData{Name: layerKey(k) + ".weight", Shape: []int{rows, cols}, Data: data},
			Bias:   &WeightData{Name: layerKey(k) + ".bias", Shape: []int{rows}, Data: append([]float64(nil), d.Bias(k)...)},
		}
	}
	return mw
}

// BoundsArtifact is the output of a tightening run: flattened lower and
// upper vectors over all nodes, input layer first.
type BoundsArtifact struct {
	Version string    `json:"version"`
	Lower   []float64 `json:"lower"`
	Upper   []float64 `json:"upper"`
}

// SaveBounds writes a bounds artifact as indented JSON.
func SaveBounds(filepath string, b *BoundsArtifact) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bounds: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadBounds reads a bounds artifact back from disk.
func LoadBounds(filepath string) (*BoundsArtifact, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read bounds file: %w", err)
	}
	var b BoundsArtifact
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bounds: %w", err)
	}
	return &b, nil
}
