// Package dist runs bound tightening across processes: a coordinator owns
// the bound store and ships subproblems to workers over a gob stream. Workers
// are pure functions of their inputs; all writeback happens on the
// coordinator, in node order, so distributed runs produce the same bounds as
// the in-process strategies.
package dist

import (
	"encoding/gob"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"

	"bigm_lib/bounds"
	"bigm_lib/net"
)

func init() {
	// Register types for gob encoding
	gob.Register(InitPayload{})
	gob.Register(LayerPayload{})
	gob.Register(TaskPayload{})
	gob.Register(TaskResultPayload{})
	gob.Register(LayerJobPayload{})
	gob.Register(LayerResultPayload{})
	gob.Register(ErrorPayload{})
}

// MessageType defines message types for the tightening protocol
type MessageType int

const (
	MsgInit MessageType = iota
	MsgLayer
	MsgTask
	MsgTaskResult
	MsgLayerJob
	MsgLayerResult
	MsgDone
	MsgError
)

// Message represents a message in the tightening protocol
type Message struct {
	Type    MessageType
	Payload interface{}
}

// LayerParams carries one layer's weights in row-major order.
type LayerParams struct {
	Rows, Cols int
	W          []float64
	B          []float64
}

// InitPayload is sent once per connection: the network and the solve knobs.
type InitPayload struct {
	Layers    []LayerParams
	TimeLimit int64 // nanoseconds per bound problem; zero means no limit
	Verbose   bool
}

// LayerPayload prepares a worker for fine-grained tasks on one target layer.
// Lower and Upper are the full flattened bound vectors at the start of the
// layer; everything below Layer is final.
type LayerPayload struct {
	Layer        int
	Lower, Upper []float64
}

// TaskPayload asks for one bound: node Node of the prepared layer, direction
// Dir (0 lower, 1 upper).
type TaskPayload struct {
	Node int
	Dir  int
}

// TaskResultPayload answers one task. Skipped means the solve hit its time
// limit with no incumbent and the prior bound must be kept.
type TaskResultPayload struct {
	Node    int
	Dir     int
	Value   float64
	Skipped bool
}

// LayerJobPayload asks a coarse-grained worker for one whole direction of a
// layer.
type LayerJobPayload struct {
	Layer        int
	Dir          int
	Lower, Upper []float64
}

// LayerResultPayload answers a layer job with the full bound array for the
// direction, plus the node indices that were skipped.
type LayerResultPayload struct {
	Layer   int
	Dir     int
	Values  []float64
	Skipped []int
}

// ErrorPayload reports a worker-side failure. Infeasible marks the fatal
// bound-problem case so the coordinator can surface it with its type intact.
type ErrorPayload struct {
	Text       string
	Layer      int
	Node       int
	Dir        int
	Status     int
	Infeasible bool
}

// Protocol handles coordinator/worker communication
type Protocol struct {
	encoder *gob.Encoder
	decoder *gob.Decoder
}

// NewProtocol creates a new protocol handler
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	return &Protocol{
		encoder: gob.NewEncoder(w),
		decoder: gob.NewDecoder(r),
	}
}

// Send sends a message
func (p *Protocol) Send(msg *Message) error {
	return p.encoder.Encode(msg)
}

// Receive receives a message
func (p *Protocol) Receive() (*Message, error) {
	var msg Message
	if err := p.decoder.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendDone signals completion
func (p *Protocol) SendDone() error {
	return p.Send(&Message{Type: MsgDone})
}

// DescriptorPayload flattens a descriptor for the wire.
func DescriptorPayload(desc *net.Descriptor) []LayerParams {
	layers := make([]LayerParams, desc.LayerCount())
	for k := 1; k <= desc.LayerCount(); k++ {
		w := desc.Weight(k)
		rows, cols := w.Dims()
		data := make([]float64, 0, rows*cols)
		for i := 0; i < rows; i++ {
			data = append(data, w.RawRowView(i)...)
		}
		layers[k-1] = LayerParams{
			Rows: rows,
			Cols: cols,
			W:    data,
			B:    append([]float64(nil), desc.Bias(k)...),
		}
	}
	return layers
}

// PayloadDescriptor rebuilds a descriptor from wire form.
func PayloadDescriptor(layers []LayerParams) (*net.Descriptor, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("dist: init payload has no layers")
	}
	weights := make([]*mat.Dense, len(layers))
	biases := make([][]float64, len(layers))
	for i, lp := range layers {
		if lp.Rows*lp.Cols != len(lp.W) {
			return nil, fmt.Errorf("dist: layer %d weight length %d, want %d", i+1, len(lp.W), lp.Rows*lp.Cols)
		}
		weights[i] = mat.NewDense(lp.Rows, lp.Cols, append([]float64(nil), lp.W...))
		biases[i] = append([]float64(nil), lp.B...)
	}
	return net.New(weights, biases)
}

// snapshotStore rebuilds a store whose layers below target are frozen at the
// shipped values. The target layer and everything above stay pending.
func snapshotStore(desc *net.Descriptor, lower, upper []float64, target int) (*bounds.Store, error) {
	store, err := bounds.NewWithInitial(desc, lower, upper)
	if err != nil {
		return nil, err
	}
	for l := 1; l < target; l++ {
		if err := store.Finalize(l); err != nil {
			return nil, err
		}
	}
	return store, nil
}
