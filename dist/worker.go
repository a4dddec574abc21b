package dist

import (
	"errors"
	"fmt"
	"io"
	gonet "net"
	"time"

	"github.com/golang/glog"

	"bigm_lib/bounds"
	"bigm_lib/mip"
	"bigm_lib/net"
	"bigm_lib/tighten"
)

// ListenAndServe accepts coordinator connections on a TCP address and serves
// each one on its own goroutine. It only returns when the listener fails.
func ListenAndServe(addr string) error {
	ln, err := gonet.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dist: listen on %s: %w", addr, err)
	}
	glog.Infof("dist: worker listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("dist: accept: %w", err)
		}
		go func(conn gonet.Conn) {
			defer conn.Close()
			if err := Serve(conn); err != nil {
				glog.Errorf("dist: connection from %s: %v", conn.RemoteAddr(), err)
			}
		}(conn)
	}
}

// Worker answers bound-problem requests over one connection. It holds no
// shared state: every layer it works on arrives as a snapshot, and results
// flow back over the same stream.
type Worker struct {
	proto  *Protocol
	desc   *net.Descriptor
	solver mip.Options

	// current fine-grained assignment, set by MsgLayer
	store *bounds.Store
	layer int
}

// Serve runs the worker loop on one connection until the coordinator sends
// MsgDone or the stream breaks. The first message must be MsgInit.
func Serve(conn io.ReadWriter) error {
	p := NewProtocol(conn, conn)

	msg, err := p.Receive()
	if err != nil {
		return fmt.Errorf("dist: worker init receive: %w", err)
	}
	if msg.Type != MsgInit {
		return fmt.Errorf("dist: expected init message, got %d", msg.Type)
	}
	init, ok := msg.Payload.(InitPayload)
	if !ok {
		return fmt.Errorf("dist: invalid init payload type")
	}
	desc, err := PayloadDescriptor(init.Layers)
	if err != nil {
		return err
	}

	w := &Worker{
		proto: p,
		desc:  desc,
		solver: mip.Options{
			Verbose:   init.Verbose,
			TimeLimit: time.Duration(init.TimeLimit),
		},
	}
	return w.loop()
}

func (w *Worker) loop() error {
	for {
		msg, err := w.proto.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("dist: worker receive: %w", err)
		}

		switch msg.Type {
		case MsgLayer:
			err = w.prepareLayer(msg)
		case MsgTask:
			err = w.handleTask(msg)
		case MsgLayerJob:
			err = w.handleLayerJob(msg)
		case MsgDone:
			return nil
		default:
			err = fmt.Errorf("dist: unexpected message type %d", msg.Type)
		}
		if err != nil {
			return err
		}
	}
}

func (w *Worker) prepareLayer(msg *Message) error {
	payload, ok := msg.Payload.(LayerPayload)
	if !ok {
		return fmt.Errorf("dist: invalid layer payload type")
	}
	store, err := snapshotStore(w.desc, payload.Lower, payload.Upper, payload.Layer)
	if err != nil {
		return err
	}
	w.store = store
	w.layer = payload.Layer
	return nil
}

func (w *Worker) handleTask(msg *Message) error {
	payload, ok := msg.Payload.(TaskPayload)
	if !ok {
		return fmt.Errorf("dist: invalid task payload type")
	}
	if w.store == nil {
		return fmt.Errorf("dist: task before layer preparation")
	}

	// One model per task; nothing carries over between solves.
	problem, err := tighten.NewLayerProblem(w.desc, w.store, w.layer, w.solver)
	if err != nil {
		return err
	}
	v, solved, err := problem.SolveNode(payload.Node, bounds.Direction(payload.Dir))
	if err != nil {
		return w.sendFailure(err)
	}
	return w.proto.Send(&Message{Type: MsgTaskResult, Payload: TaskResultPayload{
		Node:    payload.Node,
		Dir:     payload.Dir,
		Value:   v,
		Skipped: !solved,
	}})
}

func (w *Worker) handleLayerJob(msg *Message) error {
	payload, ok := msg.Payload.(LayerJobPayload)
	if !ok {
		return fmt.Errorf("dist: invalid layer job payload type")
	}
	store, err := snapshotStore(w.desc, payload.Lower, payload.Upper, payload.Layer)
	if err != nil {
		return err
	}
	problem, err := tighten.NewLayerProblem(w.desc, store, payload.Layer, w.solver)
	if err != nil {
		return err
	}

	dir := bounds.Direction(payload.Dir)
	n := w.desc.NodeCount(payload.Layer)
	result := LayerResultPayload{Layer: payload.Layer, Dir: payload.Dir, Values: make([]float64, n)}
	for j := 0; j < n; j++ {
		v, solved, err := problem.SolveNode(j, dir)
		if err != nil {
			return w.sendFailure(err)
		}
		if !solved {
			result.Skipped = append(result.Skipped, j)
			continue
		}
		result.Values[j] = v
	}
	glog.V(1).Infof("dist: worker finished %s pass of layer %d (%d nodes, %d skipped)",
		dir, payload.Layer, n, len(result.Skipped))
	return w.proto.Send(&Message{Type: MsgLayerResult, Payload: result})
}

// sendFailure reports a solve failure to the coordinator and then returns it
// locally so the worker loop winds down.
func (w *Worker) sendFailure(err error) error {
	payload := ErrorPayload{Text: err.Error()}
	var fatal *tighten.InfeasibleBoundProblemError
	if errors.As(err, &fatal) {
		payload.Infeasible = true
		payload.Layer = fatal.Layer
		payload.Node = fatal.Node
		payload.Dir = int(fatal.Dir)
		payload.Status = int(fatal.Status)
	}
	if sendErr := w.proto.Send(&Message{Type: MsgError, Payload: payload}); sendErr != nil {
		return sendErr
	}
	return err
}
