package dist

import (
	"errors"
	"fmt"
	"io"
	gonet "net"

	"bigm_lib/bounds"
	"bigm_lib/mip"
	"bigm_lib/net"
	"bigm_lib/tighten"
)

// DialWorkers connects to each worker address over TCP. The returned cleanup
// closes every connection that was opened, including on partial failure.
func DialWorkers(addrs []string) ([]io.ReadWriter, func(), error) {
	var conns []gonet.Conn
	cleanup := func() {
		for _, c := range conns {
			c.Close()
		}
	}
	for _, addr := range addrs {
		conn, err := gonet.Dial("tcp", addr)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("dist: dial %s: %w", addr, err)
		}
		conns = append(conns, conn)
	}
	rws := make([]io.ReadWriter, len(conns))
	for i, c := range conns {
		rws[i] = c
	}
	return rws, cleanup, nil
}

// Coordinator owns the bound store for a distributed run and drives a set of
// worker connections. It is the only party that ever writes a bound.
type Coordinator struct {
	desc    *net.Descriptor
	workers []*Protocol
	opts    tighten.Options
}

// NewCoordinator hands the network and solve options to every worker and
// returns a coordinator ready to run.
func NewCoordinator(desc *net.Descriptor, conns []io.ReadWriter, opts tighten.Options) (*Coordinator, error) {
	if len(conns) == 0 {
		return nil, fmt.Errorf("dist: no worker connections")
	}
	c := &Coordinator{desc: desc, opts: opts}
	init := InitPayload{
		Layers:    DescriptorPayload(desc),
		TimeLimit: int64(opts.TimeLimit),
		Verbose:   opts.Verbose,
	}
	for _, conn := range conns {
		p := NewProtocol(conn, conn)
		if err := p.Send(&Message{Type: MsgInit, Payload: init}); err != nil {
			return nil, fmt.Errorf("dist: worker init send: %w", err)
		}
		c.workers = append(c.workers, p)
	}
	return c, nil
}

// Run tightens the store with the configured distributed strategy.
func (c *Coordinator) Run(store *bounds.Store) error {
	switch c.opts.Strategy {
	case tighten.DistFine:
		return c.runFine(store)
	case tighten.DistCoarse:
		return c.runCoarse(store)
	default:
		return fmt.Errorf("dist: strategy %s is not distributed", c.opts.Strategy)
	}
}

// Close tells every worker to shut down. The connections themselves belong
// to the caller.
func (c *Coordinator) Close() error {
	var first error
	for _, w := range c.workers {
		if err := w.SendDone(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// remoteError turns a worker's error payload back into a local error,
// restoring the fatal bound-problem type when the worker flagged it.
func remoteError(payload interface{}) error {
	ep, ok := payload.(ErrorPayload)
	if !ok {
		return fmt.Errorf("dist: remote error with invalid payload")
	}
	if ep.Infeasible {
		return &tighten.InfeasibleBoundProblemError{
			Layer:  ep.Layer,
			Node:   ep.Node,
			Dir:    bounds.Direction(ep.Dir),
			Status: mip.Status(ep.Status),
			Err:    errors.New(ep.Text),
		}
	}
	return fmt.Errorf("dist: remote error: %s", ep.Text)
}
