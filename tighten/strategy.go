// Package tighten computes optimization-based activation bounds for a ReLU
// network: one small mixed-integer problem per node and direction, scheduled
// layer by layer so that every subproblem only ever reads finalized bounds.
package tighten

import (
	"fmt"
	"time"

	"bigm_lib/bounds"
	"bigm_lib/mip"
	"bigm_lib/net"
	"bigm_lib/utils"
)

// Strategy selects how the per-node bound problems are scheduled.
type Strategy int

const (
	// Sequential solves every problem on the calling goroutine, reusing one
	// model per layer.
	Sequential Strategy = iota
	// Threads fans the nodes of a layer out over worker goroutines with a
	// full barrier between layers.
	Threads
	// DistFine ships individual node problems to remote workers (dist package).
	DistFine
	// DistCoarse splits each layer between exactly two remote workers, one
	// per direction (dist package).
	DistCoarse
)

func (s Strategy) String() string {
	switch s {
	case Sequential:
		return "sequential"
	case Threads:
		return "threads"
	case DistFine:
		return "dist-fine"
	case DistCoarse:
		return "dist-coarse"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a config string to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "sequential":
		return Sequential, nil
	case "threads":
		return Threads, nil
	case "dist-fine":
		return DistFine, nil
	case "dist-coarse":
		return DistCoarse, nil
	default:
		return 0, fmt.Errorf("tighten: unknown strategy %q", name)
	}
}

// Options configure a tightening run.
type Options struct {
	Strategy  Strategy
	TimeLimit time.Duration // per bound problem; zero means no limit
	Workers   int           // goroutines for Threads; <=0 means one per task
	Verbose   bool
	Stats     *utils.TightenStats // optional; filled in when non-nil
}

func (o Options) solverOptions() mip.Options {
	return mip.Options{Verbose: o.Verbose, TimeLimit: o.TimeLimit}
}

// Run tightens every bound in the store, hidden layers first, output layer
// last. All strategies produce identical bounds; they differ only in where
// the subproblems are solved. The distributed strategies need a coordinator
// with worker connections and live in the dist package; Run handles the
// in-process ones.
func Run(desc *net.Descriptor, store *bounds.Store, opts Options) error {
	start := time.Now()
	rec := newStatsRecorder(opts.Stats)

	var err error
	switch opts.Strategy {
	case Sequential:
		err = runSequential(desc, store, opts, rec)
	case Threads:
		err = runThreads(desc, store, opts, rec)
	default:
		err = fmt.Errorf("tighten: strategy %s needs a distributed coordinator", opts.Strategy)
	}

	if opts.Stats != nil {
		opts.Stats.TotalTime = time.Since(start)
	}
	return err
}
