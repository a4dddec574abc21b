// bigm-tighten: Computes tightened activation bounds for a ReLU network
//
// Usage:
//
//	bigm-tighten --weights=model.json --input-lower="-1 -1" --input-upper="1 1" \
//	             --strategy=threads --bounds-out=bounds.json
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"

	"bigm_lib/bounds"
	"bigm_lib/dist"
	"bigm_lib/net"
	"bigm_lib/prune"
	"bigm_lib/tighten"
	"bigm_lib/utils"
)

var (
	weightsFile  = flag.String("weights", "", "Network weights file (JSON)")
	boundsOut    = flag.String("bounds-out", "", "Output bounds file (JSON)")
	boundsIn     = flag.String("bounds-in", "", "Initial bounds file to re-tighten (JSON)")
	strategy     = flag.String("strategy", "sequential", "Scheduling strategy: sequential, threads, dist-fine, dist-coarse")
	workerAddrs  = flag.String("workers", "", "Comma-separated worker addresses for distributed strategies")
	threads      = flag.Int("threads", 0, "Worker goroutines for the threads strategy (0 = one per node)")
	timeLimit    = flag.Duration("timelimit", time.Second, "Per-problem solve time limit (0 = none)")
	defaultBound = flag.Float64("default-bound", 1e6, "Coarse fallback bound for untightened nodes")
	inputLower   = flag.String("input-lower", "", "Input domain lower bounds, whitespace separated")
	inputUpper   = flag.String("input-upper", "", "Input domain upper bounds, whitespace separated")
	doPrune      = flag.Bool("prune", false, "Prune the network against the tightened bounds")
	pruneDep     = flag.Bool("prune-dependence", false, "Also fold linearly dependent stable nodes")
	prunedOut    = flag.String("pruned-out", "", "Output weights file for the pruned network (JSON)")
	verbose      = flag.Bool("verbose", true, "Verbose output")
)

func main() {
	flag.Parse()
	defer glog.Flush()
	utils.Verbose = *verbose

	cfg, err := buildConfig()
	if err != nil {
		fail(err)
	}

	mw, err := utils.LoadWeights(cfg.WeightsPath)
	if err != nil {
		fail(err)
	}
	desc, err := utils.DescriptorFromWeights(mw)
	if err != nil {
		fail(err)
	}

	if *verbose {
		fmt.Printf("Network: %d layers, %d nodes\n", desc.LayerCount(), desc.TotalNodes())
		fmt.Printf("Strategy: %s\n", cfg.Strategy)
	}

	store, err := buildStore(desc, cfg)
	if err != nil {
		fail(err)
	}

	strat, err := tighten.ParseStrategy(cfg.Strategy)
	if err != nil {
		fail(err)
	}
	stats := &utils.TightenStats{}
	opts := tighten.Options{
		Strategy:  strat,
		TimeLimit: cfg.TimeLimit,
		Workers:   cfg.Workers,
		Verbose:   *verbose,
		Stats:     stats,
	}

	start := time.Now()
	switch strat {
	case tighten.Sequential, tighten.Threads:
		err = tighten.Run(desc, store, opts)
	default:
		err = runDistributed(desc, store, opts)
	}
	if err != nil {
		fail(err)
	}
	stats.TotalTime = time.Since(start)
	utils.PrintTightenStats(stats)

	if *boundsOut != "" {
		artifact := &utils.BoundsArtifact{Version: "1", Lower: store.Lower(), Upper: store.Upper()}
		if err := utils.SaveBounds(*boundsOut, artifact); err != nil {
			fail(err)
		}
		if *verbose {
			fmt.Printf("Bounds written to %s\n", *boundsOut)
		}
	}

	if cfg.Prune {
		popts := prune.DefaultOptions()
		popts.Dependence = *pruneDep
		pruned, report, err := prune.Run(desc, store, popts)
		if err != nil {
			fail(err)
		}
		fmt.Printf("Pruned %d nodes (deviation %.2e)\n", report.RemovedTotal, report.MaxDeviation)
		if !report.Consistent {
			// Soft failure: report it, keep going with the artifact anyway.
			fmt.Fprintf(os.Stderr, "warning: pruned network deviates beyond tolerance (%.2e)\n", report.MaxDeviation)
		}
		if *prunedOut != "" {
			if err := utils.SaveWeights(*prunedOut, utils.DescriptorToWeights(pruned)); err != nil {
				fail(err)
			}
			if *verbose {
				fmt.Printf("Pruned network written to %s\n", *prunedOut)
			}
		}
	}
}

func buildConfig() (*utils.Config, error) {
	lo, err := utils.ParseFloats(*inputLower)
	if err != nil {
		return nil, fmt.Errorf("bad --input-lower: %w", err)
	}
	hi, err := utils.ParseFloats(*inputUpper)
	if err != nil {
		return nil, fmt.Errorf("bad --input-upper: %w", err)
	}
	cfg := &utils.Config{
		WeightsPath:  *weightsFile,
		BoundsOut:    *boundsOut,
		Strategy:     *strategy,
		TimeLimit:    *timeLimit,
		Workers:      *threads,
		DefaultBound: *defaultBound,
		InputLower:   lo,
		InputUpper:   hi,
		Prune:        *doPrune,
	}
	if err := utils.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildStore seeds the bound store, either fresh from the input domain and
// the coarse default or from a previously written bounds artifact.
func buildStore(desc *net.Descriptor, cfg *utils.Config) (*bounds.Store, error) {
	if *boundsIn != "" {
		artifact, err := utils.LoadBounds(*boundsIn)
		if err != nil {
			return nil, err
		}
		return bounds.NewWithInitial(desc, artifact.Lower, artifact.Upper)
	}
	return bounds.New(desc, cfg.InputLower, cfg.InputUpper, cfg.DefaultBound)
}

func runDistributed(desc *net.Descriptor, store *bounds.Store, opts tighten.Options) error {
	if *workerAddrs == "" {
		return fmt.Errorf("distributed strategy %s needs --workers addresses", opts.Strategy)
	}
	conns, cleanup, err := dist.DialWorkers(strings.Split(*workerAddrs, ","))
	if err != nil {
		return err
	}
	defer cleanup()

	coord, err := dist.NewCoordinator(desc, conns, opts)
	if err != nil {
		return err
	}
	defer coord.Close()
	return coord.Run(store)
}

func fail(err error) {
	glog.Flush()
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
