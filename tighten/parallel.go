package tighten

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"bigm_lib/bounds"
	"bigm_lib/net"
)

type nodeTask struct {
	node int
	dir  bounds.Direction
}

// runThreads schedules each layer's (node, direction) pairs over a pool of
// worker goroutines. Every task builds its own model from the frozen prefix,
// so the only shared state is the bound store, whose mutex guards just the
// write. The WaitGroup is the barrier between layers: no task for layer k+1
// starts before layer k is frozen.
func runThreads(desc *net.Descriptor, store *bounds.Store, opts Options, rec *statsRecorder) error {
	for k := 1; k <= desc.LayerCount(); k++ {
		layerStart := time.Now()

		n := desc.NodeCount(k)
		workers := opts.Workers
		if workers <= 0 || workers > 2*n {
			workers = 2 * n
		}

		tasks := make(chan nodeTask, 2*n)
		for j := 0; j < n; j++ {
			tasks <- nodeTask{node: j, dir: bounds.Lower}
			tasks <- nodeTask{node: j, dir: bounds.Upper}
		}
		close(tasks)

		errCh := make(chan error, workers)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for t := range tasks {
					if err := solveTask(desc, store, k, t, opts, rec); err != nil {
						errCh <- err
						return
					}
				}
			}()
		}
		wg.Wait()
		close(errCh)
		if err := <-errCh; err != nil {
			return err
		}

		if err := store.Freeze(k); err != nil {
			return err
		}

		rec.addLayer(time.Since(layerStart))
		if opts.Verbose {
			glog.V(1).Infof("tighten: layer %d/%d finalized in %v (%d nodes, %d workers)",
				k, desc.LayerCount(), time.Since(layerStart), n, workers)
		}
	}
	return nil
}

// solveTask runs one (node, direction) bound problem on a fresh model and
// resolves it in the store.
func solveTask(desc *net.Descriptor, store *bounds.Store, k int, t nodeTask, opts Options, rec *statsRecorder) error {
	buildStart := time.Now()
	lm, err := buildLayerModel(desc, store, k, opts.solverOptions())
	if err != nil {
		return err
	}
	rec.addBuild(time.Since(buildStart))

	sc, err := lm.attachNode(desc, t.node)
	if err != nil {
		return err
	}
	defer sc.Release()
	lm.pointObjective(t.node, t.dir)

	v, ok, err := solveOne(lm.model, k, t.node, t.dir, rec)
	if err != nil {
		return err
	}
	if !ok {
		return store.Skip(k, t.node, t.dir)
	}
	if t.dir == bounds.Lower {
		return store.SetLower(k, t.node, v)
	}
	return store.SetUpper(k, t.node, v)
}
