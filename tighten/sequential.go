package tighten

import (
	"time"

	"github.com/golang/glog"

	"bigm_lib/bounds"
	"bigm_lib/net"
)

// runSequential walks the layers in order. One model is built per layer and
// reused for all of its nodes through constraint scopes.
func runSequential(desc *net.Descriptor, store *bounds.Store, opts Options, rec *statsRecorder) error {
	for k := 1; k <= desc.LayerCount(); k++ {
		layerStart := time.Now()

		lm, err := buildLayerModel(desc, store, k, opts.solverOptions())
		if err != nil {
			return err
		}
		rec.addBuild(time.Since(layerStart))

		for j := 0; j < desc.NodeCount(k); j++ {
			if err := tightenNode(desc, store, lm, j, rec); err != nil {
				return err
			}
		}
		if err := store.Freeze(k); err != nil {
			return err
		}

		rec.addLayer(time.Since(layerStart))
		if opts.Verbose {
			glog.V(1).Infof("tighten: layer %d/%d finalized in %v (%d nodes)",
				k, desc.LayerCount(), time.Since(layerStart), desc.NodeCount(k))
		}
	}
	return nil
}
