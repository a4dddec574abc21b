package dist

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"bigm_lib/bounds"
)

// runCoarse needs exactly two workers: per layer, one sweeps every lower
// bound and the other every upper bound, each against its own snapshot and a
// model reused across the layer's nodes. The two returned arrays touch
// disjoint directions, so the merge cannot conflict.
func (c *Coordinator) runCoarse(store *bounds.Store) error {
	if len(c.workers) != 2 {
		return fmt.Errorf("dist: coarse strategy needs exactly 2 workers, have %d", len(c.workers))
	}

	for k := 1; k <= c.desc.LayerCount(); k++ {
		layerStart := time.Now()
		lower, upper := store.Lower(), store.Upper()

		var results [2]LayerResultPayload
		errCh := make(chan error, 2)
		var wg sync.WaitGroup
		for dir := 0; dir < 2; dir++ {
			wg.Add(1)
			go func(dir int) {
				defer wg.Done()
				p := c.workers[dir]
				job := &Message{Type: MsgLayerJob, Payload: LayerJobPayload{
					Layer: k, Dir: dir, Lower: lower, Upper: upper,
				}}
				if err := p.Send(job); err != nil {
					errCh <- err
					return
				}
				msg, err := p.Receive()
				if err != nil {
					errCh <- err
					return
				}
				if msg.Type == MsgError {
					errCh <- remoteError(msg.Payload)
					return
				}
				res, ok := msg.Payload.(LayerResultPayload)
				if msg.Type != MsgLayerResult || !ok {
					errCh <- fmt.Errorf("dist: expected layer result, got message type %d", msg.Type)
					return
				}
				if res.Layer != k || res.Dir != dir {
					errCh <- fmt.Errorf("dist: layer result for (%d,%d), want (%d,%d)", res.Layer, res.Dir, k, dir)
					return
				}
				results[dir] = res
			}(dir)
		}
		wg.Wait()
		close(errCh)
		if err := <-errCh; err != nil {
			return err
		}

		if err := store.AdoptLower(k, results[bounds.Lower].Values, results[bounds.Lower].Skipped); err != nil {
			return err
		}
		if err := store.AdoptUpper(k, results[bounds.Upper].Values, results[bounds.Upper].Skipped); err != nil {
			return err
		}
		if err := store.Freeze(k); err != nil {
			return err
		}
		glog.V(1).Infof("dist: layer %d/%d finalized in %v (min/max split)",
			k, c.desc.LayerCount(), time.Since(layerStart))
	}
	return nil
}
