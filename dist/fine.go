package dist

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"bigm_lib/bounds"
)

type fineTask struct {
	node, dir int
}

// runFine ships individual (node, direction) problems to the workers. Each
// connection is driven by its own goroutine in strict request-reply order, so
// a slow worker never blocks the others. Results land in per-direction
// arrays and are written back in node order only after the whole layer has
// answered; the store then freezes the layer before the next one starts.
func (c *Coordinator) runFine(store *bounds.Store) error {
	for k := 1; k <= c.desc.LayerCount(); k++ {
		layerStart := time.Now()
		lower, upper := store.Lower(), store.Upper()
		n := c.desc.NodeCount(k)

		// Round-robin assignment over (node, direction) pairs.
		assigned := make([][]fineTask, len(c.workers))
		i := 0
		for j := 0; j < n; j++ {
			for _, d := range []int{int(bounds.Lower), int(bounds.Upper)} {
				assigned[i%len(c.workers)] = append(assigned[i%len(c.workers)], fineTask{j, d})
				i++
			}
		}

		vals := make([][2]float64, n)
		skipped := make([][2]bool, n)
		errCh := make(chan error, len(c.workers))
		var wg sync.WaitGroup
		for wi, p := range c.workers {
			if len(assigned[wi]) == 0 {
				continue
			}
			wg.Add(1)
			go func(p *Protocol, tasks []fineTask) {
				defer wg.Done()
				layerMsg := &Message{Type: MsgLayer, Payload: LayerPayload{Layer: k, Lower: lower, Upper: upper}}
				if err := p.Send(layerMsg); err != nil {
					errCh <- err
					return
				}
				for _, tk := range tasks {
					if err := p.Send(&Message{Type: MsgTask, Payload: TaskPayload{Node: tk.node, Dir: tk.dir}}); err != nil {
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
					res, ok := msg.Payload.(TaskResultPayload)
					if msg.Type != MsgTaskResult || !ok {
						errCh <- fmt.Errorf("dist: expected task result, got message type %d", msg.Type)
						return
					}
					vals[res.Node][res.Dir] = res.Value
					skipped[res.Node][res.Dir] = res.Skipped
				}
			}(p, assigned[wi])
		}
		wg.Wait()
		close(errCh)
		if err := <-errCh; err != nil {
			return err
		}

		for j := 0; j < n; j++ {
			if err := writeBack(store, k, j, bounds.Lower, vals[j][bounds.Lower], skipped[j][bounds.Lower]); err != nil {
				return err
			}
			if err := writeBack(store, k, j, bounds.Upper, vals[j][bounds.Upper], skipped[j][bounds.Upper]); err != nil {
				return err
			}
		}
		if err := store.Freeze(k); err != nil {
			return err
		}
		glog.V(1).Infof("dist: layer %d/%d finalized in %v (%d nodes, %d workers)",
			k, c.desc.LayerCount(), time.Since(layerStart), n, len(c.workers))
	}
	return nil
}

func writeBack(store *bounds.Store, layer, node int, dir bounds.Direction, v float64, skip bool) error {
	if skip {
		return store.Skip(layer, node, dir)
	}
	if dir == bounds.Lower {
		return store.SetLower(layer, node, v)
	}
	return store.SetUpper(layer, node, v)
}
