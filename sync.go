package framegraph

// synthesizeFences converts the reduced dependency table and the
// heap-aliasing wait list into concrete fence update/wait command pairs.
//
// Per producer encoder with outgoing reduced edges, exactly one fence is
// created, signaled at the maximum signal command index with the union of
// signal stages among its dependents; each dependent encoder waits on it
// at its minimum wait index. Fences are pooled generational handles whose
// reference count covers every waiting encoder plus the producer, so a
// slot recycles only once nothing can still touch it.
func (c *compilation) synthesizeFences() {
	fences := &c.graph.fences

	// Hazard fences from the reduced dependency table. A fence only
	// orders encoders submitted to the same queue; a dependent on a
	// different queue is ordered through the producing queue's submit
	// counter instead (native event wait or spin fallback at execution).
	for producer, consumers := range c.deps.producers() {
		producerQueue := c.queueOf(producer)

		var fenced []int
		for _, consumer := range consumers {
			if c.queueOf(consumer) == producerQueue {
				fenced = append(fenced, consumer)
				continue
			}
			enc := &c.plan.encoders[consumer]
			if v := c.submitValueOf(producer); v > enc.QueueWaits[producerQueue] {
				enc.QueueWaits[producerQueue] = v
			}
		}
		if len(fenced) == 0 {
			continue
		}

		signalIndex := -1
		var signalStages Stage
		for _, consumer := range fenced {
			dep := c.deps.get(producer, consumer)
			if dep.SignalIndex > signalIndex {
				signalIndex = dep.SignalIndex
			}
			signalStages |= dep.SignalStages
		}

		h := fences.alloc(producerQueue, c.submitValueOf(producer), int32(len(fenced))+1)
		c.frameFences = append(c.frameFences, h)

		c.raw.add(Command{
			Type:    CmdUpdateFence,
			Index:   signalIndex,
			Order:   OrderAfter,
			Encoder: producer,
			After:   signalStages,
			Fence:   h,
		})

		for _, consumer := range fenced {
			dep := c.deps.get(producer, consumer)
			c.raw.add(Command{
				Type:    CmdWaitFence,
				Index:   dep.WaitIndex,
				Order:   OrderBefore,
				Encoder: consumer,
				Before:  dep.WaitStages,
				Fence:   h,
			})
		}
		c.stats.Fences++
	}

	// Heap-aliasing fences: each distinct completion point of a previous
	// occupant becomes a fence the new occupant waits on before first
	// use. Points are keyed per (encoder, index) so two occupants
	// recording the same point share one fence.
	type pointKey struct {
		encoder, index int
	}
	pointFences := make(map[pointKey]FenceHandle)
	for _, aw := range c.aliasWaits {
		for _, pt := range aw.points {
			key := pointKey{pt.encoder, pt.index}
			h, ok := pointFences[key]
			if !ok {
				h = fences.alloc(c.queueOf(pt.encoder), c.submitValueOf(pt.encoder), 1)
				pointFences[key] = h
				c.frameFences = append(c.frameFences, h)
				c.raw.add(Command{
					Type:    CmdUpdateFence,
					Index:   pt.index,
					Order:   OrderAfter,
					Encoder: pt.encoder,
					After:   pt.stages,
					Fence:   h,
				})
				c.stats.Fences++
			}
			fences.retain(h)
			if aw.resource.heap != nil {
				aw.resource.heap.pendingFences = append(aw.resource.heap.pendingFences, h)
			}
			c.raw.add(Command{
				Type:    CmdWaitFence,
				Index:   aw.waitIndex,
				Order:   OrderBefore,
				Encoder: aw.encoder,
				Before:  aw.waitStages,
				Fence:   h,
			})
		}
	}
}
