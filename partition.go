package framegraph

// EncoderInfo describes one command encoder of the partition plan: a
// maximal run of consecutive passes that share an encoder type (and, for
// draw passes, a merged render target).
type EncoderInfo struct {
	// Name joins the names of the passes in the encoder.
	Name string

	// Type is the encoder's pass type. CPU passes never reach an
	// encoder.
	Type PassType

	// RenderTarget is the merged descriptor for draw encoders, nil
	// otherwise.
	RenderTarget *RenderTargetDescriptor

	// CommandBuffer is the index of the owning command buffer.
	CommandBuffer int

	// FirstPass and LastPass delimit the encoder's pass-index range.
	FirstPass, LastPass int

	// First and Last delimit the encoder's global command-index range.
	First, Last int

	// QueueWaits holds, per queue, the submit-index value this encoder's
	// command buffer must observe before the encoder may begin. Zero
	// means no wait. Populated during dependency generation from
	// persistent-resource cross-queue ordering.
	QueueWaits []uint64
}

// commandBufferInfo describes one command buffer of the partition plan.
type commandBufferInfo struct {
	// Queue the buffer is submitted to.
	Queue QueueID

	// External marks buffers owned by an external pass.
	External bool

	// FirstEncoder and LastEncoder delimit the encoder-index range.
	FirstEncoder, LastEncoder int

	// SubmitValue is the value the owning queue's submission counter
	// reaches when this buffer is submitted. Assigned during planning so
	// cross-queue waits can reference buffers that have not been
	// submitted yet.
	SubmitValue uint64
}

// partitionPlan is the output of partitioning: every active pass mapped
// to an encoder, every encoder to a command buffer.
type partitionPlan struct {
	encoders []EncoderInfo
	buffers  []commandBufferInfo
}

// partition assigns each active pass a monotonically increasing encoder
// index and each encoder a command-buffer index.
//
// A new encoder starts when the pass type changes, when a draw pass
// targets a different merged render target (compared by descriptor ID),
// or at any window-texture or external transition. Command buffers are
// coarser: only external/non-external transitions, window-texture
// transitions, and queue changes force a new buffer.
//
// CPU passes are invisible here: they occupy no encoder. An empty (or
// fully culled) pass list yields zero encoders and zero buffers.
func partition(passes []*PassRecord, targets []*RenderTargetDescriptor, queueCount int, baseSubmit []uint64) partitionPlan {
	var plan partitionPlan

	rtID := func(i int) int {
		if targets[i] == nil {
			return 0
		}
		return targets[i].ID
	}

	var prev *PassRecord
	prevRT := 0
	for i, p := range passes {
		if !p.active || p.typ == PassCPU {
			continue
		}

		newEncoder := prev == nil ||
			p.typ != prev.typ ||
			(p.typ == PassDraw && rtID(i) != prevRT) ||
			p.usesWindow != prev.usesWindow ||
			p.queue != prev.queue

		if newEncoder {
			newBuffer := prev == nil ||
				(p.typ == PassExternal) != (prev.typ == PassExternal) ||
				p.usesWindow != prev.usesWindow ||
				p.queue != prev.queue

			if newBuffer {
				plan.buffers = append(plan.buffers, commandBufferInfo{
					Queue:        p.queue,
					External:     p.typ == PassExternal,
					FirstEncoder: len(plan.encoders),
					LastEncoder:  len(plan.encoders),
				})
			}

			buf := len(plan.buffers) - 1
			plan.encoders = append(plan.encoders, EncoderInfo{
				Name:          p.name,
				Type:          p.typ,
				RenderTarget:  targets[i],
				CommandBuffer: buf,
				FirstPass:     p.index,
				LastPass:      p.index,
				First:         p.first,
				Last:          p.last,
				QueueWaits:    make([]uint64, queueCount),
			})
			plan.buffers[buf].LastEncoder = len(plan.encoders) - 1
		} else {
			enc := &plan.encoders[len(plan.encoders)-1]
			enc.Name += "+" + p.name
			enc.LastPass = p.index
			enc.Last = p.last
		}

		p.encoder = len(plan.encoders) - 1
		prev = p
		prevRT = rtID(i)
	}

	// Assign planned submit values: per queue, buffers submit in plan
	// order starting after the queue's current counter.
	next := make([]uint64, queueCount)
	copy(next, baseSubmit)
	for i := range plan.buffers {
		q := plan.buffers[i].Queue
		next[q]++
		plan.buffers[i].SubmitValue = next[q]
	}

	return plan
}

// encoderForCommand returns the encoder index covering the given global
// command index, or -1 when none does.
func (p *partitionPlan) encoderForCommand(cmd int) int {
	lo, hi := 0, len(p.encoders)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case cmd < p.encoders[mid].First:
			hi = mid
		case cmd > p.encoders[mid].Last:
			lo = mid + 1
		default:
			return mid
		}
	}
	return -1
}
