package framegraph

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/framegraph/backend"
)

// executor walks the pass list against the partition plan: it opens and
// closes command buffers and encoders, interleaves compiled commands with
// each pass's native commands, and submits buffers with their cross-queue
// waits.
type executor struct {
	g *Graph
	c *compilation

	curBuf int
	cb     backend.CommandBuffer

	curEnc     int
	enc        backend.Encoder
	encSkipped bool

	// pendingDisposes are dispose commands deferred to encoder close.
	pendingDisposes []Command

	// spinWaits are cross-queue waits without a native event, performed
	// CPU-side just before committing the current buffer.
	spinWaits []spinWait

	// releases collects, per buffer, the fence handles whose references
	// drop when that buffer completes.
	releases [][]FenceHandle

	// skipped marks passes degraded out of the frame (drawable
	// unavailable).
	skipped map[*PassRecord]bool

	// remaining counts uncompleted buffers; the frame completion
	// callback fires when it reaches zero.
	remaining *atomic.Int32
	done      func()
}

// run executes a compiled frame. The completion callback is invoked
// exactly once when all GPU work has finished; an empty frame invokes it
// synchronously after running any CPU passes.
func (g *Graph) run(c *compilation, onComplete func()) error {
	if len(c.plan.buffers) == 0 {
		for _, p := range c.passes {
			if p.active && p.typ == PassCPU && p.cpu != nil {
				p.cpu()
			}
		}
		if onComplete != nil {
			onComplete()
		}
		return nil
	}

	ex := &executor{
		g:         g,
		c:         c,
		curBuf:    -1,
		curEnc:    -1,
		releases:  make([][]FenceHandle, len(c.plan.buffers)),
		skipped:   make(map[*PassRecord]bool),
		remaining: new(atomic.Int32),
		done:      onComplete,
	}
	ex.remaining.Store(int32(len(c.plan.buffers)))

	for _, p := range c.passes {
		if !p.active {
			continue
		}
		if p.typ == PassCPU {
			ex.runLifetimeRange(p.first, p.last)
			if p.cpu != nil {
				p.cpu()
			}
			continue
		}
		if err := ex.pass(p); err != nil {
			return err
		}
	}
	if ex.curBuf >= 0 {
		if err := ex.commitBuffer(); err != nil {
			return err
		}
	}
	return nil
}

type spinWait struct {
	queue QueueID
	value uint64
}

// pass executes one GPU pass: buffer/encoder transitions per the plan,
// then the interleaved command stream.
func (ex *executor) pass(p *PassRecord) error {
	info := &ex.c.plan.encoders[p.encoder]

	if info.CommandBuffer != ex.curBuf {
		if ex.curBuf >= 0 {
			if err := ex.commitBuffer(); err != nil {
				return err
			}
		}
		if err := ex.openBuffer(info.CommandBuffer); err != nil {
			return err
		}
	}
	if p.encoder != ex.curEnc {
		ex.closeEncoder()
		if err := ex.openEncoder(p.encoder); err != nil {
			return err
		}
	}

	for idx := p.first; idx <= p.last; idx++ {
		ex.runCompiledAt(idx, OrderBefore)
		if !ex.skipped[p] && !ex.encSkipped {
			ex.fireNative(p, idx-p.first)
		}
		ex.runCompiledAt(idx, OrderAfter)
	}
	return nil
}

// fireNative issues the pass's own GPU command for one slot.
func (ex *executor) fireNative(p *PassRecord, slot int) {
	switch p.typ {
	case PassDraw:
		if p.draw != nil {
			p.draw(ex.enc.(backend.RenderEncoder), slot)
		}
	case PassCompute:
		if p.compute != nil {
			p.compute(ex.enc.(backend.ComputeEncoder), slot)
		}
	case PassBlit:
		if p.blit != nil {
			p.blit(ex.enc.(backend.BlitEncoder), slot)
		}
	case PassExternal:
		// Recorded at encoder open.
	case PassCPU:
		// Never reaches an encoder.
	}
}

// openBuffer creates the native command buffer and encodes its
// cross-queue and same-queue ordering.
func (ex *executor) openBuffer(idx int) error {
	binfo := &ex.c.plan.buffers[idx]
	q := ex.g.queues[binfo.Queue]

	label := fmt.Sprintf("frame-%d/buffer-%d", ex.g.frame, idx)
	cb, err := q.native.NewCommandBuffer(label)
	if err != nil {
		return fmt.Errorf("framegraph: create command buffer: %w", err)
	}
	ex.cb = cb
	ex.curBuf = idx
	ex.spinWaits = ex.spinWaits[:0]

	// Cross-queue waits recorded on this buffer's encoders: native event
	// wait when available, CPU spin fallback otherwise.
	for e := binfo.FirstEncoder; e <= binfo.LastEncoder; e++ {
		for qi, v := range ex.c.plan.encoders[e].QueueWaits {
			if v == 0 || QueueID(qi) == binfo.Queue {
				continue
			}
			if ev := ex.g.queues[qi].event; ev != nil {
				cb.EncodeWait(ev, v)
			} else {
				ex.spinWaits = append(ex.spinWaits, spinWait{queue: QueueID(qi), value: v})
			}
		}
	}

	// Same-queue ordering across command buffers chains through the
	// queue's own event.
	if q.event != nil {
		if prev := binfo.SubmitValue - 1; prev > 0 {
			cb.EncodeWait(q.event, prev)
		}
		cb.EncodeSignal(q.event, binfo.SubmitValue)
	}
	return nil
}

// commitBuffer submits the current buffer and wires its completion into
// the frame's exactly-once callback.
func (ex *executor) commitBuffer() error {
	ex.closeEncoder()

	idx := ex.curBuf
	binfo := &ex.c.plan.buffers[idx]
	q := ex.g.queues[binfo.Queue]

	// CPU-side fallback waits must hold the submission itself: without a
	// native event there is no GPU-side way to stall the buffer.
	for _, w := range ex.spinWaits {
		ex.g.queues[w.queue].waitCompleted(w.value)
	}

	releases := ex.releases[idx]
	value := binfo.SubmitValue
	err := ex.cb.Commit(func() {
		q.markCompleted(value)
		for _, h := range releases {
			if native := ex.g.fences.release(h); native != nil {
				ex.g.device.DestroyFence(native)
			}
		}
		if ex.remaining.Add(-1) == 0 && ex.done != nil {
			ex.done()
		}
	})
	if err != nil {
		return fmt.Errorf("framegraph: commit buffer %d: %w", idx, err)
	}
	q.submitted.Store(value)
	ex.cb = nil
	ex.curBuf = -1
	return nil
}

// openEncoder materializes the encoder's resources, then opens the
// native encoder matching the pass type. A draw encoder whose render
// target lost its drawable is skipped: a substitute blit encoder carries
// only its fence traffic so dependents never deadlock.
func (ex *executor) openEncoder(e int) error {
	info := &ex.c.plan.encoders[e]
	ex.curEnc = e
	ex.encSkipped = false

	poolFences := ex.runMaterializes(info)

	switch info.Type {
	case PassDraw:
		desc, ok := ex.renderPassDescriptor(info)
		if !ok {
			ex.encSkipped = true
			sub, err := ex.cb.BlitEncoder(info.Name + "-skipped")
			if err != nil {
				return fmt.Errorf("framegraph: open substitute encoder %q: %w", info.Name, err)
			}
			ex.enc = sub
			return nil
		}
		enc, err := ex.cb.RenderEncoder(desc)
		if err != nil {
			return fmt.Errorf("framegraph: open render encoder %q: %w", info.Name, err)
		}
		ex.enc = enc
	case PassCompute:
		enc, err := ex.cb.ComputeEncoder(info.Name)
		if err != nil {
			return fmt.Errorf("framegraph: open compute encoder %q: %w", info.Name, err)
		}
		ex.enc = enc
	case PassBlit:
		enc, err := ex.cb.BlitEncoder(info.Name)
		if err != nil {
			return fmt.Errorf("framegraph: open blit encoder %q: %w", info.Name, err)
		}
		ex.enc = enc
	case PassExternal:
		// External work records immediately; fence traffic rides a
		// trailing blit encoder via runCompiledAt.
		p := ex.c.passes[info.FirstPass]
		if p.external != nil {
			if err := ex.cb.External(p.external); err != nil {
				Logger().Warn("external pass failed", "pass", info.Name, "err", err)
			}
		}
		sub, err := ex.cb.BlitEncoder(info.Name + "-sync")
		if err != nil {
			return fmt.Errorf("framegraph: open sync encoder %q: %w", info.Name, err)
		}
		ex.enc = sub
	case PassCPU:
		fatalf("cpu pass %q reached encoder selection", info.Name)
	}

	// Pool-supplied aliasing fences gate the encoder's first work.
	for _, f := range poolFences {
		if f != nil {
			ex.enc.WaitFence(f, ^backend.Stage(0))
		}
	}
	return nil
}

// closeEncoder runs deferred disposes and ends the native encoder.
func (ex *executor) closeEncoder() {
	if ex.curEnc < 0 {
		return
	}
	for _, cmd := range ex.pendingDisposes {
		ex.dispose(cmd.Resource)
	}
	ex.pendingDisposes = ex.pendingDisposes[:0]
	if ex.enc != nil {
		ex.enc.End()
		ex.enc = nil
	}
	ex.curEnc = -1
	ex.encSkipped = false
}

// runMaterializes performs the CPU-side pool acquisitions for every
// materialize command in the encoder's range, before the native encoder
// opens (render pass descriptors need the backings). Returns any
// pool-supplied fences the encoder must wait on.
func (ex *executor) runMaterializes(info *EncoderInfo) []backend.Fence {
	var poolFences []backend.Fence
	lo, _ := ex.c.compiled.rangeAt(info.First, OrderBefore)
	for i := lo; i < len(ex.c.compiled.cmds); i++ {
		cmd := &ex.c.compiled.cmds[i]
		if cmd.Index > info.Last {
			break
		}
		if cmd.Type != CmdMaterialize || cmd.Encoder != ex.curEnc {
			continue
		}
		poolFences = append(poolFences, ex.materialize(cmd.Resource)...)
	}
	return poolFences
}

// runLifetimeRange executes materialize/dispose commands outside any
// encoder (CPU passes).
func (ex *executor) runLifetimeRange(first, last int) {
	for idx := first; idx <= last; idx++ {
		for _, ord := range []CommandOrder{OrderBefore, OrderAfter} {
			lo, hi := ex.c.compiled.rangeAt(idx, ord)
			for i := lo; i < hi; i++ {
				cmd := &ex.c.compiled.cmds[i]
				switch cmd.Type {
				case CmdMaterialize:
					ex.materialize(cmd.Resource)
				case CmdDispose:
					ex.dispose(cmd.Resource)
				}
			}
		}
	}
}

// runCompiledAt fires the compiled commands at one (index, order)
// position on the open encoder.
func (ex *executor) runCompiledAt(idx int, ord CommandOrder) {
	lo, hi := ex.c.compiled.rangeAt(idx, ord)
	for i := lo; i < hi; i++ {
		ex.runCommand(&ex.c.compiled.cmds[i])
	}
}

// runCommand dispatches one compiled command. On a skipped encoder only
// fence traffic executes, so producers still signal and consumers still
// make progress.
func (ex *executor) runCommand(cmd *Command) {
	switch cmd.Type {
	case CmdMaterialize:
		// Performed at encoder open.
	case CmdDispose:
		ex.pendingDisposes = append(ex.pendingDisposes, *cmd)
	case CmdUseResource:
		if ex.encSkipped {
			return
		}
		if b := backings(cmd.Resources); len(b) > 0 {
			ex.enc.UseResources(b, cmd.Residency, cmd.Stages.toBackend())
		}
	case CmdMemoryBarrier:
		if ex.encSkipped {
			return
		}
		if b := backings(cmd.Resources); len(b) > 0 {
			ex.enc.MemoryBarrier(b, cmd.After.toBackend(), cmd.Before.toBackend())
		}
	case CmdScopedBarrier:
		if ex.encSkipped {
			return
		}
		ex.enc.ScopedBarrier(cmd.Scope, cmd.After.toBackend(), cmd.Before.toBackend())
	case CmdUpdateFence:
		native := ex.g.fences.nativeOf(cmd.Fence)
		if native == nil {
			f, err := ex.g.device.NewFence()
			if err != nil {
				Logger().Warn("fence creation failed", "err", err)
				return
			}
			ex.g.fences.bind(cmd.Fence, f)
			native = f
		}
		ex.enc.UpdateFence(native, cmd.After.toBackend())
		ex.releases[ex.curBuf] = append(ex.releases[ex.curBuf], cmd.Fence)
	case CmdWaitFence:
		if native := ex.g.fences.nativeOf(cmd.Fence); native != nil {
			ex.enc.WaitFence(native, cmd.Before.toBackend())
		}
		ex.releases[ex.curBuf] = append(ex.releases[ex.curBuf], cmd.Fence)
	}
}

// backings gathers the live pool allocations of a resource list.
func backings(res []*Resource) []backend.Backing {
	out := make([]backend.Backing, 0, len(res))
	for _, r := range res {
		if r.backing != nil {
			out = append(out, r.backing)
		}
	}
	return out
}

// materialize acquires backing memory for a resource. Window resources
// acquire their drawable (memoized per frame); acquisition failure
// degrades the frame by skipping the passes that touch the resource.
func (ex *executor) materialize(r *Resource) []backend.Fence {
	if r.backing != nil && r.flags&ResourceWindowHandle == 0 {
		// Persistent backing from an earlier frame.
		return nil
	}

	if r.flags&ResourceWindowHandle != 0 {
		if r.drawableFrame != ex.g.frame {
			r.drawable, r.drawableErr = ex.g.device.AcquireDrawable(r.label, r.texture.Width, r.texture.Height)
			r.drawableFrame = ex.g.frame
		}
		if r.drawableErr != nil {
			ex.skipResource(r, r.drawableErr)
			return nil
		}
		r.backing = r.drawable
		return nil
	}

	desc := r.poolDescriptor()
	backing, fences, ev, err := ex.g.device.Pool().Collect(desc)
	if err != nil {
		// Pools grow on a failed fit; one retry picks up the grown arena.
		backing, fences, ev, err = ex.g.device.Pool().Collect(desc)
		if err != nil {
			ex.skipResource(r, err)
			return nil
		}
	}
	if ev != nil && ex.cb != nil {
		ex.cb.EncodeWait(ev, 1)
	}
	r.backing = backing
	return fences
}

// dispose returns backing memory. Window resources present their
// drawable; heap resources hand the pool the fences a future aliasing
// occupant must wait on.
func (ex *executor) dispose(r *Resource) {
	if r.flags&ResourceWindowHandle != 0 {
		if r.drawable != nil {
			r.drawable.Present()
		}
		r.backing = nil
		return
	}
	if r.backing == nil {
		return
	}
	var fences []backend.Fence
	if r.heap != nil {
		for _, h := range r.heap.pendingFences {
			if native := ex.g.fences.nativeOf(h); native != nil {
				fences = append(fences, native)
			}
		}
	}
	ex.g.device.Pool().Deposit(r.backing, fences, nil)
	r.backing = nil
}

// skipResource degrades the frame: every pass touching r is skipped with
// a warning. Compilation is unaffected; fence traffic still flows.
func (ex *executor) skipResource(r *Resource, cause error) {
	for i := range r.usages {
		p := r.usages[i].Pass
		if !ex.skipped[p] {
			ex.skipped[p] = true
			ex.c.stats.SkippedPasses++
			derr := &DrawableError{Resource: r, Pass: p, Err: cause}
			Logger().Warn("pass skipped", "pass", p.Name(), "resource", r.Label(), "err", derr)
		}
	}
	if errors.Is(cause, backend.ErrDrawableUnavailable) {
		Logger().Debug("drawable unavailable this frame", "resource", r.Label())
	}
}

// renderPassDescriptor builds the native render pass description from a
// merged render target. Returns ok=false when a required drawable is
// missing.
func (ex *executor) renderPassDescriptor(info *EncoderInfo) (*backend.RenderPassDescriptor, bool) {
	rt := info.RenderTarget
	desc := &backend.RenderPassDescriptor{
		Label:  info.Name,
		Width:  rt.Width,
		Height: rt.Height,
	}
	convert := func(att *MergedAttachment) (backend.RenderPassAttachment, bool) {
		out := backend.RenderPassAttachment{
			Slice:      att.Slice,
			Level:      att.Level,
			DepthPlane: att.DepthPlane,
			Load:       uint8(att.Load),
			Store:      uint8(att.Store),
			ClearColor: att.ClearColor,
			ClearDepth: att.ClearDepth,
		}
		if att.Texture.backing == nil {
			return out, false
		}
		out.Backing = att.Texture.backing
		if att.ResolveTexture != nil {
			out.Resolve = att.ResolveTexture.backing
		}
		return out, true
	}
	for i := range rt.Color {
		if rt.Color[i].Texture == nil {
			desc.Color = append(desc.Color, backend.RenderPassAttachment{})
			continue
		}
		conv, ok := convert(&rt.Color[i])
		if !ok {
			return nil, false
		}
		desc.Color = append(desc.Color, conv)
	}
	if rt.DepthStencil != nil && rt.DepthStencil.Texture != nil {
		conv, ok := convert(rt.DepthStencil)
		if !ok {
			return nil, false
		}
		desc.DepthStencil = &conv
	}
	return desc, true
}
