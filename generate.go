package framegraph

import (
	"github.com/gogpu/framegraph/backend"
)

// aliasWait records that an encoder must wait on the previous occupant(s)
// of aliased heap memory before a resource's first use.
type aliasWait struct {
	resource   *Resource
	encoder    int
	waitIndex  int
	waitStages Stage
	points     []aliasFence
}

// compilation holds the whole-frame analysis state: the pass list with
// assigned command indices, merged render targets, the partition plan,
// and the raw command stream plus dependency table produced by the
// generator.
type compilation struct {
	graph *Graph

	passes    []*PassRecord
	resources []*Resource
	targets   []*RenderTargetDescriptor
	plan      partitionPlan

	deps         *dependencyTable
	raw          commandList
	aliasWaits   []aliasWait
	materialized map[ResourceID]bool
	arrayUses    []arrayUse
	frameFences  []FenceHandle

	// compiled is the final per-frame command stream after compaction.
	compiled commandList

	stats FrameStats
}

// queueOf returns the queue executing the given encoder.
func (c *compilation) queueOf(encoder int) QueueID {
	return c.plan.buffers[c.plan.encoders[encoder].CommandBuffer].Queue
}

// submitValueOf returns the planned submit value of the command buffer
// owning the given encoder.
func (c *compilation) submitValueOf(encoder int) uint64 {
	return c.plan.buffers[c.plan.encoders[encoder].CommandBuffer].SubmitValue
}

// generate is the dependency and barrier generator: one linear replay of
// every resource's usage list, in command order, producing residency
// commands, in-encoder memory barriers, cross-encoder dependency edges,
// materialize/dispose commands, heap-aliasing waits, and cross-queue
// ordering for persistent resources.
func (c *compilation) generate() {
	c.deps = newDependencyTable(len(c.plan.encoders))
	c.materialized = make(map[ResourceID]bool)
	for _, r := range c.resources {
		c.generateResource(r)
	}
	c.disposeArrays()
	c.stats.Dependencies = c.deps.count()
	c.deps.reduce()
}

// generateResource replays one resource's usage list.
func (c *compilation) generateResource(r *Resource) {
	// Active usages only; CPU-only accesses order materialization but
	// never GPU commands.
	active := make([]*ResourceUsage, 0, len(r.usages))
	gpu := make([]*ResourceUsage, 0, len(r.usages))
	for i := range r.usages {
		u := &r.usages[i]
		if !u.Pass.active {
			continue
		}
		active = append(active, u)
		if u.Stages != StageCPUBeforeRender {
			gpu = append(gpu, u)
		}
	}
	if len(active) == 0 {
		return
	}

	if r.immutable() {
		for _, u := range active {
			if u.Access.isWrite() {
				fatalf("write to immutable resource %s by pass %s after initialisation", r, u.Pass)
			}
		}
	}

	firstIndex := c.firstUsageIndex(gpu)

	if r.heap != nil && len(gpu) > 0 {
		first := gpu[0]
		if first.Access.isRead() && !first.Access.isWrite() && !r.initialised {
			fatalf("read of heap-aliased resource %s by pass %s before any write", r, first.Pass)
		}
		if points := r.heap.takePending(); len(points) > 0 {
			c.aliasWaits = append(c.aliasWaits, aliasWait{
				resource:   r,
				encoder:    first.encoder(),
				waitIndex:  firstIndex,
				waitStages: first.Stages,
				points:     points,
			})
		}
	}

	c.emitResidency(r, gpu)
	lastReads, lastWrite := c.trackHazards(r, gpu)

	if r.heap != nil {
		points := make([]aliasFence, 0, len(lastReads)+1)
		for _, rd := range lastReads {
			points = append(points, aliasFence{encoder: rd.encoder(), index: rd.Last, stages: rd.Stages})
		}
		if len(points) == 0 && lastWrite != nil {
			points = append(points, aliasFence{encoder: lastWrite.encoder(), index: lastWrite.Last, stages: lastWrite.Stages})
		}
		r.heap.recordDisposal(points)
	}

	c.emitLifetime(r, active, gpu, firstIndex)
	c.orderAcrossQueues(r, gpu)

	for _, u := range active {
		if u.Access.isWrite() {
			r.initialised = true
			break
		}
	}
}

// firstUsageIndex determines the true first command index of the
// resource's GPU work. The nominal first usage is the first active
// non-CPU usage; if it is a read, the earliest command index among the
// contiguous run of reads that follows is taken, because reads may be
// reordered relative to each other and a later-recorded read can carry an
// earlier command index.
func (c *compilation) firstUsageIndex(gpu []*ResourceUsage) int {
	if len(gpu) == 0 {
		return 0
	}
	first := gpu[0]
	idx := first.First
	if first.Access.isRead() && !first.Access.isWrite() {
		for _, u := range gpu[1:] {
			if u.Access.isWrite() || !u.Access.isRead() {
				break
			}
			if u.First < idx {
				idx = u.First
			}
		}
	}
	return idx
}

// emitResidency walks the usage list accumulating a combined
// residency/stage mask across consecutive usages within one encoder, and
// emits one useResource command per run, positioned at the run's earliest
// command index. Render-target roles are excluded: the render pass
// descriptor makes attachments resident implicitly.
func (c *compilation) emitResidency(r *Resource, gpu []*ResourceUsage) {
	var (
		run      bool
		encoder  int
		earliest int
		res      backend.Residency
		stages   Stage
		noBatch  bool
	)
	flush := func() {
		if !run {
			return
		}
		c.raw.add(Command{
			Type:      CmdUseResource,
			Index:     earliest,
			Order:     OrderBefore,
			Encoder:   encoder,
			Resources: []*Resource{r},
			Residency: res,
			Stages:    stages,
			NoBatch:   noBatch,
		})
		c.stats.ResidencyCommands++
		run = false
	}
	for _, u := range gpu {
		if !u.AffectsBarriers || u.Access.isRenderTarget() {
			continue
		}
		e := u.encoder()
		if run && e != encoder {
			flush()
		}
		if !run {
			run = true
			encoder = e
			earliest = u.First
			res = 0
			stages = 0
			// Residency inside a render encoder applies to the current
			// render pass and must stay precisely ordered; compute and
			// blit residency may be batched.
			noBatch = c.plan.encoders[e].Type == PassDraw
		}
		if u.First < earliest {
			earliest = u.First
		}
		res |= u.Access.residency()
		if !u.Access.isWrite() {
			res |= backend.ResidencySample
		}
		stages |= u.Stages
	}
	flush()
}

// trackHazards replays the usage list maintaining the set of reads since
// the last write and the previous write, emitting in-encoder memory
// barriers and recording cross-encoder dependency edges. Returns the
// final reads-since-last-write set and previous write for heap-aliasing
// disposal.
func (c *compilation) trackHazards(r *Resource, gpu []*ResourceUsage) (lastReads []*ResourceUsage, lastWrite *ResourceUsage) {
	var (
		readsSinceLastWrite []*ResourceUsage
		previousWrite       *ResourceUsage
		previous            *ResourceUsage
	)

	for _, u := range gpu {
		if !u.AffectsBarriers {
			continue
		}
		e := u.encoder()

		if u.Access.isWrite() {
			// Write-after-read: the writer's encoder must wait for every
			// pending reader in a different encoder.
			for _, rd := range readsSinceLastWrite {
				if re := rd.encoder(); re != e {
					c.deps.add(re, e, Dependency{
						SignalIndex:  rd.Last,
						SignalStages: rd.Stages,
						WaitIndex:    u.First,
						WaitStages:   u.Stages,
					})
				}
			}
		}

		if previousWrite != nil {
			pe := previousWrite.encoder()
			switch {
			case pe == e && previous == previousWrite:
				// Write then read/write within one encoder: a memory
				// barrier scoped to this resource, after the write's
				// stages and before this usage's stages. Compatible
				// render-target roles synchronize through the render
				// pass itself.
				if !(previousWrite.Access.isRenderTarget() && u.Access.isRenderTarget()) {
					c.raw.add(Command{
						Type:          CmdMemoryBarrier,
						Index:         u.First,
						Order:         OrderBefore,
						Encoder:       e,
						Resources:     []*Resource{r},
						After:         previousWrite.Stages,
						Before:        u.Stages,
						ProducerIndex: previousWrite.Last,
					})
					c.stats.Barriers++
				}
			case pe != e:
				// Read- or write-after-write across encoders.
				c.deps.add(pe, e, Dependency{
					SignalIndex:  previousWrite.Last,
					SignalStages: previousWrite.Stages,
					WaitIndex:    u.First,
					WaitStages:   u.Stages,
				})
			}
		}

		if u.Access.isWrite() {
			previousWrite = u
			readsSinceLastWrite = readsSinceLastWrite[:0]
		} else if u.Access.isRead() {
			readsSinceLastWrite = append(readsSinceLastWrite, u)
		}
		previous = u
	}
	return readsSinceLastWrite, previousWrite
}

// needsMaterialize reports whether the compiler owns acquiring backing
// for the resource this frame.
func needsMaterialize(r *Resource) bool {
	if r.flags&ResourceExternalOwnership != 0 {
		return false
	}
	if r.transient() {
		return true
	}
	// Window drawables are acquired every frame; history buffers and
	// plain persistent resources on their first initializing use.
	if r.flags&ResourceWindowHandle != 0 {
		return true
	}
	return !r.initialised
}

// needsDispose reports whether the backing is returned at end of frame.
func needsDispose(r *Resource) bool {
	if !needsMaterialize(r) {
		return false
	}
	if r.typ == ResourceArgumentBuffer && r.array != nil {
		// Views into an argument-buffer array are disposed through the
		// array only.
		return false
	}
	// History buffers carry their contents to the next frame; plain
	// persistent resources keep their backing for the session.
	if r.flags&ResourceHistoryBuffer != 0 {
		return false
	}
	if r.flags&ResourcePersistent != 0 && r.flags&ResourceWindowHandle == 0 {
		return false
	}
	return true
}

// emitLifetime places materialize and dispose commands around the
// resource's usage span. Argument buffers belonging to an array
// materialize the array first; their own storage is a view into it.
func (c *compilation) emitLifetime(r *Resource, active, gpu []*ResourceUsage, firstIndex int) {
	if !needsMaterialize(r) {
		return
	}

	first, last := active[0], active[len(active)-1]
	idx := first.First
	encoder := -1
	if len(gpu) > 0 {
		idx = firstIndex
		encoder = gpu[0].encoder()
	}

	disposeEncoder := encoder
	if len(gpu) > 0 {
		disposeEncoder = gpu[len(gpu)-1].encoder()
	}

	if arr := r.array; arr != nil && r.typ == ResourceArgumentBuffer {
		// The owning array materializes before its first member; the
		// member's storage is a view into it. The array is disposed
		// after the last usage of any member.
		if !c.materializedThisFrame(arr) && needsMaterialize(arr) {
			c.raw.add(Command{
				Type:     CmdMaterialize,
				Index:    idx,
				Order:    OrderBefore,
				Encoder:  encoder,
				Resource: arr,
			})
			c.stats.Materialized++
			c.markMaterialized(arr)
		}
		c.noteArrayUse(arr, last.Last, disposeEncoder)
	}

	if c.materializedThisFrame(r) {
		return
	}

	c.raw.add(Command{
		Type:     CmdMaterialize,
		Index:    idx,
		Order:    OrderBefore,
		Encoder:  encoder,
		Resource: r,
	})
	c.stats.Materialized++
	c.markMaterialized(r)

	if !needsDispose(r) {
		return
	}
	c.raw.add(Command{
		Type:     CmdDispose,
		Index:    last.Last,
		Order:    OrderAfter,
		Encoder:  disposeEncoder,
		Resource: r,
	})
	c.stats.Disposed++
}

// arrayUse tracks the latest usage position of an argument-buffer array's
// members, for array disposal.
type arrayUse struct {
	array   *Resource
	index   int
	encoder int
}

func (c *compilation) noteArrayUse(arr *Resource, index, encoder int) {
	for i := range c.arrayUses {
		if c.arrayUses[i].array == arr {
			if index > c.arrayUses[i].index {
				c.arrayUses[i].index = index
				c.arrayUses[i].encoder = encoder
			}
			return
		}
	}
	c.arrayUses = append(c.arrayUses, arrayUse{array: arr, index: index, encoder: encoder})
}

// disposeArrays emits the deferred dispose commands for argument-buffer
// arrays once every member has been processed.
func (c *compilation) disposeArrays() {
	for _, au := range c.arrayUses {
		if !needsDispose(au.array) {
			continue
		}
		c.raw.add(Command{
			Type:     CmdDispose,
			Index:    au.index,
			Order:    OrderAfter,
			Encoder:  au.encoder,
			Resource: au.array,
		})
		c.stats.Disposed++
	}
}

// materializedThisFrame tracks per-frame materialization so shared
// backings (argument-buffer arrays) are acquired once.
func (c *compilation) materializedThisFrame(r *Resource) bool {
	return c.materialized[r.id]
}

func (c *compilation) markMaterialized(r *Resource) {
	c.materialized[r.id] = true
}

// orderAcrossQueues emits cross-queue waits for persistent and history
// resources and updates their per-queue access indices.
//
// Before the first usage on each queue touching the resource this frame:
// that queue's first encoder waits on every other queue's last write
// (always), and on last reads too when this frame writes the resource.
// Per-queue first usages, not just the globally first one: two readers on
// different queues each need their own wait against a prior frame's
// writer, since in-queue ordering covers only work on the same queue.
// After the last usage: the indices for the queues touched this frame
// advance to the planned submit values, so later frames order correctly
// against this one.
func (c *compilation) orderAcrossQueues(r *Resource, gpu []*ResourceUsage) {
	if len(gpu) == 0 {
		return
	}
	if r.flags&(ResourcePersistent|ResourceHistoryBuffer) == 0 {
		return
	}
	if r.immutable() {
		// Fully immutable contents: concurrent reads need no ordering.
		return
	}

	writes := false
	for _, u := range gpu {
		if u.Access.isWrite() {
			writes = true
			break
		}
	}

	seen := make([]bool, len(r.queueAccess))
	for _, u := range gpu {
		uq := c.queueOf(u.encoder())
		if seen[uq] {
			continue
		}
		seen[uq] = true
		enc := &c.plan.encoders[u.encoder()]
		for q := range r.queueAccess {
			if QueueID(q) == uq {
				continue
			}
			wait := r.queueAccess[q].lastWrite
			if writes && r.queueAccess[q].lastRead > wait {
				wait = r.queueAccess[q].lastRead
			}
			if wait > enc.QueueWaits[q] {
				enc.QueueWaits[q] = wait
			}
		}
	}

	for _, u := range gpu {
		q := c.queueOf(u.encoder())
		submit := c.submitValueOf(u.encoder())
		acc := &r.queueAccess[q]
		if u.Access.isRead() && submit > acc.lastRead {
			acc.lastRead = submit
		}
		if u.Access.isWrite() && submit > acc.lastWrite {
			acc.lastWrite = submit
		}
	}
}
