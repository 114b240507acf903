package framegraph

import (
	"github.com/gogpu/framegraph/backend"
)

// defaultScopeThreshold is the explicit-resource-list size past which a
// barrier collapses into a coarser scoped barrier.
const defaultScopeThreshold = 8

// compact rewrites the raw per-resource command stream into the minimal
// ordered per-encoder stream:
//
//   - useResource commands with identical (stages, residency) keys within
//     an encoder merge into one call over the union of resources, placed
//     at the earliest member's position, unless the original usage
//     disallowed reordering (draw-encoder residency), which stays a
//     singleton call;
//   - memory barriers coalesce while their producing writes allow it,
//     flushing as late as possible (just before the earliest command
//     index that required one of them), and collapse into a scoped
//     barrier once the explicit list exceeds the threshold;
//   - every other command passes through at its position.
//
// Compaction never moves a command across an encoder boundary.
func (c *compilation) compact() {
	c.raw.sortCommands()

	threshold := c.graph.opts.scopeThreshold
	if threshold <= 0 {
		threshold = defaultScopeThreshold
	}

	// Raw commands are sorted globally; encoders occupy disjoint command
	// ranges, so per-encoder runs are contiguous except for encoder -1
	// (CPU-only lifetime commands), which passes through.
	byEncoder := make(map[int][]Command)
	var order []int
	for _, cmd := range c.raw.cmds {
		if _, ok := byEncoder[cmd.Encoder]; !ok {
			order = append(order, cmd.Encoder)
		}
		byEncoder[cmd.Encoder] = append(byEncoder[cmd.Encoder], cmd)
	}

	for _, enc := range order {
		cmds := byEncoder[enc]
		if enc < 0 {
			for _, cmd := range cmds {
				c.compiled.add(cmd)
			}
			continue
		}
		c.compactEncoder(cmds, threshold)
	}
	c.compiled.sortCommands()
	c.stats.CompiledCommands = len(c.compiled.cmds)
}

// residencyKey groups batchable useResource commands.
type residencyKey struct {
	stages    Stage
	residency backend.Residency
}

// compactEncoder compacts one encoder's command run.
func (c *compilation) compactEncoder(cmds []Command, threshold int) {
	batches := make(map[residencyKey]*Command)

	var pendingBarrier *Command

	flushBarrier := func() {
		if pendingBarrier == nil {
			return
		}
		b := *pendingBarrier
		pendingBarrier = nil
		if len(b.Resources) > threshold {
			scope := backend.BarrierScope(0)
			for _, r := range b.Resources {
				if r.typ == ResourceTexture {
					scope |= backend.ScopeTextures
				} else {
					scope |= backend.ScopeBuffers
				}
			}
			c.compiled.add(Command{
				Type:    CmdScopedBarrier,
				Index:   b.Index,
				Order:   b.Order,
				Encoder: b.Encoder,
				After:   b.After,
				Before:  b.Before,
				Scope:   scope,
			})
			c.stats.ScopedBarriers++
			return
		}
		c.compiled.add(b)
	}

	for i := range cmds {
		cmd := cmds[i]
		switch cmd.Type {
		case CmdUseResource:
			if cmd.NoBatch {
				c.compiled.add(cmd)
				continue
			}
			key := residencyKey{stages: cmd.Stages, residency: cmd.Residency}
			if b, ok := batches[key]; ok {
				b.Resources = append(b.Resources, cmd.Resources...)
				// Batched as early as possible: the earliest member
				// position wins.
				if cmd.Index < b.Index {
					b.Index = cmd.Index
				}
				continue
			}
			batch := cmd
			batch.Resources = append([]*Resource(nil), cmd.Resources...)
			batches[key] = &batch

		case CmdMemoryBarrier:
			if pendingBarrier != nil {
				// A later barrier may join only if its producing write
				// completes before the pending flush position.
				if cmd.ProducerIndex < pendingBarrier.Index {
					pendingBarrier.Resources = append(pendingBarrier.Resources, cmd.Resources...)
					pendingBarrier.After |= cmd.After
					pendingBarrier.Before |= cmd.Before
					continue
				}
				flushBarrier()
			}
			b := cmd
			b.Resources = append([]*Resource(nil), cmd.Resources...)
			pendingBarrier = &b

		default:
			c.compiled.add(cmd)
		}
	}

	flushBarrier()
	for _, b := range batches {
		c.compiled.add(*b)
	}
}
