package framegraph

import (
	"fmt"
	"sort"

	"github.com/gogpu/framegraph/backend"
)

// CommandType identifies the type of a compiled command.
type CommandType uint8

const (
	// CmdMaterialize acquires backing memory for a resource from the
	// pool. Positioned before the resource's first usage.
	CmdMaterialize CommandType = iota

	// CmdDispose returns backing memory to the pool. Positioned after
	// the resource's last usage.
	CmdDispose

	// CmdUseResource declares residency for a batch of resources before
	// the given stages.
	CmdUseResource

	// CmdMemoryBarrier orders a prior write against subsequent accesses,
	// scoped to an explicit resource list.
	CmdMemoryBarrier

	// CmdScopedBarrier is a memory barrier over a whole resource class,
	// used when the explicit list grew past the scope threshold.
	CmdScopedBarrier

	// CmdUpdateFence signals a fence after the given stages complete.
	CmdUpdateFence

	// CmdWaitFence blocks the given stages until a fence is signaled.
	CmdWaitFence
)

// commandTypeNames maps CommandType values to their string
// representation.
var commandTypeNames = [...]string{
	CmdMaterialize:   "Materialize",
	CmdDispose:       "Dispose",
	CmdUseResource:   "UseResource",
	CmdMemoryBarrier: "MemoryBarrier",
	CmdScopedBarrier: "ScopedBarrier",
	CmdUpdateFence:   "UpdateFence",
	CmdWaitFence:     "WaitFence",
}

// String returns the string representation of a CommandType.
func (t CommandType) String() string {
	if int(t) < len(commandTypeNames) {
		return commandTypeNames[t]
	}
	return "Unknown"
}

// CommandOrder positions a compiled command relative to the native pass
// command sharing its index.
type CommandOrder uint8

const (
	// OrderBefore fires before the native command at Index.
	OrderBefore CommandOrder = iota

	// OrderAfter fires after the native command at Index.
	OrderAfter
)

// Command is one compiled synchronization/lifetime command, interleaved
// with native pass commands by (Index, Order).
type Command struct {
	Type    CommandType
	Index   int
	Order   CommandOrder
	Encoder int

	// Resource for Materialize/Dispose and single-resource barriers.
	Resource *Resource

	// Resources for batched residency and list barriers.
	Resources []*Resource

	// Residency and Stages for UseResource.
	Residency backend.Residency
	Stages    Stage

	// NoBatch residency calls must stay precisely ordered and are never
	// merged (render-target adjacent usages).
	NoBatch bool

	// After/Before stage scopes for barriers and fence commands.
	After, Before Stage

	// ProducerIndex is, for memory barriers, the command index of the
	// write the barrier orders against. The barrier may legally fire
	// anywhere after it and before Index; the compactor uses the slack
	// to coalesce barriers.
	ProducerIndex int

	// Scope for ScopedBarrier.
	Scope backend.BarrierScope

	// Fence for UpdateFence/WaitFence.
	Fence FenceHandle
}

// String returns a compact diagnostic form.
func (c *Command) String() string {
	switch c.Type {
	case CmdMaterialize, CmdDispose:
		return fmt.Sprintf("%s@%d(%s)", c.Type, c.Index, c.Resource)
	case CmdUseResource:
		return fmt.Sprintf("%s@%d(%d resources, %s)", c.Type, c.Index, len(c.Resources), c.Stages)
	case CmdMemoryBarrier:
		return fmt.Sprintf("%s@%d(%d resources, %s->%s)", c.Type, c.Index, len(c.Resources), c.After, c.Before)
	case CmdScopedBarrier:
		return fmt.Sprintf("%s@%d(scope=%d, %s->%s)", c.Type, c.Index, c.Scope, c.After, c.Before)
	case CmdUpdateFence, CmdWaitFence:
		return fmt.Sprintf("%s@%d(%s)", c.Type, c.Index, c.Fence)
	default:
		return fmt.Sprintf("Unknown@%d", c.Index)
	}
}

// commandList is the compiled per-frame command stream, kept sorted by
// (Index, Order, insertion order) for stable interleaving.
type commandList struct {
	cmds []Command
	seq  []int // insertion sequence, parallel to cmds
}

// add appends a command, recording insertion order.
func (l *commandList) add(c Command) {
	l.cmds = append(l.cmds, c)
	l.seq = append(l.seq, len(l.seq))
}

// sortCommands orders the stream by (Index, Order) with insertion order
// as the tie-break, so commands compiled earlier fire earlier at the same
// position.
func (l *commandList) sortCommands() {
	idx := make([]int, len(l.cmds))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ca, cb := &l.cmds[idx[a]], &l.cmds[idx[b]]
		if ca.Index != cb.Index {
			return ca.Index < cb.Index
		}
		if ca.Order != cb.Order {
			return ca.Order < cb.Order
		}
		return l.seq[idx[a]] < l.seq[idx[b]]
	})
	sorted := make([]Command, len(l.cmds))
	for i, j := range idx {
		sorted[i] = l.cmds[j]
	}
	l.cmds = sorted
	for i := range l.seq {
		l.seq[i] = i
	}
}

// rangeAt returns the half-open slice bounds of commands whose Index and
// Order match (idx, ord). The list must be sorted.
func (l *commandList) rangeAt(idx int, ord CommandOrder) (int, int) {
	lo := sort.Search(len(l.cmds), func(i int) bool {
		c := &l.cmds[i]
		return c.Index > idx || (c.Index == idx && c.Order >= ord)
	})
	hi := lo
	for hi < len(l.cmds) && l.cmds[hi].Index == idx && l.cmds[hi].Order == ord {
		hi++
	}
	return lo, hi
}
