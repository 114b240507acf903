package framegraph

// aliasFence identifies one GPU operation a future occupant of aliased
// heap memory must wait on: a point (encoder, command index, stages)
// inside the frame being compiled. The fence synthesizer turns each
// distinct signal point into a pooled fence.
type aliasFence struct {
	encoder int
	index   int
	stages  Stage
}

// Heap represents a region of memory whose backing is shared by multiple
// logically distinct resources at non-overlapping times within a frame.
//
// The placement strategy (offsets, sizes, growth) belongs to the external
// pool; the Heap only carries the synchronization contract: a resource
// placed on the heap must not begin use before whichever previous
// occupant of its memory has finished, and on disposal it records exactly
// the operations a future occupant must wait on: its last reads, or, if
// it was never read, its last write. This keeps aliasing synchronization
// minimal: waiting on reads that already happened subsumes the write that
// preceded them.
type Heap struct {
	label string

	// pending are the previous occupant's completion points. Consumed by
	// the next occupant's first use, replaced at its disposal.
	pending []aliasFence

	// pendingFences are the pooled fences synthesized for pending, kept
	// so tests and the executor can hand them to the pool on Collect.
	pendingFences []FenceHandle
}

// NewHeap creates an aliasing heap with the given debug label.
// Resources created from the heap (Graph.NewBufferFromHeap,
// Graph.NewTextureFromHeap) carry its aliasing-fence contract.
func NewHeap(label string) *Heap {
	return &Heap{label: label}
}

// Label returns the heap's debug label.
func (h *Heap) Label() string { return h.label }

// takePending returns and clears the previous occupant's completion
// points. Called when a new occupant's first usage is processed.
func (h *Heap) takePending() []aliasFence {
	p := h.pending
	h.pending = nil
	return p
}

// recordDisposal replaces the pending set with the disposing occupant's
// completion points.
func (h *Heap) recordDisposal(points []aliasFence) {
	h.pending = points
}

// resetFrame drops per-frame fence handles (the points themselves carry
// over only within a frame; cross-frame aliasing is ordered by the
// frame's command buffers completing in submission order).
func (h *Heap) resetFrame() {
	h.pending = h.pending[:0]
	h.pendingFences = h.pendingFences[:0]
}
