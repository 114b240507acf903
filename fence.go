package framegraph

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/framegraph/backend"
)

// FenceHandle is a generational handle into a session's fence table.
// The zero value is invalid.
type FenceHandle struct {
	index uint32
	gen   uint32
}

// Valid reports whether the handle refers to a fence slot.
func (h FenceHandle) Valid() bool { return h.gen != 0 }

// String returns a compact diagnostic form.
func (h FenceHandle) String() string {
	if !h.Valid() {
		return "Fence(invalid)"
	}
	return fmt.Sprintf("Fence(%d.%d)", h.index, h.gen)
}

// fenceSlot is one entry of the fence table.
type fenceSlot struct {
	gen uint32

	// refs counts the encoders that may still wait on the fence plus one
	// reference held until the producer signals. Atomic so parallel
	// encoder execution can retain/release concurrently.
	refs atomic.Int32

	// queue is the producing queue; commandBuffer is the planned submit
	// value of the producing command buffer. The slot may be recycled
	// once the queue's completion counter reaches commandBuffer and refs
	// drops to zero.
	queue         QueueID
	commandBuffer uint64

	// native is the backend fence object, created lazily at execution.
	native backend.Fence
}

// fenceTable is a pooled arena of fence slots with a free list.
// Handles are (index, generation) pairs: a stale handle never resolves to
// a recycled slot.
type fenceTable struct {
	mu    sync.Mutex
	slots []fenceSlot
	free  []uint32
}

// alloc reserves a fence slot tied to the producing queue and planned
// command-buffer submit value, with an initial reference count.
func (t *fenceTable) alloc(q QueueID, commandBuffer uint64, refs int32) FenceHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, fenceSlot{})
		idx = uint32(len(t.slots) - 1)
	}
	s := &t.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.queue = q
	s.commandBuffer = commandBuffer
	s.refs.Store(refs)
	s.native = nil
	return FenceHandle{index: idx, gen: s.gen}
}

// slot resolves a handle, or nil when the handle is stale.
func (t *fenceTable) slot(h FenceHandle) *fenceSlot {
	if !h.Valid() || int(h.index) >= len(t.slots) {
		return nil
	}
	s := &t.slots[h.index]
	if s.gen != h.gen {
		return nil
	}
	return s
}

// retain adds a reference.
func (t *fenceTable) retain(h FenceHandle) {
	if s := t.slot(h); s != nil {
		s.refs.Add(1)
	}
}

// release drops a reference. When the count reaches zero the slot joins
// the free list and the native fence (if any) is handed back for
// destruction via the returned value.
func (t *fenceTable) release(h FenceHandle) backend.Fence {
	s := t.slot(h)
	if s == nil {
		return nil
	}
	if s.refs.Add(-1) > 0 {
		return nil
	}
	t.mu.Lock()
	native := s.native
	s.native = nil
	t.free = append(t.free, h.index)
	t.mu.Unlock()
	return native
}

// bind attaches the native fence object to the slot at execution time.
func (t *fenceTable) bind(h FenceHandle, f backend.Fence) {
	if s := t.slot(h); s != nil {
		s.native = f
	}
}

// native returns the slot's backend fence, or nil.
func (t *fenceTable) nativeOf(h FenceHandle) backend.Fence {
	if s := t.slot(h); s != nil {
		return s.native
	}
	return nil
}

// live returns the number of slots currently allocated.
func (t *fenceTable) live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots) - len(t.free)
}
