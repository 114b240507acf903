package framegraph

import (
	"runtime"
	"sync/atomic"

	"github.com/gogpu/framegraph/backend"
)

// queueState tracks one command queue of the session: its native queue,
// its monotonic submission/completion counters, and the native event used
// to signal completion values to other queues.
//
// Submitted command buffers on one queue complete in submission order, so
// the completed counter is monotone and a waiter only needs to observe
// completed >= value.
type queueState struct {
	id     QueueID
	native backend.Queue

	// submitted is the last submit-index handed out. Planned during
	// partitioning, confirmed at commit.
	submitted atomic.Uint64

	// completed is the submit index of the last command buffer whose
	// completion callback has run.
	completed atomic.Uint64

	// event is the native timeline event signaled to the submit index on
	// each completion, used by GPU-side cross-queue waits. Nil when the
	// backend has no event primitive; waiters then spin on completed.
	event backend.Event
}

// waitCompleted blocks the CPU until the queue's completion counter
// reaches value. Used as the fallback ordering primitive when no native
// event exists, and for external (non-GPU) waiters. The loop is
// yield-based: completion counters advance from backend completion
// callbacks, so progress is guaranteed once the producing buffer was
// submitted.
func (q *queueState) waitCompleted(value uint64) {
	for q.completed.Load() < value {
		runtime.Gosched()
	}
}

// markCompleted advances the completion counter to value. Values arrive
// in submission order; a stale value is ignored.
func (q *queueState) markCompleted(value uint64) {
	for {
		cur := q.completed.Load()
		if value <= cur {
			return
		}
		if q.completed.CompareAndSwap(cur, value) {
			return
		}
	}
}
