package software

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/framegraph/backend"
)

func TestBackendRegistration(t *testing.T) {
	b := backend.Get(backend.BackendSoftware)
	if b == nil {
		t.Fatal("software backend not registered")
	}
	if b.Name() != backend.BackendSoftware {
		t.Errorf("Name() = %q, want %q", b.Name(), backend.BackendSoftware)
	}
}

func TestDeviceRequiresInit(t *testing.T) {
	b := New()
	if _, err := b.NewDevice(1); !errors.Is(err, backend.ErrNotInitialized) {
		t.Errorf("NewDevice before Init = %v, want ErrNotInitialized", err)
	}
	if err := b.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	dev, err := b.NewDevice(2)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	if got := len(dev.Queues()); got != 2 {
		t.Errorf("queue count = %d, want 2", got)
	}
}

func TestCommandBufferRecordsInOrder(t *testing.T) {
	dev := NewDevice(1)
	cb, err := dev.Queues()[0].NewCommandBuffer("frame")
	if err != nil {
		t.Fatalf("NewCommandBuffer: %v", err)
	}

	enc, err := cb.ComputeEncoder("sim")
	if err != nil {
		t.Fatalf("ComputeEncoder: %v", err)
	}
	enc.Dispatch(8)
	enc.End()

	blit, err := cb.BlitEncoder("copy")
	if err != nil {
		t.Fatalf("BlitEncoder: %v", err)
	}
	blit.Copy(nil)
	blit.End()

	if err := cb.Commit(nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	want := []OpKind{OpBeginCompute, OpDispatch, OpEndEncoder, OpBeginBlit, OpCopy, OpEndEncoder, OpCommit}
	ops := dev.Ops()
	if len(ops) != len(want) {
		t.Fatalf("recorded %d ops, want %d: %v", len(ops), len(want), ops)
	}
	for i, k := range want {
		if ops[i].Kind != k {
			t.Errorf("ops[%d] = %v, want %v", i, ops[i].Kind, k)
		}
	}
	if ops[1].Payload != 8 {
		t.Errorf("dispatch payload = %v, want 8", ops[1].Payload)
	}
}

func TestSecondEncoderWhileOpenFails(t *testing.T) {
	dev := NewDevice(1)
	cb, _ := dev.Queues()[0].NewCommandBuffer("frame")
	enc, _ := cb.ComputeEncoder("a")
	if _, err := cb.BlitEncoder("b"); err == nil {
		t.Error("second encoder opened while the first is still recording")
	}
	enc.End()
	if _, err := cb.BlitEncoder("b"); err != nil {
		t.Errorf("encoder after End: %v", err)
	}
}

func TestCommitWithOpenEncoderFails(t *testing.T) {
	dev := NewDevice(1)
	cb, _ := dev.Queues()[0].NewCommandBuffer("frame")
	cb.ComputeEncoder("open")
	if err := cb.Commit(nil); err == nil {
		t.Error("commit with open encoder did not fail")
	}
}

func TestWaitOnUnreachedEventIsViolation(t *testing.T) {
	dev := NewDevice(2)
	ev, _ := dev.NewEvent()

	cb, _ := dev.Queues()[1].NewCommandBuffer("consumer")
	cb.EncodeWait(ev, 3)
	if err := cb.Commit(nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	v := dev.Violations()
	if len(v) != 1 {
		t.Fatalf("violations = %v, want exactly one", v)
	}
	if !strings.Contains(v[0], "waits on") {
		t.Errorf("violation = %q, want wait diagnostic", v[0])
	}
}

func TestSignalThenWaitIsClean(t *testing.T) {
	dev := NewDevice(2)
	ev, _ := dev.NewEvent()

	prod, _ := dev.Queues()[0].NewCommandBuffer("producer")
	prod.EncodeSignal(ev, 1)
	if err := prod.Commit(nil); err != nil {
		t.Fatalf("producer Commit: %v", err)
	}

	cons, _ := dev.Queues()[1].NewCommandBuffer("consumer")
	cons.EncodeWait(ev, 1)
	if err := cons.Commit(nil); err != nil {
		t.Fatalf("consumer Commit: %v", err)
	}

	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("violations = %v, want none", v)
	}
}

func TestWaitOnUnsignaledFenceIsViolation(t *testing.T) {
	dev := NewDevice(1)
	f, _ := dev.NewFence()

	cb, _ := dev.Queues()[0].NewCommandBuffer("frame")
	enc, _ := cb.ComputeEncoder("reader")
	enc.WaitFence(f, backend.StageCompute)
	enc.End()
	cb.Commit(nil)

	if v := dev.Violations(); len(v) != 1 || !strings.Contains(v[0], "unsignaled") {
		t.Errorf("violations = %v, want one unsignaled-fence report", v)
	}
}

func TestUpdateThenWaitFenceIsClean(t *testing.T) {
	dev := NewDevice(1)
	f, _ := dev.NewFence()

	cb, _ := dev.Queues()[0].NewCommandBuffer("frame")
	w, _ := cb.ComputeEncoder("writer")
	w.UpdateFence(f, backend.StageCompute)
	w.End()
	r, _ := cb.ComputeEncoder("reader")
	r.WaitFence(f, backend.StageCompute)
	r.End()
	cb.Commit(nil)

	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("violations = %v, want none", v)
	}
}

func TestPoolHeapFenceHandoff(t *testing.T) {
	dev := NewDevice(1)
	pool := dev.Pool().(*Pool)
	f, _ := dev.NewFence()

	first, fences, _, err := pool.Collect(backend.ResourceDescriptor{Label: "a", Heap: "arena"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(fences) != 0 {
		t.Errorf("first occupant received %d fences, want 0", len(fences))
	}

	pool.Deposit(first, []backend.Fence{f}, nil)

	_, fences, _, err = pool.Collect(backend.ResourceDescriptor{Label: "b", Heap: "arena"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(fences) != 1 || fences[0] != f {
		t.Errorf("second occupant fences = %v, want the deposited fence", fences)
	}

	// The handoff is consumed; a third occupant starts clean.
	_, fences, _, _ = pool.Collect(backend.ResourceDescriptor{Label: "c", Heap: "arena"})
	if len(fences) != 0 {
		t.Errorf("third occupant received %d fences, want 0", len(fences))
	}
}

func TestPoolLiveBalance(t *testing.T) {
	dev := NewDevice(1)
	pool := dev.Pool().(*Pool)

	a, _, _, _ := pool.Collect(backend.ResourceDescriptor{Label: "a"})
	b, _, _, _ := pool.Collect(backend.ResourceDescriptor{})
	if pool.Live() != 2 {
		t.Errorf("Live() = %d, want 2", pool.Live())
	}
	if b.Label() == "" {
		t.Error("unlabeled allocation got no fallback label")
	}
	pool.Deposit(a, nil, nil)
	pool.Deposit(b, nil, nil)
	if pool.Live() != 0 {
		t.Errorf("Live() = %d after deposits, want 0", pool.Live())
	}
	if pool.Collects() != 2 || pool.Deposits() != 2 {
		t.Errorf("collects/deposits = %d/%d, want 2/2", pool.Collects(), pool.Deposits())
	}
}

func TestAcquireDrawable(t *testing.T) {
	dev := NewDevice(1)
	dr, err := dev.AcquireDrawable("swapchain", 800, 600)
	if err != nil {
		t.Fatalf("AcquireDrawable: %v", err)
	}
	if dr.Label() != "swapchain" {
		t.Errorf("Label() = %q", dr.Label())
	}
	dr.Present()
	got := dev.Drawables()
	if len(got) != 1 || !got[0].Presented() {
		t.Errorf("drawables = %v, want one presented", got)
	}

	dev.DrawableErr = backend.ErrDrawableUnavailable
	if _, err := dev.AcquireDrawable("swapchain", 800, 600); !errors.Is(err, backend.ErrDrawableUnavailable) {
		t.Errorf("AcquireDrawable with DrawableErr = %v", err)
	}
}

func TestReset(t *testing.T) {
	dev := NewDevice(1)
	dev.AcquireDrawable("w", 1, 1)
	cb, _ := dev.Queues()[0].NewCommandBuffer("frame")
	ev, _ := dev.NewEvent()
	cb.EncodeWait(ev, 1)
	cb.Commit(nil)

	dev.Reset()
	if len(dev.Ops()) != 0 || len(dev.Violations()) != 0 || len(dev.Drawables()) != 0 {
		t.Error("Reset left recorded state behind")
	}
}

func TestOpKindString(t *testing.T) {
	if got := OpWaitFence.String(); got != "WaitFence" {
		t.Errorf("String() = %q, want WaitFence", got)
	}
	if got := OpKind(200).String(); got != "Unknown" {
		t.Errorf("String() = %q, want Unknown", got)
	}
}
