package framegraph

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/backend/software"
)

// newTestGraph builds a session over a recording device so tests can
// inspect the operation log.
func newTestGraph(t *testing.T, queues int) (*Graph, *software.Device) {
	t.Helper()
	dev := software.NewDevice(queues)
	g, err := New(WithDevice(dev))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(g.Close)
	return g, dev
}

func testTexture(g *Graph, label string, flags ResourceFlags) *Resource {
	return g.NewTexture(TextureDescriptor{
		Width:  256,
		Height: 256,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	}, flags, label)
}

func testBuffer(g *Graph, label string, flags ResourceFlags) *Resource {
	return g.NewBuffer(BufferDescriptor{
		Length: 1024,
		Usage:  gputypes.BufferUsageStorage,
	}, flags, label)
}

func TestNewDefaultsToSoftware(t *testing.T) {
	g, err := New()
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	defer g.Close()
	if g.QueueCount() != 1 {
		t.Errorf("QueueCount() = %d, want 1", g.QueueCount())
	}
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(WithBackend("no-such-backend"))
	if !errors.Is(err, ErrNoBackend) {
		t.Errorf("New(unknown backend) = %v, want ErrNoBackend", err)
	}
}

func TestExecuteAfterClose(t *testing.T) {
	g, _ := newTestGraph(t, 1)
	g.Close()
	if err := g.Execute(nil, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute after Close = %v, want ErrClosed", err)
	}
}

func TestExecuteEmptyFrame(t *testing.T) {
	g, dev := newTestGraph(t, 1)

	calls := 0
	if err := g.Execute(nil, func() { calls++ }); err != nil {
		t.Fatalf("Execute(empty) = %v", err)
	}
	if calls != 1 {
		t.Errorf("onComplete ran %d times, want 1 (synchronous)", calls)
	}
	if stats := g.Stats(); stats.Encoders != 0 || stats.CommandBuffers != 0 {
		t.Errorf("empty frame produced %d encoders / %d buffers", stats.Encoders, stats.CommandBuffers)
	}
	if ops := dev.Ops(); len(ops) != 0 {
		t.Errorf("empty frame recorded %d ops", len(ops))
	}
}

func TestExecuteCPUOnlyFrame(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	ran := false
	done := false
	passes := []*PassRecord{
		NewCPUPass("prepare", func() { ran = true }),
	}
	if err := g.Execute(passes, func() { done = true }); err != nil {
		t.Fatalf("Execute = %v", err)
	}
	if !ran {
		t.Error("CPU pass did not run")
	}
	if !done {
		t.Error("onComplete did not run for CPU-only frame")
	}
}

func TestArgumentBufferViewRequiresArray(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	defer func() {
		if recover() == nil {
			t.Error("ArgumentBufferView on non-array did not panic")
		}
	}()
	buf := testBuffer(g, "plain", 0)
	g.ArgumentBufferView(buf, 64, "view")
}

func TestReleaseArrayViewPanics(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	arr := g.NewArgumentBufferArray(64, 4, ResourcePersistent, "materials")
	view := g.ArgumentBufferView(arr, 64, "material-0")

	defer func() {
		if recover() == nil {
			t.Error("Release of array view did not panic")
		}
	}()
	g.Release(view)
}

func TestStatsReflectLastFrame(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	buf := testBuffer(g, "data", 0)
	passes := []*PassRecord{
		NewComputePass("fill", 1, nil).Writes(buf, StageCompute),
	}
	if err := g.Execute(passes, nil); err != nil {
		t.Fatalf("Execute = %v", err)
	}
	stats := g.Stats()
	if stats.Passes != 1 {
		t.Errorf("Passes = %d, want 1", stats.Passes)
	}
	if stats.Encoders != 1 || stats.CommandBuffers != 1 {
		t.Errorf("Encoders/Buffers = %d/%d, want 1/1", stats.Encoders, stats.CommandBuffers)
	}
	if stats.Materialized != 1 || stats.Disposed != 1 {
		t.Errorf("Materialized/Disposed = %d/%d, want 1/1", stats.Materialized, stats.Disposed)
	}
}

func TestInactivePassIsCulled(t *testing.T) {
	g, dev := newTestGraph(t, 1)

	buf := testBuffer(g, "data", 0)
	ran := false
	fill := NewComputePass("fill", 1, func(enc backend.ComputeEncoder, cmd int) { ran = true }).
		Writes(buf, StageCompute)
	fill.SetActive(false)

	if err := g.Execute([]*PassRecord{fill}, nil); err != nil {
		t.Fatalf("Execute = %v", err)
	}
	if ran {
		t.Error("culled pass executed")
	}
	if stats := g.Stats(); stats.Passes != 0 || stats.Encoders != 0 {
		t.Errorf("culled frame stats = %d passes / %d encoders", stats.Passes, stats.Encoders)
	}
	if ops := dev.Ops(); len(ops) != 0 {
		t.Errorf("culled frame recorded %d ops", len(ops))
	}
}
