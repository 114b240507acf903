package framegraph

import (
	"testing"

	"github.com/gogpu/framegraph/backend/software"
)

// Residency commands with the same stage/usage key inside one encoder
// batch into a single call over the union of resources.
func TestCompactBatchesResidency(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	a := testBuffer(g, "a", 0)
	b := testBuffer(g, "b", 0)
	c := testBuffer(g, "c", 0)
	passes := []*PassRecord{
		NewComputePass("fill", 1, nil).
			Writes(a, StageCompute).
			Writes(b, StageCompute).
			Writes(c, StageCompute),
	}
	comp := g.compile(passes)

	uses := commandsOf(comp, CmdUseResource)
	if len(uses) != 1 {
		t.Fatalf("residency commands = %d, want 1 batched call", len(uses))
	}
	if len(uses[0].Resources) != 3 {
		t.Errorf("batched resources = %d, want 3", len(uses[0].Resources))
	}
}

// Draw-encoder residency must stay precisely ordered: no batching.
func TestCompactDrawResidencyStaysSingleton(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	tex := testTexture(g, "color", 0)
	a := testBuffer(g, "a", 0)
	b := testBuffer(g, "b", 0)

	// Initialise the buffers in a prior encoder so the draw pass reads
	// valid contents.
	passes := []*PassRecord{
		NewComputePass("init", 1, nil).
			Writes(a, StageCompute).
			Writes(b, StageCompute),
		NewDrawPass("scene", colorTarget(tex, true), 1, nil).
			Reads(a, StageVertex).
			Reads(b, StageVertex),
	}
	comp := g.compile(passes)

	var drawUses []Command
	for _, cmd := range commandsOf(comp, CmdUseResource) {
		if cmd.Encoder == 1 {
			drawUses = append(drawUses, cmd)
		}
	}
	if len(drawUses) != 2 {
		t.Fatalf("draw-encoder residency commands = %d, want 2 singletons", len(drawUses))
	}
	for _, u := range drawUses {
		if !u.NoBatch {
			t.Error("draw-encoder residency lost its NoBatch mark")
		}
		if len(u.Resources) != 1 {
			t.Errorf("draw residency batched %d resources, want 1", len(u.Resources))
		}
	}
}

// Barriers against the same producing write coalesce into one command.
func TestCompactCoalescesBarriers(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	a := testBuffer(g, "a", 0)
	b := testBuffer(g, "b", 0)
	sink := testBuffer(g, "sink", 0)
	passes := []*PassRecord{
		NewComputePass("produce", 1, nil).
			Writes(a, StageCompute).
			Writes(b, StageCompute),
		NewComputePass("consume", 1, nil).
			Reads(a, StageCompute).
			Reads(b, StageCompute).
			Writes(sink, StageCompute),
	}
	comp := g.compile(passes)

	if comp.stats.Barriers != 2 {
		t.Errorf("raw barriers = %d, want 2 (one per resource)", comp.stats.Barriers)
	}
	compiled := commandsOf(comp, CmdMemoryBarrier)
	if len(compiled) != 1 {
		t.Fatalf("compiled barriers = %d, want 1 coalesced", len(compiled))
	}
	if len(compiled[0].Resources) != 2 {
		t.Errorf("coalesced barrier covers %d resources, want 2", len(compiled[0].Resources))
	}
}

// Past the scope threshold the explicit list collapses into a scoped
// barrier over the affected resource classes.
func TestCompactCollapsesToScopedBarrier(t *testing.T) {
	dev := software.NewDevice(1)
	g, err := New(WithDevice(dev), WithScopeThreshold(2))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	defer g.Close()

	producer := NewComputePass("produce", 1, nil)
	consumer := NewComputePass("consume", 1, nil)
	for i := 0; i < 3; i++ {
		buf := testBuffer(g, "buf", 0)
		producer.Writes(buf, StageCompute)
		consumer.Reads(buf, StageCompute)
	}
	comp := g.compile([]*PassRecord{producer, consumer})

	if got := len(commandsOf(comp, CmdMemoryBarrier)); got != 0 {
		t.Errorf("explicit barriers = %d, want 0 after collapse", got)
	}
	scoped := commandsOf(comp, CmdScopedBarrier)
	if len(scoped) != 1 {
		t.Fatalf("scoped barriers = %d, want 1", len(scoped))
	}
	if scoped[0].Scope == 0 {
		t.Error("scoped barrier has empty scope")
	}
	if comp.stats.ScopedBarriers != 1 {
		t.Errorf("stats.ScopedBarriers = %d, want 1", comp.stats.ScopedBarriers)
	}
}

// A barrier whose producing write lands after the pending flush position
// cannot join the pending batch.
func TestCompactBarrierLateProducerSplits(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	a := testBuffer(g, "a", 0)
	b := testBuffer(g, "b", 0)
	passes := []*PassRecord{
		NewComputePass("write-a", 1, nil).Writes(a, StageCompute),
		NewComputePass("read-a-write-b", 1, nil).
			Reads(a, StageCompute).
			Writes(b, StageCompute),
		NewComputePass("read-b", 1, nil).Reads(b, StageCompute),
	}
	comp := g.compile(passes)

	// b's producing write (index 1) is not before the first barrier's
	// position (index 1), so the barriers stay separate.
	compiled := commandsOf(comp, CmdMemoryBarrier)
	if len(compiled) != 2 {
		t.Fatalf("compiled barriers = %d, want 2 (no illegal coalescing)", len(compiled))
	}
	if compiled[0].Index != 1 || compiled[1].Index != 2 {
		t.Errorf("barrier positions = %d/%d, want 1/2", compiled[0].Index, compiled[1].Index)
	}
}
