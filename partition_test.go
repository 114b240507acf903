package framegraph

import "testing"

func TestPartitionByPassType(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	buf := testBuffer(g, "data", 0)
	tex := testTexture(g, "color", 0)
	passes := []*PassRecord{
		NewComputePass("simulate", 2, nil).Writes(buf, StageCompute),
		NewDrawPass("scene", colorTarget(tex, true), 3, nil).Reads(buf, StageVertex),
		NewBlitPass("copy", 1, nil).Reads(tex, StageBlit),
	}
	c := g.compile(passes)

	if got := len(c.plan.encoders); got != 3 {
		t.Fatalf("encoders = %d, want 3", got)
	}
	wantTypes := []PassType{PassCompute, PassDraw, PassBlit}
	for i, want := range wantTypes {
		if c.plan.encoders[i].Type != want {
			t.Errorf("encoder %d type = %v, want %v", i, c.plan.encoders[i].Type, want)
		}
	}
	if got := len(c.plan.buffers); got != 1 {
		t.Errorf("buffers = %d, want 1 (single queue, no transitions)", got)
	}

	// Command ranges are contiguous across passes.
	wantRanges := [][2]int{{0, 1}, {2, 4}, {5, 5}}
	for i, want := range wantRanges {
		e := c.plan.encoders[i]
		if e.First != want[0] || e.Last != want[1] {
			t.Errorf("encoder %d range = [%d,%d], want %v", i, e.First, e.Last, want)
		}
	}
}

func TestPartitionQueueTransition(t *testing.T) {
	g, _ := newTestGraph(t, 2)

	a := testBuffer(g, "a", 0)
	b := testBuffer(g, "b", 0)
	passes := []*PassRecord{
		NewComputePass("main-queue", 1, nil).Writes(a, StageCompute),
		NewComputePass("async-queue", 1, nil).Writes(b, StageCompute).OnQueue(1),
	}
	c := g.compile(passes)

	if got := len(c.plan.encoders); got != 2 {
		t.Fatalf("encoders = %d, want 2 (queue change splits)", got)
	}
	if got := len(c.plan.buffers); got != 2 {
		t.Fatalf("buffers = %d, want 2", got)
	}
	if c.plan.buffers[0].Queue != 0 || c.plan.buffers[1].Queue != 1 {
		t.Errorf("buffer queues = %d/%d, want 0/1", c.plan.buffers[0].Queue, c.plan.buffers[1].Queue)
	}
	if c.plan.buffers[0].SubmitValue != 1 || c.plan.buffers[1].SubmitValue != 1 {
		t.Errorf("submit values = %d/%d, want 1/1 (independent counters)",
			c.plan.buffers[0].SubmitValue, c.plan.buffers[1].SubmitValue)
	}
}

func TestPartitionExternalPassOwnBuffer(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	a := testBuffer(g, "a", 0)
	passes := []*PassRecord{
		NewComputePass("before", 1, nil).Writes(a, StageCompute),
		NewExternalPass("plugin", func() error { return nil }).
			Reads(a, StageCompute),
		NewComputePass("after", 1, nil).Reads(a, StageCompute),
	}
	c := g.compile(passes)

	if got := len(c.plan.buffers); got != 3 {
		t.Fatalf("buffers = %d, want 3 (external pass isolated)", got)
	}
	if !c.plan.buffers[1].External {
		t.Error("middle buffer not marked external")
	}
}

func TestPartitionCPUPassInvisible(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	a := testBuffer(g, "a", 0)
	passes := []*PassRecord{
		NewComputePass("first", 1, nil).Writes(a, StageCompute),
		NewCPUPass("think", nil),
		NewComputePass("second", 1, nil).Reads(a, StageCompute),
	}
	c := g.compile(passes)

	// The CPU pass neither occupies an encoder nor splits the compute run.
	if got := len(c.plan.encoders); got != 1 {
		t.Fatalf("encoders = %d, want 1", got)
	}
	if got := len(c.plan.buffers); got != 1 {
		t.Errorf("buffers = %d, want 1", got)
	}
}

func TestPartitionEmpty(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	c := g.compile(nil)
	if len(c.plan.encoders) != 0 || len(c.plan.buffers) != 0 {
		t.Errorf("empty frame partition = %d encoders / %d buffers",
			len(c.plan.encoders), len(c.plan.buffers))
	}
}

func TestPartitionSubmitValuesAdvanceAcrossFrames(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	a := testBuffer(g, "a", ResourcePersistent)
	frame := func() []*PassRecord {
		return []*PassRecord{
			NewComputePass("tick", 1, nil).Writes(a, StageCompute),
		}
	}
	if err := g.Execute(frame(), nil); err != nil {
		t.Fatalf("Execute = %v", err)
	}
	c := g.compile(frame())
	if got := c.plan.buffers[0].SubmitValue; got != 2 {
		t.Errorf("second frame SubmitValue = %d, want 2", got)
	}
}

func TestEncoderForCommand(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	a := testBuffer(g, "a", 0)
	tex := testTexture(g, "color", 0)
	passes := []*PassRecord{
		NewComputePass("sim", 2, nil).Writes(a, StageCompute),
		NewDrawPass("draw", colorTarget(tex, true), 2, nil).Reads(a, StageVertex),
	}
	c := g.compile(passes)

	tests := []struct {
		cmd  int
		want int
	}{
		{0, 0}, {1, 0}, {2, 1}, {3, 1}, {4, -1}, {-1, -1},
	}
	for _, tt := range tests {
		if got := c.plan.encoderForCommand(tt.cmd); got != tt.want {
			t.Errorf("encoderForCommand(%d) = %d, want %d", tt.cmd, got, tt.want)
		}
	}
}
