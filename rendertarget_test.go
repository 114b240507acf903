package framegraph

import (
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
)

func colorTarget(tex *Resource, clear bool) *RenderTarget {
	return &RenderTarget{
		Color: []Attachment{{Texture: tex, Clear: clear}},
	}
}

func TestMergeConsecutiveDrawPasses(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	tex := testTexture(g, "color", 0)
	passes := []*PassRecord{
		NewDrawPass("opaque", colorTarget(tex, true), 2, nil),
		NewDrawPass("transparent", colorTarget(tex, false), 3, nil),
	}
	c := g.compile(passes)

	if c.targets[0] == nil || c.targets[0] != c.targets[1] {
		t.Fatal("consecutive draw passes over the same attachment did not share a descriptor")
	}
	d := c.targets[0]
	if d.Label != "opaque+transparent" {
		t.Errorf("Label = %q, want opaque+transparent", d.Label)
	}
	if len(c.plan.encoders) != 1 {
		t.Errorf("encoders = %d, want 1 (merged render pass)", len(c.plan.encoders))
	}
	if d.Color[0].Load != LoadClear {
		t.Errorf("Load = %v, want Clear (first pass cleared)", d.Color[0].Load)
	}
	if d.Color[0].Store != StoreDontCare {
		t.Errorf("Store = %v, want DontCare (transient, never read again)", d.Color[0].Store)
	}
}

func TestMergeRejectsLaterClear(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	tex := testTexture(g, "color", 0)
	passes := []*PassRecord{
		NewDrawPass("first", colorTarget(tex, false), 1, nil),
		NewDrawPass("second", colorTarget(tex, true), 1, nil),
	}
	c := g.compile(passes)

	if c.targets[0] == c.targets[1] {
		t.Fatal("pass clearing an already-referenced attachment merged into the group")
	}
	if len(c.plan.encoders) != 2 {
		t.Errorf("encoders = %d, want 2", len(c.plan.encoders))
	}
}

func TestMergeRejectsDifferentAttachment(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	texA := testTexture(g, "a", 0)
	texB := testTexture(g, "b", 0)
	passes := []*PassRecord{
		NewDrawPass("into-a", colorTarget(texA, true), 1, nil),
		NewDrawPass("into-b", colorTarget(texB, true), 1, nil),
	}
	c := g.compile(passes)

	if c.targets[0] == c.targets[1] {
		t.Fatal("draw passes over different attachments merged")
	}
	if c.targets[0].ID == c.targets[1].ID {
		t.Error("distinct descriptors share an ID")
	}
}

func TestMergeFillsEmptySlots(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	texA := testTexture(g, "a", 0)
	texB := testTexture(g, "b", 0)
	passes := []*PassRecord{
		NewDrawPass("one-slot", &RenderTarget{
			Color: []Attachment{{Texture: texA, Clear: true}},
		}, 1, nil),
		NewDrawPass("two-slots", &RenderTarget{
			Color: []Attachment{{Texture: texA}, {Texture: texB}},
		}, 1, nil),
	}
	c := g.compile(passes)

	if c.targets[0] != c.targets[1] {
		t.Fatal("second pass adding a new slot did not merge")
	}
	d := c.targets[0]
	if len(d.Color) != 2 || d.Color[1].Texture != texB {
		t.Fatalf("merged descriptor slots = %d, want texB in slot 1", len(d.Color))
	}
}

func TestInactiveDrawPassDoesNotBreakMerge(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	tex := testTexture(g, "color", 0)
	culled := NewDrawPass("culled", colorTarget(tex, false), 1, nil)
	culled.SetActive(false)

	passes := []*PassRecord{
		NewDrawPass("first", colorTarget(tex, true), 1, nil),
		culled,
		NewDrawPass("second", colorTarget(tex, false), 1, nil),
	}
	c := g.compile(passes)

	if c.targets[0] == nil || c.targets[0] != c.targets[2] {
		t.Error("inactive pass between mergeable draw passes broke the group")
	}
	if c.targets[1] != nil {
		t.Error("inactive pass received a descriptor")
	}
}

// A CPU upload before the draw is a prior usage: the attachment must
// load, not discard, the uploaded contents.
func TestCPUWriteBeforeDrawForcesLoad(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	tex := testTexture(g, "uploaded", 0)
	passes := []*PassRecord{
		NewCPUPass("upload", nil).Writes(tex, StageCPUBeforeRender),
		NewDrawPass("draw", colorTarget(tex, false), 1, nil),
	}
	c := g.compile(passes)

	if got := c.targets[1].Color[0].Load; got != LoadLoad {
		t.Errorf("Load = %v, want Load (CPU upload preceded the draw)", got)
	}
}

func TestStoreActionPersistentAndReadAfter(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	persisted := testTexture(g, "persisted", ResourcePersistent)
	readBack := testTexture(g, "readback", 0)
	sink := testBuffer(g, "sink", 0)

	passes := []*PassRecord{
		NewDrawPass("draw-persistent", colorTarget(persisted, true), 1, nil),
		NewDrawPass("draw-readback", colorTarget(readBack, true), 1, nil),
		NewBlitPass("copy-out", 1, nil).
			Reads(readBack, StageBlit).
			Writes(sink, StageBlit),
	}
	c := g.compile(passes)

	if got := c.targets[0].Color[0].Store; got != StoreStore {
		t.Errorf("persistent attachment Store = %v, want Store", got)
	}
	if got := c.targets[1].Color[0].Store; got != StoreStore {
		t.Errorf("read-after attachment Store = %v, want Store", got)
	}
}

func TestMemorylessAttachmentNeverLoadsOrStores(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	tile := g.NewTexture(TextureDescriptor{
		Width:   256,
		Height:  256,
		Format:  gputypes.TextureFormatDepth24PlusStencil8,
		Usage:   gputypes.TextureUsageRenderAttachment,
		Storage: StorageMemoryless,
	}, 0, "depth-tile")
	color := testTexture(g, "color", 0)

	passes := []*PassRecord{
		NewDrawPass("depth-only", &RenderTarget{
			Color:        []Attachment{{Texture: color, Clear: true}},
			DepthStencil: &Attachment{Texture: tile, ReadWrite: true},
		}, 1, nil),
	}
	c := g.compile(passes)

	ds := c.targets[0].DepthStencil
	if ds.Load != LoadDontCare {
		t.Errorf("memoryless Load = %v, want DontCare", ds.Load)
	}
	if ds.Store != StoreDontCare {
		t.Errorf("memoryless Store = %v, want DontCare", ds.Store)
	}
}

func TestResolveAttachmentStoreActions(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	msaa := g.NewTexture(TextureDescriptor{
		Width:       256,
		Height:      256,
		SampleCount: 4,
		Format:      gputypes.TextureFormatRGBA8Unorm,
		Usage:       gputypes.TextureUsageRenderAttachment,
	}, 0, "msaa")
	resolved := testTexture(g, "resolved", ResourcePersistent)

	passes := []*PassRecord{
		NewDrawPass("scene", &RenderTarget{
			Color: []Attachment{{Texture: msaa, Clear: true, ResolveTexture: resolved}},
		}, 1, nil),
	}
	c := g.compile(passes)

	if got := c.targets[0].Color[0].Store; got != StoreResolve {
		t.Errorf("Store = %v, want Resolve (MSAA source is transient)", got)
	}
}

func TestMismatchedAttachmentSizesPanic(t *testing.T) {
	g, _ := newTestGraph(t, 1)

	big := testTexture(g, "big", 0)
	small := g.NewTexture(TextureDescriptor{
		Width:  64,
		Height: 64,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageRenderAttachment,
	}, 0, "small")

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("mismatched attachment sizes did not panic")
		}
		if msg, ok := r.(string); !ok || !strings.Contains(msg, "framegraph") {
			t.Errorf("panic = %v, want framegraph diagnostic", r)
		}
	}()
	g.compile([]*PassRecord{
		NewDrawPass("broken", &RenderTarget{
			Color: []Attachment{{Texture: big}, {Texture: small}},
		}, 1, nil),
	})
}

func TestLoadStoreActionStrings(t *testing.T) {
	if got := LoadClear.String(); got != "Clear" {
		t.Errorf("LoadClear.String() = %q", got)
	}
	if got := StoreStoreAndResolve.String(); got != "StoreAndResolve" {
		t.Errorf("StoreStoreAndResolve.String() = %q", got)
	}
	if got := LoadAction(99).String(); got != "Unknown" {
		t.Errorf("invalid LoadAction.String() = %q", got)
	}
}
