package framegraph

import (
	"fmt"
	"strings"
)

// LoadAction selects what happens to an attachment's contents when a
// merged render pass begins.
type LoadAction uint8

const (
	// LoadDontCare leaves the contents undefined.
	LoadDontCare LoadAction = iota

	// LoadLoad preserves the existing contents.
	LoadLoad

	// LoadClear clears to the attachment's clear value.
	LoadClear
)

// String returns the load action name.
func (a LoadAction) String() string {
	switch a {
	case LoadDontCare:
		return "DontCare"
	case LoadLoad:
		return "Load"
	case LoadClear:
		return "Clear"
	default:
		return "Unknown"
	}
}

// StoreAction selects what happens to an attachment's contents when a
// merged render pass ends.
type StoreAction uint8

const (
	// StoreDontCare discards the contents.
	StoreDontCare StoreAction = iota

	// StoreStore writes the contents to memory.
	StoreStore

	// StoreResolve resolves multisampled contents into the resolve
	// texture and discards the source.
	StoreResolve

	// StoreStoreAndResolve both stores and resolves.
	StoreStoreAndResolve
)

// String returns the store action name.
func (a StoreAction) String() string {
	switch a {
	case StoreDontCare:
		return "DontCare"
	case StoreStore:
		return "Store"
	case StoreResolve:
		return "Resolve"
	case StoreStoreAndResolve:
		return "StoreAndResolve"
	default:
		return "Unknown"
	}
}

// Attachment is one declared render-target binding of a draw pass.
type Attachment struct {
	// Texture is the attached resource. Must be a ResourceTexture.
	Texture *Resource

	// Slice, Level, and DepthPlane select the attached subresource.
	Slice, Level, DepthPlane uint32

	// Clear requests a clear at the start of the (merged) render pass.
	Clear bool

	// ClearColor is the clear value for color attachments.
	ClearColor [4]float64

	// ClearDepth is the clear value for depth attachments.
	ClearDepth float64

	// ResolveTexture, when set, receives the resolved contents of a
	// multisampled attachment at the end of the merged pass.
	ResolveTexture *Resource

	// ReadWrite marks attachments whose prior contents are read during
	// rendering (blending against loaded contents, depth test+write).
	ReadWrite bool

	// ReadOnly marks attachments that are only read (depth test without
	// write, input attachments).
	ReadOnly bool
}

// identityEqual reports whether two attachments bind the same
// subresource.
func (a *Attachment) identityEqual(b *Attachment) bool {
	return a.Texture == b.Texture &&
		a.Slice == b.Slice &&
		a.Level == b.Level &&
		a.DepthPlane == b.DepthPlane
}

// size returns the attachment's pixel dimensions at its mip level.
func (a *Attachment) size() (w, h uint32) {
	t := a.Texture.texture
	if t == nil {
		return 0, 0
	}
	w, h = t.Width>>a.Level, t.Height>>a.Level
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	return w, h
}

// role returns the render-target access role implied by the attachment
// settings.
func (a *Attachment) role() AccessKind {
	switch {
	case a.ReadOnly:
		return AccessInputAttachmentRenderTarget
	case a.ReadWrite:
		return AccessReadWriteRenderTarget
	default:
		return AccessWriteOnlyRenderTarget
	}
}

// RenderTarget is the declared attachment set of a draw pass.
type RenderTarget struct {
	// Color attachments, in slot order.
	Color []Attachment

	// DepthStencil is the optional depth/stencil attachment.
	DepthStencil *Attachment
}

// expandUsages contributes render-target-role usages for the pass's
// attachments. These are excluded from residency tracking (the render
// pass descriptor makes them resident) but drive load/store inference and
// hazard edges against non-attachment accesses.
func (rt *RenderTarget) expandUsages(p *PassRecord) {
	add := func(r *Resource, access AccessKind) {
		r.addUsage(ResourceUsage{
			Pass:            p,
			First:           p.first,
			Last:            p.last,
			Access:          access,
			Stages:          StageFragment,
			AffectsBarriers: true,
		})
		if r.flags&ResourceWindowHandle != 0 {
			p.usesWindow = true
		}
	}
	for i := range rt.Color {
		att := &rt.Color[i]
		if att.Texture == nil {
			continue
		}
		add(att.Texture, att.role())
		if att.ResolveTexture != nil {
			add(att.ResolveTexture, AccessWriteOnlyRenderTarget)
		}
	}
	if ds := rt.DepthStencil; ds != nil && ds.Texture != nil {
		add(ds.Texture, ds.role())
	}
}

// MergedAttachment is an attachment of a merged render-target descriptor
// with its computed load/store actions.
type MergedAttachment struct {
	Attachment
	Load  LoadAction
	Store StoreAction
}

// RenderTargetDescriptor is the merged render-target description shared
// by a run of consecutive draw passes. Descriptors carry a value identity
// (ID) assigned during merging; the partitioner compares IDs, never
// pointers.
type RenderTargetDescriptor struct {
	// ID is the descriptor's frame-unique identity.
	ID int

	// Label joins the names of the merged passes.
	Label string

	// Width and Height are the common attachment dimensions.
	Width, Height uint32

	Color        []MergedAttachment
	DepthStencil *MergedAttachment

	// FirstPass and LastPass delimit the merged pass-index range.
	FirstPass, LastPass int

	// firstCmd and lastCmd delimit the merged global command range.
	firstCmd, lastCmd int
}

// tryMerge attempts to fold pass p (a draw pass) into the descriptor.
// Attachments already present must match the incoming ones in subresource
// identity, all sizes must be identical, and an attachment may be cleared
// by at most one pass of the merged set. Returns false, leaving the
// descriptor unchanged, when the pass must start a new render target.
func (d *RenderTargetDescriptor) tryMerge(p *PassRecord) bool {
	rt := p.renderTarget

	// Identity checks first, without mutating.
	for i := range rt.Color {
		in := &rt.Color[i]
		if in.Texture == nil {
			continue
		}
		if w, h := in.size(); w != d.Width || h != d.Height {
			return false
		}
		if i < len(d.Color) && d.Color[i].Texture != nil {
			cur := &d.Color[i].Attachment
			if !cur.identityEqual(in) {
				return false
			}
			if in.Clear {
				// A later pass cannot clear an attachment the
				// merged set already references.
				return false
			}
		}
	}
	switch {
	case rt.DepthStencil == nil:
	case d.DepthStencil == nil:
		if w, h := rt.DepthStencil.size(); w != d.Width || h != d.Height {
			return false
		}
	default:
		if !d.DepthStencil.Attachment.identityEqual(rt.DepthStencil) {
			return false
		}
		if rt.DepthStencil.Clear {
			return false
		}
	}

	// Merge: fill empty slots, widen ranges.
	for len(d.Color) < len(rt.Color) {
		d.Color = append(d.Color, MergedAttachment{})
	}
	for i := range rt.Color {
		in := &rt.Color[i]
		if in.Texture == nil {
			continue
		}
		if d.Color[i].Texture == nil {
			d.Color[i].Attachment = *in
		} else if in.ReadWrite {
			d.Color[i].ReadWrite = true
		}
	}
	if rt.DepthStencil != nil {
		if d.DepthStencil == nil {
			d.DepthStencil = &MergedAttachment{Attachment: *rt.DepthStencil}
		} else if rt.DepthStencil.ReadWrite {
			d.DepthStencil.ReadWrite = true
		}
	}
	d.LastPass = p.index
	d.lastCmd = p.last
	d.Label += "+" + p.name
	return true
}

// finalize computes per-attachment load/store actions once no further
// pass can merge.
func (d *RenderTargetDescriptor) finalize() {
	for i := range d.Color {
		att := &d.Color[i]
		if att.Texture == nil {
			continue
		}
		att.Load, att.Store = d.attachmentOps(&att.Attachment)
	}
	if d.DepthStencil != nil && d.DepthStencil.Texture != nil {
		d.DepthStencil.Load, d.DepthStencil.Store = d.attachmentOps(&d.DepthStencil.Attachment)
	}
}

// attachmentOps derives the load/store actions for one attachment of the
// merged group.
func (d *RenderTargetDescriptor) attachmentOps(att *Attachment) (LoadAction, StoreAction) {
	r := att.Texture

	load := LoadLoad
	switch {
	case att.Clear:
		load = LoadClear
	case d.firstUseOf(r):
		load = LoadDontCare
	}

	store := StoreDontCare
	switch {
	case r.storage == StorageMemoryless:
		// Tile memory cannot be stored.
		store = StoreDontCare
	case r.persistent():
		store = StoreStore
	case d.usedAfter(r):
		// A future read needs the contents; an ambiguous future write
		// is treated as still needing them.
		store = StoreStore
	}
	if r.storage == StorageMemoryless && load == LoadLoad {
		// Tile memory has no prior contents to load.
		load = LoadDontCare
	}

	if att.ResolveTexture != nil {
		if store == StoreStore {
			store = StoreStoreAndResolve
		} else {
			store = StoreResolve
		}
	}
	return load, store
}

// firstUseOf reports whether the merged group contains the provable
// first-ever usage of r: nothing before the group this frame and no
// initialised prior-frame contents. CPU pre-render writes count as prior
// usages; their contents must survive into the pass.
func (d *RenderTargetDescriptor) firstUseOf(r *Resource) bool {
	if r.initialised {
		return false
	}
	for i := range r.usages {
		u := &r.usages[i]
		if !u.Pass.active {
			continue
		}
		return u.First >= d.firstCmd
	}
	return true
}

// usedAfter reports whether r has any active usage past the merged
// group's command span.
func (d *RenderTargetDescriptor) usedAfter(r *Resource) bool {
	for i := range r.usages {
		u := &r.usages[i]
		if !u.Pass.active {
			continue
		}
		if u.First > d.lastCmd {
			return true
		}
	}
	return false
}

// mergeRenderTargets walks the pass list and produces one descriptor per
// pass index: consecutive draw passes whose attachments merge share a
// descriptor, every other pass gets nil. Inactive passes neither merge
// nor break the current group.
func mergeRenderTargets(passes []*PassRecord) []*RenderTargetDescriptor {
	out := make([]*RenderTargetDescriptor, len(passes))
	var cur *RenderTargetDescriptor
	nextID := 1

	finalize := func() {
		if cur != nil {
			cur.finalize()
			cur = nil
		}
	}

	for i, p := range passes {
		if !p.active {
			continue
		}
		if p.typ != PassDraw {
			finalize()
			continue
		}
		if cur != nil && cur.tryMerge(p) {
			out[i] = cur
			continue
		}
		finalize()
		cur = startDescriptor(p, nextID)
		nextID++
		out[i] = cur
	}
	finalize()
	return out
}

// startDescriptor builds a fresh descriptor from a draw pass.
func startDescriptor(p *PassRecord, id int) *RenderTargetDescriptor {
	rt := p.renderTarget
	d := &RenderTargetDescriptor{
		ID:        id,
		Label:     p.name,
		FirstPass: p.index,
		LastPass:  p.index,
		firstCmd:  p.first,
		lastCmd:   p.last,
	}
	for i := range rt.Color {
		att := rt.Color[i]
		d.Color = append(d.Color, MergedAttachment{Attachment: att})
		if att.Texture != nil && d.Width == 0 {
			d.Width, d.Height = att.size()
		}
	}
	if rt.DepthStencil != nil {
		d.DepthStencil = &MergedAttachment{Attachment: *rt.DepthStencil}
		if d.Width == 0 {
			d.Width, d.Height = rt.DepthStencil.size()
		}
	}
	if err := d.validateSizes(); err != nil {
		panic(fmt.Sprintf("framegraph: %v", err))
	}
	return d
}

// validateSizes checks that every attachment matches the descriptor size.
func (d *RenderTargetDescriptor) validateSizes() error {
	check := func(att *Attachment) error {
		if att.Texture == nil {
			return nil
		}
		if w, h := att.size(); w != d.Width || h != d.Height {
			return fmt.Errorf("render target %q: attachment %s is %dx%d, want %dx%d",
				strings.SplitN(d.Label, "+", 2)[0], att.Texture, w, h, d.Width, d.Height)
		}
		return nil
	}
	for i := range d.Color {
		if err := check(&d.Color[i].Attachment); err != nil {
			return err
		}
	}
	if d.DepthStencil != nil {
		if err := check(&d.DepthStencil.Attachment); err != nil {
			return err
		}
	}
	return nil
}
