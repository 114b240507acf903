package framegraph

import (
	"fmt"

	"github.com/gogpu/framegraph/backend"
)

// PassType identifies the kind of a pass. The set is closed: the two
// dispatch points (encoder selection and command execution) switch
// exhaustively over it so hazard generation can never accidentally
// special-case an unknown kind.
type PassType uint8

const (
	// PassDraw renders into a set of attachments.
	PassDraw PassType = iota

	// PassCompute dispatches compute work.
	PassCompute

	// PassBlit copies between resources.
	PassBlit

	// PassExternal records into the command buffer through externally
	// owned code. External passes always get their own command buffer.
	PassExternal

	// PassCPU runs CPU-side work before GPU submission. CPU passes
	// occupy command indices for ordering but encode nothing.
	PassCPU
)

// String returns the pass type name.
func (t PassType) String() string {
	switch t {
	case PassDraw:
		return "Draw"
	case PassCompute:
		return "Compute"
	case PassBlit:
		return "Blit"
	case PassExternal:
		return "External"
	case PassCPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// QueueID identifies one of the session's command queues.
type QueueID uint8

// usageDecl is a declared access, pass-relative. Expanded into a
// ResourceUsage with global command indices at compile time.
type usageDecl struct {
	resource *Resource
	access   AccessKind
	stages   Stage

	// firstCmd/lastCmd are command offsets within the pass (inclusive).
	// A negative lastCmd means "through the last command of the pass".
	firstCmd, lastCmd int

	affectsBarriers bool
}

// PassRecord wraps one declared pass: its type, payload callback, declared
// resource accesses, and the per-frame indexing state the compiler fills
// in. Records are created through NewDrawPass, NewComputePass, NewBlitPass,
// NewExternalPass, and NewCPUPass, and may be reused across frames.
type PassRecord struct {
	name     string
	typ      PassType
	queue    QueueID
	commands int

	// Exactly one of these is set, matching typ.
	draw     func(enc backend.RenderEncoder, cmd int)
	compute  func(enc backend.ComputeEncoder, cmd int)
	blit     func(enc backend.BlitEncoder, cmd int)
	external func() error
	cpu      func()

	// renderTarget holds the declared attachments of a draw pass.
	renderTarget *RenderTarget

	decls []usageDecl

	active bool

	// Per-frame compiler state.
	index       int  // position in the frame's pass list
	first, last int  // global command-index range
	encoder     int  // command-encoder index, -1 while unassigned
	usesWindow  bool // touches a window-handle texture
}

func newPass(name string, typ PassType, commands int) *PassRecord {
	if commands < 1 {
		commands = 1
	}
	return &PassRecord{
		name:     name,
		typ:      typ,
		commands: commands,
		active:   true,
		encoder:  -1,
	}
}

// NewDrawPass creates a draw pass rendering into rt with the given number
// of native draw commands. fn is invoked once per command during
// execution; it may be nil for passes that only exist for their
// attachment load/store effects.
func NewDrawPass(name string, rt *RenderTarget, commands int, fn func(enc backend.RenderEncoder, cmd int)) *PassRecord {
	if rt == nil {
		panic(fmt.Sprintf("framegraph: draw pass %q has no render target", name))
	}
	p := newPass(name, PassDraw, commands)
	p.renderTarget = rt
	p.draw = fn
	return p
}

// NewComputePass creates a compute pass with the given number of native
// dispatch commands.
func NewComputePass(name string, commands int, fn func(enc backend.ComputeEncoder, cmd int)) *PassRecord {
	p := newPass(name, PassCompute, commands)
	p.compute = fn
	return p
}

// NewBlitPass creates a blit pass with the given number of native copy
// commands.
func NewBlitPass(name string, commands int, fn func(enc backend.BlitEncoder, cmd int)) *PassRecord {
	p := newPass(name, PassBlit, commands)
	p.blit = fn
	return p
}

// NewExternalPass creates a pass recorded by externally owned code.
// External passes always occupy a command buffer of their own.
func NewExternalPass(name string, fn func() error) *PassRecord {
	p := newPass(name, PassExternal, 1)
	p.external = fn
	return p
}

// NewCPUPass creates a CPU-side pass. Its declared accesses order against
// GPU work but encode nothing.
func NewCPUPass(name string, fn func()) *PassRecord {
	p := newPass(name, PassCPU, 1)
	p.cpu = fn
	return p
}

// Name returns the pass name.
func (p *PassRecord) Name() string { return p.name }

// Type returns the pass type.
func (p *PassRecord) Type() PassType { return p.typ }

// Queue returns the queue the pass executes on.
func (p *PassRecord) Queue() QueueID { return p.queue }

// OnQueue assigns the pass to a queue. The default is queue 0.
// Returns p for chaining.
func (p *PassRecord) OnQueue(q QueueID) *PassRecord {
	p.queue = q
	return p
}

// Active reports whether the pass participates in the frame.
func (p *PassRecord) Active() bool { return p.active }

// SetActive culls or revives the pass. Inactive passes are retained in
// the pass list for stable indexing but contribute no usages, encoders,
// or commands.
func (p *PassRecord) SetActive(active bool) { p.active = active }

// declare records an access with whole-pass command range.
func (p *PassRecord) declare(r *Resource, access AccessKind, stages Stage) *PassRecord {
	if r == nil {
		panic(fmt.Sprintf("framegraph: pass %q declares nil resource", p.name))
	}
	if stages == 0 {
		panic(fmt.Sprintf("framegraph: pass %q access to %s has empty stage mask", p.name, r))
	}
	p.decls = append(p.decls, usageDecl{
		resource:        r,
		access:          access,
		stages:          stages,
		firstCmd:        0,
		lastCmd:         -1,
		affectsBarriers: true,
	})
	return p
}

// Reads declares that the pass reads r in the given stages.
func (p *PassRecord) Reads(r *Resource, stages Stage) *PassRecord {
	return p.declare(r, AccessRead, stages)
}

// Writes declares that the pass writes r in the given stages.
func (p *PassRecord) Writes(r *Resource, stages Stage) *PassRecord {
	return p.declare(r, AccessWrite, stages)
}

// ReadsWrites declares a combined read-write access to r.
func (p *PassRecord) ReadsWrites(r *Resource, stages Stage) *PassRecord {
	return p.declare(r, AccessReadWrite, stages)
}

// ReadsRange declares a read limited to the pass's command offsets
// [firstCmd, lastCmd] (inclusive, zero-based).
func (p *PassRecord) ReadsRange(r *Resource, stages Stage, firstCmd, lastCmd int) *PassRecord {
	p.declare(r, AccessRead, stages)
	d := &p.decls[len(p.decls)-1]
	d.firstCmd, d.lastCmd = firstCmd, lastCmd
	return p
}

// WritesRange declares a write limited to the pass's command offsets
// [firstCmd, lastCmd] (inclusive, zero-based).
func (p *PassRecord) WritesRange(r *Resource, stages Stage, firstCmd, lastCmd int) *PassRecord {
	p.declare(r, AccessWrite, stages)
	d := &p.decls[len(p.decls)-1]
	d.firstCmd, d.lastCmd = firstCmd, lastCmd
	return p
}

// Untracked declares an access that orders lifetime (materialize/dispose)
// but must not emit residency or barrier commands; the caller
// synchronizes it externally.
func (p *PassRecord) Untracked(r *Resource, access AccessKind, stages Stage) *PassRecord {
	p.declare(r, access, stages)
	p.decls[len(p.decls)-1].affectsBarriers = false
	return p
}

// String returns a short diagnostic description.
func (p *PassRecord) String() string {
	return fmt.Sprintf("%s(%q)", p.typ, p.name)
}

// defaultStages returns the stage mask implied by the pass type, used for
// attachment usages.
func (p *PassRecord) defaultStages() Stage {
	switch p.typ {
	case PassDraw:
		return StageFragment
	case PassCompute:
		return StageCompute
	case PassBlit:
		return StageBlit
	case PassExternal:
		return StageVertex | StageFragment | StageCompute | StageBlit
	case PassCPU:
		return StageCPUBeforeRender
	default:
		return 0
	}
}

// expandDecls converts declared accesses into ResourceUsages with global
// command indices, appending them to each resource's usage list. Draw
// passes additionally contribute render-target-role usages for their
// attachments.
func (p *PassRecord) expandDecls() {
	clamp := func(cmd int) int {
		if cmd < 0 || cmd >= p.commands {
			return p.commands - 1
		}
		return cmd
	}
	for _, d := range p.decls {
		first := p.first + clamp(d.firstCmd)
		last := p.first + clamp(d.lastCmd)
		if last < first {
			last = first
		}
		d.resource.addUsage(ResourceUsage{
			Pass:            p,
			First:           first,
			Last:            last,
			Access:          d.access,
			Stages:          d.stages,
			AffectsBarriers: d.affectsBarriers,
		})
		if d.resource.flags&ResourceWindowHandle != 0 {
			p.usesWindow = true
		}
	}
	if p.typ == PassDraw && p.renderTarget != nil {
		p.renderTarget.expandUsages(p)
	}
}
