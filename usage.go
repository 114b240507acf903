package framegraph

import "github.com/gogpu/framegraph/backend"

// Stage is a bitmask of pipeline stages an access occurs in.
type Stage uint8

const (
	// StageVertex covers vertex shading.
	StageVertex Stage = 1 << iota

	// StageFragment covers fragment shading and attachment output.
	StageFragment

	// StageCompute covers compute dispatches.
	StageCompute

	// StageBlit covers copy/blit operations.
	StageBlit

	// StageCPUBeforeRender marks a CPU-side access that completes before
	// any GPU work for the frame is submitted. Such usages never
	// participate in GPU hazard tracking.
	StageCPUBeforeRender
)

// String returns a compact representation such as "Vertex|Fragment".
func (s Stage) String() string {
	if s == 0 {
		return "None"
	}
	var out string
	add := func(bit Stage, name string) {
		if s&bit == 0 {
			return
		}
		if out != "" {
			out += "|"
		}
		out += name
	}
	add(StageVertex, "Vertex")
	add(StageFragment, "Fragment")
	add(StageCompute, "Compute")
	add(StageBlit, "Blit")
	add(StageCPUBeforeRender, "CPUBeforeRender")
	return out
}

// first returns the earliest stage bit set, for barrier placement.
func (s Stage) first() Stage {
	return s & -s
}

// toBackend converts to the backend stage mask.
func (s Stage) toBackend() backend.Stage {
	return backend.Stage(s &^ StageCPUBeforeRender)
}

// AccessKind describes how a single usage touches a resource.
type AccessKind uint8

const (
	// AccessRead is a shader or blit read.
	AccessRead AccessKind = iota

	// AccessWrite is a shader or blit write.
	AccessWrite

	// AccessReadWrite reads and writes in the same usage.
	AccessReadWrite

	// AccessWriteOnlyRenderTarget writes an attachment without reading
	// prior contents.
	AccessWriteOnlyRenderTarget

	// AccessReadWriteRenderTarget reads and writes an attachment
	// (blending, depth test+write).
	AccessReadWriteRenderTarget

	// AccessInputAttachmentRenderTarget reads an attachment as an input
	// attachment while it stays bound to the render target.
	AccessInputAttachmentRenderTarget

	// AccessUnusedRenderTarget keeps an attachment bound without
	// accessing it (an unused slot of a merged render target).
	AccessUnusedRenderTarget
)

// String returns the access kind name.
func (a AccessKind) String() string {
	switch a {
	case AccessRead:
		return "Read"
	case AccessWrite:
		return "Write"
	case AccessReadWrite:
		return "ReadWrite"
	case AccessWriteOnlyRenderTarget:
		return "WriteOnlyRenderTarget"
	case AccessReadWriteRenderTarget:
		return "ReadWriteRenderTarget"
	case AccessInputAttachmentRenderTarget:
		return "InputAttachmentRenderTarget"
	case AccessUnusedRenderTarget:
		return "UnusedRenderTarget"
	default:
		return "Unknown"
	}
}

// isRead reports whether the access observes the resource's contents.
func (a AccessKind) isRead() bool {
	switch a {
	case AccessRead, AccessReadWrite, AccessReadWriteRenderTarget, AccessInputAttachmentRenderTarget:
		return true
	}
	return false
}

// isWrite reports whether the access can modify the resource's contents.
func (a AccessKind) isWrite() bool {
	switch a {
	case AccessWrite, AccessReadWrite, AccessWriteOnlyRenderTarget, AccessReadWriteRenderTarget:
		return true
	}
	return false
}

// isRenderTarget reports whether the access is an attachment role. Render
// target roles are made resident by the render pass descriptor itself and
// are excluded from residency tracking; hazards between compatible render
// target roles within one render pass need no explicit barrier.
func (a AccessKind) isRenderTarget() bool {
	switch a {
	case AccessWriteOnlyRenderTarget, AccessReadWriteRenderTarget,
		AccessInputAttachmentRenderTarget, AccessUnusedRenderTarget:
		return true
	}
	return false
}

// residency returns the residency bits implied by the access.
func (a AccessKind) residency() backend.Residency {
	var res backend.Residency
	if a.isRead() {
		res |= backend.ResidencyRead
	}
	if a.isWrite() {
		res |= backend.ResidencyWrite
	}
	return res
}

// ResourceUsage is one ordered access to a resource.
//
// Usages for a resource are stored in non-decreasing command-index order.
// Two usages of the same resource may only overlap in command range when
// both are pure reads.
type ResourceUsage struct {
	// Pass is the owning pass record.
	Pass *PassRecord

	// First and Last delimit the global command-index range of the usage
	// within the pass (inclusive).
	First, Last int

	// Access is how the resource is touched.
	Access AccessKind

	// Stages is the pipeline stage set of the access. A usage with an
	// empty stage mask is a caller contract violation.
	Stages Stage

	// AffectsBarriers is false for bookkeeping-only usages that must not
	// emit residency or barrier commands (e.g. indirect references that
	// the caller synchronizes externally).
	AffectsBarriers bool
}

// encoder returns the command-encoder index the usage executes in.
func (u *ResourceUsage) encoder() int { return u.Pass.encoder }
