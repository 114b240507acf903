package framegraph

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/backend"
)

// ResourceID uniquely identifies a resource within a Graph session.
// IDs are never reused for the lifetime of the session.
type ResourceID uint32

// InvalidResourceID is the zero ResourceID; no resource carries it.
const InvalidResourceID ResourceID = 0

// ResourceType identifies the kind of a resource.
type ResourceType uint8

const (
	// ResourceBuffer is a linear GPU buffer.
	ResourceBuffer ResourceType = iota

	// ResourceTexture is a 1D/2D/3D texture or texture array.
	ResourceTexture

	// ResourceArgumentBuffer is an indirect argument/binding table.
	ResourceArgumentBuffer

	// ResourceArgumentBufferArray is a contiguous array of argument
	// buffers sharing one backing allocation. Individual argument
	// buffers created from an array are views into it and must be
	// disposed through the array, never individually.
	ResourceArgumentBufferArray
)

// String returns the resource type name.
func (t ResourceType) String() string {
	switch t {
	case ResourceBuffer:
		return "Buffer"
	case ResourceTexture:
		return "Texture"
	case ResourceArgumentBuffer:
		return "ArgumentBuffer"
	case ResourceArgumentBufferArray:
		return "ArgumentBufferArray"
	default:
		return "Unknown"
	}
}

// ResourceFlags describe lifetime and ownership properties of a resource.
// A resource with none of the lifetime flags set is transient: it lives
// for exactly one frame and is returned to the pool after its last usage.
type ResourceFlags uint16

const (
	// ResourcePersistent marks a resource that outlives the frame.
	// Persistent resources carry per-queue wait indices so accesses in
	// later frames (possibly on other queues) order correctly against
	// this frame's accesses.
	ResourcePersistent ResourceFlags = 1 << iota

	// ResourceHistoryBuffer marks a resource that intentionally carries
	// prior-frame data forward. History buffers are persistent and are
	// not disposed at end of frame once initialised.
	ResourceHistoryBuffer

	// ResourceWindowHandle marks a resource backed by a window-provided
	// drawable. Acquisition may fail transiently; passes touching such
	// resources force command-buffer boundaries.
	ResourceWindowHandle

	// ResourceExternalOwnership marks a resource whose backing memory is
	// owned outside the frame graph. It is never materialized or
	// disposed by the compiler.
	ResourceExternalOwnership

	// ResourceImmutableOnceInitialised marks a resource that must never
	// be written again after its initialised state is set. A write to an
	// initialised immutable resource is a caller contract violation and
	// panics during compilation.
	ResourceImmutableOnceInitialised
)

// persistent reports whether the flags describe a resource that outlives
// the frame.
func (f ResourceFlags) persistent() bool {
	return f&(ResourcePersistent|ResourceHistoryBuffer|ResourceWindowHandle|ResourceExternalOwnership) != 0
}

// StorageMode describes where a resource's memory lives.
type StorageMode uint8

const (
	// StorageShared memory is visible to both CPU and GPU.
	StorageShared StorageMode = iota

	// StorageManaged memory keeps separate CPU and GPU copies that are
	// synchronized explicitly.
	StorageManaged

	// StoragePrivate memory is GPU-only.
	StoragePrivate

	// StorageMemoryless contents exist only for the duration of a render
	// pass (tile memory); such textures are never loaded or stored.
	StorageMemoryless
)

// String returns the storage mode name.
func (m StorageMode) String() string {
	switch m {
	case StorageShared:
		return "Shared"
	case StorageManaged:
		return "Managed"
	case StoragePrivate:
		return "Private"
	case StorageMemoryless:
		return "Memoryless"
	default:
		return "Unknown"
	}
}

// BufferDescriptor describes parameters for creating a buffer resource.
type BufferDescriptor struct {
	// Length is the buffer size in bytes.
	Length uint64

	// Usage specifies how the buffer will be used.
	Usage gputypes.BufferUsage

	// Storage selects the memory placement. The zero value is
	// StorageShared.
	Storage StorageMode
}

// TextureDescriptor describes parameters for creating a texture resource.
type TextureDescriptor struct {
	// Width and Height are the texture dimensions in pixels.
	Width, Height uint32

	// Depth is the depth for 3D textures or the array layer count.
	// Zero is treated as 1.
	Depth uint32

	// MipLevelCount is the number of mipmap levels. Zero is treated as 1.
	MipLevelCount uint32

	// SampleCount is the multisample count. Zero is treated as 1.
	SampleCount uint32

	// Format is the pixel format.
	Format gputypes.TextureFormat

	// Usage specifies how the texture will be used.
	Usage gputypes.TextureUsage

	// Storage selects the memory placement.
	Storage StorageMode
}

// queueAccess records, for one queue, the submit index of the command
// buffer that last read and last wrote a resource. Persistent and history
// resources keep these across frames; any new usage must wait on the
// relevant prior index before the resource may be accessed.
type queueAccess struct {
	lastRead  uint64
	lastWrite uint64
}

// Resource is an opaque handle to a buffer, texture, or argument buffer
// tracked by a Graph session.
//
// Resources are created through the Graph (NewBuffer, NewTexture, ...) and
// referenced by passes. The compiler owns all lifetime decisions: transient
// resources are materialized at first usage and disposed after the last,
// persistent resources carry cross-frame synchronization state.
//
// A Resource must only be used with the Graph that created it.
type Resource struct {
	id      ResourceID
	label   string
	typ     ResourceType
	flags   ResourceFlags
	storage StorageMode

	// initialised is set after the first frame that writes the resource
	// completes compilation. Guards ResourceImmutableOnceInitialised.
	initialised bool

	buffer  *BufferDescriptor
	texture *TextureDescriptor

	// array is the owning argument-buffer array, when this resource is an
	// argument buffer carved from one. Such resources are views: they are
	// materialized after the array and must never be disposed directly.
	array *Resource

	// heap is non-nil when the resource's memory comes from an aliasing
	// heap. First use must wait on the previous occupant's fences.
	heap *Heap

	// queueAccess has one entry per session queue. Persists across frames
	// for persistent/history resources.
	queueAccess []queueAccess

	// usages is this frame's ordered access list. Reset at frame start.
	usages []ResourceUsage

	// backing is the pool allocation while materialized.
	backing backend.Backing

	// Window drawable acquisition is memoized per frame so repeated
	// lookups reuse the result instead of reacquiring (the acquisition
	// may involve a main-thread hop).
	drawable      backend.Drawable
	drawableErr   error
	drawableFrame uint64
}

// ID returns the resource's session-unique identifier.
func (r *Resource) ID() ResourceID { return r.id }

// Label returns the debug label given at creation.
func (r *Resource) Label() string { return r.label }

// Type returns the resource type.
func (r *Resource) Type() ResourceType { return r.typ }

// Flags returns the lifetime/ownership flags.
func (r *Resource) Flags() ResourceFlags { return r.flags }

// Storage returns the storage mode.
func (r *Resource) Storage() StorageMode { return r.storage }

// Initialised reports whether the resource has been written by a
// previously compiled frame.
func (r *Resource) Initialised() bool { return r.initialised }

// persistent reports whether the resource outlives the frame.
func (r *Resource) persistent() bool { return r.flags.persistent() }

// transient reports whether the resource is scoped to a single frame.
func (r *Resource) transient() bool { return !r.flags.persistent() }

// immutable reports whether further writes are forbidden.
func (r *Resource) immutable() bool {
	return r.initialised && r.flags&ResourceImmutableOnceInitialised != 0
}

// String returns a short diagnostic description.
func (r *Resource) String() string {
	return fmt.Sprintf("%s(%d, %q)", r.typ, r.id, r.label)
}

// addUsage appends a usage, maintaining the non-decreasing command-index
// invariant. Two usages with overlapping command ranges are only legal
// when both are reads.
func (r *Resource) addUsage(u ResourceUsage) {
	if n := len(r.usages); n > 0 {
		prev := &r.usages[n-1]
		if u.First < prev.First {
			panic(fmt.Sprintf("framegraph: usage of %s at command %d recorded after command %d", r, u.First, prev.First))
		}
		if u.First <= prev.Last && !(prev.Access.isRead() && !prev.Access.isWrite() && u.Access.isRead() && !u.Access.isWrite()) {
			panic(fmt.Sprintf("framegraph: overlapping non-read usages of %s (commands %d-%d and %d-%d)",
				r, prev.First, prev.Last, u.First, u.Last))
		}
	}
	r.usages = append(r.usages, u)
}

// poolDescriptor builds the pool allocation request for this resource.
func (r *Resource) poolDescriptor() backend.ResourceDescriptor {
	desc := backend.ResourceDescriptor{Label: r.label}
	if r.heap != nil {
		desc.Heap = r.heap.label
	}
	switch {
	case r.buffer != nil:
		desc.Buffer.Length = r.buffer.Length
		desc.Buffer.Usage = uint32(r.buffer.Usage)
	case r.texture != nil:
		desc.Texture.Width = r.texture.Width
		desc.Texture.Height = r.texture.Height
		desc.Texture.Depth = r.texture.Depth
		desc.Texture.MipLevels = r.texture.MipLevelCount
		desc.Texture.Samples = r.texture.SampleCount
		desc.Texture.Format = uint32(r.texture.Format)
		desc.Texture.Usage = uint32(r.texture.Usage)
		desc.Texture.Memoryless = r.storage == StorageMemoryless
	}
	return desc
}

// resetFrame clears per-frame state ahead of a new compilation.
func (r *Resource) resetFrame() {
	r.usages = r.usages[:0]
}

// relevantUsages returns the usages that participate in hazard tracking:
// active passes only, CPU-only stages excluded.
func (r *Resource) relevantUsages() []ResourceUsage {
	out := make([]ResourceUsage, 0, len(r.usages))
	for _, u := range r.usages {
		if !u.Pass.active || u.Stages == StageCPUBeforeRender {
			continue
		}
		out = append(out, u)
	}
	return out
}
