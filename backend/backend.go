// Package backend defines the native GPU surface the frame graph compiles
// against: devices, queues, command buffers, typed encoders, fences,
// events, and the resource pool.
//
// The compiler in the root package decides *when* synchronization and
// residency commands must be interleaved with a pass's own GPU commands;
// a Backend decides *how* those commands reach the hardware. Backends
// register themselves by name via Register, typically from an init
// function, and are selected by priority (the software backend is always
// available as a fallback).
package backend

import "errors"

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when no usable backend is
	// registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before
	// Init.
	ErrNotInitialized = errors.New("backend: not initialized")

	// ErrDrawableUnavailable is returned by AcquireDrawable when the
	// window surface cannot currently provide a drawable (not yet
	// presented, or resized smaller than requested). The frame degrades:
	// the affected pass is skipped.
	ErrDrawableUnavailable = errors.New("backend: drawable unavailable")
)

// Stage is a bitmask of pipeline stages, mirroring the compiler's stage
// set minus CPU-only stages.
type Stage uint8

const (
	StageVertex Stage = 1 << iota
	StageFragment
	StageCompute
	StageBlit
)

// Residency is a bitmask describing how resources in a useResource batch
// will be accessed.
type Residency uint8

const (
	ResidencySample Residency = 1 << iota
	ResidencyRead
	ResidencyWrite
)

// BarrierScope selects a coarse barrier over a whole resource class, used
// when an explicit resource list would be too long.
type BarrierScope uint8

const (
	ScopeBuffers BarrierScope = 1 << iota
	ScopeTextures
	ScopeRenderTargets
)

// Backing is an opaque pool allocation backing a frame-graph resource.
// The pool produces it on Collect and takes it back on Deposit; the
// compiler threads it through residency and barrier calls unchanged.
type Backing interface {
	// Label returns the debug label of the allocation.
	Label() string
}

// Drawable is a window-provided texture acquired for one frame.
type Drawable interface {
	Backing

	// Present schedules presentation after the owning command buffer
	// completes.
	Present()
}

// Fence is a native GPU fence enforcing ordering between two points in
// (possibly different) command streams on one device.
type Fence interface{}

// Event is a native timeline event carrying a monotonically increasing
// 64-bit counter, used for cross-queue and cross-command-buffer ordering.
type Event interface{}

// ResourceDescriptor describes a pool allocation request.
type ResourceDescriptor struct {
	// Label for diagnostics.
	Label string

	// Buffer is non-zero Length for buffer requests.
	Buffer struct {
		Length uint64
		Usage  uint32
	}

	// Texture is non-zero Width for texture requests.
	Texture struct {
		Width, Height, Depth uint32
		MipLevels, Samples   uint32
		Format               uint32
		Usage                uint32
		Memoryless           bool
	}

	// Heap is a non-empty label when the allocation must come from the
	// named aliasing heap.
	Heap string
}

// Pool allocates and recycles backing memory for transient resources.
//
// Collect is called exactly once per materialize decision the compiler
// makes, Deposit exactly once per dispose decision. The fences returned
// by Collect guard heap-aliased memory: the caller must not access the
// allocation before they are waited. The fences passed to Deposit are the
// operations a future aliasing occupant must wait on.
type Pool interface {
	Collect(desc ResourceDescriptor) (Backing, []Fence, Event, error)
	Deposit(b Backing, fences []Fence, ev Event)
}

// RenderPassAttachment describes one attachment of a merged render pass.
type RenderPassAttachment struct {
	Backing    Backing
	Resolve    Backing
	Slice      uint32
	Level      uint32
	DepthPlane uint32

	// Load: 0 = dont-care, 1 = load, 2 = clear.
	Load uint8
	// Store: 0 = dont-care, 1 = store, 2 = resolve, 3 = store+resolve.
	Store uint8

	ClearColor [4]float64
	ClearDepth float64
}

// RenderPassDescriptor is the native render pass begin description built
// from a merged render-target descriptor.
type RenderPassDescriptor struct {
	Label         string
	Width, Height uint32
	Color         []RenderPassAttachment
	DepthStencil  *RenderPassAttachment
}

// Encoder is the common surface of all typed encoders: the
// synchronization and residency commands the compiler interleaves with
// pass commands.
type Encoder interface {
	// UseResources declares that the listed allocations must be resident
	// before the given stages execute.
	UseResources(res []Backing, usage Residency, stages Stage)

	// MemoryBarrier orders prior writes in after-stages against
	// subsequent accesses in before-stages, scoped to the listed
	// allocations.
	MemoryBarrier(res []Backing, after, before Stage)

	// ScopedBarrier is MemoryBarrier over a whole resource class.
	ScopedBarrier(scope BarrierScope, after, before Stage)

	// UpdateFence signals the fence once the given stages complete.
	UpdateFence(f Fence, after Stage)

	// WaitFence blocks the given stages until the fence is signaled.
	WaitFence(f Fence, before Stage)

	// End finishes the encoder. No commands may follow.
	End()
}

// RenderEncoder records draw commands.
type RenderEncoder interface {
	Encoder

	// Draw issues the i'th native draw command of the current pass.
	// The payload is pass-defined.
	Draw(payload any)
}

// ComputeEncoder records compute dispatches.
type ComputeEncoder interface {
	Encoder
	Dispatch(payload any)
}

// BlitEncoder records copy operations.
type BlitEncoder interface {
	Encoder
	Copy(payload any)
}

// CommandBuffer is a native command buffer bound to one queue.
type CommandBuffer interface {
	// RenderEncoder opens a render encoder over the described render
	// pass. Only one encoder may be open at a time.
	RenderEncoder(desc *RenderPassDescriptor) (RenderEncoder, error)

	// ComputeEncoder opens a compute encoder.
	ComputeEncoder(label string) (ComputeEncoder, error)

	// BlitEncoder opens a blit encoder.
	BlitEncoder(label string) (BlitEncoder, error)

	// External hands the raw buffer to an externally recorded pass.
	External(record func() error) error

	// EncodeWait makes the buffer wait, before executing, until ev
	// reaches value.
	EncodeWait(ev Event, value uint64)

	// EncodeSignal makes the buffer signal ev to value when it
	// completes.
	EncodeSignal(ev Event, value uint64)

	// Commit submits the buffer to its queue. onComplete runs exactly
	// once when the GPU has finished the buffer; it may run on an
	// internal completion goroutine.
	Commit(onComplete func()) error
}

// Queue is a native command queue.
type Queue interface {
	// NewCommandBuffer creates a command buffer targeting this queue.
	NewCommandBuffer(label string) (CommandBuffer, error)
}

// Device is a native GPU device.
type Device interface {
	// Queues returns the device's independent command queues. Index 0 is
	// the primary queue and always exists.
	Queues() []Queue

	// NewFence creates a fence for intra-device encoder ordering.
	NewFence() (Fence, error)

	// DestroyFence releases a fence created by NewFence.
	DestroyFence(f Fence)

	// NewEvent creates a timeline event for cross-queue ordering.
	// Returns nil (and no error) when the backend has no native event
	// primitive; the executor then falls back to spin-waiting on queue
	// completion counters.
	NewEvent() (Event, error)

	// Pool returns the transient-resource pool.
	Pool() Pool

	// AcquireDrawable acquires the window drawable for the given label
	// and minimum size. Returns ErrDrawableUnavailable when none can be
	// provided this frame. May hop to the main thread; callers memoize
	// the result per frame.
	AcquireDrawable(label string, width, height uint32) (Drawable, error)
}

// Backend creates devices.
type Backend interface {
	// Name returns the backend identifier (e.g. "software", "wgpu").
	Name() string

	// Init initializes the backend. Must be called before NewDevice.
	Init() error

	// Close releases all backend resources.
	Close()

	// NewDevice opens a device with the requested number of queues.
	// Backends may return fewer queues than requested; at least one is
	// guaranteed after a successful Init.
	NewDevice(queues int) (Device, error)
}
