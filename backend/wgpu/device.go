package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
)

// DrawableSource supplies window drawables to the device. Host
// applications that own a surface install one via Device.SetDrawableSource;
// without a source every window pass degrades (the frame is still
// submitted, the pass skipped).
type DrawableSource interface {
	// AcquireDrawable returns the surface texture for this frame, or an
	// error wrapping backend.ErrDrawableUnavailable.
	AcquireDrawable(width, height uint32) (hal.Texture, error)

	// PresentDrawable schedules presentation of a previously acquired
	// texture.
	PresentDrawable(t hal.Texture)
}

// Device adapts a hal.Device to the backend contract.
type Device struct {
	mu     sync.Mutex
	device hal.Device
	queue  *Queue
	pool   *Pool
	clear  *clearPipeline

	source DrawableSource
}

func newDevice(dev hal.Device, q hal.Queue) (*Device, error) {
	d := &Device{device: dev}
	d.queue = &Queue{device: d, queue: q}

	clear, err := newClearPipeline(dev)
	if err != nil {
		return nil, fmt.Errorf("wgpu: clear pipeline: %w", err)
	}
	d.clear = clear
	d.pool = newPool(d)
	return d, nil
}

// SetDrawableSource installs the window surface provider.
func (d *Device) SetDrawableSource(s DrawableSource) {
	d.mu.Lock()
	d.source = s
	d.mu.Unlock()
}

// Queues returns the single HAL queue.
func (d *Device) Queues() []backend.Queue {
	return []backend.Queue{d.queue}
}

// NewFence creates a timeline fence.
func (d *Device) NewFence() (backend.Fence, error) {
	f, err := d.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpu: create fence: %w", err)
	}
	return &Fence{fence: f}, nil
}

// DestroyFence releases a fence created by NewFence.
func (d *Device) DestroyFence(f backend.Fence) {
	if wf, ok := f.(*Fence); ok && wf.fence != nil {
		d.device.DestroyFence(wf.fence)
		wf.fence = nil
	}
}

// NewEvent returns nil: the HAL has no timeline-event primitive. The
// executor falls back to CPU-side completion-counter waits, which is
// exact here because the single queue completes in submission order.
func (d *Device) NewEvent() (backend.Event, error) {
	return nil, nil
}

// Pool returns the recycling allocation pool.
func (d *Device) Pool() backend.Pool {
	return d.pool
}

// AcquireDrawable acquires the surface texture from the installed
// DrawableSource.
func (d *Device) AcquireDrawable(label string, width, height uint32) (backend.Drawable, error) {
	d.mu.Lock()
	source := d.source
	d.mu.Unlock()

	if source == nil {
		return nil, fmt.Errorf("wgpu: %q: no drawable source installed: %w",
			label, backend.ErrDrawableUnavailable)
	}
	tex, err := source.AcquireDrawable(width, height)
	if err != nil {
		return nil, fmt.Errorf("wgpu: %q: %w", label, err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: label + "_view"})
	if err != nil {
		return nil, fmt.Errorf("wgpu: %q: create view: %w", label, err)
	}
	return &drawable{label: label, texture: tex, view: view, source: source}, nil
}

// Close tears down pool allocations and the utility pipelines. The
// hal.Device itself is owned by the Backend.
func (d *Device) Close() {
	d.pool.destroy()
	d.clear.destroy(d.device)
}

// Fence wraps a hal.Fence. HAL fences are timeline fences signaled at
// submit; in-stream update/wait pairs on the single in-order queue are
// already ordered and recorded as no-ops by the encoders.
type Fence struct {
	fence hal.Fence
}

// Queue adapts the hal.Queue.
type Queue struct {
	device *Device
	queue  hal.Queue

	// submitSerial numbers submissions for the per-buffer completion
	// fences.
	submitSerial uint64
}

// NewCommandBuffer opens a command buffer backed by one hal command
// encoder.
func (q *Queue) NewCommandBuffer(label string) (backend.CommandBuffer, error) {
	enc, err := q.device.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	return &commandBuffer{device: q.device, queue: q, label: label, encoder: enc}, nil
}

// drawable is a window surface texture for one frame.
type drawable struct {
	label   string
	texture hal.Texture
	view    hal.TextureView
	source  DrawableSource
}

func (dr *drawable) Label() string { return dr.label }

func (dr *drawable) Present() {
	dr.source.PresentDrawable(dr.texture)
}
