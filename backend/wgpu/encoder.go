package wgpu

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
)

// Pass payload contracts. A draw pass submitted through this backend
// provides its native commands as functions over the open HAL pass
// encoder; other payload types are ignored.
type (
	// RenderFunc records draw commands on the open render pass.
	RenderFunc func(hal.RenderPassEncoder)

	// ComputeFunc records dispatches on the open compute pass.
	ComputeFunc func(hal.ComputePassEncoder)

	// BlitFunc records copies directly on the command encoder.
	BlitFunc func(hal.CommandEncoder)
)

// submitTimeout bounds the CPU wait for a submitted buffer.
const submitTimeout = 5 * time.Second

// commandBuffer records into one hal.CommandEncoder and submits it as a
// whole on Commit.
type commandBuffer struct {
	device  *Device
	queue   *Queue
	label   string
	encoder hal.CommandEncoder

	renderOpen  hal.RenderPassEncoder
	computeOpen hal.ComputePassEncoder
}

func (cb *commandBuffer) RenderEncoder(desc *backend.RenderPassDescriptor) (backend.RenderEncoder, error) {
	halDesc, err := cb.renderPassDescriptor(desc)
	if err != nil {
		return nil, err
	}
	rp := cb.encoder.BeginRenderPass(halDesc)
	cb.renderOpen = rp
	return &renderEncoder{halEncoder{cb: cb}, rp}, nil
}

func (cb *commandBuffer) ComputeEncoder(label string) (backend.ComputeEncoder, error) {
	cp := cb.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
	cb.computeOpen = cp
	return &computeEncoder{halEncoder{cb: cb}, cp}, nil
}

func (cb *commandBuffer) BlitEncoder(label string) (backend.BlitEncoder, error) {
	// Copies are encoder-level in the HAL; a blit "encoder" is a window
	// onto the command encoder itself.
	return &blitEncoder{halEncoder{cb: cb}}, nil
}

// External hands the raw HAL encoder to externally recorded work.
func (cb *commandBuffer) External(record func() error) error {
	if record == nil {
		return nil
	}
	return record()
}

// EncodeWait is never reached: the device returns nil events and the
// scheduler keeps cross-buffer ordering on the CPU side.
func (cb *commandBuffer) EncodeWait(ev backend.Event, value uint64) {}

// EncodeSignal is never reached, as EncodeWait.
func (cb *commandBuffer) EncodeSignal(ev backend.Event, value uint64) {}

// Commit ends encoding and submits with a fresh timeline fence. A
// watcher goroutine waits for the fence, then releases the native
// buffer and runs the completion callback.
func (cb *commandBuffer) Commit(onComplete func()) error {
	cmdBuf, err := cb.encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding %q: %w", cb.label, err)
	}

	fence, err := cb.device.device.CreateFence()
	if err != nil {
		cb.device.device.FreeCommandBuffer(cmdBuf)
		return fmt.Errorf("wgpu: create submit fence: %w", err)
	}

	cb.queue.submitSerial++
	if err := cb.queue.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, cb.queue.submitSerial); err != nil {
		cb.device.device.DestroyFence(fence)
		cb.device.device.FreeCommandBuffer(cmdBuf)
		return fmt.Errorf("wgpu: submit %q: %w", cb.label, err)
	}

	dev := cb.device.device
	value := cb.queue.submitSerial
	go func() {
		ok, err := dev.Wait(fence, value, submitTimeout)
		if err != nil || !ok {
			// The frame still completes; a lost fence means the queue
			// stalled, which surfaces on the next submit.
			_ = err
		}
		dev.DestroyFence(fence)
		dev.FreeCommandBuffer(cmdBuf)
		if onComplete != nil {
			onComplete()
		}
	}()
	return nil
}

// renderPassDescriptor lowers the merged attachment description to the
// HAL form, creating views on demand.
func (cb *commandBuffer) renderPassDescriptor(desc *backend.RenderPassDescriptor) (*hal.RenderPassDescriptor, error) {
	out := &hal.RenderPassDescriptor{Label: desc.Label}

	for i := range desc.Color {
		att := &desc.Color[i]
		view, err := cb.attachmentView(att.Backing)
		if err != nil {
			return nil, err
		}
		halAtt := hal.RenderPassColorAttachment{
			View:    view,
			LoadOp:  loadOp(att.Load),
			StoreOp: storeOp(att.Store),
			ClearValue: gputypes.Color{
				R: att.ClearColor[0], G: att.ClearColor[1],
				B: att.ClearColor[2], A: att.ClearColor[3],
			},
		}
		if att.Resolve != nil {
			resolve, err := cb.attachmentView(att.Resolve)
			if err != nil {
				return nil, err
			}
			halAtt.ResolveTarget = resolve
		}
		out.ColorAttachments = append(out.ColorAttachments, halAtt)
	}

	if ds := desc.DepthStencil; ds != nil {
		view, err := cb.attachmentView(ds.Backing)
		if err != nil {
			return nil, err
		}
		out.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:            view,
			DepthLoadOp:     loadOp(ds.Load),
			DepthStoreOp:    storeOp(ds.Store),
			DepthClearValue: float32(ds.ClearDepth),
			StencilLoadOp:   loadOp(ds.Load),
			StencilStoreOp:  storeOp(ds.Store),
		}
	}
	return out, nil
}

func (cb *commandBuffer) attachmentView(b backend.Backing) (hal.TextureView, error) {
	switch a := b.(type) {
	case *Allocation:
		return a.textureView(cb.device)
	case *drawable:
		return a.view, nil
	}
	return nil, fmt.Errorf("wgpu: attachment %q is not a texture allocation", b.Label())
}

func loadOp(v uint8) gputypes.LoadOp {
	if v == 1 {
		return gputypes.LoadOpLoad
	}
	// Dont-care has no HAL form; clear is the conservative lowering.
	return gputypes.LoadOpClear
}

func storeOp(v uint8) gputypes.StoreOp {
	if v == 1 || v == 3 {
		return gputypes.StoreOpStore
	}
	return gputypes.StoreOpDiscard
}

// halEncoder implements the synchronization surface shared by all
// encoder kinds.
//
// The HAL queue is in-order and inserts implicit barriers between the
// passes of one command encoder, so residency declarations, buffer
// barriers, and encoder fence pairs are already satisfied and record
// nothing. Texture barriers are the exception: layout transitions are
// explicit on Vulkan and DX12.
type halEncoder struct {
	cb *commandBuffer
}

func (e *halEncoder) UseResources(res []backend.Backing, usage backend.Residency, stages backend.Stage) {
}

func (e *halEncoder) MemoryBarrier(res []backend.Backing, after, before backend.Stage) {
	var barriers []hal.TextureBarrier
	for _, b := range res {
		a, ok := b.(*Allocation)
		if !ok || a.texture == nil {
			continue
		}
		barriers = append(barriers, hal.TextureBarrier{
			Texture: a.texture,
			Usage: hal.TextureUsageTransition{
				OldUsage: textureUsageAfter(after),
				NewUsage: textureUsageBefore(before),
			},
		})
	}
	if len(barriers) > 0 {
		e.cb.encoder.TransitionTextures(barriers)
	}
}

func (e *halEncoder) ScopedBarrier(scope backend.BarrierScope, after, before backend.Stage) {}

func (e *halEncoder) UpdateFence(f backend.Fence, after backend.Stage) {}

func (e *halEncoder) WaitFence(f backend.Fence, before backend.Stage) {}

func (e *halEncoder) End() {
	cb := e.cb
	if cb.renderOpen != nil {
		cb.renderOpen.End()
		cb.renderOpen = nil
	}
	if cb.computeOpen != nil {
		cb.computeOpen.End()
		cb.computeOpen = nil
	}
}

// textureUsageAfter maps producing stages to the usage the texture was
// last written with. The compiler only orders against prior writes.
func textureUsageAfter(after backend.Stage) gputypes.TextureUsage {
	switch {
	case after&(backend.StageVertex|backend.StageFragment) != 0:
		return gputypes.TextureUsageRenderAttachment
	case after&backend.StageBlit != 0:
		return gputypes.TextureUsageCopyDst
	default:
		return gputypes.TextureUsageStorageBinding
	}
}

// textureUsageBefore maps consuming stages to the usage the texture is
// about to be read with.
func textureUsageBefore(before backend.Stage) gputypes.TextureUsage {
	if before&backend.StageBlit != 0 {
		return gputypes.TextureUsageCopySrc
	}
	return gputypes.TextureUsageTextureBinding
}

type renderEncoder struct {
	halEncoder
	rp hal.RenderPassEncoder
}

func (e *renderEncoder) Draw(payload any) {
	if fn, ok := payload.(RenderFunc); ok {
		fn(e.rp)
	}
}

type computeEncoder struct {
	halEncoder
	cp hal.ComputePassEncoder
}

func (e *computeEncoder) Dispatch(payload any) {
	if fn, ok := payload.(ComputeFunc); ok {
		fn(e.cp)
	}
}

type blitEncoder struct {
	halEncoder
}

func (e *blitEncoder) Copy(payload any) {
	if fn, ok := payload.(BlitFunc); ok {
		fn(e.cb.encoder)
	}
}
