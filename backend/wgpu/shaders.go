package wgpu

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

//go:embed shaders/clear.wgsl
var clearShaderSource string

// clearWorkgroupSize must match @workgroup_size in clear.wgsl.
const clearWorkgroupSize = 256

// clearPipeline zeroes recycled storage buffers so a pooled allocation
// never leaks a previous frame's contents into the next occupant.
type clearPipeline struct {
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

// compileWGSL validates WGSL through naga before handing it to the HAL.
// Naga reports source-level diagnostics the HAL swallows.
func compileWGSL(source string) error {
	if _, err := naga.Compile(source); err != nil {
		return fmt.Errorf("wgpu: shader validation: %w", err)
	}
	return nil
}

func newClearPipeline(dev hal.Device) (*clearPipeline, error) {
	if err := compileWGSL(clearShaderSource); err != nil {
		return nil, err
	}

	p := &clearPipeline{}
	shader, err := dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "fg_clear",
		Source: hal.ShaderSource{WGSL: clearShaderSource},
	})
	if err != nil {
		return nil, fmt.Errorf("compile clear shader: %w", err)
	}
	p.shader = shader

	bindLayout, err := dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "fg_clear_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		p.destroy(dev)
		return nil, fmt.Errorf("create clear bind group layout: %w", err)
	}
	p.bindLayout = bindLayout

	pipeLayout, err := dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "fg_clear_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		p.destroy(dev)
		return nil, fmt.Errorf("create clear pipeline layout: %w", err)
	}
	p.pipeLayout = pipeLayout

	pipeline, err := dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "fg_clear_pipeline", Layout: pipeLayout,
		Compute: hal.ComputeState{Module: shader, EntryPoint: "main"},
	})
	if err != nil {
		p.destroy(dev)
		return nil, fmt.Errorf("create clear pipeline: %w", err)
	}
	p.pipeline = pipeline
	return p, nil
}

// clearBuffer dispatches a zero fill over the buffer. Fire and forget:
// the in-order queue sequences the clear before any later submission.
func (p *clearPipeline) clearBuffer(d *Device, buf hal.Buffer, length uint64) error {
	bindGroup, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "fg_clear_bind",
		Layout: p.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{
				Buffer: buf.NativeHandle(), Offset: 0, Size: length,
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("create clear bind group: %w", err)
	}
	defer d.device.DestroyBindGroup(bindGroup)

	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "fg_clear"})
	if err != nil {
		return fmt.Errorf("create clear encoder: %w", err)
	}
	if err := enc.BeginEncoding("fg_clear"); err != nil {
		return fmt.Errorf("begin clear encoding: %w", err)
	}

	pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "fg_clear_pass"})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	words := uint32((length + 3) / 4)
	pass.Dispatch((words+clearWorkgroupSize-1)/clearWorkgroupSize, 1, 1)
	pass.End()

	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("end clear encoding: %w", err)
	}
	if err := d.queue.queue.Submit([]hal.CommandBuffer{cmdBuf}, nil, 0); err != nil {
		d.device.FreeCommandBuffer(cmdBuf)
		return fmt.Errorf("submit clear: %w", err)
	}
	d.device.FreeCommandBuffer(cmdBuf)
	return nil
}

func (p *clearPipeline) destroy(dev hal.Device) {
	if p.pipeline != nil {
		dev.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLayout != nil {
		dev.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		dev.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.shader != nil {
		dev.DestroyShaderModule(p.shader)
		p.shader = nil
	}
}
