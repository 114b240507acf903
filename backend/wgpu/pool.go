package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
)

// Allocation is a pooled HAL buffer or texture.
type Allocation struct {
	label string
	key   string
	desc  backend.ResourceDescriptor

	buffer  hal.Buffer
	texture hal.Texture
	view    hal.TextureView
}

// Label returns the debug label of the allocation.
func (a *Allocation) Label() string { return a.label }

// Buffer returns the HAL buffer, or nil for texture allocations. Pass
// payloads use this to bind pooled memory.
func (a *Allocation) Buffer() hal.Buffer { return a.buffer }

// Texture returns the HAL texture, or nil for buffer allocations.
func (a *Allocation) Texture() hal.Texture { return a.texture }

// textureView returns the allocation's render view, created on first
// use.
func (a *Allocation) textureView(d *Device) (hal.TextureView, error) {
	if a.texture == nil {
		return nil, fmt.Errorf("wgpu: %q is not a texture allocation", a.label)
	}
	if a.view != nil {
		return a.view, nil
	}
	view, err := d.device.CreateTextureView(a.texture, &hal.TextureViewDescriptor{Label: a.label + "_view"})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create view for %q: %w", a.label, err)
	}
	a.view = view
	return view, nil
}

// Pool recycles HAL allocations across frames. Free lists are keyed by
// the full descriptor, so a request only ever reuses memory of the
// exact same shape. Recycled storage buffers are zeroed with the clear
// pipeline before reuse; the in-order queue guarantees the clear lands
// before any later-submitted frame work touches the memory.
type Pool struct {
	mu     sync.Mutex
	device *Device

	free map[string][]*Allocation
	live map[*Allocation]bool

	// heapFences carries, per heap label, the fences the next aliasing
	// occupant must observe. The HAL has no placed allocations, so heap
	// requests share the plain free lists; only the fence handoff of the
	// aliasing contract is kept.
	heapFences map[string][]backend.Fence
}

func newPool(d *Device) *Pool {
	return &Pool{
		device:     d,
		free:       make(map[string][]*Allocation),
		live:       make(map[*Allocation]bool),
		heapFences: make(map[string][]backend.Fence),
	}
}

func descriptorKey(desc backend.ResourceDescriptor) string {
	if desc.Buffer.Length > 0 {
		return fmt.Sprintf("b/%d/%d", desc.Buffer.Length, desc.Buffer.Usage)
	}
	t := desc.Texture
	return fmt.Sprintf("t/%dx%dx%d/m%d/s%d/f%d/u%d/%v",
		t.Width, t.Height, t.Depth, t.MipLevels, t.Samples, t.Format, t.Usage, t.Memoryless)
}

// Collect serves the request from the free list or creates a fresh HAL
// resource.
func (p *Pool) Collect(desc backend.ResourceDescriptor) (backend.Backing, []backend.Fence, backend.Event, error) {
	key := descriptorKey(desc)

	p.mu.Lock()
	var fences []backend.Fence
	if desc.Heap != "" {
		fences = p.heapFences[desc.Heap]
		delete(p.heapFences, desc.Heap)
	}
	if list := p.free[key]; len(list) > 0 {
		a := list[len(list)-1]
		p.free[key] = list[:len(list)-1]
		a.label = desc.Label
		a.desc = desc
		p.live[a] = true
		p.mu.Unlock()

		if a.buffer != nil {
			if err := p.device.clear.clearBuffer(p.device, a.buffer, desc.Buffer.Length); err != nil {
				return nil, nil, nil, fmt.Errorf("wgpu: clear recycled %q: %w", a.label, err)
			}
		}
		return a, fences, nil, nil
	}
	p.mu.Unlock()

	a, err := p.allocate(desc, key)
	if err != nil {
		return nil, nil, nil, err
	}
	p.mu.Lock()
	p.live[a] = true
	p.mu.Unlock()
	return a, fences, nil, nil
}

func (p *Pool) allocate(desc backend.ResourceDescriptor, key string) (*Allocation, error) {
	a := &Allocation{label: desc.Label, key: key, desc: desc}
	if desc.Buffer.Length > 0 {
		buf, err := p.device.device.CreateBuffer(&hal.BufferDescriptor{
			Label: desc.Label,
			Size:  desc.Buffer.Length,
			Usage: gputypes.BufferUsage(desc.Buffer.Usage),
		})
		if err != nil {
			return nil, fmt.Errorf("wgpu: create buffer %q: %w", desc.Label, err)
		}
		a.buffer = buf
		return a, nil
	}

	tex, err := p.device.device.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              desc.Texture.Width,
			Height:             desc.Texture.Height,
			DepthOrArrayLayers: desc.Texture.Depth,
		},
		MipLevelCount: desc.Texture.MipLevels,
		SampleCount:   desc.Texture.Samples,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormat(desc.Texture.Format),
		Usage:         gputypes.TextureUsage(desc.Texture.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create texture %q: %w", desc.Label, err)
	}
	a.texture = tex
	return a, nil
}

// Deposit returns an allocation to its free list.
func (p *Pool) Deposit(b backend.Backing, fences []backend.Fence, ev backend.Event) {
	a, ok := b.(*Allocation)
	if !ok {
		return
	}
	p.mu.Lock()
	delete(p.live, a)
	p.free[a.key] = append(p.free[a.key], a)
	if a.desc.Heap != "" && len(fences) > 0 {
		p.heapFences[a.desc.Heap] = fences
	}
	p.mu.Unlock()
}

// destroy releases every pooled HAL resource. Live allocations are the
// caller's bug; they are destroyed too rather than leaked.
func (p *Pool) destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	destroyOne := func(a *Allocation) {
		if a.buffer != nil {
			p.device.device.DestroyBuffer(a.buffer)
		}
		if a.texture != nil {
			p.device.device.DestroyTexture(a.texture)
		}
	}
	for _, list := range p.free {
		for _, a := range list {
			destroyOne(a)
		}
	}
	for a := range p.live {
		destroyOne(a)
	}
	p.free = make(map[string][]*Allocation)
	p.live = make(map[*Allocation]bool)
}
