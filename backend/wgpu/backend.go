// Package wgpu implements the native backend contract over gogpu/wgpu's
// HAL layer.
//
// The HAL exposes one in-order queue per device and inserts implicit
// barriers between passes of one command encoder, so several of the
// compiler's synchronization commands (encoder fences, scoped barriers)
// need no native counterpart here; texture layout transitions are the
// exception and map to TransitionTextures.
//
// Importing this package registers the backend under the name "wgpu".
// The device can either be opened standalone (Vulkan adapter enumeration)
// or shared with a host application via SetDeviceProvider.
package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
)

func init() {
	backend.Register(backend.BackendWGPU, func() backend.Backend {
		return New()
	})
}

// shared holds a host-provided device pair installed before Init.
var (
	sharedMu     sync.Mutex
	sharedDevice hal.Device
	sharedQueue  hal.Queue
)

// SetDeviceProvider switches the backend to a GPU device shared with the
// host application. The provider must expose HAL types via HalDevice()
// and HalQueue(). Takes effect on the next Init.
func SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}

	sharedMu.Lock()
	sharedDevice = device
	sharedQueue = queue
	sharedMu.Unlock()
	return nil
}

// Backend is the gogpu/wgpu-backed backend.
type Backend struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	// externalDevice is true when the device came from a host provider
	// and must not be destroyed on Close.
	externalDevice bool
	initialized    bool
}

// New creates an uninitialized wgpu backend.
func New() *Backend {
	return &Backend{}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return backend.BackendWGPU
}

// Init opens the GPU. A device installed via SetDeviceProvider is used
// as-is; otherwise a standalone Vulkan device is opened on the first
// usable adapter.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}

	sharedMu.Lock()
	device, queue := sharedDevice, sharedQueue
	sharedMu.Unlock()
	if device != nil && queue != nil {
		b.device = device
		b.queue = queue
		b.externalDevice = true
		b.initialized = true
		return nil
	}

	halBackend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("wgpu: %w: vulkan backend not available", backend.ErrBackendNotAvailable)
	}
	instance, err := halBackend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("wgpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return fmt.Errorf("wgpu: %w: no GPU adapters found", backend.ErrBackendNotAvailable)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return fmt.Errorf("wgpu: open device: %w", err)
	}

	b.instance = instance
	b.device = openDev.Device
	b.queue = openDev.Queue
	b.initialized = true
	return nil
}

// Close releases the GPU. Shared devices are left untouched.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return
	}
	if !b.externalDevice {
		if b.device != nil {
			b.device.Destroy()
		}
		if b.instance != nil {
			b.instance.Destroy()
		}
	}
	b.instance = nil
	b.device = nil
	b.queue = nil
	b.externalDevice = false
	b.initialized = false
}

// NewDevice wraps the HAL device. The HAL exposes a single in-order
// queue, so the requested queue count is capped at one; cross-queue
// schedules degrade to submission order.
func (b *Backend) NewDevice(queues int) (backend.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil, backend.ErrNotInitialized
	}
	return newDevice(b.device, b.queue)
}
