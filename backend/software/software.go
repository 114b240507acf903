// Package software provides a pure-Go recording backend.
//
// It executes nothing on a GPU: every command an encoder receives is
// appended to an operation log on the owning device, and command buffers
// "complete" synchronously at commit. Because execution is immediate and
// in submission order, the backend can also verify ordering: an encoded
// wait on an event value that has not been signaled yet, or on a fence
// that was never updated, is recorded as a violation. Tests assert a
// clean log instead of inspecting GPU state.
//
// The backend registers itself under the name "software" on import and
// serves as the universal fallback.
package software

import (
	"fmt"
	"sync"

	"github.com/gogpu/framegraph/backend"
)

// Backend is the recording backend.
type Backend struct {
	mu          sync.Mutex
	initialized bool
	devices     []*Device
}

// init registers the software backend on package import.
func init() {
	backend.Register(backend.BackendSoftware, func() backend.Backend {
		return New()
	})
}

// New creates a software backend instance.
func New() *Backend {
	return &Backend{}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return backend.BackendSoftware
}

// Init initializes the backend.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = true
	return nil
}

// Close releases all backend resources.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = nil
	b.initialized = false
}

// NewDevice opens a recording device with the requested number of
// queues.
func (b *Backend) NewDevice(queues int) (backend.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil, backend.ErrNotInitialized
	}
	if queues < 1 {
		queues = 1
	}
	d := NewDevice(queues)
	b.devices = append(b.devices, d)
	return d, nil
}

// Fence is a recording fence. It is signaled the moment an encoder
// updates it (execution is synchronous).
type Fence struct {
	id       int
	signaled bool
}

func (f *Fence) String() string {
	return fmt.Sprintf("fence-%d", f.id)
}

// Event is a recording timeline event.
type Event struct {
	id    int
	value uint64
}

func (e *Event) String() string {
	return fmt.Sprintf("event-%d", e.id)
}
