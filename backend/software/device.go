package software

import (
	"sync"

	"github.com/gogpu/framegraph/backend"
)

// Device is a recording device: a set of queues sharing one operation
// log and one allocation pool.
//
// The log and the verification counters are device-wide so a test can
// drive a multi-queue frame and make assertions in one place.
type Device struct {
	mu     sync.Mutex
	queues []backend.Queue
	pool   *Pool

	ops        []Op
	violations []string

	nextFence int
	nextEvent int

	// DrawableErr, when set, makes AcquireDrawable fail with it.
	// Tests use this to exercise degraded frames.
	DrawableErr error

	drawables []*Drawable
}

// NewDevice creates a recording device with the given queue count.
// Most callers go through Backend.NewDevice; tests that need direct
// access to the log construct the device themselves and hand it to the
// session via its device-injection option.
func NewDevice(queues int) *Device {
	d := &Device{pool: newPool()}
	d.pool.device = d
	for i := 0; i < queues; i++ {
		d.queues = append(d.queues, &Queue{device: d, id: i})
	}
	return d
}

// Queues returns the device's command queues.
func (d *Device) Queues() []backend.Queue {
	return d.queues
}

// NewFence creates a recording fence.
func (d *Device) NewFence() (backend.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextFence++
	return &Fence{id: d.nextFence}, nil
}

// DestroyFence releases a fence. Recording fences hold no resources;
// destruction is a log entry so tests can check create/destroy pairing.
func (d *Device) DestroyFence(f backend.Fence) {
	d.record(Op{Kind: OpDestroyFence, Fence: f})
}

// NewEvent creates a recording timeline event.
func (d *Device) NewEvent() (backend.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextEvent++
	return &Event{id: d.nextEvent}, nil
}

// Pool returns the device's allocation pool.
func (d *Device) Pool() backend.Pool {
	return d.pool
}

// AcquireDrawable returns a fresh drawable, or DrawableErr when the test
// has made the window unavailable.
func (d *Device) AcquireDrawable(label string, width, height uint32) (backend.Drawable, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DrawableErr != nil {
		return nil, d.DrawableErr
	}
	dr := &Drawable{label: label, width: width, height: height}
	d.drawables = append(d.drawables, dr)
	return dr, nil
}

// record appends an operation to the device log.
func (d *Device) record(op Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, op)
}

// violate records an ordering violation.
func (d *Device) violate(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.violations = append(d.violations, msg)
}

// Ops returns a copy of the device's operation log.
func (d *Device) Ops() []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Op, len(d.ops))
	copy(out, d.ops)
	return out
}

// Violations returns the ordering violations detected so far. A
// correctly compiled frame produces none.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.violations))
	copy(out, d.violations)
	return out
}

// Reset clears the log and violation list between frames.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = d.ops[:0]
	d.violations = d.violations[:0]
	d.drawables = d.drawables[:0]
}

// Drawables returns the drawables acquired since the last Reset.
func (d *Device) Drawables() []*Drawable {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Drawable, len(d.drawables))
	copy(out, d.drawables)
	return out
}

// Queue is one recording command queue.
type Queue struct {
	device *Device
	id     int
}

// NewCommandBuffer creates a recording command buffer.
func (q *Queue) NewCommandBuffer(label string) (backend.CommandBuffer, error) {
	return &CommandBuffer{device: q.device, queue: q, label: label}, nil
}

// Drawable is a recorded window drawable.
type Drawable struct {
	label         string
	width, height uint32
	presented     bool
}

// Label returns the drawable's debug label.
func (dr *Drawable) Label() string { return dr.label }

// Present marks the drawable presented.
func (dr *Drawable) Present() { dr.presented = true }

// Presented reports whether Present was called.
func (dr *Drawable) Presented() bool { return dr.presented }
