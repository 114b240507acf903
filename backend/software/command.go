package software

import (
	"fmt"

	"github.com/gogpu/framegraph/backend"
)

// OpKind identifies the type of a recorded operation.
type OpKind uint8

const (
	OpBeginRenderPass OpKind = iota
	OpBeginCompute
	OpBeginBlit
	OpEndEncoder
	OpDraw
	OpDispatch
	OpCopy
	OpExternal
	OpUseResources
	OpMemoryBarrier
	OpScopedBarrier
	OpUpdateFence
	OpWaitFence
	OpEncodeWait
	OpEncodeSignal
	OpCommit
	OpCollect
	OpDeposit
	OpDestroyFence
)

// opKindNames maps OpKind values to their string representation.
var opKindNames = [...]string{
	OpBeginRenderPass: "BeginRenderPass",
	OpBeginCompute:    "BeginCompute",
	OpBeginBlit:       "BeginBlit",
	OpEndEncoder:      "EndEncoder",
	OpDraw:            "Draw",
	OpDispatch:        "Dispatch",
	OpCopy:            "Copy",
	OpExternal:        "External",
	OpUseResources:    "UseResources",
	OpMemoryBarrier:   "MemoryBarrier",
	OpScopedBarrier:   "ScopedBarrier",
	OpUpdateFence:     "UpdateFence",
	OpWaitFence:       "WaitFence",
	OpEncodeWait:      "EncodeWait",
	OpEncodeSignal:    "EncodeSignal",
	OpCommit:          "Commit",
	OpCollect:         "Collect",
	OpDeposit:         "Deposit",
	OpDestroyFence:    "DestroyFence",
}

// String returns the string representation of an OpKind.
func (k OpKind) String() string {
	if int(k) < len(opKindNames) {
		return opKindNames[k]
	}
	return "Unknown"
}

// Op is one recorded operation.
type Op struct {
	Kind  OpKind
	Label string
	Queue int

	// Resources are the labels of the allocations involved.
	Resources []string

	Residency     backend.Residency
	Stages        backend.Stage
	After, Before backend.Stage
	Scope         backend.BarrierScope

	Fence backend.Fence
	Event backend.Event
	Value uint64

	// Payload is the pass-supplied argument of Draw/Dispatch/Copy.
	Payload any
}

// String returns a compact diagnostic form.
func (o Op) String() string {
	switch o.Kind {
	case OpUseResources, OpMemoryBarrier:
		return fmt.Sprintf("%s(%v)", o.Kind, o.Resources)
	case OpEncodeWait, OpEncodeSignal:
		return fmt.Sprintf("%s(%v=%d)", o.Kind, o.Event, o.Value)
	case OpUpdateFence, OpWaitFence:
		return fmt.Sprintf("%s(%v)", o.Kind, o.Fence)
	default:
		return fmt.Sprintf("%s(%q)", o.Kind, o.Label)
	}
}

// pendingWait is an encoded event wait, checked at commit.
type pendingWait struct {
	event *Event
	value uint64
}

// CommandBuffer is a recording command buffer. Commit "executes" it
// synchronously: encoded waits are verified, encoded signals applied,
// and the completion callback invoked before Commit returns.
type CommandBuffer struct {
	device *Device
	queue  *Queue
	label  string

	open    bool
	waits   []pendingWait
	signals []pendingWait
}

// RenderEncoder opens a render encoder over the described render pass.
func (cb *CommandBuffer) RenderEncoder(desc *backend.RenderPassDescriptor) (backend.RenderEncoder, error) {
	if err := cb.openEncoder(); err != nil {
		return nil, err
	}
	op := Op{Kind: OpBeginRenderPass, Label: desc.Label, Queue: cb.queue.id}
	for i := range desc.Color {
		if desc.Color[i].Backing != nil {
			op.Resources = append(op.Resources, desc.Color[i].Backing.Label())
		}
	}
	if desc.DepthStencil != nil && desc.DepthStencil.Backing != nil {
		op.Resources = append(op.Resources, desc.DepthStencil.Backing.Label())
	}
	cb.device.record(op)
	return &renderEncoder{encoder{cb: cb, label: desc.Label}}, nil
}

// ComputeEncoder opens a compute encoder.
func (cb *CommandBuffer) ComputeEncoder(label string) (backend.ComputeEncoder, error) {
	if err := cb.openEncoder(); err != nil {
		return nil, err
	}
	cb.device.record(Op{Kind: OpBeginCompute, Label: label, Queue: cb.queue.id})
	return &computeEncoder{encoder{cb: cb, label: label}}, nil
}

// BlitEncoder opens a blit encoder.
func (cb *CommandBuffer) BlitEncoder(label string) (backend.BlitEncoder, error) {
	if err := cb.openEncoder(); err != nil {
		return nil, err
	}
	cb.device.record(Op{Kind: OpBeginBlit, Label: label, Queue: cb.queue.id})
	return &blitEncoder{encoder{cb: cb, label: label}}, nil
}

func (cb *CommandBuffer) openEncoder() error {
	if cb.open {
		return fmt.Errorf("software: command buffer %q already has an open encoder", cb.label)
	}
	cb.open = true
	return nil
}

// External hands the buffer to externally recorded work.
func (cb *CommandBuffer) External(record func() error) error {
	cb.device.record(Op{Kind: OpExternal, Label: cb.label, Queue: cb.queue.id})
	if record == nil {
		return nil
	}
	return record()
}

// EncodeWait makes the buffer wait until ev reaches value.
func (cb *CommandBuffer) EncodeWait(ev backend.Event, value uint64) {
	e, _ := ev.(*Event)
	cb.waits = append(cb.waits, pendingWait{event: e, value: value})
	cb.device.record(Op{Kind: OpEncodeWait, Queue: cb.queue.id, Event: ev, Value: value})
}

// EncodeSignal makes the buffer signal ev to value on completion.
func (cb *CommandBuffer) EncodeSignal(ev backend.Event, value uint64) {
	e, _ := ev.(*Event)
	cb.signals = append(cb.signals, pendingWait{event: e, value: value})
	cb.device.record(Op{Kind: OpEncodeSignal, Queue: cb.queue.id, Event: ev, Value: value})
}

// Commit completes the buffer: encoded waits must already be satisfied
// (buffers execute synchronously in submission order, so an unsatisfied
// wait means the compiled schedule submitted consumer before producer),
// signals are applied, and the completion callback runs.
func (cb *CommandBuffer) Commit(onComplete func()) error {
	if cb.open {
		return fmt.Errorf("software: command buffer %q committed with open encoder", cb.label)
	}
	for _, w := range cb.waits {
		if w.event == nil {
			continue
		}
		if w.event.value < w.value {
			cb.device.violate(fmt.Sprintf("buffer %q waits on %v=%d, currently %d",
				cb.label, w.event, w.value, w.event.value))
		}
	}
	for _, s := range cb.signals {
		if s.event != nil && s.event.value < s.value {
			s.event.value = s.value
		}
	}
	cb.device.record(Op{Kind: OpCommit, Label: cb.label, Queue: cb.queue.id})
	if onComplete != nil {
		onComplete()
	}
	return nil
}

// encoder implements the common encoder surface by appending to the
// device log.
type encoder struct {
	cb    *CommandBuffer
	label string
	ended bool
}

func labels(res []backend.Backing) []string {
	out := make([]string, 0, len(res))
	for _, b := range res {
		out = append(out, b.Label())
	}
	return out
}

func (e *encoder) record(op Op) {
	op.Label = e.label
	op.Queue = e.cb.queue.id
	e.cb.device.record(op)
}

func (e *encoder) UseResources(res []backend.Backing, usage backend.Residency, stages backend.Stage) {
	e.record(Op{Kind: OpUseResources, Resources: labels(res), Residency: usage, Stages: stages})
}

func (e *encoder) MemoryBarrier(res []backend.Backing, after, before backend.Stage) {
	e.record(Op{Kind: OpMemoryBarrier, Resources: labels(res), After: after, Before: before})
}

func (e *encoder) ScopedBarrier(scope backend.BarrierScope, after, before backend.Stage) {
	e.record(Op{Kind: OpScopedBarrier, Scope: scope, After: after, Before: before})
}

func (e *encoder) UpdateFence(f backend.Fence, after backend.Stage) {
	if sf, ok := f.(*Fence); ok {
		sf.signaled = true
	}
	e.record(Op{Kind: OpUpdateFence, Fence: f, After: after})
}

func (e *encoder) WaitFence(f backend.Fence, before backend.Stage) {
	if sf, ok := f.(*Fence); ok && !sf.signaled {
		e.cb.device.violate(fmt.Sprintf("encoder %q waits on unsignaled %v", e.label, sf))
	}
	e.record(Op{Kind: OpWaitFence, Fence: f, Before: before})
}

func (e *encoder) End() {
	if e.ended {
		return
	}
	e.ended = true
	e.cb.open = false
	e.record(Op{Kind: OpEndEncoder})
}

type renderEncoder struct{ encoder }

func (e *renderEncoder) Draw(payload any) {
	e.record(Op{Kind: OpDraw, Payload: payload})
}

type computeEncoder struct{ encoder }

func (e *computeEncoder) Dispatch(payload any) {
	e.record(Op{Kind: OpDispatch, Payload: payload})
}

type blitEncoder struct{ encoder }

func (e *blitEncoder) Copy(payload any) {
	e.record(Op{Kind: OpCopy, Payload: payload})
}
