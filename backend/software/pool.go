package software

import (
	"fmt"
	"sync"

	"github.com/gogpu/framegraph/backend"
)

// Allocation is pool-provided backing memory.
type Allocation struct {
	label string
	desc  backend.ResourceDescriptor
}

// Label returns the allocation's debug label.
func (a *Allocation) Label() string { return a.label }

// Descriptor returns the request the allocation was made for.
func (a *Allocation) Descriptor() backend.ResourceDescriptor { return a.desc }

// Pool is the recording allocation pool. Every Collect produces a fresh
// Allocation; heap requests carry forward the fences deposited by the
// heap's previous occupant, mirroring the aliasing contract.
type Pool struct {
	mu     sync.Mutex
	device *Device

	next int
	live map[*Allocation]bool

	// heapFences holds, per heap label, the fences the next occupant
	// must wait on.
	heapFences map[string][]backend.Fence

	collects int
	deposits int
}

func newPool() *Pool {
	return &Pool{
		live:       make(map[*Allocation]bool),
		heapFences: make(map[string][]backend.Fence),
	}
}

// Collect allocates backing memory for the request.
func (p *Pool) Collect(desc backend.ResourceDescriptor) (backend.Backing, []backend.Fence, backend.Event, error) {
	p.mu.Lock()
	p.next++
	p.collects++
	a := &Allocation{label: desc.Label, desc: desc}
	if a.label == "" {
		a.label = fmt.Sprintf("alloc-%d", p.next)
	}
	p.live[a] = true
	var fences []backend.Fence
	if desc.Heap != "" {
		fences = p.heapFences[desc.Heap]
		delete(p.heapFences, desc.Heap)
	}
	p.mu.Unlock()

	p.device.record(Op{Kind: OpCollect, Label: a.label})
	return a, fences, nil, nil
}

// Deposit returns an allocation to the pool.
func (p *Pool) Deposit(b backend.Backing, fences []backend.Fence, ev backend.Event) {
	a, ok := b.(*Allocation)
	if !ok {
		return
	}
	p.mu.Lock()
	p.deposits++
	delete(p.live, a)
	if a.desc.Heap != "" && len(fences) > 0 {
		p.heapFences[a.desc.Heap] = fences
	}
	p.mu.Unlock()

	p.device.record(Op{Kind: OpDeposit, Label: a.label})
}

// Live returns the number of outstanding allocations. A balanced frame
// leaves only persistent backings live.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Collects returns the total Collect count.
func (p *Pool) Collects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.collects
}

// Deposits returns the total Deposit count.
func (p *Pool) Deposits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deposits
}
