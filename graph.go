package framegraph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/framegraph/backend"

	// The software backend is the universal fallback; importing it here
	// keeps New() usable without an explicit backend import.
	_ "github.com/gogpu/framegraph/backend/software"
)

// GraphOption configures a Graph during creation.
type GraphOption func(*graphOptions)

// graphOptions holds optional configuration for Graph creation.
type graphOptions struct {
	backendName    string
	device         backend.Device
	queues         int
	scopeThreshold int
}

func defaultGraphOptions() graphOptions {
	return graphOptions{
		queues:         1,
		scopeThreshold: defaultScopeThreshold,
	}
}

// WithBackend selects a registered backend by name instead of the
// priority default.
func WithBackend(name string) GraphOption {
	return func(o *graphOptions) { o.backendName = name }
}

// WithDevice injects an already-opened device, bypassing backend
// selection. Useful when the host application owns the GPU device.
func WithDevice(d backend.Device) GraphOption {
	return func(o *graphOptions) { o.device = d }
}

// WithQueues requests the number of independent command queues.
// The device may provide fewer; at least one is guaranteed.
func WithQueues(n int) GraphOption {
	return func(o *graphOptions) {
		if n > 0 {
			o.queues = n
		}
	}
}

// WithScopeThreshold sets the explicit-resource-list size past which a
// compacted barrier collapses into a scoped barrier.
func WithScopeThreshold(n int) GraphOption {
	return func(o *graphOptions) {
		if n > 0 {
			o.scopeThreshold = n
		}
	}
}

// Graph is a frame-graph execution session. It owns the backend device,
// the session's command queues, the pooled fence table, and the
// per-resource cross-frame synchronization state. Sessions are
// independent: two Graphs never share fences, queues, or counters.
//
// A Graph is not safe for concurrent Execute calls; compile-and-execute
// is a single-threaded frame operation. The fence table it owns is
// internally synchronized so command-buffer completion callbacks may
// release fences concurrently.
type Graph struct {
	mu     sync.Mutex
	opts   graphOptions
	bk     backend.Backend
	device backend.Device
	queues []*queueState
	fences fenceTable

	nextResource ResourceID
	frame        uint64
	closed       bool

	lastStats FrameStats
}

// New creates a frame-graph session. Without options the best available
// backend is selected (wgpu when registered, software otherwise) and one
// queue is used.
func New(opts ...GraphOption) (*Graph, error) {
	o := defaultGraphOptions()
	for _, opt := range opts {
		opt(&o)
	}

	g := &Graph{opts: o}

	if o.device != nil {
		g.device = o.device
	} else {
		var bk backend.Backend
		if o.backendName != "" {
			bk = backend.Get(o.backendName)
			if bk == nil {
				return nil, fmt.Errorf("%w: backend %q not registered", ErrNoBackend, o.backendName)
			}
			if err := bk.Init(); err != nil {
				return nil, fmt.Errorf("framegraph: init backend %q: %w", o.backendName, err)
			}
		} else {
			var err error
			bk, err = backend.InitDefault()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNoBackend, err)
			}
		}
		dev, err := bk.NewDevice(o.queues)
		if err != nil {
			bk.Close()
			return nil, fmt.Errorf("framegraph: open device: %w", err)
		}
		g.bk = bk
		g.device = dev
		Logger().Info("framegraph session started", "backend", bk.Name())
	}

	for i, q := range g.device.Queues() {
		ev, err := g.device.NewEvent()
		if err != nil {
			return nil, fmt.Errorf("framegraph: create queue event: %w", err)
		}
		g.queues = append(g.queues, &queueState{
			id:     QueueID(i),
			native: q,
			event:  ev,
		})
	}
	if len(g.queues) == 0 {
		return nil, fmt.Errorf("framegraph: device has no queues")
	}
	return g, nil
}

// Close tears the session down. Outstanding GPU work is not waited on;
// callers should drain frames first.
func (g *Graph) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	if g.bk != nil {
		g.bk.Close()
	}
}

// QueueCount returns the number of command queues in the session.
func (g *Graph) QueueCount() int { return len(g.queues) }

// Stats returns the metrics of the most recently executed frame.
func (g *Graph) Stats() FrameStats { return g.lastStats }

// newResource allocates a resource handle.
func (g *Graph) newResource(typ ResourceType, flags ResourceFlags, storage StorageMode, label string) *Resource {
	g.nextResource++
	return &Resource{
		id:          g.nextResource,
		label:       label,
		typ:         typ,
		flags:       flags,
		storage:     storage,
		queueAccess: make([]queueAccess, len(g.queues)),
	}
}

// NewBuffer creates a buffer resource.
func (g *Graph) NewBuffer(desc BufferDescriptor, flags ResourceFlags, label string) *Resource {
	r := g.newResource(ResourceBuffer, flags, desc.Storage, label)
	d := desc
	r.buffer = &d
	return r
}

// NewTexture creates a texture resource.
func (g *Graph) NewTexture(desc TextureDescriptor, flags ResourceFlags, label string) *Resource {
	r := g.newResource(ResourceTexture, flags, desc.Storage, label)
	d := desc
	if d.Depth == 0 {
		d.Depth = 1
	}
	if d.MipLevelCount == 0 {
		d.MipLevelCount = 1
	}
	if d.SampleCount == 0 {
		d.SampleCount = 1
	}
	r.texture = &d
	return r
}

// NewWindowTexture creates a texture backed by a window drawable.
// Acquisition happens at most once per frame and may fail transiently;
// passes touching the texture are skipped on failure.
func (g *Graph) NewWindowTexture(desc TextureDescriptor, label string) *Resource {
	return g.NewTexture(desc, ResourceWindowHandle, label)
}

// NewBufferFromHeap creates a buffer whose memory comes from an aliasing
// heap. Its first use waits on the heap's previous occupant.
func (g *Graph) NewBufferFromHeap(h *Heap, desc BufferDescriptor, flags ResourceFlags, label string) *Resource {
	r := g.NewBuffer(desc, flags, label)
	r.heap = h
	return r
}

// NewTextureFromHeap creates a texture whose memory comes from an
// aliasing heap.
func (g *Graph) NewTextureFromHeap(h *Heap, desc TextureDescriptor, flags ResourceFlags, label string) *Resource {
	r := g.NewTexture(desc, flags, label)
	r.heap = h
	return r
}

// NewArgumentBuffer creates a standalone argument buffer.
func (g *Graph) NewArgumentBuffer(length uint64, flags ResourceFlags, label string) *Resource {
	r := g.newResource(ResourceArgumentBuffer, flags, StorageShared, label)
	r.buffer = &BufferDescriptor{Length: length}
	return r
}

// NewArgumentBufferArray creates an argument-buffer array: one backing
// allocation shared by its member views.
func (g *Graph) NewArgumentBufferArray(memberLength uint64, members int, flags ResourceFlags, label string) *Resource {
	r := g.newResource(ResourceArgumentBufferArray, flags, StorageShared, label)
	r.buffer = &BufferDescriptor{Length: memberLength * uint64(members)}
	return r
}

// ArgumentBufferView creates an argument buffer whose storage is a view
// into the given array. Views are always materialized after their array
// and must never be disposed individually.
func (g *Graph) ArgumentBufferView(array *Resource, length uint64, label string) *Resource {
	if array == nil || array.typ != ResourceArgumentBufferArray {
		fatalf("argument-buffer view %q requires an argument-buffer array, got %v", label, array)
	}
	r := g.newResource(ResourceArgumentBuffer, array.flags, StorageShared, label)
	r.buffer = &BufferDescriptor{Length: length}
	r.array = array
	return r
}

// Release returns a persistent resource's backing immediately.
// Releasing an argument buffer that belongs to an array is a contract
// violation: the array owns the storage.
func (g *Graph) Release(r *Resource) {
	if r.array != nil {
		fatalf("cannot dispose argument buffer %s individually: it belongs to array %s", r, r.array)
	}
	if r.backing != nil && g.device != nil {
		g.device.Pool().Deposit(r.backing, nil, nil)
		r.backing = nil
	}
	r.initialised = false
}

// Execute compiles and executes one frame: the ordered pass list is
// analyzed, synchronization is generated, and the resulting command
// buffers are submitted. onComplete is invoked exactly once when all GPU
// work for the frame has finished; for an empty frame it is invoked
// synchronously.
//
// Execute returns after submission; it does not wait for the GPU. A
// degraded frame (drawable unavailable) logs a warning, skips the
// affected passes, and still returns nil.
func (g *Graph) Execute(passes []*PassRecord, onComplete func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	g.frame++

	c := g.compile(passes)
	err := g.run(c, onComplete)
	g.lastStats = c.stats
	return err
}

// compile runs the analysis pipeline without executing. Split out for
// tests, which inspect the compiled plan directly.
func (g *Graph) compile(passes []*PassRecord) *compilation {
	c := &compilation{graph: g, passes: passes}

	// Assign pass indices and global command ranges. Culled passes are
	// retained for stable indexing but occupy no commands.
	next := 0
	for i, p := range passes {
		p.index = i
		p.encoder = -1
		p.usesWindow = false
		if !p.active {
			p.first, p.last = -1, -1
			continue
		}
		p.first = next
		p.last = next + p.commands - 1
		next = p.last + 1
		c.stats.Passes++
	}

	// Expand declared accesses into per-resource usage lists, resetting
	// each referenced resource once.
	seen := make(map[ResourceID]bool)
	touch := func(r *Resource) {
		if seen[r.id] {
			return
		}
		seen[r.id] = true
		r.resetFrame()
		if r.heap != nil {
			// Aliasing points refer to frame-local encoders; across
			// frames same-queue submission order serializes occupants.
			r.heap.resetFrame()
		}
		c.resources = append(c.resources, r)
	}
	for _, p := range passes {
		if !p.active {
			continue
		}
		for _, d := range p.decls {
			touch(d.resource)
		}
		if p.typ == PassDraw && p.renderTarget != nil {
			rt := p.renderTarget
			for i := range rt.Color {
				if rt.Color[i].Texture != nil {
					touch(rt.Color[i].Texture)
					if rt.Color[i].ResolveTexture != nil {
						touch(rt.Color[i].ResolveTexture)
					}
				}
			}
			if rt.DepthStencil != nil && rt.DepthStencil.Texture != nil {
				touch(rt.DepthStencil.Texture)
			}
		}
	}
	for _, p := range passes {
		if p.active {
			p.expandDecls()
		}
	}

	// Process resources in first-use order so heap-aliasing occupancy
	// hands fences from one occupant to the next.
	sort.SliceStable(c.resources, func(a, b int) bool {
		ra, rb := c.resources[a], c.resources[b]
		fa, fb := firstActiveIndex(ra), firstActiveIndex(rb)
		return fa < fb
	})

	c.targets = mergeRenderTargets(passes)

	base := make([]uint64, len(g.queues))
	for i, q := range g.queues {
		base[i] = q.submitted.Load()
	}
	c.plan = partition(passes, c.targets, len(g.queues), base)
	c.stats.Encoders = len(c.plan.encoders)
	c.stats.CommandBuffers = len(c.plan.buffers)

	c.generate()
	c.stats.ReducedDependencies = c.deps.count()
	c.synthesizeFences()
	c.compact()

	Logger().Debug("frame compiled",
		"frame", g.frame,
		"passes", c.stats.Passes,
		"encoders", c.stats.Encoders,
		"buffers", c.stats.CommandBuffers,
		"fences", c.stats.Fences,
		"commands", c.stats.CompiledCommands)
	return c
}

// firstActiveIndex returns the first active usage's command index, or a
// sentinel past any real index.
func firstActiveIndex(r *Resource) int {
	for i := range r.usages {
		if r.usages[i].Pass.active {
			return r.usages[i].First
		}
	}
	return int(^uint(0) >> 1)
}
