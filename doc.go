// Package framegraph compiles a declarative, per-frame list of render,
// compute, and blit passes into an executable GPU command schedule.
//
// The caller declares passes and the resources each pass reads and writes.
// From that declaration the compiler derives everything needed to execute
// the frame correctly and efficiently:
//
//   - the minimum set of synchronization primitives (fences, memory
//     barriers, cross-queue events) required by the declared accesses,
//   - the grouping of passes into command encoders and command buffers,
//   - resource lifetimes: when transient resources are materialized from
//     a pool, when they are returned, and which fences guard heap-aliased
//     memory reuse,
//   - ordering across multiple independent command queues.
//
// # Architecture
//
// Compilation is a single-threaded pipeline over the frame's pass list:
//
//  1. Render-target merging: consecutive draw passes targeting identical
//     attachments share one render-target descriptor with computed
//     load/store actions.
//  2. Encoder partitioning: each pass is assigned a command-encoder index
//     and each encoder a command-buffer index.
//  3. Dependency generation: every resource's usage list is replayed in
//     command order to emit residency and barrier commands, record
//     cross-encoder hazards, and place materialize/dispose commands.
//  4. Fence synthesis: the hazard table is transitively reduced and
//     converted into fence update/wait pairs.
//  5. Compaction: residency calls are batched and barriers coalesced into
//     a minimal ordered command stream per encoder.
//  6. Execution: command buffers and encoders are opened per the
//     partition plan, compiled commands are interleaved with each pass's
//     own GPU commands, and buffers are submitted with any cross-queue
//     waits.
//
// The native GPU surface (devices, queues, encoders, fences) is reached
// through the backend package. A pure-Go recording backend is always
// available; importing backend/wgpu registers a gogpu/wgpu-backed backend.
//
// # Example
//
//	g := framegraph.New()
//	defer g.Close()
//
//	tex := g.NewTexture(framegraph.TextureDescriptor{
//		Width: 1920, Height: 1080,
//		Format: gputypes.TextureFormatRGBA8Unorm,
//	}, 0, "hdr-color")
//
//	draw := framegraph.NewDrawPass("geometry", &framegraph.RenderTarget{
//		Color: []framegraph.Attachment{{Texture: tex, Clear: true}},
//	}, 1, nil)
//	post := framegraph.NewComputePass("tonemap", 1, nil)
//	post.Reads(tex, framegraph.StageCompute)
//
//	err := g.Execute([]*framegraph.PassRecord{draw, post},
//		func() { /* frame finished on the GPU */ })
//
// By default framegraph produces no log output; call [SetLogger] to enable
// diagnostics.
package framegraph
