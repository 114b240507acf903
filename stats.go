package framegraph

// FrameStats holds per-frame compilation and execution metrics.
// Retrieve the last frame's stats with Graph.Stats.
type FrameStats struct {
	// Passes is the number of active passes compiled.
	Passes int

	// Encoders is the number of command encoders in the partition plan.
	Encoders int

	// CommandBuffers is the number of command buffers submitted.
	CommandBuffers int

	// Dependencies is the number of cross-encoder dependency edges
	// before transitive reduction; ReducedDependencies after.
	Dependencies        int
	ReducedDependencies int

	// Fences is the number of pooled fences created for the frame.
	Fences int

	// Barriers is the number of in-encoder memory barriers generated;
	// ScopedBarriers how many compacted lists collapsed into scope form.
	Barriers       int
	ScopedBarriers int

	// ResidencyCommands is the number of useResource runs generated
	// before batching.
	ResidencyCommands int

	// Materialized and Disposed count resource lifetime commands.
	Materialized int
	Disposed     int

	// CompiledCommands is the final compacted command count.
	CompiledCommands int

	// SkippedPasses counts passes skipped due to drawable acquisition
	// failures (degraded frame).
	SkippedPasses int
}
