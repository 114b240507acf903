package framegraph

// Dependency is a directional ordering edge between two command encoders:
// the consumer must not pass WaitIndex/WaitStages until the producer has
// finished SignalIndex/SignalStages.
//
// Merging two dependencies on the same encoder pair widens the window
// monotonically: the wait moves backward (earlier), the signal forward
// (later). It never narrows.
type Dependency struct {
	// SignalIndex is the latest producer command index after which the
	// producer's relevant work is complete.
	SignalIndex int

	// SignalStages is the union of producer stages that must complete.
	SignalStages Stage

	// WaitIndex is the earliest consumer command index that must block.
	WaitIndex int

	// WaitStages is the union of consumer stages that must wait.
	WaitStages Stage
}

// merge widens the dependency window to also cover other.
func (d *Dependency) merge(other Dependency) {
	if other.SignalIndex > d.SignalIndex {
		d.SignalIndex = other.SignalIndex
	}
	d.SignalStages |= other.SignalStages
	if other.WaitIndex < d.WaitIndex {
		d.WaitIndex = other.WaitIndex
	}
	d.WaitStages |= other.WaitStages
}

// dependencyTable records encoder-to-encoder dependencies for one frame.
// Edges always run from a producer encoder to a consumer with a higher
// index (encoder indices increase with command order), so the table is a
// DAG by construction.
type dependencyTable struct {
	n     int
	edges map[[2]int]*Dependency // key: {producer, consumer}
}

func newDependencyTable(encoders int) *dependencyTable {
	return &dependencyTable{
		n:     encoders,
		edges: make(map[[2]int]*Dependency),
	}
}

// add records that consumer depends on producer, merging into any
// existing edge by widening. Self-edges are a programming error and are
// ignored (in-encoder hazards are handled by memory barriers).
func (t *dependencyTable) add(producer, consumer int, dep Dependency) {
	if producer == consumer || producer < 0 || consumer < 0 {
		return
	}
	key := [2]int{producer, consumer}
	if e, ok := t.edges[key]; ok {
		e.merge(dep)
		return
	}
	d := dep
	t.edges[key] = &d
}

// get returns the edge producer→consumer, or nil.
func (t *dependencyTable) get(producer, consumer int) *Dependency {
	return t.edges[[2]int{producer, consumer}]
}

// count returns the number of edges.
func (t *dependencyTable) count() int { return len(t.edges) }

// reduce removes transitively redundant edges: an edge a→c is dropped
// when some b exists with an (original) edge a→b and a path b→…→c. The
// ordering a<b<c always holds because edges run forward, so a simple
// reachability sweep suffices.
func (t *dependencyTable) reduce() {
	if len(t.edges) == 0 {
		return
	}

	// adjacency over the original edges
	succ := make([][]int, t.n)
	for key := range t.edges {
		succ[key[0]] = append(succ[key[0]], key[1])
	}

	// reach[b] = set of encoders reachable from b via one or more edges.
	// Computed backward so successors are done before their
	// predecessors.
	reach := make([]map[int]bool, t.n)
	for b := t.n - 1; b >= 0; b-- {
		r := make(map[int]bool)
		for _, c := range succ[b] {
			r[c] = true
			for k := range reach[c] {
				r[k] = true
			}
		}
		reach[b] = r
	}

	for key := range t.edges {
		a, c := key[0], key[1]
		for _, b := range succ[a] {
			if b != c && reach[b][c] {
				delete(t.edges, key)
				break
			}
		}
	}
}

// producers returns the encoder indices with at least one outgoing edge,
// in ascending order, along with their consumers.
func (t *dependencyTable) producers() map[int][]int {
	out := make(map[int][]int)
	for key := range t.edges {
		out[key[0]] = append(out[key[0]], key[1])
	}
	return out
}
