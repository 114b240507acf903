package framegraph

import "testing"

func TestDependencyMergeWidens(t *testing.T) {
	d := Dependency{SignalIndex: 5, SignalStages: StageCompute, WaitIndex: 10, WaitStages: StageFragment}
	d.merge(Dependency{SignalIndex: 7, SignalStages: StageBlit, WaitIndex: 8, WaitStages: StageVertex})

	if d.SignalIndex != 7 {
		t.Errorf("SignalIndex = %d, want 7 (moves forward)", d.SignalIndex)
	}
	if d.WaitIndex != 8 {
		t.Errorf("WaitIndex = %d, want 8 (moves backward)", d.WaitIndex)
	}
	if d.SignalStages != StageCompute|StageBlit {
		t.Errorf("SignalStages = %v, want union", d.SignalStages)
	}
	if d.WaitStages != StageFragment|StageVertex {
		t.Errorf("WaitStages = %v, want union", d.WaitStages)
	}

	// Merging a narrower window changes nothing.
	d.merge(Dependency{SignalIndex: 2, SignalStages: StageCompute, WaitIndex: 20, WaitStages: StageFragment})
	if d.SignalIndex != 7 || d.WaitIndex != 8 {
		t.Errorf("narrower merge moved window to signal=%d wait=%d", d.SignalIndex, d.WaitIndex)
	}
}

func TestDependencyTableAdd(t *testing.T) {
	tbl := newDependencyTable(4)

	tbl.add(0, 2, Dependency{SignalIndex: 1, WaitIndex: 5})
	tbl.add(0, 2, Dependency{SignalIndex: 3, WaitIndex: 4})

	if got := tbl.count(); got != 1 {
		t.Fatalf("count() = %d, want 1 (edges merge)", got)
	}
	e := tbl.get(0, 2)
	if e.SignalIndex != 3 || e.WaitIndex != 4 {
		t.Errorf("merged edge = %+v, want signal=3 wait=4", *e)
	}

	// Self and negative edges are ignored.
	tbl.add(1, 1, Dependency{})
	tbl.add(-1, 2, Dependency{})
	if got := tbl.count(); got != 1 {
		t.Errorf("count() = %d after invalid adds, want 1", got)
	}
}

func TestDependencyTableReduce(t *testing.T) {
	tbl := newDependencyTable(3)
	tbl.add(0, 1, Dependency{SignalIndex: 1, WaitIndex: 2})
	tbl.add(1, 2, Dependency{SignalIndex: 3, WaitIndex: 4})
	tbl.add(0, 2, Dependency{SignalIndex: 1, WaitIndex: 4})

	tbl.reduce()

	if got := tbl.count(); got != 2 {
		t.Fatalf("count() = %d after reduce, want 2", got)
	}
	if tbl.get(0, 2) != nil {
		t.Error("transitively redundant edge 0->2 survived reduction")
	}
	if tbl.get(0, 1) == nil || tbl.get(1, 2) == nil {
		t.Error("covering chain edges were removed")
	}
}

func TestDependencyTableReduceDeepChain(t *testing.T) {
	tbl := newDependencyTable(5)
	for i := 0; i < 4; i++ {
		tbl.add(i, i+1, Dependency{SignalIndex: i, WaitIndex: i + 1})
	}
	// Redundant long-range edges at every distance.
	tbl.add(0, 4, Dependency{})
	tbl.add(0, 3, Dependency{})
	tbl.add(1, 4, Dependency{})

	tbl.reduce()

	if got := tbl.count(); got != 4 {
		t.Errorf("count() = %d after reduce, want 4 (chain only)", got)
	}
	for i := 0; i < 4; i++ {
		if tbl.get(i, i+1) == nil {
			t.Errorf("chain edge %d->%d removed", i, i+1)
		}
	}
}

func TestDependencyTableProducers(t *testing.T) {
	tbl := newDependencyTable(4)
	tbl.add(0, 1, Dependency{})
	tbl.add(0, 3, Dependency{})
	tbl.add(2, 3, Dependency{})

	prods := tbl.producers()
	if len(prods) != 2 {
		t.Fatalf("len(producers) = %d, want 2", len(prods))
	}
	if len(prods[0]) != 2 {
		t.Errorf("producer 0 has %d consumers, want 2", len(prods[0]))
	}
	if len(prods[2]) != 1 || prods[2][0] != 3 {
		t.Errorf("producer 2 consumers = %v, want [3]", prods[2])
	}
}
