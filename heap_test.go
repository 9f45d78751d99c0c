package hana

import "testing"

// fakeBody is a minimal heapBody for exercising the collector directly,
// without going through Value/Record/Array.
type fakeBody struct {
	refs      []*gcNode
	finalized *bool
}

func (f *fakeBody) trace(push func(*gcNode)) {
	for _, n := range f.refs {
		push(n)
	}
}

func (f *fakeBody) finalize() { *f.finalized = true }

func newFakeNode(h *Heap, refs ...*gcNode) (*gcNode, *bool) {
	finalized := false
	n := h.malloc(&fakeBody{refs: refs, finalized: &finalized}, 1)
	return n, &finalized
}

// A freshly malloc'd node rides out the Collect call that immediately
// follows its allocation (it's already sitting in the gray worklist
// malloc pushed it to), so tests that want to observe real reclamation
// need a second Collect with nothing re-graying the node.

func TestHeapCollectReclaimsUnreachable(t *testing.T) {
	h := NewHeap(1<<30, 100) // high threshold: Collect only runs when we call it explicitly
	h.SetRootTracer(func(push func(*gcNode)) {})

	_, aFinalized := newFakeNode(h)
	// malloc starts nativeRefs at 0 and nothing roots the node, so it's
	// unreachable as soon as the allocating cycle's grace period ends.

	h.Collect()
	if *aFinalized {
		t.Fatal("node allocated this cycle should survive its own allocating Collect")
	}
	h.Collect()

	if !*aFinalized {
		t.Fatal("expected unreachable node to be finalized by the following Collect")
	}
}

func TestHeapCollectKeepsRetainedNode(t *testing.T) {
	h := NewHeap(1<<30, 100)
	h.SetRootTracer(func(push func(*gcNode)) {})

	n, finalized := newFakeNode(h)
	// Nothing roots n through the tracer above; retain simulates a value
	// saved off to the side the way Eval snapshots vm.stack/vm.frames
	// while a nested script runs, invisible to the normal root walk.
	retain(n)

	h.Collect()
	h.Collect()

	if *finalized {
		t.Fatal("expected a node with a live native ref to survive Collect even though no root tracer reaches it")
	}
}

func TestHeapCollectReclaimsUnreachableCycle(t *testing.T) {
	h := NewHeap(1<<30, 100)
	h.SetRootTracer(func(push func(*gcNode)) {})

	a, aFinalized := newFakeNode(h)
	b, bFinalized := newFakeNode(h, a)
	a.body.(*fakeBody).refs = []*gcNode{b} // a -> b -> a, a cycle

	h.Collect()
	h.Collect()

	if !*aFinalized || !*bFinalized {
		t.Fatal("expected an unreachable reference cycle to be fully reclaimed")
	}
}

func TestHeapCollectKeepsReachableCycle(t *testing.T) {
	h := NewHeap(1<<30, 100)

	a, aFinalized := newFakeNode(h)
	b, bFinalized := newFakeNode(h, a)
	a.body.(*fakeBody).refs = []*gcNode{b}

	// A root tracer stands in for a global/stack slot pointing at a,
	// even though neither node carries a native ref of its own.
	h.SetRootTracer(func(push func(*gcNode)) { push(a) })

	h.Collect()
	h.Collect()

	if *aFinalized || *bFinalized {
		t.Fatal("expected a cycle reachable from a root to survive Collect")
	}
}
