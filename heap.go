package hana

// color is the tri-color mark used by the tracing collector.
type color uint8

const (
	white color = iota
	gray
	black
)

// heapBody is implemented by every heap-allocated object kind
// (HanaString, Record, Array, Function). trace must push exactly the
// handles it directly references, per §4.1's tracer contract.
type heapBody interface {
	trace(push func(*gcNode))
	finalize()
}

// gcNode is one node of the heap's intrusive singly-linked list.
// nativeRefs pins the node against collection the same way a held
// handle outside the heap does. Only explicit retain/release calls
// change it; creating or copying a Value that wraps this node does not.
type gcNode struct {
	next       *gcNode
	color      color
	nativeRefs int
	size       int
	body       heapBody
}

// Heap owns every object a VM allocates: strings, records, arrays,
// functions. It implements the tracing mark-and-sweep cycle described
// in §4.1: allocation places new nodes on Gray; collection happens
// only at allocation time once bytesAllocated crosses threshold.
type Heap struct {
	first          *gcNode
	gray           []*gcNode
	bytesAllocated int
	threshold      int
	usedRatio      float64
	enabled        bool
	roots          func(push func(*gcNode))
}

func NewHeap(initialThreshold int, usedRatioPercent int) *Heap {
	return &Heap{
		threshold: initialThreshold,
		usedRatio: float64(usedRatioPercent) / 100.0,
		enabled:   true,
	}
}

// SetRootTracer installs the function the heap calls at the start of
// each mark phase to seed Gray with the live root set (globals, value
// stack, active call frames, pending ExFrames, well-known prototypes).
func (h *Heap) SetRootTracer(fn func(push func(*gcNode))) {
	h.roots = fn
}

func (h *Heap) SetEnabled(v bool) { h.enabled = v }

// malloc allocates a new node wrapping body, possibly triggering a
// collection first if the threshold has been crossed.
func (h *Heap) malloc(body heapBody, size int) *gcNode {
	if h.enabled && h.bytesAllocated >= h.threshold {
		h.Collect()
	}
	n := &gcNode{
		next:       h.first,
		color:      gray,
		nativeRefs: 0,
		size:       size,
		body:       body,
	}
	h.first = n
	h.gray = append(h.gray, n)
	h.bytesAllocated += size
	return n
}

// retain bumps a node's native-ref count, keeping it alive while it
// is held somewhere the root tracer cannot see. Eval calls it for
// every value and frame in the snapshot it sets aside; values on the
// live value stack and in environment slots are not retained, since
// the root tracer already reaches them.
func retain(n *gcNode) {
	if n != nil {
		n.nativeRefs++
	}
}

// release drops a node's native-ref count; the node itself is only
// actually reclaimed by the next sweep, not immediately.
func release(n *gcNode) {
	if n != nil && n.nativeRefs > 0 {
		n.nativeRefs--
	}
}

func (h *Heap) push(n *gcNode) {
	if n != nil && n.color == white {
		n.color = gray
		h.gray = append(h.gray, n)
	}
}

// Collect runs one full mark-and-sweep cycle per §4.1. Reachability is
// the sole survival criterion: a node lives on only if it's traced
// from a root. nativeRefs has no special-cased exemption from sweep —
// it instead feeds an extra root set of its own, for values a Go
// caller is holding off to the side where the normal root tracer
// (globals, the value stack, call frames) can't see them, e.g. Eval's
// detached stack/frame snapshot while a nested script runs.
func (h *Heap) Collect() {
	before := h.bytesAllocated

	for n := h.first; n != nil; n = n.next {
		if n.nativeRefs > 0 {
			h.push(n)
		}
	}
	if h.roots != nil {
		h.roots(h.push)
	}

	// mark
	for len(h.gray) > 0 {
		n := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		if n.color == black {
			continue
		}
		n.body.trace(h.push)
		n.color = black
	}

	// sweep
	var prev *gcNode
	live := 0
	cur := h.first
	for cur != nil {
		next := cur.next
		if cur.color != black {
			cur.body.finalize()
			if prev == nil {
				h.first = next
			} else {
				prev.next = next
			}
			h.bytesAllocated -= cur.size
			cur = next
			continue
		}
		cur.color = white
		live += cur.size
		prev = cur
		cur = next
	}

	if float64(live) >= float64(h.threshold)*h.usedRatio {
		newThreshold := int(float64(live) / h.usedRatio)
		if newThreshold > h.threshold {
			h.threshold = newThreshold
		}
	}

	logger.WithFields(map[string]interface{}{
		"before":    before,
		"after":     h.bytesAllocated,
		"threshold": h.threshold,
	}).Debug("gc cycle")
}
