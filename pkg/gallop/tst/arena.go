package tst

import "math"

// nodeID indexes a node in the arena. nilNode means "no node".
type nodeID int32

const nilNode nodeID = -1

// DefaultSlabWidth is the number of nodes added each time the arena grows.
const DefaultSlabWidth = 30

// node is one discriminator in the tree. A node whose value is 0 ends a
// key and holds its payload; any other node continues the key through
// middle. Free nodes are chained through middle.
type node[T any] struct {
	value   byte
	left    nodeID
	right   nodeID
	middle  nodeID
	payload T
}

// arena hands out nodes from fixed-width slabs. Released nodes go back on
// a free list and are reused before the arena grows. Slabs are never
// returned; a slab's backing array never moves, so pointers to nodes stay
// valid while the arena grows.
type arena[T any] struct {
	slabs    [][]node[T]
	width    int
	maxNodes int

	free    nodeID
	freeLen int
	live    int
}

func newArena[T any](width, maxNodes int) arena[T] {
	if width <= 0 {
		width = DefaultSlabWidth
	}
	return arena[T]{width: width, maxNodes: maxNodes, free: nilNode}
}

// at returns the node for id. id must be a valid node.
func (a *arena[T]) at(id nodeID) *node[T] {
	return &a.slabs[int(id)/a.width][int(id)%a.width]
}

// capacity returns the number of slots in all slabs.
func (a *arena[T]) capacity() int {
	return len(a.slabs) * a.width
}

// reserve makes sure n nodes can be allocated without failing, growing the
// arena if the free list is too short.
func (a *arena[T]) reserve(n int) error {
	if a.maxNodes > 0 && a.live+n > a.maxNodes {
		return ErrAllocation
	}
	for a.freeLen < n {
		if a.capacity()+a.width > math.MaxInt32 {
			return ErrAllocation
		}
		a.grow()
	}
	return nil
}

// grow appends one slab and threads its slots onto the free list in
// ascending order.
func (a *arena[T]) grow() {
	base := a.capacity()
	slab := make([]node[T], a.width)
	for i := len(slab) - 1; i >= 0; i-- {
		slab[i] = node[T]{left: nilNode, right: nilNode, middle: a.free}
		a.free = nodeID(base + i)
	}
	a.slabs = append(a.slabs, slab)
	a.freeLen += a.width
}

// alloc pops a node off the free list and initializes it with value.
// The caller must have reserved it.
func (a *arena[T]) alloc(value byte) nodeID {
	if a.free == nilNode {
		panic("tst: alloc without reserve")
	}
	id := a.free
	n := a.at(id)
	a.free = n.middle
	a.freeLen--
	a.live++
	*n = node[T]{value: value, left: nilNode, right: nilNode, middle: nilNode}
	return id
}

// release returns id to the free list and drops its payload.
func (a *arena[T]) release(id nodeID) {
	n := a.at(id)
	*n = node[T]{left: nilNode, right: nilNode, middle: a.free}
	a.free = id
	a.freeLen++
	a.live--
}
