package pointtree

import (
	"github.com/aukilabs/kenaz/geom"
	"github.com/go-gl/mathgl/mgl32"
)

// handle pairs a member with the position it had when inserted.
type handle[T comparable] struct {
	position mgl32.Vec3
	value    T
}

type node[T comparable] struct {
	// Region of space the node is confined to by its ancestors' split
	// planes. Unbounded at the root.
	splitBounds geom.Box

	splitAxis     geom.Axis
	splitLocation float32

	// child[0] holds positions at or below splitLocation along splitAxis,
	// child[1] positions strictly above.
	child [2]*node[T]

	handles []handle[T]
}

func newNode[T comparable]() *node[T] {
	return &node[T]{splitBounds: geom.Unbounded()}
}

func (n *node[T]) isLeaf() bool {
	return n.child[0] == nil && n.child[1] == nil
}

// findDeepestContainingNode descends from n towards p and returns the last
// node whose region certainly contains it.
func (n *node[T]) findDeepestContainingNode(p mgl32.Vec3) *node[T] {
	for {
		v := p[n.splitAxis]
		switch {
		case v < n.splitLocation && n.child[0] != nil:
			n = n.child[0]
		case v > n.splitLocation && n.child[1] != nil:
			n = n.child[1]
		default:
			return n
		}
	}
}

func (n *node[T]) assignSplitBounds(b geom.Box) {
	n.splitBounds = b

	below, above := b.Split(n.splitAxis, n.splitLocation)
	if n.child[0] != nil {
		n.child[0].assignSplitBounds(below)
	}
	if n.child[1] != nil {
		n.child[1].assignSplitBounds(above)
	}
}

// appendHandles appends the handles of n and all of its descendants.
func (n *node[T]) appendHandles(handles []handle[T]) []handle[T] {
	handles = append(handles, n.handles...)
	for _, c := range n.child {
		if c != nil {
			handles = c.appendHandles(handles)
		}
	}
	return handles
}

// removeHandle deletes the handle holding v. Handle order within a node is
// not preserved.
func (n *node[T]) removeHandle(v T) bool {
	for i := len(n.handles) - 1; i >= 0; i-- {
		if n.handles[i].value != v {
			continue
		}

		last := len(n.handles) - 1
		n.handles[i] = n.handles[last]
		n.handles[last] = handle[T]{}
		n.handles = n.handles[:last]
		return true
	}
	return false
}

// clone copies n and its descendants, registering every copied
// handle in members.
func (n *node[T]) clone(members memberTable[T]) *node[T] {
	c := &node[T]{
		splitBounds:   n.splitBounds,
		splitAxis:     n.splitAxis,
		splitLocation: n.splitLocation,
	}

	if len(n.handles) != 0 {
		c.handles = make([]handle[T], len(n.handles))
		copy(c.handles, n.handles)
		for _, h := range c.handles {
			members.set(h.value, c)
		}
	}

	for i, child := range n.child {
		if child != nil {
			c.child[i] = child.clone(members)
		}
	}
	return c
}

// clearHandles drops the handles of n and its descendants, keeping the split
// planes.
func (n *node[T]) clearHandles() {
	n.handles = nil
	for _, c := range n.child {
		if c != nil {
			c.clearHandles()
		}
	}
}
