package pointtree

import (
	"cmp"
	"slices"

	"github.com/aukilabs/kenaz/geom"
)

const (
	DefaultValuesPerNode = 20
	DefaultNumMeanSplits = 3
)

// Balance discards the structure and rebuilds it from the current members.
//
// valuesPerNode is the maximum number of members a leaf holds before it gets
// split further; values below 1 are treated as 1. The first numMeanSplits
// levels below the root split at the middle of their bounds (mean split),
// which gives spatially uniform cells like an octree. Deeper levels split
// between the two middle members (median split), which keeps leaf depths
// even.
//
// Members whose positions coincide cannot be separated and may end up in
// leaves holding more than valuesPerNode members.
func (t *Tree[T]) Balance(valuesPerNode, numMeanSplits int) {
	if t.root == nil {
		return
	}
	valuesPerNode = max(valuesPerNode, 1)

	handles := t.root.appendHandles(make([]handle[T], 0, t.members.size()))

	members := newMemberTable[T](len(handles))
	root := makeNode(handles, members, valuesPerNode, numMeanSplits)
	root.assignSplitBounds(geom.Unbounded())

	t.root = root
	t.members = members
}

// makeNode builds the subtree holding handles. It sorts handles in place.
func makeNode[T comparable](handles []handle[T], members memberTable[T], valuesPerNode, remainingMeanSplits int) *node[T] {
	if len(handles) <= valuesPerNode {
		return makeLeaf(handles, members)
	}

	bounds := boundsOf(handles)
	axis := bounds.LongestAxis()
	if bounds.Min[axis] == bounds.Max[axis] {
		// All positions coincide.
		return makeLeaf(handles, members)
	}

	slices.SortFunc(handles, func(a, b handle[T]) int {
		return cmp.Compare(a.position[axis], b.position[axis])
	})

	var location float32
	if remainingMeanSplits > 0 {
		location = (bounds.Min[axis] + bounds.Max[axis]) / 2
	} else {
		mid := (len(handles) - 1) / 2
		location = (handles[mid].position[axis] + handles[mid+1].position[axis]) / 2
	}

	split := splitIndex(handles, axis, location)
	if !separates(handles, axis, location, split) {
		// Everything landed at or below the split, which happens when the
		// upper half of the range shares the maximum coordinate, or the
		// location is NaN because infinities straddle it. Cut just below the
		// maximum instead.
		location, split = splitBelowMax(handles, axis)
		if !separates(handles, axis, location, split) {
			// NaN coordinates cannot be ordered against any location.
			return makeLeaf(handles, members)
		}
	}

	n := newNode[T]()
	n.splitAxis = axis
	n.splitLocation = location

	// Both sides are non-empty, so every level strictly shrinks the range.
	n.child[0] = makeNode(handles[:split], members, valuesPerNode, remainingMeanSplits-1)
	n.child[1] = makeNode(handles[split:], members, valuesPerNode, remainingMeanSplits-1)
	return n
}

// separates reports whether cutting sorted handles at split puts every handle
// before it at or below location and every handle from it above location,
// with neither side empty. NaNs sort first, so checking the first handle
// rules them out.
func separates[T comparable](handles []handle[T], axis geom.Axis, location float32, split int) bool {
	if split <= 0 || split >= len(handles) {
		return false
	}
	return handles[0].position[axis] <= location &&
		handles[split-1].position[axis] <= location &&
		handles[split].position[axis] > location
}

func makeLeaf[T comparable](handles []handle[T], members memberTable[T]) *node[T] {
	n := newNode[T]()
	// Capped so appends from later inserts never write into a sibling's
	// range of the shared array.
	n.handles = handles[:len(handles):len(handles)]
	for _, h := range n.handles {
		members.set(h.value, n)
	}
	return n
}

// splitIndex returns the index of the first handle strictly above location.
// handles must be sorted along axis.
func splitIndex[T comparable](handles []handle[T], axis geom.Axis, location float32) int {
	i, _ := slices.BinarySearchFunc(handles, location, func(h handle[T], loc float32) int {
		if h.position[axis] <= loc {
			return -1
		}
		return 1
	})
	return i
}

func splitBelowMax[T comparable](handles []handle[T], axis geom.Axis) (float32, int) {
	hi := handles[len(handles)-1].position[axis]

	split := len(handles) - 1
	for split > 0 && handles[split-1].position[axis] == hi {
		split--
	}
	if split == 0 {
		return hi, 0
	}

	lo := handles[split-1].position[axis]
	location := (lo + hi) / 2
	if !(location < hi) {
		location = lo
	}
	return location, split
}

func boundsOf[T comparable](handles []handle[T]) geom.Box {
	b := geom.Box{Min: handles[0].position, Max: handles[0].position}
	for _, h := range handles[1:] {
		b = b.ExpandToPoint(h.position)
	}
	return b
}
