package pointtree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/geom"
	"github.com/go-gl/mathgl/mgl32"
)

// MaxPlanes is the largest plane set QueryPlanes accepts.
const MaxPlanes = 32

// QueryBox returns the members whose position is inside box.
func (t *Tree[T]) QueryBox(box geom.Box) []T {
	if t.root == nil {
		return nil
	}

	var members []T
	t.root.query(box, box.Contains, &members)
	return members
}

// QuerySphere returns the members whose position is inside sphere.
func (t *Tree[T]) QuerySphere(sphere geom.Sphere) []T {
	if t.root == nil {
		return nil
	}

	var members []T
	t.root.query(sphere.Bounds(), sphere.Contains, &members)
	return members
}

// query collects the members of the subtree accepted by contains. box bounds
// the region contains accepts and drives which children are visited.
func (n *node[T]) query(box geom.Box, contains func(mgl32.Vec3) bool, members *[]T) {
	for _, h := range n.handles {
		if contains(h.position) {
			*members = append(*members, h.value)
		}
	}

	// Members on the split plane live on the left side, hence the inclusive
	// test.
	if n.child[0] != nil && box.Min[n.splitAxis] <= n.splitLocation {
		n.child[0].query(box, contains, members)
	}
	if n.child[1] != nil && box.Max[n.splitAxis] > n.splitLocation {
		n.child[1].query(box, contains, members)
	}
}

// QueryPlanes returns the members inside the half-spaces of all planes, such
// as the objects visible through a set of clip planes.
//
// Passing more than MaxPlanes planes is a programming error and panics.
func (t *Tree[T]) QueryPlanes(planes []geom.Plane) []T {
	if len(planes) > MaxPlanes {
		panic(errors.New("too many planes").
			WithType(ErrTypeTooManyPlanes).
			WithTag("count", len(planes)).
			WithTag("max", MaxPlanes))
	}
	if t.root == nil {
		return nil
	}

	mask := uint32(1)<<uint(len(planes)) - 1
	if len(planes) == MaxPlanes {
		mask = ^uint32(0)
	}

	mask, culled := t.root.splitBounds.Cull(planes, mask)
	if culled {
		return nil
	}

	var members []T
	t.root.queryPlanes(planes, mask, &members)
	return members
}

// QueryFrustum returns the members inside the frustum.
func (t *Tree[T]) QueryFrustum(f geom.Frustum) []T {
	return t.QueryPlanes(f.Planes[:])
}

// queryPlanes collects the members of the subtree inside the planes selected
// by mask. Planes left out of the mask are already known to contain the
// whole subtree.
func (n *node[T]) queryPlanes(planes []geom.Plane, mask uint32, members *[]T) {
	if mask == 0 {
		n.collect(members)
		return
	}

	for _, h := range n.handles {
		if insidePlanes(planes, mask, h.position) {
			*members = append(*members, h.value)
		}
	}

	for _, c := range n.child {
		if c == nil {
			continue
		}

		childMask, culled := c.splitBounds.Cull(planes, mask)
		if !culled {
			c.queryPlanes(planes, childMask, members)
		}
	}
}

// collect appends every member of the subtree.
func (n *node[T]) collect(members *[]T) {
	for _, h := range n.handles {
		*members = append(*members, h.value)
	}
	for _, c := range n.child {
		if c != nil {
			c.collect(members)
		}
	}
}

func insidePlanes(planes []geom.Plane, mask uint32, p mgl32.Vec3) bool {
	for i := range planes {
		if mask&(uint32(1)<<uint(i)) != 0 && !planes[i].HalfSpaceContains(p) {
			return false
		}
	}
	return true
}
