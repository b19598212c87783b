package geom

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Plane is the set of points p where Normal·p == Distance. Its half-space is
// the side the normal points to.
type Plane struct {
	Normal   mgl32.Vec3
	Distance float32
}

// NewPlane returns the plane with the given normal passing through point.
func NewPlane(normal, point mgl32.Vec3) Plane {
	n := normal.Normalize()
	return Plane{Normal: n, Distance: n.Dot(point)}
}

// PlaneFromPoints returns the plane through a, b and c. The normal follows the
// counter-clockwise winding of the points.
func PlaneFromPoints(a, b, c mgl32.Vec3) Plane {
	return NewPlane(b.Sub(a).Cross(c.Sub(a)), a)
}

// HalfSpaceContains reports whether p is on the plane or on its normal side.
func (p Plane) HalfSpaceContains(point mgl32.Vec3) bool {
	return p.Normal.Dot(point) >= p.Distance
}

// SignedDistance is positive on the normal side of the plane.
func (p Plane) SignedDistance(point mgl32.Vec3) float32 {
	return p.Normal.Dot(point) - p.Distance
}

// Frustum is a convex volume bounded by six planes whose half-spaces face
// inward: left, right, bottom, top, near and far.
type Frustum struct {
	Planes [6]Plane
}

// FrustumFromMatrix extracts the clip planes of an OpenGL style
// view-projection matrix, such as mgl32.Perspective(...).Mul4(mgl32.LookAtV(...)).
func FrustumFromMatrix(m mgl32.Mat4) Frustum {
	r0, r1, r2, r3 := m.Rows()

	var f Frustum
	for i, v := range [6]mgl32.Vec4{
		r3.Add(r0),
		r3.Sub(r0),
		r3.Add(r1),
		r3.Sub(r1),
		r3.Add(r2),
		r3.Sub(r2),
	} {
		n := v.Vec3()
		l := n.Len()
		if l == 0 {
			continue
		}
		f.Planes[i] = Plane{Normal: n.Mul(1 / l), Distance: -v[3] / l}
	}
	return f
}

func (f Frustum) Contains(point mgl32.Vec3) bool {
	for _, p := range f.Planes {
		if !p.HalfSpaceContains(point) {
			return false
		}
	}
	return true
}
