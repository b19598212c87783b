package geom

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Box is an axis-aligned box. Bounds are inclusive and may be infinite.
type Box struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

func NewBox(min, max mgl32.Vec3) Box {
	return Box{Min: min, Max: max}
}

// Unbounded returns the box covering all of space.
func Unbounded() Box {
	return Box{
		Min: mgl32.Vec3{negInf, negInf, negInf},
		Max: mgl32.Vec3{posInf, posInf, posInf},
	}
}

// BoxFromPoints returns the smallest box containing every point. It returns
// the zero box when points is empty.
func BoxFromPoints(points ...mgl32.Vec3) Box {
	if len(points) == 0 {
		return Box{}
	}

	b := Box{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		b = b.ExpandToPoint(p)
	}
	return b
}

// ExpandToPoint returns the smallest box containing both b and p.
func (b Box) ExpandToPoint(p mgl32.Vec3) Box {
	return Box{
		Min: minVec(b.Min, p),
		Max: maxVec(b.Max, p),
	}
}

func (b Box) Contains(p mgl32.Vec3) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] &&
		p[1] >= b.Min[1] && p[1] <= b.Max[1] &&
		p[2] >= b.Min[2] && p[2] <= b.Max[2]
}

func (b Box) Intersects(other Box) bool {
	return b.Max[0] >= other.Min[0] && b.Min[0] <= other.Max[0] &&
		b.Max[1] >= other.Min[1] && b.Min[1] <= other.Max[1] &&
		b.Max[2] >= other.Min[2] && b.Min[2] <= other.Max[2]
}

func (b Box) Extent() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

func (b Box) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// LongestAxis returns the axis along which the box is widest. Ties resolve to
// the lowest axis.
func (b Box) LongestAxis() Axis {
	e := b.Extent()
	axis := X
	if e[1] > e[axis] {
		axis = Y
	}
	if e[2] > e[axis] {
		axis = Z
	}
	return axis
}

// Split cuts the box at location along axis. The returned boxes cover the
// original one and are clipped to their half-space.
func (b Box) Split(axis Axis, location float32) (below, above Box) {
	below, above = b, b
	below.Max[axis] = min(b.Max[axis], location)
	above.Min[axis] = max(b.Min[axis], location)
	return below, above
}

// Classification is the position of a box relative to a plane.
type Classification int

const (
	Straddling Classification = iota
	Inside
	Outside
)

// Classify tells whether b lies entirely inside the plane's half-space,
// entirely outside it, or straddles the plane.
func (b Box) Classify(p Plane) Classification {
	// Dot products of the box corners closest to and farthest along the
	// normal. Axes with a zero normal component are skipped so infinite
	// bounds never produce NaN.
	var near, far float32
	for i := 0; i < 3; i++ {
		n := p.Normal[i]
		switch {
		case n > 0:
			near += n * b.Min[i]
			far += n * b.Max[i]
		case n < 0:
			near += n * b.Max[i]
			far += n * b.Min[i]
		}
	}

	if far < p.Distance {
		return Outside
	}
	if near >= p.Distance {
		return Inside
	}
	return Straddling
}

// Cull tests the box against the planes selected by mask (bit i selects
// planes[i]). It reports culled when the box lies entirely outside one of
// them. Otherwise the returned mask keeps only the planes the box straddles.
func (b Box) Cull(planes []Plane, mask uint32) (childMask uint32, culled bool) {
	childMask = mask
	for i := range planes {
		bit := uint32(1) << uint(i)
		if mask&bit == 0 {
			continue
		}

		switch b.Classify(planes[i]) {
		case Outside:
			return 0, true
		case Inside:
			childMask &^= bit
		}
	}
	return childMask, false
}
