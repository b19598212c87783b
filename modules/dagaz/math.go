package dagaz

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/hagall-common/messages/dagazpb"
	"github.com/aukilabs/kenaz/geom"
	"github.com/aukilabs/kenaz/models"
	"github.com/go-gl/mathgl/mgl32"
)

const intersectEpsilon = 0.0001

func EqualWithEpsilon(a float32, b float32, epsilon float64) bool {
	return math.Abs((float64)(a-b)) <= epsilon
}

func InRangeWithEpsilon(value float32, min float32, max float32, epsilon float32) bool {
	return value+epsilon >= min && value-epsilon <= max
}

func NewVec3FromProtobuf(point *dagazpb.Point) mgl32.Vec3 {
	if point == nil {
		return mgl32.Vec3{}
	}
	return mgl32.Vec3{point.X, point.Y, point.Z}
}

func Vec3ToProtobuf(v mgl32.Vec3) *dagazpb.Point {
	return &dagazpb.Point{
		X: v[0],
		Y: v[1],
		Z: v[2],
	}
}

// normalized returns v scaled to unit length, or the zero vector when v has
// no length.
func normalized(v mgl32.Vec3) mgl32.Vec3 {
	l := v.Len()
	if l == 0 {
		return mgl32.Vec3{}
	}
	return v.Mul(1 / l)
}

func absVec(v mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Abs(float64(v[0]))),
		float32(math.Abs(float64(v[1]))),
		float32(math.Abs(float64(v[2]))),
	}
}

type Quad struct {
	Center  mgl32.Vec3
	Extents mgl32.Vec3 // Half-Extents!

	// implicit
	Normal mgl32.Vec3

	MergeCount uint32
}

func NewQuad(center, extents mgl32.Vec3) Quad {
	return Quad{
		Center:  center,
		Extents: extents,
		Normal:  calculateNormal(center, extents),
	}
}

// NewQuadFromProtobuf converts protoQuad, rejecting centers and extents that
// are not finite.
func NewQuadFromProtobuf(protoQuad *dagazpb.Quad) (Quad, error) {
	center := NewVec3FromProtobuf(protoQuad.Center)
	extents := NewVec3FromProtobuf(protoQuad.Extents)
	if !geom.IsFinite(center) || !geom.IsFinite(extents) {
		return Quad{}, errors.New("quad must be finite").
			WithType(models.ErrTypeInvalidArgument).
			WithTag("center", center).
			WithTag("extents", extents)
	}

	q := NewQuad(center, extents)
	q.MergeCount = protoQuad.MergeCount
	return q, nil
}

func (q Quad) ToProtobuf() *dagazpb.Quad {
	return &dagazpb.Quad{
		Center:     Vec3ToProtobuf(q.Center),
		Extents:    Vec3ToProtobuf(q.Extents),
		MergeCount: q.MergeCount,
	}
}

// Min returns the lowest corner of the quad bounds.
func (q Quad) Min() mgl32.Vec3 {
	return q.Center.Sub(absVec(q.Extents))
}

// Max returns the highest corner of the quad bounds.
func (q Quad) Max() mgl32.Vec3 {
	return q.Center.Add(absVec(q.Extents))
}

// merge moves q a fifth of the way toward other.
func (q *Quad) merge(other Quad) {
	q.Center = q.Center.Add(other.Center.Sub(q.Center).Mul(0.2))
	q.Extents = q.Extents.Add(other.Extents.Sub(q.Extents).Mul(0.2))
	q.Normal = calculateNormal(q.Center, q.Extents)
	q.MergeCount++
}

func doHorizontalPlanesOverlap(a Quad, b Quad) bool {
	minA := a.Min()
	maxA := a.Max()
	minB := b.Min()
	maxB := b.Max()

	if minA[0] >= maxB[0] {
		return false
	}
	if maxA[0] <= minB[0] {
		return false
	}
	if minA[2] >= maxB[2] {
		return false
	}
	if maxA[2] <= minB[2] {
		return false
	}

	// overlap on both axes -> must overlap
	return true
}

func calculateNormal(c mgl32.Vec3, e mgl32.Vec3) mgl32.Vec3 {
	pointA := c.Add(mgl32.Vec3{e[0], e[1], 0})
	pointB := c.Add(mgl32.Vec3{0, e[1], e[2]})
	vectorA := pointA.Sub(c)
	vectorB := pointB.Sub(c)
	return normalized(vectorB.Cross(vectorA))
}

type Ray struct {
	From mgl32.Vec3
	To   mgl32.Vec3
}

func NewRayFromProtobuf(protoRay *dagazpb.Ray) Ray {
	if protoRay == nil {
		return Ray{}
	}
	return Ray{
		From: NewVec3FromProtobuf(protoRay.From),
		To:   NewVec3FromProtobuf(protoRay.To),
	}
}

// IntersectQuad reports whether the segment of r hits q, and where along the
// segment, in [0, 1].
func IntersectQuad(r Ray, q Quad) (bool, float32) {
	rayDir := r.To.Sub(r.From)

	denominator := q.Normal.Dot(rayDir)
	if denominator != 0 {
		t := (q.Normal.Dot(q.Center) - q.Normal.Dot(r.From)) / denominator
		if t >= 0 && t <= 1 {
			hitPoint := r.From.Add(rayDir.Mul(t))

			// check hitPoint is in bounds:
			minPoint := q.Min()
			maxPoint := q.Max()
			if InRangeWithEpsilon(hitPoint[0], minPoint[0], maxPoint[0], intersectEpsilon) &&
				InRangeWithEpsilon(hitPoint[1], minPoint[1], maxPoint[1], intersectEpsilon) &&
				InRangeWithEpsilon(hitPoint[2], minPoint[2], maxPoint[2], intersectEpsilon) {
				return true, t
			}
		}
	}
	return false, -1
}
