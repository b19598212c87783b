// Package geom holds the 3D primitives the point tree is queried with: boxes,
// spheres, planes and view frustums over mgl32 vectors.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Axis is a coordinate axis. It doubles as an index into mgl32.Vec3.
type Axis uint8

const (
	X Axis = iota
	Y
	Z
)

func (a Axis) String() string {
	switch a {
	case X:
		return "x"
	case Y:
		return "y"
	case Z:
		return "z"
	default:
		return "invalid"
	}
}

// Valid reports whether a is one of X, Y or Z.
func (a Axis) Valid() bool {
	return a <= Z
}

var (
	posInf = float32(math.Inf(1))
	negInf = float32(math.Inf(-1))
)

// IsFinite reports whether every coordinate of p is neither infinite nor NaN.
func IsFinite(p mgl32.Vec3) bool {
	for _, v := range p {
		if math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
			return false
		}
	}
	return true
}

func EqualWithEpsilon(a float32, b float32, epsilon float64) bool {
	return math.Abs(float64(a-b)) <= epsilon
}

func minVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		min(a[0], b[0]),
		min(a[1], b[1]),
		min(a[2], b[2]),
	}
}

func maxVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		max(a[0], b[0]),
		max(a[1], b[1]),
		max(a[2], b[2]),
	}
}
