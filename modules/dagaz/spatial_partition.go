package dagaz

import "github.com/go-gl/mathgl/mgl32"

type SpatialDebugInfo struct {
	PlaneCount uint32
	MergeCount uint32
	MinPoint   mgl32.Vec3
	MaxPoint   mgl32.Vec3

	// Number of points held by each leaf of the tree, in depth first order.
	Occupancy []uint32
}

type SpatialPartition interface {
	InsertQuad(q Quad)
	IntersectQuad(r Ray) (*Quad, float32)
	GetRegion(min mgl32.Vec3, max mgl32.Vec3) []Quad

	// debug stuff:
	GetDebugInfo() SpatialDebugInfo
}
