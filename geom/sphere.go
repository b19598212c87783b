package geom

import "github.com/go-gl/mathgl/mgl32"

type Sphere struct {
	Center mgl32.Vec3
	Radius float32
}

func NewSphere(center mgl32.Vec3, radius float32) Sphere {
	return Sphere{Center: center, Radius: radius}
}

// Contains reports whether p lies inside the sphere or on its surface.
func (s Sphere) Contains(p mgl32.Vec3) bool {
	return p.Sub(s.Center).LenSqr() <= s.Radius*s.Radius
}

func (s Sphere) Bounds() Box {
	r := mgl32.Vec3{s.Radius, s.Radius, s.Radius}
	return Box{
		Min: s.Center.Sub(r),
		Max: s.Center.Add(r),
	}
}
